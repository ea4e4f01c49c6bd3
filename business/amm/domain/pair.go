package domain

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pair is an ordered (token0, token1) pair, token0 < token1 by raw address
// bytes, scoped to one Venue. Identity is (venue, token0, token1); it is
// created on first lookup and never mutated afterward.
type Pair struct {
	Venue   *Venue
	Token0  *Token
	Token1  *Token
	Address common.Address // resolved pool address; zero until PairCache resolves it
}

// NewPair orders tokenA/tokenB by ascending byte address before binding
// them to venue, matching PairCache's normalization rule (§4.3).
func NewPair(venue *Venue, tokenA, tokenB *Token) *Pair {
	t0, t1 := OrderTokens(tokenA, tokenB)
	return &Pair{Venue: venue, Token0: t0, Token1: t1}
}

// OrderTokens returns (tokenA, tokenB) reordered so the first has the
// smaller raw address bytes.
func OrderTokens(a, b *Token) (*Token, *Token) {
	if bytes.Compare(a.Address().Bytes(), b.Address().Bytes()) <= 0 {
		return a, b
	}
	return b, a
}

// ID is the pair's identity key: venue name plus both token addresses in
// canonical order, stable across process restarts so store writes stay
// idempotent.
func (p *Pair) ID() string {
	return fmt.Sprintf("%s:%s:%s", p.Venue.Name, p.Token0.Address().Hex(), p.Token1.Address().Hex())
}

// Contains reports whether tok is one of the pair's two tokens.
func (p *Pair) Contains(tok *Token) bool {
	return p.Token0.Equals(tok) || p.Token1.Equals(tok)
}

// Other returns the pair's token other than tok; panics if tok is not a
// member, which is a caller error.
func (p *Pair) Other(tok *Token) *Token {
	if p.Token0.Equals(tok) {
		return p.Token1
	}
	if p.Token1.Equals(tok) {
		return p.Token0
	}
	panic(fmt.Sprintf("domain: token %s is not a member of pair %s", tok.Symbol(), p.ID()))
}
