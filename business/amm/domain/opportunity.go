package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Kind tags an Opportunity as a two-venue or three-leg cycle.
type Kind int

const (
	TwoLeg Kind = iota
	Triangular
)

func (k Kind) String() string {
	if k == Triangular {
		return "Triangular"
	}
	return "TwoLeg"
}

// Status is the opportunity's position in its lifecycle.
type Status int

const (
	Detected Status = iota
	Qualified
	Rejected
	Expired
	SimulatedExecuted
)

func (s Status) String() string {
	switch s {
	case Qualified:
		return "Qualified"
	case Rejected:
		return "Rejected"
	case Expired:
		return "Expired"
	case SimulatedExecuted:
		return "SimulatedExecuted"
	default:
		return "Detected"
	}
}

// Leg is one hop of a cycle: the venue it trades on and the token pair it
// swaps, in the direction traded.
type Leg struct {
	Venue     string
	TokenIn   common.Address
	TokenOut  common.Address
}

// Opportunity is an immutable detection record. Once constructed its
// fields never change; qualification and gating produce new Opportunity
// values (via WithStatus) rather than mutating in place, matching the
// ownership rule that Orchestrator owns it until emission.
type Opportunity struct {
	ID                string
	Kind              Kind
	Legs              []Leg
	TradeAmountIn     *big.Int
	GrossProfitQuote  *big.Int
	NetProfitQuote    *big.Int
	GasCostQuote      *big.Int
	FeeCostQuote      *big.Int
	Margin            float64
	BlockNumber       uint64
	BlockHash         common.Hash
	CreatedAt         time.Time
	ExpiresAt         time.Time
	Status            Status
	Reason            string
	QuoteTokenSymbol  string
}

// NewID computes the deterministic id prefix from (kind, pair_path,
// venue_path, block_number) and appends seq, a monotonic counter supplied
// by the caller, to disambiguate multiple opportunities from the same
// inputs within one block (spec §3: "plus a monotonic counter").
func NewID(kind Kind, legs []Leg, blockNumber uint64, seq uint64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|", kind)
	for _, l := range legs {
		fmt.Fprintf(h, "%s:%s:%s|", l.Venue, l.TokenIn.Hex(), l.TokenOut.Hex())
	}
	fmt.Fprintf(h, "%d", blockNumber)
	digest := hex.EncodeToString(h.Sum(nil))[:16]
	return fmt.Sprintf("%s-%d", digest, seq)
}

// PairPath renders the legs' token path for logging/statistics grouping.
func (o *Opportunity) PairPath() string {
	var sb strings.Builder
	for i, l := range o.Legs {
		if i > 0 {
			sb.WriteString("->")
		}
		sb.WriteString(l.TokenIn.Hex()[:8])
	}
	if len(o.Legs) > 0 {
		sb.WriteString("->")
		sb.WriteString(o.Legs[len(o.Legs)-1].TokenOut.Hex()[:8])
	}
	return sb.String()
}

// VenuePath renders the legs' venue sequence.
func (o *Opportunity) VenuePath() string {
	venues := make([]string, len(o.Legs))
	for i, l := range o.Legs {
		venues[i] = l.Venue
	}
	return strings.Join(venues, "->")
}

// WithStatus returns a copy of the opportunity with Status and Reason
// updated, leaving the receiver untouched (immutability per §3).
func (o Opportunity) WithStatus(status Status, reason string) Opportunity {
	o.Status = status
	o.Reason = reason
	return o
}

// IsExpired reports whether now is at or past ExpiresAt.
func (o *Opportunity) IsExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}
