package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Freshness tags a ReserveSnapshot's relationship to the current block and
// its TTL: Fresh within TTL and block skew, Stale outside TTL (but still
// the best known data), Dead if either reserve is zero.
type Freshness int

const (
	Fresh Freshness = iota
	Stale
	Dead
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "Fresh"
	case Stale:
		return "Stale"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// ReserveSnapshot is an immutable observation of a pool's reserves at a
// given block. PriceFeed owns and replaces these atomically; readers only
// ever see a complete, non-torn snapshot.
type ReserveSnapshot struct {
	PairID      string
	Reserve0    *big.Int
	Reserve1    *big.Int
	BlockNumber uint64
	BlockHash   common.Hash
	ObservedAt  time.Time
	Freshness   Freshness
}

// NewReserveSnapshot builds a snapshot, tagging it Dead up front if either
// reserve is non-positive (§3 invariant).
func NewReserveSnapshot(pairID string, reserve0, reserve1 *big.Int, blockNumber uint64, blockHash common.Hash, observedAt time.Time) ReserveSnapshot {
	fr := Fresh
	if reserve0 == nil || reserve1 == nil || reserve0.Sign() <= 0 || reserve1.Sign() <= 0 {
		fr = Dead
	}
	return ReserveSnapshot{
		PairID:      pairID,
		Reserve0:    cloneBig(reserve0),
		Reserve1:    cloneBig(reserve1),
		BlockNumber: blockNumber,
		BlockHash:   blockHash,
		ObservedAt:  observedAt,
		Freshness:   fr,
	}
}

// EvaluateFreshness recomputes the Freshness tag of a snapshot given the
// feed's current wall clock, the freshest known block number, its TTL and
// the configured maxBlockSkew, without mutating the receiver.
func (s ReserveSnapshot) EvaluateFreshness(now time.Time, currentBlock uint64, ttl time.Duration, maxBlockSkew uint64) Freshness {
	if s.Reserve0 == nil || s.Reserve1 == nil || s.Reserve0.Sign() <= 0 || s.Reserve1.Sign() <= 0 {
		return Dead
	}
	if now.Sub(s.ObservedAt) > ttl {
		return Stale
	}
	if currentBlock > s.BlockNumber && currentBlock-s.BlockNumber > maxBlockSkew {
		return Stale
	}
	return Fresh
}

// IsUsable reports whether the snapshot may participate in detection.
func (s ReserveSnapshot) IsUsable() bool {
	return s.Freshness != Dead
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
