// Package app holds the Detector, Qualifier and RiskGate components: the
// pure decision-making core that turns fresh ReserveSnapshots into
// Opportunities and, eventually, sized and gated trade candidates.
package app

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/kunalmkv/arbflux/business/amm/domain"
	"github.com/kunalmkv/arbflux/business/amm/infra/paircache"
	"github.com/kunalmkv/arbflux/internal/logger"
)

// PairGroup is one monitored token pair observed across every venue that
// lists it, keyed venue-agnostically so the Detector can compare prices
// cross-venue (spec §4.5 two-leg detection).
type PairGroup struct {
	Token0 *domain.Token
	Token1 *domain.Token
	Pairs  []*domain.Pair // one *domain.Pair per venue, sharing Token0/Token1
}

// Cycle is a monitored three-token triangular cycle [A,B,C]; Legs[i] lists
// the candidate venue pairs trading Tokens[i] against Tokens[(i+1)%3].
type Cycle struct {
	Tokens [3]*domain.Token
	Quote  *domain.Token
	Legs   [3][]*domain.Pair
}

// Detector is the Detector component (spec §4.5): pure decision logic over
// PairCache snapshots, no I/O of its own.
type Detector struct {
	cache  *paircache.Cache
	logger logger.LoggerInterface
	seq    uint64
}

// NewDetector creates a Detector reading snapshots from cache.
func NewDetector(cache *paircache.Cache, log logger.LoggerInterface) *Detector {
	return &Detector{cache: cache, logger: log}
}

// DetectTwoLeg scans every monitored group for a cross-venue price gap
// wide enough to clear minMargin, sizes the trade via AmmMath's ternary
// search, and emits a candidate Opportunity for every profitable gap found.
func (d *Detector) DetectTwoLeg(ctx context.Context, groups []PairGroup, maxPositionSize *big.Int, maxBlockSkew uint64, minMargin float64, gasQuote *big.Int, blockNumber uint64, cacheTTL time.Duration) []domain.Opportunity {
	var out []domain.Opportunity
	now := time.Now()

	for _, group := range groups {
		for i := range group.Pairs {
			for j := range group.Pairs {
				if i == j {
					continue
				}
				pairA, pairB := group.Pairs[i], group.Pairs[j]
				if pairA.Venue.Name == pairB.Venue.Name {
					continue
				}

				snapA, okA := d.cache.Snapshot(pairA.ID(), now, cacheTTL, maxBlockSkew)
				snapB, okB := d.cache.Snapshot(pairB.ID(), now, cacheTTL, maxBlockSkew)
				if !okA || !okB || !snapA.IsUsable() || !snapB.IsUsable() {
					continue
				}
				if blockSkew(snapA.BlockNumber, snapB.BlockNumber) > maxBlockSkew {
					continue
				}

				priceA := new(big.Rat).SetFrac(snapA.Reserve1, snapA.Reserve0)
				priceB := new(big.Rat).SetFrac(snapB.Reserve1, snapB.Reserve0)
				if priceA.Cmp(priceB) >= 0 {
					// Only consider each gap once: require A to be the
					// cheaper (buy) venue here, B the dearer (sell) venue.
					continue
				}

				margin := relativeMargin(priceA, priceB)
				if margin < minMargin {
					continue
				}

				buyHop := domain.Hop{ReserveIn: snapA.Reserve1, ReserveOut: snapA.Reserve0, FeeNum: pairA.Venue.FeeNum, FeeDen: pairA.Venue.FeeDen}
				sellHop := domain.Hop{ReserveIn: snapB.Reserve0, ReserveOut: snapB.Reserve1, FeeNum: pairB.Venue.FeeNum, FeeDen: pairB.Venue.FeeDen}

				result, err := domain.OptimalTwoLegSize(buyHop, sellHop, maxPositionSize, gasQuote)
				if err != nil {
					d.logger.Debug(ctx, "detector: two-leg sizing failed", "pair", pairA.ID(), "error", err)
					continue
				}
				if result.NetProfit.Sign() <= 0 {
					continue
				}

				feeCost := cumulativeFeeCost([]domain.Hop{buyHop, sellHop}, result.Amount)

				legs := []domain.Leg{
					{Venue: pairA.Venue.Name, TokenIn: group.Token1.Address(), TokenOut: group.Token0.Address()},
					{Venue: pairB.Venue.Name, TokenIn: group.Token0.Address(), TokenOut: group.Token1.Address()},
				}
				d.seq++
				opp := domain.Opportunity{
					ID:               domain.NewID(domain.TwoLeg, legs, blockNumber, d.seq),
					Kind:             domain.TwoLeg,
					Legs:             legs,
					TradeAmountIn:    result.Amount,
					NetProfitQuote:   result.NetProfit,
					GrossProfitQuote: new(big.Int).Add(new(big.Int).Add(result.NetProfit, gasQuote), feeCost),
					GasCostQuote:     new(big.Int).Set(gasQuote),
					FeeCostQuote:     feeCost,
					Margin:           opportunityMargin(result.NetProfit, gasQuote, feeCost),
					BlockNumber:      blockNumber,
					BlockHash:        snapA.BlockHash,
					CreatedAt:        now,
					Status:           domain.Detected,
				}
				out = append(out, opp)
			}
		}
	}

	return tieBreak(out)
}

// DetectTriangular searches each monitored cycle over every venue
// assignment with at least two distinct venues, using a coarse geometric
// probe to locate the profitable region followed by a ternary refinement
// (spec §4.5).
func (d *Detector) DetectTriangular(ctx context.Context, cycles []Cycle, maxBlockSkew uint64, gasQuote *big.Int, blockNumber uint64, cacheTTL time.Duration) []domain.Opportunity {
	var out []domain.Opportunity
	now := time.Now()

	for _, cycle := range cycles {
		for _, leg0 := range cycle.Legs[0] {
			for _, leg1 := range cycle.Legs[1] {
				for _, leg2 := range cycle.Legs[2] {
					if leg0.Venue.Name == leg1.Venue.Name && leg1.Venue.Name == leg2.Venue.Name {
						continue // all three legs on one venue is not arbitrage
					}

					opp, ok := d.evaluateCycle(ctx, cycle, [3]*domain.Pair{leg0, leg1, leg2}, maxBlockSkew, gasQuote, blockNumber, cacheTTL, now)
					if ok {
						out = append(out, opp)
					}
				}
			}
		}
	}

	return tieBreak(out)
}

func (d *Detector) evaluateCycle(ctx context.Context, cycle Cycle, legs [3]*domain.Pair, maxBlockSkew uint64, gasQuote *big.Int, blockNumber uint64, cacheTTL time.Duration, now time.Time) (domain.Opportunity, bool) {
	hops := make([]domain.Hop, 3)
	var oldestBlock, newestBlock uint64
	var blockHash [32]byte

	for i, pair := range legs {
		snap, ok := d.cache.Snapshot(pair.ID(), now, cacheTTL, maxBlockSkew)
		if !ok || !snap.IsUsable() {
			return domain.Opportunity{}, false
		}
		if i == 0 || snap.BlockNumber < oldestBlock {
			oldestBlock = snap.BlockNumber
		}
		if snap.BlockNumber > newestBlock {
			newestBlock = snap.BlockNumber
			blockHash = snap.BlockHash
		}

		tokenIn := cycle.Tokens[i]
		if tokenIn.Equals(pair.Token0) {
			hops[i] = domain.Hop{ReserveIn: snap.Reserve0, ReserveOut: snap.Reserve1, FeeNum: pair.Venue.FeeNum, FeeDen: pair.Venue.FeeDen}
		} else {
			hops[i] = domain.Hop{ReserveIn: snap.Reserve1, ReserveOut: snap.Reserve0, FeeNum: pair.Venue.FeeNum, FeeDen: pair.Venue.FeeDen}
		}
	}
	if blockSkew(oldestBlock, newestBlock) > maxBlockSkew {
		return domain.Opportunity{}, false
	}

	best, bestProfit, ok := searchCycleOptimum(hops, gasQuote)
	if !ok || bestProfit.Sign() <= 0 {
		return domain.Opportunity{}, false
	}

	legRecords := make([]domain.Leg, 3)
	for i, pair := range legs {
		legRecords[i] = domain.Leg{Venue: pair.Venue.Name, TokenIn: cycle.Tokens[i].Address(), TokenOut: cycle.Tokens[(i+1)%3].Address()}
	}
	d.seq++

	feeCost := cumulativeFeeCost(hops, best)
	grossPlusFees := new(big.Int).Add(new(big.Int).Add(bestProfit, gasQuote), feeCost)
	return domain.Opportunity{
		ID:               domain.NewID(domain.Triangular, legRecords, blockNumber, d.seq),
		Kind:             domain.Triangular,
		Legs:             legRecords,
		TradeAmountIn:    best,
		NetProfitQuote:   bestProfit,
		GrossProfitQuote: grossPlusFees,
		GasCostQuote:     new(big.Int).Set(gasQuote),
		FeeCostQuote:     feeCost,
		Margin:           opportunityMargin(bestProfit, gasQuote, feeCost),
		BlockNumber:      blockNumber,
		BlockHash:        blockHash,
		CreatedAt:        now,
		Status:           domain.Detected,
	}, true
}

// searchCycleOptimum locates the profit-maximizing input amount for a
// 3-hop cycle: a coarse geometric probe over reserve/k for k=1024..1 to
// find the profitable region, then a ternary refinement inside it.
func searchCycleOptimum(hops []domain.Hop, gasQuote *big.Int) (*big.Int, *big.Int, bool) {
	reserveIn := hops[0].ReserveIn
	if reserveIn == nil || reserveIn.Sign() <= 0 {
		return nil, nil, false
	}

	profitAt := func(aIn *big.Int) (*big.Int, bool) {
		if aIn.Sign() <= 0 {
			return nil, false
		}
		out, err := domain.AmountsOut(aIn, hops)
		if err != nil {
			return nil, false
		}
		profit := new(big.Int).Sub(out, aIn)
		profit.Sub(profit, gasQuote)
		return profit, true
	}

	var bestAmount, bestProfit *big.Int
	for k := 1024; k >= 1; k /= 2 {
		probe := new(big.Int).Div(reserveIn, big.NewInt(int64(k)))
		if probe.Sign() <= 0 {
			continue
		}
		profit, ok := profitAt(probe)
		if !ok {
			continue
		}
		if bestProfit == nil || profit.Cmp(bestProfit) > 0 {
			bestProfit, bestAmount = profit, probe
		}
	}
	if bestAmount == nil {
		return nil, nil, false
	}

	lo := new(big.Int).Div(bestAmount, big.NewInt(2))
	if lo.Sign() <= 0 {
		lo = big.NewInt(1)
	}
	hi := new(big.Int).Mul(bestAmount, big.NewInt(2))
	if hi.Cmp(reserveIn) > 0 {
		hi = new(big.Int).Set(reserveIn)
	}

	for {
		window := new(big.Int).Sub(hi, lo)
		if window.Cmp(big.NewInt(2)) <= 0 {
			break
		}
		third := new(big.Int).Div(window, big.NewInt(3))
		m1 := new(big.Int).Add(lo, third)
		m2 := new(big.Int).Sub(hi, third)
		if m1.Cmp(m2) >= 0 {
			break
		}
		p1, ok1 := profitAt(m1)
		p2, ok2 := profitAt(m2)
		if !ok1 {
			p1 = negInfinity()
		}
		if !ok2 {
			p2 = negInfinity()
		}
		if p1.Cmp(p2) < 0 {
			lo = new(big.Int).Add(m1, big.NewInt(1))
		} else {
			hi = new(big.Int).Sub(m2, big.NewInt(1))
		}
		if lo.Cmp(hi) >= 0 {
			break
		}
	}
	if lo.Cmp(hi) > 0 {
		lo, hi = hi, lo
	}

	for probe := new(big.Int).Set(lo); probe.Cmp(hi) <= 0; probe.Add(probe, big.NewInt(1)) {
		profit, ok := profitAt(probe)
		if !ok {
			continue
		}
		if bestProfit == nil || profit.Cmp(bestProfit) > 0 {
			bestProfit, bestAmount = profit, new(big.Int).Set(probe)
		}
	}

	return bestAmount, bestProfit, bestProfit != nil
}

func negInfinity() *big.Int {
	sentinel := new(big.Int).Lsh(big.NewInt(1), 512)
	return sentinel.Neg(sentinel)
}

func blockSkew(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// opportunityMargin computes net_profit / max(1, gas_cost + fee_cost)
// (spec §3 data model).
func opportunityMargin(netProfit, gasCostQuote, feeCostQuote *big.Int) float64 {
	denom := big.NewInt(0)
	if gasCostQuote != nil {
		denom.Add(denom, gasCostQuote)
	}
	if feeCostQuote != nil {
		denom.Add(denom, feeCostQuote)
	}
	if denom.Sign() < 1 {
		denom = big.NewInt(1)
	}
	ratio := new(big.Rat).SetFrac(netProfit, denom)
	f, _ := ratio.Float64()
	return f
}

// cumulativeFeeCost isolates the swap fees paid along path at amountIn by
// comparing the fee-free execution (feeNum == feeDen, i.e. no toll taken)
// against the actual fee-bearing execution. Both start and end on the same
// token (quote, for a two-leg round trip; the cycle's first token, for a
// triangular one), so the difference is directly fee_cost_quote without any
// separate unit conversion.
func cumulativeFeeCost(hops []domain.Hop, amountIn *big.Int) *big.Int {
	noFeeHops := make([]domain.Hop, len(hops))
	for i, h := range hops {
		noFeeHops[i] = domain.Hop{ReserveIn: h.ReserveIn, ReserveOut: h.ReserveOut, FeeNum: h.FeeDen, FeeDen: h.FeeDen}
	}
	withFee, err := domain.AmountsOut(amountIn, hops)
	if err != nil {
		return big.NewInt(0)
	}
	noFee, err := domain.AmountsOut(amountIn, noFeeHops)
	if err != nil {
		return big.NewInt(0)
	}
	cost := new(big.Int).Sub(noFee, withFee)
	if cost.Sign() < 0 {
		return big.NewInt(0)
	}
	return cost
}

func relativeMargin(lower, higher *big.Rat) float64 {
	if lower.Sign() == 0 {
		return 0
	}
	diff := new(big.Rat).Sub(higher, lower)
	ratio := new(big.Rat).Quo(diff, lower)
	f, _ := ratio.Float64()
	return f
}

// tieBreak resolves overlapping candidates that share the same venue path
// (spec §4.5): keep the largest netProfit, then smallest trade_amount_in,
// then the lexicographically smallest venue path.
func tieBreak(opps []domain.Opportunity) []domain.Opportunity {
	if len(opps) < 2 {
		return opps
	}
	byPath := make(map[string][]domain.Opportunity)
	var order []string
	for _, o := range opps {
		key := o.VenuePath() + "|" + o.PairPath()
		if _, seen := byPath[key]; !seen {
			order = append(order, key)
		}
		byPath[key] = append(byPath[key], o)
	}

	out := make([]domain.Opportunity, 0, len(order))
	for _, key := range order {
		group := byPath[key]
		sort.Slice(group, func(i, j int) bool {
			a, b := group[i], group[j]
			if cmp := a.NetProfitQuote.Cmp(b.NetProfitQuote); cmp != 0 {
				return cmp > 0
			}
			if cmp := a.TradeAmountIn.Cmp(b.TradeAmountIn); cmp != 0 {
				return cmp < 0
			}
			return a.VenuePath() < b.VenuePath()
		})
		out = append(out, group[0])
	}
	return out
}
