package domain

import (
	"math/big"

	"github.com/kunalmkv/arbflux/internal/apperror"
	"github.com/shopspring/decimal"
)

// GetAmountOut computes the exact constant-product output amount for a
// single hop. All arithmetic is integer (no floating point): per spec,
// aOut = floor((aIn*feeNum*rOut) / (rIn*feeDen + aIn*feeNum)).
//
// Preconditions: aIn, rIn, rOut > 0; violating any fails InvalidInput.
// Guarantee: 0 <= aOut < rOut.
func GetAmountOut(aIn, rIn, rOut *big.Int, feeNum, feeDen uint64) (*big.Int, error) {
	if aIn == nil || aIn.Sign() <= 0 {
		return nil, apperror.New(apperror.CodeInvalidInput, apperror.WithContext("getAmountOut: aIn must be positive"))
	}
	if rIn == nil || rIn.Sign() <= 0 || rOut == nil || rOut.Sign() <= 0 {
		return nil, apperror.New(apperror.CodeInvalidInput, apperror.WithContext("getAmountOut: reserves must be positive"))
	}

	feeNumBig := new(big.Int).SetUint64(feeNum)
	feeDenBig := new(big.Int).SetUint64(feeDen)

	aInWithFee := new(big.Int).Mul(aIn, feeNumBig)
	numerator := new(big.Int).Mul(aInWithFee, rOut)
	denominator := new(big.Int).Mul(rIn, feeDenBig)
	denominator.Add(denominator, aInWithFee)

	aOut := new(big.Int).Div(numerator, denominator)
	return aOut, nil
}

// GetAmountIn computes the exact input amount required to receive aOut from
// a single hop: aIn = floor(rIn*aOut*feeDen / ((rOut-aOut)*feeNum)) + 1.
//
// Preconditions: 0 < aOut < rOut; violating either fails
// InsufficientLiquidity (aOut >= rOut) or InvalidInput (aOut <= 0).
// Guarantee: GetAmountOut(GetAmountIn(aOut,...),...) >= aOut.
func GetAmountIn(aOut, rIn, rOut *big.Int, feeNum, feeDen uint64) (*big.Int, error) {
	if aOut == nil || aOut.Sign() <= 0 {
		return nil, apperror.New(apperror.CodeInvalidInput, apperror.WithContext("getAmountIn: aOut must be positive"))
	}
	if rIn == nil || rIn.Sign() <= 0 || rOut == nil || rOut.Sign() <= 0 {
		return nil, apperror.New(apperror.CodeInvalidInput, apperror.WithContext("getAmountIn: reserves must be positive"))
	}
	if aOut.Cmp(rOut) >= 0 {
		return nil, apperror.InsufficientLiquidity("getAmountIn: aOut must be strictly less than rOut")
	}

	feeNumBig := new(big.Int).SetUint64(feeNum)
	feeDenBig := new(big.Int).SetUint64(feeDen)

	numerator := new(big.Int).Mul(rIn, aOut)
	numerator.Mul(numerator, feeDenBig)

	remaining := new(big.Int).Sub(rOut, aOut)
	denominator := new(big.Int).Mul(remaining, feeNumBig)

	aIn := new(big.Int).Div(numerator, denominator)
	aIn.Add(aIn, big.NewInt(1))
	return aIn, nil
}

// Hop is one constant-product leg oriented in the swap direction: the
// reserve of the token being sold and the reserve of the token being
// bought, plus that pool's fee schedule.
type Hop struct {
	ReserveIn  *big.Int
	ReserveOut *big.Int
	FeeNum     uint64
	FeeDen     uint64
}

// AmountsOut applies GetAmountOut hop-by-hop along path, failing fast with
// InsufficientLiquidity (or InvalidInput) on the first hop that cannot
// produce output.
func AmountsOut(aIn *big.Int, path []Hop) (*big.Int, error) {
	amount := aIn
	for i, hop := range path {
		out, err := GetAmountOut(amount, hop.ReserveIn, hop.ReserveOut, hop.FeeNum, hop.FeeDen)
		if err != nil {
			return nil, err
		}
		if out.Sign() == 0 {
			return nil, apperror.InsufficientLiquidity("amountsOut: hop produced zero output")
		}
		_ = i
		amount = out
	}
	return amount, nil
}

// PriceImpact computes 1 - (aOut/aIn) / (rOut/rIn) in exact rationals, then
// truncates to a fixed-decimal value for reporting. This is the only place
// AmmMath touches decimal.Decimal, and only as a boundary/display
// conversion of an already-exact rational result.
func PriceImpact(aIn, rIn, rOut *big.Int, feeNum, feeDen uint64) (decimal.Decimal, error) {
	aOut, err := GetAmountOut(aIn, rIn, rOut, feeNum, feeDen)
	if err != nil {
		return decimal.Zero, err
	}
	if aOut.Sign() == 0 {
		return decimal.Zero, apperror.InsufficientLiquidity("priceImpact: zero output")
	}

	executionPrice := new(big.Rat).SetFrac(aOut, aIn)
	spotPrice := new(big.Rat).SetFrac(rOut, rIn)
	ratio := new(big.Rat).Quo(executionPrice, spotPrice)
	impact := new(big.Rat).Sub(big.NewRat(1, 1), ratio)

	f, _ := impact.Float64()
	return decimal.NewFromFloat(f).Truncate(6), nil
}

// OptimalTwoLegSizeResult carries the search outcome for a two-leg cycle.
type OptimalTwoLegSizeResult struct {
	Amount     *big.Int
	NetProfit  *big.Int
}

// OptimalTwoLegSize finds the aIn in [1, maxIn] maximizing
// profit(aIn) = legOut_B(aIn) - aIn - gasQuote, where
// legOut_B(aIn) = GetAmountOut(GetAmountOut(aIn, poolA), poolB).
//
// The profit function is strictly unimodal over the feasible interval
// (marginal output strictly decreases in aIn on both legs of a
// constant-product pool, so net profit is concave minus linear). We use
// integer ternary search until the window is <= 2, then a linear scan of
// the residual. Ties prefer the smallest amount. A hop that cannot produce
// output contributes profit = -inf for that probe only.
func OptimalTwoLegSize(poolA, poolB Hop, maxIn *big.Int, gasQuote *big.Int) (OptimalTwoLegSizeResult, error) {
	if maxIn == nil || maxIn.Sign() <= 0 {
		return OptimalTwoLegSizeResult{}, apperror.New(apperror.CodeInvalidInput, apperror.WithContext("optimalTwoLegSize: maxIn must be positive"))
	}
	if gasQuote == nil {
		gasQuote = big.NewInt(0)
	}

	profitAt := func(aIn *big.Int) *big.Int {
		intermediate, err := GetAmountOut(aIn, poolA.ReserveIn, poolA.ReserveOut, poolA.FeeNum, poolA.FeeDen)
		if err != nil || intermediate.Sign() == 0 {
			return negInfinity()
		}
		final, err := GetAmountOut(intermediate, poolB.ReserveIn, poolB.ReserveOut, poolB.FeeNum, poolB.FeeDen)
		if err != nil || final.Sign() == 0 {
			return negInfinity()
		}
		profit := new(big.Int).Sub(final, aIn)
		profit.Sub(profit, gasQuote)
		return profit
	}

	lo := big.NewInt(1)
	hi := new(big.Int).Set(maxIn)

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
		p1, p2 := profitAt(m1), profitAt(m2)
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

	bestAmount := new(big.Int).Set(lo)
	bestProfit := profitAt(lo)
	for probe := new(big.Int).Add(lo, big.NewInt(1)); probe.Cmp(hi) <= 0; probe.Add(probe, big.NewInt(1)) {
		p := profitAt(probe)
		if p.Cmp(bestProfit) > 0 {
			bestProfit = p
			bestAmount = new(big.Int).Set(probe)
		}
	}

	return OptimalTwoLegSizeResult{Amount: bestAmount, NetProfit: bestProfit}, nil
}

// negInfinity is a sentinel far below any realizable profit value so a
// failing probe never wins a comparison against a real profit.
func negInfinity() *big.Int {
	sentinel := new(big.Int).Lsh(big.NewInt(1), 512)
	return sentinel.Neg(sentinel)
}
