package domain

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kunalmkv/arbflux/internal/apperror"
)

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big.Int literal: " + s)
	}
	return v
}

func TestGetAmountOut(t *testing.T) {
	tests := []struct {
		name    string
		aIn     *big.Int
		rIn     *big.Int
		rOut    *big.Int
		feeNum  uint64
		feeDen  uint64
		wantErr bool
	}{
		{
			name: "standard swap",
			aIn:  bi("1000000000000000000"), // 1e18
			rIn:  bi("1000000000000000000000"),
			rOut: bi("2000000000000000000000000"),
			feeNum: 997, feeDen: 1000,
		},
		{
			name: "zero aIn rejected", aIn: big.NewInt(0), rIn: bi("1000"), rOut: bi("1000"), feeNum: 997, feeDen: 1000, wantErr: true,
		},
		{
			name: "zero rIn rejected", aIn: bi("100"), rIn: big.NewInt(0), rOut: bi("1000"), feeNum: 997, feeDen: 1000, wantErr: true,
		},
		{
			name: "zero rOut rejected", aIn: bi("100"), rIn: bi("1000"), rOut: big.NewInt(0), feeNum: 997, feeDen: 1000, wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := GetAmountOut(tc.aIn, tc.rIn, tc.rOut, tc.feeNum, tc.feeDen)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				if apperror.GetCode(err) != apperror.CodeInvalidInput {
					t.Fatalf("expected InvalidInput, got %s", apperror.GetCode(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Cmp(tc.rOut) >= 0 {
				t.Fatalf("invariant violated: aOut (%s) >= rOut (%s)", out, tc.rOut)
			}
			if out.Sign() < 0 {
				t.Fatalf("aOut must be non-negative, got %s", out)
			}
		})
	}
}

// TestGetAmountOut_AlwaysLessThanReserveOut property-tests the core
// invariant across a spread of reserve ratios and trade sizes.
func TestGetAmountOut_AlwaysLessThanReserveOut(t *testing.T) {
	reserves := []struct{ rIn, rOut string }{
		{"1000000000000000000000", "2000000000000000000000000"},
		{"5000000000000000000", "5000000000000000000"},
		{"1", "1000000000000000000000000000000000000"},
	}
	amounts := []string{"1", "1000", "1000000000000000000", "999999999999999999999999"}

	for _, r := range reserves {
		for _, a := range amounts {
			aOut, err := GetAmountOut(bi(a), bi(r.rIn), bi(r.rOut), 997, 1000)
			if err != nil {
				t.Fatalf("unexpected error for aIn=%s rIn=%s rOut=%s: %v", a, r.rIn, r.rOut, err)
			}
			if aOut.Cmp(bi(r.rOut)) >= 0 {
				t.Fatalf("aOut %s >= rOut %s for aIn=%s", aOut, r.rOut, a)
			}
		}
	}
}

func TestGetAmountIn(t *testing.T) {
	rIn := bi("1000000000000000000000")
	rOut := bi("2000000000000000000000000")

	t.Run("round trip covers requested output", func(t *testing.T) {
		aOutWanted := bi("1000000000000000000000") // 1000 units of rOut's token
		aIn, err := GetAmountIn(aOutWanted, rIn, rOut, 997, 1000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		gotOut, err := GetAmountOut(aIn, rIn, rOut, 997, 1000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotOut.Cmp(aOutWanted) < 0 {
			t.Fatalf("round trip invariant violated: getAmountOut(getAmountIn(x)) = %s < %s", gotOut, aOutWanted)
		}
	})

	t.Run("aOut equal to rOut rejected as insufficient liquidity", func(t *testing.T) {
		_, err := GetAmountIn(rOut, rIn, rOut, 997, 1000)
		if err == nil || apperror.GetCode(err) != apperror.CodeInsufficientLiquidity {
			t.Fatalf("expected InsufficientLiquidity, got %v", err)
		}
	})

	t.Run("aOut one less than rOut does not overflow", func(t *testing.T) {
		aOut := new(big.Int).Sub(rOut, big.NewInt(1))
		aIn, err := GetAmountIn(aOut, rIn, rOut, 997, 1000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if aIn.Sign() <= 0 {
			t.Fatalf("expected positive aIn, got %s", aIn)
		}
	})

	t.Run("zero aOut rejected", func(t *testing.T) {
		_, err := GetAmountIn(big.NewInt(0), rIn, rOut, 997, 1000)
		if err == nil || apperror.GetCode(err) != apperror.CodeInvalidInput {
			t.Fatalf("expected InvalidInput, got %v", err)
		}
	})
}

func TestAmountsOut_FailsFastOnInsufficientLiquidity(t *testing.T) {
	path := []Hop{
		{ReserveIn: bi("1000000000000000000000"), ReserveOut: bi("2000000000000000000000000"), FeeNum: 997, FeeDen: 1000},
		{ReserveIn: bi("1"), ReserveOut: bi("1"), FeeNum: 997, FeeDen: 1000},
	}
	_, err := AmountsOut(bi("1000000000000000000"), path)
	if err == nil {
		t.Fatalf("expected insufficient liquidity error on second hop")
	}
}

func TestPriceImpact_ReducesToFeeForInfiniteLiquidityApproximation(t *testing.T) {
	// With reserves many orders of magnitude larger than the trade, the
	// size-driven part of price impact vanishes at 6dp truncation, leaving
	// only the 0.3% swap fee that PriceImpact includes.
	rIn := bi("1000000000000000000000000000")
	rOut := bi("2000000000000000000000000000000")
	impact, err := PriceImpact(bi("1000000000000000000"), rIn, rOut, 997, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !impact.Equal(decimal.New(3, -3)) {
		t.Fatalf("expected impact equal to the 0.3%% fee (0.003), got %s", impact)
	}
}

func TestOptimalTwoLegSize_NoArbitrageIsUnprofitable(t *testing.T) {
	// Identical pools on both legs with fee < 1 can never be profitable:
	// any round trip loses value to fees.
	pool := Hop{ReserveIn: bi("1000000000000000000000"), ReserveOut: bi("2000000000000000000000000"), FeeNum: 997, FeeDen: 1000}
	poolBack := Hop{ReserveIn: bi("2000000000000000000000000"), ReserveOut: bi("1000000000000000000000"), FeeNum: 997, FeeDen: 1000}

	result, err := OptimalTwoLegSize(pool, poolBack, bi("1000000000000000000000"), big.NewInt(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NetProfit.Sign() > 0 {
		t.Fatalf("expected no profitable round trip on symmetric pools, got profit=%s at amount=%s", result.NetProfit, result.Amount)
	}
}

func TestOptimalTwoLegSize_FindsProfitableGap(t *testing.T) {
	// poolA: cheap WETH in USDC terms; poolB: expensive WETH in USDC terms.
	// Buying WETH on A and selling on B should be profitable for some size.
	poolA := Hop{ReserveIn: bi("2000000000000"), ReserveOut: bi("1000000000000000000000"), FeeNum: 997, FeeDen: 1000}    // spend USDC(6dp), get WETH(18dp)
	poolB := Hop{ReserveIn: bi("1000000000000000000000"), ReserveOut: bi("2100000000000"), FeeNum: 997, FeeDen: 1000} // spend WETH, get USDC

	maxIn := bi("2000000000000") // cap at USDC pool's reserve scale
	result, err := OptimalTwoLegSize(poolA, poolB, maxIn, big.NewInt(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NetProfit.Sign() <= 0 {
		t.Fatalf("expected a profitable round trip given the price gap, got profit=%s", result.NetProfit)
	}
}

func TestOptimalTwoLegSize_RejectsNonPositiveMaxIn(t *testing.T) {
	pool := Hop{ReserveIn: bi("1000"), ReserveOut: bi("1000"), FeeNum: 997, FeeDen: 1000}
	_, err := OptimalTwoLegSize(pool, pool, big.NewInt(0), big.NewInt(0))
	if err == nil || apperror.GetCode(err) != apperror.CodeInvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func BenchmarkGetAmountOut(b *testing.B) {
	rIn := bi("1000000000000000000000")
	rOut := bi("2000000000000000000000000")
	aIn := bi("1000000000000000000")
	for i := 0; i < b.N; i++ {
		_, _ = GetAmountOut(aIn, rIn, rOut, 997, 1000)
	}
}

func BenchmarkOptimalTwoLegSize(b *testing.B) {
	poolA := Hop{ReserveIn: bi("2000000000000"), ReserveOut: bi("1000000000000000000000"), FeeNum: 997, FeeDen: 1000}
	poolB := Hop{ReserveIn: bi("1000000000000000000000"), ReserveOut: bi("2100000000000"), FeeNum: 997, FeeDen: 1000}
	maxIn := bi("2000000000000")
	for i := 0; i < b.N; i++ {
		_, _ = OptimalTwoLegSize(poolA, poolB, maxIn, big.NewInt(0))
	}
}
