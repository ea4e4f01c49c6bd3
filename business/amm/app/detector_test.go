package app

import (
	"context"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kunalmkv/arbflux/business/amm/domain"
	"github.com/kunalmkv/arbflux/business/amm/infra/paircache"
	"github.com/kunalmkv/arbflux/internal/asset"
	"github.com/kunalmkv/arbflux/internal/logger"
)

func testLogger() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelInfo, "test", nil)
}

func mustToken(addrByte byte, symbol string) *domain.Token {
	addr := common.BytesToAddress([]byte{addrByte})
	return asset.MustNewToken(asset.ChainIDEthereum, addr, symbol, symbol, 18)
}

// newTestDetector wires a Detector over a Cache seeded directly via
// PutSnapshot, so no resolver/RPC dependency is needed.
func newTestDetector() (*Detector, *paircache.Cache) {
	cache := paircache.New(nil, 0, testLogger())
	return NewDetector(cache, testLogger()), cache
}

func seedPair(cache *paircache.Cache, pair *domain.Pair, reserve0, reserve1 *big.Int, blockNumber uint64) {
	snap := domain.NewReserveSnapshot(pair.ID(), reserve0, reserve1, blockNumber, common.Hash{}, time.Now())
	cache.PutSnapshot(pair.ID(), snap)
}

func TestDetectTwoLeg_FindsCrossVenueGap(t *testing.T) {
	detector, cache := newTestDetector()

	token0 := mustToken(1, "WETH")
	token1 := mustToken(2, "USDC")
	venueA := domain.NewVenue("uniswap-v2", common.Address{}, domain.DefaultFeeNum, domain.DefaultFeeDen)
	venueB := domain.NewVenue("sushiswap", common.Address{}, domain.DefaultFeeNum, domain.DefaultFeeDen)

	pairA := domain.NewPair(venueA, token0, token1)
	pairB := domain.NewPair(venueB, token0, token1)

	// Venue A: cheap WETH (1 WETH per 1000 USDC). Venue B: dear WETH (1 WETH
	// per 1100 USDC). Buying on A and selling on B should be profitable.
	seedPair(cache, pairA, big.NewInt(1_000_000), big.NewInt(1_000_000_000), 100)
	seedPair(cache, pairB, big.NewInt(1_000_000), big.NewInt(1_100_000_000), 100)

	group := PairGroup{Token0: token0, Token1: token1, Pairs: []*domain.Pair{pairA, pairB}}
	maxIn := big.NewInt(1_000_000_000)
	gasQuote := big.NewInt(1000)

	got := detector.DetectTwoLeg(context.Background(), []PairGroup{group}, maxIn, 5, 0.001, gasQuote, 100, time.Minute)

	if len(got) == 0 {
		t.Fatalf("expected at least one profitable two-leg opportunity")
	}
	for _, opp := range got {
		if opp.NetProfitQuote == nil || opp.NetProfitQuote.Sign() <= 0 {
			t.Fatalf("expected positive net profit, got %v", opp.NetProfitQuote)
		}
		if opp.Kind != domain.TwoLeg {
			t.Fatalf("expected TwoLeg kind, got %s", opp.Kind)
		}
	}
}

func TestDetectTwoLeg_NoOpportunityWhenPricesMatch(t *testing.T) {
	detector, cache := newTestDetector()

	token0 := mustToken(1, "WETH")
	token1 := mustToken(2, "USDC")
	venueA := domain.NewVenue("uniswap-v2", common.Address{}, domain.DefaultFeeNum, domain.DefaultFeeDen)
	venueB := domain.NewVenue("sushiswap", common.Address{}, domain.DefaultFeeNum, domain.DefaultFeeDen)

	pairA := domain.NewPair(venueA, token0, token1)
	pairB := domain.NewPair(venueB, token0, token1)

	seedPair(cache, pairA, big.NewInt(1_000_000), big.NewInt(1_000_000_000), 100)
	seedPair(cache, pairB, big.NewInt(1_000_000), big.NewInt(1_000_000_000), 100)

	group := PairGroup{Token0: token0, Token1: token1, Pairs: []*domain.Pair{pairA, pairB}}

	got := detector.DetectTwoLeg(context.Background(), []PairGroup{group}, big.NewInt(1_000_000_000), 5, 0.001, big.NewInt(1000), 100, time.Minute)

	if len(got) != 0 {
		t.Fatalf("expected no opportunity when both venues quote the same price, got %+v", got)
	}
}

func TestDetectTwoLeg_SkipsDeadSnapshot(t *testing.T) {
	detector, cache := newTestDetector()

	token0 := mustToken(1, "WETH")
	token1 := mustToken(2, "USDC")
	venueA := domain.NewVenue("uniswap-v2", common.Address{}, domain.DefaultFeeNum, domain.DefaultFeeDen)
	venueB := domain.NewVenue("sushiswap", common.Address{}, domain.DefaultFeeNum, domain.DefaultFeeDen)

	pairA := domain.NewPair(venueA, token0, token1)
	pairB := domain.NewPair(venueB, token0, token1)

	// Zero reserves tag the snapshot Dead, which must be excluded even
	// though a price gap would otherwise be profitable.
	seedPair(cache, pairA, big.NewInt(0), big.NewInt(0), 100)
	seedPair(cache, pairB, big.NewInt(1_000_000), big.NewInt(1_100_000_000), 100)

	group := PairGroup{Token0: token0, Token1: token1, Pairs: []*domain.Pair{pairA, pairB}}

	got := detector.DetectTwoLeg(context.Background(), []PairGroup{group}, big.NewInt(1_000_000_000), 5, 0.001, big.NewInt(1000), 100, time.Minute)

	if len(got) != 0 {
		t.Fatalf("expected dead (zero-reserve) snapshot to be excluded, got %+v", got)
	}
}

func TestDetectTwoLeg_SkipsExcessiveBlockSkew(t *testing.T) {
	detector, cache := newTestDetector()

	token0 := mustToken(1, "WETH")
	token1 := mustToken(2, "USDC")
	venueA := domain.NewVenue("uniswap-v2", common.Address{}, domain.DefaultFeeNum, domain.DefaultFeeDen)
	venueB := domain.NewVenue("sushiswap", common.Address{}, domain.DefaultFeeNum, domain.DefaultFeeDen)

	pairA := domain.NewPair(venueA, token0, token1)
	pairB := domain.NewPair(venueB, token0, token1)

	seedPair(cache, pairA, big.NewInt(1_000_000), big.NewInt(1_000_000_000), 50)
	seedPair(cache, pairB, big.NewInt(1_000_000), big.NewInt(1_100_000_000), 100)

	group := PairGroup{Token0: token0, Token1: token1, Pairs: []*domain.Pair{pairA, pairB}}

	// maxBlockSkew of 5 is far smaller than the 50-block gap between pairA
	// and pairB's observations.
	got := detector.DetectTwoLeg(context.Background(), []PairGroup{group}, big.NewInt(1_000_000_000), 5, 0.001, big.NewInt(1000), 100, time.Minute)

	if len(got) != 0 {
		t.Fatalf("expected excessive block skew to exclude the pair, got %+v", got)
	}
}
