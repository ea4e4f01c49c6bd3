package paircache

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kunalmkv/arbflux/business/amm/domain"
	"github.com/kunalmkv/arbflux/internal/asset"
	"github.com/kunalmkv/arbflux/internal/logger"
)

type stubResolver struct {
	calls int
	addr  common.Address
}

func (s *stubResolver) GetPairAddress(ctx context.Context, factory common.Address, token0, token1 common.Address) (common.Address, error) {
	s.calls++
	return s.addr, nil
}

func newTestPair() *domain.Pair {
	venue := domain.NewVenue("uniswap", common.HexToAddress("0xFactory"), 997, 1000)
	weth := asset.NewAsset(asset.NewTokenAssetID(1, common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")), "WETH", 18)
	usdc := asset.NewAsset(asset.NewTokenAssetID(1, common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")), "USDC", 6)
	return domain.NewPair(venue, weth, usdc)
}

func discardLogger() logger.LoggerInterface {
	return logger.New(discardWriter{}, logger.LevelError, "paircache-test", nil)
}

type discardWriter struct{}

func (discardWriter) Write(b []byte) (int, error) { return len(b), nil }

func TestCache_ResolveCachesOnHit(t *testing.T) {
	stub := &stubResolver{addr: common.HexToAddress("0x00000000000000000000000000000000000000aa")}
	c := New(stub, time.Minute, discardLogger())
	pair := newTestPair()

	addr1, ok1, err := c.Resolve(context.Background(), pair)
	if err != nil || !ok1 {
		t.Fatalf("unexpected result: addr=%s ok=%v err=%v", addr1, ok1, err)
	}
	addr2, ok2, err := c.Resolve(context.Background(), pair)
	if err != nil || !ok2 || addr2 != addr1 {
		t.Fatalf("expected cached address on second call, got %s/%v/%v", addr2, ok2, err)
	}
	if stub.calls != 1 {
		t.Fatalf("expected resolver called once, got %d", stub.calls)
	}
}

func TestCache_ResolveCachesNegativeLookup(t *testing.T) {
	stub := &stubResolver{addr: common.Address{}}
	c := New(stub, time.Minute, discardLogger())
	pair := newTestPair()

	_, ok, err := c.Resolve(context.Background(), pair)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected NoPair (ok=false) for zero-address resolution")
	}

	_, ok2, _ := c.Resolve(context.Background(), pair)
	if ok2 {
		t.Fatalf("expected cached NoPair on second call")
	}
	if stub.calls != 1 {
		t.Fatalf("expected resolver only called once due to negative cache, got %d", stub.calls)
	}
}

func TestCache_SnapshotFreshnessTracksLatestBlock(t *testing.T) {
	c := New(&stubResolver{}, time.Minute, discardLogger())
	now := time.Now()

	snap := domain.NewReserveSnapshot("pair1", big.NewInt(100), big.NewInt(200), 10, common.Hash{}, now)
	c.PutSnapshot("pair1", snap)

	got, ok := c.Snapshot("pair1", now, time.Hour, 5)
	if !ok {
		t.Fatalf("expected snapshot to be found")
	}
	if got.Freshness != domain.Fresh {
		t.Fatalf("expected Fresh, got %s", got.Freshness)
	}

	// Advance the cache's notion of latest block well beyond maxBlockSkew.
	later := domain.NewReserveSnapshot("pair2", big.NewInt(1), big.NewInt(1), 30, common.Hash{}, now)
	c.PutSnapshot("pair2", later)

	got2, _ := c.Snapshot("pair1", now, time.Hour, 5)
	if got2.Freshness != domain.Stale {
		t.Fatalf("expected pair1 to become Stale once the cache's latest block outran it, got %s", got2.Freshness)
	}
}

func TestCache_SnapshotMissingReturnsFalse(t *testing.T) {
	c := New(&stubResolver{}, time.Minute, discardLogger())
	_, ok := c.Snapshot("missing", time.Now(), time.Hour, 5)
	if ok {
		t.Fatalf("expected no snapshot for an unknown pair id")
	}
}

func TestCache_MonitoredPairIDs(t *testing.T) {
	c := New(&stubResolver{}, time.Minute, discardLogger())
	now := time.Now()
	c.PutSnapshot("a", domain.NewReserveSnapshot("a", big.NewInt(1), big.NewInt(1), 1, common.Hash{}, now))
	c.PutSnapshot("b", domain.NewReserveSnapshot("b", big.NewInt(1), big.NewInt(1), 1, common.Hash{}, now))

	ids := c.MonitoredPairIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 monitored pair ids, got %d", len(ids))
	}
}
