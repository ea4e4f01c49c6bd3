package httpapi

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/kunalmkv/arbflux/business/amm/domain"
)

func mkOpp(id string, status domain.Status, netProfit int64, createdAt time.Time) domain.Opportunity {
	return domain.Opportunity{
		ID:             id,
		Kind:           domain.TwoLeg,
		Legs:           []domain.Leg{{Venue: "uniswap-v2"}, {Venue: "sushiswap"}},
		NetProfitQuote: big.NewInt(netProfit),
		Status:         status,
		CreatedAt:      createdAt,
	}
}

func TestIndex_EmitThenGet(t *testing.T) {
	idx := NewIndex(10, 10)
	opp := mkOpp("opp-1", domain.Qualified, 100, time.Now())
	idx.Emit(context.Background(), opp)

	got, ok := idx.Get("opp-1")
	if !ok {
		t.Fatalf("expected opportunity to be found")
	}
	if got.NetProfitQuote.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected net profit 100, got %s", got.NetProfitQuote)
	}
}

func TestIndex_ListFiltersByKindAndMinProfit(t *testing.T) {
	idx := NewIndex(10, 10)
	idx.Emit(context.Background(), mkOpp("a", domain.Qualified, 50, time.Now()))
	idx.Emit(context.Background(), mkOpp("b", domain.Qualified, 500, time.Now()))

	got := idx.List(OpportunityFilter{MinProfit: big.NewInt(100)})
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("expected only opp b to pass the min-profit filter, got %+v", got)
	}
}

func TestIndex_CumulativeNetProfitOnlyCountsQualifiedAndExecuted(t *testing.T) {
	idx := NewIndex(10, 10)
	idx.Emit(context.Background(), mkOpp("a", domain.Qualified, 100, time.Now()))
	idx.Emit(context.Background(), mkOpp("b", domain.Rejected, 900, time.Now()))
	idx.Emit(context.Background(), mkOpp("c", domain.SimulatedExecuted, 50, time.Now()))

	snap := idx.Snapshot()
	if snap.CumulativeNetProfit.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("expected cumulative net profit 150, got %s", snap.CumulativeNetProfit)
	}
}

func TestIndex_EvictsRejectedBeforeQualifiedWhenOverCapacity(t *testing.T) {
	idx := NewIndex(2, 10)
	idx.Emit(context.Background(), mkOpp("keep-qualified", domain.Qualified, 1, time.Now()))
	idx.Emit(context.Background(), mkOpp("evict-me", domain.Rejected, 1, time.Now()))
	idx.Emit(context.Background(), mkOpp("newest", domain.Qualified, 1, time.Now()))

	if _, ok := idx.Get("evict-me"); ok {
		t.Fatalf("expected rejected record to be evicted first")
	}
	if _, ok := idx.Get("keep-qualified"); !ok {
		t.Fatalf("expected qualified record to survive eviction")
	}
	snap := idx.Snapshot()
	if snap.Dropped != 1 {
		t.Fatalf("expected dropped counter to be 1, got %d", snap.Dropped)
	}
}

func TestIndex_RecordTickAndRecordPrice(t *testing.T) {
	idx := NewIndex(10, 10)
	now := time.Now()
	idx.RecordTick(42, now, true)
	idx.RecordPrice("WETH/USDC", "uniswap-v2", big.NewInt(1), big.NewInt(2), 42, now)

	snap := idx.Snapshot()
	if snap.LastBlockNumber != 42 {
		t.Fatalf("expected last block number 42, got %d", snap.LastBlockNumber)
	}
	if snap.TicksSkippedHighGas != 1 {
		t.Fatalf("expected one high-gas-skipped tick, got %d", snap.TicksSkippedHighGas)
	}

	prices := idx.Prices("WETH/USDC", "", 0)
	if len(prices) != 1 || prices[0].Venue != "uniswap-v2" {
		t.Fatalf("expected one price record for uniswap-v2, got %+v", prices)
	}
}

func TestIndex_SnapshotIsADefensiveCopy(t *testing.T) {
	idx := NewIndex(10, 10)
	idx.Emit(context.Background(), mkOpp("a", domain.Qualified, 10, time.Now()))

	snap := idx.Snapshot()
	snap.ByKind["TwoLeg"] = 999
	snap.CumulativeNetProfit.SetInt64(999)

	fresh := idx.Snapshot()
	if fresh.ByKind["TwoLeg"] != 1 {
		t.Fatalf("mutating a returned snapshot must not affect the index, got %d", fresh.ByKind["TwoLeg"])
	}
	if fresh.CumulativeNetProfit.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("mutating a returned snapshot's big.Int must not affect the index, got %s", fresh.CumulativeNetProfit)
	}
}
