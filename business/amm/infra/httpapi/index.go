// Package httpapi serves the read-only HTTP surface the Orchestrator feeds:
// recent opportunities, aggregate statistics, price-history snapshots and
// the liveness/health endpoint (spec §6).
package httpapi

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/kunalmkv/arbflux/business/amm/domain"
)

// PriceRecord is one entry of the price_history logical table (spec §6).
type PriceRecord struct {
	Pair        string
	Venue       string
	Reserve0    *big.Int
	Reserve1    *big.Int
	BlockNumber uint64
	ObservedAt  time.Time
}

// Statistics is the GET /statistics payload's backing data.
type Statistics struct {
	StartedAt           time.Time
	ByKind              map[string]int64
	ByVenue             map[string]int64
	CumulativeNetProfit *big.Int
	LastBlockNumber     uint64
	LastBlockAt         time.Time
	TicksSkippedHighGas int64
	Dropped             int64
}

// Index is the in-process, bounded store backing the read API: every
// opportunity the Orchestrator emits (implements app.Sink), one tick
// recorded per detection pass, and a short price-history ring buffer.
type Index struct {
	mu sync.RWMutex

	capacity int
	records  []domain.Opportunity // newest first
	byID     map[string]domain.Opportunity

	priceCapacity int
	prices        []PriceRecord // newest first

	stats Statistics
}

// NewIndex creates an Index bounded to capacity opportunity records and
// priceCapacity price-history records.
func NewIndex(capacity, priceCapacity int) *Index {
	if capacity <= 0 {
		capacity = 1000
	}
	if priceCapacity <= 0 {
		priceCapacity = 1000
	}
	return &Index{
		capacity:      capacity,
		priceCapacity: priceCapacity,
		byID:          make(map[string]domain.Opportunity),
		stats: Statistics{
			StartedAt:           time.Now(),
			ByKind:              make(map[string]int64),
			ByVenue:             make(map[string]int64),
			CumulativeNetProfit: big.NewInt(0),
		},
	}
}

// Emit implements app.Sink: records opp and folds it into statistics.
// Backpressure (spec §4.8 "Backpressure"): when over capacity, the oldest
// Rejected record is dropped before any Qualified one; records are not
// ranked by profit or margin.
func (idx *Index) Emit(ctx context.Context, opp domain.Opportunity) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.records = append([]domain.Opportunity{opp}, idx.records...)
	idx.byID[opp.ID] = opp
	if len(idx.records) > idx.capacity {
		idx.evictOldest()
	}

	idx.stats.ByKind[opp.Kind.String()]++
	for _, leg := range opp.Legs {
		idx.stats.ByVenue[leg.Venue]++
	}
	if opp.NetProfitQuote != nil && (opp.Status == domain.Qualified || opp.Status == domain.SimulatedExecuted) {
		idx.stats.CumulativeNetProfit.Add(idx.stats.CumulativeNetProfit, opp.NetProfitQuote)
	}
}

// evictOldest drops the oldest Rejected record, or the oldest record of any
// status when none is Rejected. Profit and margin play no part in the
// choice.
func (idx *Index) evictOldest() {
	worst := -1
	for i := len(idx.records) - 1; i >= 0; i-- {
		if idx.records[i].Status == domain.Rejected {
			worst = i
			break
		}
	}
	if worst == -1 {
		worst = len(idx.records) - 1
	}
	delete(idx.byID, idx.records[worst].ID)
	idx.records = append(idx.records[:worst], idx.records[worst+1:]...)
	idx.stats.Dropped++
}

// RecordTick folds one completed detection pass into statistics, per the
// Orchestrator's Recorder port.
func (idx *Index) RecordTick(blockNumber uint64, at time.Time, skippedHighGas bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.stats.LastBlockNumber = blockNumber
	idx.stats.LastBlockAt = at
	if skippedHighGas {
		idx.stats.TicksSkippedHighGas++
	}
}

// RecordPrice appends one price_history observation, implementing the
// Orchestrator's Recorder port.
func (idx *Index) RecordPrice(pair, venue string, reserve0, reserve1 *big.Int, blockNumber uint64, observedAt time.Time) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	rec := PriceRecord{
		Pair:        pair,
		Venue:       venue,
		Reserve0:    reserve0,
		Reserve1:    reserve1,
		BlockNumber: blockNumber,
		ObservedAt:  observedAt,
	}
	idx.prices = append([]PriceRecord{rec}, idx.prices...)
	if len(idx.prices) > idx.priceCapacity {
		idx.prices = idx.prices[:idx.priceCapacity]
	}
}

// OpportunityFilter selects a subset of List's results.
type OpportunityFilter struct {
	Limit     int
	Kind      string
	MinProfit *big.Int
	From, To  time.Time
}

// List returns opportunities newest-first matching filter.
func (idx *Index) List(filter OpportunityFilter) []domain.Opportunity {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]domain.Opportunity, 0, len(idx.records))
	for _, r := range idx.records {
		if filter.Kind != "" && r.Kind.String() != filter.Kind {
			continue
		}
		if filter.MinProfit != nil && (r.NetProfitQuote == nil || r.NetProfitQuote.Cmp(filter.MinProfit) < 0) {
			continue
		}
		if !filter.From.IsZero() && r.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && r.CreatedAt.After(filter.To) {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Get returns the opportunity with id, if present.
func (idx *Index) Get(id string) (domain.Opportunity, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	opp, ok := idx.byID[id]
	return opp, ok
}

// Prices returns up to limit price-history records newest-first, optionally
// filtered by pair and/or venue.
func (idx *Index) Prices(pair, venue string, limit int) []PriceRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]PriceRecord, 0, len(idx.prices))
	for _, p := range idx.prices {
		if pair != "" && p.Pair != pair {
			continue
		}
		if venue != "" && p.Venue != venue {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Snapshot returns a defensive copy of the current statistics.
func (idx *Index) Snapshot() Statistics {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	byKind := make(map[string]int64, len(idx.stats.ByKind))
	for k, v := range idx.stats.ByKind {
		byKind[k] = v
	}
	byVenue := make(map[string]int64, len(idx.stats.ByVenue))
	for k, v := range idx.stats.ByVenue {
		byVenue[k] = v
	}
	return Statistics{
		StartedAt:           idx.stats.StartedAt,
		ByKind:              byKind,
		ByVenue:             byVenue,
		CumulativeNetProfit: new(big.Int).Set(idx.stats.CumulativeNetProfit),
		LastBlockNumber:     idx.stats.LastBlockNumber,
		LastBlockAt:         idx.stats.LastBlockAt,
		TicksSkippedHighGas: idx.stats.TicksSkippedHighGas,
		Dropped:             idx.stats.Dropped,
	}
}
