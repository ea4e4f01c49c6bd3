// Package pricefeed implements PriceFeed (spec §4.4): a block-driven
// reserve refresh loop with a subscription state machine, a coalescing
// block queue, and impacted-pair tracking between refreshes.
package pricefeed

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/kunalmkv/arbflux/business/amm/domain"
	"github.com/kunalmkv/arbflux/business/amm/infra/paircache"
	"github.com/kunalmkv/arbflux/internal/config"
	"github.com/kunalmkv/arbflux/internal/logger"
)

// State is PriceFeed's subscription state (spec §4.4).
type State int

const (
	Idle State = iota
	Subscribing
	Running
)

func (s State) String() string {
	switch s {
	case Subscribing:
		return "Subscribing"
	case Running:
		return "Running"
	default:
		return "Idle"
	}
}

// subscriber is the block-header source; satisfied by rpcpool.Pool.
type subscriber interface {
	SubscribeBlocks(ctx context.Context, handler func(ctx context.Context, header *types.Header))
}

// Feed is PriceFeed.
type Feed struct {
	pool  subscriber
	fetch func(ctx context.Context, addrs []common.Address, blockNumber uint64) ([]ReserveResult, error)
	cache *paircache.Cache

	cfg config.FeedConfig

	logger logger.LoggerInterface

	mu        sync.RWMutex
	state     State
	pairs     []*domain.Pair
	coldStart bool

	impactedMu sync.Mutex
	impacted   map[string]struct{}

	queueMu sync.Mutex
	queue   chan *types.Header

	cancel context.CancelFunc

	onRefreshed func(ctx context.Context, blockNumber uint64)
}

// SetOnRefreshed registers a callback invoked after every completed refresh
// pass, letting the Orchestrator drive block-synchronous detection off the
// same cadence as PriceFeed rather than polling it.
func (f *Feed) SetOnRefreshed(fn func(ctx context.Context, blockNumber uint64)) {
	f.mu.Lock()
	f.onRefreshed = fn
	f.mu.Unlock()
}

// ReserveResult mirrors rpcpool.ReserveResult to avoid a direct infra->infra
// import cycle between packages that both sit under business/amm/infra;
// rpcpool.ReserveResult satisfies this shape structurally via the adapter
// passed to New.
type ReserveResult struct {
	PairAddress common.Address
	Reserves    ReservesResult
	Err         error
}

type ReservesResult struct {
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// New creates a Feed. fetch adapts the caller's RpcPool.BatchGetReserves to
// this package's minimal result shape, keeping Feed decoupled from
// rpcpool's concrete ABI-decoding types.
func New(pool subscriber, fetch func(ctx context.Context, addrs []common.Address, blockNumber uint64) ([]ReserveResult, error), cache *paircache.Cache, cfg config.FeedConfig, pairs []*domain.Pair, log logger.LoggerInterface) *Feed {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 25
	}
	cfg.BatchSize = batchSize

	return &Feed{
		pool:      pool,
		fetch:     fetch,
		cache:     cache,
		cfg:       cfg,
		logger:    log,
		pairs:     pairs,
		coldStart: true,
		impacted:  make(map[string]struct{}),
		queue:     make(chan *types.Header, 1),
	}
}

// State returns the feed's current subscription state.
func (f *Feed) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

func (f *Feed) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// Start transitions Idle -> Subscribing -> Running and begins the
// block-driven refresh loop.
func (f *Feed) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	f.setState(Subscribing)
	f.pool.SubscribeBlocks(ctx, f.onHeader)
	f.setState(Running)

	go f.runLoop(ctx)
}

// Stop transitions Running -> Idle and cancels the subscription and any
// in-flight refresh's context.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.setState(Idle)
}

// onHeader is the subscription callback; it publishes into the depth-1
// coalescing queue, dropping the previously queued (not-yet-processed)
// header if the consumer hasn't caught up (spec §4.4 overlap policy).
func (f *Feed) onHeader(ctx context.Context, header *types.Header) {
	f.queueMu.Lock()
	defer f.queueMu.Unlock()
	select {
	case f.queue <- header:
	default:
		select {
		case <-f.queue:
		default:
		}
		f.queue <- header
	}
}

// runLoop drains the coalescing queue one header at a time, guaranteeing
// only one refresh is ever in flight.
func (f *Feed) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case header := <-f.queue:
			f.refresh(ctx, header)
		}
	}
}

// MarkImpacted records a pair as needing re-refresh on the next tick,
// regardless of its cached TTL (spec §4.4: "external signals ... can call
// markImpacted(pair)").
func (f *Feed) MarkImpacted(pairID string) {
	f.impactedMu.Lock()
	f.impacted[pairID] = struct{}{}
	f.impactedMu.Unlock()
}

func (f *Feed) takeImpacted() map[string]struct{} {
	f.impactedMu.Lock()
	defer f.impactedMu.Unlock()
	taken := f.impacted
	f.impacted = make(map[string]struct{})
	return taken
}

// refresh computes the impacted-pair set for this block, fetches reserves
// in staggered batches, and publishes new snapshots.
func (f *Feed) refresh(ctx context.Context, header *types.Header) {
	blockNumber := header.Number.Uint64()
	now := time.Now()

	f.mu.RLock()
	pairs := f.pairs
	coldStart := f.coldStart
	f.mu.RUnlock()

	impactedSince := f.takeImpacted()

	var targets []*domain.Pair
	for _, pair := range pairs {
		id := pair.ID()
		_, impacted := impactedSince[id]
		snap, cached := f.cache.Snapshot(id, now, f.cfg.CacheTTL, 1)
		expired := !cached || snap.Freshness != domain.Fresh
		if coldStart || impacted || expired {
			targets = append(targets, pair)
		}
	}

	if coldStart {
		f.mu.Lock()
		f.coldStart = false
		f.mu.Unlock()
	}

	for start := 0; start < len(targets); start += f.cfg.BatchSize {
		end := start + f.cfg.BatchSize
		if end > len(targets) {
			end = len(targets)
		}
		batch := targets[start:end]
		f.refreshBatch(ctx, batch, blockNumber, header.Hash())

		if end < len(targets) && f.cfg.StaggerDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(f.cfg.StaggerDelay):
			}
		}
	}

	f.mu.RLock()
	hook := f.onRefreshed
	f.mu.RUnlock()
	if hook != nil {
		hook(ctx, blockNumber)
	}
}

func (f *Feed) refreshBatch(ctx context.Context, batch []*domain.Pair, blockNumber uint64, blockHash common.Hash) {
	addrs := make([]common.Address, len(batch))
	byAddr := make(map[common.Address]*domain.Pair, len(batch))
	for i, pair := range batch {
		addrs[i] = pair.Address
		byAddr[pair.Address] = pair
	}

	results, err := f.fetch(ctx, addrs, blockNumber)
	if err != nil && results == nil {
		f.logger.Error(ctx, "pricefeed: batch refresh failed entirely, marking batch stale", "error", err, "size", len(batch))
		for _, pair := range batch {
			f.markStale(pair.ID())
		}
		return
	}

	for _, res := range results {
		pair := byAddr[res.PairAddress]
		if pair == nil {
			continue
		}
		if res.Err != nil {
			f.logger.Warn(ctx, "pricefeed: pair refresh failed, marking stale", "pair", pair.ID(), "error", res.Err)
			f.markStale(pair.ID())
			continue
		}
		snap := domain.NewReserveSnapshot(pair.ID(), res.Reserves.Reserve0, res.Reserves.Reserve1, blockNumber, blockHash, time.Now())
		f.cache.PutSnapshot(pair.ID(), snap)
	}
}

func (f *Feed) markStale(pairID string) {
	prior, ok := f.cache.Snapshot(pairID, time.Now(), f.cfg.CacheTTL, 1)
	if !ok {
		return
	}
	prior.Freshness = domain.Stale
	f.cache.PutSnapshot(pairID, prior)
}
