// Package paircache implements PairCache (spec §4.3): pair-address
// resolution memoized against the venue factory, plus ownership of the most
// recent ReserveSnapshot per pair.
package paircache

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kunalmkv/arbflux/business/amm/domain"
	"github.com/kunalmkv/arbflux/internal/cache"
	"github.com/kunalmkv/arbflux/internal/logger"
)

// resolver looks up a pair address from a venue factory; satisfied by
// rpcpool.Pool in production and a stub in tests.
type resolver interface {
	GetPairAddress(ctx context.Context, factory common.Address, token0, token1 common.Address) (common.Address, error)
}

const (
	defaultAddressTTL   = 30 * time.Second
	defaultNoPairTTL    = 5 * time.Second
)

// addressEntry is the cached resolution outcome for one (venue, token0,
// token1) key: either a resolved pool address, or NoPair if the factory
// returned the zero address.
type addressEntry struct {
	address common.Address
	noPair  bool
}

// Cache is PairCache. Address resolution and reserve snapshots are cached
// independently so a reserve refresh never has to re-resolve an address,
// and a TTL'd address miss never discards a live snapshot.
type Cache struct {
	resolver resolver
	logger   logger.LoggerInterface

	addresses *cache.Cache[string, addressEntry]
	addrTTL   time.Duration
	noPairTTL time.Duration

	snapshotsMu sync.RWMutex
	snapshots   map[string]domain.ReserveSnapshot

	latestBlockMu sync.RWMutex
	latestBlock   uint64
}

// New creates a Cache backed by res for address resolution, with the given
// address TTL (default 30s per spec §4.3; pass 0 for the default).
func New(res resolver, addrTTL time.Duration, log logger.LoggerInterface) *Cache {
	if addrTTL <= 0 {
		addrTTL = defaultAddressTTL
	}
	return &Cache{
		resolver:  res,
		logger:    log,
		addresses: cache.New[string, addressEntry](addrTTL),
		addrTTL:   addrTTL,
		noPairTTL: defaultNoPairTTL,
		snapshots: make(map[string]domain.ReserveSnapshot),
	}
}

func addressKey(venue string, token0, token1 common.Address) string {
	return venue + ":" + token0.Hex() + ":" + token1.Hex()
}

// Resolve returns the pair's pool address, resolving and caching it via the
// venue factory on a miss. Tokens must already be ordered ascending by byte
// address (domain.OrderTokens / domain.NewPair's normalization, spec §4.3).
// Returns ok=false for a cached or freshly observed NoPair.
func (c *Cache) Resolve(ctx context.Context, pair *domain.Pair) (addr common.Address, ok bool, err error) {
	token0Addr := pair.Token0.Address()
	token1Addr := pair.Token1.Address()
	key := addressKey(pair.Venue.Name, token0Addr, token1Addr)

	if entry, found := c.addresses.Get(ctx, key); found {
		return entry.address, !entry.noPair, nil
	}

	resolved, err := c.resolver.GetPairAddress(ctx, pair.Venue.Factory, token0Addr, token1Addr)
	if err != nil {
		return common.Address{}, false, err
	}

	if resolved == (common.Address{}) {
		c.addresses.Set(ctx, key, addressEntry{noPair: true}, c.noPairTTL)
		c.logger.Debug(ctx, "paircache: negative lookup cached", "venue", pair.Venue.Name, "token0", token0Addr.Hex(), "token1", token1Addr.Hex())
		return common.Address{}, false, nil
	}

	c.addresses.Set(ctx, key, addressEntry{address: resolved}, c.addrTTL)
	return resolved, true, nil
}

// PutSnapshot atomically replaces the cached snapshot for pairID. Readers
// via Snapshot never observe a torn update (spec §4.4 item 5): the map
// write happens under a single exclusive lock and the new value is a
// complete struct copy.
func (c *Cache) PutSnapshot(pairID string, snap domain.ReserveSnapshot) {
	c.snapshotsMu.Lock()
	c.snapshots[pairID] = snap
	c.snapshotsMu.Unlock()

	if snap.BlockNumber > c.LatestBlock() {
		c.latestBlockMu.Lock()
		if snap.BlockNumber > c.latestBlock {
			c.latestBlock = snap.BlockNumber
		}
		c.latestBlockMu.Unlock()
	}
}

// Snapshot returns the most recent snapshot for pairID with its freshness
// recomputed against the cache's latest known block, and whether one
// exists at all. A snapshot stored with an explicit Stale tag (PriceFeed's
// markStale) stays Stale until a newer snapshot replaces it.
func (c *Cache) Snapshot(pairID string, now time.Time, ttl time.Duration, maxBlockSkew uint64) (domain.ReserveSnapshot, bool) {
	c.snapshotsMu.RLock()
	snap, ok := c.snapshots[pairID]
	c.snapshotsMu.RUnlock()
	if !ok {
		return domain.ReserveSnapshot{}, false
	}
	marked := snap.Freshness
	snap.Freshness = snap.EvaluateFreshness(now, c.LatestBlock(), ttl, maxBlockSkew)
	if marked == domain.Stale && snap.Freshness == domain.Fresh {
		snap.Freshness = domain.Stale
	}
	return snap, true
}

// LatestBlock returns the highest block number any cached snapshot has
// observed, used as the staleness reference point (spec §4.3).
func (c *Cache) LatestBlock() uint64 {
	c.latestBlockMu.RLock()
	defer c.latestBlockMu.RUnlock()
	return c.latestBlock
}

// MonitoredPairIDs returns the ids of every pair with a cached snapshot.
func (c *Cache) MonitoredPairIDs() []string {
	c.snapshotsMu.RLock()
	defer c.snapshotsMu.RUnlock()
	ids := make([]string, 0, len(c.snapshots))
	for id := range c.snapshots {
		ids = append(ids, id)
	}
	return ids
}
