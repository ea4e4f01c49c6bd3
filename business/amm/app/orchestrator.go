package app

import (
	"bytes"
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kunalmkv/arbflux/business/amm/domain"
	"github.com/kunalmkv/arbflux/business/amm/infra/paircache"
	"github.com/kunalmkv/arbflux/business/amm/infra/pricefeed"
	"github.com/kunalmkv/arbflux/business/amm/infra/rpcpool"
	"github.com/kunalmkv/arbflux/internal/apperror"
	"github.com/kunalmkv/arbflux/internal/config"
	"github.com/kunalmkv/arbflux/internal/logger"
)

// OrchestratorState is the process-wide lifecycle state (spec §4.8).
type OrchestratorState int

const (
	Stopped OrchestratorState = iota
	Starting
	Running
	Stopping
)

func (s OrchestratorState) String() string {
	switch s {
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	default:
		return "Stopped"
	}
}

// Sink receives terminal opportunity records (qualified-and-approved,
// rejected, or expired) for persistence and simulation.
type Sink interface {
	Emit(ctx context.Context, opp domain.Opportunity)
}

// Recorder observes one detection pass's tick and price snapshots, feeding
// the read-only statistics/price-history API without the Orchestrator
// depending on it directly (mirrors pricefeed.Feed's refresh hook).
type Recorder interface {
	RecordTick(blockNumber uint64, at time.Time, skippedHighGas bool)
	RecordPrice(pairID, venue string, reserve0, reserve1 *big.Int, blockNumber uint64, observedAt time.Time)
}

// Orchestrator wires RpcPool, PairCache, PriceFeed, Detector, Qualifier and
// RiskGate into the block-synchronous detection pipeline (spec §4.8).
type Orchestrator struct {
	pool  *rpcpool.Pool
	cache *paircache.Cache
	feed  *pricefeed.Feed

	detector  *Detector
	qualifier *Qualifier
	riskGate  *RiskGate
	portfolio *domain.PortfolioState

	groups    []PairGroup
	cycles    []Cycle
	pairIndex map[string]*domain.Pair

	cfg      *config.Config
	sink     Sink
	recorder Recorder
	logger   logger.LoggerInterface

	mu        sync.RWMutex
	state     OrchestratorState
	cancel    context.CancelFunc
	inFlight  sync.Mutex
	lastCause error
	fatal     chan error
}

// New builds an Orchestrator from cfg and a Sink for terminal records. The
// RpcPool/PairCache/PriceFeed are constructed by Start, in that order,
// matching the Starting state's initialization order.
func New(cfg *config.Config, portfolio *domain.PortfolioState, sink Sink, log logger.LoggerInterface) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		portfolio: portfolio,
		sink:      sink,
		logger:    log,
		qualifier: NewQualifier(cfg.Qualifier, log),
		riskGate:  NewRiskGate(cfg.RiskGate, log),
		fatal:     make(chan error, 1),
	}
}

// SetRecorder attaches r to receive tick and price observations from every
// detection pass. Must be called before Start.
func (o *Orchestrator) SetRecorder(r Recorder) {
	o.recorder = r
}

// Pool returns the underlying RpcPool, nil until Start has run. Exposed so
// the read-only HTTP API can report endpoint health (spec §6 /health).
func (o *Orchestrator) Pool() *rpcpool.Pool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.pool
}

// State returns the orchestrator's current lifecycle state.
func (o *Orchestrator) State() OrchestratorState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(s OrchestratorState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Start transitions Stopped -> Starting -> Running: dials RpcPool, resolves
// every monitored pair's address via PairCache, then starts PriceFeed's
// block-driven refresh loop and the periodic safety-net timer.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.setState(Starting)

	pool, err := rpcpool.New(o.cfg.Endpoints, o.cfg.Feed.FailoverThreshold, o.cfg.Feed.CooldownPeriod, o.logger)
	if err != nil {
		o.setState(Stopped)
		return err
	}
	o.pool = pool

	o.cache = paircache.New(pool, 0, o.logger)

	o.groups = BuildPairGroups(o.cfg)
	o.cycles = BuildCycles(o.cfg)
	pairs := AllPairs(o.groups, o.cycles)

	o.pairIndex = make(map[string]*domain.Pair, len(pairs))
	for _, pair := range pairs {
		o.pairIndex[pair.ID()] = pair
	}

	for _, pair := range pairs {
		addr, ok, err := o.cache.Resolve(ctx, pair)
		if err != nil {
			o.logger.Warn(ctx, "orchestrator: pair address resolution failed", "pair", pair.ID(), "error", err)
			continue
		}
		if !ok {
			o.logger.Debug(ctx, "orchestrator: no pool for pair, skipping", "pair", pair.ID())
			continue
		}
		pair.Address = addr
	}

	fetch := func(ctx context.Context, addrs []common.Address, blockNumber uint64) ([]pricefeed.ReserveResult, error) {
		raw, err := pool.BatchGetReserves(ctx, addrs, blockNumber)
		out := make([]pricefeed.ReserveResult, len(raw))
		for i, r := range raw {
			out[i] = pricefeed.ReserveResult{
				PairAddress: r.PairAddress,
				Reserves:    pricefeed.ReservesResult{Reserve0: r.Reserves.Reserve0, Reserve1: r.Reserves.Reserve1},
				Err:         r.Err,
			}
		}
		return out, err
	}

	o.detector = NewDetector(o.cache, o.logger)
	o.feed = pricefeed.New(pool, fetch, o.cache, o.cfg.Feed, pairs, o.logger)
	o.feed.SetOnRefreshed(o.onBlockRefreshed)
	o.feed.Start(ctx)

	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	go o.periodicLoop(ctx)

	o.setState(Running)
	return nil
}

// Stop transitions Running -> Stopping -> Stopped, shutting down PriceFeed
// (and by extension RpcPool's subscription) first, then releasing the
// periodic timer, bounded by shutdownGrace.
func (o *Orchestrator) Stop() {
	o.setState(Stopping)

	done := make(chan struct{})
	go func() {
		if o.feed != nil {
			o.feed.Stop()
		}
		if o.cancel != nil {
			o.cancel()
		}
		close(done)
	}()

	grace := o.cfg.RiskGate.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	select {
	case <-done:
	case <-time.After(grace):
		o.logger.Warn(context.Background(), "orchestrator: shutdown grace period elapsed before clean stop")
	}

	o.setState(Stopped)
}

// ForceShutdown stops the pipeline immediately and records cause as the
// reason, for an escalation that cannot wait for a clean tick boundary
// (spec §7: a persistent opportunity-store outage forces shutdown with a
// distinct exit code). Safe to call from any goroutine, including a
// Sink's own outage-escalation callback.
func (o *Orchestrator) ForceShutdown(cause error) {
	o.mu.Lock()
	o.lastCause = cause
	o.mu.Unlock()

	o.logger.Error(context.Background(), "orchestrator: forced shutdown", "cause", cause)
	if o.State() != Stopped {
		o.Stop()
	}

	select {
	case o.fatal <- cause:
	default:
	}
}

// LastCause returns the error that triggered the most recent ForceShutdown,
// nil if none has occurred.
func (o *Orchestrator) LastCause() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastCause
}

// Fatal returns a channel that receives ForceShutdown's cause exactly once,
// so main can select on it alongside the interrupt signal and exit with a
// distinct code instead of the ordinary shutdown path.
func (o *Orchestrator) Fatal() <-chan error {
	return o.fatal
}

// onBlockRefreshed is PriceFeed's post-refresh hook: it runs the detection
// pipeline for the just-refreshed block, guarded so a periodic tick never
// overlaps a block-driven run.
func (o *Orchestrator) onBlockRefreshed(ctx context.Context, blockNumber uint64) {
	if !o.inFlight.TryLock() {
		return
	}
	defer o.inFlight.Unlock()
	o.runDetectionPass(ctx, blockNumber)
}

// periodicLoop is the backup timer (default 5s); it skips a tick if a
// block-driven pass is already in flight.
func (o *Orchestrator) periodicLoop(ctx context.Context) {
	interval := o.cfg.Feed.ScanInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !o.inFlight.TryLock() {
				continue
			}
			blockNumber := o.cache.LatestBlock()
			o.runDetectionPass(ctx, blockNumber)
			o.inFlight.Unlock()
		}
	}
}

// runDetectionPass runs Detector -> Qualifier -> RiskGate serially over one
// block's candidate set, capping emissions per spec §4.8 item 4.
func (o *Orchestrator) runDetectionPass(ctx context.Context, blockNumber uint64) {
	maxIn := parsePositionAmount(o.cfg.Detection.MaxPositionSize)
	gasPriceWei, err := o.pool.GetGasPrice(ctx)
	if err != nil {
		o.logger.Warn(ctx, "orchestrator: gas price lookup failed, using zero", "error", err)
		gasPriceWei = big.NewInt(0)
	}
	if o.cfg.Qualifier.MaxGasPriceWei > 0 && gasPriceWei.Cmp(new(big.Int).SetUint64(o.cfg.Qualifier.MaxGasPriceWei)) > 0 {
		o.logger.Debug(ctx, "orchestrator: gas price above maxGasPrice, skipping detection pass", "block", blockNumber)
		if o.recorder != nil {
			o.recorder.RecordTick(blockNumber, time.Now(), true)
		}
		return
	}
	gasQuote := GasCostQuote(domain.TwoLeg, gasPriceWei, nil, o.cfg.Qualifier)

	twoLeg := o.detector.DetectTwoLeg(ctx, o.groups, maxIn, o.cfg.Detection.MaxBlockSkew, o.cfg.Detection.MinMargin, gasQuote, blockNumber, o.cfg.Feed.CacheTTL)
	triGasQuote := GasCostQuote(domain.Triangular, gasPriceWei, nil, o.cfg.Qualifier)
	triangular := o.detector.DetectTriangular(ctx, o.cycles, o.cfg.Detection.MaxBlockSkew, triGasQuote, blockNumber, o.cfg.Feed.CacheTTL)

	candidates := append(twoLeg, triangular...)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Margin > candidates[j].Margin })

	maxEmit := o.cfg.Detection.MaxOpportunitiesPerBlock
	if maxEmit <= 0 {
		maxEmit = 3
	}

	emitted := 0
	minProfitQuote := bigFromFloatQuote(o.cfg.Qualifier.MinProfitQuote)
	for _, candidate := range candidates {
		if emitted >= maxEmit {
			break
		}

		_, reserveQuoteA, reserveQuoteB, impactLeg1, impactLeg2, simErr := o.simulateLegs(candidate, candidate.TradeAmountIn, time.Now())
		if simErr != nil {
			o.logger.Debug(ctx, "orchestrator: leg simulation failed, rejecting candidate", "id", candidate.ID, "error", simErr)
			continue
		}

		qualified, ok, _ := o.qualifier.Qualify(ctx, candidate, reserveQuoteA, reserveQuoteB, gasPriceWei, impactLeg1, impactLeg2, time.Now())
		if !ok {
			if o.cfg.Qualifier.EmitRejected {
				o.sink.Emit(ctx, qualified)
			}
			continue
		}

		snap := o.portfolio.Snapshot()
		totalValue := new(big.Int).Add(snap.Equity, big.NewInt(0))
		assessment := o.riskGate.Assess(ctx, qualified, snap, totalValue, minProfitQuote, impactLeg1, impactLeg2, func(sized *big.Int) (*big.Int, float64, float64, error) {
			out, _, _, sizedLeg1, sizedLeg2, err := o.simulateLegs(qualified, sized, time.Now())
			if err != nil {
				return nil, 0, 0, err
			}
			netProfit := new(big.Int).Sub(out, sized)
			netProfit.Sub(netProfit, qualified.GasCostQuote)
			return netProfit, sizedLeg1, sizedLeg2, nil
		})
		if !assessment.Approved {
			rejected := qualified.WithStatus(domain.Rejected, joinReasons(assessment.Reasons))
			o.sink.Emit(ctx, rejected)
			continue
		}

		o.sink.Emit(ctx, qualified)
		emitted++
	}

	if o.recorder != nil {
		o.recorder.RecordTick(blockNumber, time.Now(), false)

		if o.cfg.Store.PriceHistoryOn {
			o.recordPrices(blockNumber)
		}
	}
}

// simulateLegs replays opp's leg path at amountIn against the latest cached
// snapshots. It returns the final output amount, the terminal pools'
// quote-side reserves (the entry leg's input reserve and the exit leg's
// output reserve, spec §4.6 check 3), and the worst two per-leg price
// impacts across the whole path (spec §4.6 check 4), so both the Qualifier
// and the RiskGate's sized re-evaluation can be fed real numbers instead of
// the detector's unsized candidate.
func (o *Orchestrator) simulateLegs(opp domain.Opportunity, amountIn *big.Int, now time.Time) (amountOut, reserveQuoteA, reserveQuoteB *big.Int, impactLeg1, impactLeg2 float64, err error) {
	if len(opp.Legs) == 0 {
		return nil, nil, nil, 0, 0, apperror.New(apperror.CodeInvalidInput, apperror.WithContext("simulateLegs: opportunity has no legs"))
	}

	impacts := make([]float64, 0, len(opp.Legs))
	amount := amountIn

	for i, leg := range opp.Legs {
		pair, ok := o.pairIndex[pairLookupKey(leg.Venue, leg.TokenIn, leg.TokenOut)]
		if !ok {
			return nil, nil, nil, 0, 0, apperror.New(apperror.CodeNotFound, apperror.WithContext("simulateLegs: no cached pair for leg on "+leg.Venue))
		}

		snap, ok := o.cache.Snapshot(pair.ID(), now, o.cfg.Feed.CacheTTL, o.cfg.Detection.MaxBlockSkew)
		if !ok || !snap.IsUsable() {
			return nil, nil, nil, 0, 0, apperror.New(apperror.CodeStaleData, apperror.WithContext("simulateLegs: no usable snapshot for "+pair.ID()))
		}

		reserveIn, reserveOut := snap.Reserve1, snap.Reserve0
		if leg.TokenIn == pair.Token0.Address() {
			reserveIn, reserveOut = snap.Reserve0, snap.Reserve1
		}

		impact, err := domain.PriceImpact(amount, reserveIn, reserveOut, pair.Venue.FeeNum, pair.Venue.FeeDen)
		if err != nil {
			return nil, nil, nil, 0, 0, err
		}
		impacts = append(impacts, impact.InexactFloat64())

		out, err := domain.GetAmountOut(amount, reserveIn, reserveOut, pair.Venue.FeeNum, pair.Venue.FeeDen)
		if err != nil {
			return nil, nil, nil, 0, 0, err
		}

		if i == 0 {
			reserveQuoteA = reserveIn
		}
		if i == len(opp.Legs)-1 {
			reserveQuoteB = reserveOut
		}
		amount = out
	}

	impactLeg1, impactLeg2 = worstTwoImpacts(impacts)
	return amount, reserveQuoteA, reserveQuoteB, impactLeg1, impactLeg2, nil
}

// worstTwoImpacts returns the two largest price-impact values in impacts,
// generalizing the Qualifier/RiskGate's two-leg-shaped parameters to
// triangular (3-leg) candidates: the single impact repeats for a one-leg
// path and is never reached in practice (every opportunity has >= 2 legs).
func worstTwoImpacts(impacts []float64) (float64, float64) {
	if len(impacts) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), impacts...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	if len(sorted) == 1 {
		return sorted[0], sorted[0]
	}
	return sorted[0], sorted[1]
}

// pairLookupKey reproduces domain.Pair.ID()'s key format from a leg's venue
// and token addresses, ordering them ascending by byte address the same way
// domain.OrderTokens does, so a leg (oriented in trade direction) always
// resolves to the same cached *domain.Pair regardless of which way it trades.
func pairLookupKey(venue string, a, b common.Address) string {
	t0, t1 := a, b
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		t0, t1 = b, a
	}
	return venue + ":" + t0.Hex() + ":" + t1.Hex()
}

// recordPrices feeds the Recorder one price_history observation per
// currently-fresh pair snapshot, gated on cfg.Store.PriceHistoryOn.
func (o *Orchestrator) recordPrices(blockNumber uint64) {
	ttl := o.cfg.Feed.CacheTTL
	maxSkew := o.cfg.Detection.MaxBlockSkew
	now := time.Now()
	for _, group := range o.groups {
		for _, pair := range group.Pairs {
			snap, ok := o.cache.Snapshot(pair.ID(), now, ttl, maxSkew)
			if !ok {
				continue
			}
			pairLabel := group.Token0.Symbol() + "/" + group.Token1.Symbol()
			o.recorder.RecordPrice(pairLabel, pair.Venue.Name, snap.Reserve0, snap.Reserve1, snap.BlockNumber, snap.ObservedAt)
		}
	}
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += ";"
		}
		out += r
	}
	return out
}

func parsePositionAmount(s string) *big.Int {
	if v, ok := parseDecimalBig(s); ok {
		return v
	}
	return new(big.Int).Lsh(big.NewInt(1), 64) // generous fallback if unconfigured
}
