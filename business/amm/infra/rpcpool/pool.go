// Package rpcpool implements RpcPool (spec §4.2): a multi-endpoint JSON-RPC
// transport with retry, failover and batched contract reads, exposing an
// awaitable, sequentially-consistent interface to a single active endpoint
// while performing concurrent I/O internally.
package rpcpool

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/kunalmkv/arbflux/internal/apperror"
	"github.com/kunalmkv/arbflux/internal/circuitbreaker"
	"github.com/kunalmkv/arbflux/internal/config"
	"github.com/kunalmkv/arbflux/internal/logger"
)

// EndpointStatus reports one endpoint's health, surfaced by the httpapi
// package's /health JSON (spec §6).
type EndpointStatus struct {
	URL                string
	Active             bool
	ConsecutiveFailures int
	LastError          string
}

type endpoint struct {
	cfg    config.EndpointConfig
	client *ethclient.Client
	rpc    *rpc.Client
	cb     *circuitbreaker.CircuitBreaker[any]

	mu                  sync.Mutex
	consecutiveFailures int
	lastError           string
}

// Pool is RpcPool: an ordered list of endpoints with one active member at a
// time, failover on repeated consecutive failure, and batched reads.
type Pool struct {
	mu                sync.RWMutex
	endpoints         []*endpoint
	activeIdx         int
	lastRotate        time.Time
	failoverThreshold int
	cooldownPeriod    time.Duration

	factoryABI abi.ABI
	pairABI    abi.ABI

	logger logger.LoggerInterface
}

// New dials every configured endpoint and returns a Pool with the first
// endpoint active. Dial failures on individual endpoints are tolerated (they
// start in a failed state and are rotated past); only a wholly empty or
// all-failing endpoint list is an error.
func New(endpoints []config.EndpointConfig, failoverThreshold int, cooldownPeriod time.Duration, log logger.LoggerInterface) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, apperror.New(apperror.CodeInvalidInput, apperror.WithContext("rpcpool: at least one endpoint is required"))
	}

	factoryABI, err := abi.JSON(strings.NewReader(FactoryABI))
	if err != nil {
		return nil, fmt.Errorf("rpcpool: parse factory abi: %w", err)
	}
	pairABI, err := abi.JSON(strings.NewReader(PairABI))
	if err != nil {
		return nil, fmt.Errorf("rpcpool: parse pair abi: %w", err)
	}

	p := &Pool{
		failoverThreshold: failoverThreshold,
		cooldownPeriod:    cooldownPeriod,
		factoryABI:        factoryABI,
		pairABI:           pairABI,
		logger:            log,
	}

	var lastDialErr error
	for _, cfg := range endpoints {
		ep := &endpoint{cfg: cfg, cb: circuitbreaker.New[any](circuitbreaker.DefaultConfig("rpcpool:" + cfg.URL))}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err := ethclient.DialContext(ctx, cfg.URL)
		cancel()
		if err != nil {
			lastDialErr = err
			ep.lastError = err.Error()
			ep.consecutiveFailures = failoverThreshold
			log.Warn(context.Background(), "rpcpool: endpoint dial failed at startup", "url", cfg.URL, "error", err)
		} else {
			ep.client = client
			ep.rpc = client.Client()
		}
		p.endpoints = append(p.endpoints, ep)
	}

	if p.activeEndpoint().client == nil {
		if ok := p.advanceToHealthy(); !ok {
			return nil, apperror.New(apperror.CodeEndpointExhausted,
				apperror.WithCause(lastDialErr),
				apperror.WithContext("rpcpool: no endpoint could be dialed at startup"))
		}
	}

	return p, nil
}

func (p *Pool) activeEndpoint() *endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.endpoints[p.activeIdx]
}

// advanceToHealthy scans from the current active index for a dialed
// endpoint, wrapping once; returns false if none is usable.
func (p *Pool) advanceToHealthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.endpoints)
	for i := 0; i < n; i++ {
		idx := (p.activeIdx + i) % n
		if p.endpoints[idx].client != nil {
			p.activeIdx = idx
			return true
		}
	}
	return false
}

// rotate advances to the next endpoint, rate-limited by cooldownPeriod to
// avoid thrashing between two flaky endpoints.
func (p *Pool) rotate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.lastRotate) < p.cooldownPeriod {
		return
	}
	p.activeIdx = (p.activeIdx + 1) % len(p.endpoints)
	p.lastRotate = time.Now()
	p.logger.Warn(context.Background(), "rpcpool: rotated active endpoint", "new_url", p.endpoints[p.activeIdx].cfg.URL)
}

// Statuses reports the health of every configured endpoint (for /health).
func (p *Pool) Statuses() []EndpointStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]EndpointStatus, len(p.endpoints))
	for i, ep := range p.endpoints {
		ep.mu.Lock()
		out[i] = EndpointStatus{
			URL:                 ep.cfg.URL,
			Active:              i == p.activeIdx,
			ConsecutiveFailures: ep.consecutiveFailures,
			LastError:           ep.lastError,
		}
		ep.mu.Unlock()
	}
	return out
}

// ActiveIndex returns the index of the currently active endpoint.
func (p *Pool) ActiveIndex() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.activeIdx
}

// call executes operation against the active endpoint, retrying with
// failover up to maxAttempts (default: number of endpoints), each attempt
// bounded by the active endpoint's configured timeout.
func (p *Pool) call(ctx context.Context, operation func(ctx context.Context, client *ethclient.Client) (any, error)) (any, error) {
	maxAttempts := len(p.endpoints)
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		ep := p.activeEndpoint()
		if ep.client == nil {
			if !p.advanceToHealthy() {
				return nil, apperror.New(apperror.CodeEndpointExhausted, apperror.WithContext("rpcpool: no dialed endpoint available"))
			}
			continue
		}

		timeout := ep.cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := ep.cb.Execute(func() (any, error) {
			return operation(callCtx, ep.client)
		})
		cancel()

		if err == nil {
			ep.mu.Lock()
			ep.consecutiveFailures = 0
			ep.lastError = ""
			ep.mu.Unlock()
			return result, nil
		}

		lastErr = err
		code := classifyTransportError(callCtx, err)
		ep.mu.Lock()
		ep.consecutiveFailures++
		ep.lastError = err.Error()
		failures := ep.consecutiveFailures
		ep.mu.Unlock()

		p.logger.Warn(ctx, "rpcpool: call failed", "url", ep.cfg.URL, "attempt", attempt, "code", code, "error", err)

		if failures >= p.failoverThreshold {
			p.rotate()
		}
	}

	return nil, apperror.New(apperror.CodeEndpointExhausted, apperror.WithCause(lastErr), apperror.WithContext("rpcpool: all attempts exhausted"))
}

func classifyTransportError(ctx context.Context, err error) apperror.Code {
	if ctx.Err() != nil {
		return apperror.CodeTransportTimeout
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") {
		return apperror.CodeTransportRefused
	}
	return apperror.CodeTransportMalformed
}

// GetBlockNumber is a thin call wrapper; inherits failover.
func (p *Pool) GetBlockNumber(ctx context.Context) (uint64, error) {
	result, err := p.call(ctx, func(ctx context.Context, client *ethclient.Client) (any, error) {
		return client.BlockNumber(ctx)
	})
	if err != nil {
		return 0, err
	}
	return result.(uint64), nil
}

// GetGasPrice is a thin call wrapper; inherits failover.
func (p *Pool) GetGasPrice(ctx context.Context) (*big.Int, error) {
	result, err := p.call(ctx, func(ctx context.Context, client *ethclient.Client) (any, error) {
		return client.SuggestGasPrice(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*big.Int), nil
}

// GetPairAddress calls the venue factory's getPair(token0, token1) and
// returns the resolved pool address, which is the zero address if none
// exists (PairCache's NoPair negative-lookup case, §4.3).
func (p *Pool) GetPairAddress(ctx context.Context, factory common.Address, token0, token1 common.Address) (common.Address, error) {
	calldata, err := p.factoryABI.Pack("getPair", token0, token1)
	if err != nil {
		return common.Address{}, fmt.Errorf("rpcpool: pack getPair: %w", err)
	}

	result, err := p.call(ctx, func(ctx context.Context, client *ethclient.Client) (any, error) {
		return client.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: calldata}, nil)
	})
	if err != nil {
		return common.Address{}, err
	}

	outputs, err := p.factoryABI.Unpack("getPair", result.([]byte))
	if err != nil {
		return common.Address{}, fmt.Errorf("rpcpool: unpack getPair: %w", err)
	}
	return outputs[0].(common.Address), nil
}

// ReserveResult is one item of a batched getReserves call.
type ReserveResult struct {
	PairAddress common.Address
	Reserves    ReservesResult
	Err         error
}

// BatchGetReserves fetches getReserves for every pair address at
// blockNumber in one JSON-RPC batch round-trip where the active endpoint's
// client supports it; on batch failure it falls back to concurrent
// per-pair calls so a single bad request does not fail the whole group
// (spec §4.2: "the surrounding call does not itself fail unless all
// sub-calls fail"). Result order matches addrs order.
func (p *Pool) BatchGetReserves(ctx context.Context, addrs []common.Address, blockNumber uint64) ([]ReserveResult, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	ep := p.activeEndpoint()
	if ep.client == nil || ep.rpc == nil {
		return p.fallbackGetReserves(ctx, addrs, blockNumber)
	}

	calldata, err := p.pairABI.Pack("getReserves")
	if err != nil {
		return nil, fmt.Errorf("rpcpool: pack getReserves: %w", err)
	}
	blockArg := toBlockNumArg(blockNumber)

	elems := make([]rpc.BatchElem, len(addrs))
	raws := make([]hexutil.Bytes, len(addrs))
	for i, addr := range addrs {
		callMsg := map[string]interface{}{
			"to":   addr,
			"data": hexutil.Bytes(calldata),
		}
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []interface{}{callMsg, blockArg},
			Result: &raws[i],
		}
	}

	if err := ep.rpc.BatchCallContext(ctx, elems); err != nil {
		p.logger.Warn(ctx, "rpcpool: batch call unsupported or failed, falling back to per-pair", "url", ep.cfg.URL, "error", err)
		return p.fallbackGetReserves(ctx, addrs, blockNumber)
	}

	results := make([]ReserveResult, len(addrs))
	allFailed := true
	for i, elem := range elems {
		results[i] = ReserveResult{PairAddress: addrs[i]}
		if elem.Error != nil {
			results[i].Err = elem.Error
			continue
		}
		reserves, err := p.decodeReserves([]byte(raws[i]))
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Reserves = reserves
		allFailed = false
	}
	if allFailed {
		return results, apperror.New(apperror.CodeTransportMalformed, apperror.WithContext("rpcpool: every sub-call in the batch failed"))
	}
	return results, nil
}

func (p *Pool) fallbackGetReserves(ctx context.Context, addrs []common.Address, blockNumber uint64) ([]ReserveResult, error) {
	results := make([]ReserveResult, len(addrs))
	var wg sync.WaitGroup
	var failedCount int32
	var mu sync.Mutex

	for i, addr := range addrs {
		wg.Add(1)
		go func(i int, addr common.Address) {
			defer wg.Done()
			reserves, err := p.getReservesSingle(ctx, addr, blockNumber)
			mu.Lock()
			results[i] = ReserveResult{PairAddress: addr, Reserves: reserves, Err: err}
			if err != nil {
				failedCount++
			}
			mu.Unlock()
		}(i, addr)
	}
	wg.Wait()

	if int(failedCount) == len(addrs) {
		return results, apperror.New(apperror.CodeTransportMalformed, apperror.WithContext("rpcpool: every sub-call in the fallback batch failed"))
	}
	return results, nil
}

func (p *Pool) getReservesSingle(ctx context.Context, pairAddr common.Address, blockNumber uint64) (ReservesResult, error) {
	calldata, err := p.pairABI.Pack("getReserves")
	if err != nil {
		return ReservesResult{}, fmt.Errorf("rpcpool: pack getReserves: %w", err)
	}
	blockArg := new(big.Int).SetUint64(blockNumber)

	result, err := p.call(ctx, func(ctx context.Context, client *ethclient.Client) (any, error) {
		return client.CallContract(ctx, ethereum.CallMsg{To: &pairAddr, Data: calldata}, blockArg)
	})
	if err != nil {
		return ReservesResult{}, err
	}
	return p.decodeReserves(result.([]byte))
}

func (p *Pool) decodeReserves(raw []byte) (ReservesResult, error) {
	outputs, err := p.pairABI.Unpack("getReserves", raw)
	if err != nil {
		return ReservesResult{}, fmt.Errorf("rpcpool: unpack getReserves: %w", err)
	}
	if len(outputs) < 3 {
		return ReservesResult{}, apperror.New(apperror.CodeTransportMalformed, apperror.WithContext("rpcpool: getReserves returned too few outputs"))
	}
	return ReservesResult{
		Reserve0:           outputs[0].(*big.Int),
		Reserve1:           outputs[1].(*big.Int),
		BlockTimestampLast: outputs[2].(uint32),
	}, nil
}

func toBlockNumArg(blockNumber uint64) string {
	return hexutil.EncodeUint64(blockNumber)
}

// BlockHandler receives new block headers from SubscribeBlocks; it must be
// idempotent and tolerant of gaps (spec §4.2).
type BlockHandler func(ctx context.Context, header *types.Header)

// SubscribeBlocks delivers new block headers to handler for as long as ctx
// is alive, transparently resubscribing (and rotating endpoints) on
// transport drop. Handlers run synchronously on the subscription goroutine.
//
// The parameter is spelled out as a plain function type, not BlockHandler,
// so *Pool satisfies consumers (e.g. pricefeed's subscriber port) that
// declare the same unnamed signature without importing this package.
func (p *Pool) SubscribeBlocks(ctx context.Context, handler func(ctx context.Context, header *types.Header)) {
	go p.runSubscriptionLoop(ctx, handler)
}

func (p *Pool) runSubscriptionLoop(ctx context.Context, handler BlockHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ep := p.activeEndpoint()
		if ep.client == nil {
			if !p.advanceToHealthy() {
				p.logger.Error(ctx, "rpcpool: no healthy endpoint for block subscription, retrying", "after", p.cooldownPeriod)
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.cooldownPeriod):
				}
				continue
			}
			ep = p.activeEndpoint()
		}

		headers := make(chan *types.Header, 16)
		sub, err := ep.client.SubscribeNewHead(ctx, headers)
		if err != nil {
			p.logger.Warn(ctx, "rpcpool: subscribe new head failed, rotating", "url", ep.cfg.URL, "error", err)
			p.rotate()
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		p.consumeHeaders(ctx, headers, sub, handler)
		sub.Unsubscribe()

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (p *Pool) consumeHeaders(ctx context.Context, headers <-chan *types.Header, sub ethereum.Subscription, handler BlockHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				p.logger.Warn(ctx, "rpcpool: block subscription dropped", "error", err)
			}
			return
		case header := <-headers:
			if header == nil {
				continue
			}
			handler(ctx, header)
		}
	}
}
