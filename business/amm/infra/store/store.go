// Package store implements the opportunity store writer and price-history
// sink: an idempotent-by-id HTTP forwarder with a bounded retry buffer so a
// downstream outage degrades gracefully instead of blocking detection.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/kunalmkv/arbflux/business/amm/domain"
	"github.com/kunalmkv/arbflux/internal/apperror"
	"github.com/kunalmkv/arbflux/internal/config"
	"github.com/kunalmkv/arbflux/internal/httpclient"
	"github.com/kunalmkv/arbflux/internal/logger"
)

// defaultOutageMax is the outage duration past which Store escalates to its
// EscalationHandler for a forced shutdown (spec §7).
const defaultOutageMax = 60 * time.Second

// record is the wire shape posted to the store endpoint; field names match
// spec §3's column list for the opportunity table.
type record struct {
	ID               string   `json:"id"`
	Kind             string   `json:"kind"`
	VenuePath        string   `json:"venue_path"`
	PairPath         string   `json:"pair_path"`
	TradeAmountIn    string   `json:"trade_amount_in"`
	GrossProfitQuote string   `json:"gross_profit_quote"`
	NetProfitQuote   string   `json:"net_profit_quote"`
	GasCostQuote     string   `json:"gas_cost_quote"`
	FeeCostQuote     string   `json:"fee_cost_quote"`
	Margin           float64  `json:"margin"`
	Status           string   `json:"status"`
	Reason           string   `json:"reason"`
	BlockNumber      uint64   `json:"block_number"`
	CreatedAt        string   `json:"created_at"`
	ExpiresAt        string   `json:"expires_at"`
}

func toRecord(opp domain.Opportunity) record {
	r := record{
		ID:          opp.ID,
		Kind:        opp.Kind.String(),
		VenuePath:   opp.VenuePath(),
		PairPath:    opp.PairPath(),
		Margin:      opp.Margin,
		Status:      opp.Status.String(),
		Reason:      opp.Reason,
		BlockNumber: opp.BlockNumber,
		CreatedAt:   opp.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !opp.ExpiresAt.IsZero() {
		r.ExpiresAt = opp.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	if opp.TradeAmountIn != nil {
		r.TradeAmountIn = opp.TradeAmountIn.String()
	}
	if opp.GrossProfitQuote != nil {
		r.GrossProfitQuote = opp.GrossProfitQuote.String()
	}
	if opp.NetProfitQuote != nil {
		r.NetProfitQuote = opp.NetProfitQuote.String()
	}
	if opp.GasCostQuote != nil {
		r.GasCostQuote = opp.GasCostQuote.String()
	}
	if opp.FeeCostQuote != nil {
		r.FeeCostQuote = opp.FeeCostQuote.String()
	}
	return r
}

// Store forwards opportunity records to an external sink over HTTP,
// buffering (dropping oldest on overflow) while the sink is unreachable.
type Store struct {
	client httpclient.Client
	cfg    config.StoreConfig
	logger logger.LoggerInterface

	mu          sync.Mutex
	buffer      []domain.Opportunity
	outageSince time.Time
	inOutage    bool
	escalated   bool
	onOutage    func(cause error)
}

// New creates a Store posting to cfg.Endpoint via client.
func New(client httpclient.Client, cfg config.StoreConfig, log logger.LoggerInterface) *Store {
	limit := cfg.BufferLimit
	if limit <= 0 {
		limit = 1000
	}
	cfg.BufferLimit = limit
	return &Store{client: client, cfg: cfg, logger: log}
}

// SetEscalationHandler attaches fn to be invoked, at most once per
// outage, once a buffered failure streak exceeds cfg.OutageMax. fn is
// called on its own goroutine so it can trigger a forced shutdown without
// blocking Store's write path.
func (s *Store) SetEscalationHandler(fn func(cause error)) {
	s.mu.Lock()
	s.onOutage = fn
	s.mu.Unlock()
}

// Emit implements app.Sink: writes synchronously, buffering on failure.
// Idempotency is the server's responsibility (upsert by id); Store never
// deduplicates locally.
func (s *Store) Emit(ctx context.Context, opp domain.Opportunity) {
	if s.cfg.Endpoint == "" {
		s.logger.Debug(ctx, "store: no endpoint configured, dropping record", "id", opp.ID)
		return
	}

	if err := s.write(ctx, opp); err != nil {
		s.logger.Warn(ctx, "store: write failed, buffering", "id", opp.ID, "error", err)
		s.enqueue(opp)
		return
	}

	s.mu.Lock()
	s.inOutage = false
	s.escalated = false
	s.mu.Unlock()
	s.drainBuffer(ctx)
}

func (s *Store) write(ctx context.Context, opp domain.Opportunity) error {
	_, err := s.client.NewRequest().SetBody(toRecord(opp)).Post(ctx, s.cfg.Endpoint)
	return err
}

func (s *Store) enqueue(opp domain.Opportunity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inOutage {
		s.inOutage = true
		s.outageSince = time.Now()
	}
	s.buffer = append(s.buffer, opp)
	if len(s.buffer) > s.cfg.BufferLimit {
		dropped := len(s.buffer) - s.cfg.BufferLimit
		s.buffer = s.buffer[dropped:]
	}

	outageMax := s.cfg.OutageMax
	if outageMax <= 0 {
		outageMax = defaultOutageMax
	}
	if time.Since(s.outageSince) > outageMax {
		s.logger.Error(context.Background(), "store: outage exceeded max, dropping oldest buffered record", "buffered", len(s.buffer))
		if len(s.buffer) > 0 {
			s.buffer = s.buffer[1:]
		}
		if s.onOutage != nil && !s.escalated {
			s.escalated = true
			handler := s.onOutage
			cause := apperror.New(apperror.CodeServiceUnavailable, apperror.WithContext("store: outage exceeded outage_max, escalating for forced shutdown"))
			go handler(cause)
		}
	}
}

// drainBuffer flushes buffered records after a successful write restores
// connectivity, stopping at the first renewed failure.
func (s *Store) drainBuffer(ctx context.Context) {
	s.mu.Lock()
	pending := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	for i, opp := range pending {
		if err := s.write(ctx, opp); err != nil {
			s.mu.Lock()
			s.buffer = append(pending[i:], s.buffer...)
			s.mu.Unlock()
			return
		}
	}
}
