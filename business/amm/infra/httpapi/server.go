package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/kunalmkv/arbflux/business/amm/domain"
	"github.com/kunalmkv/arbflux/business/amm/infra/rpcpool"
	"github.com/kunalmkv/arbflux/internal/logger"
)

// unhealthyAfter is how stale the last observed block may be before /health
// reports "unhealthy" (spec §7 default).
const unhealthyAfter = 30 * time.Second

// Server exposes the read-only opportunity/statistics/price/health API
// (spec §6) over plain net/http, mirroring internal/health's Start/Stop
// lifecycle.
type Server struct {
	addr   string
	index  *Index
	pool   func() *rpcpool.Pool
	logger logger.LoggerInterface
	server *http.Server
}

// NewServer binds a Server to addr (e.g. ":8090"), reading opportunities and
// statistics from index and endpoint health from whatever pool() currently
// returns (nil before the Orchestrator has dialed its RpcPool).
func NewServer(addr string, index *Index, pool func() *rpcpool.Pool, log logger.LoggerInterface) *Server {
	return &Server{addr: addr, index: index, pool: pool, logger: log}
}

// Start begins serving in the background. Bind failures are logged, not
// fatal, matching internal/health's posture that this endpoint is optional.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/opportunities", s.handleList)
	mux.HandleFunc("/opportunities/", s.handleGet)
	mux.HandleFunc("/statistics", s.handleStatistics)
	mux.HandleFunc("/prices", s.handlePrices)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error(context.Background(), "httpapi server stopped", "error", err)
			}
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// opportunityView is the wire shape for GET /opportunities and
// /opportunities/{id} (spec §6), string-encoding big.Int fields.
type opportunityView struct {
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
	BlockNumber      uint64   `json:"block_number"`
	Status           string   `json:"status"`
	Reason           string   `json:"reason,omitempty"`
	CreatedAt        string   `json:"created_at"`
	ExpiresAt        string   `json:"expires_at,omitempty"`
	QuoteToken       string   `json:"quote_token_symbol"`
}

func bigStr(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func toView(opp domain.Opportunity) opportunityView {
	return opportunityView{
		ID:               opp.ID,
		Kind:             opp.Kind.String(),
		VenuePath:        opp.VenuePath(),
		PairPath:         opp.PairPath(),
		TradeAmountIn:    bigStr(opp.TradeAmountIn),
		GrossProfitQuote: bigStr(opp.GrossProfitQuote),
		NetProfitQuote:   bigStr(opp.NetProfitQuote),
		GasCostQuote:     bigStr(opp.GasCostQuote),
		FeeCostQuote:     bigStr(opp.FeeCostQuote),
		Margin:           opp.Margin,
		BlockNumber:      opp.BlockNumber,
		Status:           opp.Status.String(),
		Reason:           opp.Reason,
		CreatedAt:        opp.CreatedAt.UTC().Format(time.RFC3339Nano),
		QuoteToken:       opp.QuoteTokenSymbol,
	}
}

// handleList serves GET /opportunities?limit=&kind=&min_profit=&from=&to=.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()

	filter := OpportunityFilter{Kind: q.Get("kind")}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("min_profit"); v != "" {
		if n, ok := new(big.Int).SetString(v, 10); ok {
			filter.MinProfit = n
		}
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = t
		}
	}

	records := s.index.List(filter)
	views := make([]opportunityView, 0, len(records))
	for _, rec := range records {
		views = append(views, toView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleGet serves GET /opportunities/{id}.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.URL.Path[len("/opportunities/"):]
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	opp, ok := s.index.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "opportunity not found")
		return
	}
	writeJSON(w, http.StatusOK, toView(opp))
}

// statisticsView is the GET /statistics payload (spec §6).
type statisticsView struct {
	UptimeSeconds       float64          `json:"uptime_seconds"`
	ByKind              map[string]int64 `json:"by_kind"`
	ByVenue             map[string]int64 `json:"by_venue"`
	CumulativeNetProfit string           `json:"cumulative_net_profit_quote"`
	LastBlockNumber     uint64           `json:"last_block_number"`
	LastBlockAt         string           `json:"last_block_at,omitempty"`
	TicksSkippedHighGas int64            `json:"ticks_skipped_high_gas"`
	Dropped             int64            `json:"dropped"`
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := s.index.Snapshot()
	view := statisticsView{
		UptimeSeconds:       time.Since(snap.StartedAt).Seconds(),
		ByKind:              snap.ByKind,
		ByVenue:             snap.ByVenue,
		CumulativeNetProfit: bigStr(snap.CumulativeNetProfit),
		LastBlockNumber:     snap.LastBlockNumber,
		TicksSkippedHighGas: snap.TicksSkippedHighGas,
		Dropped:             snap.Dropped,
	}
	if !snap.LastBlockAt.IsZero() {
		view.LastBlockAt = snap.LastBlockAt.UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, view)
}

// priceView is one entry of GET /prices.
type priceView struct {
	Pair        string `json:"pair"`
	Venue       string `json:"venue"`
	Reserve0    string `json:"reserve0"`
	Reserve1    string `json:"reserve1"`
	BlockNumber uint64 `json:"block_number"`
	ObservedAt  string `json:"observed_at"`
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	records := s.index.Prices(q.Get("pair"), q.Get("venue"), limit)
	views := make([]priceView, 0, len(records))
	for _, p := range records {
		views = append(views, priceView{
			Pair:        p.Pair,
			Venue:       p.Venue,
			Reserve0:    bigStr(p.Reserve0),
			Reserve1:    bigStr(p.Reserve1),
			BlockNumber: p.BlockNumber,
			ObservedAt:  p.ObservedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// healthView is the GET /health payload (spec §6/§7).
type healthView struct {
	Status          string   `json:"status"`
	LastBlockNumber uint64   `json:"last_block_number"`
	LastBlockAt     string   `json:"last_block_at,omitempty"`
	EndpointIndex   int      `json:"endpoint_index"`
	EndpointErrors  []string `json:"endpoint_errors"`
}

// handleHealth reports degraded when any endpoint has failed recently, and
// unhealthy when the last observed block is older than unhealthyAfter
// (spec §7).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.index.Snapshot()
	status := "healthy"

	var errs []string
	activeIdx := -1
	if pool := s.pool(); pool != nil {
		activeIdx = pool.ActiveIndex()
		for _, es := range pool.Statuses() {
			if es.ConsecutiveFailures > 0 {
				status = "degraded"
				errs = append(errs, fmt.Sprintf("%s: %s", es.URL, es.LastError))
			}
		}
	}
	if snap.LastBlockAt.IsZero() || time.Since(snap.LastBlockAt) > unhealthyAfter {
		status = "unhealthy"
	}

	view := healthView{
		Status:          status,
		LastBlockNumber: snap.LastBlockNumber,
		EndpointIndex:   activeIdx,
		EndpointErrors:  errs,
	}
	if !snap.LastBlockAt.IsZero() {
		view.LastBlockAt = snap.LastBlockAt.UTC().Format(time.RFC3339Nano)
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, view)
}
