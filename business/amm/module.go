// Package amm implements the opportunity-engine bounded context: RpcPool,
// PairCache, PriceFeed, Detector, Qualifier, RiskGate and Orchestrator
// wired together behind a single public Orchestrator service.
package amm

import (
	"context"
	"math/big"
	"time"

	"github.com/kunalmkv/arbflux/business/amm/app"
	ammDI "github.com/kunalmkv/arbflux/business/amm/di"
	"github.com/kunalmkv/arbflux/business/amm/domain"
	"github.com/kunalmkv/arbflux/business/amm/infra/httpapi"
	"github.com/kunalmkv/arbflux/business/amm/infra/store"
	"github.com/kunalmkv/arbflux/internal/config"
	"github.com/kunalmkv/arbflux/internal/di"
	"github.com/kunalmkv/arbflux/internal/httpclient"
	"github.com/kunalmkv/arbflux/internal/logger"
	"github.com/kunalmkv/arbflux/internal/monolith"
)

// Module implements the amm bounded context. ExtraSink, if set before
// RegisterServices runs, receives every emission alongside the opportunity
// store (e.g. the TUI's live feed).
type Module struct {
	ExtraSink app.Sink
}

// RegisterServices registers the opportunity store sink, the process-wide
// PortfolioState, and the Orchestrator with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, ammDI.OpportunitySink, func(sr di.ServiceRegistry) *store.Store {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		client, err := httpclient.NewInstrumentedClient(
			httpclient.WithProviderName("amm-store"),
			httpclient.WithRequestTimeout(10*time.Second),
		)
		if err != nil {
			panic("failed to create amm store http client: " + err.Error())
		}
		return store.New(client, cfg.Store, log)
	})

	di.RegisterToken(c, ammDI.PortfolioState, func(sr di.ServiceRegistry) *domain.PortfolioState {
		cfg := sr.Get("config").(*config.Config)
		startingEquity, ok := new(big.Int).SetString(cfg.RiskGate.AvailableCapital, 10)
		if !ok {
			startingEquity = big.NewInt(0)
		}
		return domain.NewPortfolioState(startingEquity, nextDailyReset(cfg.RiskGate.DailyResetAt))
	})

	di.RegisterToken(c, ammDI.OpportunityIndex, func(sr di.ServiceRegistry) *httpapi.Index {
		return httpapi.NewIndex(1000, 1000)
	})

	di.RegisterToken(c, ammDI.Orchestrator, func(sr di.ServiceRegistry) *app.Orchestrator {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		index := ammDI.GetOpportunityIndex(sr)
		opportunityStore := ammDI.GetOpportunitySink(sr)
		sink := app.Sink(app.NewMultiSink(opportunityStore, index, m.ExtraSink))
		portfolio := ammDI.GetPortfolioState(sr)
		orch := app.New(cfg, portfolio, sink, log)
		orch.SetRecorder(index)
		opportunityStore.SetEscalationHandler(orch.ForceShutdown)
		return orch
	})

	di.RegisterToken(c, ammDI.HTTPAPIServer, func(sr di.ServiceRegistry) *httpapi.Server {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		index := ammDI.GetOpportunityIndex(sr)
		orch := ammDI.GetOrchestrator(sr)
		addr := cfg.HTTPAPI.ListenAddr
		if addr == "" {
			addr = ":8090"
		}
		return httpapi.NewServer(addr, index, orch.Pool, log)
	})

	return nil
}

// Startup starts the Orchestrator's Stopped -> Starting -> Running
// transition (spec §4.8).
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	orch := ammDI.GetOrchestrator(mono.Services())

	if err := orch.Start(ctx); err != nil {
		log.Error(ctx, "amm module failed to start orchestrator", "error", err)
		return err
	}

	apiServer := ammDI.GetHTTPAPIServer(mono.Services())
	if err := apiServer.Start(); err != nil {
		log.Warn(ctx, "amm http api server failed to start", "error", err)
	} else {
		log.Info(ctx, "amm http api server started")
	}

	log.Info(ctx, "amm module started")
	return nil
}

func nextDailyReset(hhmm string) time.Time {
	now := time.Now().UTC()
	hour, minute := 0, 0
	if hhmm != "" {
		var parsed time.Time
		if t, err := time.Parse("15:04", hhmm); err == nil {
			parsed = t
			hour, minute = parsed.Hour(), parsed.Minute()
		}
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
