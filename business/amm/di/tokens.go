// Package di contains dependency injection tokens for the amm bounded
// context: the opportunity engine.
package di

import (
	"github.com/kunalmkv/arbflux/business/amm/app"
	"github.com/kunalmkv/arbflux/business/amm/domain"
	"github.com/kunalmkv/arbflux/business/amm/infra/httpapi"
	"github.com/kunalmkv/arbflux/business/amm/infra/store"
	"github.com/kunalmkv/arbflux/internal/di"
)

// Public service tokens - exposed to other modules.
var (
	Orchestrator   = di.NewToken[*app.Orchestrator]("amm.Orchestrator")
	PortfolioState = di.NewToken[*domain.PortfolioState]("amm.PortfolioState")
	HTTPAPIServer  = di.NewToken[*httpapi.Server]("amm.HTTPAPIServer")
)

// Private dependency tokens - internal to the amm module.
var (
	OpportunitySink  = di.NewToken[*store.Store]("amm:opportunitySink")
	OpportunityIndex = di.NewToken[*httpapi.Index]("amm:opportunityIndex")
)

// GetOrchestrator resolves the public Orchestrator service.
func GetOrchestrator(c di.ServiceRegistry) *app.Orchestrator {
	return di.GetToken(c, Orchestrator)
}

// GetPortfolioState resolves the public PortfolioState service.
func GetPortfolioState(c di.ServiceRegistry) *domain.PortfolioState {
	return di.GetToken(c, PortfolioState)
}

// GetOpportunitySink resolves the private opportunity store sink.
func GetOpportunitySink(c di.ServiceRegistry) *store.Store {
	return di.GetToken(c, OpportunitySink)
}

// GetOpportunityIndex resolves the private in-memory read-API index.
func GetOpportunityIndex(c di.ServiceRegistry) *httpapi.Index {
	return di.GetToken(c, OpportunityIndex)
}

// GetHTTPAPIServer resolves the public read-only HTTP API server, so the
// entrypoint can shut it down gracefully alongside the health server.
func GetHTTPAPIServer(c di.ServiceRegistry) *httpapi.Server {
	return di.GetToken(c, HTTPAPIServer)
}
