package ui

import (
	"context"

	"github.com/kunalmkv/arbflux/business/amm/domain"
)

// Sink forwards every emitted Opportunity to the running TUI program as an
// OpportunityMsg, implementing app.Sink without pkg/ui depending on it.
type Sink struct{}

// NewSink creates a Sink bound to the package-level running Program.
func NewSink() Sink { return Sink{} }

// Emit implements app.Sink.
func (Sink) Emit(ctx context.Context, opp domain.Opportunity) {
	Send(OpportunityMsg{Opportunity: opp})
}
