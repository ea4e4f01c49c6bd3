package app

import (
	"context"

	"github.com/kunalmkv/arbflux/business/amm/domain"
)

// MultiSink fans a single emission out to every wrapped Sink, in order.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks into one. Nil sinks are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Emit implements Sink, forwarding opp to every wrapped sink in order.
func (m *MultiSink) Emit(ctx context.Context, opp domain.Opportunity) {
	for _, s := range m.sinks {
		s.Emit(ctx, opp)
	}
}
