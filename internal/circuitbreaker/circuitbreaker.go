// Package circuitbreaker wraps sony/gobreaker/v2 in a generic type so every
// infra adapter gets the same construction and execution shape regardless
// of what type its protected operation returns.
package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// Config mirrors gobreaker.Settings with the fields adapters actually tune,
// plus the named constructor every call site uses.
type Config struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// ReadyToTrip decides, from the rolling Counts, whether the breaker
	// opens. Defaults to "5 consecutive failures" when nil.
	ReadyToTrip    func(counts gobreaker.Counts) bool
	OnStateChange  func(name string, from, to gobreaker.State)
	IsSuccessful   func(err error) bool
}

// DefaultConfig returns the breaker configuration used throughout the
// codebase: a 60s rolling window, half-open probes capped at 1, opening
// after 5 consecutive failures, and a 30s open-state timeout before
// probing again.
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

// CircuitBreaker guards a single kind of operation returning T.
type CircuitBreaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

// New builds a CircuitBreaker from Config.
func New[T any](cfg Config) *CircuitBreaker[T] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: cfg.ReadyToTrip,
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		}
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = cfg.OnStateChange
	}
	if cfg.IsSuccessful != nil {
		settings.IsSuccessful = cfg.IsSuccessful
	}
	return &CircuitBreaker[T]{cb: gobreaker.NewCircuitBreaker[T](settings)}
}

// Execute runs fn through the breaker: short-circuits with
// gobreaker.ErrOpenState while open, allows a single probe in half-open,
// and records the outcome either way.
func (c *CircuitBreaker[T]) Execute(fn func() (T, error)) (T, error) {
	return c.cb.Execute(fn)
}

// State returns the breaker's current state (Closed, Open, HalfOpen).
func (c *CircuitBreaker[T]) State() gobreaker.State {
	return c.cb.State()
}

// Counts returns the breaker's current rolling counters, useful for
// observability gauges.
func (c *CircuitBreaker[T]) Counts() gobreaker.Counts {
	return c.cb.Counts()
}
