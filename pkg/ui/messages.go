// Package ui provides the Bubble Tea TUI for the opportunity engine.
package ui

import (
	"time"

	"github.com/kunalmkv/arbflux/business/amm/domain"
)

// Message types for TUI updates.

// OpportunityMsg is sent when a detected opportunity is qualified, rejected,
// or risk-gated.
type OpportunityMsg struct {
	Opportunity domain.Opportunity
}

// PriceUpdateMsg is sent when a cross-venue spot price comparison refreshes.
type PriceUpdateMsg struct {
	PairLabel   string
	VenueA      string
	VenueB      string
	PriceA      float64
	PriceB      float64
	SpreadBps   float64
}

// ConnectionStatusMsg is sent when an RPC endpoint's health changes.
type ConnectionStatusMsg struct {
	Name      string
	Connected bool
	Latency   time.Duration
}

// BlockMsg is sent when a new block is observed by PriceFeed.
type BlockMsg struct {
	Number    uint64
	Timestamp time.Time
}

// GasPriceMsg is sent when the current gas price is refreshed.
type GasPriceMsg struct {
	GweiPrice float64
}

// ErrorMsg is sent when an error occurs.
type ErrorMsg struct {
	Error error
}

// TickMsg is sent periodically for UI animation.
type TickMsg struct{}

// WelcomeCompleteMsg signals the welcome screen is done (timeout or keypress).
type WelcomeCompleteMsg struct{}

// StartModulesMsg signals that modules should start loading.
type StartModulesMsg struct{}

// LogMsg is sent to display a log message in the UI.
type LogMsg struct {
	Level   string // "info", "warn", "error"
	Message string
}

// StartupMsg is sent during application startup to show progress.
type StartupMsg struct {
	Step    string // Current step name
	Status  string // "connecting", "connected", "failed"
	Message string // Optional message
}

// PortfolioMsg is sent when the portfolio's equity/exposure snapshot changes.
type PortfolioMsg struct {
	EquityUSD   float64
	ExposureUSD float64
	DailyPnLUSD float64
}
