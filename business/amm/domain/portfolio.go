package domain

import (
	"math/big"
	"sync"
	"time"
)

// PortfolioSnapshot is an immutable view of PortfolioState handed to
// readers; mutating it has no effect on the live state.
type PortfolioSnapshot struct {
	ExposureByVenue map[string]*big.Int
	DailyPnL        *big.Int
	PeakEquity      *big.Int
	Equity          *big.Int
	ActivePositions int
	DailyResetAt    time.Time
}

// PortfolioState is the process-wide, single-writer record of simulated
// exposure, P&L and positions. Only RiskGate and the simulator write to
// it; every other reader gets an immutable PortfolioSnapshot.
type PortfolioState struct {
	mu              sync.RWMutex
	exposureByVenue map[string]*big.Int
	dailyPnL        *big.Int
	peakEquity      *big.Int
	equity          *big.Int
	activePositions int
	dailyResetAt    time.Time
}

// NewPortfolioState creates a PortfolioState with the given starting equity
// and the first daily-reset boundary.
func NewPortfolioState(startingEquity *big.Int, dailyResetAt time.Time) *PortfolioState {
	return &PortfolioState{
		exposureByVenue: make(map[string]*big.Int),
		dailyPnL:        big.NewInt(0),
		peakEquity:      new(big.Int).Set(startingEquity),
		equity:          new(big.Int).Set(startingEquity),
		dailyResetAt:    dailyResetAt,
	}
}

// Snapshot returns an immutable copy of the current state.
func (p *PortfolioState) Snapshot() PortfolioSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	exposures := make(map[string]*big.Int, len(p.exposureByVenue))
	for venue, amt := range p.exposureByVenue {
		exposures[venue] = new(big.Int).Set(amt)
	}
	return PortfolioSnapshot{
		ExposureByVenue: exposures,
		DailyPnL:        new(big.Int).Set(p.dailyPnL),
		PeakEquity:      new(big.Int).Set(p.peakEquity),
		Equity:          new(big.Int).Set(p.equity),
		ActivePositions: p.activePositions,
		DailyResetAt:    p.dailyResetAt,
	}
}

// OpenPosition records a new simulated position's exposure on venue and
// increments the active position count.
func (p *PortfolioState) OpenPosition(venue string, sized *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.exposureByVenue[venue]
	if !ok {
		cur = big.NewInt(0)
	}
	p.exposureByVenue[venue] = new(big.Int).Add(cur, sized)
	p.activePositions++
}

// ClosePosition releases exposure on venue and decrements active position
// count, applying the realized P&L (positive profit, negative loss) to
// equity and daily P&L, updating peak equity if a new high was reached.
func (p *PortfolioState) ClosePosition(venue string, sized *big.Int, realizedPnL *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.exposureByVenue[venue]; ok {
		remaining := new(big.Int).Sub(cur, sized)
		if remaining.Sign() < 0 {
			remaining = big.NewInt(0)
		}
		p.exposureByVenue[venue] = remaining
	}
	if p.activePositions > 0 {
		p.activePositions--
	}
	p.dailyPnL.Add(p.dailyPnL, realizedPnL)
	p.equity.Add(p.equity, realizedPnL)
	if p.equity.Cmp(p.peakEquity) > 0 {
		p.peakEquity.Set(p.equity)
	}
}

// ResetDaily zeroes the daily P&L counter and advances the reset boundary,
// called when the configured wall-clock reset time has passed.
func (p *PortfolioState) ResetDaily(nextResetAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dailyPnL = big.NewInt(0)
	p.dailyResetAt = nextResetAt
}

// TotalExposure sums exposure across all venues.
func (s PortfolioSnapshot) TotalExposure() *big.Int {
	total := big.NewInt(0)
	for _, v := range s.ExposureByVenue {
		total.Add(total, v)
	}
	return total
}

// Drawdown returns (peak - equity) / peak as a float64, 0 if peak is zero.
func (s PortfolioSnapshot) Drawdown() float64 {
	if s.PeakEquity.Sign() == 0 {
		return 0
	}
	diff := new(big.Int).Sub(s.PeakEquity, s.Equity)
	if diff.Sign() <= 0 {
		return 0
	}
	diffF := new(big.Float).SetInt(diff)
	peakF := new(big.Float).SetInt(s.PeakEquity)
	ratio, _ := new(big.Float).Quo(diffF, peakF).Float64()
	return ratio
}
