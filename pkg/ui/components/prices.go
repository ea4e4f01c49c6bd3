// Package components provides reusable TUI components.
package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// PriceRow represents one cross-venue spot-price comparison for a pair.
type PriceRow struct {
	PairLabel string
	VenueA    string
	VenueB    string
	PriceA    float64
	PriceB    float64
	SpreadBps float64
}

// CostBreakdown holds the gas/fee cost accounting of the most recently
// emitted opportunity, copied from its quote-denominated fields; the
// component only renders it.
type CostBreakdown struct {
	TradeSize    string
	GrossProfit  float64
	GasCost      float64
	FeeCost      float64
	NetProfit    float64
	IsProfitable bool
}

// PricesComponent renders the cross-venue price comparison table.
type PricesComponent struct {
	rows          []PriceRow
	costBreakdown *CostBreakdown
}

// NewPricesComponent creates a new prices component.
func NewPricesComponent() *PricesComponent {
	return &PricesComponent{rows: make([]PriceRow, 0)}
}

// Update replaces the displayed price rows.
func (p *PricesComponent) Update(rows []PriceRow) {
	p.rows = rows
}

// SetCostBreakdown sets the latest cost breakdown for display.
func (p *PricesComponent) SetCostBreakdown(breakdown CostBreakdown) {
	p.costBreakdown = &breakdown
}

// View renders the prices component.
func (p *PricesComponent) View() string {
	if len(p.rows) == 0 {
		return "Waiting for price data..."
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	positiveStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	negativeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))

	var result string
	result = headerStyle.Render("CROSS-VENUE SPOT PRICES")
	result += "\n\n"

	result += fmt.Sprintf("  %-14s  %14s  %14s  %12s\n", "Pair", "Venue A", "Venue B", "Spread")
	result += dimStyle.Render("  " + strings.Repeat("─", 58)) + "\n"

	for _, row := range p.rows {
		spreadStyle := positiveStyle
		if row.SpreadBps < 0 {
			spreadStyle = negativeStyle
		}

		result += fmt.Sprintf("  %-14s  %14s  %14s  %s\n",
			row.PairLabel,
			fmt.Sprintf("%s %.6f", row.VenueA, row.PriceA),
			fmt.Sprintf("%s %.6f", row.VenueB, row.PriceB),
			spreadStyle.Render(fmt.Sprintf("%+.1f bps", row.SpreadBps)),
		)
	}

	result += "\n"
	result += dimStyle.Render("  " + strings.Repeat("─", 58)) + "\n"

	if p.costBreakdown != nil {
		cb := p.costBreakdown

		if cb.IsProfitable {
			result += headerStyle.Render("  BEST CANDIDATE") + "\n\n"
		} else {
			result += headerStyle.Render("  WHY NO OPPORTUNITY?") + "\n\n"
		}

		result += fmt.Sprintf("  Trade size: %s\n", dimStyle.Render(cb.TradeSize))
		result += fmt.Sprintf("  Gross profit: %s\n", warnStyle.Render(fmt.Sprintf("%.6f quote", cb.GrossProfit)))
		result += fmt.Sprintf("  Gas cost: %s\n", negativeStyle.Render(fmt.Sprintf("-%.6f quote", cb.GasCost)))
		result += fmt.Sprintf("  Fee cost: %s\n", negativeStyle.Render(fmt.Sprintf("-%.6f quote", cb.FeeCost)))

		if cb.IsProfitable {
			result += fmt.Sprintf("  Net profit: %s\n", positiveStyle.Render(fmt.Sprintf("+%.6f quote", cb.NetProfit)))
		} else {
			result += fmt.Sprintf("  Net profit: %s\n", negativeStyle.Render(fmt.Sprintf("%.6f quote", cb.NetProfit)))
		}
	} else {
		result += dimStyle.Render("  Waiting for cost analysis...") + "\n"
	}

	return result
}
