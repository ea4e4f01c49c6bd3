// Package components provides reusable TUI components.
package components

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// OpportunityRow represents one detected opportunity in the list.
type OpportunityRow struct {
	BlockNumber   uint64
	Kind          string
	VenuePath     string
	PairPath      string
	TradeAmountIn string
	NetProfit     string
	Margin        float64
	Status        string
	Qualified     bool
}

// OpportunitiesComponent renders the opportunities list.
type OpportunitiesComponent struct {
	rows    []OpportunityRow
	maxRows int
	scroll  int
}

// NewOpportunitiesComponent creates a new opportunities component.
func NewOpportunitiesComponent(maxRows int) *OpportunitiesComponent {
	return &OpportunitiesComponent{
		rows:    make([]OpportunityRow, 0),
		maxRows: maxRows,
	}
}

// Add adds a new opportunity to the front of the list.
func (o *OpportunitiesComponent) Add(row OpportunityRow) {
	o.rows = append([]OpportunityRow{row}, o.rows...)
	if len(o.rows) > o.maxRows {
		o.rows = o.rows[:o.maxRows]
	}
}

// Clear clears all opportunities.
func (o *OpportunitiesComponent) Clear() {
	o.rows = make([]OpportunityRow, 0)
	o.scroll = 0
}

// ScrollUp moves the visible window toward newer rows.
func (o *OpportunitiesComponent) ScrollUp() {
	if o.scroll > 0 {
		o.scroll--
	}
}

// ScrollDown moves the visible window toward older rows.
func (o *OpportunitiesComponent) ScrollDown() {
	if o.scroll < len(o.rows)-1 {
		o.scroll++
	}
}

// View renders the opportunities component.
func (o *OpportunitiesComponent) View() string {
	if len(o.rows) == 0 {
		return "No opportunities detected yet..."
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	qualifiedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	rejectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))

	result := headerStyle.Render(fmt.Sprintf("OPPORTUNITIES (last %d)\n", o.maxRows))
	result += "┌─────────┬───────────┬──────────────────────┬──────────┬─────────┬────────────┐\n"
	result += "│  Block  │   Kind    │         Pair          │   Size   │ Margin  │   Status   │\n"
	result += "├─────────┼───────────┼──────────────────────┼──────────┼─────────┼────────────┤\n"

	visible := o.rows
	if o.scroll < len(o.rows) {
		visible = o.rows[o.scroll:]
	}
	shown := 0
	for _, row := range visible {
		if shown >= 15 {
			break
		}
		statusStyle := qualifiedStyle
		statusIcon := "✓"
		if !row.Qualified {
			statusStyle = rejectedStyle
			statusIcon = "✗"
		}

		result += fmt.Sprintf("│%8d │%10s │%22s │%9s │%7s │ %s %-9s│\n",
			row.BlockNumber,
			row.Kind,
			truncate(row.PairPath, 22),
			truncate(row.TradeAmountIn, 9),
			fmt.Sprintf("%.3f", row.Margin),
			statusIcon,
			statusStyle.Render(truncate(row.Status, 9)),
		)
		shown++
	}

	result += "└─────────┴───────────┴──────────────────────┴──────────┴─────────┴────────────┘"

	return result
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
