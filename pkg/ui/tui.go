// Package ui provides the Bubble Tea TUI for the opportunity engine.
package ui

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kunalmkv/arbflux/business/amm/domain"
	"github.com/kunalmkv/arbflux/pkg/ui/components"
)

// ConnectionInfo holds connection state and latency for one RPC endpoint.
type ConnectionInfo struct {
	Connected bool
	Latency   time.Duration
	LastSeen  time.Time
}

// StartupStep represents a step in the startup process.
type StartupStep struct {
	Name   string
	Status string // "pending", "connecting", "connected", "failed"
}

// Phase represents the current UI phase.
type Phase string

const (
	PhaseWelcome   Phase = "welcome"   // Initial welcome screen
	PhaseStartup   Phase = "startup"   // Loading/connecting
	PhaseDashboard Phase = "dashboard" // Main dashboard
)

// WelcomeDuration is how long the welcome screen shows before auto-advancing.
const WelcomeDuration = 2 * time.Second

// ErrorEntry represents an error with timestamp.
type ErrorEntry struct {
	Message   string
	Timestamp time.Time
}

// Model is the main Bubble Tea model for the TUI.
type Model struct {
	prices        *components.PricesComponent
	opportunities *components.OpportunitiesComponent

	phase        Phase
	welcomeStart time.Time

	ready           bool
	quitting        bool
	paused          bool
	width           int
	height          int
	currentBlock    uint64
	gasPrice        float64
	connectionState map[string]*ConnectionInfo
	lastUpdate      time.Time
	errorMsg        string
	errors          []ErrorEntry
	logs            []string

	startupComplete bool
	startupSteps    map[string]*StartupStep
	startupTime     time.Time

	scanCount    uint64
	pricesByPair map[string]components.PriceRow
	activityFeed []string
	lastScanTime time.Time

	equityUSD   float64
	exposureUSD float64
	dailyPnLUSD float64

	costBreakdown *components.CostBreakdown
}

// New creates a new TUI model.
func New() Model {
	now := time.Now()
	return Model{
		prices:          components.NewPricesComponent(),
		opportunities:   components.NewOpportunitiesComponent(50),
		phase:           PhaseWelcome,
		welcomeStart:    now,
		connectionState: make(map[string]*ConnectionInfo),
		logs:            make([]string, 0, 10),
		errors:          make([]ErrorEntry, 0, 3),
		pricesByPair:    make(map[string]components.PriceRow),
		activityFeed:    make([]string, 0, 8),
		startupSteps: map[string]*StartupStep{
			"config":    {Name: "Loading configuration", Status: "pending"},
			"rpcpool":   {Name: "Connecting to RPC endpoints", Status: "pending"},
			"paircache": {Name: "Resolving pair addresses", Status: "pending"},
			"pricefeed": {Name: "Starting price feed", Status: "pending"},
		},
		startupTime: now,
	}
}

// Init initializes the TUI model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg{}
	})
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		if m.phase == PhaseWelcome {
			m.phase = PhaseStartup
			m.startupTime = time.Now()
			if OnStartModules != nil {
				go OnStartModules()
			}
			return m, tickCmd()
		}
		switch msg.String() {
		case "c":
			m.opportunities.Clear()
			return m, nil
		case "p":
			m.paused = !m.paused
			return m, nil
		case "up", "k":
			m.opportunities.ScrollUp()
			return m, nil
		case "down", "j":
			m.opportunities.ScrollDown()
			return m, nil
		case "e":
			m.errors = make([]ErrorEntry, 0, 3)
			m.errorMsg = ""
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case TickMsg:
		if m.phase == PhaseWelcome && time.Since(m.welcomeStart) >= WelcomeDuration {
			m.phase = PhaseStartup
			m.startupTime = time.Now()
			if OnStartModules != nil {
				go OnStartModules()
			}
		}
		return m, tickCmd()

	case OpportunityMsg:
		opp := msg.Opportunity
		row := components.OpportunityRow{
			BlockNumber:   opp.BlockNumber,
			Kind:          opp.Kind.String(),
			VenuePath:     opp.VenuePath(),
			PairPath:      opp.PairPath(),
			TradeAmountIn: bigStringOrDash(opp.TradeAmountIn),
			NetProfit:     bigStringOrDash(opp.NetProfitQuote),
			Margin:        opp.Margin,
			Status:        opp.Status.String(),
			Qualified:     opp.Status == domain.Qualified || opp.Status == domain.SimulatedExecuted,
		}
		m.opportunities.Add(row)
		m.lastUpdate = time.Now()

		cb := components.CostBreakdown{
			TradeSize:    bigStringOrDash(opp.TradeAmountIn),
			GrossProfit:  bigFloatOrZero(opp.GrossProfitQuote),
			GasCost:      bigFloatOrZero(opp.GasCostQuote),
			FeeCost:      bigFloatOrZero(opp.FeeCostQuote),
			NetProfit:    bigFloatOrZero(opp.NetProfitQuote),
			IsProfitable: row.Qualified,
		}
		m.costBreakdown = &cb
		m.prices.SetCostBreakdown(cb)

	case PriceUpdateMsg:
		row := components.PriceRow{
			PairLabel: msg.PairLabel,
			VenueA:    msg.VenueA,
			VenueB:    msg.VenueB,
			PriceA:    msg.PriceA,
			PriceB:    msg.PriceB,
			SpreadBps: msg.SpreadBps,
		}
		m.pricesByPair[msg.PairLabel] = row

		rows := make([]components.PriceRow, 0, len(m.pricesByPair))
		for _, r := range m.pricesByPair {
			rows = append(rows, r)
		}
		m.prices.Update(rows)

		m.scanCount++
		m.lastScanTime = time.Now()
		m.lastUpdate = time.Now()

	case ConnectionStatusMsg:
		m.connectionState[msg.Name] = &ConnectionInfo{
			Connected: msg.Connected,
			Latency:   msg.Latency,
			LastSeen:  time.Now(),
		}
		m.lastUpdate = time.Now()

		if step, ok := m.startupSteps["rpcpool"]; ok {
			if msg.Connected {
				step.Status = "connected"
			} else {
				step.Status = "connecting"
			}
		}
		if m.startupSteps["config"] != nil {
			m.startupSteps["config"].Status = "done"
		}

	case BlockMsg:
		m.currentBlock = msg.Number
		m.lastUpdate = time.Now()
		m.activityFeed = addActivity(m.activityFeed, fmt.Sprintf("Block #%d received", msg.Number))
		if step, ok := m.startupSteps["pricefeed"]; ok {
			step.Status = "connected"
		}
		if step, ok := m.startupSteps["paircache"]; ok {
			step.Status = "done"
		}

	case GasPriceMsg:
		m.gasPrice = msg.GweiPrice
		m.lastUpdate = time.Now()

	case PortfolioMsg:
		m.equityUSD = msg.EquityUSD
		m.exposureUSD = msg.ExposureUSD
		m.dailyPnLUSD = msg.DailyPnLUSD
		m.lastUpdate = time.Now()

	case ErrorMsg:
		m.errorMsg = msg.Error.Error()
		m.logs = addLog(m.logs, "error", msg.Error.Error())
		m.errors = append(m.errors, ErrorEntry{Message: msg.Error.Error(), Timestamp: time.Now()})
		if len(m.errors) > 3 {
			m.errors = m.errors[len(m.errors)-3:]
		}

	case LogMsg:
		m.logs = addLog(m.logs, msg.Level, msg.Message)

	case StartupMsg:
		if step, ok := m.startupSteps[msg.Step]; ok {
			step.Status = msg.Status
		}
		allDone := true
		for _, step := range m.startupSteps {
			if step.Status != "connected" && step.Status != "done" {
				allDone = false
				break
			}
		}
		if allDone {
			m.startupComplete = true
		}
	}

	return m, nil
}

func bigStringOrDash(v *big.Int) string {
	if v == nil {
		return "-"
	}
	return v.String()
}

func bigFloatOrZero(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func addLog(logs []string, level, message string) []string {
	timestamp := time.Now().Format("15:04:05")
	logLine := fmt.Sprintf("[%s] %s: %s", timestamp, level, message)
	logs = append(logs, logLine)
	if len(logs) > 5 {
		logs = logs[len(logs)-5:]
	}
	return logs
}

func addActivity(feed []string, message string) []string {
	timestamp := time.Now().Format("15:04:05")
	line := fmt.Sprintf("[%s] %s", timestamp, message)
	feed = append(feed, line)
	if len(feed) > 6 {
		feed = feed[len(feed)-6:]
	}
	return feed
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "\n  Goodbye!\n\n"
	}

	switch m.phase {
	case PhaseWelcome:
		return m.renderWelcomeScreen()
	case PhaseStartup:
		if m.currentBlock == 0 && !m.startupComplete {
			return m.renderStartupScreen()
		}
		m.phase = PhaseDashboard
		fallthrough
	case PhaseDashboard:
	}

	var b strings.Builder

	title := TitleStyle.Render(" DEX ARBITRAGE OPPORTUNITY ENGINE ")
	b.WriteString(title)
	b.WriteString("\n\n")

	b.WriteString(m.renderStatusBar())
	b.WriteString("\n\n")

	leftCol := m.prices.View()

	var rightContent strings.Builder
	rightContent.WriteString(m.renderActivityFeed())
	rightContent.WriteString("\n\n")
	rightContent.WriteString(m.opportunities.View())
	rightCol := rightContent.String()

	if m.width > 100 {
		left := BoxStyle.Width(m.width/2 - 2).Render(leftCol)
		right := BoxStyle.Width(m.width/2 - 2).Render(rightCol)
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, right))
	} else {
		b.WriteString(BoxStyle.Width(m.width - 4).Render(leftCol))
		b.WriteString("\n")
		b.WriteString(BoxStyle.Width(m.width - 4).Render(rightCol))
	}

	b.WriteString("\n\n")

	if len(m.errors) > 0 {
		errorStyle := lipgloss.NewStyle().Foreground(ColorDanger)
		errorHeader := lipgloss.NewStyle().Bold(true).Foreground(ColorDanger)
		mutedError := lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))

		b.WriteString(errorHeader.Render("ERRORS"))
		b.WriteString(mutedError.Render(" (e: clear)"))
		b.WriteString("\n")
		for _, err := range m.errors {
			ago := time.Since(err.Timestamp).Round(time.Second)
			b.WriteString(errorStyle.Render(fmt.Sprintf("  • %s ", err.Message)))
			b.WriteString(mutedError.Render(fmt.Sprintf("(%s ago)", ago)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	helpText := "q: quit • c: clear • p: pause • ↑↓: scroll"
	if m.paused {
		pauseStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F59E0B"))
		b.WriteString(pauseStyle.Render("⏸ PAUSED"))
		b.WriteString(" • ")
	}
	b.WriteString(HelpStyle.Render(helpText))

	return b.String()
}

func (m Model) renderActivityFeed() string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	mutedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	blockStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA"))

	var sb strings.Builder
	sb.WriteString(headerStyle.Render("LIVE ACTIVITY"))
	sb.WriteString("\n\n")

	if len(m.activityFeed) == 0 {
		sb.WriteString(mutedStyle.Render("  Waiting for blocks..."))
	} else {
		for _, activity := range m.activityFeed {
			if strings.Contains(activity, "Block #") {
				sb.WriteString(blockStyle.Render("  " + activity))
			} else {
				sb.WriteString(mutedStyle.Render("  " + activity))
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func (m Model) renderWelcomeScreen() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	goldStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F59E0B"))
	mutedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	greenStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))

	elapsed := time.Since(m.welcomeStart)
	dotCount := int(elapsed.Milliseconds()/300) % 4
	dots := strings.Repeat(".", dotCount)

	var sb strings.Builder
	sb.WriteString("\n\n\n\n")

	logo := `
    ██████╗ ███████╗██╗  ██╗    ███████╗███╗   ██╗ ██████╗ ██╗███╗   ██╗███████╗
    ██╔══██╗██╔════╝╚██╗██╔╝    ██╔════╝████╗  ██║██╔════╝ ██║████╗  ██║██╔════╝
    ██║  ██║█████╗   ╚███╔╝     █████╗  ██╔██╗ ██║██║  ███╗██║██╔██╗ ██║█████╗
    ██║  ██║██╔══╝   ██╔██╗     ██╔══╝  ██║╚██╗██║██║   ██║██║██║╚██╗██║██╔══╝
    ██████╔╝███████╗██╔╝ ██╗    ███████╗██║ ╚████║╚██████╔╝██║██║ ╚████║███████╗
    ╚═════╝ ╚══════╝╚═╝  ╚═╝    ╚══════╝╚═╝  ╚═══╝ ╚═════╝ ╚═╝╚═╝  ╚═══╝╚══════╝
`
	sb.WriteString(titleStyle.Render(logo))
	sb.WriteString("\n")

	subtitle := "          A R B I T R A G E   O P P O R T U N I T Y   E N G I N E"
	sb.WriteString(mutedStyle.Render(subtitle))
	sb.WriteString("\n\n\n")

	tagline := "              constant-product AMM detection, read-only"
	sb.WriteString(goldStyle.Render(tagline))
	sb.WriteString("\n\n\n")

	loading := fmt.Sprintf("                  Initializing%s", dots)
	sb.WriteString(greenStyle.Render(loading))
	sb.WriteString("\n\n")

	hint := "            Press any key to skip, or wait..."
	sb.WriteString(mutedStyle.Render(hint))
	sb.WriteString("\n")

	return sb.String()
}

func (m Model) renderStartupScreen() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")).MarginBottom(1)
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))
	mutedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	successStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	connectingStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	failedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))

	var sb strings.Builder

	sb.WriteString("\n\n")
	sb.WriteString(titleStyle.Render("  DEX Arbitrage Opportunity Engine"))
	sb.WriteString("\n\n")
	sb.WriteString(headerStyle.Render("  Starting up..."))
	sb.WriteString("\n\n")

	stepOrder := []string{"config", "rpcpool", "paircache", "pricefeed"}
	for _, key := range stepOrder {
		step, ok := m.startupSteps[key]
		if !ok {
			continue
		}

		var icon, statusText string
		var style lipgloss.Style

		switch step.Status {
		case "connected", "done":
			icon = "✓"
			statusText = "Ready"
			style = successStyle
		case "connecting":
			spinners := []string{"◐", "◓", "◑", "◒"}
			idx := int(time.Since(m.startupTime).Milliseconds()/200) % len(spinners)
			icon = spinners[idx]
			statusText = "Connecting..."
			style = connectingStyle
		case "failed":
			icon = "✗"
			statusText = "Failed"
			style = failedStyle
		default:
			icon = "○"
			statusText = "Pending"
			style = mutedStyle
		}

		sb.WriteString(fmt.Sprintf("  %s %s %s\n",
			style.Render(icon),
			mutedStyle.Render(step.Name),
			style.Render(statusText),
		))
	}

	sb.WriteString("\n")
	elapsed := time.Since(m.startupTime).Round(time.Second)
	sb.WriteString(mutedStyle.Render(fmt.Sprintf("  Elapsed: %s", elapsed)))
	sb.WriteString("\n\n")

	sb.WriteString(mutedStyle.Render("  Waiting for the first block..."))
	sb.WriteString("\n")

	return sb.String()
}

func (m Model) renderStatusBar() string {
	var parts []string

	if time.Since(m.lastScanTime) < 500*time.Millisecond {
		spinners := []string{"⟳", "◐", "◓", "◑", "◒"}
		idx := int(time.Now().UnixMilli()/100) % len(spinners)
		scanningStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
		parts = append(parts, scanningStyle.Render(spinners[idx]+" Scanning"))
	}

	parts = append(parts, fmt.Sprintf("Block: #%d", m.currentBlock))

	if m.gasPrice > 0 {
		parts = append(parts, fmt.Sprintf("Gas: %.1f gwei", m.gasPrice))
	}

	if m.scanCount > 0 {
		scanStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
		parts = append(parts, scanStyle.Render(fmt.Sprintf("Scans: %d", m.scanCount)))
	}

	if m.equityUSD > 0 {
		parts = append(parts, fmt.Sprintf("Equity: $%.0f", m.equityUSD))
	}

	for name, info := range m.connectionState {
		var statusStyle lipgloss.Style
		var icon string
		var status string
		if info != nil && info.Connected {
			statusStyle = StatusConnected
			icon = "●"
			if info.Latency > 0 {
				status = fmt.Sprintf("%s (%dms)", name, info.Latency.Milliseconds())
			} else {
				status = name
			}
		} else {
			statusStyle = StatusDisconnected
			icon = "○"
			status = name + " (disconnected)"
		}
		parts = append(parts, statusStyle.Render(icon+" "+status))
	}

	if !m.lastUpdate.IsZero() {
		ago := time.Since(m.lastUpdate).Round(time.Second)
		indicator := ""
		if ago < 2*time.Second {
			indicator = "▪"
		}
		parts = append(parts, MutedValue.Render(fmt.Sprintf("Updated: %s ago %s", ago, indicator)))
	}

	return strings.Join(parts, "  │  ")
}

// Program holds the Bubble Tea program instance for external access.
var Program *tea.Program

// OnStartModules is called when the welcome screen completes and modules
// should start.
var OnStartModules func()

// Run starts the Bubble Tea program.
func Run() error {
	Program = tea.NewProgram(New(), tea.WithAltScreen())
	_, err := Program.Run()
	return err
}

// Send sends a message to the running program.
func Send(msg tea.Msg) {
	if Program != nil {
		Program.Send(msg)
	}
	if _, ok := msg.(StartModulesMsg); ok && OnStartModules != nil {
		OnStartModules()
	}
}
