// Package tui is the interactive terminal dashboard. It is built on the
// bubbletea/lipgloss stack and renders five tabs: Dashboard, Sync,
// Blockchain, Controls, and Settings. All data comes from snapshots
// published by the monitor engine; the view layer never talks to the
// node directly.
package tui

import (
	"time"

	"github.com/GabrielVF/NodePulse/alert"
	"github.com/GabrielVF/NodePulse/monitor"
	"github.com/GabrielVF/NodePulse/nodeconf"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ---------------------------------------------------------------------------
// Shared styles
// ---------------------------------------------------------------------------

var (
	// titleStyle renders the application title bar.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("130")).
			Padding(0, 1)

	// activeTabStyle renders the currently selected tab label.
	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("130")).
			Padding(0, 2)

	// inactiveTabStyle renders unselected tab labels.
	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Padding(0, 2)

	// labelStyle renders field labels in detail panes.
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	// valueStyle renders field values.
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	// goodStyle highlights healthy values.
	goodStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	// warnStyle highlights values needing attention.
	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("3")).
			Bold(true)

	// badStyle highlights failing values.
	badStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true)

	// dimStyle is used for "no data" messages and staleness notes.
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	// selectedStyle highlights the selected settings row.
	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("238")).
			Bold(true)

	// overlayStyle frames the y/n confirmation prompt.
	overlayStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("3")).
			Padding(1, 3)

	// statusBarStyle renders the bottom status bar.
	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			PaddingLeft(1)

	// errorStyle renders error messages.
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true).
			PaddingLeft(1)
)

// ---------------------------------------------------------------------------
// Tab type
// ---------------------------------------------------------------------------

// tab identifies the currently active dashboard tab.
type tab int

const (
	tabDashboard tab = iota
	tabSync
	tabBlockchain
	tabControls
	tabSettings
	tabCount // sentinel — must stay last
)

// ---------------------------------------------------------------------------
// Confirmable actions
// ---------------------------------------------------------------------------

// action identifies an operation awaiting y/n confirmation.
type action int

const (
	actionNone action = iota
	actionStop
	actionRestart
	actionApply
)

func (a action) prompt() string {
	switch a {
	case actionStop:
		return "Stop the node?"
	case actionRestart:
		return "Restart the node?"
	case actionApply:
		return "Write staged changes to the config file?"
	default:
		return ""
	}
}

// ---------------------------------------------------------------------------
// Tea messages
// ---------------------------------------------------------------------------

// snapshotMsg delivers the next published snapshot.
type snapshotMsg monitor.Snapshot

// opDoneMsg reports the outcome of a queued operator command.
type opDoneMsg struct {
	what string
	err  error
}

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

// Controls is the slice of the monitor engine the dashboard drives.
type Controls interface {
	Subscribe() <-chan monitor.Snapshot
	Alerts() []alert.Alert
	Conf() *nodeconf.Manager
	RefreshNow() error
	StartNode() error
	StopNode() error
	RestartNode() error
	StageChange(key, value string) error
	ApplyChanges() error
	ResetChanges() error
	ReloadConfig() error
	ClearAlerts() error
}

// Model is the top-level bubbletea model for the dashboard.
type Model struct {
	engine Controls
	sub    <-chan monitor.Snapshot

	tabs      []string
	activeTab tab
	width     int
	height    int

	snap     monitor.Snapshot
	haveSnap bool
	alerts   []alert.Alert

	confirming action
	selected   int // settings row
	lastOp     string
	lastOpErr  error
}

// New returns a Model wired to the given engine.
func New(engine Controls) Model {
	return Model{
		engine: engine,
		sub:    engine.Subscribe(),
		tabs:   []string{"Dashboard", "Sync", "Blockchain", "Controls", "Settings"},
	}
}

// Init starts listening for published snapshots.
func (m Model) Init() tea.Cmd {
	return waitSnapshot(m.sub)
}

// waitSnapshot blocks on the subscription until the engine publishes.
func waitSnapshot(sub <-chan monitor.Snapshot) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(<-sub)
	}
}

// dispatch runs one queued operator command off the UI goroutine.
func dispatch(what string, op func() error) tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{what: what, err: op()}
	}
}

// Update processes messages and returns an updated model plus any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case snapshotMsg:
		m.snap = monitor.Snapshot(msg)
		m.haveSnap = true
		m.alerts = m.engine.Alerts()
		return m, waitSnapshot(m.sub)

	case opDoneMsg:
		m.lastOp = msg.what
		m.lastOpErr = msg.err
		m.alerts = m.engine.Alerts()
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// A pending confirmation swallows everything except y/n/esc.
	if m.confirming != actionNone {
		switch msg.String() {
		case "y", "Y":
			act := m.confirming
			m.confirming = actionNone
			switch act {
			case actionStop:
				return m, dispatch("stop", m.engine.StopNode)
			case actionRestart:
				return m, dispatch("restart", m.engine.RestartNode)
			case actionApply:
				return m, dispatch("apply", m.engine.ApplyChanges)
			}
		case "n", "N", "esc":
			m.confirming = actionNone
		}
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "tab", "right", "l":
		m.activeTab = (m.activeTab + 1) % tabCount
	case "shift+tab", "left", "h":
		m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
	case "1":
		m.activeTab = tabDashboard
	case "2":
		m.activeTab = tabSync
	case "3":
		m.activeTab = tabBlockchain
	case "4":
		m.activeTab = tabControls
	case "5":
		m.activeTab = tabSettings
	case "r":
		return m, dispatch("refresh", m.engine.RefreshNow)
	case "c":
		return m, dispatch("clear alerts", m.engine.ClearAlerts)
	}

	switch m.activeTab {
	case tabControls:
		return m.handleControlsKey(msg)
	case tabSettings:
		return m.handleSettingsKey(msg)
	}
	return m, nil
}

func (m Model) handleControlsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "s":
		return m, dispatch("start", m.engine.StartNode)
	case "t":
		m.confirming = actionStop
	case "e":
		m.confirming = actionRestart
	}
	return m, nil
}

func (m Model) handleSettingsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	options := nodeconf.Options
	switch msg.String() {
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(options)-1 {
			m.selected++
		}
	case " ", "enter":
		return m, m.cycleSelected(options)
	case "a":
		if m.engine.Conf().PendingCount() > 0 {
			m.confirming = actionApply
		}
	case "u":
		return m, dispatch("reset", m.engine.ResetChanges)
	case "o":
		return m, dispatch("reload", m.engine.ReloadConfig)
	}
	return m, nil
}

// cycleSelected stages the next allowed value for the selected option.
func (m Model) cycleSelected(options []nodeconf.Option) tea.Cmd {
	opt := options[m.selected]
	current, err := m.engine.Conf().CurrentValue(opt.Key)
	if err != nil {
		current = opt.Default
	}

	next := opt.Allowed[0]
	for i, v := range opt.Allowed {
		if v == current {
			next = opt.Allowed[(i+1)%len(opt.Allowed)]
			break
		}
	}

	key, value := opt.Key, next
	return dispatch("stage "+key, func() error {
		return m.engine.StageChange(key, value)
	})
}

// View renders the entire dashboard to a string.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading…"
	}
	return m.render()
}

// lastRefresh formats the timestamp of the shown snapshot.
func (m Model) lastRefresh() string {
	if !m.haveSnap {
		return "never"
	}
	return m.snap.Time.Format("15:04:05")
}

// stale reports whether the snapshot is older than two fast intervals.
func stale(at time.Time, interval time.Duration) bool {
	return !at.IsZero() && time.Since(at) > 2*interval
}
