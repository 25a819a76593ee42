// Package dash is the terminal dashboard behind `chatmux dash`: thread
// sessions from the registry, project window status and recent lifecycle
// events, refreshed on a timer and whenever the registry file changes.
package dash

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const refreshInterval = 2 * time.Second

// tickMsg triggers a periodic refresh.
type tickMsg time.Time

// snapshotMsg carries freshly loaded data.
type snapshotMsg Snapshot

// ViewType selects the lower pane.
type ViewType int

const (
	// SessionsView shows the thread session table.
	SessionsView ViewType = iota
	// EventsView shows recent lifecycle events.
	EventsView
)

// Model is the Bubble Tea model of the dashboard.
type Model struct {
	source  Source
	watcher *watcher
	keys    KeyMap
	help    help.Model
	table   table.Model
	styles  Styles

	activeView ViewType
	snap       Snapshot
	loaded     time.Time
	width      int
	height     int
	now        func() time.Time
}

var sessionColumns = []table.Column{
	{Title: "Thread", Width: 20},
	{Title: "Server", Width: 10},
	{Title: "Pane", Width: 6},
	{Title: "Project", Width: 24},
	{Title: "Worktree", Width: 36},
	{Title: "Age", Width: 8},
}

// New creates a dashboard model over src. When registryPath is set the
// registry file is watched for changes.
func New(src Source, registryPath string) Model {
	t := table.New(
		table.WithColumns(sessionColumns),
		table.WithFocused(true),
		table.WithHeight(10),
		table.WithWidth(110),
	)
	theme := DefaultTheme()
	ts := table.DefaultStyles()
	ts.Header = ts.Header.Bold(true).Foreground(theme.Primary)
	ts.Selected = ts.Selected.Foreground(theme.Secondary)
	t.SetStyles(ts)

	m := Model{
		source: src,
		keys:   DefaultKeyMap(),
		help:   help.New(),
		table:  t,
		styles: NewStyles(theme),
		now:    time.Now,
	}
	if registryPath != "" {
		m.watcher = newWatcher(registryPath)
	}
	return m
}

// Run opens the dashboard full screen until the user quits.
func Run(src Source, registryPath string) error {
	m := New(src, registryPath)
	defer m.watcher.close()
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("run dashboard: %w", err)
	}
	return nil
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) loadCmd() tea.Cmd {
	src := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return snapshotMsg(src.Snapshot(ctx))
	}
}

func (m Model) watchCmd() tea.Cmd {
	if m.watcher == nil {
		return nil
	}
	return m.watcher.next()
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadCmd(), tickCmd(), m.watchCmd())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		if h := msg.Height - 14; h > 3 {
			m.table.SetHeight(h)
		}

	case snapshotMsg:
		m.snap = Snapshot(msg)
		m.loaded = m.now()
		m.table.SetRows(m.sessionRows())

	case tickMsg:
		return m, tea.Batch(m.loadCmd(), tickCmd())

	case fsChangeMsg:
		return m, tea.Batch(m.loadCmd(), m.watchCmd())
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Tab):
		if m.activeView == SessionsView {
			m.activeView = EventsView
		} else {
			m.activeView = SessionsView
		}
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		return m, m.loadCmd()
	}

	if m.activeView == SessionsView {
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) sessionRows() []table.Row {
	rows := make([]table.Row, 0, len(m.snap.Sessions))
	for _, id := range sortedThreadIDs(m.snap.Sessions) {
		rec := m.snap.Sessions[id]
		wt := rec.WorktreePath
		if wt == "" {
			wt = "-"
		}
		rows = append(rows, table.Row{id, rec.ServerName, rec.PaneID, rec.ProjectPath, wt, age(m.now().Sub(rec.CreatedAt))})
	}
	return rows
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("chatmux"))
	b.WriteString(m.styles.Muted.Render(fmt.Sprintf("  %d thread session(s)", len(m.snap.Sessions))))
	b.WriteString("\n")

	b.WriteString(m.styles.Section.Render("Projects"))
	b.WriteString("\n")
	b.WriteString(m.renderWindows())

	switch m.activeView {
	case EventsView:
		b.WriteString(m.styles.Section.Render("Recent events"))
		b.WriteString("\n")
		b.WriteString(m.renderEvents())
	default:
		b.WriteString(m.styles.Section.Render("Thread sessions"))
		b.WriteString("\n")
		if len(m.snap.Sessions) == 0 {
			b.WriteString(m.styles.Muted.Render("No thread sessions"))
			b.WriteString("\n")
		} else {
			b.WriteString(m.styles.Pane.Render(m.table.View()))
			b.WriteString("\n")
		}
	}

	if m.snap.Err != nil {
		b.WriteString(m.styles.Error.Render("error: " + m.snap.Err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) renderWindows() string {
	if len(m.snap.Windows) == 0 {
		return m.styles.Muted.Render("No projects configured") + "\n"
	}
	var lines []string
	for _, w := range m.snap.Windows {
		status := m.styles.Stopped.Render("○ stopped")
		if w.Running {
			status = m.styles.Running.Render("● running")
		}
		lines = append(lines, fmt.Sprintf("  %-10s %-24s %s", w.Server, w.Project, status))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}

func (m Model) renderEvents() string {
	if len(m.snap.Events) == 0 {
		return m.styles.Muted.Render("No events recorded") + "\n"
	}
	var b strings.Builder
	for _, e := range m.snap.Events {
		fmt.Fprintf(&b, "  %s  %-18s %-10s %-20s %s\n",
			e.CreatedAt.Local().Format("01-02 15:04:05"), e.Type, e.Source, e.ThreadID, truncate(e.Payload, 48))
	}
	return b.String()
}

func age(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
