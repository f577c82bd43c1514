// Package tui is the live task status view behind "taskgraph watch".
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/taskgraph/internal/event"
	"github.com/Iron-Ham/taskgraph/internal/limiter"
	"github.com/Iron-Ham/taskgraph/internal/registry"
	"github.com/Iron-Ham/taskgraph/internal/task"
	"github.com/Iron-Ham/taskgraph/internal/util"
)

// Source is the part of the registry the view reads.
type Source interface {
	Refresh() error
	List(f registry.Filter) ([]*task.Task, error)
	Metrics() (registry.Metrics, error)
	Path() string
}

// snapshotMsg carries a freshly loaded view of the store.
type snapshotMsg struct {
	tasks   []*task.Task
	metrics registry.Metrics
	at      time.Time
	err     error
}

// storeChangedMsg is sent when the watcher saw the store change.
type storeChangedMsg struct {
	op string
}

// Model holds the view state.
type Model struct {
	src     Source
	lim     *limiter.Limiter
	changes <-chan event.Event

	all         []*task.Task // every task in the last snapshot
	tasks       []*task.Task // the rows shown, after filtering
	filter      textinput.Model
	filtering   bool
	metrics     registry.Metrics
	err         error
	cursor      int
	width       int
	height      int
	lastRefresh time.Time
	refreshes   int
}

// NewModel creates a view over src that reloads whenever a store.changed
// event arrives on changes. Loads run through lim when it is not nil.
func NewModel(src Source, changes <-chan event.Event, lim *limiter.Limiter) Model {
	ti := textinput.New()
	ti.Prompt = "/"
	ti.Placeholder = "filter by id, description, owner or kind"
	ti.CharLimit = 100
	ti.Width = 40
	return Model{src: src, changes: changes, lim: lim, filter: ti}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.waitForChange())
}

// load reads a snapshot, through the limiter when one is set.
func (m Model) load() tea.Cmd {
	src, lim := m.src, m.lim
	return func() tea.Msg {
		var msg snapshotMsg
		read := func(context.Context) error {
			if err := src.Refresh(); err != nil {
				return err
			}
			tasks, err := src.List(registry.Filter{})
			if err != nil {
				return err
			}
			metrics, err := src.Metrics()
			if err != nil {
				return err
			}
			msg.tasks, msg.metrics = tasks, metrics
			return nil
		}

		var err error
		if lim != nil {
			err = lim.Run(context.Background(), read, limiter.RunOptions{Label: "tui-refresh"})
		} else {
			err = read(context.Background())
		}
		msg.err = err
		msg.at = time.Now()
		return msg
	}
}

// waitForChange blocks on the next store.changed event.
func (m Model) waitForChange() tea.Cmd {
	ch := m.changes
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		changed, _ := e.(event.StoreChangedEvent)
		return storeChangedMsg{op: changed.Op}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.filtering {
			return m.handleFilterKeypress(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc":
			if m.filter.Value() != "" {
				m.filter.SetValue("")
				m.applyFilter()
				return m, nil
			}
			return m, tea.Quit
		case "/":
			m.filtering = true
			cmd := m.filter.Focus()
			return m, cmd
		case "j", "down":
			if m.cursor < len(m.tasks)-1 {
				m.cursor++
			}
		case "k", "up":
			if m.cursor > 0 {
				m.cursor--
			}
		case "g", "home":
			m.cursor = 0
		case "G", "end":
			m.cursor = max(len(m.tasks)-1, 0)
		case "r":
			return m, m.load()
		}
		return m, nil

	case storeChangedMsg:
		return m, tea.Batch(m.load(), m.waitForChange())

	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.all = msg.tasks
			m.metrics = msg.metrics
			m.lastRefresh = msg.at
			m.refreshes++
			m.applyFilter()
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleFilterKeypress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.filtering = false
		m.filter.Blur()
		m.filter.SetValue("")
		m.applyFilter()
		return m, nil
	case "enter":
		m.filtering = false
		m.filter.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.applyFilter()
	return m, cmd
}

// applyFilter recomputes the visible rows from the last snapshot and keeps
// the cursor in range.
func (m *Model) applyFilter() {
	q := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	if q == "" {
		m.tasks = m.all
	} else {
		m.tasks = make([]*task.Task, 0, len(m.all))
		for _, t := range m.all {
			if matchesFilter(t, q) {
				m.tasks = append(m.tasks, t)
			}
		}
	}
	if m.cursor >= len(m.tasks) {
		m.cursor = max(len(m.tasks)-1, 0)
	}
}

func matchesFilter(t *task.Task, q string) bool {
	for _, field := range []string{t.ID, t.Description, t.Owner, t.ExecutorKind, string(t.State)} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(Title.Render("taskgraph"))
	b.WriteString("  ")
	b.WriteString(Subtitle.Render(m.src.Path()))
	b.WriteString("\n\n")
	b.WriteString(m.renderSummary())
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(Error.Render("error: " + m.err.Error()))
		b.WriteString("\n\n")
	}

	if m.filtering || m.filter.Value() != "" {
		b.WriteString(m.filter.View())
		b.WriteString(Muted.Render(fmt.Sprintf("  %d of %d", len(m.tasks), len(m.all))))
		b.WriteString("\n\n")
	}

	if len(m.tasks) == 0 {
		b.WriteString(Muted.Render("no tasks"))
		b.WriteString("\n")
	}
	for i, t := range m.visibleTasks() {
		line := m.renderTask(t)
		if i+m.offset() == m.cursor {
			line = Selected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if t := m.selected(); t != nil {
		b.WriteString("\n")
		b.WriteString(m.renderDetail(t))
	}

	help := "j/k move  / filter  r refresh  q quit"
	if m.filtering {
		help = "enter keep filter  esc clear"
	}
	if !m.lastRefresh.IsZero() {
		help += fmt.Sprintf("  updated %s", m.lastRefresh.Format("15:04:05"))
	}
	b.WriteString(HelpBar.Render(help))
	return b.String()
}

func (m Model) renderSummary() string {
	parts := make([]string, 0, len(task.AllStates)+1)
	for _, s := range task.AllStates {
		n := m.metrics.ByState[s]
		parts = append(parts, lipgloss.NewStyle().Foreground(StateColor(s)).Render(fmt.Sprintf("%s %d", s, n)))
	}
	parts = append(parts, Muted.Render(fmt.Sprintf("ready %d", m.metrics.Ready)))
	return strings.Join(parts, "  ")
}

func (m Model) renderTask(t *task.Task) string {
	id := util.TruncateString(t.ID, 12)
	desc := t.Description
	if m.width > 40 {
		desc = util.TruncateANSI(desc, m.width-30)
	}
	deps := ""
	if n := len(t.BlockedBy); n > 0 {
		deps = Muted.Render(fmt.Sprintf(" (deps %d)", n))
	}
	return fmt.Sprintf("%s %-12s %s%s", stateBadge(t.State), id, desc, deps)
}

func (m Model) renderDetail(t *task.Task) string {
	lines := []string{fmt.Sprintf("id: %s", t.ID)}
	if t.Owner != "" {
		lines = append(lines, "owner: "+t.Owner)
	}
	if t.ExecutorKind != "" {
		lines = append(lines, "kind: "+t.ExecutorKind)
	}
	if len(t.BlockedBy) > 0 {
		lines = append(lines, "blocked by: "+strings.Join(t.BlockedBy, ", "))
	}
	if len(t.Blocks) > 0 {
		lines = append(lines, "blocks: "+strings.Join(t.Blocks, ", "))
	}
	if t.GroupID != "" {
		lines = append(lines, "group: "+t.GroupID)
	}
	lines = append(lines, fmt.Sprintf("attempts: %d", t.Attempts))
	return Muted.Render(strings.Join(lines, "\n"))
}

// listHeight is how many task rows fit, or all of them before the first
// WindowSizeMsg.
func (m Model) listHeight() int {
	if m.height <= 0 {
		return len(m.tasks)
	}
	return max(m.height-14, 3)
}

// offset scrolls the list so the cursor stays visible.
func (m Model) offset() int {
	h := m.listHeight()
	if m.cursor < h {
		return 0
	}
	return m.cursor - h + 1
}

func (m Model) visibleTasks() []*task.Task {
	start := m.offset()
	end := min(start+m.listHeight(), len(m.tasks))
	return m.tasks[start:end]
}

func (m Model) selected() *task.Task {
	if m.cursor < 0 || m.cursor >= len(m.tasks) {
		return nil
	}
	return m.tasks[m.cursor]
}
