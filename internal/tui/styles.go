package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/taskgraph/internal/task"
)

var (
	// Colors - all colors meet WCAG AA contrast (4.5:1) on both black and dark surfaces
	PrimaryColor = lipgloss.Color("#A78BFA") // Purple (violet-400)
	MutedColor   = lipgloss.Color("#9CA3AF") // Gray
	TextColor    = lipgloss.Color("#F9FAFB") // Light text
	ErrorColor   = lipgloss.Color("#F87171") // Red (red-400)

	// State colors
	StateQueuedColor    = lipgloss.Color("#9CA3AF") // Gray
	StateRunningColor   = lipgloss.Color("#10B981") // Green
	StateBlockedColor   = lipgloss.Color("#F59E0B") // Amber
	StateCompletedColor = lipgloss.Color("#A78BFA") // Purple
	StateFailedColor    = lipgloss.Color("#F87171") // Red
	StateCancelledColor = lipgloss.Color("#60A5FA") // Blue

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor)

	Subtitle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	Muted = lipgloss.NewStyle().Foreground(MutedColor)
	Error = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)

	Selected = lipgloss.NewStyle().
			Bold(true).
			Foreground(TextColor).
			Background(lipgloss.Color("#374151"))

	StateBadge = lipgloss.NewStyle().
			Width(11).
			Bold(true)

	HelpBar = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)
)

// StateColor returns the display color for a task state.
func StateColor(s task.State) lipgloss.Color {
	switch s {
	case task.StateRunning:
		return StateRunningColor
	case task.StateBlocked:
		return StateBlockedColor
	case task.StateCompleted:
		return StateCompletedColor
	case task.StateFailed:
		return StateFailedColor
	case task.StateCancelled:
		return StateCancelledColor
	default:
		return StateQueuedColor
	}
}

// stateBadge renders a fixed-width colored state label.
func stateBadge(s task.State) string {
	return StateBadge.Foreground(StateColor(s)).Render(string(s))
}
