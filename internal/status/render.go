package status

import (
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	idleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	busyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// Render formats a snapshot for the terminal.
func Render(snap Snapshot) string {
	switch snap.State {
	case StateBusy:
		return busyStyle.Render("● " + snap.Message)
	case StateError:
		return errorStyle.Render("✗ " + snap.Message)
	default:
		return idleStyle.Render("● Up to date")
	}
}

// RevertDelay is how long an error shows before the indicator reverts.
const RevertDelay = 5 * time.Second

// RevertAfter returns a scheduler that runs the revert after the given
// delay.
func RevertAfter(d time.Duration) func(fn func()) {
	return func(fn func()) {
		time.AfterFunc(d, fn)
	}
}
