package coordinator

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/iolloyd/tcpdoctor/internal/models"
)

// tickMsg fires when the poll interval of a live generation elapses
type tickMsg struct {
	generation uint64
}

// FetchedMsg carries the result of one live fetch
type FetchedMsg struct {
	generation  uint64
	At          time.Time
	Connections []models.ConnectionRecord
	Err         error
}

// SessionLoadedMsg carries the timeline of a session requested with LoadSession
type SessionLoadedMsg struct {
	generation uint64
	SessionID  int64
	Timeline   []models.TimelineEntry
	Err        error
}

// waitTick returns a command that sleeps for d and then emits a tick for
// generation. Cancelling ctx releases the timer and emits nothing.
func waitTick(ctx context.Context, clk clock.Clock, d time.Duration, generation uint64) tea.Cmd {
	return func() tea.Msg {
		timer := clk.Timer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			return tickMsg{generation: generation}
		}
	}
}
