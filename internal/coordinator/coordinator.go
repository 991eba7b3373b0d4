// Package coordinator owns what the dashboard currently displays. It runs
// inside the bubbletea event loop: every state change happens in Update or in
// one of the exported methods called from the UI's Update, and asynchronous
// work is returned as tea.Cmd values whose results come back as messages.
//
// Each mode transition advances a generation counter and cancels the context
// of the previous generation. Fetch and load results carry the generation
// they were issued under and are dropped when it no longer matches, which is
// checked both before a command is issued and after its result arrives.
package coordinator

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-logr/logr"
	"github.com/iolloyd/tcpdoctor/internal/filter"
	"github.com/iolloyd/tcpdoctor/internal/models"
	"github.com/iolloyd/tcpdoctor/internal/selection"
	"github.com/iolloyd/tcpdoctor/internal/timeline"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// MinPollInterval is the shortest accepted polling interval
	MinPollInterval = 100 * time.Millisecond
	// DefaultPollInterval is used when no interval is configured
	DefaultPollInterval = time.Second
)

// Source fetches the current connection table
type Source interface {
	FetchConnections(ctx context.Context, criteria filter.Criteria) ([]models.ConnectionRecord, error)
}

// Recorder is the part of the recording controller the coordinator drives.
// Persistence stays with the recorder; the coordinator decides when a
// snapshot is taken so recorded data matches what was displayed.
type Recorder interface {
	Recording() bool
	AppendSnapshot(at time.Time, conns []models.ConnectionRecord) error
	ActiveTimeline() []models.TimelineEntry
	LoadTimeline(ctx context.Context, sessionID int64) ([]models.TimelineEntry, error)
}

// Options configures a Coordinator
type Options struct {
	Source     Source
	Recorder   Recorder
	Interval   time.Duration
	Criteria   filter.Criteria
	Clock      clock.Clock
	Logger     logr.Logger
	Registerer prometheus.Registerer
}

// Coordinator is the live/historical state machine
type Coordinator struct {
	source   Source
	recorder Recorder
	clock    clock.Clock
	logger   logr.Logger
	metrics  *metrics
	interval time.Duration

	mode       ViewMode
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc

	criteria   filter.Criteria
	live       []models.ConnectionRecord
	entries    []models.TimelineEntry
	historical []models.ConnectionRecord
	selection  selection.Tracker

	loading    bool
	lastErr    error
	failures   int
	lastUpdate time.Time
}

// New creates a coordinator in live mode. Polling starts with Init.
func New(opts Options) *Coordinator {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	c := &Coordinator{
		source:   opts.Source,
		recorder: opts.Recorder,
		clock:    clk,
		logger:   logger.WithName("coordinator"),
		metrics:  registerMetrics(opts.Registerer),
		interval: clampInterval(opts.Interval),
		criteria: opts.Criteria,
		mode:     Live(),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

func clampInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultPollInterval
	}
	return max(d, MinPollInterval)
}

// Init issues the first live fetch. The next tick is scheduled when it completes.
func (c *Coordinator) Init() tea.Cmd {
	return c.fetch()
}

// Update handles the coordinator's own messages and ignores everything else
func (c *Coordinator) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tickMsg:
		if msg.generation != c.generation || c.mode.IsHistorical() {
			c.metrics.staleDropped.WithLabelValues("tick").Inc()
			return nil
		}
		return c.fetch()

	case FetchedMsg:
		return c.handleFetched(msg)

	case SessionLoadedMsg:
		c.handleSessionLoaded(msg)
		return nil
	}
	return nil
}

// fetch issues one live fetch, or nothing when a session is displayed
func (c *Coordinator) fetch() tea.Cmd {
	if c.mode.IsHistorical() || c.source == nil {
		return nil
	}
	c.metrics.ticks.Inc()

	var (
		ctx        = c.ctx
		generation = c.generation
		criteria   = c.criteria
		source     = c.source
		clk        = c.clock
	)
	return func() tea.Msg {
		conns, err := source.FetchConnections(ctx, criteria)
		return FetchedMsg{generation: generation, At: clk.Now(), Connections: conns, Err: err}
	}
}

// schedule arms the poll timer for the current generation
func (c *Coordinator) schedule() tea.Cmd {
	if c.mode.IsHistorical() {
		return nil
	}
	return waitTick(c.ctx, c.clock, c.interval, c.generation)
}

func (c *Coordinator) handleFetched(msg FetchedMsg) tea.Cmd {
	// The mode may have changed while the fetch was in flight.
	if msg.generation != c.generation || c.mode.IsHistorical() {
		c.metrics.staleDropped.WithLabelValues("fetch").Inc()
		c.logger.V(1).Info("Dropping stale fetch result", "generation", msg.generation, "current", c.generation)
		return nil
	}

	if msg.Err != nil {
		c.failures++
		c.lastErr = msg.Err
		c.metrics.fetchFailures.Inc()
		c.logger.Error(msg.Err, "Fetching connections failed, keeping previous data", "consecutiveFailures", c.failures)
		return c.schedule()
	}

	for i := range msg.Connections {
		msg.Connections[i].ObservedAt = msg.At
	}
	c.live = msg.Connections
	c.failures = 0
	c.lastErr = nil
	c.lastUpdate = msg.At
	c.metrics.connections.Set(float64(len(c.live)))

	// Record on the same tick that refreshed the display.
	if c.recorder != nil && c.recorder.Recording() {
		if err := c.recorder.AppendSnapshot(msg.At, c.live); err != nil {
			c.logger.Error(err, "Appending snapshot failed", "connections", len(c.live))
		} else {
			c.metrics.snapshots.Inc()
		}
	}

	c.selection.Refresh(c.live)
	return c.schedule()
}

func (c *Coordinator) handleSessionLoaded(msg SessionLoadedMsg) {
	if msg.generation != c.generation {
		c.metrics.staleDropped.WithLabelValues("session").Inc()
		c.logger.V(1).Info("Dropping stale session load", "sessionID", msg.SessionID)
		return
	}
	c.loading = false
	if msg.Err != nil {
		c.lastErr = msg.Err
		c.logger.Error(msg.Err, "Loading session failed", "sessionID", msg.SessionID)
		return
	}
	c.applyTimeline(msg.SessionID, msg.Timeline)
}

// advance starts a new generation, cancelling the timer and any in-flight
// command of the previous one
func (c *Coordinator) advance() {
	c.cancel()
	c.generation++
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

// EnterHistorical suspends polling and displays the given timeline
func (c *Coordinator) EnterHistorical(sessionID int64, entries []models.TimelineEntry) {
	c.advance()
	c.mode = Historical(sessionID)
	c.metrics.historical.Set(1)
	c.applyTimeline(sessionID, entries)
}

func (c *Coordinator) applyTimeline(sessionID int64, entries []models.TimelineEntry) {
	c.loading = false
	c.lastErr = nil
	c.entries = entries
	c.historical = timeline.Connections(entries)
	c.metrics.connections.Set(float64(len(c.historical)))
	c.selection.Refresh(c.historical)
	c.logger.Info("Displaying recorded session", "sessionID", sessionID, "entries", len(entries))
}

// LoadSession suspends polling and loads a session's timeline asynchronously.
// A later LoadSession or ExitToLive makes the pending result stale.
func (c *Coordinator) LoadSession(sessionID int64) tea.Cmd {
	if c.recorder == nil {
		return nil
	}
	c.advance()
	c.mode = Historical(sessionID)
	c.metrics.historical.Set(1)
	c.loading = true
	c.lastErr = nil
	c.entries = nil
	c.historical = nil
	c.selection.Refresh(nil)

	var (
		ctx        = c.ctx
		generation = c.generation
		recorder   = c.recorder
	)
	return func() tea.Msg {
		entries, err := recorder.LoadTimeline(ctx, sessionID)
		return SessionLoadedMsg{generation: generation, SessionID: sessionID, Timeline: entries, Err: err}
	}
}

// ExitToLive leaves historical mode and resumes polling with an immediate fetch.
// The list taken before historical mode is discarded, so nothing is shown
// until the first fresh fetch lands.
func (c *Coordinator) ExitToLive() tea.Cmd {
	if !c.mode.IsHistorical() {
		return nil
	}
	c.advance()
	c.mode = Live()
	c.metrics.historical.Set(0)
	c.loading = false
	c.lastErr = nil
	c.entries = nil
	c.historical = nil
	c.live = nil
	c.lastUpdate = time.Time{}
	c.metrics.connections.Set(0)
	c.selection.Clear()
	c.logger.Info("Returning to live data")
	return c.fetch()
}

// Stop cancels the poll timer and any in-flight command
func (c *Coordinator) Stop() {
	c.cancel()
	c.generation++
}

// SetPollInterval changes the poll interval, starting with the next tick
func (c *Coordinator) SetPollInterval(d time.Duration) {
	c.interval = clampInterval(d)
}

// PollInterval returns the effective poll interval
func (c *Coordinator) PollInterval() time.Duration {
	return c.interval
}

// SetFilterCriteria replaces the filter applied to the active list
func (c *Coordinator) SetFilterCriteria(criteria filter.Criteria) {
	c.criteria = criteria
}

// FilterCriteria returns the current filter
func (c *Coordinator) FilterCriteria() filter.Criteria {
	return c.criteria
}

// Mode returns the current view mode
func (c *Coordinator) Mode() ViewMode {
	return c.mode
}

func (c *Coordinator) activeList() []models.ConnectionRecord {
	if c.mode.IsHistorical() {
		return c.historical
	}
	return c.live
}

// ActiveConnections returns the displayed list: live or historical, filtered
func (c *Coordinator) ActiveConnections() []models.ConnectionRecord {
	return filter.Apply(c.activeList(), c.criteria)
}

// PickerConnections returns one row per distinguishable connection. In
// historical mode the most recent occurrence of each identity is kept.
func (c *Coordinator) PickerConnections() []models.ConnectionRecord {
	if c.mode.IsHistorical() {
		return filter.Apply(timeline.Latest(c.entries), c.criteria)
	}
	return c.ActiveConnections()
}

// Timeline returns the displayed session's entries, nil in live mode
func (c *Coordinator) Timeline() []models.TimelineEntry {
	return c.entries
}

// SelectConnection selects id from the active list. It reports false, and
// clears the selection, when id is not present.
func (c *Coordinator) SelectConnection(id models.Identity) bool {
	return c.selection.Select(id, c.activeList())
}

// ClearSelection drops the selected connection
func (c *Coordinator) ClearSelection() {
	c.selection.Clear()
}

// SelectedConnection returns the selected record as of the latest refresh, or nil
func (c *Coordinator) SelectedConnection() *models.ConnectionRecord {
	return c.selection.Selected()
}

// HistoryFor returns the time series of one connection. Historical mode reads
// the displayed session; live mode reads the recording in progress, if any.
func (c *Coordinator) HistoryFor(id models.Identity) []models.TimeSeriesPoint {
	if c.mode.IsHistorical() {
		return timeline.History(id, c.entries)
	}
	if c.recorder != nil && c.recorder.Recording() {
		return timeline.History(id, c.recorder.ActiveTimeline())
	}
	return nil
}

// Loading returns true while a session load is pending
func (c *Coordinator) Loading() bool {
	return c.loading
}

// LastError returns the most recent fetch or load error, nil after a success
func (c *Coordinator) LastError() error {
	return c.lastErr
}

// LastUpdate returns the time of the last applied live fetch
func (c *Coordinator) LastUpdate() time.Time {
	return c.lastUpdate
}
