// Package ui is the terminal dashboard. The Model owns presentation state
// only; what is displayed is decided by the coordinator it drives.
package ui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/benbjohnson/clock"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-logr/logr"

	"github.com/iolloyd/tcpdoctor/internal/config"
	"github.com/iolloyd/tcpdoctor/internal/coordinator"
	"github.com/iolloyd/tcpdoctor/internal/export"
	"github.com/iolloyd/tcpdoctor/internal/filter"
	"github.com/iolloyd/tcpdoctor/internal/models"
	"github.com/iolloyd/tcpdoctor/internal/recording"
)

const maxPollInterval = time.Minute

// Screen is the dashboard view currently shown
type Screen int

const (
	ScreenConnections Screen = iota
	ScreenPicker
	ScreenDetail
	ScreenSessions
)

type prompt int

const (
	promptNone prompt = iota
	promptSearch
	promptCondition
	promptExport
	promptImport
)

// ConfigReloadedMsg is sent to the program when the config file changes
type ConfigReloadedMsg struct {
	Config *config.Config
}

type exportedMsg struct {
	path    string
	session models.Session
	err     error
}

type importedMsg struct {
	path     string
	session  models.Session
	timeline []models.TimelineEntry
	err      error
}

// Options configures the dashboard
type Options struct {
	Coordinator *coordinator.Coordinator
	Recorder    *recording.Recorder
	// Source describes where connections come from, e.g. "local" or a daemon URL
	Source        string
	HistoryPoints int
	// Clock measures ongoing sessions, defaults to the wall clock
	Clock  clock.Clock
	Logger logr.Logger
}

// Model is the bubbletea model of the dashboard
type Model struct {
	coord    *coordinator.Coordinator
	recorder *recording.Recorder
	source   string
	clock    clock.Clock
	logger   logr.Logger

	keys     keyMap
	help     help.Model
	table    table.Model
	sessions table.Model
	input    textinput.Model

	screen   Screen
	returnTo Screen
	prompt   prompt
	// search text before the prompt opened, restored on esc
	searchBefore string

	rows          []models.ConnectionRecord
	sessionList   []models.Session
	historyPoints int
	width         int
	height        int

	message    string
	messageErr bool
}

// New creates the dashboard model
func New(opts Options) *Model {
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	points := opts.HistoryPoints
	if points <= 0 {
		points = config.Default().HistoryPoints
	}

	ti := textinput.New()
	ti.CharLimit = 256
	ti.Width = 50

	m := &Model{
		coord:         opts.Coordinator,
		recorder:      opts.Recorder,
		source:        opts.Source,
		clock:         clk,
		logger:        logger.WithName("ui"),
		keys:          defaultKeys(),
		help:          help.New(),
		input:         ti,
		historyPoints: points,
		width:         120,
		height:        30,
	}
	m.table = newTable(connectionColumns(m.width), m.tableHeight())
	m.sessions = newTable(sessionColumns(), m.tableHeight())
	return m
}

func newTable(columns []table.Column, height int) table.Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(height),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func connectionColumns(width int) []table.Column {
	addr := 22
	if width > 140 {
		addr = 30
	}
	return []table.Column{
		{Title: "Time", Width: 8},
		{Title: "Local", Width: addr},
		{Title: "Remote", Width: addr},
		{Title: "State", Width: 11},
		{Title: "Process", Width: 18},
		{Title: "Service", Width: 10},
		{Title: "RTT", Width: 8},
		{Title: "In", Width: 10},
		{Title: "Out", Width: 10},
		{Title: "Retr", Width: 5},
	}
}

func sessionColumns() []table.Column {
	return []table.Column{
		{Title: "ID", Width: 5},
		{Title: "Started", Width: 19},
		{Title: "Duration", Width: 10},
		{Title: "Entries", Width: 8},
		{Title: "Status", Width: 12},
	}
}

func (m *Model) tableHeight() int {
	return max(m.height-10, 3)
}

// Screen returns the view currently shown
func (m *Model) Screen() Screen {
	return m.screen
}

// Init starts polling
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.coord.Init(), textinput.Blink)
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.table.SetColumns(connectionColumns(m.width))
		m.table.SetHeight(m.tableHeight())
		m.sessions.SetHeight(m.tableHeight())
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		var cmd tea.Cmd
		if m.prompt != promptNone {
			cmd = m.updatePrompt(msg)
		} else {
			cmd = m.handleKeyPress(msg)
		}
		m.refresh()
		return m, cmd

	case ConfigReloadedMsg:
		m.applyConfig(msg.Config)
		return m, nil

	case exportedMsg:
		if msg.err != nil {
			m.setError(fmt.Errorf("export failed: %w", msg.err))
		} else {
			m.setMessage(fmt.Sprintf("Exported session %d to %s", msg.session.ID, msg.path))
		}
		return m, nil

	case importedMsg:
		m.handleImported(msg)
		m.refresh()
		return m, nil
	}

	cmd := m.coord.Update(msg)
	m.refresh()
	return m, cmd
}

func (m *Model) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	m.coord.SetPollInterval(cfg.PollInterval)
	m.historyPoints = cfg.HistoryPoints
	m.logger.Info("Applied configuration", "pollInterval", m.coord.PollInterval())
	m.setMessage("Configuration reloaded")
}

func (m *Model) setMessage(s string) {
	m.message, m.messageErr = s, false
}

func (m *Model) setError(err error) {
	m.message, m.messageErr = err.Error(), true
}

func (m *Model) handleKeyPress(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.coord.Stop()
		return tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return nil

	case key.Matches(msg, m.keys.Back):
		return m.back()

	case key.Matches(msg, m.keys.Select):
		return m.selectCurrent()

	case key.Matches(msg, m.keys.Search):
		m.searchBefore = m.coord.FilterCriteria().Search
		return m.openPrompt(promptSearch, "search: ", "address, port, process, state", m.searchBefore)

	case key.Matches(msg, m.keys.Condition):
		return m.openPrompt(promptCondition, "metric: ", "rtt > 50, bw >= 1M, retrans > 0 (empty clears)", "")

	case key.Matches(msg, m.keys.IPv4):
		m.updateCriteria(func(c *filter.Criteria) { c.ToggleIPv4Only() })

	case key.Matches(msg, m.keys.IPv6):
		m.updateCriteria(func(c *filter.Criteria) { c.ToggleIPv6Only() })

	case key.Matches(msg, m.keys.HidePrivate):
		m.updateCriteria(func(c *filter.Criteria) { c.HidePrivate = !c.HidePrivate })

	case key.Matches(msg, m.keys.HideLocal):
		m.updateCriteria(func(c *filter.Criteria) { c.HideLoopback = !c.HideLoopback })

	case key.Matches(msg, m.keys.State):
		m.updateCriteria(func(c *filter.Criteria) { c.State = nextState(c.State) })

	case key.Matches(msg, m.keys.ClearFilter):
		m.coord.SetFilterCriteria(filter.Criteria{})
		m.setMessage("Filters cleared")

	case key.Matches(msg, m.keys.Record):
		m.toggleRecording()

	case key.Matches(msg, m.keys.Sessions):
		m.coord.ClearSelection()
		m.screen = ScreenSessions
		m.sessions.SetCursor(0)

	case key.Matches(msg, m.keys.Picker):
		if m.screen == ScreenConnections {
			m.screen = ScreenPicker
			m.table.SetCursor(0)
		}

	case key.Matches(msg, m.keys.Live):
		m.screen = ScreenConnections
		return m.coord.ExitToLive()

	case key.Matches(msg, m.keys.Export):
		target, ok := m.exportTarget()
		if !ok {
			m.setError(errors.New("nothing to export: record or open a session first"))
			return nil
		}
		return m.openPrompt(promptExport, "export to: ", "file path", fmt.Sprintf("tcpdoctor-session-%d.json", target.ID))

	case key.Matches(msg, m.keys.Import):
		return m.openPrompt(promptImport, "import from: ", "file path", "")

	case key.Matches(msg, m.keys.Faster):
		m.coord.SetPollInterval(m.coord.PollInterval() / 2)
		m.setMessage("Poll interval " + m.coord.PollInterval().String())

	case key.Matches(msg, m.keys.Slower):
		m.coord.SetPollInterval(min(m.coord.PollInterval()*2, maxPollInterval))
		m.setMessage("Poll interval " + m.coord.PollInterval().String())

	case key.Matches(msg, m.keys.ClearAll):
		if m.screen != ScreenSessions {
			return nil
		}
		m.recorder.ClearAll()
		m.setMessage("All sessions deleted")
		return m.coord.ExitToLive()

	default:
		var cmd tea.Cmd
		if m.screen == ScreenSessions {
			m.sessions, cmd = m.sessions.Update(msg)
		} else if m.screen != ScreenDetail {
			m.table, cmd = m.table.Update(msg)
		}
		return cmd
	}
	return nil
}

func (m *Model) updateCriteria(fn func(c *filter.Criteria)) {
	c := m.coord.FilterCriteria()
	fn(&c)
	m.coord.SetFilterCriteria(c)
	m.table.SetCursor(0)
}

func (m *Model) back() tea.Cmd {
	switch m.screen {
	case ScreenDetail:
		m.coord.ClearSelection()
		m.screen = m.returnTo
	case ScreenPicker, ScreenSessions:
		m.screen = ScreenConnections
	case ScreenConnections:
		if m.coord.Mode().IsHistorical() {
			return m.coord.ExitToLive()
		}
	}
	return nil
}

func (m *Model) selectCurrent() tea.Cmd {
	switch m.screen {
	case ScreenSessions:
		idx := m.sessions.Cursor()
		if idx < 0 || idx >= len(m.sessionList) {
			return nil
		}
		s := m.sessionList[idx]
		if s.Ongoing() {
			m.setError(errors.New("stop the recording before opening it"))
			return nil
		}
		m.screen = ScreenConnections
		m.table.SetCursor(0)
		m.setMessage(m.stopBeforeReplay() + fmt.Sprintf("Loading session %d", s.ID))
		return m.coord.LoadSession(s.ID)

	case ScreenConnections, ScreenPicker:
		idx := m.table.Cursor()
		if idx < 0 || idx >= len(m.rows) {
			return nil
		}
		if !m.coord.SelectConnection(m.rows[idx].Identity) {
			m.setError(errors.New("connection is no longer present"))
			return nil
		}
		m.returnTo = m.screen
		m.screen = ScreenDetail
	}
	return nil
}

func (m *Model) toggleRecording() {
	if m.recorder.Recording() {
		s, err := m.recorder.StopRecording()
		if err != nil {
			m.setError(err)
			return
		}
		m.setMessage(fmt.Sprintf("Recording stopped: session %d, %d entries", s.ID, s.EntryCount))
		return
	}
	if m.coord.Mode().IsHistorical() {
		m.setError(errors.New("return to live data before recording"))
		return
	}
	s, err := m.recorder.StartRecording()
	if err != nil {
		m.setError(err)
		return
	}
	m.setMessage(fmt.Sprintf("Recording session %d", s.ID))
}

// stopBeforeReplay seals the open recording, since no snapshots are taken
// while a session is replayed. It returns a message prefix naming the
// stopped session, or "" when nothing was recording.
func (m *Model) stopBeforeReplay() string {
	if !m.recorder.Recording() {
		return ""
	}
	s, err := m.recorder.StopRecording()
	if err != nil {
		m.logger.Error(err, "Stopping the recording before replay failed")
		return ""
	}
	return fmt.Sprintf("Recording stopped: session %d, %d entries. ", s.ID, s.EntryCount)
}

func (m *Model) openPrompt(p prompt, label, placeholder, value string) tea.Cmd {
	m.prompt = p
	m.input.Prompt = label
	m.input.Placeholder = placeholder
	m.input.SetValue(value)
	m.input.CursorEnd()
	return m.input.Focus()
}

func (m *Model) closePrompt() {
	m.prompt = promptNone
	m.input.Blur()
	m.input.Reset()
}

func (m *Model) updatePrompt(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEsc:
		if m.prompt == promptSearch {
			m.updateCriteria(func(c *filter.Criteria) { c.Search = m.searchBefore })
		}
		m.closePrompt()
		return nil

	case tea.KeyEnter:
		p, value := m.prompt, m.input.Value()
		m.closePrompt()
		return m.submitPrompt(p, value)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.prompt == promptSearch {
		value := m.input.Value()
		m.updateCriteria(func(c *filter.Criteria) { c.Search = value })
	}
	return cmd
}

func (m *Model) submitPrompt(p prompt, value string) tea.Cmd {
	switch p {
	case promptCondition:
		if value == "" {
			m.updateCriteria(func(c *filter.Criteria) { c.Metrics = nil })
			m.setMessage("Metric filters cleared")
			return nil
		}
		mc, ok := filter.ParseMetricCondition(value)
		if !ok {
			m.setError(fmt.Errorf("unknown metric in %q", value))
			return nil
		}
		m.updateCriteria(func(c *filter.Criteria) { c.Metrics = append(c.Metrics, mc) })

	case promptExport:
		if value == "" {
			return nil
		}
		target, ok := m.exportTarget()
		if !ok {
			return nil
		}
		return m.exportCmd(value, target)

	case promptImport:
		if value == "" {
			return nil
		}
		return importCmd(value)
	}
	return nil
}

// exportTarget picks the session export writes: the highlighted one in the
// sessions list, the displayed one in historical mode, otherwise the
// recording in progress
func (m *Model) exportTarget() (models.Session, bool) {
	if m.screen == ScreenSessions {
		idx := m.sessions.Cursor()
		if idx >= 0 && idx < len(m.sessionList) {
			return m.sessionList[idx], true
		}
		return models.Session{}, false
	}
	if id, ok := m.coord.Mode().SessionID(); ok {
		s, err := m.recorder.Session(id)
		return s, err == nil
	}
	return m.recorder.ActiveSession()
}

func (m *Model) exportCmd(path string, session models.Session) tea.Cmd {
	var timeline []models.TimelineEntry
	if id, ok := m.coord.Mode().SessionID(); ok && id == session.ID && !m.coord.Loading() {
		timeline = m.coord.Timeline()
	}
	recorder := m.recorder
	return func() tea.Msg {
		entries := timeline
		if entries == nil {
			if session.Ongoing() {
				entries = recorder.ActiveTimeline()
			} else {
				loaded, err := recorder.LoadTimeline(context.Background(), session.ID)
				if err != nil {
					return exportedMsg{path: path, session: session, err: err}
				}
				entries = loaded
			}
		}
		err := export.WriteFile(path, session, entries)
		return exportedMsg{path: path, session: session, err: err}
	}
}

func importCmd(path string) tea.Cmd {
	return func() tea.Msg {
		session, timeline, err := export.ReadFile(path)
		return importedMsg{path: path, session: session, timeline: timeline, err: err}
	}
}

func (m *Model) handleImported(msg importedMsg) {
	if msg.err != nil {
		if errors.Is(msg.err, export.ErrInvalidFile) {
			m.setError(fmt.Errorf("%s is not a session export", msg.path))
		} else {
			m.setError(fmt.Errorf("import failed: %w", msg.err))
		}
		return
	}
	s, err := m.recorder.Import(msg.session, msg.timeline)
	if err != nil {
		if errors.Is(err, recording.ErrSessionFull) {
			m.setError(fmt.Errorf("%s has %d entries, more than the session limit", msg.path, len(msg.timeline)))
		} else {
			m.setError(fmt.Errorf("import failed: %w", err))
		}
		return
	}
	stopped := m.stopBeforeReplay()
	m.coord.EnterHistorical(s.ID, msg.timeline)
	m.screen = ScreenConnections
	m.table.SetCursor(0)
	m.setMessage(stopped + fmt.Sprintf("Imported %s as session %d", msg.path, s.ID))
}

// refresh pulls the displayed rows from the coordinator and recorder
func (m *Model) refresh() {
	switch m.screen {
	case ScreenDetail:
		if m.coord.SelectedConnection() == nil && !m.coord.Loading() {
			m.screen = m.returnTo
			m.setMessage("Selected connection closed")
			m.refresh()
		}
		return

	case ScreenSessions:
		m.sessionList = m.recorder.ListSessions()
		m.sessions.SetRows(m.sessionRows())
		clampCursor(&m.sessions, len(m.sessionList))
		return

	case ScreenPicker:
		m.rows = m.coord.PickerConnections()

	default:
		m.rows = m.coord.ActiveConnections()
	}
	m.table.SetRows(connectionRows(m.rows, m.table.Columns()))
	clampCursor(&m.table, len(m.rows))
}

func clampCursor(t *table.Model, n int) {
	switch {
	case n == 0:
		t.SetCursor(0)
	case t.Cursor() >= n:
		t.SetCursor(n - 1)
	case t.Cursor() < 0:
		t.SetCursor(0)
	}
}

func connectionRows(conns []models.ConnectionRecord, columns []table.Column) []table.Row {
	width := func(i int) int { return columns[i].Width }
	rows := make([]table.Row, 0, len(conns))
	for _, c := range conns {
		retr := "-"
		if c.Extended != nil {
			retr = fmt.Sprintf("%d", c.Retransmits())
		}
		rows = append(rows, table.Row{
			c.ObservedAt.Format("15:04:05"),
			truncate(models.JoinHostPort(c.LocalAddr, c.LocalPort), width(1)),
			truncate(models.JoinHostPort(c.RemoteAddr, c.RemotePort), width(2)),
			string(c.State),
			truncate(formatProcess(c), width(4)),
			c.Service(),
			formatRTT(c.RTT()),
			formatBitrate(c.InBandwidth()),
			formatBitrate(c.OutBandwidth()),
			retr,
		})
	}
	return rows
}

func (m *Model) sessionRows() []table.Row {
	viewing, _ := m.coord.Mode().SessionID()
	rows := make([]table.Row, 0, len(m.sessionList))
	for _, s := range m.sessionList {
		status := ""
		switch {
		case s.Ongoing():
			status = "recording"
		case m.coord.Mode().IsHistorical() && s.ID == viewing:
			status = "viewing"
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", s.ID),
			s.Start.Format("2006-01-02 15:04:05"),
			formatDuration(s.Duration(m.clock.Now())),
			fmt.Sprintf("%d", s.EntryCount),
			status,
		})
	}
	return rows
}
