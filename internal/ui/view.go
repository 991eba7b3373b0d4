package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/iolloyd/tcpdoctor/internal/downsample"
	"github.com/iolloyd/tcpdoctor/internal/models"
)

// View implements tea.Model
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n\n")

	switch m.screen {
	case ScreenDetail:
		b.WriteString(m.renderDetail())
	case ScreenSessions:
		b.WriteString(titleStyle.Render("Recorded sessions"))
		b.WriteString("\n")
		if len(m.sessionList) == 0 {
			b.WriteString(dimStyle.Render("  No sessions yet. Press r to record."))
		} else {
			b.WriteString(tableStyle.Render(m.sessions.View()))
		}
	case ScreenPicker:
		b.WriteString(titleStyle.Render("Pick a connection"))
		b.WriteString("\n")
		b.WriteString(m.renderConnections())
	default:
		b.WriteString(m.renderConnections())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m *Model) renderHeader() string {
	title := titleStyle.Render("tcpdoctor")

	var mode string
	if id, ok := m.coord.Mode().SessionID(); ok {
		mode = histStyle.Render(fmt.Sprintf("HISTORICAL #%d", id))
	} else {
		mode = liveStyle.Render("LIVE")
	}

	rec := ""
	if s, ok := m.recorder.ActiveSession(); ok {
		rec = recStyle.Render(fmt.Sprintf("● REC #%d (%d)", s.ID, s.EntryCount))
	}

	info := dimStyle.Render(fmt.Sprintf("source %s | every %s", m.source, m.coord.PollInterval()))
	header := lipgloss.JoinHorizontal(lipgloss.Center, title, mode, rec, " ", info)
	return barStyle.Width(m.width).Render(header)
}

func (m *Model) renderStatus() string {
	parts := []string{
		labelStyle.Render("Connections: ") + valueStyle.Render(fmt.Sprintf("%d", len(m.rows))),
		labelStyle.Render("Filter: ") + valueStyle.Render(describeCriteria(m.coord.FilterCriteria())),
	}
	switch {
	case m.coord.Loading():
		parts = append(parts, histStyle.Render("loading session…"))
	case !m.coord.Mode().IsHistorical() && !m.coord.LastUpdate().IsZero():
		parts = append(parts, labelStyle.Render("Updated: ")+valueStyle.Render(m.coord.LastUpdate().Format("15:04:05")))
	}
	status := strings.Join(parts, "  ")
	if err := m.coord.LastError(); err != nil {
		status += "\n" + errStyle.Render("Error: "+err.Error())
	}
	return status
}

func (m *Model) renderConnections() string {
	if len(m.rows) == 0 {
		switch {
		case m.coord.Loading():
			return dimStyle.Render("  Loading…")
		case !m.coord.Mode().IsHistorical() && m.coord.LastUpdate().IsZero():
			return dimStyle.Render("  Waiting for connection data…")
		case !m.coord.FilterCriteria().Empty():
			return dimStyle.Render("  No connections match the filter. Press x to clear it.")
		default:
			return dimStyle.Render("  No connections")
		}
	}
	return tableStyle.Render(m.table.View())
}

func (m *Model) renderFooter() string {
	var b strings.Builder
	if m.prompt != promptNone {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	} else if m.message != "" {
		if m.messageErr {
			b.WriteString(errStyle.Render(m.message))
		} else {
			b.WriteString(dimStyle.Render(m.message))
		}
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) renderDetail() string {
	conn := m.coord.SelectedConnection()
	if conn == nil {
		return dimStyle.Render("  Loading…")
	}

	var b strings.Builder
	field := func(label, value string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-14s", label)))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	b.WriteString(titleStyle.Render(conn.Identity.String()))
	b.WriteString("\n\n")
	field("State", string(conn.State))
	field("Process", formatProcess(*conn))
	field("Service", conn.Service())
	field("Observed", conn.ObservedAt.Format("2006-01-02 15:04:05"))

	if basic := conn.Basic; basic != nil {
		b.WriteString("\n")
		field("Bytes in", formatBytes(basic.BytesIn))
		field("Bytes out", formatBytes(basic.BytesOut))
		field("Segments", fmt.Sprintf("%s in / %s out", humanize.Comma(int64(basic.SegmentsIn)), humanize.Comma(int64(basic.SegmentsOut))))
	}

	if ext := conn.Extended; ext != nil {
		b.WriteString("\n")
		field("RTT", fmt.Sprintf("%s (var %s, min %s)", formatRTT(ext.RTT), formatRTT(ext.RTTVar), formatRTT(ext.MinRTT)))
		field("Bandwidth", fmt.Sprintf("%s in / %s out", formatBitrate(ext.InBandwidth), formatBitrate(ext.OutBandwidth)))
		field("Cwnd", fmt.Sprintf("%d segments", ext.CongestionWindow))
		field("Window scale", fmt.Sprintf("snd %d / rcv %d", ext.SendWindowScale, ext.RecvWindowScale))
		field("Retransmits", fmt.Sprintf("%d (fast %d)", ext.Retransmits, ext.FastRetransmits))
	} else {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("Extended statistics unavailable, run with elevated privileges"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderHistory(conn.Identity))

	width := max(m.width-4, 40)
	return boxStyle.Width(width).Render(b.String())
}

func (m *Model) renderHistory(id models.Identity) string {
	series := m.coord.HistoryFor(id)
	if len(series) == 0 {
		if m.coord.Mode().IsHistorical() {
			return dimStyle.Render("No history for this connection")
		}
		return dimStyle.Render("Press r to record and build a history")
	}

	points := m.historyPoints
	if m.width > 0 {
		points = min(points, max(m.width-30, 10))
	}

	var b strings.Builder
	line := func(label string, value func(models.TimeSeriesPoint) float64, format func(float64) string) {
		reduced := downsample.ReducePeaks(series, points, value)
		values := make([]float64, len(reduced))
		peak := 0.0
		for i, p := range reduced {
			values[i] = value(p)
			peak = max(peak, values[i])
		}
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-14s", label)))
		b.WriteString(sparkStyle.Render(sparkline(values)))
		b.WriteString(dimStyle.Render(" peak " + format(peak)))
		b.WriteString("\n")
	}

	b.WriteString(labelStyle.Render(fmt.Sprintf("History (%d samples since %s)", len(series), series[0].Time.Format("15:04:05"))))
	b.WriteString("\n")
	line("RTT", func(p models.TimeSeriesPoint) float64 { return p.RTT }, formatRTT)
	line("In", func(p models.TimeSeriesPoint) float64 { return p.InBandwidth }, formatBitrate)
	line("Out", func(p models.TimeSeriesPoint) float64 { return p.OutBandwidth }, formatBitrate)
	return b.String()
}
