package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iolloyd/tcpdoctor/internal/filter"
	"github.com/iolloyd/tcpdoctor/internal/models"
)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// sparkline renders values as a row of block characters scaled to the
// series maximum
func sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	peak := 0.0
	for _, v := range values {
		peak = max(peak, v)
	}

	var b strings.Builder
	for _, v := range values {
		idx := 0
		if peak > 0 && v > 0 {
			idx = int(v / peak * float64(len(sparkRunes)-1))
		}
		b.WriteRune(sparkRunes[min(max(idx, 0), len(sparkRunes)-1)])
	}
	return b.String()
}

func formatRTT(ms float64) string {
	switch {
	case ms <= 0:
		return "-"
	case ms < 1:
		return fmt.Sprintf("%.0fµs", ms*1000)
	case ms < 1000:
		return fmt.Sprintf("%.1fms", ms)
	default:
		return fmt.Sprintf("%.2fs", ms/1000)
	}
}

func formatBitrate(bps float64) string {
	if bps <= 0 {
		return "-"
	}
	return humanize.SIWithDigits(bps, 1, "b/s")
}

func formatBytes(n uint64) string {
	if n == 0 {
		return "-"
	}
	return humanize.IBytes(n)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(time.Second).String()
}

func formatProcess(c models.ConnectionRecord) string {
	switch {
	case c.PID <= 0:
		return "-"
	case c.ProcessName == "":
		return fmt.Sprintf("%d", c.PID)
	default:
		return fmt.Sprintf("%s (%d)", c.ProcessName, c.PID)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// describeCriteria summarizes the active filter for the status line
func describeCriteria(c filter.Criteria) string {
	if c.Empty() {
		return "no filter"
	}
	var parts []string
	if c.Search != "" {
		parts = append(parts, fmt.Sprintf("search %q", c.Search))
	}
	if c.Family != filter.FamilyAny {
		parts = append(parts, c.Family.String()+" only")
	}
	if c.State != models.StateUnknown {
		parts = append(parts, "state "+string(c.State))
	}
	if c.HidePrivate {
		parts = append(parts, "no private")
	}
	if c.HideLoopback {
		parts = append(parts, "no loopback")
	}
	for _, mc := range c.Metrics {
		parts = append(parts, mc.String())
	}
	return strings.Join(parts, ", ")
}

// nextState cycles any -> each known state -> any
func nextState(s models.TCPState) models.TCPState {
	if s == models.StateUnknown {
		return models.States[0]
	}
	for i, st := range models.States {
		if st == s && i+1 < len(models.States) {
			return models.States[i+1]
		}
	}
	return models.StateUnknown
}
