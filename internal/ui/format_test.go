package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iolloyd/tcpdoctor/internal/filter"
	"github.com/iolloyd/tcpdoctor/internal/models"
)

func TestSparkline(t *testing.T) {
	assert.Equal(t, "", sparkline(nil))
	assert.Equal(t, "▁▁▁", sparkline([]float64{0, 0, 0}))
	assert.Equal(t, "▁▄█", sparkline([]float64{0, 50, 100}))
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "-", formatRTT(0))
	assert.Equal(t, "250µs", formatRTT(0.25))
	assert.Equal(t, "12.5ms", formatRTT(12.5))
	assert.Equal(t, "1.50s", formatRTT(1500))

	assert.Equal(t, "-", formatBitrate(0))
	assert.Equal(t, "1.5 kb/s", formatBitrate(1500))

	assert.Equal(t, "-", formatBytes(0))
	assert.Equal(t, "1.0 KiB", formatBytes(1024))

	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "1m30s", formatDuration(90*time.Second))

	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
}

func TestDescribeCriteria(t *testing.T) {
	assert.Equal(t, "no filter", describeCriteria(filter.Criteria{}))
	c := filter.Criteria{
		Search:      "redis",
		Family:      filter.FamilyIPv6,
		HidePrivate: true,
		Metrics:     []filter.MetricCondition{{Field: filter.FieldRTT, Expr: "> 50"}},
	}
	assert.Equal(t, `search "redis", ipv6 only, no private, rtt > 50`, describeCriteria(c))
}

func TestNextStateCycles(t *testing.T) {
	s := models.StateUnknown
	seen := 0
	for {
		s = nextState(s)
		if s == models.StateUnknown {
			break
		}
		seen++
	}
	assert.Equal(t, len(models.States), seen)
}
