package timeline

import (
	"testing"
	"time"

	"github.com/iolloyd/tcpdoctor/internal/downsample"
	"github.com/iolloyd/tcpdoctor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	idA = models.Identity{LocalAddr: "10.0.0.2", LocalPort: 50000, RemoteAddr: "1.1.1.1", RemotePort: 443}
	idB = models.Identity{LocalAddr: "10.0.0.2", LocalPort: 50001, RemoteAddr: "8.8.8.8", RemotePort: 53}
	t0  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func entry(at time.Time, id models.Identity, rtt float64) models.TimelineEntry {
	return models.TimelineEntry{
		Timestamp: at,
		Connection: models.ConnectionRecord{
			Identity: id,
			State:    models.StateEstablished,
			Extended: &models.ExtendedStats{RTT: rtt, InBandwidth: rtt * 10, OutBandwidth: rtt * 20},
		},
	}
}

func TestConnectionsStampsEntryTime(t *testing.T) {
	t1, t2 := t0.Add(time.Second), t0.Add(2*time.Second)
	entries := []models.TimelineEntry{entry(t1, idA, 10), entry(t1, idB, 5), entry(t2, idA, 20)}

	got := Connections(entries)
	require.Len(t, got, 3)
	assert.Equal(t, t1, got[0].ObservedAt)
	assert.Equal(t, t1, got[1].ObservedAt)
	assert.Equal(t, t2, got[2].ObservedAt)
	assert.Equal(t, idB, got[1].Identity)

	// The stored entries are not modified.
	assert.True(t, entries[0].Connection.ObservedAt.IsZero())
}

func TestLatestMostRecentWins(t *testing.T) {
	t1, t2, t3 := t0.Add(time.Second), t0.Add(2*time.Second), t0.Add(3*time.Second)
	entries := []models.TimelineEntry{
		entry(t1, idA, 10),
		entry(t2, idA, 20),
		entry(t2, idB, 7),
		entry(t3, idA, 30),
	}

	got := Latest(entries)
	require.Len(t, got, 2)

	assert.Equal(t, idA, got[0].Identity)
	assert.Equal(t, t3, got[0].ObservedAt)
	assert.Equal(t, 30.0, got[0].RTT())

	assert.Equal(t, idB, got[1].Identity)
	assert.Equal(t, t2, got[1].ObservedAt)
	assert.Equal(t, 7.0, got[1].RTT())
}

func TestHistoryPreservesOrder(t *testing.T) {
	entries := []models.TimelineEntry{
		entry(t0.Add(1*time.Second), idA, 10),
		entry(t0.Add(1*time.Second), idB, 99),
		entry(t0.Add(2*time.Second), idA, 20),
		entry(t0.Add(3*time.Second), idA, 15),
	}

	series := History(idA, entries)
	require.Len(t, series, 3)

	rtts := []float64{series[0].RTT, series[1].RTT, series[2].RTT}
	assert.Equal(t, []float64{10, 20, 15}, rtts)
	assert.Equal(t, 200.0, series[1].InBandwidth)
	assert.Equal(t, 400.0, series[1].OutBandwidth)

	assert.Equal(t, series, downsample.Reduce(series, 100))
}

func TestHistoryMissingExtendedStats(t *testing.T) {
	e := models.TimelineEntry{Timestamp: t0, Connection: models.ConnectionRecord{Identity: idA}}
	series := History(idA, []models.TimelineEntry{e})
	require.Len(t, series, 1)
	assert.Zero(t, series[0].RTT)
}

func TestEmptyTimeline(t *testing.T) {
	assert.Empty(t, Connections(nil))
	assert.Empty(t, Latest(nil))
	assert.Empty(t, History(idA, nil))
	assert.Empty(t, History(idB, []models.TimelineEntry{entry(t0, idA, 1)}))
}
