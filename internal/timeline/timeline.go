// Package timeline reconciles a recorded session's ordered entries into the
// views the dashboard needs: a point-in-time connection list, a per-connection
// time series and a deduplicated picker list.
package timeline

import (
	"github.com/samber/lo"

	"github.com/iolloyd/tcpdoctor/internal/models"
)

// Connections turns every entry into a connection record stamped with the
// entry's own capture time, in timeline order.
func Connections(entries []models.TimelineEntry) []models.ConnectionRecord {
	return lo.Map(entries, func(e models.TimelineEntry, _ int) models.ConnectionRecord {
		return stamped(e)
	})
}

func stamped(e models.TimelineEntry) models.ConnectionRecord {
	rec := e.Connection
	rec.ObservedAt = e.Timestamp
	return rec
}

// History extracts the samples of one connection, keeping chronological order.
// An identity with no entries yields an empty series.
func History(id models.Identity, entries []models.TimelineEntry) []models.TimeSeriesPoint {
	var out []models.TimeSeriesPoint
	for _, e := range entries {
		if !models.SameIdentity(e.Connection.Identity, id) {
			continue
		}
		out = append(out, models.TimeSeriesPoint{
			Time:         e.Timestamp,
			RTT:          e.Connection.RTT(),
			InBandwidth:  e.Connection.InBandwidth(),
			OutBandwidth: e.Connection.OutBandwidth(),
		})
	}
	return out
}

// Latest keeps the most recent occurrence of every identity, scanning from
// the newest entry backwards. The result is ordered newest first.
func Latest(entries []models.TimelineEntry) []models.ConnectionRecord {
	seen := make(map[string]struct{})
	var out []models.ConnectionRecord
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		key := e.Connection.Identity.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, stamped(e))
	}
	return out
}
