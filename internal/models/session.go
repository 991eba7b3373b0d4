package models

import "time"

// Session is the metadata of a recording. A zero End means the recording
// is still running.
type Session struct {
	ID         int64     `json:"id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	EntryCount int       `json:"entry_count"`
}

// Ongoing returns true while the session has not been sealed
func (s Session) Ongoing() bool {
	return s.End.IsZero()
}

// Duration returns the recorded span; ongoing sessions are measured up to now
func (s Session) Duration(now time.Time) time.Duration {
	if s.Ongoing() {
		return now.Sub(s.Start)
	}
	return s.End.Sub(s.Start)
}

// TimelineEntry is one (timestamp, connection) pair of a session. Entries are
// immutable once appended and stored in capture order.
type TimelineEntry struct {
	Timestamp  time.Time        `json:"timestamp"`
	Connection ConnectionRecord `json:"connection"`
}

// TimeSeriesPoint is one sample of a single connection's history
type TimeSeriesPoint struct {
	Time         time.Time `json:"time"`
	RTT          float64   `json:"rtt_ms"`
	InBandwidth  float64   `json:"in_bps"`
	OutBandwidth float64   `json:"out_bps"`
}
