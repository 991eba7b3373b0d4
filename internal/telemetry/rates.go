package telemetry

import (
	"time"
)

type byteCounters struct {
	at       time.Time
	bytesIn  uint64
	bytesOut uint64
}

// rateTracker derives bandwidth from successive byte counters of the same
// connection. Connections missing from a round are forgotten.
type rateTracker struct {
	last map[string]byteCounters
	seen map[string]struct{}
}

func newRateTracker() *rateTracker {
	return &rateTracker{
		last: make(map[string]byteCounters),
		seen: make(map[string]struct{}),
	}
}

// observe records the counters of key at time at and returns the inbound and
// outbound rates in bits per second. The first observation, a counter reset
// or a non-increasing clock reports 0.
func (t *rateTracker) observe(key string, at time.Time, bytesIn, bytesOut uint64) (inBps, outBps float64) {
	t.seen[key] = struct{}{}
	prev, ok := t.last[key]
	t.last[key] = byteCounters{at: at, bytesIn: bytesIn, bytesOut: bytesOut}
	if !ok {
		return 0, 0
	}

	elapsed := at.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}
	return rate(prev.bytesIn, bytesIn, elapsed), rate(prev.bytesOut, bytesOut, elapsed)
}

func rate(prev, cur uint64, seconds float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) * 8 / seconds
}

// sweep forgets connections not observed since the previous sweep
func (t *rateTracker) sweep() {
	for key := range t.last {
		if _, ok := t.seen[key]; !ok {
			delete(t.last, key)
		}
	}
	clear(t.seen)
}
