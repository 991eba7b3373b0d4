package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iolloyd/tcpdoctor/internal/filter"
	"github.com/iolloyd/tcpdoctor/internal/models"
)

type fetchResult struct {
	conns []models.ConnectionRecord
	err   error
}

// gatedSource blocks every fetch until a result is pushed. It ignores ctx
// so tests can exercise the generation guard on its own.
type gatedSource struct {
	results chan fetchResult

	mu       sync.Mutex
	calls    int
	criteria filter.Criteria
}

func newGatedSource() *gatedSource {
	return &gatedSource{results: make(chan fetchResult, 8)}
}

func (s *gatedSource) FetchConnections(_ context.Context, criteria filter.Criteria) ([]models.ConnectionRecord, error) {
	s.mu.Lock()
	s.calls++
	s.criteria = criteria
	s.mu.Unlock()

	r := <-s.results
	return r.conns, r.err
}

func (s *gatedSource) push(conns ...models.ConnectionRecord) {
	s.results <- fetchResult{conns: conns}
}

func (s *gatedSource) fail(err error) {
	s.results <- fetchResult{err: err}
}

func (s *gatedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// contextSource honours cancellation
type contextSource struct{}

func (contextSource) FetchConnections(ctx context.Context, _ filter.Criteria) ([]models.ConnectionRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeRecorder struct {
	recording bool
	appended  []time.Time
	entries   []models.TimelineEntry
	sessions  map[int64][]models.TimelineEntry
	gate      chan struct{}
}

func (r *fakeRecorder) Recording() bool { return r.recording }

func (r *fakeRecorder) AppendSnapshot(at time.Time, conns []models.ConnectionRecord) error {
	if !r.recording {
		return errors.New("not recording")
	}
	r.appended = append(r.appended, at)
	for _, c := range conns {
		r.entries = append(r.entries, models.TimelineEntry{Timestamp: at, Connection: c})
	}
	return nil
}

func (r *fakeRecorder) ActiveTimeline() []models.TimelineEntry { return r.entries }

func (r *fakeRecorder) LoadTimeline(ctx context.Context, id int64) ([]models.TimelineEntry, error) {
	if r.gate != nil {
		<-r.gate
	}
	entries, ok := r.sessions[id]
	if !ok {
		return nil, errors.New("no such session")
	}
	return entries, nil
}

func conn(localPort uint16, rtt float64) models.ConnectionRecord {
	return models.ConnectionRecord{
		Identity: models.Identity{LocalAddr: "10.0.0.2", LocalPort: localPort, RemoteAddr: "93.184.216.34", RemotePort: 443},
		State:    models.StateEstablished,
		Extended: &models.ExtendedStats{RTT: rtt},
	}
}

func entryAt(at time.Time, c models.ConnectionRecord) models.TimelineEntry {
	return models.TimelineEntry{Timestamp: at, Connection: c}
}
