// Package recording keeps recorded sessions in memory. A session is opened
// by StartRecording, receives one snapshot per live tick through
// AppendSnapshot and is sealed by StopRecording.
package recording

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-logr/logr"
	"github.com/iolloyd/tcpdoctor/internal/models"
	"github.com/samber/lo"
)

var (
	// ErrNotRecording is returned when no session is being recorded
	ErrNotRecording = errors.New("recording: not recording")
	// ErrAlreadyRecording is returned by StartRecording while a session is open
	ErrAlreadyRecording = errors.New("recording: already recording")
	// ErrSessionNotFound is returned for unknown session ids
	ErrSessionNotFound = errors.New("recording: session not found")
	// ErrSessionFull is returned when a snapshot would exceed the entry limit
	ErrSessionFull = errors.New("recording: session entry limit reached")
)

type session struct {
	meta    models.Session
	entries []models.TimelineEntry
}

// Options configures a Recorder
type Options struct {
	// MaxEntries caps the entries of one session, 0 means unbounded
	MaxEntries int
	Clock      clock.Clock
	Logger     logr.Logger
}

// Recorder manages recorded sessions
type Recorder struct {
	mu       sync.RWMutex
	sessions map[int64]*session
	active   *session
	nextID   int64

	maxEntries int
	clock      clock.Clock
	logger     logr.Logger
}

// NewRecorder creates an empty recorder
func NewRecorder(opts Options) *Recorder {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &Recorder{
		sessions:   make(map[int64]*session),
		nextID:     1,
		maxEntries: max(opts.MaxEntries, 0),
		clock:      clk,
		logger:     logger.WithName("recording"),
	}
}

// newSession registers a session under the next id. Callers hold mu.
func (r *Recorder) newSession(start, end time.Time) *session {
	s := &session{meta: models.Session{ID: r.nextID, Start: start, End: end}}
	r.sessions[s.meta.ID] = s
	r.nextID++
	return s
}

// StartRecording opens a new session
func (r *Recorder) StartRecording() (models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return r.active.meta, ErrAlreadyRecording
	}
	r.active = r.newSession(r.clock.Now(), time.Time{})
	r.logger.Info("Recording started", "sessionID", r.active.meta.ID)
	return r.active.meta, nil
}

// StopRecording seals the open session and returns its final metadata
func (r *Recorder) StopRecording() (models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return models.Session{}, ErrNotRecording
	}
	s := r.active
	s.meta.End = r.clock.Now()
	r.active = nil
	r.logger.Info("Recording stopped", "sessionID", s.meta.ID, "entries", s.meta.EntryCount, "duration", s.meta.Duration(s.meta.End))
	return s.meta, nil
}

// Recording returns true while a session is open
func (r *Recorder) Recording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active != nil
}

// ActiveSession returns the open session's metadata
func (r *Recorder) ActiveSession() (models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return models.Session{}, false
	}
	return r.active.meta, true
}

// AppendSnapshot appends one entry per connection, all stamped with at.
// A snapshot that does not fit under the entry limit is refused whole.
func (r *Recorder) AppendSnapshot(at time.Time, conns []models.ConnectionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return ErrNotRecording
	}
	s := r.active
	if r.maxEntries > 0 && len(s.entries)+len(conns) > r.maxEntries {
		r.logger.Info("Session entry limit reached, snapshot dropped",
			"sessionID", s.meta.ID, "limit", r.maxEntries, "snapshot", len(conns))
		return ErrSessionFull
	}

	for _, c := range conns {
		s.entries = append(s.entries, models.TimelineEntry{Timestamp: at, Connection: c})
	}
	s.meta.EntryCount = len(s.entries)
	return nil
}

// ActiveTimeline returns the entries recorded so far in the open session.
// Entries are never rewritten, so the returned slice stays valid.
func (r *Recorder) ActiveTimeline() []models.TimelineEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return nil
	}
	return slices.Clip(r.active.entries)
}

// ListSessions returns the metadata of every session, oldest first
func (r *Recorder) ListSessions() []models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := lo.MapToSlice(r.sessions, func(_ int64, s *session) models.Session {
		return s.meta
	})
	slices.SortFunc(list, func(a, b models.Session) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return list
}

// Session returns one session's metadata
func (r *Recorder) Session(id int64) (models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	return s.meta, nil
}

// LoadTimeline returns a session's entries in capture order
func (r *Recorder) LoadTimeline(ctx context.Context, id int64) ([]models.TimelineEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return slices.Clip(s.entries), nil
}

// Import registers an externally produced timeline as a new sealed session.
// Missing start and end times are taken from the first and last entries.
// A timeline longer than the entry limit is refused with ErrSessionFull.
func (r *Recorder) Import(meta models.Session, entries []models.TimelineEntry) (models.Session, error) {
	if r.maxEntries > 0 && len(entries) > r.maxEntries {
		r.logger.Info("Import exceeds the session entry limit",
			"originalID", meta.ID, "limit", r.maxEntries, "entries", len(entries))
		return models.Session{}, ErrSessionFull
	}

	start, end := meta.Start, meta.End
	if len(entries) > 0 {
		if start.IsZero() {
			start = entries[0].Timestamp
		}
		if end.IsZero() {
			end = entries[len(entries)-1].Timestamp
		}
	}
	if start.IsZero() {
		start = r.clock.Now()
	}
	if end.IsZero() {
		end = start
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.newSession(start, end)
	s.entries = slices.Clone(entries)
	s.meta.EntryCount = len(s.entries)
	r.logger.Info("Session imported", "sessionID", s.meta.ID, "originalID", meta.ID, "entries", len(entries))
	return s.meta, nil
}

// ClearAll drops every session, including the open one
func (r *Recorder) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.sessions)
	clear(r.sessions)
	r.active = nil
	r.logger.Info("Sessions cleared", "count", n)
}
