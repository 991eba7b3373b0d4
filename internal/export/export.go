// Package export reads and writes recorded sessions as JSON documents of the
// form {"session": {...}, "timeline": [...]}.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/iolloyd/tcpdoctor/internal/models"
)

// ErrInvalidFile is returned when a document cannot be decoded or carries no
// timeline array
var ErrInvalidFile = errors.New("export: invalid session file")

var jsonConfig = jsoniter.Config{
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

// Document is the serialized form of one session
type Document struct {
	Session  models.Session         `json:"session"`
	Timeline []models.TimelineEntry `json:"timeline"`
}

// wireDocument tells a missing timeline apart from an empty one
type wireDocument struct {
	Session  models.Session          `json:"session"`
	Timeline *[]models.TimelineEntry `json:"timeline"`
}

// Export writes session and its timeline to w
func Export(w io.Writer, session models.Session, timeline []models.TimelineEntry) error {
	if timeline == nil {
		timeline = []models.TimelineEntry{}
	}
	stream := jsonConfig.BorrowStream(w)
	defer jsonConfig.ReturnStream(stream)

	stream.WriteVal(Document{Session: session, Timeline: timeline})
	stream.WriteRaw("\n")
	if stream.Error != nil {
		return fmt.Errorf("encoding session %d: %w", session.ID, stream.Error)
	}
	return stream.Flush()
}

// Import decodes a document from r. Unknown fields are ignored and missing
// numeric fields read as zero; anything else that does not decode, or a
// document without a timeline array, yields ErrInvalidFile.
func Import(r io.Reader) (models.Session, []models.TimelineEntry, error) {
	var doc wireDocument
	if err := jsonConfig.NewDecoder(r).Decode(&doc); err != nil {
		return models.Session{}, nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if doc.Timeline == nil {
		return models.Session{}, nil, fmt.Errorf("%w: missing timeline", ErrInvalidFile)
	}

	timeline := *doc.Timeline
	for i := range timeline {
		c := &timeline[i].Connection
		c.State = models.ParseTCPState(string(c.State))
		if c.ObservedAt.IsZero() {
			c.ObservedAt = timeline[i].Timestamp
		}
	}
	return doc.Session, timeline, nil
}

// WriteFile exports a session to path
func WriteFile(path string, session models.Session, timeline []models.TimelineEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Export(f, session, timeline); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile imports a session from path
func ReadFile(path string) (models.Session, []models.TimelineEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Session{}, nil, err
	}
	defer f.Close()
	return Import(f)
}
