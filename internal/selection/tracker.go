// Package selection keeps the inspected connection stable across refreshes.
package selection

import (
	"github.com/iolloyd/tcpdoctor/internal/models"
)

// Tracker holds the currently inspected connection. The stored record is
// replaced on every refresh so its counters never go stale.
type Tracker struct {
	current *models.ConnectionRecord
}

// Select resolves id against list and makes it the selection. It returns
// false, and clears the selection, when id is not in the list.
func (t *Tracker) Select(id models.Identity, list []models.ConnectionRecord) bool {
	t.current = resolve(id, list)
	return t.current != nil
}

// Refresh re-resolves the selected identity against a new list, dropping
// the selection when the connection disappeared.
func (t *Tracker) Refresh(list []models.ConnectionRecord) {
	if t.current == nil {
		return
	}
	t.current = resolve(t.current.Identity, list)
}

// Selected returns a copy of the selected record, or nil
func (t *Tracker) Selected() *models.ConnectionRecord {
	if t.current == nil {
		return nil
	}
	rec := *t.current
	return &rec
}

// Identity returns the selected identity
func (t *Tracker) Identity() (models.Identity, bool) {
	if t.current == nil {
		return models.Identity{}, false
	}
	return t.current.Identity, true
}

// Clear drops the selection
func (t *Tracker) Clear() {
	t.current = nil
}

// resolve finds id in list. When the list holds the identity more than once
// (historical lists) the last, most recent, occurrence wins.
func resolve(id models.Identity, list []models.ConnectionRecord) *models.ConnectionRecord {
	for i := len(list) - 1; i >= 0; i-- {
		if models.SameIdentity(list[i].Identity, id) {
			rec := list[i]
			return &rec
		}
	}
	return nil
}
