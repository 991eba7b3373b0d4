package coordinator

import "strconv"

// ViewMode is either Live or Historical(sessionID). The coordinator stores a
// single ViewMode value, so both can never be active at once.
type ViewMode struct {
	historical bool
	sessionID  int64
}

// Live returns the live view mode
func Live() ViewMode {
	return ViewMode{}
}

// Historical returns the view mode replaying the given session
func Historical(sessionID int64) ViewMode {
	return ViewMode{historical: true, sessionID: sessionID}
}

// IsHistorical returns true when a recorded session is displayed
func (m ViewMode) IsHistorical() bool {
	return m.historical
}

// SessionID returns the replayed session, ok is false in live mode
func (m ViewMode) SessionID() (id int64, ok bool) {
	return m.sessionID, m.historical
}

// String returns "live" or "historical(<id>)"
func (m ViewMode) String() string {
	if !m.historical {
		return "live"
	}
	return "historical(" + strconv.FormatInt(m.sessionID, 10) + ")"
}
