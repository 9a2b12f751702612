package membership

import (
	"errors"
	"slices"
	"sync"
)

// MaxParticipants is the hard cap on distinct users bound to one session.
const MaxParticipants = 2

// ErrSessionFull is returned when a third distinct user tries to bind.
var ErrSessionFull = errors.New("session already has two participants")

// Index is the in-memory routing table from users to their current session
// and from sessions to their bound participants. It is rebuilt from the store
// on restart and is never persisted.
type Index struct {
	mu       sync.Mutex
	current  map[int64]string
	sessions map[string][]int64
}

func NewIndex() *Index {
	return &Index{
		current:  make(map[int64]string),
		sessions: make(map[string][]int64),
	}
}

// Bind makes sessionID the user's current session and adds the user to the
// session's participant list. Binding an already-bound user only moves the
// current-session pointer.
func (x *Index) Bind(userID int64, sessionID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	participants := x.sessions[sessionID]
	if !slices.Contains(participants, userID) {
		if len(participants) >= MaxParticipants {
			return ErrSessionFull
		}
		x.sessions[sessionID] = append(participants, userID)
	}
	x.current[userID] = sessionID
	return nil
}

// Unbind forgets sessionID. Users whose current session is sessionID lose
// their pointer; users that have since moved on keep theirs.
func (x *Index) Unbind(sessionID string) []int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.unbindLocked(sessionID)
}

func (x *Index) unbindLocked(sessionID string) []int64 {
	participants := x.sessions[sessionID]
	for _, u := range participants {
		if x.current[u] == sessionID {
			delete(x.current, u)
		}
	}
	delete(x.sessions, sessionID)
	return participants
}

// SessionIDs returns the indexed session ids, sorted.
func (x *Index) SessionIDs() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	ids := make([]string, 0, len(x.sessions))
	for id := range x.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// UnbindMissing unbinds the sessions in indexed that are absent from active
// and returns the ids it dropped. Sessions bound after indexed was taken are
// left alone.
func (x *Index) UnbindMissing(indexed, active []string) []string {
	keep := make(map[string]struct{}, len(active))
	for _, id := range active {
		keep[id] = struct{}{}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	var dropped []string
	for _, id := range indexed {
		if _, ok := keep[id]; ok {
			continue
		}
		if _, ok := x.sessions[id]; !ok {
			continue
		}
		x.unbindLocked(id)
		dropped = append(dropped, id)
	}
	slices.Sort(dropped)
	return dropped
}

// SessionOf returns the user's current session.
func (x *Index) SessionOf(userID int64) (string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	id, ok := x.current[userID]
	return id, ok
}

// ParticipantsOf returns a copy of the users bound to sessionID in bind order.
func (x *Index) ParticipantsOf(sessionID string) []int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Clone(x.sessions[sessionID])
}

// IsBound reports whether userID is in sessionID's participant list.
func (x *Index) IsBound(userID int64, sessionID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Contains(x.sessions[sessionID], userID)
}

// AllParticipants returns the sorted union of users bound to any session.
func (x *Index) AllParticipants() []int64 {
	x.mu.Lock()
	seen := make(map[int64]struct{})
	for _, users := range x.sessions {
		for _, u := range users {
			seen[u] = struct{}{}
		}
	}
	x.mu.Unlock()

	out := make([]int64, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}

// Counts returns the number of indexed sessions and of users with a current
// session.
func (x *Index) Counts() (sessions, users int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.sessions), len(x.current)
}

// Binding is one user attached to one session, used to seed the index.
type Binding struct {
	SessionID string
	UserID    int64
}

// Rebuild replaces the whole index with bindings, applied in order. Bindings
// beyond the participant cap are skipped and counted.
func (x *Index) Rebuild(bindings []Binding) (skipped int) {
	x.mu.Lock()
	x.current = make(map[int64]string)
	x.sessions = make(map[string][]int64)
	x.mu.Unlock()

	for _, b := range bindings {
		if err := x.Bind(b.UserID, b.SessionID); err != nil {
			skipped++
		}
	}
	return skipped
}
