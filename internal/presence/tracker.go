// Package presence tracks which agent sessions are alive, based on the IPC
// calls they make. The daemon consults it for the status method's
// active-session count; it is in-memory only and rebuilt on restart.
package presence

import (
	"sort"
	"sync"
	"time"
)

// DefaultStaleThreshold is how long a session can stay silent before it is
// excluded from the active count.
const DefaultStaleThreshold = 15 * time.Minute

// Entry is a snapshot of one session's presence state.
type Entry struct {
	SessionID  string    `json:"session_id"`
	Agent      string    `json:"agent,omitempty"`
	LastMethod string    `json:"last_method"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	CallCount  int64     `json:"call_count"`
	IdleSecs   float64   `json:"idle_secs"`
}

type sessionState struct {
	agent      string
	lastMethod string
	firstSeen  time.Time
	lastSeen   time.Time
	callCount  int64
}

// Tracker maintains the in-memory session roster.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{sessions: make(map[string]*sessionState)}
}

// RecordCall notes that a session made an IPC call. Calls without a session
// ID are ignored.
func (t *Tracker) RecordCall(sessionID, agent, method string) {
	if sessionID == "" {
		return
	}

	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.sessions[sessionID]
	if !ok {
		state = &sessionState{firstSeen: now}
		t.sessions[sessionID] = state
	}
	state.lastSeen = now
	state.lastMethod = method
	state.callCount++
	if agent != "" {
		state.agent = agent
	}
}

// ActiveCount returns the number of sessions seen within the threshold.
// A threshold of 0 counts every session ever seen.
func (t *Tracker) ActiveCount(staleThreshold time.Duration) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := time.Now()
	n := 0
	for _, state := range t.sessions {
		if staleThreshold > 0 && now.Sub(state.lastSeen) > staleThreshold {
			continue
		}
		n++
	}
	return n
}

// Roster returns a snapshot of sessions seen within the threshold, most
// recently active first. A threshold of 0 includes everything.
func (t *Tracker) Roster(staleThreshold time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := time.Now()
	entries := make([]Entry, 0, len(t.sessions))
	for id, state := range t.sessions {
		idle := now.Sub(state.lastSeen)
		if staleThreshold > 0 && idle > staleThreshold {
			continue
		}
		entries = append(entries, Entry{
			SessionID:  id,
			Agent:      state.agent,
			LastMethod: state.lastMethod,
			FirstSeen:  state.firstSeen,
			LastSeen:   state.lastSeen,
			CallCount:  state.callCount,
			IdleSecs:   idle.Seconds(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries
}

// Prune drops sessions idle for longer than olderThan and returns how many
// were removed. Keeps the map bounded on long-running daemons.
func (t *Tracker) Prune(olderThan time.Duration) int {
	if olderThan <= 0 {
		return 0
	}

	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, state := range t.sessions {
		if now.Sub(state.lastSeen) > olderThan {
			delete(t.sessions, id)
			removed++
		}
	}
	return removed
}
