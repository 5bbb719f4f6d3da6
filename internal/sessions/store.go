// Package sessions tracks metadata about agent sessions from two boundary
// sources: per-session snapshot files on disk and the external runtime CLI.
// The monitor core only consumes it for display state and for resolving
// sessionId -> sessionKey.
package sessions

import (
	"sync"

	"clawmon/internal/monitor"
)

// Store is the in-memory session table keyed by sessionKey. An optional
// update hook observes every write, for broadcasting to dashboard clients.
type Store struct {
	mu       sync.Mutex
	entries  map[string]monitor.SessionEntry
	onUpdate func(sessionKey string, entry monitor.SessionEntry)
}

// NewStore constructs an empty session store.
func NewStore() *Store {
	return &Store{entries: make(map[string]monitor.SessionEntry)}
}

// OnUpdate registers the hook invoked after every Put and Delete-surviving
// update. Must be called before the store receives traffic.
func (s *Store) OnUpdate(fn func(sessionKey string, entry monitor.SessionEntry)) {
	s.onUpdate = fn
}

// Put inserts or replaces a session entry.
func (s *Store) Put(sessionKey string, entry monitor.SessionEntry) {
	if sessionKey == "" {
		return
	}
	entry.SessionKey = sessionKey

	s.mu.Lock()
	s.entries[sessionKey] = entry
	s.mu.Unlock()

	if s.onUpdate != nil {
		s.onUpdate(sessionKey, entry)
	}
}

// Delete removes a session entry.
func (s *Store) Delete(sessionKey string) {
	s.mu.Lock()
	delete(s.entries, sessionKey)
	s.mu.Unlock()
}

// Get returns the entry for sessionKey.
func (s *Store) Get(sessionKey string) (monitor.SessionEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[sessionKey]
	return entry, ok
}

// All returns a snapshot of every entry.
func (s *Store) All() []monitor.SessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]monitor.SessionEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	return out
}

// KeysBySessionID returns the sessionId -> sessionKey mapping derived from
// the current entries, consumed by the log tail for event attribution.
func (s *Store) KeysBySessionID() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.entries))
	for key, entry := range s.entries {
		if entry.SessionID != "" {
			out[entry.SessionID] = key
		}
	}
	return out
}

// Len returns the number of tracked sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
