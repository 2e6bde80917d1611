package scanner

import "sync"

// Stats is a snapshot of the scanner state.
type Stats struct {
	Notified int64 `json:"notified"`
	Cached   int   `json:"cached"`
}

// State holds the dedup cache and the notification counter shared by all scan cycles.
// All methods are safe for concurrent use.
type State struct {
	mu       sync.Mutex
	seen     *seenSet
	notified int64
}

// NewState creates an empty scanner state.
func NewState() *State {
	return &State{seen: newSeenSet()}
}

// Seen reports whether the server ID was already accepted.
func (s *State) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.seen.has(id)
}

// Accept records the server ID and returns the new notification counter value.
func (s *State) Accept(id string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen.add(id)
	s.notified++
	return s.notified
}

// Prune shrinks the seen cache past limit and returns how many IDs were removed.
func (s *State) Prune(limit, keep int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.seen.prune(limit, keep)
}

// Reset empties the seen cache and zeroes the counter.
func (s *State) Reset() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := Stats{Notified: s.notified, Cached: s.seen.len()}
	s.seen.clear()
	s.notified = 0
	return before
}

// Stats returns the current counter and cache size.
func (s *State) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{Notified: s.notified, Cached: s.seen.len()}
}

// Notified returns the current notification counter.
func (s *State) Notified() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.notified
}
