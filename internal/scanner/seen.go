package scanner

import "github.com/cespare/xxhash/v2"

// seenSet is an insertion-ordered set of hashed server IDs.
// It is not safe for concurrent use; State serializes access.
type seenSet struct {
	keys  map[uint64]struct{}
	order []uint64
}

func newSeenSet() *seenSet {
	return &seenSet{keys: make(map[uint64]struct{})}
}

func (s *seenSet) has(id string) bool {
	_, ok := s.keys[xxhash.Sum64String(id)]
	return ok
}

// add inserts id and reports whether it was absent.
func (s *seenSet) add(id string) bool {
	hash := xxhash.Sum64String(id)
	if _, ok := s.keys[hash]; ok {
		return false
	}
	s.keys[hash] = struct{}{}
	s.order = append(s.order, hash)
	return true
}

func (s *seenSet) len() int {
	return len(s.keys)
}

func (s *seenSet) clear() {
	s.keys = make(map[uint64]struct{})
	s.order = nil
}

// prune shrinks the set once it grows past limit.
// keep == 0 clears everything, otherwise the oldest entries are dropped until keep remain.
// keep is capped at limit, so a pruned set never stays above limit.
// It returns the number of removed entries.
func (s *seenSet) prune(limit, keep int) int {
	size := len(s.keys)
	if size <= limit {
		return 0
	}

	if keep <= 0 {
		s.clear()
		return size
	}

	keep = min(keep, limit)
	drop := len(s.order) - keep
	for _, hash := range s.order[:drop] {
		delete(s.keys, hash)
	}

	// copy to release the dropped prefix
	s.order = append([]uint64(nil), s.order[drop:]...)
	return drop
}
