// Package flooddedupe tracks which flood discoveries a node has already
// processed, so a FloodRequest is answered at most once per (initiator,
// flood_id) and never rebroadcast in a loop.
//
// The flood key is a small, explicit (initiator, flood_id) pair, so the
// visited set is a plain map with no hashing or eviction; a
// simulation-scoped run never sees enough floods for that to matter.
package flooddedupe

import "github.com/rolling-mesh/simcore/core/id"

// Key identifies one flood discovery.
type Key struct {
	InitiatorID id.NodeID
	FloodID     uint64
}

// Seen records which flood keys a node has already processed.
type Seen struct {
	seen map[Key]struct{}
}

// New creates an empty Seen set.
func New() *Seen {
	return &Seen{seen: make(map[Key]struct{})}
}

// Check reports whether key has been seen before. If not, it records the
// key and returns false, so callers get check-and-insert in one step.
func (s *Seen) Check(key Key) bool {
	if _, ok := s.seen[key]; ok {
		return true
	}
	s.seen[key] = struct{}{}
	return false
}

// Has reports whether key has been recorded, without inserting it.
func (s *Seen) Has(key Key) bool {
	_, ok := s.seen[key]
	return ok
}

// Count returns the number of distinct floods seen.
func (s *Seen) Count() int {
	return len(s.seen)
}
