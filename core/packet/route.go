// Package packet defines the wire types exchanged between nodes: the
// source-routing header, the closed set of packet kinds, and the packet
// envelope that carries a session identifier alongside them.
//
// Trades byte-level wire framing (there is no real transport here) for a
// closed Go sum type: tagged variants for packet kinds, avoiding open
// inheritance.
package packet

import (
	"errors"
	"fmt"

	"github.com/rolling-mesh/simcore/core/id"
)

// FragmentSize is the maximum byte length of a single message fragment (L).
const FragmentSize = 128

var (
	// ErrHopIndexOutOfRange is returned when hop_index does not index hops.
	ErrHopIndexOutOfRange = errors.New("packet: hop_index out of range")
	// ErrNotSelf is returned when the handling node is not named at hop_index.
	ErrNotSelf = errors.New("packet: handling node is not hops[hop_index]")
)

// SourceRouteHeader is the full path from originator to destination plus a
// cursor pointing at the node whose turn it is to act on the packet.
type SourceRouteHeader struct {
	Hops     []id.NodeID
	HopIndex int
}

// NewRoute builds a header positioned at the first hop.
func NewRoute(hops []id.NodeID) SourceRouteHeader {
	cp := make([]id.NodeID, len(hops))
	copy(cp, hops)
	return SourceRouteHeader{Hops: cp, HopIndex: 0}
}

// Validate checks the header's two structural invariants: hop_index must
// index into Hops, and self must be the node named at that index.
func (h SourceRouteHeader) Validate(self id.NodeID) error {
	if h.HopIndex < 0 || h.HopIndex >= len(h.Hops) {
		return fmt.Errorf("%w: index %d, len %d", ErrHopIndexOutOfRange, h.HopIndex, len(h.Hops))
	}
	if h.Hops[h.HopIndex] != self {
		return fmt.Errorf("%w: self %v, hops[%d]=%v", ErrNotSelf, self, h.HopIndex, h.Hops[h.HopIndex])
	}
	return nil
}

// Self returns the node whose turn it is to act, per the invariant.
func (h SourceRouteHeader) Self() id.NodeID {
	return h.Hops[h.HopIndex]
}

// AtLastHop reports whether hop_index names the final node in the path.
func (h SourceRouteHeader) AtLastHop() bool {
	return h.HopIndex+1 >= len(h.Hops)
}

// NextHop returns the node the packet should move to next and true, or the
// zero value and false if already at the last hop.
func (h SourceRouteHeader) NextHop() (id.NodeID, bool) {
	if h.AtLastHop() {
		return 0, false
	}
	return h.Hops[h.HopIndex+1], true
}

// Advanced returns a copy of the header with hop_index incremented, used
// when a drone forwards a fragment to the next hop.
func (h SourceRouteHeader) Advanced() SourceRouteHeader {
	return SourceRouteHeader{Hops: h.Hops, HopIndex: h.HopIndex + 1}
}

// ReversedPrefix returns the reverse of hops[0..=uptoInclusive], positioned
// at its first hop. This is how Ack/Nack headers are built: the prefix of
// the outgoing route the fragment actually traversed, walked backwards.
func (h SourceRouteHeader) ReversedPrefix(uptoInclusive int) SourceRouteHeader {
	if uptoInclusive < 0 {
		uptoInclusive = 0
	}
	if uptoInclusive >= len(h.Hops) {
		uptoInclusive = len(h.Hops) - 1
	}
	prefix := h.Hops[:uptoInclusive+1]
	reversed := make([]id.NodeID, len(prefix))
	for i, n := range prefix {
		reversed[len(prefix)-1-i] = n
	}
	return SourceRouteHeader{Hops: reversed, HopIndex: 0}
}

// Reversed returns the full path reversed, positioned at its first hop.
// Used to build a response session's outgoing route from a request route.
func (h SourceRouteHeader) Reversed() SourceRouteHeader {
	return h.ReversedPrefix(len(h.Hops) - 1)
}

// Origin returns the route's starting node.
func (h SourceRouteHeader) Origin() id.NodeID {
	return h.Hops[0]
}

// Destination returns the route's final node.
func (h SourceRouteHeader) Destination() id.NodeID {
	return h.Hops[len(h.Hops)-1]
}
