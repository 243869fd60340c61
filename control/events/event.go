// Package events defines the structured simulation events emitted by
// drones and sessions as they run, and the bus that fans them out to
// observers (the console, the Prometheus collector, test harnesses).
package events

import (
	"time"

	"github.com/rolling-mesh/simcore/core/id"
	"github.com/rolling-mesh/simcore/core/packet"
	"github.com/rolling-mesh/simcore/core/topology"
)

// Event is the sealed set of things worth reporting out of the simulation.
// Adding a new variant means adding a new isEvent method, which is
// intentional: every observer's switch must be updated to consider it.
type Event interface {
	isEvent()
}

// PacketSent records a node (drone, client or server) sending or
// forwarding a packet to a neighbour.
type PacketSent struct {
	At        time.Time
	From, To  id.NodeID
	Kind      packet.Kind
	SessionID uint64
}

func (PacketSent) isEvent() {}

// PacketDropped records a packet that a drone discarded instead of
// forwarding, together with why.
type PacketDropped struct {
	At     time.Time
	Node   id.NodeID
	Reason packet.NackReasonKind
	Kind   packet.Kind
}

func (PacketDropped) isEvent() {}

// ControllerShortcut records the controller stepping in to resolve a
// packet that a drone could not forward because it has no link to the
// packet's next hop.
type ControllerShortcut struct {
	At      time.Time
	AtNode  id.NodeID
	NextHop id.NodeID
	Kind    packet.Kind
}

func (ControllerShortcut) isEvent() {}

// FloodInitiated records a node starting a new discovery flood.
type FloodInitiated struct {
	At          time.Time
	InitiatorID id.NodeID
	FloodID     uint64
}

func (FloodInitiated) isEvent() {}

// GraphSnapshot carries a point-in-time copy of a node's learned topology,
// for observers that want to render or export it.
type GraphSnapshot struct {
	At   time.Time
	Node id.NodeID
	View topology.Snapshot
}

func (GraphSnapshot) isEvent() {}

// SessionMessage records an application-level message delivered end to end
// through the session layer (a client's chat message reaching a server, or
// a server's reply reaching a client).
type SessionMessage struct {
	At           time.Time
	From, To     id.NodeID
	SessionID    uint64
	PayloadBytes int
}

func (SessionMessage) isEvent() {}

// stamp returns e with its At field set to t. Each variant carries its own
// At field rather than the interface, so this is a type switch rather than
// a shared embedded struct — keeping Event a plain marker interface, per
// the same closed-sum-type convention packet.Kind uses.
func stamp(e Event, t time.Time) Event {
	switch v := e.(type) {
	case PacketSent:
		v.At = t
		return v
	case PacketDropped:
		v.At = t
		return v
	case ControllerShortcut:
		v.At = t
		return v
	case FloodInitiated:
		v.At = t
		return v
	case GraphSnapshot:
		v.At = t
		return v
	case SessionMessage:
		v.At = t
		return v
	default:
		return e
	}
}
