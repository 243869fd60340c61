// Package flood implements the discovery protocol: how a node
// (drone, or a client/server caught in the interior of someone else's
// flood) processes an incoming FloodRequest, and how an initiator folds an
// incoming FloodResponse into its topology view.
//
// The package only decides; the caller performs the I/O. device/drone and
// device/session both call Coordinator and then do the actual sending on
// their own links.
package flood

import (
	"github.com/rolling-mesh/simcore/core/flooddedupe"
	"github.com/rolling-mesh/simcore/core/id"
	"github.com/rolling-mesh/simcore/core/packet"
)

// Action is the outcome of processing an incoming FloodRequest at one node.
type Action int

const (
	// RespondImmediately means: send a FloodResponse back along the link
	// the request arrived on, carrying UpdatedTrace. This covers both the
	// "already seen this flood" case and the "leaf node" case.
	RespondImmediately Action = iota
	// Forward means: rebroadcast the request (with UpdatedTrace) on every
	// outgoing link named in ForwardTo.
	Forward
)

// Result is the decision produced by HandleRequest.
type Result struct {
	Action       Action
	UpdatedTrace []id.NodeInfo
	ForwardTo    []id.NodeID // populated only when Action == Forward
}

// Coordinator tracks which floods a single node has already processed, so
// repeated deliveries of the same (initiator, flood_id) don't rebroadcast.
type Coordinator struct {
	self id.NodeInfo
	seen *flooddedupe.Seen
}

// New creates a Coordinator for a node identified by self.
func New(self id.NodeInfo) *Coordinator {
	return &Coordinator{self: self, seen: flooddedupe.New()}
}

// HandleRequest implements the per-node flood request processing rule:
//
//   - If (initiator_id, flood_id) was already seen: append self to the
//     trace and respond immediately, without forwarding again (this is
//     what bounds a flood to at most one outbound copy per link).
//   - Otherwise mark it seen, append self, and either respond immediately
//     (if this node has at most one outgoing link — a leaf) or forward on
//     every outgoing link except the one the request arrived on.
//
// outgoingLinks lists every neighbor this node can currently send to.
// arrivedFrom is the neighbor the request was received from.
func (c *Coordinator) HandleRequest(req packet.FloodRequest, arrivedFrom id.NodeID, outgoingLinks []id.NodeID) Result {
	trace := append(append([]id.NodeInfo{}, req.PathTrace...), c.self)

	key := flooddedupe.Key{InitiatorID: req.InitiatorID, FloodID: req.FloodID}
	if c.seen.Check(key) {
		return Result{Action: RespondImmediately, UpdatedTrace: trace}
	}

	if len(outgoingLinks) <= 1 {
		return Result{Action: RespondImmediately, UpdatedTrace: trace}
	}

	forwardTo := make([]id.NodeID, 0, len(outgoingLinks)-1)
	for _, n := range outgoingLinks {
		if n != arrivedFrom {
			forwardTo = append(forwardTo, n)
		}
	}
	return Result{Action: Forward, UpdatedTrace: trace, ForwardTo: forwardTo}
}
