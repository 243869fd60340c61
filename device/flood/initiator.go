package flood

import (
	"github.com/rolling-mesh/simcore/core/id"
	"github.com/rolling-mesh/simcore/core/packet"
	"github.com/rolling-mesh/simcore/core/topology"
)

// Initiator tracks this node's own flood epochs: the newest flood_id it
// has started or received a response for, and whether any flood_id has
// been recorded yet.
type Initiator struct {
	self        id.NodeInfo
	newestFlood uint64
	haveFlood   bool
}

// NewInitiator creates flood-origination state for a node.
func NewInitiator(self id.NodeInfo) *Initiator {
	return &Initiator{self: self}
}

// NextFloodID allocates the next flood_id for a new flood started by this
// node: max(seen)+1, so flood ids are monotonic per initiator.
func (in *Initiator) NextFloodID() uint64 {
	if !in.haveFlood {
		in.haveFlood = true
		in.newestFlood = 1
		return in.newestFlood
	}
	in.newestFlood++
	return in.newestFlood
}

// BuildRequest constructs the initial FloodRequest for a freshly allocated
// flood_id, with this node as the sole entry in the path trace so far.
func (in *Initiator) BuildRequest(floodID uint64) packet.FloodRequest {
	return packet.FloodRequest{
		FloodID:     floodID,
		InitiatorID: in.self.ID,
		PathTrace:   []id.NodeInfo{in.self},
	}
}

// ApplyResponse folds a FloodResponse into the initiator's topology view:
// responses for an outdated flood_id (older than the newest recorded for
// this initiator) are discarded; a response for a newer flood_id starts a
// fresh epoch. The initiator keeps no record of individual responses, so
// a fresh epoch only advances the newest flood_id; already-learned edges
// and their ACK/NACK-learned weights are kept, and the graph only ever
// accumulates. Returns true if the response was applied.
func (in *Initiator) ApplyResponse(g *topology.Graph, resp packet.FloodResponse) bool {
	if in.haveFlood && resp.FloodID < in.newestFlood {
		return false // outdated
	}
	if !in.haveFlood || resp.FloodID > in.newestFlood {
		in.newestFlood = resp.FloodID
		in.haveFlood = true
	}

	for _, n := range resp.PathTrace {
		g.UpsertNode(n)
	}
	for i := 0; i+1 < len(resp.PathTrace); i++ {
		a, b := resp.PathTrace[i].ID, resp.PathTrace[i+1].ID
		g.UpsertEdge(a, b)
		g.UpsertEdge(b, a)
	}
	return true
}
