package route

import (
	"testing"

	"github.com/rolling-mesh/simcore/core/id"
	"github.com/rolling-mesh/simcore/core/topology"
)

func TestSelectLinearChain(t *testing.T) {
	nodes := []id.NodeInfo{
		{ID: 1, Kind: id.ChatClient},
		{ID: 2, Kind: id.Drone},
		{ID: 3, Kind: id.Drone},
		{ID: 4, Kind: id.ChatServer},
	}
	g := topology.New()
	for _, n := range nodes {
		g.UpsertNode(n)
	}
	g.UpsertEdge(1, 2)
	g.UpsertEdge(2, 3)
	g.UpsertEdge(3, 4)

	path, ok := Select(1, 4, g)
	if !ok {
		t.Fatalf("expected a path")
	}
	want := []id.NodeID{1, 2, 3, 4}
	if len(path) != len(want) {
		t.Fatalf("path = %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Errorf("path[%d] = %v, want %v", i, path[i], want[i])
		}
	}
}

func TestSelectPrefersMoreReliableBranch(t *testing.T) {
	// Diamond: 1 -> {2a,2b} -> 3. 2a has high failure, 2b has none.
	g := topology.New()
	g.UpsertNode(id.NodeInfo{ID: 1, Kind: id.ChatClient})
	g.UpsertNode(id.NodeInfo{ID: 20, Kind: id.Drone}) // 2a
	g.UpsertNode(id.NodeInfo{ID: 21, Kind: id.Drone}) // 2b
	g.UpsertNode(id.NodeInfo{ID: 3, Kind: id.ChatServer})

	g.UpsertEdge(1, 20)
	g.UpsertEdge(20, 3)
	g.UpsertEdge(1, 21)
	g.UpsertEdge(21, 3)

	// Drive 2a's edges toward high failure via repeated drop feedback.
	for i := 0; i < 10; i++ {
		g.ObserveOutcome(1, 20, true, topology.DefaultEWMAAlpha)
		g.ObserveOutcome(20, 3, true, topology.DefaultEWMAAlpha)
	}

	path, ok := Select(1, 3, g)
	if !ok {
		t.Fatalf("expected a path")
	}
	if len(path) != 3 || path[1] != id.NodeID(21) {
		t.Fatalf("path = %v, want via 21 (more reliable)", path)
	}
}

func TestSelectRejectsNonDroneInterior(t *testing.T) {
	g := topology.New()
	g.UpsertNode(id.NodeInfo{ID: 1, Kind: id.ChatClient})
	g.UpsertNode(id.NodeInfo{ID: 2, Kind: id.ChatClient}) // not a drone: cannot be interior
	g.UpsertNode(id.NodeInfo{ID: 3, Kind: id.ChatServer})
	g.UpsertEdge(1, 2)
	g.UpsertEdge(2, 3)

	if _, ok := Select(1, 3, g); ok {
		t.Fatalf("expected no path: only route crosses a non-drone interior node")
	}
}

func TestSelectTieBreaksOnFewerHops(t *testing.T) {
	g := topology.New()
	g.UpsertNode(id.NodeInfo{ID: 1, Kind: id.ChatClient})
	g.UpsertNode(id.NodeInfo{ID: 2, Kind: id.Drone})
	g.UpsertNode(id.NodeInfo{ID: 3, Kind: id.Drone})
	g.UpsertNode(id.NodeInfo{ID: 4, Kind: id.ChatServer})
	// Direct 1->4 via a single drone, vs a longer equally-reliable (all-zero
	// weight) path through two drones.
	g.UpsertEdge(1, 2)
	g.UpsertEdge(2, 4)
	g.UpsertEdge(1, 3)
	g.UpsertEdge(3, 4)
	// Add an extra unnecessary hop on the 3-path to make it strictly longer
	// while keeping identical (zero) weight.
	g.UpsertNode(id.NodeInfo{ID: 5, Kind: id.Drone})
	g.RemoveEdge(3, 4)
	g.UpsertEdge(3, 5)
	g.UpsertEdge(5, 4)

	path, ok := Select(1, 4, g)
	if !ok {
		t.Fatalf("expected a path")
	}
	if len(path) != 3 {
		t.Fatalf("expected the shorter 2-hop path, got %v", path)
	}
}

func TestSelectNoPathReturnsFalse(t *testing.T) {
	g := topology.New()
	g.UpsertNode(id.NodeInfo{ID: 1, Kind: id.ChatClient})
	g.UpsertNode(id.NodeInfo{ID: 2, Kind: id.ChatServer})
	if _, ok := Select(1, 2, g); ok {
		t.Fatalf("expected no path in a disconnected graph")
	}
}
