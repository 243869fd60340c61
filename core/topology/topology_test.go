package topology

import (
	"testing"

	"github.com/rolling-mesh/simcore/core/id"
)

func TestUpsertEdgeStartsAtZeroWeight(t *testing.T) {
	g := New()
	g.UpsertEdge(1, 2)
	w, ok := g.EdgeWeight(1, 2)
	if !ok || w != 0 {
		t.Fatalf("EdgeWeight = %v, %v; want 0, true", w, ok)
	}
}

func TestUpsertEdgeDoesNotClobberLearnedWeight(t *testing.T) {
	g := New()
	g.UpsertEdge(1, 2)
	g.ObserveOutcome(1, 2, true, DefaultEWMAAlpha)
	before, _ := g.EdgeWeight(1, 2)

	g.UpsertEdge(1, 2) // rediscovered via a later flood
	after, _ := g.EdgeWeight(1, 2)
	if before != after {
		t.Fatalf("rediscovering an edge should not reset its weight: before=%v after=%v", before, after)
	}
}

func TestObserveOutcomeStaysWithinUnitRange(t *testing.T) {
	g := New()
	g.UpsertEdge(1, 2)
	for i := 0; i < 50; i++ {
		g.ObserveOutcome(1, 2, true, DefaultEWMAAlpha)
	}
	w, _ := g.EdgeWeight(1, 2)
	if w < 0 || w > 1 {
		t.Fatalf("edge weight escaped [0,1]: %v", w)
	}
	if w < 0.9 {
		t.Fatalf("repeated drops should converge weight near 1, got %v", w)
	}
}

func TestObserveOutcomeTracksRawCounters(t *testing.T) {
	g := New()
	g.UpsertEdge(1, 2)
	g.ObserveOutcome(1, 2, false, DefaultEWMAAlpha)
	g.ObserveOutcome(1, 2, false, DefaultEWMAAlpha)
	g.ObserveOutcome(1, 2, true, DefaultEWMAAlpha)

	st := g.Stats(1, 2)
	if st.Forwarded != 2 || st.Dropped != 1 {
		t.Fatalf("Stats = %+v, want 2 forwarded, 1 dropped", st)
	}
	if want := 1.0 / 3.0; st.Weight() != want {
		t.Fatalf("Stats.Weight() = %v, want %v", st.Weight(), want)
	}
	if st := g.Stats(9, 9); st.Forwarded != 0 || st.Dropped != 0 {
		t.Fatalf("untouched edge should report zero counters, got %+v", st)
	}
}

func TestRemoveEdge(t *testing.T) {
	g := New()
	g.UpsertEdge(1, 2)
	g.RemoveEdge(1, 2)
	if _, ok := g.EdgeWeight(1, 2); ok {
		t.Fatalf("expected edge to be removed")
	}
	if neighbors := g.Neighbors(1); len(neighbors) != 0 {
		t.Fatalf("expected no neighbors after removal, got %v", neighbors)
	}
}

func TestResetClearsLearnedWeightsForDrone(t *testing.T) {
	g := New()
	g.UpsertEdge(1, 2)
	g.UpsertEdge(2, 3)
	g.ObserveOutcome(1, 2, true, DefaultEWMAAlpha)
	g.ObserveOutcome(2, 3, true, DefaultEWMAAlpha)

	g.Reset(id.NodeID(2))

	w1, _ := g.EdgeWeight(1, 2)
	w2, _ := g.EdgeWeight(2, 3)
	if w1 != 0 || w2 != 0 {
		t.Fatalf("Reset(2) should zero both incident edges, got %v, %v", w1, w2)
	}
}

func TestSnapshotReflectsGraphState(t *testing.T) {
	g := New()
	g.UpsertNode(id.NodeInfo{ID: 1, Kind: id.Drone})
	g.UpsertNode(id.NodeInfo{ID: 2, Kind: id.ChatServer})
	g.UpsertEdge(1, 2)

	snap := g.Snapshot()
	if len(snap.Nodes) != 2 {
		t.Fatalf("Snapshot nodes = %d, want 2", len(snap.Nodes))
	}
	if len(snap.Edges) != 1 {
		t.Fatalf("Snapshot edges = %d, want 1", len(snap.Edges))
	}
}
