// Package route implements the route selector: the best-success-
// probability path between an origin and a destination on a node's
// topology view, restricted to drone-only interior hops.
//
// The search runs directly over topology.Graph's adjacency map.
package route

import (
	"math"
	"sort"

	"github.com/rolling-mesh/simcore/core/id"
	"github.com/rolling-mesh/simcore/core/topology"
)

// tieEpsilon is the floating-point tolerance below which two path costs are
// considered equal, so the hop-count tie-break in Select applies.
const tieEpsilon = 1e-9

type state struct {
	cost    float64
	hops    int
	prev    id.NodeID
	visited bool
}

// Select searches for the path minimizing combined failure probability
// between origin and destination in g, returning the ordered node list
// (origin first, destination last) or ok=false if no drone-only interior
// path exists. Deterministic for a fixed graph; ties are broken in favor
// of fewer hops.
func Select(origin, destination id.NodeID, g *topology.Graph) ([]id.NodeID, bool) {
	dist := map[id.NodeID]*state{origin: {}}

	for {
		u, cur, ok := pickNext(dist)
		if !ok {
			break
		}
		if u == destination {
			break
		}
		cur.visited = true

		if u != origin {
			kind, known := g.Kind(u)
			if !known || !kind.IsDrone() {
				// Non-drone nodes are endpoints only; cannot expand further.
				continue
			}
		}

		neighbors := g.Neighbors(u)
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })
		for _, v := range neighbors {
			w, ok := g.EdgeWeight(u, v)
			if !ok {
				continue
			}
			candCost := cur.cost + edgeCost(w)
			candHops := cur.hops + 1

			existing, seen := dist[v]
			if !seen {
				dist[v] = &state{cost: candCost, hops: candHops, prev: u}
				continue
			}
			if existing.visited {
				continue
			}
			if better(candCost, candHops, existing.cost, existing.hops) {
				existing.cost = candCost
				existing.hops = candHops
				existing.prev = u
			}
		}
	}

	if _, ok := dist[destination]; !ok {
		return nil, false
	}

	path := []id.NodeID{destination}
	for cur := destination; cur != origin; {
		cur = dist[cur].prev
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, true
}

// pickNext returns the unvisited node with the lowest (cost,hops), breaking
// further ties by NodeID so the result is deterministic regardless of Go's
// randomized map iteration order.
func pickNext(dist map[id.NodeID]*state) (id.NodeID, *state, bool) {
	keys := make([]id.NodeID, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var (
		bestID   id.NodeID
		best     *state
		haveBest bool
	)
	for _, k := range keys {
		s := dist[k]
		if s.visited {
			continue
		}
		if !haveBest || better(s.cost, s.hops, best.cost, best.hops) {
			bestID, best, haveBest = k, s, true
		}
	}
	return bestID, best, haveBest
}

func edgeCost(p float64) float64 {
	if p >= 1 {
		return math.Inf(1)
	}
	return -math.Log(1 - p)
}

// better reports whether (cost1,hops1) should replace (cost2,hops2) as the
// best known way to reach a node: strictly lower cost wins outright; a
// cost within tieEpsilon is broken by fewer hops.
func better(cost1 float64, hops1 int, cost2 float64, hops2 int) bool {
	if math.Abs(cost1-cost2) > tieEpsilon {
		return cost1 < cost2
	}
	return hops1 < hops2
}
