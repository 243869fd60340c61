// Package validator implements the pre-flight topology checks: the
// simulation controller runs these before accepting a topology mutation
// (spawn_drone, crash, add_link, remove_link) and refuses the mutation on
// failure, returning a descriptive error naming the offending nodes.
// Controller.SetPDR does not call Validate; it checks the pdr range itself.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rolling-mesh/simcore/core/id"
)

// Topology is the plain-data view the validator checks: every node's kind
// and its current set of bidirectional neighbours. It mirrors the shape a
// controller keeps for its fleet, without depending on the controller
// package itself.
type Topology struct {
	Kinds     map[id.NodeID]id.Kind
	Neighbors map[id.NodeID]map[id.NodeID]struct{}
	PDR       map[id.NodeID]float64 // drones only
}

// NewTopology creates an empty Topology.
func NewTopology() *Topology {
	return &Topology{
		Kinds:     make(map[id.NodeID]id.Kind),
		Neighbors: make(map[id.NodeID]map[id.NodeID]struct{}),
		PDR:       make(map[id.NodeID]float64),
	}
}

// Link records a, b as bidirectional neighbours.
func (t *Topology) Link(a, b id.NodeID) {
	if t.Neighbors[a] == nil {
		t.Neighbors[a] = make(map[id.NodeID]struct{})
	}
	if t.Neighbors[b] == nil {
		t.Neighbors[b] = make(map[id.NodeID]struct{})
	}
	t.Neighbors[a][b] = struct{}{}
	t.Neighbors[b][a] = struct{}{}
}

// Unlink removes the bidirectional link between a and b, if present.
func (t *Topology) Unlink(a, b id.NodeID) {
	delete(t.Neighbors[a], b)
	delete(t.Neighbors[b], a)
}

// Clone returns a deep copy, so a controller can try a mutation, validate
// it, and discard the attempt without disturbing the committed topology.
func (t *Topology) Clone() *Topology {
	cp := NewTopology()
	for n, k := range t.Kinds {
		cp.Kinds[n] = k
	}
	for n, pdr := range t.PDR {
		cp.PDR[n] = pdr
	}
	for a, neighbors := range t.Neighbors {
		for b := range neighbors {
			cp.Link(a, b)
		}
	}
	return cp
}

// Validate runs every topology check against t and returns a single error
// describing every violation found, or nil if t is valid.
func Validate(t *Topology) error {
	var problems []string
	problems = append(problems, checkBidirectional(t)...)
	problems = append(problems, checkPDRRange(t)...)
	problems = append(problems, checkReachability(t)...)
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("topology validation failed:\n  %s", strings.Join(problems, "\n  "))
}

func checkBidirectional(t *Topology) []string {
	var problems []string
	for a, neighbors := range t.Neighbors {
		for b := range neighbors {
			if _, ok := t.Neighbors[b][a]; !ok {
				problems = append(problems, fmt.Sprintf("link %v->%v is not bidirectional (missing %v->%v)", a, b, b, a))
			}
		}
	}
	return problems
}

func checkPDRRange(t *Topology) []string {
	var problems []string
	for node, pdr := range t.PDR {
		if pdr < 0 || pdr > 1 {
			problems = append(problems, fmt.Sprintf("drone %v has pdr %.3f outside [0,1]", node, pdr))
		}
	}
	return problems
}

func checkReachability(t *Topology) []string {
	var problems []string

	nodesOfKind := func(k id.Kind) []id.NodeID {
		var out []id.NodeID
		for n, kind := range t.Kinds {
			if kind == k {
				out = append(out, n)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out
	}

	clients := nodesOfKind(id.ChatClient)
	chatServers := nodesOfKind(id.ChatServer)
	browsers := nodesOfKind(id.WebBrowser)
	textServers := nodesOfKind(id.TextServer)
	mediaServers := nodesOfKind(id.MediaServer)

	for _, c := range clients {
		reached := false
		for _, s := range chatServers {
			if droneOnlyReachable(t, c, s) {
				reached = true
				break
			}
		}
		if !reached {
			problems = append(problems, fmt.Sprintf("chat client %v cannot reach any chat server through drone-only interiors", c))
		}
	}

	for _, s := range chatServers {
		count := 0
		for _, c := range clients {
			if droneOnlyReachable(t, s, c) {
				count++
			}
		}
		if count < 2 {
			problems = append(problems, fmt.Sprintf("chat server %v reaches only %d chat clients, need at least 2", s, count))
		}
	}

	for _, b := range browsers {
		for _, s := range textServers {
			if !droneOnlyReachable(t, b, s) {
				problems = append(problems, fmt.Sprintf("web browser %v cannot reach text server %v", b, s))
			}
		}
		for _, s := range mediaServers {
			if !droneOnlyReachable(t, b, s) {
				problems = append(problems, fmt.Sprintf("web browser %v cannot reach media server %v", b, s))
			}
		}
	}

	for _, a := range textServers {
		for _, b := range mediaServers {
			if !droneOnlyReachable(t, a, b) {
				problems = append(problems, fmt.Sprintf("text server %v cannot reach media server %v", a, b))
			}
		}
		for _, b := range textServers {
			if a != b && !droneOnlyReachable(t, a, b) {
				problems = append(problems, fmt.Sprintf("text server %v cannot reach text server %v", a, b))
			}
		}
	}

	return problems
}

// droneOnlyReachable reports whether there is a path from a to b whose
// interior nodes (everything but a and b themselves) are all drones.
func droneOnlyReachable(t *Topology, a, b id.NodeID) bool {
	if a == b {
		return true
	}
	visited := map[id.NodeID]struct{}{a: {}}
	queue := []id.NodeID{a}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range t.Neighbors[cur] {
			if _, seen := visited[next]; seen {
				continue
			}
			if next == b {
				return true
			}
			if t.Kinds[next] != id.Drone {
				continue // only drones may sit on the interior
			}
			visited[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return false
}
