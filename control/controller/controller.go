// Package controller implements the simulation controller: it owns the
// process-wide fleet, validates every mutation against the topology
// rules before applying it, wires links between nodes, and resolves
// ControllerShortcut events so a single broken link never strands a
// control-class packet.
//
// Follows the same discipline as the per-node link table each drone owns:
// own a table, mutate it only through an explicit API, wire goroutines at
// registration time — generalized from one node's link table to the whole
// fleet's drone/endpoint registry.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rolling-mesh/simcore/control/events"
	"github.com/rolling-mesh/simcore/control/validator"
	"github.com/rolling-mesh/simcore/core/id"
	"github.com/rolling-mesh/simcore/core/packet"
	"github.com/rolling-mesh/simcore/device/drone"
	"github.com/rolling-mesh/simcore/device/link"
	"github.com/rolling-mesh/simcore/device/session"
)

const packetChannelBuffer = link.DefaultBufferSize

// Controller owns every running node in a simulation and the single event
// bus they publish to.
type Controller struct {
	mu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
	events *events.Bus

	topo *validator.Topology

	// bootstrapping suppresses per-call validation while an initial
	// topology is being built up node by node: reachability requirements
	// like "every chat client reaches a chat server" cannot hold until
	// every node in the config has been registered, so individual
	// SpawnDrone/RegisterEndpoint/AddLink calls made from inside
	// Bootstrap skip validation and the whole topology is checked once
	// when the closure returns.
	bootstrapping bool

	inbound map[id.NodeID]chan *packet.Packet

	drones       map[id.NodeID]*drone.Drone
	droneControl map[id.NodeID]chan drone.Command
	endpoints    map[id.NodeID]*session.Endpoint
	endpointCtl  map[id.NodeID]chan session.Command
}

// New creates a Controller bound to ctx: every node it spawns is cancelled
// when ctx is cancelled.
func New(ctx context.Context, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Controller{
		ctx:          ctx,
		cancel:       cancel,
		log:          logger.WithGroup("controller"),
		events:       events.New(),
		topo:         validator.NewTopology(),
		inbound:      make(map[id.NodeID]chan *packet.Packet),
		drones:       make(map[id.NodeID]*drone.Drone),
		droneControl: make(map[id.NodeID]chan drone.Command),
		endpoints:    make(map[id.NodeID]*session.Endpoint),
		endpointCtl:  make(map[id.NodeID]chan session.Command),
	}
}

// Events returns the controller's event bus, for observers to subscribe to.
func (c *Controller) Events() *events.Bus {
	return c.events
}

// Bootstrap runs fn with per-call topology validation suppressed, then
// validates the resulting topology exactly once. Use this to build an
// initial fleet from a config file, where individual SpawnDrone/
// RegisterEndpoint/AddLink calls would each fail reachability checks
// until every node exists.
func (c *Controller) Bootstrap(fn func() error) error {
	c.mu.Lock()
	c.bootstrapping = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.bootstrapping = false
		c.mu.Unlock()
	}()

	if err := fn(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return validator.Validate(c.topo)
}

// Stop cancels every node goroutine the controller started.
func (c *Controller) Stop() {
	c.cancel()
	c.events.Close()
}

// SpawnDrone registers and starts a new drone, refusing
// if the resulting topology would fail validation.
func (c *Controller) SpawnDrone(nodeID id.NodeID, pdr float64, neighbours []id.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.inbound[nodeID]; exists {
		return fmt.Errorf("node %v already exists", nodeID)
	}

	if !c.bootstrapping {
		trial := c.topo.Clone()
		trial.Kinds[nodeID] = id.Drone
		trial.PDR[nodeID] = pdr
		for _, n := range neighbours {
			trial.Link(nodeID, n)
		}
		if err := validator.Validate(trial); err != nil {
			return err
		}
	}

	c.topo.Kinds[nodeID] = id.Drone
	c.topo.PDR[nodeID] = pdr

	control := make(chan drone.Command, 16)
	packets := make(chan *packet.Packet, packetChannelBuffer)
	c.inbound[nodeID] = packets
	c.droneControl[nodeID] = control

	d := drone.New(drone.Config{
		Self:     nodeID,
		DropRate: pdr,
		Control:  control,
		Packets:  packets,
		Events:   c.events,
		Logger:   c.log,
		Shortcut: c.deliverShortcut,
	})
	c.drones[nodeID] = d
	go d.Run(c.ctx)

	for _, n := range neighbours {
		c.topo.Link(nodeID, n)
		c.wireSender(nodeID, n)
		c.wireSender(n, nodeID)
	}
	return nil
}

// RegisterEndpoint registers and starts a pre-built client/server
// session.Endpoint, wiring it to the named neighbours the same way a
// drone is wired. The configuration loader is responsible for
// constructing ep with the right Kind/Handler before calling this.
func (c *Controller) RegisterEndpoint(nodeID id.NodeID, kind id.Kind, ep *session.Endpoint, control chan session.Command, packets chan *packet.Packet, neighbours []id.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.inbound[nodeID]; exists {
		return fmt.Errorf("node %v already exists", nodeID)
	}

	if !c.bootstrapping {
		trial := c.topo.Clone()
		trial.Kinds[nodeID] = kind
		for _, n := range neighbours {
			trial.Link(nodeID, n)
		}
		if err := validator.Validate(trial); err != nil {
			return err
		}
	}

	c.topo.Kinds[nodeID] = kind
	c.inbound[nodeID] = packets
	c.endpointCtl[nodeID] = control
	c.endpoints[nodeID] = ep
	go ep.Run(c.ctx)

	for _, n := range neighbours {
		c.topo.Link(nodeID, n)
		c.wireSender(nodeID, n)
		c.wireSender(n, nodeID)
	}
	return nil
}

// Crash sends Crash to a drone and RemoveSender to each of its
// neighbours, refusing if the resulting topology would disconnect a required
// client/server pair.
func (c *Controller) Crash(nodeID id.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.drones[nodeID]; !ok {
		return fmt.Errorf("node %v is not a running drone", nodeID)
	}

	trial := c.topo.Clone()
	neighbours := neighboursOf(trial, nodeID)
	for _, n := range neighbours {
		trial.Unlink(nodeID, n)
	}
	delete(trial.Kinds, nodeID)
	delete(trial.PDR, nodeID)
	if err := validator.Validate(trial); err != nil {
		return fmt.Errorf("refusing crash: %w", err)
	}

	control := c.droneControl[nodeID]
	control <- drone.Crash{}

	for _, n := range neighbours {
		c.topo.Unlink(nodeID, n)
		c.removeSender(n, nodeID)
	}
	delete(c.drones, nodeID)
	delete(c.droneControl, nodeID)
	delete(c.inbound, nodeID)
	delete(c.topo.Kinds, nodeID)
	delete(c.topo.PDR, nodeID)
	return nil
}

// AddLink wires a symmetric link between two already-registered
// nodes, idempotent if the link already exists.
func (c *Controller) AddLink(a, b id.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.inbound[a]; !ok {
		return fmt.Errorf("unknown node %v", a)
	}
	if _, ok := c.inbound[b]; !ok {
		return fmt.Errorf("unknown node %v", b)
	}

	if !c.bootstrapping {
		trial := c.topo.Clone()
		trial.Link(a, b)
		if err := validator.Validate(trial); err != nil {
			return err
		}
	}

	c.topo.Link(a, b)
	c.wireSender(a, b)
	c.wireSender(b, a)
	return nil
}

// RemoveLink tears down a symmetric link, refusing if
// doing so would disconnect a required client/server pair.
func (c *Controller) RemoveLink(a, b id.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	trial := c.topo.Clone()
	trial.Unlink(a, b)
	if err := validator.Validate(trial); err != nil {
		return fmt.Errorf("refusing remove_link: %w", err)
	}

	c.topo.Unlink(a, b)
	c.removeSender(a, b)
	c.removeSender(b, a)
	return nil
}

// SetPDR updates a drone's drop rate and broadcasts a PdrChanged hint so
// every registered endpoint resets that drone's learned edge statistics
//.
func (c *Controller) SetPDR(nodeID id.NodeID, pdr float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.drones[nodeID]; !ok {
		return fmt.Errorf("node %v is not a running drone", nodeID)
	}
	if pdr < 0 || pdr > 1 {
		return fmt.Errorf("pdr %.3f outside [0,1]", pdr)
	}

	c.topo.PDR[nodeID] = pdr
	c.droneControl[nodeID] <- drone.SetPacketDropRate{Rate: pdr}

	for _, ctl := range c.endpointCtl {
		ctl <- session.ResetEdgeStats{Node: nodeID}
	}
	return nil
}

// SendMessage asks a registered client/server endpoint to originate a
// session carrying payload toward destination. onDone (which may be nil)
// is invoked from the endpoint's goroutine when the session retires.
func (c *Controller) SendMessage(from, destination id.NodeID, payload []byte, onDone func(session.Outcome)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctl, ok := c.endpointCtl[from]
	if !ok {
		return fmt.Errorf("node %v is not a registered client/server endpoint", from)
	}
	ctl <- session.Send{Destination: destination, Payload: payload, OnDone: onDone}
	return nil
}

// DiscoverTopology asks every registered client/server endpoint to start a
// fresh discovery flood, so each learns a topology view before its
// first session. Safe to call at any time; a flood never disrupts
// in-flight sessions, it only adds edges.
func (c *Controller) DiscoverTopology() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ctl := range c.endpointCtl {
		ctl <- session.TriggerFlood{}
	}
}

// wireSender sends the node owning `to` an AddSender pointing at
// neighbour's inbound channel. Must be called with c.mu held.
func (c *Controller) wireSender(owner, to id.NodeID) {
	sender := link.Sender(c.inbound[to])
	if ctl, ok := c.droneControl[owner]; ok {
		ctl <- drone.AddSender{Node: to, Sender: sender}
		return
	}
	if ctl, ok := c.endpointCtl[owner]; ok {
		ctl <- session.AddSender{Node: to, Sender: sender}
	}
}

func (c *Controller) removeSender(owner, to id.NodeID) {
	if ctl, ok := c.droneControl[owner]; ok {
		ctl <- drone.RemoveSender{Node: to}
		return
	}
	if ctl, ok := c.endpointCtl[owner]; ok {
		ctl <- session.RemoveSender{Node: to}
	}
}

// deliverShortcut implements the ControllerShortcut operational contract:
// deliver the enclosed control-class packet directly to hops.last(). The
// delivered copy has its hop cursor advanced to the final hop, so the
// destination sees the packet exactly as if it had arrived over the last
// link of its route.
func (c *Controller) deliverShortcut(pkt *packet.Packet) {
	c.mu.Lock()
	dest := pkt.Route.Destination()
	ch, ok := c.inbound[dest]
	c.mu.Unlock()
	if !ok {
		c.log.Warn("shortcut target does not exist", "dest", dest)
		return
	}
	delivered := &packet.Packet{
		Kind:      pkt.Kind,
		Route:     packet.SourceRouteHeader{Hops: pkt.Route.Hops, HopIndex: len(pkt.Route.Hops) - 1},
		SessionID: pkt.SessionID,
	}
	select {
	case ch <- delivered:
	default:
		c.log.Warn("shortcut delivery dropped: destination inbound full", "dest", dest)
	}
}

func neighboursOf(t *validator.Topology, n id.NodeID) []id.NodeID {
	out := make([]id.NodeID, 0, len(t.Neighbors[n]))
	for m := range t.Neighbors[n] {
		out = append(out, m)
	}
	return out
}
