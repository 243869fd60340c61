// Package drone implements the forwarding engine: a node that
// does nothing but receive packets and control commands and, per a fixed
// policy, forward, drop, or reject them.
//
// The outgoing link table is owned exclusively by the drone's own
// goroutine and mutated only in response to controller commands, so no
// locking is needed. The two input channels (control, packets) are
// selected with control given scheduling priority, so Crash and
// SetPacketDropRate take effect promptly even under packet load.
package drone

import (
	"context"
	"log/slog"
	"math/rand"

	"github.com/rolling-mesh/simcore/control/events"
	"github.com/rolling-mesh/simcore/core/id"
	"github.com/rolling-mesh/simcore/core/packet"
	"github.com/rolling-mesh/simcore/device/flood"
	"github.com/rolling-mesh/simcore/device/link"
)

// Lifecycle is a drone's coarse run state.
type Lifecycle int

const (
	Running Lifecycle = iota
	Crashing
	Terminated
)

func (l Lifecycle) String() string {
	switch l {
	case Running:
		return "running"
	case Crashing:
		return "crashing"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Command is the closed set of instructions the simulation controller can
// send a drone.
type Command interface {
	isCommand()
}

// AddSender registers an outgoing link to Node if absent (idempotent).
type AddSender struct {
	Node   id.NodeID
	Sender link.Sender
}

func (AddSender) isCommand() {}

// RemoveSender drops the outgoing link to Node, if any.
type RemoveSender struct{ Node id.NodeID }

func (RemoveSender) isCommand() {}

// SetPacketDropRate overwrites the drone's drop probability.
type SetPacketDropRate struct{ Rate float64 }

func (SetPacketDropRate) isCommand() {}

// Crash begins the drone's cooperative shutdown.
type Crash struct{}

func (Crash) isCommand() {}

// Config configures a Drone.
type Config struct {
	// Self identifies this drone.
	Self id.NodeID

	// DropRate is the initial packet_drop_rate, in [0,1].
	DropRate float64

	// Control carries commands from the simulation controller.
	Control <-chan Command

	// Packets carries inbound packets from neighbouring links.
	Packets <-chan *packet.Packet

	// Events receives structured records of this drone's activity.
	Events *events.Bus

	// Rand sources the per-fragment drop decision. Defaults to a new
	// rand.Rand seeded with the drone's own id if nil.
	Rand *rand.Rand

	// Logger falls back to slog.Default() if nil.
	Logger *slog.Logger

	// Shortcut is called when a control-class packet cannot be forwarded
	// locally — typically wired to the
	// simulation controller, which delivers the packet directly to its
	// destination.
	Shortcut func(pkt *packet.Packet)
}

// Drone is the running forwarding engine for one node.
type Drone struct {
	cfg Config
	log *slog.Logger
	rng *rand.Rand

	dropRate float64
	links    map[id.NodeID]link.Sender
	flood    *flood.Coordinator
	state    Lifecycle
}

// New creates a Drone from cfg. Call Run to start its event loop.
func New(cfg Config) *Drone {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(int64(cfg.Self)))
	}
	return &Drone{
		cfg:      cfg,
		log:      logger.WithGroup("drone").With("node", cfg.Self),
		rng:      rng,
		dropRate: cfg.DropRate,
		links:    make(map[id.NodeID]link.Sender),
		flood:    flood.New(id.NodeInfo{ID: cfg.Self, Kind: id.Drone}),
		state:    Running,
	}
}

// State reports the drone's current lifecycle state.
func (d *Drone) State() Lifecycle {
	return d.state
}

// Run is the drone's main loop: bias control over packets, handle each,
// and drain under the crash policy once Crash is received. Blocks until
// the drone terminates or ctx is cancelled.
func (d *Drone) Run(ctx context.Context) {
	for d.state != Terminated {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Biased pre-check: drain control before packets when both are ready.
		select {
		case cmd := <-d.cfg.Control:
			d.handleCommand(cmd)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case cmd := <-d.cfg.Control:
			d.handleCommand(cmd)
		case pkt := <-d.cfg.Packets:
			d.handlePacket(pkt)
		}
	}
}

func (d *Drone) handleCommand(cmd Command) {
	switch c := cmd.(type) {
	case AddSender:
		if _, exists := d.links[c.Node]; !exists {
			d.links[c.Node] = c.Sender
		}
	case RemoveSender:
		delete(d.links, c.Node)
	case SetPacketDropRate:
		d.dropRate = c.Rate
	case Crash:
		d.log.Debug("crash received, draining")
		d.state = Crashing
		d.drain()
		d.links = make(map[id.NodeID]link.Sender)
		d.state = Terminated
	}
}

// drain processes every packet already queued, under the crash policy,
// then returns. It does not read further commands: a crashing drone
// ignores everything but its own queue.
func (d *Drone) drain() {
	for {
		select {
		case pkt := <-d.cfg.Packets:
			d.handleCrashPolicy(pkt)
		default:
			return
		}
	}
}

func (d *Drone) handleCrashPolicy(pkt *packet.Packet) {
	switch pkt.Kind.(type) {
	case packet.Ack, packet.Nack, packet.FloodResponse:
		d.forwardControlClass(pkt)
	case packet.FloodRequest:
		// discard silently
	case packet.MsgFragment:
		d.nackBack(pkt, packet.NackReason{Kind: packet.ErrorInRouting, Node: d.cfg.Self})
	}
}

func (d *Drone) handlePacket(pkt *packet.Packet) {
	switch pkt.Kind.(type) {
	case packet.MsgFragment:
		d.handleFragment(pkt)
	case packet.Ack, packet.Nack, packet.FloodResponse:
		d.forwardControlClass(pkt)
	case packet.FloodRequest:
		d.handleFloodRequest(pkt)
	}
}

func (d *Drone) handleFragment(pkt *packet.Packet) {
	route := pkt.Route

	if route.AtLastHop() {
		d.nackBack(pkt, packet.NackReason{Kind: packet.DestinationIsDrone})
		return
	}
	if route.Self() != d.cfg.Self {
		d.nackBack(pkt, packet.NackReason{Kind: packet.UnexpectedRecipient, Node: d.cfg.Self})
		return
	}

	next, _ := route.NextHop()
	sender, ok := d.links[next]
	if !ok {
		d.nackBack(pkt, packet.NackReason{Kind: packet.ErrorInRouting, Node: next})
		return
	}

	r := round2(d.rng.Float64())
	if r <= d.dropRate {
		d.cfg.Events.Publish(events.PacketDropped{Node: d.cfg.Self, Reason: packet.Dropped, Kind: pkt.Kind})
		d.nackBack(pkt, packet.NackReason{Kind: packet.Dropped})
		return
	}

	fwd := &packet.Packet{Kind: pkt.Kind, Route: route.Advanced(), SessionID: pkt.SessionID}
	sender <- fwd
	d.cfg.Events.Publish(events.PacketSent{From: d.cfg.Self, To: next, Kind: pkt.Kind, SessionID: pkt.SessionID})
}

// nackBack sends a Nack for the fragment at pkt back along the reversed
// prefix of hops actually traversed so far.
func (d *Drone) nackBack(pkt *packet.Packet, reason packet.NackReason) {
	frag, ok := pkt.Kind.(packet.MsgFragment)
	if !ok {
		return
	}
	nack := &packet.Packet{
		Kind:      packet.Nack{FragmentIndex: frag.Index, Reason: reason},
		Route:     pkt.Route.ReversedPrefix(pkt.Route.HopIndex),
		SessionID: pkt.SessionID,
	}
	d.forwardControlClass(nack)
}

// forwardControlClass forwards an Ack/Nack/FloodResponse along its route,
// falling back to a ControllerShortcut event if the next hop is unreachable
//.
func (d *Drone) forwardControlClass(pkt *packet.Packet) {
	next, ok := pkt.Route.NextHop()
	if !ok {
		// Already at the destination hop: nothing further to forward.
		return
	}
	sender, ok := d.links[next]
	if !ok {
		d.shortcut(pkt, next)
		return
	}
	fwd := &packet.Packet{Kind: pkt.Kind, Route: pkt.Route.Advanced(), SessionID: pkt.SessionID}
	sender <- fwd
	d.cfg.Events.Publish(events.PacketSent{From: d.cfg.Self, To: next, Kind: pkt.Kind, SessionID: pkt.SessionID})
}

func (d *Drone) shortcut(pkt *packet.Packet, intendedNext id.NodeID) {
	d.cfg.Events.Publish(events.ControllerShortcut{AtNode: d.cfg.Self, NextHop: intendedNext, Kind: pkt.Kind})
	if d.cfg.Shortcut != nil {
		d.cfg.Shortcut(pkt)
	}
}

func (d *Drone) handleFloodRequest(pkt *packet.Packet) {
	req, ok := pkt.Kind.(packet.FloodRequest)
	if !ok {
		return
	}

	outgoing := make([]id.NodeID, 0, len(d.links))
	for n := range d.links {
		outgoing = append(outgoing, n)
	}

	arrivedFrom := id.NodeID(0)
	if len(req.PathTrace) > 0 {
		arrivedFrom = req.PathTrace[len(req.PathTrace)-1].ID
	}

	result := d.flood.HandleRequest(req, arrivedFrom, outgoing)
	switch result.Action {
	case flood.RespondImmediately:
		d.respondToFlood(result.UpdatedTrace, req, arrivedFrom)
	case flood.Forward:
		for _, next := range result.ForwardTo {
			sender, ok := d.links[next]
			if !ok {
				continue
			}
			fwdReq := packet.FloodRequest{FloodID: req.FloodID, InitiatorID: req.InitiatorID, PathTrace: result.UpdatedTrace}
			sender <- &packet.Packet{Kind: fwdReq, Route: packet.NewRoute(nil)}
			d.cfg.Events.Publish(events.PacketSent{From: d.cfg.Self, To: next, Kind: fwdReq})
		}
	}
}

// respondToFlood sends a FloodResponse back toward the initiator. The
// route header is the trace reversed (self first, initiator last): this
// lets every hop back use the same source-routed forwardControlClass path
// as Ack/Nack, instead of re-deriving "who sent me this" at each node.
func (d *Drone) respondToFlood(trace []id.NodeInfo, req packet.FloodRequest, arrivedFrom id.NodeID) {
	sender, ok := d.links[arrivedFrom]
	if !ok {
		return
	}
	resp := packet.FloodResponse{FloodID: req.FloodID, PathTrace: trace}
	route := reversedTraceRoute(trace)
	sender <- &packet.Packet{Kind: resp, Route: route}
	d.cfg.Events.Publish(events.PacketSent{From: d.cfg.Self, To: arrivedFrom, Kind: resp})
}

// reversedTraceRoute builds a SourceRouteHeader walking trace backwards
// from the current (last) entry to the initiator (first entry). HopIndex
// is positioned at index 1 (the immediate recipient, arrivedFrom): per the
// packet convention used throughout (see handleFragment/forwardControlClass),
// a packet in flight carries HopIndex pointing at the node about to
// receive it, not the node that just sent it.
func reversedTraceRoute(trace []id.NodeInfo) packet.SourceRouteHeader {
	hops := make([]id.NodeID, len(trace))
	for i, n := range trace {
		hops[len(trace)-1-i] = n.ID
	}
	return packet.SourceRouteHeader{Hops: hops, HopIndex: 1}
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
