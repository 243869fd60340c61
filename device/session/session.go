// Package session implements the client/server session layer: an
// endpoint fragments outbound messages and drives them across a sliding
// window with ACK/NACK-triggered retransmission and re-routing, while
// simultaneously reassembling inbound requests addressed to it and
// dispatching completed ones to an application handler.
//
// Both ends of a conversation reuse the same outboundSession machinery:
// a response is routed back to the request's originator with the same
// discipline the request came in on.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rolling-mesh/simcore/control/events"
	"github.com/rolling-mesh/simcore/core/fragment"
	"github.com/rolling-mesh/simcore/core/id"
	"github.com/rolling-mesh/simcore/core/packet"
	"github.com/rolling-mesh/simcore/core/route"
	"github.com/rolling-mesh/simcore/core/topology"
	"github.com/rolling-mesh/simcore/device/flood"
	"github.com/rolling-mesh/simcore/device/link"
)

const (
	// DefaultWindowSize caps how many fragments may be in flight at once.
	DefaultWindowSize = 100
	// DefaultMaxRetries bounds per-fragment retransmission before a session aborts.
	DefaultMaxRetries = 8
	// DefaultTimeout is the initial per-fragment retransmission timeout.
	DefaultTimeout = 2 * time.Second
	// DefaultBackoffCap bounds the doubling backoff applied after each retry.
	DefaultBackoffCap = 30 * time.Second

	// tickInterval is the resolution of the endpoint's timeout-check loop.
	tickInterval = 100 * time.Millisecond

	// rttAlpha is the smoothing constant for the round-trip estimator.
	rttAlpha = 0.125
	// minRTO floors the derived retransmission timeout so a few fast acks
	// can't drive it below the timeout-check resolution.
	minRTO = 2 * tickInterval
)

// ErrNoRoute is returned when no drone-only interior path to the
// destination exists in the endpoint's current topology view.
var ErrNoRoute = errors.New("session: no route to destination")

// ErrRetryLimitExceeded is the terminal outcome when a fragment exhausts
// MaxRetries.
var ErrRetryLimitExceeded = errors.New("session: retry limit exceeded")

// Handler produces a response payload for a fully reassembled request.
type Handler func(from id.NodeID, payload []byte) []byte

// Outcome is delivered to a session's OnDone callback when it retires,
// successfully or not.
type Outcome struct {
	SessionID uint64
	Err       error
}

// Command mirrors the link-table mutation commands drones accept,
// since clients and servers own an outgoing link table the same way.
type Command interface{ isCommand() }

// AddSender registers an outgoing link to Node.
type AddSender struct {
	Node   id.NodeID
	Sender link.Sender
}

func (AddSender) isCommand() {}

// RemoveSender drops the outgoing link to Node.
type RemoveSender struct{ Node id.NodeID }

func (RemoveSender) isCommand() {}

// ResetEdgeStats zeroes the learned edge weights incident to Node in this
// endpoint's topology view, in response to the controller's PdrChanged
// hint: the endpoint, not the controller, owns its graph, so the
// reset travels through the same command channel as link mutations rather
// than being applied directly from outside.
type ResetEdgeStats struct{ Node id.NodeID }

func (ResetEdgeStats) isCommand() {}

// TriggerFlood asks the endpoint to start a fresh discovery flood on its
// own goroutine. Used by the controller to seed initial topology
// discovery once a node's links are wired, since StartFlood touches
// state (e.links, floodInit) the endpoint's own goroutine exclusively
// owns.
type TriggerFlood struct{}

func (TriggerFlood) isCommand() {}

// Send asks the endpoint to originate a session carrying Payload toward
// Destination. Like TriggerFlood, it exists because session state is
// owned by the endpoint's own goroutine: external callers (the
// controller, a script) enqueue a Send rather than calling StartSession
// across goroutines. OnDone may be nil.
type Send struct {
	Destination id.NodeID
	Payload     []byte
	OnDone      func(Outcome)
}

func (Send) isCommand() {}

// Config configures an Endpoint.
type Config struct {
	Self id.NodeID
	Kind id.Kind

	// Graph is this endpoint's topology view, shared with nothing else:
	// ownership is exclusive to the endpoint's own goroutine.
	Graph *topology.Graph

	Control <-chan Command
	Packets <-chan *packet.Packet
	Events  *events.Bus

	// Handler processes a completed inbound request and produces a
	// response payload. Required for server-role endpoints; a pure
	// client may leave it nil (no inbound requests are expected).
	Handler Handler

	// TriggerFlood is called when a routing failure suggests the
	// endpoint's topology view is stale. May be nil.
	TriggerFlood func()

	WindowSize int
	MaxRetries int
	Timeout    time.Duration
	NowFn      func() time.Time
	Logger     *slog.Logger
}

type bufKey struct {
	Originator id.NodeID
	SessionID  uint64
}

// Endpoint is the per-node session-layer runtime for a client or server.
type Endpoint struct {
	cfg Config
	log *slog.Logger
	now func() time.Time

	// srtt is the smoothed round-trip estimate across this endpoint's
	// sessions; zero until the first ack sample arrives.
	srtt time.Duration

	links map[id.NodeID]link.Sender

	outbound   map[uint64]*outboundSession
	nextSeq    uint64
	reassembly map[bufKey]*fragment.Buffer

	// floodCoord decides how to answer/forward a FloodRequest this
	// endpoint receives as an interior hop of someone else's discovery
	// flood.
	floodCoord *flood.Coordinator
	// floodInit tracks this endpoint's own flood epochs when it acts as
	// an initiator.
	floodInit *flood.Initiator
}

// New creates an Endpoint from cfg. Call Run to start it.
func New(cfg Config) *Endpoint {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	self := id.NodeInfo{ID: cfg.Self, Kind: cfg.Kind}
	e := &Endpoint{
		cfg:        cfg,
		log:        logger.WithGroup("session").With("node", cfg.Self),
		now:        nowFn,
		links:      make(map[id.NodeID]link.Sender),
		outbound:   make(map[uint64]*outboundSession),
		reassembly: make(map[bufKey]*fragment.Buffer),
		floodCoord: flood.New(self),
		floodInit:  flood.NewInitiator(self),
	}
	if e.cfg.TriggerFlood == nil {
		e.cfg.TriggerFlood = e.StartFlood
	}
	return e
}

// Run is the endpoint's main loop. Blocks until ctx is cancelled.
func (e *Endpoint) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case cmd := <-e.cfg.Control:
			e.handleCommand(cmd)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cfg.Control:
			e.handleCommand(cmd)
		case pkt := <-e.cfg.Packets:
			e.handlePacket(pkt)
		case <-ticker.C:
			e.checkTimeouts()
		}
	}
}

func (e *Endpoint) handleCommand(cmd Command) {
	switch c := cmd.(type) {
	case AddSender:
		if _, exists := e.links[c.Node]; !exists {
			e.links[c.Node] = c.Sender
		}
	case RemoveSender:
		delete(e.links, c.Node)
	case ResetEdgeStats:
		e.cfg.Graph.Reset(c.Node)
	case TriggerFlood:
		e.StartFlood()
	case Send:
		e.StartSession(c.Destination, c.Payload, c.OnDone)
	}
}

func (e *Endpoint) handlePacket(pkt *packet.Packet) {
	switch k := pkt.Kind.(type) {
	case packet.MsgFragment:
		e.handleInboundFragment(pkt, k)
	case packet.Ack:
		if s, ok := e.outbound[pkt.SessionID]; ok {
			s.onAck(k)
		}
	case packet.Nack:
		if s, ok := e.outbound[pkt.SessionID]; ok {
			s.onNack(pkt, k)
		}
	case packet.FloodRequest:
		e.handleFloodRequest(k)
	case packet.FloodResponse:
		e.handleFloodResponse(pkt, k)
	}
}

// StartFlood begins a fresh discovery flood from this endpoint:
// it allocates the next flood_id, builds the initial FloodRequest naming
// only itself in the path trace, and broadcasts it on every current
// outgoing link. It is the default TriggerFlood hook and may also be
// called directly (e.g. once at startup, before the first session).
func (e *Endpoint) StartFlood() {
	floodID := e.floodInit.NextFloodID()
	req := e.floodInit.BuildRequest(floodID)
	e.cfg.Events.Publish(events.FloodInitiated{InitiatorID: e.cfg.Self, FloodID: floodID})
	for next, sender := range e.links {
		sender <- &packet.Packet{Kind: req}
		e.cfg.Events.Publish(events.PacketSent{From: e.cfg.Self, To: next, Kind: req})
	}
}

// handleFloodRequest processes an incoming FloodRequest for which this
// endpoint is an interior hop, not the initiator: it defers to the
// same Coordinator logic a drone uses, since the rule ("seen before?
// leaf? else forward on every other link") doesn't depend on node kind.
func (e *Endpoint) handleFloodRequest(req packet.FloodRequest) {
	outgoing := make([]id.NodeID, 0, len(e.links))
	for n := range e.links {
		outgoing = append(outgoing, n)
	}
	arrivedFrom := id.NodeID(0)
	if len(req.PathTrace) > 0 {
		arrivedFrom = req.PathTrace[len(req.PathTrace)-1].ID
	}

	result := e.floodCoord.HandleRequest(req, arrivedFrom, outgoing)
	switch result.Action {
	case flood.RespondImmediately:
		sender, ok := e.links[arrivedFrom]
		if !ok {
			return
		}
		resp := packet.FloodResponse{FloodID: req.FloodID, PathTrace: result.UpdatedTrace}
		route := reversedTraceRoute(result.UpdatedTrace)
		sender <- &packet.Packet{Kind: resp, Route: route}
		e.cfg.Events.Publish(events.PacketSent{From: e.cfg.Self, To: arrivedFrom, Kind: resp})
	case flood.Forward:
		for _, next := range result.ForwardTo {
			sender, ok := e.links[next]
			if !ok {
				continue
			}
			fwd := packet.FloodRequest{FloodID: req.FloodID, InitiatorID: req.InitiatorID, PathTrace: result.UpdatedTrace}
			sender <- &packet.Packet{Kind: fwd}
			e.cfg.Events.Publish(events.PacketSent{From: e.cfg.Self, To: next, Kind: fwd})
		}
	}
}

// handleFloodResponse either folds the response into this endpoint's
// topology view (if it is the initiator named by the route's final hop)
// or forwards it one step further back toward the initiator.
func (e *Endpoint) handleFloodResponse(pkt *packet.Packet, resp packet.FloodResponse) {
	if len(pkt.Route.Hops) == 0 || pkt.Route.AtLastHop() {
		if e.floodInit.ApplyResponse(e.cfg.Graph, resp) {
			e.cfg.Events.Publish(events.GraphSnapshot{Node: e.cfg.Self, View: e.cfg.Graph.Snapshot()})
		}
		return
	}
	next, ok := pkt.Route.NextHop()
	if !ok {
		return
	}
	sender, ok := e.links[next]
	if !ok {
		return
	}
	fwd := &packet.Packet{Kind: resp, Route: pkt.Route.Advanced(), SessionID: pkt.SessionID}
	sender <- fwd
	e.cfg.Events.Publish(events.PacketSent{From: e.cfg.Self, To: next, Kind: resp})
}

// reversedTraceRoute builds a SourceRouteHeader walking trace backwards
// from the current (last) entry to the initiator (first entry), mirroring
// device/drone's respondToFlood helper: HopIndex is positioned at the
// immediate recipient (index 1), per the packet convention that HopIndex
// names the node about to receive the packet.
func reversedTraceRoute(trace []id.NodeInfo) packet.SourceRouteHeader {
	hops := make([]id.NodeID, len(trace))
	for i, n := range trace {
		hops[len(trace)-1-i] = n.ID
	}
	return packet.SourceRouteHeader{Hops: hops, HopIndex: 1}
}

func (e *Endpoint) checkTimeouts() {
	for _, s := range e.outbound {
		s.checkTimeouts(e.now())
	}
}

// StartSession fragments payload and begins delivering it to destination,
// invoking onDone exactly once when the session retires. Allocates a
// session_id unique among sessions this endpoint has originated.
//
// Session state is owned by the endpoint's goroutine: once Run has
// started, use the Send command instead of calling this directly. Direct
// calls are safe only before Run, or from within a Handler (which the
// endpoint's own goroutine invokes).
func (e *Endpoint) StartSession(destination id.NodeID, payload []byte, onDone func(Outcome)) {
	e.nextSeq++
	sessionID := e.nextSeq
	e.startSession(sessionID, destination, payload, onDone)
}

func (e *Endpoint) startSession(sessionID uint64, destination id.NodeID, payload []byte, onDone func(Outcome)) {
	s := newOutboundSession(e, sessionID, destination, payload, onDone)
	if s == nil {
		return // onDone already invoked: success for an empty payload, else ErrNoRoute
	}
	e.outbound[sessionID] = s
	s.sendWindow()
}

func (e *Endpoint) retireOutbound(sessionID uint64) {
	delete(e.outbound, sessionID)
}

func (e *Endpoint) handleInboundFragment(pkt *packet.Packet, frag packet.MsgFragment) {
	originator := pkt.Route.Origin()
	key := bufKey{Originator: originator, SessionID: pkt.SessionID}
	buf, ok := e.reassembly[key]
	if !ok {
		buf = fragment.NewBuffer()
		e.reassembly[key] = buf
	}

	if err := buf.Add(frag); err != nil {
		e.log.Warn("reassembly mismatch", "originator", originator, "session", pkt.SessionID, "error", err)
		return
	}

	e.ackFragment(pkt, frag)

	if buf.Complete() {
		delete(e.reassembly, key)
		payload, err := buf.Bytes()
		if err != nil {
			e.log.Warn("incomplete buffer reported complete", "error", err)
			return
		}
		e.cfg.Events.Publish(events.SessionMessage{From: originator, To: e.cfg.Self, SessionID: pkt.SessionID, PayloadBytes: len(payload)})
		if e.cfg.Handler == nil {
			return
		}
		response := e.cfg.Handler(originator, payload)
		e.nextSeq++
		e.startSession(e.nextSeq, originator, response, nil)
	}
}

// ackFragment sends an immediate Ack back along the reversed prefix of the
// route the fragment traversed.
func (e *Endpoint) ackFragment(pkt *packet.Packet, frag packet.MsgFragment) {
	ackRoute := pkt.Route.ReversedPrefix(pkt.Route.HopIndex)
	next, ok := ackRoute.NextHop()
	if !ok {
		return
	}
	sender, ok := e.links[next]
	if !ok {
		return
	}
	ackPkt := &packet.Packet{Kind: packet.Ack{FragmentIndex: frag.Index}, Route: ackRoute.Advanced(), SessionID: pkt.SessionID}
	sender <- ackPkt
	e.cfg.Events.Publish(events.PacketSent{From: e.cfg.Self, To: next, Kind: ackPkt.Kind, SessionID: pkt.SessionID})
}

// selectRoute is the single place an endpoint asks the route selector for
// a drone-only interior path, used both for a fresh session and for
// rerouting after a Nack.
func (e *Endpoint) selectRoute(destination id.NodeID) ([]id.NodeID, bool) {
	return route.Select(e.cfg.Self, destination, e.cfg.Graph)
}

// observeRTT folds one ack round-trip sample into the smoothed estimate.
// Callers only pass samples for fragments that were never retransmitted,
// since an ack for a resent fragment can't be matched to a single send.
func (e *Endpoint) observeRTT(sample time.Duration) {
	if sample <= 0 {
		return
	}
	if e.srtt == 0 {
		e.srtt = sample
		return
	}
	e.srtt = time.Duration((1-rttAlpha)*float64(e.srtt) + rttAlpha*float64(sample))
}

// retransmitTimeout derives a fragment's initial timeout from the
// smoothed round-trip estimate, falling back to the configured base
// before any sample exists.
func (e *Endpoint) retransmitTimeout() time.Duration {
	if e.srtt == 0 {
		return e.cfg.Timeout
	}
	rto := 2 * e.srtt
	if rto < minRTO {
		rto = minRTO
	}
	if rto > DefaultBackoffCap {
		rto = DefaultBackoffCap
	}
	return rto
}
