package session

import (
	"time"

	"github.com/rolling-mesh/simcore/control/events"
	"github.com/rolling-mesh/simcore/core/fragment"
	"github.com/rolling-mesh/simcore/core/id"
	"github.com/rolling-mesh/simcore/core/packet"
	"github.com/rolling-mesh/simcore/core/topology"
)

type fragState struct {
	frag     packet.MsgFragment
	acked    bool
	retries  int
	lastSend time.Time
	backoff  time.Duration
}

// outboundSession drives one logical message from this endpoint toward a
// destination: the sliding-window send loop and ACK/NACK-triggered
// recovery.
type outboundSession struct {
	ep          *Endpoint
	sessionID   uint64
	destination id.NodeID
	onDone      func(Outcome)

	route       []id.NodeID
	total       uint32
	fragments   map[uint32]*fragState
	nextToSend  uint32
	outstanding int
}

// newOutboundSession builds a session, fragmenting payload and selecting an
// initial route. Returns nil (after invoking onDone with ErrNoRoute) if no
// route exists. A zero-length payload retires immediately and successfully,
// since there is nothing to deliver.
func newOutboundSession(ep *Endpoint, sessionID uint64, destination id.NodeID, payload []byte, onDone func(Outcome)) *outboundSession {
	frags := fragment.SplitBytes(payload)
	if len(frags) == 0 {
		if onDone != nil {
			onDone(Outcome{SessionID: sessionID})
		}
		return nil
	}

	path, ok := ep.selectRoute(destination)
	if !ok || len(path) < 2 {
		if onDone != nil {
			onDone(Outcome{SessionID: sessionID, Err: ErrNoRoute})
		}
		return nil
	}

	s := &outboundSession{
		ep:          ep,
		sessionID:   sessionID,
		destination: destination,
		onDone:      onDone,
		route:       path,
		total:       uint32(len(frags)),
		fragments:   make(map[uint32]*fragState, len(frags)),
		outstanding: len(frags),
	}
	for _, f := range frags {
		s.fragments[f.Index] = &fragState{frag: f}
	}
	return s
}

// sendWindow emits fragments up to min(WindowSize, total) starting from
// nextToSend.
func (s *outboundSession) sendWindow() {
	limit := uint32(s.ep.cfg.WindowSize)
	for s.nextToSend < s.total && s.nextToSend < limit {
		s.sendFragment(s.fragments[s.nextToSend])
		s.nextToSend++
	}
}

func (s *outboundSession) sendFragment(fs *fragState) {
	next := s.route[1]
	sender, ok := s.ep.links[next]
	if !ok {
		// No direct link to our own chosen next hop: treat like a routing
		// failure discovered locally, same recovery as ErrorInRouting.
		s.rerouteAndRetry(fs, s.ep.cfg.Self, next)
		return
	}

	hdr := packet.SourceRouteHeader{Hops: s.route, HopIndex: 1}
	pkt := &packet.Packet{Kind: fs.frag, Route: hdr, SessionID: s.sessionID}
	sender <- pkt

	fs.lastSend = s.ep.now()
	if fs.backoff == 0 {
		fs.backoff = s.ep.retransmitTimeout()
	}
	s.ep.cfg.Events.Publish(events.PacketSent{From: s.ep.cfg.Self, To: next, Kind: fs.frag, SessionID: s.sessionID})
}

func (s *outboundSession) onAck(a packet.Ack) {
	fs, ok := s.fragments[a.FragmentIndex]
	if !ok || fs.acked {
		return
	}
	fs.acked = true
	s.outstanding--

	if fs.retries == 0 && !fs.lastSend.IsZero() {
		s.ep.observeRTT(s.ep.now().Sub(fs.lastSend))
	}

	// Reward the path: every edge along the route just succeeded.
	for i := 0; i+1 < len(s.route); i++ {
		s.ep.cfg.Graph.ObserveOutcome(s.route[i], s.route[i+1], false, topology.DefaultEWMAAlpha)
	}

	if s.nextToSend < s.total {
		s.sendFragment(s.fragments[s.nextToSend])
		s.nextToSend++
	}

	s.maybeRetire()
}

func (s *outboundSession) onNack(pkt *packet.Packet, n packet.Nack) {
	fs, ok := s.fragments[n.FragmentIndex]
	if !ok || fs.acked {
		return
	}

	reporter := id.NodeID(0)
	if len(pkt.Route.Hops) > 0 {
		reporter = pkt.Route.Hops[0]
	}

	switch n.Reason.Kind {
	case packet.Dropped:
		s.penalizeEdgeInto(reporter)
		// Re-select against the penalized graph: repeated drops at one
		// drone steer subsequent sends onto a more reliable branch.
		if path, ok := s.ep.selectRoute(s.destination); ok && len(path) >= 2 {
			s.route = path
		}
		s.retryFragment(fs)
	case packet.ErrorInRouting:
		s.rerouteAndRetry(fs, reporter, n.Reason.Node)
	case packet.DestinationIsDrone, packet.UnexpectedRecipient:
		s.rerouteAndRetry(fs, reporter, 0)
	}
}

// penalizeEdgeInto raises the failure estimate of the edge leading into
// the node that reported a drop.
func (s *outboundSession) penalizeEdgeInto(reporter id.NodeID) {
	for i, n := range s.route {
		if n == reporter && i > 0 {
			s.ep.cfg.Graph.ObserveOutcome(s.route[i-1], reporter, true, topology.DefaultEWMAAlpha)
			s.ep.cfg.Graph.ObserveOutcome(reporter, s.route[i-1], true, topology.DefaultEWMAAlpha)
			return
		}
	}
}

// rerouteAndRetry removes the edge named by the failure (when known),
// requests a fresh flood for future sessions, recomputes a route against
// the endpoint's current topology view, and retries the fragment.
func (s *outboundSession) rerouteAndRetry(fs *fragState, from, to id.NodeID) {
	if to != 0 {
		s.ep.cfg.Graph.RemoveEdge(from, to)
		s.ep.cfg.Graph.RemoveEdge(to, from)
	}
	if s.ep.cfg.TriggerFlood != nil {
		s.ep.cfg.TriggerFlood()
	}

	path, ok := s.ep.selectRoute(s.destination)
	if !ok || len(path) < 2 {
		s.abort(ErrNoRoute)
		return
	}
	s.route = path
	s.retryFragment(fs)
}

func (s *outboundSession) retryFragment(fs *fragState) {
	fs.retries++
	if fs.retries >= s.ep.cfg.MaxRetries {
		s.abort(ErrRetryLimitExceeded)
		return
	}
	s.sendFragment(fs)
}

// checkTimeouts resends any in-flight fragment whose backoff has elapsed,
// doubling its backoff up to DefaultBackoffCap, and aborts the session if
// MaxRetries is exceeded.
func (s *outboundSession) checkTimeouts(now time.Time) {
	for _, fs := range s.fragments {
		if fs.acked || fs.lastSend.IsZero() {
			continue
		}
		if now.Sub(fs.lastSend) < fs.backoff {
			continue
		}
		fs.retries++
		if fs.retries >= s.ep.cfg.MaxRetries {
			s.abort(ErrRetryLimitExceeded)
			return
		}
		fs.backoff *= 2
		if fs.backoff > DefaultBackoffCap {
			fs.backoff = DefaultBackoffCap
		}
		s.sendFragment(fs)
	}
}

func (s *outboundSession) maybeRetire() {
	if s.outstanding == 0 {
		s.ep.retireOutbound(s.sessionID)
		if s.onDone != nil {
			s.onDone(Outcome{SessionID: s.sessionID})
		}
	}
}

func (s *outboundSession) abort(err error) {
	s.ep.retireOutbound(s.sessionID)
	if s.onDone != nil {
		s.onDone(Outcome{SessionID: s.sessionID, Err: err})
	}
}
