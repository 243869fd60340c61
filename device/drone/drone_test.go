package drone

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/rolling-mesh/simcore/control/events"
	"github.com/rolling-mesh/simcore/core/id"
	"github.com/rolling-mesh/simcore/core/packet"
	"github.com/rolling-mesh/simcore/device/link"
)

func newTestDrone(t *testing.T, self id.NodeID, dropRate float64) (*Drone, chan Command, chan *packet.Packet) {
	t.Helper()
	control := make(chan Command, 8)
	packets := make(chan *packet.Packet, 8)
	d := New(Config{
		Self:     self,
		DropRate: dropRate,
		Control:  control,
		Packets:  packets,
		Events:   events.New(),
		Rand:     rand.New(rand.NewSource(1)),
	})
	return d, control, packets
}

func recvWithin(t *testing.T, ch link.Receiver, d time.Duration) *packet.Packet {
	t.Helper()
	select {
	case pkt := <-ch:
		return pkt
	case <-time.After(d):
		t.Fatal("timed out waiting for packet")
		return nil
	}
}

func TestForwardsFragmentToNextHop(t *testing.T) {
	d, control, packets := newTestDrone(t, 2, 0.0)
	sender, receiver := link.New(link.DefaultBufferSize)
	control <- AddSender{Node: 3, Sender: sender}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	route := packet.NewRoute([]id.NodeID{1, 2, 3})
	route.HopIndex = 1
	packets <- &packet.Packet{Kind: packet.MsgFragment{Index: 0, Total: 1, Length: 5}, Route: route, SessionID: 7}

	fwd := recvWithin(t, receiver, time.Second)
	if fwd.Route.HopIndex != 2 {
		t.Fatalf("forwarded hop_index = %d, want 2", fwd.Route.HopIndex)
	}
}

func TestNacksDestinationIsDrone(t *testing.T) {
	d, control, packets := newTestDrone(t, 2, 0.0)
	sender, receiver := link.New(link.DefaultBufferSize)
	control <- AddSender{Node: 1, Sender: sender}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	route := packet.NewRoute([]id.NodeID{1, 2})
	route.HopIndex = 1 // last hop, drone has no further hop to go
	packets <- &packet.Packet{Kind: packet.MsgFragment{Index: 0, Total: 1, Length: 5}, Route: route}

	nackPkt := recvWithin(t, receiver, time.Second)
	nack, ok := nackPkt.Kind.(packet.Nack)
	if !ok || nack.Reason.Kind != packet.DestinationIsDrone {
		t.Fatalf("got %v, want Nack(DestinationIsDrone)", nackPkt.Kind)
	}
}

func TestDropsWhenPdrIsOne(t *testing.T) {
	d, control, packets := newTestDrone(t, 2, 1.0)
	sender, receiver := link.New(link.DefaultBufferSize)
	control <- AddSender{Node: 1, Sender: sender}
	control <- AddSender{Node: 3, Sender: make(chan *packet.Packet, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	route := packet.NewRoute([]id.NodeID{1, 2, 3})
	route.HopIndex = 1
	packets <- &packet.Packet{Kind: packet.MsgFragment{Index: 0, Total: 1, Length: 5}, Route: route}

	nackPkt := recvWithin(t, receiver, time.Second)
	nack, ok := nackPkt.Kind.(packet.Nack)
	if !ok || nack.Reason.Kind != packet.Dropped {
		t.Fatalf("got %v, want Nack(Dropped)", nackPkt.Kind)
	}
}

func TestErrorInRoutingWhenLinkMissing(t *testing.T) {
	d, control, packets := newTestDrone(t, 2, 0.0)
	sender, receiver := link.New(link.DefaultBufferSize)
	control <- AddSender{Node: 1, Sender: sender}
	// no link to node 3

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	route := packet.NewRoute([]id.NodeID{1, 2, 3})
	route.HopIndex = 1
	packets <- &packet.Packet{Kind: packet.MsgFragment{Index: 0, Total: 1, Length: 5}, Route: route}

	nackPkt := recvWithin(t, receiver, time.Second)
	nack, ok := nackPkt.Kind.(packet.Nack)
	if !ok || nack.Reason.Kind != packet.ErrorInRouting || nack.Reason.Node != 3 {
		t.Fatalf("got %v, want Nack(ErrorInRouting(3))", nackPkt.Kind)
	}
}

func TestRemoveSenderThenErrorInRouting(t *testing.T) {
	d, control, packets := newTestDrone(t, 2, 0.0)
	senderBack, receiverBack := link.New(link.DefaultBufferSize)
	senderNext, _ := link.New(link.DefaultBufferSize)
	control <- AddSender{Node: 1, Sender: senderBack}
	control <- AddSender{Node: 3, Sender: senderNext}
	control <- RemoveSender{Node: 3}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	route := packet.NewRoute([]id.NodeID{1, 2, 3})
	route.HopIndex = 1
	packets <- &packet.Packet{Kind: packet.MsgFragment{Index: 0, Total: 1, Length: 5}, Route: route}

	nackPkt := recvWithin(t, receiverBack, time.Second)
	nack, ok := nackPkt.Kind.(packet.Nack)
	if !ok || nack.Reason.Kind != packet.ErrorInRouting {
		t.Fatalf("got %v, want Nack(ErrorInRouting)", nackPkt.Kind)
	}
}

func TestCrashDrainsFragmentsAsErrorInRouting(t *testing.T) {
	d, control, packets := newTestDrone(t, 2, 0.0)
	sender, receiver := link.New(link.DefaultBufferSize)
	control <- AddSender{Node: 1, Sender: sender}

	route := packet.NewRoute([]id.NodeID{1, 2, 3})
	route.HopIndex = 1
	packets <- &packet.Packet{Kind: packet.MsgFragment{Index: 0, Total: 1, Length: 5}, Route: route}
	control <- Crash{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	nackPkt := recvWithin(t, receiver, time.Second)
	nack, ok := nackPkt.Kind.(packet.Nack)
	if !ok || nack.Reason.Kind != packet.ErrorInRouting || nack.Reason.Node != 2 {
		t.Fatalf("got %v, want Nack(ErrorInRouting(2))", nackPkt.Kind)
	}

	time.Sleep(50 * time.Millisecond)
	if d.State() != Terminated {
		t.Fatalf("state = %v, want Terminated", d.State())
	}
}

// TestLeafRespondsToFloodWithReversibleRoute covers a drone with exactly
// one outgoing link: it must answer a FloodRequest immediately (it's a
// leaf) with a route that can actually be walked hop by hop back to the
// initiator, rather than an empty/unrouted header.
func TestLeafRespondsToFloodWithReversibleRoute(t *testing.T) {
	d, control, packets := newTestDrone(t, 2, 0.0)
	sender, receiver := link.New(link.DefaultBufferSize)
	control <- AddSender{Node: 1, Sender: sender}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	req := packet.FloodRequest{FloodID: 1, InitiatorID: 1, PathTrace: []id.NodeInfo{{ID: 1, Kind: id.ChatClient}}}
	packets <- &packet.Packet{Kind: req}

	respPkt := recvWithin(t, receiver, time.Second)
	resp, ok := respPkt.Kind.(packet.FloodResponse)
	if !ok {
		t.Fatalf("got %T, want FloodResponse", respPkt.Kind)
	}
	if len(resp.PathTrace) != 2 || resp.PathTrace[1].ID != 2 {
		t.Fatalf("path trace = %v, want [1, 2]", resp.PathTrace)
	}
	if len(respPkt.Route.Hops) == 0 {
		t.Fatalf("route has no hops, would be unroutable")
	}
	if got := respPkt.Route.Self(); got != 1 {
		t.Fatalf("route.Self() = %v, want 1 (the initiator, about to receive)", got)
	}
	if !respPkt.Route.AtLastHop() {
		t.Fatalf("expected a direct single-hop response to already be at its last hop")
	}
}
