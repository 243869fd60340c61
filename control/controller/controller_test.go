package controller

import (
	"context"
	"testing"
	"time"

	"github.com/rolling-mesh/simcore/core/id"
	"github.com/rolling-mesh/simcore/core/packet"
	"github.com/rolling-mesh/simcore/core/topology"
	"github.com/rolling-mesh/simcore/device/drone"
	"github.com/rolling-mesh/simcore/device/session"
)

func TestBootstrapWiresAFullTopologyThenValidatesOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx, nil)
	defer c.Stop()

	handler := func(from id.NodeID, payload []byte) []byte { return payload }
	newEndpoint := func(self id.NodeID, kind id.Kind, h session.Handler) (*session.Endpoint, chan session.Command, chan *packet.Packet) {
		ctl := make(chan session.Command, 8)
		pkt := make(chan *packet.Packet, 8)
		ep := session.New(session.Config{
			Self: self, Kind: kind, Graph: topology.New(),
			Control: ctl, Packets: pkt, Events: c.Events(), Handler: h,
		})
		return ep, ctl, pkt
	}

	err := c.Bootstrap(func() error {
		if err := c.SpawnDrone(2, 0.0, nil); err != nil {
			return err
		}

		clientAEp, clientACtl, clientAPkt := newEndpoint(1, id.ChatClient, nil)
		if err := c.RegisterEndpoint(1, id.ChatClient, clientAEp, clientACtl, clientAPkt, []id.NodeID{2}); err != nil {
			return err
		}
		clientBEp, clientBCtl, clientBPkt := newEndpoint(5, id.ChatClient, nil)
		if err := c.RegisterEndpoint(5, id.ChatClient, clientBEp, clientBCtl, clientBPkt, []id.NodeID{2}); err != nil {
			return err
		}
		serverEp, serverCtl, serverPkt := newEndpoint(3, id.ChatServer, handler)
		return c.RegisterEndpoint(3, id.ChatServer, serverEp, serverCtl, serverPkt, []id.NodeID{2})
	})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	for _, n := range []id.NodeID{1, 2, 3, 5} {
		if _, ok := c.inbound[n]; !ok {
			t.Fatalf("expected node %v registered", n)
		}
	}
}

// TestEndToEndDeliveryAcrossChain runs the full stack: a client floods,
// learns the chain topology, sends a message through two lossless drones,
// and the server reassembles it and acks every fragment.
func TestEndToEndDeliveryAcrossChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx, nil)
	defer c.Stop()

	got := make(chan string, 8)
	handler := func(from id.NodeID, payload []byte) []byte {
		got <- string(payload)
		return nil
	}
	newEndpoint := func(self id.NodeID, kind id.Kind, h session.Handler) (*session.Endpoint, chan session.Command, chan *packet.Packet) {
		ctl := make(chan session.Command, 8)
		pkt := make(chan *packet.Packet, 64)
		ep := session.New(session.Config{
			Self: self, Kind: kind, Graph: topology.New(),
			Control: ctl, Packets: pkt, Events: c.Events(), Handler: h,
		})
		return ep, ctl, pkt
	}

	err := c.Bootstrap(func() error {
		if err := c.SpawnDrone(2, 0.0, nil); err != nil {
			return err
		}
		if err := c.SpawnDrone(3, 0.0, []id.NodeID{2}); err != nil {
			return err
		}
		clientEp, clientCtl, clientPkt := newEndpoint(1, id.ChatClient, nil)
		if err := c.RegisterEndpoint(1, id.ChatClient, clientEp, clientCtl, clientPkt, []id.NodeID{2}); err != nil {
			return err
		}
		otherEp, otherCtl, otherPkt := newEndpoint(5, id.ChatClient, nil)
		if err := c.RegisterEndpoint(5, id.ChatClient, otherEp, otherCtl, otherPkt, []id.NodeID{3}); err != nil {
			return err
		}
		serverEp, serverCtl, serverPkt := newEndpoint(4, id.ChatServer, handler)
		return c.RegisterEndpoint(4, id.ChatServer, serverEp, serverCtl, serverPkt, []id.NodeID{3})
	})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	c.DiscoverTopology()

	// The client's topology view fills in asynchronously as flood
	// responses arrive, so the first send attempts may see no route yet.
	deadline := time.After(5 * time.Second)
	outcome := make(chan session.Outcome, 1)
	for {
		if err := c.SendMessage(1, 4, []byte("over the mesh"), func(o session.Outcome) { outcome <- o }); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
		var o session.Outcome
		select {
		case o = <-outcome:
		case <-deadline:
			t.Fatal("timed out waiting for a session outcome")
		}
		if o.Err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("no successful session before deadline, last error: %v", o.Err)
		case <-time.After(50 * time.Millisecond):
		}
	}

	select {
	case payload := <-got:
		if payload != "over the mesh" {
			t.Fatalf("server received %q, want %q", payload, "over the mesh")
		}
	case <-time.After(time.Second):
		t.Fatal("session succeeded but the handler never saw the payload")
	}
}

func TestSpawnDroneRejectsDuplicateNode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx, nil)
	defer c.Stop()

	if err := c.SpawnDrone(1, 0.1, nil); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	if err := c.SpawnDrone(1, 0.1, nil); err == nil {
		t.Fatal("expected error spawning duplicate node id")
	}
}

func TestAddLinkUnknownNodeFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx, nil)
	defer c.Stop()

	if err := c.AddLink(1, 2); err == nil {
		t.Fatal("expected error linking unregistered nodes")
	}
}

func TestCrashRefusedWhenItWouldDisconnectRequiredPair(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx, nil)
	defer c.Stop()

	// Populate the fleet directly (bypassing SpawnDrone's own validation)
	// with a valid topology where node 2 is the sole bridge between both
	// chat clients (1 and 5) and the only chat server (3): crashing it
	// would leave every client unable to reach the server, so Crash must
	// refuse.
	c.topo.Kinds[1] = id.ChatClient
	c.topo.Kinds[2] = id.Drone
	c.topo.Kinds[3] = id.ChatServer
	c.topo.Kinds[5] = id.ChatClient
	c.topo.Link(1, 2)
	c.topo.Link(2, 3)
	c.topo.Link(5, 2)
	c.inbound[1] = make(chan *packet.Packet, 1)
	c.inbound[3] = make(chan *packet.Packet, 1)
	c.inbound[5] = make(chan *packet.Packet, 1)
	c.drones[2] = nil
	c.droneControl[2] = make(chan drone.Command, 1)

	if err := c.Crash(2); err == nil {
		t.Fatal("expected crash to be refused: it is the only bridge")
	}
}

func TestSetPDROutOfRangeRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx, nil)
	defer c.Stop()

	if err := c.SpawnDrone(1, 0.1, nil); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := c.SetPDR(1, 1.5); err == nil {
		t.Fatal("expected rejection of out-of-range pdr")
	}
}

func TestDeliverShortcutRoutesToDestinationInbound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx, nil)
	defer c.Stop()

	dest := make(chan *packet.Packet, 1)
	c.inbound[9] = dest

	route := packet.NewRoute([]id.NodeID{5, 9})
	pkt := &packet.Packet{Kind: packet.Ack{FragmentIndex: 0}, Route: route, SessionID: 3}
	c.deliverShortcut(pkt)

	select {
	case got := <-dest:
		if _, ok := got.Kind.(packet.Ack); !ok {
			t.Fatalf("got %T, want Ack", got.Kind)
		}
		if got.SessionID != 3 {
			t.Fatalf("session = %d, want 3", got.SessionID)
		}
		// Delivered as if it arrived over the route's last link.
		if !got.Route.AtLastHop() || got.Route.Self() != 9 {
			t.Fatalf("route = %v at hop %d, want positioned at destination 9", got.Route.Hops, got.Route.HopIndex)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for shortcut delivery")
	}
}
