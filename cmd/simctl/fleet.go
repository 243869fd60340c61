package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rolling-mesh/simcore/config"
	"github.com/rolling-mesh/simcore/control/controller"
	"github.com/rolling-mesh/simcore/core/id"
	"github.com/rolling-mesh/simcore/core/packet"
	"github.com/rolling-mesh/simcore/core/topology"
	"github.com/rolling-mesh/simcore/device/session"
)

// echoHandler is the default application handler for server endpoints: it
// exists so a session can round-trip without wiring an external asset
// provider, which this CLI glue does not implement. A real deployment
// would inject a Handler backed by an asset provider per node kind.
func echoHandler(from id.NodeID, payload []byte) []byte {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out
}

// buildFleet spawns every drone, client, and server named in cfg onto
// ctrl, wiring links as it goes, and runs the whole batch through
// Controller.Bootstrap so per-call reachability validation is deferred
// until the complete topology exists. Returns the run's id, tagged
// onto the controller's logger so concurrent runs in one process don't
// interleave ambiguously.
func buildFleet(ctx context.Context, cfg *config.NetworkConfig, logger *slog.Logger) (*controller.Controller, string, error) {
	runID := uuid.NewString()
	logger = logger.With("run_id", runID)
	ctrl := controller.New(ctx, logger)

	err := ctrl.Bootstrap(func() error {
		for _, d := range cfg.Drones {
			if err := ctrl.SpawnDrone(d.ID, d.PDR, d.ConnectedNodeIDs); err != nil {
				return fmt.Errorf("spawn drone %v: %w", d.ID, err)
			}
		}
		for _, c := range cfg.Clients {
			kind, err := config.ClientKind(c.Kind)
			if err != nil {
				return err
			}
			if err := registerEndpoint(ctrl, c.ID, kind, nil, c.ConnectedDroneIDs, logger); err != nil {
				return fmt.Errorf("register client %v: %w", c.ID, err)
			}
		}
		for _, s := range cfg.Servers {
			kind, err := config.ServerKind(s.Kind)
			if err != nil {
				return err
			}
			if err := registerEndpoint(ctrl, s.ID, kind, echoHandler, s.ConnectedDroneIDs, logger); err != nil {
				return fmt.Errorf("register server %v: %w", s.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		ctrl.Stop()
		return nil, "", err
	}
	return ctrl, runID, nil
}

func registerEndpoint(ctrl *controller.Controller, nodeID id.NodeID, kind id.Kind, handler session.Handler, neighbours []id.NodeID, logger *slog.Logger) error {
	control := make(chan session.Command, 16)
	packets := make(chan *packet.Packet, 64)

	ep := session.New(session.Config{
		Self:    nodeID,
		Kind:    kind,
		Graph:   topology.New(),
		Control: control,
		Packets: packets,
		Events:  ctrl.Events(),
		Handler: handler,
		Logger:  logger,
	})

	return ctrl.RegisterEndpoint(nodeID, kind, ep, control, packets, neighbours)
}
