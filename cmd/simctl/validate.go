package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rolling-mesh/simcore/config"
	"github.com/rolling-mesh/simcore/control/console"
	"github.com/rolling-mesh/simcore/control/validator"
	"github.com/rolling-mesh/simcore/core/id"
)

var validateCmd = &cobra.Command{
	Use:   "validate <config.yaml>",
	Short: "Check a network config against the topology rules without spawning it",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

// topologyFromConfig builds a validator.Topology directly from config
// data, without spawning any goroutines — used both by `validate` and by
// the one-shot command dry-runs.
func topologyFromConfig(cfg *config.NetworkConfig) (*validator.Topology, error) {
	t := validator.NewTopology()
	for _, d := range cfg.Drones {
		t.Kinds[d.ID] = id.Drone
		t.PDR[d.ID] = d.PDR
		for _, n := range d.ConnectedNodeIDs {
			t.Link(d.ID, n)
		}
	}
	for _, c := range cfg.Clients {
		kind, err := config.ClientKind(c.Kind)
		if err != nil {
			return nil, err
		}
		t.Kinds[c.ID] = kind
		for _, n := range c.ConnectedDroneIDs {
			t.Link(c.ID, n)
		}
	}
	for _, s := range cfg.Servers {
		kind, err := config.ServerKind(s.Kind)
		if err != nil {
			return nil, err
		}
		t.Kinds[s.ID] = kind
		for _, n := range s.ConnectedDroneIDs {
			t.Link(s.ID, n)
		}
	}
	return t, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}
	t, err := topologyFromConfig(cfg)
	if err != nil {
		return err
	}
	c := console.New(verbose)
	if err := validator.Validate(t); err != nil {
		c.Error(err.Error())
		return fmt.Errorf("config is invalid")
	}
	c.Success(fmt.Sprintf("config is valid: %d drones, %d clients, %d servers", len(cfg.Drones), len(cfg.Clients), len(cfg.Servers)))
	return nil
}
