package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rolling-mesh/simcore/config"
	"github.com/rolling-mesh/simcore/control/console"
	"github.com/rolling-mesh/simcore/control/validator"
	"github.com/rolling-mesh/simcore/core/id"
)

// These one-shot commands exercise the exact controller command surface
// (spawn_drone, crash, set_pdr, add_link, remove_link) against a config
// file, without a long-running daemon to send them to: the simulation
// is single-process, so there is no server for a separate CLI
// invocation to talk to. Each command instead loads
// the config, builds the trial topology the real Controller would build
// for that mutation, and reports Ok or the same descriptive error
// the Controller would return — a dry-run harness for scripting and CI,
// with `run --script` (script.go) as the way to fire these same verbs
// against a live fleet within one process.

func loadTopology(path string) (*validator.Topology, *config.NetworkConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	t, err := topologyFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	return t, cfg, nil
}

func parseNodeID(s string) (id.NodeID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return id.NodeID(v), nil
}

var spawnCmd = &cobra.Command{
	Use:   "spawn <config.yaml> <id> <pdr> <neighbour> [neighbour...]",
	Short: "Check whether spawn_drone(id, pdr, neighbours) would be accepted",
	Args:  cobra.MinimumNArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, _, err := loadTopology(args[0])
		if err != nil {
			return err
		}
		nodeID, err := parseNodeID(args[1])
		if err != nil {
			return err
		}
		pdr, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("invalid pdr %q: %w", args[2], err)
		}
		var neighbours []id.NodeID
		for _, a := range args[3:] {
			n, err := parseNodeID(a)
			if err != nil {
				return err
			}
			neighbours = append(neighbours, n)
		}

		trial := t.Clone()
		trial.Kinds[nodeID] = id.Drone
		trial.PDR[nodeID] = pdr
		for _, n := range neighbours {
			trial.Link(nodeID, n)
		}
		return reportTrial(trial, fmt.Sprintf("spawn_drone(%v, %.2f, %v)", nodeID, pdr, neighbours))
	},
}

var crashCmd = &cobra.Command{
	Use:   "crash <config.yaml> <id>",
	Short: "Check whether crash(id) would be accepted",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, _, err := loadTopology(args[0])
		if err != nil {
			return err
		}
		nodeID, err := parseNodeID(args[1])
		if err != nil {
			return err
		}
		trial := t.Clone()
		for n := range trial.Neighbors[nodeID] {
			trial.Unlink(nodeID, n)
		}
		delete(trial.Kinds, nodeID)
		delete(trial.PDR, nodeID)
		return reportTrial(trial, fmt.Sprintf("crash(%v)", nodeID))
	},
}

var setPDRCmd = &cobra.Command{
	Use:   "set-pdr <config.yaml> <id> <pdr>",
	Short: "Check whether set_pdr(id, pdr) would be accepted",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, _, err := loadTopology(args[0])
		if err != nil {
			return err
		}
		nodeID, err := parseNodeID(args[1])
		if err != nil {
			return err
		}
		pdr, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("invalid pdr %q: %w", args[2], err)
		}
		if _, ok := t.Kinds[nodeID]; !ok || t.Kinds[nodeID] != id.Drone {
			return fmt.Errorf("node %v is not a drone in this config", nodeID)
		}
		trial := t.Clone()
		trial.PDR[nodeID] = pdr
		return reportTrial(trial, fmt.Sprintf("set_pdr(%v, %.2f)", nodeID, pdr))
	},
}

var addLinkCmd = &cobra.Command{
	Use:   "add-link <config.yaml> <a> <b>",
	Short: "Check whether add_link(a, b) would be accepted",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, _, err := loadTopology(args[0])
		if err != nil {
			return err
		}
		a, err := parseNodeID(args[1])
		if err != nil {
			return err
		}
		b, err := parseNodeID(args[2])
		if err != nil {
			return err
		}
		trial := t.Clone()
		trial.Link(a, b)
		return reportTrial(trial, fmt.Sprintf("add_link(%v, %v)", a, b))
	},
}

var removeLinkCmd = &cobra.Command{
	Use:   "remove-link <config.yaml> <a> <b>",
	Short: "Check whether remove_link(a, b) would be accepted",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, _, err := loadTopology(args[0])
		if err != nil {
			return err
		}
		a, err := parseNodeID(args[1])
		if err != nil {
			return err
		}
		b, err := parseNodeID(args[2])
		if err != nil {
			return err
		}
		trial := t.Clone()
		trial.Unlink(a, b)
		return reportTrial(trial, fmt.Sprintf("remove_link(%v, %v)", a, b))
	},
}

func reportTrial(trial *validator.Topology, label string) error {
	c := console.New(verbose)
	if err := validator.Validate(trial); err != nil {
		c.Error(fmt.Sprintf("%s refused: %v", label, err))
		return fmt.Errorf("refused")
	}
	c.Success(fmt.Sprintf("%s: Ok", label))
	return nil
}
