package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rolling-mesh/simcore/control/controller"
	"github.com/rolling-mesh/simcore/core/id"
)

// ScriptedCommand is one timed entry in a `run --script` file: the
// controller command surface, fired `at` a delay from the run's start.
type ScriptedCommand struct {
	At         time.Duration `yaml:"at"`
	Action     string        `yaml:"action"` // spawn_drone|crash|set_pdr|add_link|remove_link|send
	Node       id.NodeID     `yaml:"node,omitempty"`
	A          id.NodeID     `yaml:"a,omitempty"`
	B          id.NodeID     `yaml:"b,omitempty"`
	PDR        float64       `yaml:"pdr,omitempty"`
	Neighbours []id.NodeID   `yaml:"neighbours,omitempty"`
	To         id.NodeID     `yaml:"to,omitempty"`
	Payload    string        `yaml:"payload,omitempty"`
}

// Script is an ordered list of ScriptedCommands.
type Script struct {
	Commands []ScriptedCommand `yaml:"commands"`
}

func loadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script: read %s: %w", path, err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("script: decode %s: %w", path, err)
	}
	return &s, nil
}

// apply runs one scripted command against ctrl: the controller surface
// (spawn_drone, crash, set_pdr, add_link, remove_link), plus `send`,
// which has a client/server endpoint originate a session so a script can
// drive end-to-end traffic, not just topology mutations.
func (s ScriptedCommand) apply(ctrl *controller.Controller) error {
	switch s.Action {
	case "spawn_drone":
		return ctrl.SpawnDrone(s.Node, s.PDR, s.Neighbours)
	case "crash":
		return ctrl.Crash(s.Node)
	case "set_pdr":
		return ctrl.SetPDR(s.Node, s.PDR)
	case "add_link":
		return ctrl.AddLink(s.A, s.B)
	case "remove_link":
		return ctrl.RemoveLink(s.A, s.B)
	case "send":
		return ctrl.SendMessage(s.Node, s.To, []byte(s.Payload), nil)
	default:
		return fmt.Errorf("script: unknown action %q", s.Action)
	}
}
