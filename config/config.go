// Package config holds the plain-data network description: the
// drones, clients, and servers an external loader hands the simulation
// controller, plus a thin YAML loader for tests and the cmd/simctl CLI.
package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rolling-mesh/simcore/core/id"
)

// DroneConfig describes one drone to spawn: its id, initial packet drop
// rate, and the node ids it is wired to.
type DroneConfig struct {
	ID               id.NodeID   `yaml:"id"`
	PDR              float64     `yaml:"pdr"`
	ConnectedNodeIDs []id.NodeID `yaml:"connected_node_ids"`
}

// ClientConfig describes one client endpoint: a ChatClient or WebBrowser.
type ClientConfig struct {
	ID                id.NodeID   `yaml:"id"`
	Kind              string      `yaml:"kind"` // "chat_client" or "web_browser"
	ConnectedDroneIDs []id.NodeID `yaml:"connected_drone_ids"`
}

// ServerConfig describes one server endpoint: a ChatServer, TextServer, or
// MediaServer. AssetIndexPath is opaque to the core;
// it is plumbed through for the external asset loader to interpret.
type ServerConfig struct {
	ID                id.NodeID   `yaml:"id"`
	Kind              string      `yaml:"kind"` // "chat_server", "text_server", "media_server"
	ConnectedDroneIDs []id.NodeID `yaml:"connected_drone_ids"`
	AssetIndexPath    string      `yaml:"asset_index_path,omitempty"`
}

// NetworkConfig is the complete plain-data shape: everything an
// external loader hands the simulation controller to build an initial
// fleet.
type NetworkConfig struct {
	Drones  []DroneConfig  `yaml:"drones"`
	Clients []ClientConfig `yaml:"clients"`
	Servers []ServerConfig `yaml:"servers"`
}

// ErrUnknownKind is returned when a client/server config names a kind
// string this package doesn't recognize.
var ErrUnknownKind = fmt.Errorf("config: unknown node kind")

// ClientKind maps a ClientConfig's Kind string onto id.Kind.
func ClientKind(s string) (id.Kind, error) {
	switch s {
	case "chat_client":
		return id.ChatClient, nil
	case "web_browser":
		return id.WebBrowser, nil
	default:
		return 0, fmt.Errorf("%w: %q (client)", ErrUnknownKind, s)
	}
}

// ServerKind maps a ServerConfig's Kind string onto id.Kind.
func ServerKind(s string) (id.Kind, error) {
	switch s {
	case "chat_server":
		return id.ChatServer, nil
	case "text_server":
		return id.TextServer, nil
	case "media_server":
		return id.MediaServer, nil
	default:
		return 0, fmt.Errorf("%w: %q (server)", ErrUnknownKind, s)
	}
}

// Load reads and parses a NetworkConfig from a file path.
func Load(path string) (*NetworkConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a NetworkConfig as YAML from r.
func Parse(r io.Reader) (*NetworkConfig, error) {
	var cfg NetworkConfig
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the shape-level constraints a loader should catch
// before handing the config to the controller: unknown kind strings and
// PDR values outside [0,1]. Topology-level checks (bidirectional links,
// reachability) are the controller's job, since they require
// seeing the whole fleet assembled.
func (c *NetworkConfig) Validate() error {
	for _, d := range c.Drones {
		if d.PDR < 0 || d.PDR > 1 {
			return fmt.Errorf("config: drone %v has pdr %.3f outside [0,1]", d.ID, d.PDR)
		}
	}
	for _, cl := range c.Clients {
		if _, err := ClientKind(cl.Kind); err != nil {
			return err
		}
	}
	for _, s := range c.Servers {
		if _, err := ServerKind(s.Kind); err != nil {
			return err
		}
	}
	return nil
}
