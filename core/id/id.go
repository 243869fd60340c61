// Package id defines node identity for the simulated mesh: a small unique
// integer identifier paired with a closed set of node kinds.
package id

import "fmt"

// NodeID uniquely identifies a node within one simulation run.
type NodeID uint32

// String returns a compact human-readable form, e.g. "#7".
func (n NodeID) String() string {
	return fmt.Sprintf("#%d", uint32(n))
}

// Kind is the closed set of node roles in the mesh.
type Kind uint8

const (
	Drone Kind = iota
	ChatClient
	WebBrowser
	ChatServer
	TextServer
	MediaServer
)

// IsDrone reports whether this kind forwards traffic rather than
// originating or terminating sessions.
func (k Kind) IsDrone() bool {
	return k == Drone
}

// IsClient reports whether this kind originates sessions.
func (k Kind) IsClient() bool {
	return k == ChatClient || k == WebBrowser
}

// IsServer reports whether this kind terminates sessions.
func (k Kind) IsServer() bool {
	return k == ChatServer || k == TextServer || k == MediaServer
}

func (k Kind) String() string {
	switch k {
	case Drone:
		return "Drone"
	case ChatClient:
		return "ChatClient"
	case WebBrowser:
		return "WebBrowser"
	case ChatServer:
		return "ChatServer"
	case TextServer:
		return "TextServer"
	case MediaServer:
		return "MediaServer"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// NodeInfo pairs an id with its kind, the unit carried by flood path traces.
type NodeInfo struct {
	ID   NodeID
	Kind Kind
}
