package packet

import (
	"fmt"

	"github.com/rolling-mesh/simcore/core/id"
)

// Kind is the closed set of packet payloads. It is implemented as a
// sealed interface via an unexported marker method, so no package outside
// this one can add a variant. The compiler does not check type switches
// over Kind for exhaustiveness; a new variant must be added to every
// switch by hand.
type Kind interface {
	isPacketKind()
	String() string
}

// MsgFragment is one chunk of a larger logical message.
type MsgFragment struct {
	Index  uint32
	Total  uint32
	Length int
	Bytes  [FragmentSize]byte
}

func (MsgFragment) isPacketKind() {}
func (f MsgFragment) String() string {
	return fmt.Sprintf("MsgFragment{%d/%d, %dB}", f.Index, f.Total, f.Length)
}

// Data returns the fragment's payload bytes, trimmed to Length.
func (f MsgFragment) Data() []byte {
	return f.Bytes[:f.Length]
}

// Ack acknowledges successful receipt of one fragment.
type Ack struct {
	FragmentIndex uint32
}

func (Ack) isPacketKind() {}
func (a Ack) String() string { return fmt.Sprintf("Ack{%d}", a.FragmentIndex) }

// NackReasonKind is the closed set of negative-acknowledgement causes.
type NackReasonKind uint8

const (
	// Dropped means a drone on the path randomly dropped the fragment.
	Dropped NackReasonKind = iota
	// ErrorInRouting means a drone had no outgoing link to the named next hop.
	ErrorInRouting
	// DestinationIsDrone means the route ended at a forwarding-only node.
	DestinationIsDrone
	// UnexpectedRecipient means the handling node is not the one the route names.
	UnexpectedRecipient
)

func (k NackReasonKind) String() string {
	switch k {
	case Dropped:
		return "Dropped"
	case ErrorInRouting:
		return "ErrorInRouting"
	case DestinationIsDrone:
		return "DestinationIsDrone"
	case UnexpectedRecipient:
		return "UnexpectedRecipient"
	default:
		return fmt.Sprintf("NackReasonKind(%d)", uint8(k))
	}
}

// NackReason carries the cause of a Nack and, for the two reasons that name
// a node (the blamed drone, or the unexpected recipient), that node's id.
type NackReason struct {
	Kind NackReasonKind
	Node id.NodeID // meaningful only for ErrorInRouting and UnexpectedRecipient
}

func (r NackReason) String() string {
	switch r.Kind {
	case ErrorInRouting:
		return fmt.Sprintf("ErrorInRouting(%v)", r.Node)
	case UnexpectedRecipient:
		return fmt.Sprintf("UnexpectedRecipient(%v)", r.Node)
	default:
		return r.Kind.String()
	}
}

// Nack signals a fragment could not be delivered.
type Nack struct {
	FragmentIndex uint32
	Reason        NackReason
}

func (Nack) isPacketKind() {}
func (n Nack) String() string {
	return fmt.Sprintf("Nack{%d, %s}", n.FragmentIndex, n.Reason)
}

// FloodRequest carries a discovery broadcast and its accumulated path trace.
type FloodRequest struct {
	FloodID     uint64
	InitiatorID id.NodeID
	PathTrace   []id.NodeInfo
}

func (FloodRequest) isPacketKind() {}
func (f FloodRequest) String() string {
	return fmt.Sprintf("FloodRequest{initiator=%v, flood=%d, trace=%d}", f.InitiatorID, f.FloodID, len(f.PathTrace))
}

// FloodResponse carries a discovery reply back toward the initiator.
type FloodResponse struct {
	FloodID   uint64
	PathTrace []id.NodeInfo
}

func (FloodResponse) isPacketKind() {}
func (f FloodResponse) String() string {
	return fmt.Sprintf("FloodResponse{flood=%d, trace=%d}", f.FloodID, len(f.PathTrace))
}

// IsControlClass reports whether a kind is forwarded using the
// forward-or-shortcut discipline (Ack, Nack, FloodResponse),
// as opposed to MsgFragment's drop-eligible policy.
func IsControlClass(k Kind) bool {
	switch k.(type) {
	case Ack, Nack, FloodResponse:
		return true
	default:
		return false
	}
}

// Packet is the envelope moved between nodes: a payload Kind, the source
// route steering it, and the session it belongs to.
type Packet struct {
	Kind      Kind
	Route     SourceRouteHeader
	SessionID uint64
}

func (p Packet) String() string {
	return fmt.Sprintf("Packet{session=%d, %s, hop=%d/%d}", p.SessionID, p.Kind, p.Route.HopIndex, len(p.Route.Hops))
}
