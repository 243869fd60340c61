// Package link provides the in-memory point-to-point channels that stand
// in for a physical or OS-level transport between simulated nodes. A real
// deployment would carry packet.Packet over a socket or a serial line; the
// simulation controller instead wires two nodes together by handing each
// one a Sender onto the other's inbound packet channel.
//
// A real transport interface wraps an underlying io.ReadWriter. Here
// there is no real medium to wrap, so the channel itself *is* the
// transport.
package link

import "github.com/rolling-mesh/simcore/core/packet"

// DefaultBufferSize is the channel capacity used when a link's buffer size
// isn't configured explicitly. A simulated link is effectively lossless at
// the channel layer; packet loss is modeled by the drone's drop-rate
// sampling, not by the transport.
const DefaultBufferSize = 64

// Sender is the write half of a link, held by the node that transmits on
// it.
type Sender chan<- *packet.Packet

// Receiver is the read half of a link, held by the node that receives on
// it.
type Receiver <-chan *packet.Packet

// New creates one directed link with the given buffer size, returning the
// sender and receiver halves. Two New calls (one per direction) wire a
// bidirectional link between a pair of nodes.
func New(bufferSize int) (Sender, Receiver) {
	ch := make(chan *packet.Packet, bufferSize)
	return Sender(ch), Receiver(ch)
}
