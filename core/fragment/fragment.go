// Package fragment implements the fragmentation codec: chopping an
// arbitrary serialisable value into fixed-size fragments for transmission,
// and reassembling a complete set of fragments back into that value.
//
// The codec is generic over the message type and encodes with
// encoding/gob; Buffer is the destination-side accumulator that collects
// fragments in any order and concatenates them once complete.
package fragment

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/rolling-mesh/simcore/core/packet"
)

// ErrReassemblyMismatch is returned when two fragments claim the same index
// with different bytes, which indicates a protocol violation.
var ErrReassemblyMismatch = errors.New("fragment: differing bytes for same index")

// ErrIncomplete is returned when reassembly is attempted before every index
// in [0,total) has been collected.
var ErrIncomplete = errors.New("fragment: missing fragment indices")

// Split serializes v with encoding/gob and chops the result into fragments
// of at most packet.FragmentSize bytes each. A zero-length payload yields
// zero fragments; a zero-length message is a valid, already-complete one.
func Split[T any](v T) ([]packet.MsgFragment, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("fragment: encode: %w", err)
	}
	return SplitBytes(buf.Bytes()), nil
}

// SplitBytes chops a raw byte string into fragments. Exposed separately so
// callers that already have a serialized payload (e.g. tests) can skip the
// gob round trip.
func SplitBytes(s []byte) []packet.MsgFragment {
	if len(s) == 0 {
		return nil
	}
	total := (len(s) + packet.FragmentSize - 1) / packet.FragmentSize
	frags := make([]packet.MsgFragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * packet.FragmentSize
		end := min(start+packet.FragmentSize, len(s))
		f := packet.MsgFragment{
			Index:  uint32(i),
			Total:  uint32(total),
			Length: end - start,
		}
		copy(f.Bytes[:], s[start:end])
		frags = append(frags, f)
	}
	return frags
}

// Buffer accumulates fragments for one logical message and reports when it
// is complete. It is the destination-side counterpart to Split/SplitBytes.
type Buffer struct {
	total uint32
	have  map[uint32][]byte
}

// NewBuffer creates an empty reassembly buffer.
func NewBuffer() *Buffer {
	return &Buffer{have: make(map[uint32][]byte)}
}

// Add records one fragment. Duplicate fragments with identical bytes are
// idempotent; a duplicate index with differing bytes is reported as
// ErrReassemblyMismatch.
func (b *Buffer) Add(f packet.MsgFragment) error {
	if b.total == 0 {
		b.total = f.Total
	}
	data := f.Data()
	if existing, ok := b.have[f.Index]; ok {
		if !bytes.Equal(existing, data) {
			return fmt.Errorf("%w: index %d", ErrReassemblyMismatch, f.Index)
		}
		return nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.have[f.Index] = cp
	return nil
}

// Complete reports whether every index in [0,total) has been collected.
// A buffer that never received any fragment (zero-length message) is
// considered complete: a zero-length message has nothing left to wait for.
func (b *Buffer) Complete() bool {
	if b.total == 0 {
		return len(b.have) == 0
	}
	return uint32(len(b.have)) == b.total
}

// Bytes concatenates fragments by index into the original byte string.
// Returns ErrIncomplete if any index is missing.
func (b *Buffer) Bytes() ([]byte, error) {
	if !b.Complete() {
		return nil, ErrIncomplete
	}
	out := make([]byte, 0, int(b.total)*packet.FragmentSize)
	for i := uint32(0); i < b.total; i++ {
		out = append(out, b.have[i]...)
	}
	return out, nil
}

// Decode reassembles and gob-decodes the buffer's fragments into a T.
func Decode[T any](b *Buffer) (T, error) {
	var zero T
	raw, err := b.Bytes()
	if err != nil {
		return zero, err
	}
	if len(raw) == 0 {
		return zero, nil
	}
	var out T
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&out); err != nil {
		return zero, fmt.Errorf("fragment: decode: %w", err)
	}
	return out, nil
}
