package events

import (
	"sync"

	"github.com/rolling-mesh/simcore/core/clock"
)

// DefaultBufferSize is the channel capacity used by New when none is
// specified; publishers drop events rather than block once it fills, since
// a wedged observer should never be able to stall the simulation.
const DefaultBufferSize = 256

// Bus fans simulation events out to every subscriber registered with
// Subscribe. It owns a single internal channel that Publish writes to; a
// dispatch goroutine drains it and copies each event to every subscriber's
// own channel.
type Bus struct {
	publish chan Event
	clock   *clock.Clock

	mu   sync.Mutex
	subs []chan Event

	done chan struct{}
}

// New creates a Bus and starts its dispatch goroutine, stamping every
// published event with the real system clock.
func New() *Bus {
	return NewWithClock(clock.New())
}

// NewWithClock creates a Bus whose published events are stamped using c,
// for tests that want deterministic event timestamps.
func NewWithClock(c *clock.Clock) *Bus {
	b := &Bus{
		publish: make(chan Event, DefaultBufferSize),
		clock:   c,
		done:    make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Publish stamps e with the bus's clock and enqueues it for delivery to
// all current subscribers. It never blocks: if the bus's internal queue is
// full, the event is dropped.
func (b *Bus) Publish(e Event) {
	e = stamp(e, b.clock.Now())
	select {
	case b.publish <- e:
	default:
	}
}

// Subscribe registers a new observer and returns a channel of events meant
// for it. The channel is buffered; a slow subscriber drops events rather
// than backing up the bus.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, DefaultBufferSize)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Close stops the dispatch goroutine and closes every subscriber channel.
func (b *Bus) Close() {
	close(b.done)
}

func (b *Bus) dispatch() {
	for {
		select {
		case <-b.done:
			b.mu.Lock()
			for _, ch := range b.subs {
				close(ch)
			}
			b.subs = nil
			b.mu.Unlock()
			return
		case e := <-b.publish:
			b.mu.Lock()
			subs := make([]chan Event, len(b.subs))
			copy(subs, b.subs)
			b.mu.Unlock()
			for _, ch := range subs {
				select {
				case ch <- e:
				default:
				}
			}
		}
	}
}
