package events

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a prometheus.Collector that subscribes to a Bus and keeps
// running counters derived from the events it observes, wrapping a
// CounterVec and a few Counter fields behind a hand-rolled Collect.
type Metrics struct {
	bus *Bus

	mu             sync.Mutex
	packetsSent    map[string]float64 // keyed by "from->to"
	packetsDropped *prometheus.CounterVec
	shortcuts      prometheus.Counter
	floodsStarted  prometheus.Counter
	sessionBytes   prometheus.Counter

	packetsSentDesc *prometheus.Desc
}

// NewMetrics creates a Metrics collector and starts consuming events from
// bus until the bus is closed.
func NewMetrics(bus *Bus) *Metrics {
	m := &Metrics{
		bus:         bus,
		packetsSent: make(map[string]float64),
		packetsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simcore_packets_dropped_total",
				Help: "Total packets dropped by drones, by reason.",
			},
			[]string{"reason"},
		),
		shortcuts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simcore_controller_shortcuts_total",
			Help: "Total packets the controller resolved on a drone's behalf after a link failure.",
		}),
		floodsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simcore_floods_initiated_total",
			Help: "Total discovery floods initiated.",
		}),
		sessionBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simcore_session_bytes_delivered_total",
			Help: "Total application payload bytes delivered end to end.",
		}),
		packetsSentDesc: prometheus.NewDesc(
			"simcore_packets_sent_total",
			"Total packets forwarded between a node pair.",
			[]string{"from", "to"}, nil,
		),
	}
	go m.consume(bus.Subscribe())
	return m
}

func (m *Metrics) consume(ch <-chan Event) {
	for e := range ch {
		switch ev := e.(type) {
		case PacketSent:
			m.mu.Lock()
			m.packetsSent[ev.From.String()+"->"+ev.To.String()]++
			m.mu.Unlock()
		case PacketDropped:
			m.packetsDropped.WithLabelValues(ev.Reason.String()).Inc()
		case ControllerShortcut:
			m.shortcuts.Inc()
		case FloodInitiated:
			m.floodsStarted.Inc()
		case SessionMessage:
			m.sessionBytes.Add(float64(ev.PayloadBytes))
		}
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.packetsSentDesc
	m.packetsDropped.Describe(ch)
	m.shortcuts.Describe(ch)
	m.floodsStarted.Describe(ch)
	m.sessionBytes.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.mu.Lock()
	for pair, count := range m.packetsSent {
		from, to := splitPair(pair)
		ch <- prometheus.MustNewConstMetric(m.packetsSentDesc, prometheus.CounterValue, count, from, to)
	}
	m.mu.Unlock()

	m.packetsDropped.Collect(ch)
	m.shortcuts.Collect(ch)
	m.floodsStarted.Collect(ch)
	m.sessionBytes.Collect(ch)
}

func splitPair(pair string) (string, string) {
	for i := 0; i+1 < len(pair); i++ {
		if pair[i] == '-' && pair[i+1] == '>' {
			return pair[:i], pair[i+2:]
		}
	}
	return pair, ""
}
