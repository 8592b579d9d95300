// Package metrics exposes Prometheus instrumentation for the call engine.
//
// Each engine owns its own registry so embedding applications can mount it
// wherever they already serve metrics, and so parallel engines in tests do
// not collide on registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relaycall"

// Collector bundles the engine's Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	// StateTransitions counts call state machine transitions by target phase.
	StateTransitions *prometheus.CounterVec

	// FramesSent counts relayed media units by kind (video, audio).
	FramesSent *prometheus.CounterVec

	// FramesDropped counts media units discarded before transmission.
	FramesDropped *prometheus.CounterVec

	// Disconnects counts signaling connection losses.
	Disconnects prometheus.Counter

	// SpeakingTransitions counts voice activity gate flips.
	SpeakingTransitions prometheus.Counter

	// MessagesExchanged counts in-call chat messages by direction.
	MessagesExchanged *prometheus.CounterVec

	// CallsActive is 1 while a call is in progress.
	CallsActive prometheus.Gauge
}

// NewCollector creates a collector with a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Call state machine transitions by target phase.",
		}, []string{"phase"}),
		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Media units relayed to the signaling server by kind.",
		}, []string{"kind"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Media units discarded before transmission by kind.",
		}, []string{"kind"}),
		Disconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_disconnects_total",
			Help:      "Signaling connection losses.",
		}),
		SpeakingTransitions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speaking_transitions_total",
			Help:      "Voice activity gate state flips.",
		}),
		MessagesExchanged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_messages_total",
			Help:      "In-call chat messages by direction.",
		}, []string{"direction"}),
		CallsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Whether a call is currently active.",
		}),
	}
}

// Registry returns the collector's registry for mounting an exposition
// endpoint.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
