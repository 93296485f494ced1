package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Event names a cache outcome counted by Metrics.
type Event string

const (
	EventHit          Event = "hit"
	EventMiss         Event = "miss"
	EventNullHit      Event = "null_hit"
	EventLoad         Event = "load"
	EventNullStored   Event = "null_stored"
	EventSet          Event = "set"
	EventInvalidate   Event = "invalidate"
	EventBackendError Event = "backend_error"
)

// Metrics receives cache outcome counts per named cache.
type Metrics interface {
	Record(namespace string, event Event, n int)
}

type noopMetrics struct{}

func (noopMetrics) Record(string, Event, int) {}

// NoopMetrics discards every event.
func NoopMetrics() Metrics { return noopMetrics{} }

// PrometheusMetrics counts events in a single counter vector labelled by
// cache name and event.
type PrometheusMetrics struct {
	events *prometheus.CounterVec
}

// NewPrometheusMetrics registers the counters on reg. A nil reg creates a
// private registry, which keeps tests from colliding on the default one.
func NewPrometheusMetrics(namespace string, reg prometheus.Registerer) (*PrometheusMetrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache_aside",
			Name:      "events_total",
			Help:      "Cache-aside outcomes by named cache and event",
		},
		[]string{"cache", "event"},
	)
	if err := reg.Register(events); err != nil {
		return nil, err
	}
	return &PrometheusMetrics{events: events}, nil
}

func (m *PrometheusMetrics) Record(namespace string, event Event, n int) {
	if n <= 0 {
		return
	}
	m.events.WithLabelValues(namespace, string(event)).Add(float64(n))
}
