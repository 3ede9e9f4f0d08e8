// Package metrics exposes Airboard's Prometheus collectors.
//
// This package is internal to Airboard. A nil *Metrics is valid and records
// nothing, so components can be constructed without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "airboard"

// Frame outcomes recorded by the ingestion listener.
const (
	FrameAccepted      = "accepted"
	FrameTimeout       = "timeout"
	FrameReadError     = "read_error"
	FrameMalformed     = "malformed"
	FrameUnknownDevice = "unknown_device"
	FrameStorageError  = "storage_error"
	FrameRejected      = "rejected"
)

// Event kinds.
const (
	KindData   = "data"
	KindActive = "active"
)

// Handshake outcomes recorded by the session handler.
const (
	HandshakeAccepted = "accepted"
	HandshakeRejected = "rejected"
	HandshakeFailed   = "failed"
)

// Metrics holds every collector and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	framesTotal         *prometheus.CounterVec
	eventsPublished     *prometheus.CounterVec
	eventsDropped       *prometheus.CounterVec
	sessionsActive      prometheus.Gauge
	handshakesTotal     *prometheus.CounterVec
	livenessTransitions *prometheus.CounterVec
	storageErrors       *prometheus.CounterVec
}

// New creates a private registry with Airboard and Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		framesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "frames_total",
				Help:      "Frames received by the ingestion listener by outcome",
			},
			[]string{"result"},
		),

		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "events_published_total",
				Help:      "Events delivered to viewer sessions",
			},
			[]string{"kind"},
		),

		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "events_dropped_total",
				Help:      "Events dropped because a buffer was full",
			},
			[]string{"kind"},
		),

		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "sessions_active",
				Help:      "Viewer sessions currently registered",
			},
		),

		handshakesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "handshakes_total",
				Help:      "Viewer handshakes by outcome",
			},
			[]string{"result"},
		),

		livenessTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "liveness",
				Name:      "transitions_total",
				Help:      "Device status transitions detected by the monitor",
			},
			[]string{"state"},
		),

		storageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "errors_total",
				Help:      "Storage operations that failed",
			},
			[]string{"op"},
		),
	}

	m.registry.MustRegister(
		m.framesTotal,
		m.eventsPublished,
		m.eventsDropped,
		m.sessionsActive,
		m.handshakesTotal,
		m.livenessTransitions,
		m.storageErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) Frame(result string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(result).Inc()
}

// Published records a fan-out result for kind.
func (m *Metrics) Published(kind string, delivered, dropped int) {
	if m == nil {
		return
	}
	if delivered > 0 {
		m.eventsPublished.WithLabelValues(kind).Add(float64(delivered))
	}
	if dropped > 0 {
		m.eventsDropped.WithLabelValues(kind).Add(float64(dropped))
	}
}

// Dropped records a single event lost before reaching the hub.
func (m *Metrics) Dropped(kind string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) Handshake(result string) {
	if m == nil {
		return
	}
	m.handshakesTotal.WithLabelValues(result).Inc()
}

// Transition records a detected status change.
func (m *Metrics) Transition(active bool) {
	if m == nil {
		return
	}
	state := "inactive"
	if active {
		state = "active"
	}
	m.livenessTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) StorageError(op string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(op).Inc()
}
