// Package metrics exposes the broker's Prometheus instrumentation: command
// relay throughput/latency, queue depth, device liveness, and session store
// activity, following the promauto registration idiom used throughout the
// example pack's storage layers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the broker's Prometheus collectors. A nil *Metrics is safe
// to call methods on (all methods no-op), so callers never need to guard on
// whether metrics are enabled.
type Metrics struct {
	commandsEnqueued   *prometheus.CounterVec
	commandsDispatched *prometheus.CounterVec
	commandsCompleted  *prometheus.CounterVec
	commandsDrained    *prometheus.CounterVec
	queueDepth         prometheus.Gauge
	queueWaitSeconds   prometheus.Histogram
	roundTripSeconds   prometheus.Histogram
	deviceConnected    prometheus.Gauge
	sessionSaves       *prometheus.CounterVec
	sessionFiles       prometheus.Gauge
}

// New builds and registers the broker's metrics against reg. Pass nil to
// get an unregistered (test-only) instance.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		commandsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_commands_enqueued_total",
			Help: "Total number of commands enqueued by Controllers.",
		}, []string{"function"}),
		commandsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_commands_dispatched_total",
			Help: "Total number of commands popped off the ingress FIFO.",
		}, []string{"mode"}),
		commandsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_commands_completed_total",
			Help: "Total number of results posted by the Device, by outcome.",
		}, []string{"outcome"}),
		commandsDrained: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_commands_drained_total",
			Help: "Total number of Controller drain polls, by outcome.",
		}, []string{"outcome"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_queue_depth",
			Help: "Current number of commands waiting in the ingress FIFO.",
		}),
		queueWaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_queue_wait_seconds",
			Help:    "Time a command spent queued before dispatch.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		roundTripSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_round_trip_seconds",
			Help:    "Time between dispatch and the Device's posted result.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		deviceConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "liveness_device_connected",
			Help: "Whether the Device is currently considered connected (1) or stale/absent (0).",
		}),
		sessionSaves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "session_store_saves_total",
			Help: "Total number of scan session saves, by action.",
		}, []string{"action"}),
		sessionFiles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "session_store_files_total",
			Help: "Total file records held by the most recently saved session.",
		}),
	}
}

func (m *Metrics) ObserveEnqueue(function string) {
	if m == nil {
		return
	}
	m.commandsEnqueued.WithLabelValues(function).Inc()
}

func (m *Metrics) ObserveDispatch(mode string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.commandsDispatched.WithLabelValues(mode).Add(float64(n))
}

func (m *Metrics) ObserveCompleted(success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.commandsCompleted.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDrain(outcome string) {
	if m == nil {
		return
	}
	m.commandsDrained.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) ObserveQueueWaitMs(ms float64) {
	if m == nil {
		return
	}
	m.queueWaitSeconds.Observe(ms / 1000)
}

func (m *Metrics) ObserveRoundTripMs(ms float64) {
	if m == nil {
		return
	}
	m.roundTripSeconds.Observe(ms / 1000)
}

// SetDeviceConnected records the Device's liveness state as observed at a
// touch or status read site.
func (m *Metrics) SetDeviceConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.deviceConnected.Set(1)
		return
	}
	m.deviceConnected.Set(0)
}

func (m *Metrics) ObserveSessionSave(action string) {
	if m == nil {
		return
	}
	m.sessionSaves.WithLabelValues(action).Inc()
}

// SetSessionFiles records the file count of the most recently saved session.
func (m *Metrics) SetSessionFiles(n int) {
	if m == nil {
		return
	}
	m.sessionFiles.Set(float64(n))
}
