package sagaorch

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	callForward    = "forward"
	callCompensate = "compensate"
)

// Metrics wraps the Prometheus collectors of the orchestrator. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sagasStarted  *prometheus.CounterVec
	sagasFinished *prometheus.CounterVec
	sagasInFlight *prometheus.GaugeVec
	sagaDuration  *prometheus.HistogramVec
	stepCalls     *prometheus.CounterVec
	stepLatency   *prometheus.HistogramVec
}

// NewMetrics creates a registry and registers the saga collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		sagasStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_started_total",
			Help: "Total number of started sagas.",
		}, []string{"saga"}),
		sagasFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_finished_total",
			Help: "Total number of sagas that reached a final status.",
		}, []string{"saga", "status"}),
		sagasInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "saga_in_flight",
			Help: "Number of sagas currently executing.",
		}, []string{"saga"}),
		sagaDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "saga_duration_seconds",
			Help:    "Saga execution duration in seconds, forward and compensation passes included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"saga", "status"}),
		stepCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_step_calls_total",
			Help: "Total number of participant calls by step, kind and outcome.",
		}, []string{"saga", "step", "kind", "outcome"}),
		stepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "saga_step_call_duration_seconds",
			Help:    "Participant call latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"saga", "step", "kind"}),
	}

	registry.MustRegister(m.sagasStarted, m.sagasFinished, m.sagasInFlight, m.sagaDuration, m.stepCalls, m.stepLatency)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) sagaStarted(saga string) {
	if m == nil {
		return
	}
	m.sagasStarted.WithLabelValues(saga).Inc()
	m.sagasInFlight.WithLabelValues(saga).Inc()
}

func (m *Metrics) sagaFinished(saga string, status Status, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sagasInFlight.WithLabelValues(saga).Dec()
	m.sagasFinished.WithLabelValues(saga, string(status)).Inc()
	m.sagaDuration.WithLabelValues(saga, string(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) stepCall(saga, step, kind string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.stepCalls.WithLabelValues(saga, step, kind, outcome).Inc()
	m.stepLatency.WithLabelValues(saga, step, kind).Observe(elapsed.Seconds())
}
