// Package resilience executes prompts against an ordered ladder of quality
// tiers. Each tier is guarded by a circuit breaker, failed calls are retried
// sequentially within the tier, and a tier that exhausts its budget degrades
// the request to the next tier down.
package resilience

import (
	"fmt"
	"maps"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names emitted by the Executor.
const (
	MetricExecutions     = "promptexec.executions"      // counter: outcome
	MetricAttempts       = "promptexec.attempts"        // counter: tier, outcome, error_type
	MetricFallbacks      = "promptexec.fallbacks"       // counter: from, to
	MetricCircuitSkips   = "promptexec.circuit.skips"   // counter: tier
	MetricCircuitState   = "promptexec.circuit.state"   // gauge: tier (0 closed, 1 open)
	MetricBackendLatency = "promptexec.backend.latency" // histogram seconds: tier
	MetricTokens         = "promptexec.tokens"          // histogram: tier, direction
)

// Metrics provides an interface for collecting observability data from prompt
// executions. It supports counters, histograms, and gauges with tag-based
// dimensionality.
type Metrics interface {
	// IncrementCounter increases a counter metric by a given value.
	IncrementCounter(name string, tags map[string]string, value float64)
	// RecordHistogram records a value in a histogram metric.
	RecordHistogram(name string, tags map[string]string, value float64)
	// SetGauge sets a gauge metric to a specific value.
	SetGauge(name string, tags map[string]string, value float64)
}

// NoOpMetrics discards all metrics.
type NoOpMetrics struct{}

// NewNoOpMetrics returns a new no-op metrics collector.
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

// IncrementCounter is a no-op.
func (n *NoOpMetrics) IncrementCounter(_ string, _ map[string]string, _ float64) {}

// RecordHistogram is a no-op.
func (n *NoOpMetrics) RecordHistogram(_ string, _ map[string]string, _ float64) {}

// SetGauge is a no-op.
func (n *NoOpMetrics) SetGauge(_ string, _ map[string]string, _ float64) {}

// PrometheusMetrics maps the executor's metric names onto Prometheus
// collectors. Names it does not know are ignored.
type PrometheusMetrics struct {
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labels     map[string][]string
}

// NewPrometheusMetrics creates the executor collectors under namespace and
// registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labels:     make(map[string][]string),
	}

	m.counter(namespace, MetricExecutions, "executions_total", "Prompt executions by outcome.", "outcome")
	m.counter(namespace, MetricAttempts, "attempts_total", "Backend calls by tier and outcome.", "tier", "outcome", "error_type")
	m.counter(namespace, MetricFallbacks, "fallbacks_total", "Degradations from one tier to the next.", "from", "to")
	m.counter(namespace, MetricCircuitSkips, "circuit_skips_total", "Tiers skipped because their circuit was open.", "tier")
	m.gauges[MetricCircuitState] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_state",
		Help:      "Circuit breaker state per tier (0 closed, 1 open).",
	}, []string{"tier"})
	m.labels[MetricCircuitState] = []string{"tier"}
	m.histogram(namespace, MetricBackendLatency, "backend_latency_seconds", "Backend call latency.",
		prometheus.DefBuckets, "tier")
	m.histogram(namespace, MetricTokens, "tokens", "Tokens per successful call.",
		prometheus.ExponentialBuckets(16, 4, 8), "tier", "direction")

	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) counter(ns, key, name, help string, labels ...string) {
	m.counters[key] = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	m.labels[key] = labels
}

func (m *PrometheusMetrics) histogram(ns, key, name, help string, buckets []float64, labels ...string) {
	m.histograms[key] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Name: name, Help: help, Buckets: buckets,
	}, labels)
	m.labels[key] = labels
}

func (m *PrometheusMetrics) collectors() []prometheus.Collector {
	var out []prometheus.Collector
	for _, k := range slices.Sorted(maps.Keys(m.counters)) {
		out = append(out, m.counters[k])
	}
	for _, k := range slices.Sorted(maps.Keys(m.gauges)) {
		out = append(out, m.gauges[k])
	}
	for _, k := range slices.Sorted(maps.Keys(m.histograms)) {
		out = append(out, m.histograms[k])
	}
	return out
}

func (m *PrometheusMetrics) values(name string, tags map[string]string) []string {
	labels := m.labels[name]
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = tags[l]
	}
	return out
}

// IncrementCounter implements Metrics.
func (m *PrometheusMetrics) IncrementCounter(name string, tags map[string]string, value float64) {
	if c, ok := m.counters[name]; ok {
		c.WithLabelValues(m.values(name, tags)...).Add(value)
	}
}

// RecordHistogram implements Metrics.
func (m *PrometheusMetrics) RecordHistogram(name string, tags map[string]string, value float64) {
	if h, ok := m.histograms[name]; ok {
		h.WithLabelValues(m.values(name, tags)...).Observe(value)
	}
}

// SetGauge implements Metrics.
func (m *PrometheusMetrics) SetGauge(name string, tags map[string]string, value float64) {
	if g, ok := m.gauges[name]; ok {
		g.WithLabelValues(m.values(name, tags)...).Set(value)
	}
}
