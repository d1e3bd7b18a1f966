// Package observability provides Prometheus instrumentation for the relay.
//
// Metrics are registered on the registry handed to NewMetrics so tests can use
// an isolated prometheus.NewRegistry(). A nil *Metrics is valid and records
// nothing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "companion"

// Failure stages recorded by RecordFailure.
const (
	StageDecode   = "decode"
	StageUpstream = "upstream"
	StageStream   = "stream"
)

// Metrics holds the relay counters and histograms.
type Metrics struct {
	// RequestsTotal counts opened streams by source (upstream, fallback) and
	// transport (plain, sse, websocket).
	RequestsTotal *prometheus.CounterVec

	// FailuresTotal counts failed requests by stage. Only the stream stage can
	// follow a successful open.
	FailuresTotal *prometheus.CounterVec

	// FragmentsTotal counts text fragments written to clients, by source.
	FragmentsTotal *prometheus.CounterVec

	// MalformedLinesTotal counts upstream data lines whose JSON failed to parse.
	MalformedLinesTotal prometheus.Counter

	// StreamDurationSeconds measures the lifetime of a relayed stream.
	StreamDurationSeconds *prometheus.HistogramVec
}

// NewMetrics creates the relay metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "relay",
				Name:      "requests_total",
				Help:      "Relayed chat streams by reply source and transport",
			},
			[]string{"source", "transport"},
		),
		FailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "relay",
				Name:      "failures_total",
				Help:      "Failed chat requests by stage",
			},
			[]string{"stage"},
		),
		FragmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "relay",
				Name:      "fragments_total",
				Help:      "Text fragments written to clients by reply source",
			},
			[]string{"source"},
		),
		MalformedLinesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "upstream",
				Name:      "malformed_lines_total",
				Help:      "Upstream data lines dropped because their payload was not valid JSON",
			},
		),
		StreamDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "relay",
				Name:      "stream_duration_seconds",
				Help:      "Lifetime of relayed chat streams",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"source"},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.FailuresTotal,
		m.FragmentsTotal,
		m.MalformedLinesTotal,
		m.StreamDurationSeconds,
	)
	return m
}

// RecordStream counts a stream that opened successfully.
func (m *Metrics) RecordStream(source, transport string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(source, transport).Inc()
}

// RecordFailure counts a request that failed at stage.
func (m *Metrics) RecordFailure(stage string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(stage).Inc()
}

// RecordFragment counts one fragment delivered to a client.
func (m *Metrics) RecordFragment(source string) {
	if m == nil {
		return
	}
	m.FragmentsTotal.WithLabelValues(source).Inc()
}

// RecordMalformedLines adds n dropped upstream lines.
func (m *Metrics) RecordMalformedLines(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MalformedLinesTotal.Add(float64(n))
}

// ObserveStream records how long a stream from source stayed open.
func (m *Metrics) ObserveStream(source string, started time.Time) {
	if m == nil {
		return
	}
	m.StreamDurationSeconds.WithLabelValues(source).Observe(time.Since(started).Seconds())
}
