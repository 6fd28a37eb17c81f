// Package metrics defines the Prometheus collectors of the service. All
// recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "courserag"

type Metrics struct {
	registry *prometheus.Registry

	queries        *prometheus.CounterVec
	queryDuration  prometheus.Histogram
	loopIterations prometheus.Histogram
	providerCalls  *prometheus.CounterVec
	toolCalls      *prometheus.CounterVec
	ingestedFiles  *prometheus.CounterVec
	ingestedChunks prometheus.Counter
}

// New registers the collectors on a fresh registry, alongside the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries handled, by outcome.",
		}, []string{"outcome"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end query latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		loopIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_round_trips",
			Help:      "Provider round-trips per generation run.",
			Buckets:   prometheus.LinearBuckets(1, 1, 8),
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Generation provider calls, by outcome.",
		}, []string{"outcome"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool executions, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ingestedFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_files_total",
			Help:      "Course files processed by ingestion, by outcome.",
		}, []string{"outcome"}),
		ingestedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_chunks_total",
			Help:      "Content chunks written by ingestion.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.queries, m.queryDuration, m.loopIterations,
		m.providerCalls, m.toolCalls, m.ingestedFiles, m.ingestedChunks,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveQuery(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
	m.queryDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveRoundTrips(n int) {
	if m == nil {
		return
	}
	m.loopIterations.Observe(float64(n))
}

func (m *Metrics) ProviderCall(outcome string) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) IngestedFile(outcome string, chunks int) {
	if m == nil {
		return
	}
	m.ingestedFiles.WithLabelValues(outcome).Inc()
	m.ingestedChunks.Add(float64(chunks))
}
