// Package metrics exposes Nancy's Prometheus instrumentation and the
// aggregate health roll-up served by the status API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nancy-core/nancy/pkg/brains"
)

// Metrics bundles every collector Nancy registers.
type Metrics struct {
	Registry *prometheus.Registry

	PacketsReceived   prometheus.Counter
	PacketOutcomes    *prometheus.CounterVec
	PacketsIngested   *prometheus.CounterVec
	IngestDuration    *prometheus.HistogramVec
	InFlightPackets   prometheus.Gauge
	QueriesTotal      *prometheus.CounterVec
	QueryDuration     prometheus.Histogram
	InFlightQueries   prometheus.Gauge
	BrainReads        *prometheus.CounterVec
	BrainWrites       *prometheus.CounterVec
	BrainLatency      *prometheus.HistogramVec
	BrainHealth       *prometheus.GaugeVec
	MCPServersHealthy prometheus.Gauge
	MCPServersTotal   prometheus.Gauge
	ModeSwitches      prometheus.Counter
}

// New creates a registry with all Nancy collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "nancy_packets_received_total",
			Help: "Ingestion requests received, before validation.",
		}),
		PacketOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nancy_packet_outcomes_total",
			Help: "Ingestion requests per terminal outcome.",
		}, []string{"outcome"}),
		PacketsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nancy_packets_ingested_total",
			Help: "Packets routed per brain and outcome.",
		}, []string{"brain", "status"}),
		IngestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nancy_ingest_duration_seconds",
			Help:    "Wall time of one ingestion request.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		InFlightPackets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nancy_packets_in_flight",
			Help: "Ingestion requests currently being routed.",
		}),
		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nancy_queries_total",
			Help: "Queries answered per intent and degradation.",
		}, []string{"intent", "degraded"}),
		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nancy_query_duration_seconds",
			Help:    "Wall time of one query execution.",
			Buckets: prometheus.DefBuckets,
		}),
		InFlightQueries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nancy_queries_in_flight",
			Help: "Queries currently executing.",
		}),
		BrainReads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nancy_brain_reads_total",
			Help: "Sub-queries dispatched per brain.",
		}, []string{"brain"}),
		BrainWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nancy_brain_writes_total",
			Help: "Completed write attempts per brain.",
		}, []string{"brain"}),
		BrainLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nancy_brain_latency_seconds",
			Help:    "Per-brain operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"brain", "op"}),
		BrainHealth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nancy_brain_health",
			Help: "Brain health: 1 healthy, 0.5 degraded, 0 unhealthy.",
		}, []string{"brain"}),
		MCPServersHealthy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nancy_mcp_servers_healthy",
			Help: "MCP content processors currently passing heartbeats.",
		}),
		MCPServersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nancy_mcp_servers_total",
			Help: "MCP content processors registered.",
		}),
		ModeSwitches: factory.NewCounter(prometheus.CounterOpts{
			Name: "nancy_mode_switches_total",
			Help: "Operating mode switches since start.",
		}),
	}
}

// ObserveBrainWrite records one completed write attempt against a brain.
func (m *Metrics) ObserveBrainWrite(brain string, seconds float64) {
	m.BrainWrites.WithLabelValues(brain).Inc()
	m.BrainLatency.WithLabelValues(brain, "write").Observe(seconds)
}

// ObserveBrainRead records one sub-query dispatched to a brain.
func (m *Metrics) ObserveBrainRead(brain string, seconds float64) {
	m.BrainReads.WithLabelValues(brain).Inc()
	m.BrainLatency.WithLabelValues(brain, "read").Observe(seconds)
}

// ObserveBrainHealth records one brain's health as a gauge value.
func (m *Metrics) ObserveBrainHealth(brain string, h brains.Health) {
	var v float64
	switch h.Status {
	case "healthy":
		v = 1
	case "degraded":
		v = 0.5
	}
	m.BrainHealth.WithLabelValues(brain).Set(v)
}

// Overall rolls per-brain health into one system status. The system stays
// degraded while at least one brain can still answer; it is unhealthy only
// when no brain is healthy.
func Overall(healths map[string]brains.Health) string {
	if len(healths) == 0 {
		return "healthy"
	}
	healthy, impaired := 0, 0
	for _, h := range healths {
		switch h.Status {
		case "healthy":
			healthy++
		default:
			impaired++
		}
	}
	switch {
	case healthy == 0:
		return "unhealthy"
	case impaired > 0:
		return "degraded"
	default:
		return "healthy"
	}
}
