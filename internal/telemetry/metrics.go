package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency for the node-facing protocol.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "sentinelcp",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

var RolloutsStartedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sentinelcp",
		Subsystem: "rollouts",
		Name:      "started_total",
		Help:      "Total number of rollouts transitioned to running.",
	},
)

var RolloutsCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinelcp",
		Subsystem: "rollouts",
		Name:      "completed_total",
		Help:      "Total number of rollouts that reached a terminal state, by outcome.",
	},
	[]string{"outcome"}, // completed, failed, cancelled
)

var RolloutTicksTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sentinelcp",
		Subsystem: "rollouts",
		Name:      "ticks_total",
		Help:      "Total number of Tick invocations across all rollouts.",
	},
)

var RolloutStepDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "sentinelcp",
		Subsystem: "rollouts",
		Name:      "step_duration_seconds",
		Help:      "Duration of a completed rollout step, start to completion.",
		Buckets:   prometheus.DefBuckets,
	},
)

var DriftEventsOpenedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sentinelcp",
		Subsystem: "drift",
		Name:      "events_opened_total",
		Help:      "Total number of drift events opened.",
	},
)

var DriftEventsResolvedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinelcp",
		Subsystem: "drift",
		Name:      "events_resolved_total",
		Help:      "Total number of drift events resolved, by resolution.",
	},
	[]string{"resolution"},
)

var DriftAutoRemediationThrottledTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sentinelcp",
		Subsystem: "drift",
		Name:      "auto_remediation_throttled_total",
		Help:      "Total number of auto-remediation rollouts skipped due to rate limiting.",
	},
)

var BundlesCompiledTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinelcp",
		Subsystem: "bundles",
		Name:      "compiled_total",
		Help:      "Total number of bundle compile attempts, by outcome.",
	},
	[]string{"outcome"}, // compiled, failed
)

var NodeHeartbeatsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sentinelcp",
		Subsystem: "nodes",
		Name:      "heartbeats_total",
		Help:      "Total number of heartbeats ingested.",
	},
)

var NodesMarkedOfflineTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sentinelcp",
		Subsystem: "nodes",
		Name:      "marked_offline_total",
		Help:      "Total number of nodes marked offline by the liveness sweep.",
	},
)

var WebhookDeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinelcp",
		Subsystem: "webhooks",
		Name:      "deliveries_total",
		Help:      "Total number of outbound webhook delivery attempts, by outcome.",
	},
	[]string{"outcome"}, // delivered, retried, dropped
)

// All returns every Sentinel-CP-specific collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		RolloutsStartedTotal,
		RolloutsCompletedTotal,
		RolloutTicksTotal,
		RolloutStepDuration,
		DriftEventsOpenedTotal,
		DriftEventsResolvedTotal,
		DriftAutoRemediationThrottledTotal,
		BundlesCompiledTotal,
		NodeHeartbeatsTotal,
		NodesMarkedOfflineTotal,
		WebhookDeliveriesTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors, the shared HTTP duration histogram, and any additional
// service-specific collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
