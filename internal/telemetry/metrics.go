package telemetry

import "github.com/prometheus/client_golang/prometheus"

// AttemptsTotal counts each vendor attempt made by the retry engine (C2),
// labeled by vendor and outcome (success, failed).
var AttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vocalbridge",
		Subsystem: "vendor",
		Name:      "attempts_total",
		Help:      "Total vendor attempts by vendor and outcome.",
	},
	[]string{"vendor", "outcome"},
)

// RetriesTotal counts attempts beyond the first for a single vendor within one send.
var RetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vocalbridge",
		Subsystem: "vendor",
		Name:      "retries_total",
		Help:      "Total retries issued against a vendor, by vendor.",
	},
	[]string{"vendor"},
)

// FallbackUsedTotal counts sends where the fallback vendor was invoked
// because the primary vendor exhausted its retry budget.
var FallbackUsedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "vocalbridge",
		Subsystem: "fallback",
		Name:      "used_total",
		Help:      "Total sends that fell through to the fallback vendor.",
	},
)

// SendDuration records end-to-end send_message latency, idempotency lookup
// through response materialization.
var SendDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "vocalbridge",
		Subsystem: "pipeline",
		Name:      "send_duration_seconds",
		Help:      "send_message latency in seconds, from idempotency check to completion.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"outcome"},
)

// IdempotencyReplaysTotal counts requests served from a stored idempotent
// response instead of invoking the pipeline.
var IdempotencyReplaysTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "vocalbridge",
		Subsystem: "idempotency",
		Name:      "replays_total",
		Help:      "Total requests served by replaying a previously completed idempotency record.",
	},
)

// UsageCostTotal sums the computed cost (C4 pricing) of completed sends, by vendor.
var UsageCostTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vocalbridge",
		Subsystem: "usage",
		Name:      "cost_total",
		Help:      "Cumulative computed cost of completed sends, by vendor.",
	},
	[]string{"vendor"},
)

// All returns the gateway's domain metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		AttemptsTotal,
		RetriesTotal,
		FallbackUsedTotal,
		SendDuration,
		IdempotencyReplaysTotal,
		UsageCostTotal,
	}
}
