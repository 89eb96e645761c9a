// Package metrics provides Prometheus metrics for the clipster session pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// No job or socket ids in labels.

var (
	// PushEventsTotal counts inbound push-channel messages, by type.
	PushEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipster_push_events_total",
		Help: "Total number of push-channel messages received, by type.",
	}, []string{"type"})

	// StaleEventsTotal counts job events dropped because they did not match the active job.
	StaleEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipster_stale_events_total",
		Help: "Total number of job events discarded as stale, by type.",
	}, []string{"type"})

	// ReconnectsTotal counts push-channel reconnections by outcome (success/exhausted).
	ReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipster_push_reconnects_total",
		Help: "Total number of push-channel reconnection cycles, by outcome.",
	}, []string{"outcome"})

	// JobsTotal counts finished job attempts by outcome (ready/failed).
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipster_jobs_total",
		Help: "Total number of job attempts that reached a terminal state, by outcome.",
	}, []string{"outcome"})

	// APIRequestsTotal counts job API calls by operation and result class.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipster_api_requests_total",
		Help: "Total number of job API requests, by operation and result.",
	}, []string{"operation", "result"})
)

// IncPushEvent records a received push-channel message.
func IncPushEvent(msgType string) {
	PushEventsTotal.WithLabelValues(msgType).Inc()
}

// IncStaleEvent records a discarded job event.
func IncStaleEvent(msgType string) {
	StaleEventsTotal.WithLabelValues(msgType).Inc()
}

// IncReconnect records the outcome of a reconnection cycle.
func IncReconnect(outcome string) {
	ReconnectsTotal.WithLabelValues(outcome).Inc()
}

// IncJob records a job reaching a terminal state.
func IncJob(outcome string) {
	JobsTotal.WithLabelValues(outcome).Inc()
}

// IncAPIRequest records a job API request result.
func IncAPIRequest(operation, result string) {
	APIRequestsTotal.WithLabelValues(operation, result).Inc()
}
