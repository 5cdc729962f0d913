// SPDX-License-Identifier: MIT

// Package metrics centralizes prometheus collectors for walkie-lazy.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walkie",
			Name:      "conn_state_transitions_total",
			Help:      "Connection state machine transitions",
		},
		[]string{"from", "to"},
	)

	connRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "walkie",
			Name:      "conn_retries_total",
			Help:      "Scheduled reconnect attempts",
		},
	)

	connState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "walkie",
			Name:      "conn_state",
			Help:      "Current connection state (1 = active state)",
		},
		[]string{"state"},
	)

	tokenOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walkie",
			Name:      "token_operations_total",
			Help:      "Token scheduler operations by outcome",
		},
		[]string{"op", "result"},
	)

	pushSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walkie",
			Name:      "push_sends_total",
			Help:      "Push notification delivery attempts",
		},
		[]string{"result"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "walkie",
			Name:      "http_request_duration_seconds",
			Help:      "Registry API request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordStateTransition counts a state machine transition and updates the
// per-state gauge.
func RecordStateTransition(from, to string) {
	stateTransitions.WithLabelValues(from, to).Inc()
	connState.WithLabelValues(from).Set(0)
	connState.WithLabelValues(to).Set(1)
}

// RecordRetry counts one scheduled reconnect attempt.
func RecordRetry() {
	connRetries.Inc()
}

// RecordTokenOp counts a token operation ("acquire", "validate", "refresh",
// "invalidate") with its result ("ok", "error", "rejected").
func RecordTokenOp(op, result string) {
	tokenOps.WithLabelValues(op, result).Inc()
}

// RecordPushSend counts a push delivery attempt.
func RecordPushSend(result string) {
	pushSends.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest records one registry API request.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
