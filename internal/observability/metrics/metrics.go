// Package metrics exposes Prometheus collectors for the HTTP surface and
// the settlement engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "purchaserelay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"handler", "method", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "purchaserelay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"handler", "method"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "purchaserelay",
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Order operations by action and outcome code.",
		},
		[]string{"action", "result"},
	)

	publishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "purchaserelay",
			Subsystem: "events",
			Name:      "publish_failures_total",
			Help:      "Domain events that could not be delivered.",
		},
		[]string{"type"},
	)

	rewardPoints = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "purchaserelay",
			Subsystem: "rewards",
			Name:      "points_credited_total",
			Help:      "Reward points credited to agents.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		transitions,
		publishFailures,
		rewardPoints,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one handled request.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveTransition records an engine operation. result is "ok" or an error code.
func ObserveTransition(action, result string) {
	transitions.WithLabelValues(action, result).Inc()
}

// ObservePublishFailure records an event that failed to publish.
func ObservePublishFailure(eventType string) {
	publishFailures.WithLabelValues(eventType).Inc()
}

// ObserveRewardCredit records points credited to an agent.
func ObserveRewardCredit(points int64) {
	rewardPoints.Add(float64(points))
}
