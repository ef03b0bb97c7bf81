// Package metrics holds the Prometheus collectors for pin allocation,
// vendor calls and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "topup_pins"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	allocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocator",
			Name:      "allocations_total",
			Help:      "Allocation requests by outcome.",
		},
		[]string{"status", "kind"},
	)

	pinsAllocated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocator",
			Name:      "pins_total",
			Help:      "Pins handed out by source.",
		},
		[]string{"source"},
	)

	vendorRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vendor",
			Name:      "requests_total",
			Help:      "Vendor API calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	vendorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vendor",
			Name:      "request_duration_seconds",
			Help:      "Duration of vendor API calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"operation"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Purchase events dropped because the queue was full.",
		},
	)
)

func init() {
	Registry.MustRegister(
		allocations,
		pinsAllocated,
		vendorRequests,
		vendorDuration,
		httpRequests,
		httpDuration,
		eventsDropped,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordAllocation(status, kind string) {
	if kind == "" {
		kind = "none"
	}
	allocations.WithLabelValues(status, kind).Inc()
}

func RecordPins(source string, n int) {
	if n <= 0 {
		return
	}
	pinsAllocated.WithLabelValues(source).Add(float64(n))
}

func RecordVendorCall(operation, outcome string, duration time.Duration) {
	vendorRequests.WithLabelValues(operation, outcome).Inc()
	vendorDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordEventDropped() {
	eventsDropped.Inc()
}
