// Package metrics provides Prometheus instrumentation for pngprotect.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Workflow metrics
	protectTotal  *prometheus.CounterVec
	verifyTotal   *prometheus.CounterVec
	registerTotal *prometheus.CounterVec

	// Processing service calls made outside the workflows
	serviceCallTotal *prometheus.CounterVec
)

// Init initializes the metrics system. It registers collectors with the
// default registry and must be called at most once.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests to the local API",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Local API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	protectTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pngprotect_protect_total",
			Help: "Protect workflow outcomes",
		},
		[]string{"outcome"},
	)

	verifyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pngprotect_verify_total",
			Help: "Verify workflow outcomes",
		},
		[]string{"result"},
	)

	registerTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pngprotect_register_total",
			Help: "Register workflow outcomes",
		},
		[]string{"outcome"},
	)

	serviceCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pngprotect_service_calls_total",
			Help: "Direct processing service calls by operation",
		},
		[]string{"operation", "status"},
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}
