package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/forecast-service/internal/traffic"
)

// ServiceName identifies the service in logs and /health.
const ServiceName = "forecast-service"

// Version is stamped at build time with -ldflags "-X .../observability.Version=...".
var Version = "dev"

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p99 increases; generation itself is trivial.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Forecast readings served, by condition. Watch for: skew away from uniform.
	ForecastsServedTotal *prometheus.CounterVec

	// Fixed-window decisions by backend and result (allowed/denied).
	RateLimitDecisionsTotal *prometheus.CounterVec

	// Store failures that caused fail-open admission. Watch for: any sustained rate.
	RateLimitStoreErrorsTotal *prometheus.CounterVec

	// Requests denied by the process-wide token bucket ceiling.
	GlobalLimitDeniedTotal prometheus.Counter

	// Faults translated by the error envelope, by kind (application/unexpected).
	FaultsTotal *prometheus.CounterVec

	// Circuit breaker transitions for the shared rate-limit store.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Current breaker state: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	trafficGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	ForecastsServedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastsServedTotal",
			Help: "Total number of forecast readings generated",
		},
		[]string{"condition"},
	)
	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateLimitDecisionsTotal",
			Help: "Fixed-window rate limit decisions",
		},
		[]string{"backend", "result"},
	)
	RateLimitStoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateLimitStoreErrorsTotal",
			Help: "Rate limit store failures by category; each admitted the request uncounted",
		},
		[]string{"backend", "category"},
	)
	GlobalLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "globalLimitDeniedTotal",
			Help: "Requests denied by the process-wide token bucket (429)",
		},
	)
	FaultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultsTotal",
			Help: "Faults translated to 500 responses, by kind",
		},
		[]string{"kind"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ForecastsServedTotal,
		RateLimitDecisionsTotal, RateLimitStoreErrorsTotal, GlobalLimitDeniedTotal,
		FaultsTotal,
		CircuitBreakerTransitionsTotal, CircuitBreakerState,
	)
}

// RecordForecastServed counts one generated reading.
func RecordForecastServed(condition string) {
	ForecastsServedTotal.WithLabelValues(condition).Inc()
}

// RecordFault counts one fault handled by the error envelope.
func RecordFault(kind string) {
	FaultsTotal.WithLabelValues(kind).Inc()
}

// RecordCircuitBreakerTransition counts a transition and updates the state gauge.
// state is the numeric value of the new state.
func RecordCircuitBreakerTransition(component, from, to string, state int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(state))
}

// RegisterTrafficGauges registers window gauges over the traffic tracker.
// Call from main after config load with the lifecycle overload window.
func RegisterTrafficGauges(window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "requestsInWindow",
					Help: "Requests on forecast routes in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.Snapshot(window).Total()) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.Snapshot(window).Denied) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "faultsInWindow",
					Help: "500 responses in sliding window",
				},
				func() float64 { return float64(traffic.Snapshot(window).Faults) },
			),
		)
	})
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
