package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kjstillabower/forecast-service/internal/traffic"
)

// TestMetrics_Usable verifies that label dimensions match usage in the http,
// service, and ratelimit packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/weatherForecast", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/weatherForecast").Observe(0.001)
	RateLimitDecisionsTotal.WithLabelValues("in_memory", "allowed").Inc()
	RateLimitStoreErrorsTotal.WithLabelValues("redis", "timeout").Inc()
	GlobalLimitDeniedTotal.Inc()
	RecordFault("unexpected")
	RecordCircuitBreakerTransition("rate_limit_store", "closed", "open", 1)
}

func TestRecordForecastServed(t *testing.T) {
	before := testutil.ToFloat64(ForecastsServedTotal.WithLabelValues("rain"))
	RecordForecastServed("rain")
	after := testutil.ToFloat64(ForecastsServedTotal.WithLabelValues("rain"))
	if after-before != 1 {
		t.Errorf("forecastsServedTotal{rain} delta = %v, want 1", after-before)
	}
}

func TestRecordCircuitBreakerTransition_SetsGauge(t *testing.T) {
	RecordCircuitBreakerTransition("test_component", "open", "half_open", 2)
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("test_component")); got != 2 {
		t.Errorf("circuitBreakerState = %v, want 2", got)
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format, including traffic window gauges.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	traffic.Reset()
	RegisterTrafficGauges(time.Minute)
	RegisterTrafficGauges(time.Minute) // second call is a no-op
	traffic.Record(traffic.Denied)

	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"httpRequestsTotal", "rateLimitRejectsInWindow 1", "forecastsServedTotal"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
	traffic.Reset()
}
