package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-service/internal/apperr"
	"github.com/kjstillabower/forecast-service/internal/lifecycle"
	"github.com/kjstillabower/forecast-service/internal/models"
	"github.com/kjstillabower/forecast-service/internal/observability"
	"github.com/kjstillabower/forecast-service/internal/ratelimit"
	"github.com/kjstillabower/forecast-service/internal/service"
	"github.com/kjstillabower/forecast-service/internal/traffic"
)

// overloadMinRequests keeps a handful of denials from one client on an idle instance
// from reporting overloaded.
const overloadMinRequests = 20

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// PingTimeout bounds the rate-limit store reachability check.
	PingTimeout time.Duration
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	forecasts        *service.ForecastService
	limiter          *ratelimit.Limiter
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. limiter and healthConfig may be nil.
func NewHandler(
	forecasts *service.ForecastService,
	limiter *ratelimit.Limiter,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		forecasts:    forecasts,
		limiter:      limiter,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetWeatherForecast handles GET /weatherForecast. Faults are returned to the envelope.
func (h *Handler) GetWeatherForecast(w http.ResponseWriter, r *http.Request) error {
	reading, err := h.forecasts.Forecast(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, reading)
	return nil
}

// GetConditions handles GET /weatherForecast/conditions.
func (h *Handler) GetConditions(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, models.ConditionTable())
	return nil
}

type healthResult struct {
	status     string
	statusCode int
	reason     string
	storeOK    bool
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"rateLimitStore": "healthy"}
	if !result.storeOK {
		checks["rateLimitStore"] = "unhealthy"
	}
	if h.limiter != nil {
		checks["rateLimitBackend"] = h.limiter.Store().Name()
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   observability.Version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > store unreachable > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsDraining() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", true}
	}
	if h.limiter != nil {
		pingCtx := ctx
		if h.healthConfig != nil && h.healthConfig.PingTimeout > 0 {
			var cancel context.CancelFunc
			pingCtx, cancel = context.WithTimeout(ctx, h.healthConfig.PingTimeout)
			defer cancel()
		}
		if err := h.limiter.Ping(pingCtx); err != nil {
			return healthResult{"degraded", http.StatusServiceUnavailable, "rate_limit_store_unreachable", false}
		}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, "", true}
	}
	if h.healthConfig.OverloadWindow > 0 && h.healthConfig.OverloadThresholdPct > 0 {
		counts := traffic.Snapshot(h.healthConfig.OverloadWindow)
		if counts.Total() >= overloadMinRequests && counts.DeniedPct() > float64(h.healthConfig.OverloadThresholdPct) {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold", true}
		}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		counts := traffic.Snapshot(h.healthConfig.DegradedWindow)
		if counts.Faults > 0 && counts.FaultPct() >= float64(h.healthConfig.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach", true}
		}
	}
	return healthResult{"healthy", http.StatusOK, "", true}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetTestStatus handles GET /test. Returns window counters and thresholds.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	window := 60 * time.Second
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		window = h.healthConfig.DegradedWindow
	}
	counts := traffic.Snapshot(window)

	cfg := make(map[string]interface{})
	if h.limiter != nil {
		p := h.limiter.Store().Policy()
		cfg["permit_limit"] = p.PermitLimit
		cfg["window_seconds"] = p.Window.Seconds()
		cfg["backend"] = h.limiter.Store().Name()
		if sized, ok := h.limiter.Store().(interface{ Len() int }); ok {
			cfg["partitions"] = sized.Len()
		}
	}
	if h.healthConfig != nil {
		cfg["overload_threshold_pct"] = h.healthConfig.OverloadThresholdPct
		cfg["degraded_error_pct"] = h.healthConfig.DegradedErrorPct
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"counts":        counts,
		"window_length": window.String(),
		"lifecycle":     lifecycle.Current().String(),
		"in_flight":     InFlightCount(),
		"health":        h.computeHealthStatus(r.Context()).status,
		"config":        cfg,
	})
}

// PostTestAction handles POST /test/{action}: load, reset, fault, panic, shutdown.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) error {
	action := mux.Vars(r)["action"]
	switch action {
	case "load":
		h.postTestLoad(w, r)
		return nil
	case "reset":
		return h.postTestReset(w, r)
	case "fault":
		return h.postTestFault(r)
	case "panic":
		panic("test panic requested")
	case "shutdown":
		lifecycle.Set(lifecycle.Draining)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":      true,
			"action":  "shutdown",
			"message": "Draining flag set",
		})
		return nil
	default:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown test action: " + action})
		return nil
	}
}

// postTestLoad records synthetic outcomes on the traffic windows so the health
// transitions can be exercised without real clients. Body: {"count": n, "outcome":
// "served"|"denied"|"fault"}; defaults are 10 and served.
func (h *Handler) postTestLoad(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Count   int    `json:"count"`
		Outcome string `json:"outcome"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Count <= 0 {
		body.Count = 10
	}
	var outcome traffic.Outcome
	switch body.Outcome {
	case "", "served":
		outcome = traffic.Served
	case "denied":
		outcome = traffic.Denied
	case "fault":
		outcome = traffic.Fault
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown load outcome: " + body.Outcome})
		return
	}
	traffic.RecordN(outcome, body.Count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "load",
		"message": "Recorded " + strconv.Itoa(body.Count) + " " + outcome.String(),
		"state":   h.computeHealthStatus(r.Context()).status,
	})
}

// postTestReset clears traffic windows, rate-limit windows, and the draining flag.
func (h *Handler) postTestReset(w http.ResponseWriter, r *http.Request) error {
	traffic.Reset()
	lifecycle.Set(lifecycle.Serving)
	if h.limiter != nil {
		if err := h.limiter.Store().Reset(r.Context()); err != nil {
			return err
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "reset",
		"message": "Traffic and rate limit state cleared",
	})
	return nil
}

// postTestFault returns an application fault carrying the body's message.
func (h *Handler) postTestFault(r *http.Request) error {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == "" {
		body.Message = "Simulated application fault"
	}
	return apperr.New(body.Message)
}
