package http

import (
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-service/internal/auth"
	"github.com/kjstillabower/forecast-service/internal/observability"
	"github.com/kjstillabower/forecast-service/internal/ratelimit"
)

// Forecast routes match any letter case, with or without a trailing slash.
// Route names double as metric labels.
const (
	forecastPath   = "/{forecast:(?i:weatherforecast/?)}"
	conditionsPath = "/{forecast:(?i:weatherforecast)}/{conditions:(?i:conditions/?)}"

	forecastRouteName   = "/weatherForecast"
	conditionsRouteName = "/weatherForecast/conditions"
)

// RouterOptions configures NewRouter. Zero values disable the optional pieces.
type RouterOptions struct {
	Logger   *zap.Logger
	Limiter  *ratelimit.Limiter
	KeyFunc  ratelimit.KeyFunc
	Verifier *auth.Verifier
	// GlobalLimiter is the process-wide token bucket; nil disables it.
	GlobalLimiter  *rate.Limiter
	RequestTimeout time.Duration
	TestingMode    bool
	// Static serves the display client at /. nil leaves / unrouted.
	Static fs.FS
}

// NewRouter builds the service router. Middleware order on every matched route:
// correlation ID, metrics, error envelope. The forecast routes add traffic
// recording, principal extraction, the global ceiling, and the per-partition gate.
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.NotFoundHandler = NotFoundHandler()
	router.MethodNotAllowedHandler = MethodNotAllowedHandler()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.Use(ErrorEnvelopeMiddleware(logger))

	forecast := router.NewRoute().Subrouter()
	forecast.Use(TrafficMiddleware)
	forecast.Use(auth.PrincipalMiddleware(opts.Verifier, logger))
	forecast.Use(GlobalLimitMiddleware(opts.GlobalLimiter))
	forecast.Use(RateLimitMiddleware(opts.Limiter, opts.KeyFunc))
	if opts.RequestTimeout > 0 {
		forecast.Use(TimeoutMiddleware(opts.RequestTimeout))
	}
	forecast.HandleFunc(forecastPath, h.Wrap(h.GetWeatherForecast)).
		Methods(http.MethodGet, http.MethodHead).Name(forecastRouteName)
	forecast.HandleFunc(conditionsPath, h.Wrap(h.GetConditions)).
		Methods(http.MethodGet, http.MethodHead).Name(conditionsRouteName)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	if opts.TestingMode {
		router.HandleFunc("/test", h.GetTestStatus).Methods(http.MethodGet)
		router.HandleFunc("/test/{action}", h.Wrap(h.PostTestAction)).Methods(http.MethodPost)
	}

	if opts.Static != nil {
		router.PathPrefix("/").Handler(StaticHandler(opts.Static)).Methods(http.MethodGet, http.MethodHead)
	}
	return router
}
