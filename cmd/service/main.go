package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-service/internal/auth"
	"github.com/kjstillabower/forecast-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-service/internal/config"
	httphandler "github.com/kjstillabower/forecast-service/internal/http"
	"github.com/kjstillabower/forecast-service/internal/lifecycle"
	"github.com/kjstillabower/forecast-service/internal/observability"
	"github.com/kjstillabower/forecast-service/internal/ratelimit"
	"github.com/kjstillabower/forecast-service/internal/service"
	"github.com/kjstillabower/forecast-service/web"
)

const storeComponent = "rate_limit_store"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	var src service.RandomSource = service.GlobalSource{}
	if cfg.ForecastSeed != 0 {
		src = service.NewSeededSource(cfg.ForecastSeed)
		logger.Warn("forecast seed set; readings are reproducible", zap.Uint64("seed", cfg.ForecastSeed))
	}
	forecasts := service.NewForecastService(src, service.WithTemperatureRange(cfg.MinTemperatureC, cfg.MaxTemperatureC))
	minC, maxC := forecasts.TemperatureRange()
	logger.Info("forecast service ready", zap.Int("min_temperature_c", minC), zap.Int("max_temperature_c_exclusive", maxC))

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	var limiter *ratelimit.Limiter
	var closeStore func() error
	if cfg.RateLimitEnabled {
		var store ratelimit.Store
		store, closeStore, err = newRateLimitStore(bgCtx, cfg, logger)
		if err != nil {
			logger.Fatal("rate limit store", zap.Error(err))
		}
		var cb *circuitbreaker.CircuitBreaker
		if cfg.RateLimitBackend != config.BackendInMemory {
			cb = circuitbreaker.New(circuitbreaker.Config{
				FailureThreshold: cfg.BreakerFailureThreshold,
				SuccessThreshold: cfg.BreakerSuccessThreshold,
				Timeout:          cfg.BreakerTimeout,
				Component:        storeComponent,
				OnStateChange: func(component string, from, to circuitbreaker.State) {
					observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
					logger.Warn("circuit breaker transition",
						zap.String("component", component),
						zap.String("from", from.String()),
						zap.String("to", to.String()))
				},
			})
			observability.CircuitBreakerState.WithLabelValues(storeComponent).Set(0)
		}
		limiter = ratelimit.NewLimiter(store, cb, logger)
		logger.Info("rate limiting enabled",
			zap.String("backend", store.Name()),
			zap.Int("permit_limit", cfg.PermitLimit),
			zap.Duration("window", cfg.Window),
			zap.Bool("trust_forwarded_for", cfg.TrustForwardedFor))
	} else {
		logger.Warn("rate limiting disabled")
	}

	var globalLimiter *rate.Limiter
	if cfg.GlobalRPS > 0 {
		globalLimiter = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst)
	}

	verifier := auth.NewVerifier(cfg.AuthJWTSecret, cfg.AuthPrincipalClaim)
	if verifier != nil {
		logger.Info("bearer token principals enabled", zap.String("claim", cfg.AuthPrincipalClaim))
	}

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		PingTimeout:          time.Second,
	}
	handler := httphandler.NewHandler(forecasts, limiter, healthConfig, logger)
	observability.RegisterTrafficGauges(cfg.OverloadWindow)

	router := httphandler.NewRouter(handler, httphandler.RouterOptions{
		Logger:         logger,
		Limiter:        limiter,
		KeyFunc:        ratelimit.PartitionKey(cfg.TrustForwardedFor),
		Verifier:       verifier,
		GlobalLimiter:  globalLimiter,
		RequestTimeout: cfg.RequestTimeout,
		TestingMode:    cfg.TestingMode,
		Static:         web.Static(),
	})
	if cfg.TestingMode {
		logger.Warn("Testing mode enabled; /test endpoint exposed")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.String("version", observability.Version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.Set(lifecycle.Draining)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.InFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.InFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	bgCancel()
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if closeStore != nil {
		if err := closeStore(); err != nil {
			logger.Error("rate limit store close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newRateLimitStore builds the configured backend and returns a close function for
// its client (nil for the in-memory store). The in-memory janitor runs until ctx ends.
func newRateLimitStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ratelimit.Store, func() error, error) {
	policy := cfg.RateLimitPolicy()
	switch cfg.RateLimitBackend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			DialTimeout: cfg.RedisDialTimeout,
		})
		store := ratelimit.NewRedisStore(rdb, policy, ratelimit.WithRedisPrefix(cfg.RateLimitKeyPrefix))
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			logger.Warn("redis not reachable at startup; admitting uncounted until it is", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		logger.Info("rate limit backend: redis", zap.String("addr", cfg.RedisAddr))
		return store, rdb.Close, nil
	case config.BackendMemcached:
		store := ratelimit.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, policy, cfg.RateLimitKeyPrefix)
		if err := store.Ping(ctx); err != nil {
			logger.Warn("memcached not reachable at startup; admitting uncounted until it is", zap.String("addrs", cfg.MemcachedAddrs), zap.Error(err))
		}
		logger.Info("rate limit backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return store, store.Close, nil
	case config.BackendInMemory:
		store := ratelimit.NewMemoryStore(policy)
		store.StartJanitor(ctx, cfg.JanitorInterval)
		logger.Info("rate limit backend: in_memory", zap.Duration("janitor_interval", cfg.JanitorInterval))
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimitBackend)
	}
}
