package ratelimit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-service/internal/observability"
)

// Limiter applies a Store to incoming requests. When the store fails, or its circuit
// breaker is open, the request is admitted uncounted: an unreachable shared store must
// not take the forecast endpoint down with it.
type Limiter struct {
	store   Store
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	warn    rate.Sometimes
}

// NewLimiter returns a Limiter over store. breaker may be nil (in-memory store).
func NewLimiter(store Store, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		store:   store,
		breaker: breaker,
		logger:  logger,
		warn:    rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Store returns the underlying store.
func (l *Limiter) Store() Store {
	return l.store
}

// Allow consumes a permit for key if one is available.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	var dec Decision
	take := func() error {
		var err error
		dec, err = l.store.Take(ctx, key)
		if errors.Is(err, ErrContention) {
			// The key is hot enough that the store could not commit; reject
			// rather than admit uncounted.
			p := l.store.Policy()
			dec = Decision{Allowed: false, Limit: p.PermitLimit, ResetAt: time.Now().Add(p.Window)}
			return nil
		}
		return err
	}

	var err error
	if l.breaker != nil {
		err = l.breaker.Call(take)
	} else {
		err = take()
	}

	backend := l.store.Name()
	if err != nil {
		observability.RateLimitStoreErrorsTotal.WithLabelValues(backend, string(CategorizeError(err))).Inc()
		l.warn.Do(func() {
			l.logger.Warn("rate limit store unavailable, admitting uncounted",
				zap.String("backend", backend), zap.Error(err))
		})
		return Decision{Allowed: true, Limit: l.store.Policy().PermitLimit, FailOpen: true}
	}

	result := "allowed"
	if !dec.Allowed {
		result = "denied"
	}
	observability.RateLimitDecisionsTotal.WithLabelValues(backend, result).Inc()
	return dec
}

// Ping reports the store's reachability. Stores without a network dependency are
// always reachable.
func (l *Limiter) Ping(ctx context.Context) error {
	if p, ok := l.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
