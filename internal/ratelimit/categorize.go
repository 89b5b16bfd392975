package ratelimit

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/forecast-service/internal/circuitbreaker"
)

// ErrorCategory is a stable metric label for a store failure.
type ErrorCategory string

const (
	ErrorCategoryBreakerOpen ErrorCategory = "breaker_open"
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryNetwork     ErrorCategory = "network"
	ErrorCategoryProtocol    ErrorCategory = "protocol"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// CategorizeError maps a store error to an ErrorCategory for rateLimitStoreErrorsTotal.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrorCategoryBreakerOpen
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryNetwork
	}
	var connectTimeout *memcache.ConnectTimeoutError
	if errors.As(err, &connectTimeout) {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, memcache.ErrNoServers) || errors.Is(err, memcache.ErrServerError) || errors.Is(err, redis.ErrClosed) {
		return ErrorCategoryNetwork
	}
	if errors.Is(err, memcache.ErrMalformedKey) || errors.Is(err, redis.Nil) {
		return ErrorCategoryProtocol
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"):
		return ErrorCategoryTimeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "dial"):
		return ErrorCategoryNetwork
	case strings.Contains(msg, "NOSCRIPT") || strings.Contains(msg, "WRONGTYPE") || strings.Contains(msg, "unexpected"):
		return ErrorCategoryProtocol
	}
	return ErrorCategoryUnknown
}
