//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/forecast-service/internal/ratelimit"
)

// IntegrationTestConfig holds addresses of the shared stores used by integration tests.
type IntegrationTestConfig struct {
	RedisAddr      string
	MemcachedAddrs string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Empty fields mean the corresponding backend is unavailable.
func GetIntegrationConfig() IntegrationTestConfig {
	return IntegrationTestConfig{
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		MemcachedAddrs: os.Getenv("MEMCACHED_ADDRS"),
	}
}

// uniquePrefix isolates one test's keys from other runs against the same server.
func uniquePrefix(t *testing.T) string {
	return fmt.Sprintf("forecast-test:%s:%d:", t.Name(), time.Now().UnixNano())
}

// SetupRedisStore connects to REDIS_ADDR and returns a store with a test-unique
// prefix. Skips the test if REDIS_ADDR is not set or Redis does not answer.
func SetupRedisStore(t *testing.T, policy ratelimit.Policy) *ratelimit.RedisStore {
	t.Helper()
	cfg := GetIntegrationConfig()
	if cfg.RedisAddr == "" {
		t.Skip("REDIS_ADDR not set, skipping redis integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("redis at %s not reachable: %v", cfg.RedisAddr, err)
	}
	store := ratelimit.NewRedisStore(rdb, policy, ratelimit.WithRedisPrefix(uniquePrefix(t)))
	t.Cleanup(func() {
		_ = store.Reset(context.Background())
		_ = rdb.Close()
	})
	return store
}

// SetupMemcachedStore connects to MEMCACHED_ADDRS and returns a store with a
// test-unique prefix. Skips the test if MEMCACHED_ADDRS is not set or unreachable.
func SetupMemcachedStore(t *testing.T, policy ratelimit.Policy) *ratelimit.MemcachedStore {
	t.Helper()
	cfg := GetIntegrationConfig()
	if cfg.MemcachedAddrs == "" {
		t.Skip("MEMCACHED_ADDRS not set, skipping memcached integration test")
	}
	store := ratelimit.NewMemcachedStore(cfg.MemcachedAddrs, 500*time.Millisecond, 2, policy, uniquePrefix(t))
	if err := store.Ping(context.Background()); err != nil {
		_ = store.Close()
		t.Skipf("memcached at %s not reachable: %v", cfg.MemcachedAddrs, err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
