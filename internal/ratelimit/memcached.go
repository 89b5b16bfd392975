package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	maxCASAttempts = 16
	maxKeyLength   = 250
	maxRelativeExp = 30 * 24 * 60 * 60 // memcached treats larger values as absolute unix time
)

// MemcachedStore shares windows across replicas through memcached. A window is stored
// as "count:endUnixMilli" and updated with compare-and-swap, retrying on conflict.
type MemcachedStore struct {
	client *memcache.Client
	prefix string
	policy Policy
	now    func() time.Time
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int, policy Policy, prefix string) *MemcachedStore {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	if prefix == "" {
		prefix = "forecast:ratelimit:"
	}
	return &MemcachedStore{client: client, prefix: prefix, policy: policy, now: time.Now}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (s *MemcachedStore) Name() string   { return "memcached" }
func (s *MemcachedStore) Policy() Policy { return s.policy }

// key maps a partition key to a legal memcached key. Keys with spaces, control
// characters, or excess length are hashed.
func (s *MemcachedStore) key(k string) string {
	full := s.prefix + k
	if len(full) <= maxKeyLength && legalKey(full) {
		return full
	}
	sum := sha256.Sum256([]byte(k))
	return s.prefix + "h:" + hex.EncodeToString(sum[:])
}

func legalKey(k string) bool {
	for i := 0; i < len(k); i++ {
		if k[i] <= ' ' || k[i] == 0x7f {
			return false
		}
	}
	return true
}

func (s *MemcachedStore) Take(ctx context.Context, key string) (Decision, error) {
	k := s.key(key)
	limit := s.policy.PermitLimit
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		now := s.now()
		item, err := s.client.Get(k)
		if errors.Is(err, memcache.ErrCacheMiss) {
			end := now.Add(s.policy.Window)
			err = s.client.Add(&memcache.Item{Key: k, Value: encodeWindow(1, end), Expiration: expirySeconds(s.policy.Window)})
			if err == nil {
				return Decision{Allowed: true, Limit: limit, Remaining: limit - 1, ResetAt: end}, nil
			}
			if errors.Is(err, memcache.ErrNotStored) {
				continue // another request created the window first
			}
			return Decision{}, fmt.Errorf("memcached add: %w", err)
		}
		if err != nil {
			return Decision{}, fmt.Errorf("memcached get: %w", err)
		}

		count, end, ok := decodeWindow(item.Value)
		if !ok || !now.Before(end) {
			count, end = 0, now.Add(s.policy.Window)
		}
		if count >= limit {
			return Decision{Allowed: false, Limit: limit, Remaining: 0, ResetAt: end}, nil
		}
		count++
		item.Value = encodeWindow(count, end)
		item.Expiration = expirySeconds(end.Sub(now))
		err = s.client.CompareAndSwap(item)
		if err == nil {
			return Decision{Allowed: true, Limit: limit, Remaining: limit - count, ResetAt: end}, nil
		}
		if errors.Is(err, memcache.ErrCASConflict) || errors.Is(err, memcache.ErrNotStored) {
			continue
		}
		return Decision{}, fmt.Errorf("memcached cas: %w", err)
	}
	return Decision{}, ErrContention
}

// Reset flushes the whole memcached server, not only this store's keys. memcached
// cannot enumerate keys by prefix; only testing-mode endpoints call Reset.
func (s *MemcachedStore) Reset(ctx context.Context) error {
	if err := s.client.DeleteAll(); err != nil {
		return fmt.Errorf("memcached flush: %w", err)
	}
	return nil
}

// Ping checks if memcached is reachable. Used for health checks.
func (s *MemcachedStore) Ping(ctx context.Context) error {
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}

func encodeWindow(count int, end time.Time) []byte {
	return []byte(strconv.Itoa(count) + ":" + strconv.FormatInt(end.UnixMilli(), 10))
}

func decodeWindow(b []byte) (count int, end time.Time, ok bool) {
	c, e, found := strings.Cut(string(b), ":")
	if !found {
		return 0, time.Time{}, false
	}
	n, err := strconv.Atoi(c)
	if err != nil || n < 0 {
		return 0, time.Time{}, false
	}
	ms, err := strconv.ParseInt(e, 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return n, time.UnixMilli(ms), true
}

// expirySeconds rounds d up to whole seconds within memcached's relative range.
func expirySeconds(d time.Duration) int32 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	if secs > maxRelativeExp {
		secs = maxRelativeExp
	}
	return int32(secs)
}
