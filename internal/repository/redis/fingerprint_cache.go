package redis

import (
	"context"
	"strconv"
	"time"
)

const suspiciousFingerprintPrefix = "fingerprint:suspicious:"

// FingerprintCache stores the advisory suspicion counter per fingerprint.
type FingerprintCache struct {
	store Store
}

func NewFingerprintCache(store Store) *FingerprintCache {
	return &FingerprintCache{store: store}
}

// SuspicionCount returns the counter, 0 when absent or unreadable.
func (c *FingerprintCache) SuspicionCount(ctx context.Context, fingerprint string) int64 {
	raw, ok := c.store.Get(ctx, suspiciousFingerprintPrefix+fingerprint)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// IncrementSuspicion bumps the counter and starts its TTL on the first hit.
// A counter found without a TTL on a later hit gets one. Returns the new
// count, 0 on failure.
func (c *FingerprintCache) IncrementSuspicion(ctx context.Context, fingerprint string, ttl time.Duration) int64 {
	key := suspiciousFingerprintPrefix + fingerprint
	n := c.store.Incr(ctx, key)
	switch {
	case n == 1:
		c.store.Expire(ctx, key, ttl)
	case n > 1:
		c.EnsureTTL(ctx, fingerprint, ttl)
	}
	return n
}

// EnsureTTL sets ttl on a counter that has none.
func (c *FingerprintCache) EnsureTTL(ctx context.Context, fingerprint string, ttl time.Duration) bool {
	key := suspiciousFingerprintPrefix + fingerprint
	if c.store.TTL(ctx, key) != TTLNoExpiry {
		return false
	}
	return c.store.Expire(ctx, key, ttl)
}

func (c *FingerprintCache) Clear(ctx context.Context, fingerprint string) bool {
	return c.store.Del(ctx, suspiciousFingerprintPrefix+fingerprint)
}
