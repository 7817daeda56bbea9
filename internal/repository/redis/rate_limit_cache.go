package redis

import (
	"context"
	"strconv"
	"time"
)

const rateLimitPrefix = "rate_limit:"

// RateLimitCache stores fixed-window counters keyed by axis and identifier.
type RateLimitCache struct {
	store Store
}

func NewRateLimitCache(store Store) *RateLimitCache {
	return &RateLimitCache{store: store}
}

func rateLimitKey(axis, identifier string) string {
	return rateLimitPrefix + axis + ":" + identifier
}

// Count returns the current window count, 0 when absent or unreadable.
func (c *RateLimitCache) Count(ctx context.Context, axis, identifier string) int64 {
	raw, ok := c.store.Get(ctx, rateLimitKey(axis, identifier))
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Increment returns the post-increment count, or 0 if the store failed.
func (c *RateLimitCache) Increment(ctx context.Context, axis, identifier string) int64 {
	return c.store.Incr(ctx, rateLimitKey(axis, identifier))
}

func (c *RateLimitCache) StartWindow(ctx context.Context, axis, identifier string, window time.Duration) bool {
	return c.store.Expire(ctx, rateLimitKey(axis, identifier), window)
}

// EnsureWindow re-arms the window on a counter left without an expiry,
// which happens when the first-hit StartWindow failed.
func (c *RateLimitCache) EnsureWindow(ctx context.Context, axis, identifier string, window time.Duration) bool {
	if c.WindowTTL(ctx, axis, identifier) != TTLNoExpiry {
		return false
	}
	return c.StartWindow(ctx, axis, identifier, window)
}

func (c *RateLimitCache) WindowTTL(ctx context.Context, axis, identifier string) time.Duration {
	return c.store.TTL(ctx, rateLimitKey(axis, identifier))
}

func (c *RateLimitCache) Reset(ctx context.Context, axis, identifier string) bool {
	return c.store.Del(ctx, rateLimitKey(axis, identifier))
}
