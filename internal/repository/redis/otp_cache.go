package redis

import (
	"context"
	"strconv"
	"time"
)

const (
	otpHashPrefix     = "otp:hash:"
	otpAttemptsPrefix = "otp:attempts:"
	otpLockPrefix     = "otp:lock:"
)

// OTPCache owns the three per-phone OTP keys. The hash and attempts keys are
// created and deleted together; the lock key has its own lifetime.
type OTPCache struct {
	store Store
}

func NewOTPCache(store Store) *OTPCache {
	return &OTPCache{store: store}
}

func (c *OTPCache) SetHash(ctx context.Context, phone, hash string, ttl time.Duration) bool {
	return c.store.Set(ctx, otpHashPrefix+phone, hash, ttl)
}

func (c *OTPCache) GetHash(ctx context.Context, phone string) (string, bool) {
	return c.store.Get(ctx, otpHashPrefix+phone)
}

func (c *OTPCache) HashTTL(ctx context.Context, phone string) time.Duration {
	return c.store.TTL(ctx, otpHashPrefix+phone)
}

// IncrementAttempts returns the post-increment count, or 0 if the store failed.
func (c *OTPCache) IncrementAttempts(ctx context.Context, phone string) int64 {
	return c.store.Incr(ctx, otpAttemptsPrefix+phone)
}

func (c *OTPCache) ExpireAttempts(ctx context.Context, phone string, ttl time.Duration) bool {
	return c.store.Expire(ctx, otpAttemptsPrefix+phone, ttl)
}

// GetAttempts treats a missing or unreadable counter as zero.
func (c *OTPCache) GetAttempts(ctx context.Context, phone string) int64 {
	raw, ok := c.store.Get(ctx, otpAttemptsPrefix+phone)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (c *OTPCache) ResetAttempts(ctx context.Context, phone string) bool {
	return c.store.Del(ctx, otpAttemptsPrefix+phone)
}

func (c *OTPCache) Lock(ctx context.Context, phone string, ttl time.Duration) bool {
	return c.store.Set(ctx, otpLockPrefix+phone, "1", ttl)
}

func (c *OTPCache) IsLocked(ctx context.Context, phone string) bool {
	return c.store.Exists(ctx, otpLockPrefix+phone)
}

// Invalidate removes the hash and attempts keys in one command.
func (c *OTPCache) Invalidate(ctx context.Context, phone string) bool {
	return c.store.Del(ctx, otpHashPrefix+phone, otpAttemptsPrefix+phone)
}

// KeyCounter is implemented by stores that can count keys by pattern.
type KeyCounter interface {
	CountKeys(ctx context.Context, pattern string) int64
}

// OTPStats is a point-in-time count of OTP keys. Fields are -1 when the
// store cannot be scanned.
type OTPStats struct {
	ActiveCodes     int64 `json:"active_codes"`
	PhonesWithTries int64 `json:"phones_with_attempts"`
	LockedPhones    int64 `json:"locked_phones"`
}

func (c *OTPCache) Stats(ctx context.Context) OTPStats {
	counter, ok := c.store.(KeyCounter)
	if !ok {
		return OTPStats{ActiveCodes: -1, PhonesWithTries: -1, LockedPhones: -1}
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return OTPStats{
		ActiveCodes:     counter.CountKeys(ctx, otpHashPrefix+"*"),
		PhonesWithTries: counter.CountKeys(ctx, otpAttemptsPrefix+"*"),
		LockedPhones:    counter.CountKeys(ctx, otpLockPrefix+"*"),
	}
}
