package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"phone-auth-service/internal/phone"
	cache "phone-auth-service/internal/repository/redis"
	"phone-auth-service/internal/util"
)

type Axis string

const (
	AxisIP    Axis = "ip"
	AxisPhone Axis = "phone"
)

// OTP request policy: per client IP, then per phone, each per hour.
const (
	OTPRequestsPerIP    = 5
	OTPRequestsPerPhone = 3
	OTPRequestWindow    = time.Hour
)

// RateLimiter enforces fixed-window counters. Store failures fail open so an
// outage never locks out legitimate traffic.
type RateLimiter struct {
	cache  *cache.RateLimitCache
	logger *zap.Logger
}

func NewRateLimiter(rlCache *cache.RateLimitCache, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{cache: rlCache, logger: logger}
}

// Check counts one request for identifier on axis and reports whether the
// limit is exceeded. Once the limit is reached the counter stops growing.
// A counter without an expiry is given the window again, so a failed
// first-hit Expire cannot turn into a permanent limit.
func (r *RateLimiter) Check(ctx context.Context, identifier string, axis Axis, limit int64, window time.Duration) bool {
	if r.cache.Count(ctx, string(axis), identifier) >= limit {
		r.rearm(ctx, identifier, axis, window)
		return true
	}

	n := r.cache.Increment(ctx, string(axis), identifier)
	if n == 0 {
		r.logger.Warn("Rate limit check failed open",
			zap.String("axis", string(axis)),
			zap.String("identifier", r.redact(axis, identifier)))
		return false
	}
	r.startWindow(ctx, identifier, axis, window, n)
	return n > limit
}

// CheckOTPRequest applies the IP limit first, then the phone limit.
func (r *RateLimiter) CheckOTPRequest(ctx context.Context, ip string, num phone.Number) error {
	if r.Check(ctx, ip, AxisIP, OTPRequestsPerIP, OTPRequestWindow) {
		r.logger.Warn("OTP rate limit exceeded", zap.String("axis", string(AxisIP)), zap.String("ip", ip))
		return clientError(ErrRateLimitExceeded, msgIPRateLimited)
	}
	if r.Check(ctx, num.String(), AxisPhone, OTPRequestsPerPhone, OTPRequestWindow) {
		r.logger.Warn("OTP rate limit exceeded", zap.String("axis", string(AxisPhone)), util.Phone("phone", num.String()))
		return clientError(ErrRateLimitExceeded, msgPhoneRateLimited)
	}
	return nil
}

func (r *RateLimiter) Count(ctx context.Context, identifier string, axis Axis) int64 {
	return r.cache.Count(ctx, string(axis), identifier)
}

func (r *RateLimiter) Remaining(ctx context.Context, identifier string, axis Axis, limit int64) int64 {
	remaining := limit - r.Count(ctx, identifier, axis)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Increment bumps the counter without checking it, starting the window on
// the first hit.
func (r *RateLimiter) Increment(ctx context.Context, identifier string, axis Axis, window time.Duration) int64 {
	n := r.cache.Increment(ctx, string(axis), identifier)
	r.startWindow(ctx, identifier, axis, window, n)
	return n
}

func (r *RateLimiter) startWindow(ctx context.Context, identifier string, axis Axis, window time.Duration, n int64) {
	switch {
	case n == 1:
		if !r.cache.StartWindow(ctx, string(axis), identifier, window) {
			r.logger.Warn("Rate limit window not started",
				zap.String("axis", string(axis)),
				zap.String("identifier", r.redact(axis, identifier)))
		}
	case n > 1:
		r.rearm(ctx, identifier, axis, window)
	}
}

func (r *RateLimiter) rearm(ctx context.Context, identifier string, axis Axis, window time.Duration) {
	if r.cache.EnsureWindow(ctx, string(axis), identifier, window) {
		r.logger.Warn("Rate limit window re-armed on counter without expiry",
			zap.String("axis", string(axis)),
			zap.String("identifier", r.redact(axis, identifier)))
	}
}

func (r *RateLimiter) Reset(ctx context.Context, identifier string, axis Axis) {
	r.cache.Reset(ctx, string(axis), identifier)
}

func (r *RateLimiter) redact(axis Axis, identifier string) string {
	if axis == AxisPhone {
		return util.MaskPhone(identifier)
	}
	return identifier
}
