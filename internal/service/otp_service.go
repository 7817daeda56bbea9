package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"time"

	"go.uber.org/zap"

	"phone-auth-service/internal/hashing"
	"phone-auth-service/internal/phone"
	cache "phone-auth-service/internal/repository/redis"
	"phone-auth-service/internal/util"
)

// MaxOTPAttempts is the number of verification attempts allowed per issued
// code. It is fixed, not configuration.
const MaxOTPAttempts = 5

type OTPSettings struct {
	Length  int
	Expiry  time.Duration
	Lockout time.Duration
}

// OTPService issues and verifies one-time codes. Only an HMAC of each code is
// stored. Store failures fail closed: no code is issued if it cannot be
// recorded, and a verification that cannot be counted is refused.
type OTPService struct {
	cache    *cache.OTPCache
	hasher   *hashing.Hasher
	settings OTPSettings
	random   io.Reader
	logger   *zap.Logger
}

func NewOTPService(otpCache *cache.OTPCache, hasher *hashing.Hasher, settings OTPSettings, logger *zap.Logger) *OTPService {
	return &OTPService{
		cache:    otpCache,
		hasher:   hasher,
		settings: settings,
		random:   rand.Reader,
		logger:   logger,
	}
}

// Generate issues a new code for num and returns it in clear for delivery.
// Any previous code for num is replaced and its attempt counter reset.
func (s *OTPService) Generate(ctx context.Context, num phone.Number) (string, error) {
	p := num.String()

	if s.cache.IsLocked(ctx, p) {
		return "", clientError(ErrLockedOut, msgLockedOut)
	}

	code, err := s.newCode()
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}

	if !s.cache.SetHash(ctx, p, s.hasher.HashOTP(p, code), s.settings.Expiry) {
		return "", fmt.Errorf("store otp hash: %w", ErrStoreUnavailable)
	}
	s.cache.ResetAttempts(ctx, p)

	s.logger.Info("OTP generated",
		util.Phone("phone", p),
		zap.Duration("expires_in", s.settings.Expiry))

	return code, nil
}

// Verify checks code against the active code for num. A wrong code returns
// (false, nil). The fifth wrong code, or any attempt past the limit, locks
// the number for the lockout window.
func (s *OTPService) Verify(ctx context.Context, num phone.Number, code string) (bool, error) {
	p := num.String()

	if s.cache.IsLocked(ctx, p) {
		return false, clientError(ErrLockedOut, msgLockedOut)
	}

	stored, ok := s.cache.GetHash(ctx, p)
	if !ok {
		return false, clientError(ErrOTPNotFound, msgOTPNotFound)
	}

	attempts := s.cache.IncrementAttempts(ctx, p)
	if attempts == 0 {
		return false, fmt.Errorf("count otp attempt: %w", ErrStoreUnavailable)
	}

	if attempts == 1 {
		ttl := s.cache.HashTTL(ctx, p)
		if ttl <= 0 {
			ttl = s.settings.Expiry
		}
		s.cache.ExpireAttempts(ctx, p, ttl)
	}

	if attempts > MaxOTPAttempts {
		s.lock(ctx, p, attempts)
		return false, clientError(ErrMaxAttemptsExceeded, msgMaxAttempts)
	}

	if !s.hasher.VerifyOTP(p, code, stored) {
		if attempts >= MaxOTPAttempts {
			s.lock(ctx, p, attempts)
			return false, clientError(ErrMaxAttemptsExceeded, msgMaxAttempts)
		}
		s.logger.Info("OTP verification failed",
			util.Phone("phone", p),
			zap.Int64("attempts", attempts))
		return false, nil
	}

	s.cache.Invalidate(ctx, p)
	s.logger.Info("OTP verified", util.Phone("phone", p))
	return true, nil
}

// Invalidate removes the active code and its attempt counter. Idempotent.
func (s *OTPService) Invalidate(ctx context.Context, num phone.Number) {
	s.cache.Invalidate(ctx, num.String())
}

// RemainingAttempts reports attempts left on the active code, 0 when there is
// none.
func (s *OTPService) RemainingAttempts(ctx context.Context, num phone.Number) int {
	p := num.String()
	if _, ok := s.cache.GetHash(ctx, p); !ok {
		return 0
	}
	remaining := MaxOTPAttempts - int(s.cache.GetAttempts(ctx, p))
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s *OTPService) Stats(ctx context.Context) cache.OTPStats {
	return s.cache.Stats(ctx)
}

func (s *OTPService) lock(ctx context.Context, p string, attempts int64) {
	if !s.cache.Lock(ctx, p, s.settings.Lockout) {
		s.logger.Error("Failed to record OTP lockout", util.Phone("phone", p))
	}
	s.cache.Invalidate(ctx, p)
	s.logger.Warn("Phone locked out after failed OTP attempts",
		util.Phone("phone", p),
		zap.Int64("attempts", attempts),
		zap.Duration("lockout", s.settings.Lockout))
}

// newCode draws uniformly from [10^(n-1), 10^n).
func (s *OTPService) newCode() (string, error) {
	low := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(s.settings.Length-1)), nil)
	span := new(big.Int).Mul(low, big.NewInt(9))

	n, err := rand.Int(s.random, span)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Add(n, low).Int64(), 10), nil
}
