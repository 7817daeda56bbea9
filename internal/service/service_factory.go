package service

import (
	"go.uber.org/zap"

	"phone-auth-service/internal/audit"
	"phone-auth-service/internal/config"
	"phone-auth-service/internal/hashing"
	cache "phone-auth-service/internal/repository/redis"
	"phone-auth-service/internal/sms"
	"phone-auth-service/internal/token"
)

// ServiceFactory wires the authentication services over shared infrastructure
// and hands out one instance of each.
type ServiceFactory struct {
	cfg       *config.Config
	store     cache.Store
	challenge ChallengeVerifier
	sender    sms.Sender
	users     UserDirectory
	events    audit.Emitter
	logger    *zap.Logger

	otpService         *OTPService
	rateLimiter        *RateLimiter
	fingerprintService *FingerprintService
	tokenManager       *token.Manager
	authService        *AuthService
}

func NewServiceFactory(
	cfg *config.Config,
	store cache.Store,
	challenge ChallengeVerifier,
	sender sms.Sender,
	users UserDirectory,
	events audit.Emitter,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		cfg:       cfg,
		store:     store,
		challenge: challenge,
		sender:    sender,
		users:     users,
		events:    events,
		logger:    logger,
	}
}

func (f *ServiceFactory) OTPService() *OTPService {
	if f.otpService == nil {
		f.otpService = NewOTPService(
			cache.NewOTPCache(f.store),
			hashing.NewHasher(f.cfg.OTPSecret()),
			OTPSettings{
				Length:  f.cfg.OTP.Length,
				Expiry:  f.cfg.OTPExpiry(),
				Lockout: f.cfg.OTPLockout(),
			},
			f.logger,
		)
	}
	return f.otpService
}

func (f *ServiceFactory) RateLimiter() *RateLimiter {
	if f.rateLimiter == nil {
		f.rateLimiter = NewRateLimiter(cache.NewRateLimitCache(f.store), f.logger)
	}
	return f.rateLimiter
}

func (f *ServiceFactory) FingerprintService() *FingerprintService {
	if f.fingerprintService == nil {
		f.fingerprintService = NewFingerprintService(cache.NewFingerprintCache(f.store), f.logger)
	}
	return f.fingerprintService
}

func (f *ServiceFactory) TokenManager() *token.Manager {
	if f.tokenManager == nil {
		f.tokenManager = token.NewManager(f.cfg.JWT.Secret, f.cfg.JWTExpiry(), f.cfg.JWT.Issuer)
	}
	return f.tokenManager
}

func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(
			f.challenge,
			f.RateLimiter(),
			f.FingerprintService(),
			f.OTPService(),
			f.sender,
			f.users,
			f.TokenManager(),
			f.events,
			f.logger,
		)
	}
	return f.authService
}
