package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"phone-auth-service/internal/audit"
	"phone-auth-service/internal/client"
	"phone-auth-service/internal/hashing"
	"phone-auth-service/internal/models"
	"phone-auth-service/internal/phone"
	"phone-auth-service/internal/sms"
	"phone-auth-service/internal/token"
	"phone-auth-service/internal/util"
)

// ChallengeVerifier validates a bot-challenge token.
type ChallengeVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// UserDirectory owns user identities and their phone credentials.
type UserDirectory interface {
	FindOrCreateByPhone(ctx context.Context, num phone.Number, hints models.ProfileHints) (*models.User, error)
	UpsertPhoneCredential(ctx context.Context, userID string, num phone.Number) error
	FindByPhone(ctx context.Context, num phone.Number) (*models.User, error)
	FindByID(ctx context.Context, userID string) (*models.User, error)
}

type OTPRequest struct {
	Phone          string
	ChallengeToken string
	IP             string
	Fingerprint    FingerprintInput
}

type VerifyRequest struct {
	Phone       string
	Code        string
	IP          string
	Fingerprint FingerprintInput
}

// AuthResult is a successful authentication. ProviderUID is the normalized
// phone. Token is set only by VerifyOTP.
type AuthResult struct {
	User        *models.User
	ProviderUID string
	Token       string
	ExpiresAt   time.Time
}

type AuthService struct {
	challenge     ChallengeVerifier
	limiter       *RateLimiter
	fingerprints  *FingerprintService
	otp           *OTPService
	sender        sms.Sender
	users         UserDirectory
	tokens        *token.Manager
	events        audit.Emitter
	expiryMinutes int
	logger        *zap.Logger
}

func NewAuthService(
	challenge ChallengeVerifier,
	limiter *RateLimiter,
	fingerprints *FingerprintService,
	otp *OTPService,
	sender sms.Sender,
	users UserDirectory,
	tokens *token.Manager,
	events audit.Emitter,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		challenge:     challenge,
		limiter:       limiter,
		fingerprints:  fingerprints,
		otp:           otp,
		sender:        sender,
		users:         users,
		tokens:        tokens,
		events:        events,
		expiryMinutes: int(otp.settings.Expiry / time.Minute),
		logger:        logger,
	}
}

// RequestOTP validates the phone, the bot challenge and the rate limits in
// that order, then issues and delivers a code. Challenge failures never
// consume rate limit budget.
func (s *AuthService) RequestOTP(ctx context.Context, req OTPRequest) error {
	num, err := phone.Parse(req.Phone)
	if err != nil {
		return err
	}
	phoneHash := hashing.PhoneHash(num.String())
	fp := s.fingerprints.Generate(req.Fingerprint)

	if err := s.challenge.Verify(ctx, req.ChallengeToken, req.IP); err != nil {
		var ce *client.ChallengeError
		var codes []string
		if errors.As(err, &ce) {
			codes = ce.Codes
		}
		s.logger.Warn("Bot challenge failed",
			zap.String("ip", req.IP),
			zap.Strings("error_codes", codes),
			zap.Error(err))
		s.fingerprints.MarkSuspicious(ctx, fp)
		s.emit(audit.EventChallengeFailed, phoneHash, req.IP, fp, "")
		return clientError(ErrChallengeFailed, msgChallengeFailed)
	}

	if err := s.limiter.CheckOTPRequest(ctx, req.IP, num); err != nil {
		s.fingerprints.MarkSuspicious(ctx, fp)
		s.emit(audit.EventRateLimited, phoneHash, req.IP, fp, PublicMessage(err))
		return err
	}

	if s.fingerprints.IsSuspicious(ctx, fp) {
		s.logger.Warn("OTP requested from suspicious fingerprint",
			zap.String("fingerprint", fp),
			zap.String("ip", req.IP),
			util.Phone("phone", num.String()))
		s.emit(audit.EventSuspiciousFingerprint, phoneHash, req.IP, fp, "")
	}

	code, err := s.otp.Generate(ctx, num)
	if err != nil {
		if errors.Is(err, ErrLockedOut) {
			s.emit(audit.EventOTPLockout, phoneHash, req.IP, fp, "request while locked")
		}
		return err
	}

	if err := s.sender.Send(ctx, num.String(), sms.OTPMessage(code, s.expiryMinutes)); err != nil {
		s.otp.Invalidate(ctx, num)
		s.logger.Error("OTP delivery failed", util.Phone("phone", num.String()), zap.Error(err))
		return fmt.Errorf("deliver otp: %w", err)
	}

	s.emit(audit.EventOTPRequested, phoneHash, req.IP, fp, "")
	return nil
}

// VerifyOTP checks the code and, on success, resolves or creates the user and
// issues a bearer token.
func (s *AuthService) VerifyOTP(ctx context.Context, req VerifyRequest) (*AuthResult, error) {
	num, err := phone.Parse(req.Phone)
	if err != nil {
		return nil, err
	}
	phoneHash := hashing.PhoneHash(num.String())
	fp := s.fingerprints.Generate(req.Fingerprint)

	ok, err := s.otp.Verify(ctx, num, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, ErrMaxAttemptsExceeded), errors.Is(err, ErrLockedOut):
			s.emit(audit.EventOTPLockout, phoneHash, req.IP, fp, PublicMessage(err))
		case errors.Is(err, ErrOTPNotFound):
			s.emit(audit.EventOTPFailed, phoneHash, req.IP, fp, "no active code")
		}
		return nil, err
	}
	if !ok {
		s.emit(audit.EventOTPFailed, phoneHash, req.IP, fp, "invalid code")
		return nil, clientError(ErrInvalidCode, msgInvalidCode)
	}
	s.emit(audit.EventOTPVerified, phoneHash, req.IP, fp, "")

	user, err := s.users.FindOrCreateByPhone(ctx, num, models.ProfileHints{DeviceFingerprint: fp})
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if err := s.users.UpsertPhoneCredential(ctx, user.UserID, num); err != nil {
		return nil, fmt.Errorf("upsert phone credential: %w", err)
	}

	signed, expiresAt, err := s.tokens.Issue(num.String(), user.UserID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.emit(audit.EventLoginSucceeded, phoneHash, req.IP, fp, "")
	s.logger.Info("Phone login succeeded", zap.String("user_id", user.UserID))

	return &AuthResult{
		User:        user,
		ProviderUID: num.String(),
		Token:       signed,
		ExpiresAt:   expiresAt,
	}, nil
}

// AuthenticateBearer validates a token issued by VerifyOTP and re-resolves
// its user.
func (s *AuthService) AuthenticateBearer(ctx context.Context, bearer string) (*AuthResult, error) {
	claims, err := s.tokens.Parse(bearer)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return nil, clientError(ErrTokenExpired, msgTokenExpired)
		}
		s.logger.Debug("Bearer token rejected", zap.Error(err))
		return nil, clientError(ErrTokenInvalid, msgTokenInvalid)
	}

	num, err := phone.Parse(claims.Phone)
	if err != nil {
		s.logger.Warn("Bearer token carries invalid phone")
		return nil, clientError(ErrTokenInvalid, msgTokenInvalid)
	}

	user, err := s.users.FindByPhone(ctx, num)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, clientError(ErrUserNotFound, msgUserNotFound)
		}
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if user.UserID != claims.UserID {
		s.logger.Warn("Bearer token user does not own phone", zap.String("user_id", claims.UserID))
		return nil, clientError(ErrTokenInvalid, msgTokenInvalid)
	}

	return &AuthResult{
		User:        user,
		ProviderUID: num.String(),
	}, nil
}

func (s *AuthService) emit(typ audit.EventType, phoneHash, ip, fingerprint, reason string) {
	if s.events == nil {
		return
	}
	s.events.Emit(audit.NewEvent(typ, phoneHash, ip, fingerprint, reason))
}
