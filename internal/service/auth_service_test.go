package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"phone-auth-service/internal/audit"
	"phone-auth-service/internal/client"
	"phone-auth-service/internal/config"
	"phone-auth-service/internal/phone"
	"phone-auth-service/internal/token"
)

type authFixture struct {
	mr        interface{ Exists(string) bool }
	svc       *AuthService
	challenge *challengeStub
	sender    *senderStub
	users     *userDirectoryStub
	events    *eventRecorder
	tokens    *token.Manager
}

func newAuthFixture(t *testing.T, logger *zap.Logger) *authFixture {
	t.Helper()
	mr, store := newTestStore(t)

	cfg := &config.Config{
		OTP: config.OTPConfig{Length: 6, ExpiryMinutes: 2, LockoutMinutes: 15, HMACSecret: "otp-secret"},
		JWT: config.JWTConfig{Secret: "jwt-secret", ExpiryHours: 24, Issuer: "phone-auth-service"},
	}
	f := &authFixture{
		mr:        mr,
		challenge: &challengeStub{},
		sender:    &senderStub{},
		users:     newUserDirectoryStub(),
		events:    &eventRecorder{},
	}
	factory := NewServiceFactory(cfg, store, f.challenge, f.sender, f.users, f.events, logger)
	f.svc = factory.AuthService()
	f.tokens = factory.TokenManager()
	return f
}

func otpRequest(ip string) OTPRequest {
	return OTPRequest{
		Phone:          "09123456789",
		ChallengeToken: "token",
		IP:             ip,
		Fingerprint:    FingerprintInput{IP: ip, UserAgent: "test-agent"},
	}
}

func TestAuthService_RequestAndVerify(t *testing.T) {
	f := newAuthFixture(t, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, f.svc.RequestOTP(ctx, otpRequest("1.2.3.4")))
	code := f.sender.lastCode()
	require.Len(t, code, 6)

	result, err := f.svc.VerifyOTP(ctx, VerifyRequest{Phone: "+98 912 345 6789", Code: code, IP: "1.2.3.4"})
	require.NoError(t, err)
	assert.Equal(t, testPhone, result.ProviderUID)
	assert.Equal(t, "user-6789", result.User.UserID)
	assert.Equal(t, 1, f.users.upserts)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), result.ExpiresAt, time.Minute)

	claims, err := f.tokens.Parse(result.Token)
	require.NoError(t, err)
	assert.Equal(t, testPhone, claims.Phone)
	assert.Equal(t, "user-6789", claims.UserID)

	bearer, err := f.svc.AuthenticateBearer(ctx, result.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-6789", bearer.User.UserID)
	assert.Equal(t, testPhone, bearer.ProviderUID)
	assert.Empty(t, bearer.Token)

	assert.Equal(t, []audit.EventType{
		audit.EventOTPRequested,
		audit.EventOTPVerified,
		audit.EventLoginSucceeded,
	}, f.events.types())
}

func TestAuthService_RequestOTP_InvalidPhoneBeforeChallenge(t *testing.T) {
	f := newAuthFixture(t, zap.NewNop())
	req := otpRequest("1.2.3.4")
	req.Phone = "+1234567"

	err := f.svc.RequestOTP(context.Background(), req)

	require.ErrorIs(t, err, ErrInvalidPhone)
	assert.Equal(t, "Only Iran phone numbers (+98) are supported", PublicMessage(err))
	assert.Zero(t, f.challenge.calls)
}

func TestAuthService_RequestOTP_ChallengeFailureKeepsQuota(t *testing.T) {
	f := newAuthFixture(t, zap.NewNop())
	f.challenge.err = &client.ChallengeError{Codes: []string{"invalid-input-response"}}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := f.svc.RequestOTP(ctx, otpRequest("1.2.3.4"))
		require.ErrorIs(t, err, ErrChallengeFailed)
		assert.Equal(t, msgChallengeFailed, PublicMessage(err))
	}

	assert.False(t, f.mr.Exists("rate_limit:ip:1.2.3.4"))
	assert.False(t, f.mr.Exists("rate_limit:phone:"+testPhone))
	assert.Empty(t, f.sender.messages)

	fp := f.svc.fingerprints.Generate(otpRequest("1.2.3.4").Fingerprint)
	assert.True(t, f.svc.fingerprints.IsSuspicious(ctx, fp))

	// A suspicious fingerprint is only flagged, never blocked.
	f.challenge.err = nil
	require.NoError(t, f.svc.RequestOTP(ctx, otpRequest("1.2.3.4")))
	assert.Contains(t, f.events.types(), audit.EventSuspiciousFingerprint)
}

func TestAuthService_RequestOTP_PhoneRateLimit(t *testing.T) {
	f := newAuthFixture(t, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, f.svc.RequestOTP(ctx, otpRequest("10.0.0.1")))
	require.NoError(t, f.svc.RequestOTP(ctx, otpRequest("10.0.0.2")))
	require.NoError(t, f.svc.RequestOTP(ctx, otpRequest("10.0.0.3")))

	err := f.svc.RequestOTP(ctx, otpRequest("10.0.0.4"))

	require.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, msgPhoneRateLimited, PublicMessage(err))
	assert.Len(t, f.sender.messages, 3)
	assert.Contains(t, f.events.types(), audit.EventRateLimited)
}

func TestAuthService_RequestOTP_DeliveryFailureInvalidatesCode(t *testing.T) {
	f := newAuthFixture(t, zap.NewNop())
	f.sender.err = errBoom

	err := f.svc.RequestOTP(context.Background(), otpRequest("1.2.3.4"))

	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, PublicMessage(err))
	assert.False(t, f.mr.Exists("otp:hash:"+testPhone))
}

func TestAuthService_VerifyOTP_WrongCode(t *testing.T) {
	f := newAuthFixture(t, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, f.svc.RequestOTP(ctx, otpRequest("1.2.3.4")))
	wrong := "000000"
	if f.sender.lastCode() == wrong {
		wrong = "111111"
	}

	_, err := f.svc.VerifyOTP(ctx, VerifyRequest{Phone: testPhone, Code: wrong})

	require.ErrorIs(t, err, ErrInvalidCode)
	assert.Equal(t, msgInvalidCode, PublicMessage(err))
	assert.Contains(t, f.events.types(), audit.EventOTPFailed)
}

func TestAuthService_VerifyOTP_NoActiveCode(t *testing.T) {
	f := newAuthFixture(t, zap.NewNop())

	_, err := f.svc.VerifyOTP(context.Background(), VerifyRequest{Phone: testPhone, Code: "123456"})

	require.ErrorIs(t, err, ErrOTPNotFound)
	assert.Equal(t, msgOTPNotFound, PublicMessage(err))
}

func TestAuthService_VerifyOTP_LockoutScenario(t *testing.T) {
	f := newAuthFixture(t, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, f.svc.RequestOTP(ctx, otpRequest("1.2.3.4")))
	code := f.sender.lastCode()
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 1; i < MaxOTPAttempts; i++ {
		_, err := f.svc.VerifyOTP(ctx, VerifyRequest{Phone: testPhone, Code: wrong})
		require.ErrorIs(t, err, ErrInvalidCode)
	}
	_, err := f.svc.VerifyOTP(ctx, VerifyRequest{Phone: testPhone, Code: wrong})
	require.ErrorIs(t, err, ErrMaxAttemptsExceeded)

	_, err = f.svc.VerifyOTP(ctx, VerifyRequest{Phone: testPhone, Code: code})
	require.ErrorIs(t, err, ErrLockedOut)

	err = f.svc.RequestOTP(ctx, otpRequest("1.2.3.5"))
	require.ErrorIs(t, err, ErrLockedOut)
	assert.Contains(t, f.events.types(), audit.EventOTPLockout)
}

func TestAuthService_VerifyOTP_DirectoryFailure(t *testing.T) {
	f := newAuthFixture(t, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, f.svc.RequestOTP(ctx, otpRequest("1.2.3.4")))
	f.users.findErr = errBoom

	_, err := f.svc.VerifyOTP(ctx, VerifyRequest{Phone: testPhone, Code: f.sender.lastCode()})

	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, PublicMessage(err))
}

func TestAuthService_AuthenticateBearer_Rejections(t *testing.T) {
	f := newAuthFixture(t, zap.NewNop())
	ctx := context.Background()

	_, err := f.svc.AuthenticateBearer(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	signed, _, err := f.tokens.Issue(testPhone, "user-6789")
	require.NoError(t, err)
	_, err = f.svc.AuthenticateBearer(ctx, signed)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.users.FindOrCreateByPhone(ctx, phone.MustParse(testPhone), modelsHints())
	require.NoError(t, err)
	forged, _, err := f.tokens.Issue(testPhone, "someone-else")
	require.NoError(t, err)
	_, err = f.svc.AuthenticateBearer(ctx, forged)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	badPhone, _, err := f.tokens.Issue("12345", "user-6789")
	require.NoError(t, err)
	_, err = f.svc.AuthenticateBearer(ctx, badPhone)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestAuthService_NeverLogsSecrets(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	f := newAuthFixture(t, zap.New(core))
	ctx := context.Background()

	require.NoError(t, f.svc.RequestOTP(ctx, otpRequest("1.2.3.4")))
	code := f.sender.lastCode()
	result, err := f.svc.VerifyOTP(ctx, VerifyRequest{Phone: testPhone, Code: code})
	require.NoError(t, err)

	for _, entry := range logs.All() {
		assert.NotContains(t, entry.Message, code)
		for _, field := range entry.Context {
			assert.NotContains(t, field.String, code)
			assert.NotContains(t, field.String, testPhone)
			assert.NotContains(t, field.String, result.Token)
		}
	}
}
