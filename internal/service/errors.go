package service

import (
	"errors"
	"fmt"

	"phone-auth-service/internal/client"
	"phone-auth-service/internal/models"
	"phone-auth-service/internal/phone"
	"phone-auth-service/internal/token"
)

// Error kinds. Client-facing failures are returned as *ClientError wrapping
// one of these, so callers can match with errors.Is and still show a safe
// message.
var (
	ErrInvalidPhone        = phone.ErrInvalidPhone
	ErrChallengeFailed     = client.ErrChallengeFailed
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrOTPNotFound         = errors.New("otp not found or expired")
	ErrMaxAttemptsExceeded = errors.New("maximum otp attempts exceeded")
	ErrLockedOut           = errors.New("phone locked out")
	ErrInvalidCode         = errors.New("invalid otp code")
	ErrTokenInvalid        = token.ErrTokenInvalid
	ErrTokenExpired        = token.ErrTokenExpired
	ErrUserNotFound        = models.ErrUserNotFound
	ErrAuthDisabled        = errors.New("phone authentication disabled")

	// ErrStoreUnavailable never crosses the service boundary as a client
	// error; it marks fail-closed paths.
	ErrStoreUnavailable = errors.New("store unavailable")
)

const (
	msgLockedOut        = "Too many failed attempts. Please try again later."
	msgMaxAttempts      = "Too many failed attempts. Please request a new code later."
	msgOTPNotFound      = "Invalid or expired code. Please request a new one."
	msgInvalidCode      = "Invalid verification code."
	msgChallengeFailed  = "Bot verification failed. Please try again."
	msgIPRateLimited    = "Too many OTP requests from this IP. Please try again later."
	msgPhoneRateLimited = "Too many OTP requests for this phone number. Please try again later."
	msgTokenInvalid     = "Invalid token"
	msgTokenExpired     = "Token expired"
	msgUserNotFound     = "User not found"
)

// ClientError is a failure safe to show to the caller.
type ClientError struct {
	Kind    error
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ClientError) Unwrap() error {
	return e.Kind
}

func clientError(kind error, message string) *ClientError {
	return &ClientError{Kind: kind, Message: message}
}

// PublicMessage returns the message to show for err, or "" when err is not a
// client error and must be reported generically.
func PublicMessage(err error) string {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Message
	}
	var ve *phone.ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	return ""
}
