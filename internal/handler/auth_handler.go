package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"phone-auth-service/internal/models"
	"phone-auth-service/internal/service"
	"phone-auth-service/internal/util"
)

const maxBodyBytes = 16 << 10

// Authenticator is the phone authentication surface the handler drives.
type Authenticator interface {
	RequestOTP(ctx context.Context, req service.OTPRequest) error
	VerifyOTP(ctx context.Context, req service.VerifyRequest) (*service.AuthResult, error)
	AuthenticateBearer(ctx context.Context, token string) (*service.AuthResult, error)
}

type AuthHandler struct {
	auth   Authenticator
	logger *zap.Logger
}

func NewAuthHandler(auth Authenticator, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

// Response is the error envelope. Successful responses use per-route bodies.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type requestOTPBody struct {
	Phone          string `json:"phone"`
	TurnstileToken string `json:"turnstileToken"`
}

type verifyOTPBody struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type verifyOTPResponse struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

type meResponse struct {
	User *models.User `json:"user"`
}

// RegisterRoutes mounts the phone auth routes under r.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/phone/request-otp", h.RequestOTP)
		r.Post("/phone/verify-otp", h.VerifyOTP)

		r.Group(func(r chi.Router) {
			r.Use(h.BearerAuth)
			r.Get("/me", h.Me)
		})
	})
}

func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var body requestOTPBody
	if !h.decode(w, r, &body) {
		return
	}

	ip := util.ClientIP(r)
	err := h.auth.RequestOTP(r.Context(), service.OTPRequest{
		Phone:          body.Phone,
		ChallengeToken: body.TurnstileToken,
		IP:             ip,
		Fingerprint:    fingerprintInput(r, ip),
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, messageResponse{Message: "OTP sent successfully"})
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var body verifyOTPBody
	if !h.decode(w, r, &body) {
		return
	}

	ip := util.ClientIP(r)
	result, err := h.auth.VerifyOTP(r.Context(), service.VerifyRequest{
		Phone:       body.Phone,
		Code:        body.Code,
		IP:          ip,
		Fingerprint: fingerprintInput(r, ip),
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, verifyOTPResponse{
		User:      result.User,
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
	})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	result, ok := AuthResultFromContext(r.Context())
	if !ok {
		h.respondUnauthorized(w)
		return
	}
	h.respondWithJSON(w, http.StatusOK, meResponse{User: result.User})
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, Response{
			Error:   "invalid_request",
			Message: "Invalid request body",
		})
		return false
	}
	return true
}

func fingerprintInput(r *http.Request, ip string) service.FingerprintInput {
	return service.FingerprintInput{
		IP:             ip,
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
	}
}

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError writes the public message for client errors and a generic
// body for everything else. Internal error text never reaches the caller.
func (h *AuthHandler) respondWithError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	message := service.PublicMessage(err)
	if message == "" {
		status, code = http.StatusInternalServerError, "internal_error"
		message = "Something went wrong. Please try again later."
		h.logger.Error("Request failed", util.ErrorField(err))
	}
	h.respondWithJSON(w, status, Response{Error: code, Message: message})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidPhone):
		return http.StatusBadRequest, "invalid_phone"
	case errors.Is(err, service.ErrChallengeFailed):
		return http.StatusBadRequest, "challenge_failed"
	case errors.Is(err, service.ErrInvalidCode):
		return http.StatusBadRequest, "invalid_code"
	case errors.Is(err, service.ErrOTPNotFound):
		return http.StatusNotFound, "otp_not_found"
	case errors.Is(err, service.ErrRateLimitExceeded):
		return http.StatusTooManyRequests, "rate_limit_exceeded"
	case errors.Is(err, service.ErrMaxAttemptsExceeded):
		return http.StatusTooManyRequests, "max_attempts_exceeded"
	case errors.Is(err, service.ErrLockedOut):
		return http.StatusTooManyRequests, "locked_out"
	case errors.Is(err, service.ErrTokenExpired):
		return http.StatusUnauthorized, "token_expired"
	case errors.Is(err, service.ErrTokenInvalid):
		return http.StatusUnauthorized, "token_invalid"
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusUnauthorized, "user_not_found"
	case errors.Is(err, service.ErrAuthDisabled):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
