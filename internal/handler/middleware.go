package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"phone-auth-service/internal/service"
	"phone-auth-service/internal/util"
)

type contextKey struct{ name string }

var authResultKey = &contextKey{"auth-result"}

// AuthResultFromContext returns the caller resolved by BearerAuth.
func AuthResultFromContext(ctx context.Context) (*service.AuthResult, bool) {
	result, ok := ctx.Value(authResultKey).(*service.AuthResult)
	return result, ok && result != nil
}

// BearerAuth resolves "Authorization: Bearer <jwt>" to a user and stores the
// result in the request context.
func (h *AuthHandler) BearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, bearer, found := strings.Cut(r.Header.Get("Authorization"), " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(bearer) == "" {
			h.respondUnauthorized(w)
			return
		}

		result, err := h.auth.AuthenticateBearer(r.Context(), strings.TrimSpace(bearer))
		if err != nil {
			h.respondWithError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), authResultKey, result)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *AuthHandler) respondUnauthorized(w http.ResponseWriter) {
	h.respondWithJSON(w, http.StatusUnauthorized, Response{
		Error:   "token_invalid",
		Message: "Invalid token",
	})
}

// FeatureGate answers 404 for every request when enabled is false, so a
// disabled feature is indistinguishable from a missing route.
func FeatureGate(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if enabled {
			return next
		}
		return http.HandlerFunc(notFound)
	}
}

// requireHTTPS rejects any request that was not made over TLS.
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired)
			_, _ = w.Write([]byte(`{"success":false,"error":"https_required","message":"HTTPS required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoggerMiddleware logs one line per request. Bodies are never logged.
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("client_ip", util.ClientIP(r)),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"success":false,"error":"not_found","message":"endpoint not found"}`))
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	_, _ = w.Write([]byte(`{"success":false,"error":"method_not_allowed","message":"method not allowed"}`))
}
