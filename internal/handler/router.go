package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"phone-auth-service/internal/util"
)

// HealthChecker reports per-dependency health. A nil error means healthy.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]error
}

// StatsReporter exposes operational counters for verbose readiness output.
type StatsReporter interface {
	Stats(ctx context.Context) any
}

type RouterConfig struct {
	AllowedOrigins []string
	RequireHTTPS   bool
	AuthEnabled    bool
}

// NewRouter builds the chi router with middleware, health probes and the
// phone auth API.
func NewRouter(cfg RouterConfig, authHandler *AuthHandler, health HealthChecker, stats StatsReporter, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	if cfg.RequireHTTPS {
		router.Use(requireHTTPS)
	}

	router.Use(middleware.RequestID)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"phone-auth-service"}`))
	})

	router.Get("/ready", readinessHandler(health, stats, logger))

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(FeatureGate(cfg.AuthEnabled))
		authHandler.RegisterRoutes(r)
	})

	router.NotFound(notFound)
	router.MethodNotAllowed(methodNotAllowed)

	return router
}

type readinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Stats  any               `json:"stats,omitempty"`
}

func readinessHandler(health HealthChecker, stats StatsReporter, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		resp := readinessResponse{Status: "ready", Checks: map[string]string{}}
		status := http.StatusOK
		for name, err := range health.HealthCheck(ctx) {
			if err != nil {
				logger.Warn("Readiness check failed", util.String("dependency", name), util.ErrorField(err))
				resp.Checks[name] = "unavailable"
				resp.Status = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		if stats != nil && r.URL.Query().Get("verbose") == "true" {
			resp.Stats = stats.Stats(ctx)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("Failed to encode readiness response", util.ErrorField(err))
		}
	}
}
