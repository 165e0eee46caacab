// Package api provides the HTTP surface for Credo: account and goal triggers,
// badge evaluation and awards, the change-notification feed, and manual
// settlement runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/credo-app/credo/internal/app/achievement"
	"github.com/credo-app/credo/internal/app/credibility"
	"github.com/credo-app/credo/internal/app/notify"
	"github.com/credo-app/credo/internal/app/settlement"
	"github.com/credo-app/credo/internal/domain"
	"github.com/credo-app/credo/internal/health"
)

// StatsStore reads and replaces statistics snapshots.
type StatsStore interface {
	domain.StatsReader
	PutStats(ctx context.Context, s domain.UserStats, at time.Time) error
}

// Deps are the services the server routes to.
type Deps struct {
	Credibility *credibility.Service
	Settlement  *settlement.Service
	Ledger      *achievement.Ledger
	Evaluator   *achievement.Evaluator
	Stats       StatsStore
	Outbox      *notify.Outbox
	Health      *health.Checker
	Log         *zap.Logger
}

// Server is the Credo HTTP API server.
type Server struct {
	Deps
	validate       *validator.Validate
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	deps.Log = deps.Log.Named("api")
	return &Server{Deps: deps, validate: validator.New()}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.requestLogger)
	r.Use(corsMiddleware)

	r.Get("/api/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/accounts", s.handleOpenAccount)
		r.Get("/accounts/{userID}", s.handleGetAccount)
		r.Get("/accounts/{userID}/history", s.handleHistory)
		r.Put("/accounts/{userID}/frequency", s.handleSetFrequency)

		r.Post("/goals", s.handleLogGoal)
		r.Post("/speculations/resolved", s.handleSpeculationResolved)

		r.Get("/badges", s.handleCatalog)
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Put("/stats", s.handlePutStats)
			r.Get("/stats", s.handleGetStats)
			r.Post("/evaluate/{category}", s.handleEvaluate)
			r.Get("/badges", s.handleUserBadges)
			r.Post("/badges/{badgeID}", s.handleExternalAward)
			r.Get("/events", s.handleEvents)
		})

		r.Post("/settlement/run", s.handleSettlementRun)
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    errorType(status),
		},
	})
}

// writeDomainError maps a domain sentinel to its HTTP status.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "error"
	}
}

// requestLogger logs each request once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
