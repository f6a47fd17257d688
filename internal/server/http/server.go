// Package httpserver provides the HTTP REST API server for the document matching service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/helixir/docmatch-service/internal/database"
	"github.com/helixir/docmatch-service/internal/docmatch"
	"github.com/helixir/docmatch-service/internal/domain"
)

// Matcher is the document matching service used by the handlers.
type Matcher interface {
	Process(ctx context.Context, req docmatch.MatchRequest, save bool) (*domain.MatchResponse, error)
	Add(ctx context.Context, records []domain.MatchRecord) (string, error)
	Delete(ctx context.Context, records []domain.MatchRecord) (string, error)
	List(ctx context.Context, bibcode string) ([]*domain.PersistedMatch, error)
}

// HealthChecker reports the health of the backing database.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	matcher    Matcher
	health     HealthChecker
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(cfg Config, matcher Matcher, health HealthChecker, logger zerolog.Logger) *Server {
	s := &Server{
		matcher: matcher,
		health:  health,
		logger:  logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(s.requestLoggerMiddleware)
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Post("/docmatch", s.docmatch)
	r.Put("/add", s.addRecords)
	r.Delete("/delete", s.deleteRecords)
	r.Get("/matches/{bibcode}", s.listMatches)

	return r
}

// Handler returns the root handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler reports liveness. A reachable database with an unmigrated
// schema still counts as alive.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status == database.StatusUnhealthy {
		writeJSON(w, http.StatusServiceUnavailable, healthBody("unhealthy", health))
		return
	}
	writeJSON(w, http.StatusOK, healthBody("ok", health))
}

// readinessHandler reports whether the service can match and persist.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status != database.StatusHealthy {
		writeJSON(w, http.StatusServiceUnavailable, healthBody("not_ready", health))
		return
	}
	writeJSON(w, http.StatusOK, healthBody("ready", health))
}

func healthBody(status string, health database.HealthStatus) map[string]string {
	body := map[string]string{
		"status":   status,
		"database": health.Status,
		"schema":   "missing",
	}
	if health.SchemaReady {
		body["schema"] = "ready"
	}
	if health.Error != "" {
		body["error"] = health.Error
	}
	return body
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort log; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
