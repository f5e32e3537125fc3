package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/custodia-labs/sercha-poller/internal/adapters/driving/http/docs"
	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Runner is a background loop whose state /ready reports.
type Runner interface {
	Running() bool
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger
	validate   *validator.Validate
	gatherer   prometheus.Gatherer

	// Services
	authService         driving.AuthService
	subscriptionService driving.SubscriptionService

	// Infrastructure
	taskQueue   driven.TaskQueue
	db          Pinger // PostgreSQL health check
	redisClient Pinger // Redis health check (optional)
	worker      Runner
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Version string

	// Logger is used for request and lifecycle logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Gatherer backs the /metrics endpoint. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Worker is the in-process task worker, if this process runs one.
	Worker Runner
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// NewServer creates a new HTTP server
func NewServer(
	cfg Config,
	authService driving.AuthService,
	subscriptionService driving.SubscriptionService,
	taskQueue driven.TaskQueue,
	db Pinger,
	redisClient Pinger, // can be nil
) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router:              http.NewServeMux(),
		version:             cfg.Version,
		logger:              logger.With("component", "http"),
		validate:            validator.New(validator.WithRequiredStructEnabled()),
		gatherer:            gatherer,
		authService:         authService,
		subscriptionService: subscriptionService,
		taskQueue:           taskQueue,
		worker:              cfg.Worker,
		db:                  db,
		redisClient:         redisClient,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes()
	return s
}

// Handler returns the router wrapped in the recovery, logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = NewMetricsMiddleware().Handler(h)
	h = NewLoggingMiddleware(s.logger).Handler(h)
	h = NewRecoveryMiddleware(s.logger).Handler(h)
	return h
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	authMiddleware := NewAuthMiddleware(s.authService)
	authed := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.Authenticate(h)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.Authenticate(authMiddleware.RequireAdmin(h))
	}
	operator := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.Authenticate(
			authMiddleware.RequireRole(domain.RoleAdmin, domain.RoleOperator)(h))
	}

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	s.router.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.router.HandleFunc("GET /swagger/doc.json", s.handleSwaggerDoc)

	// Tokens (admin-only)
	s.router.Handle("POST /api/v1/auth/tokens", admin(s.handleIssueToken))
	s.router.Handle("GET /api/v1/me", authed(s.handleGetMe))

	// Subscriptions
	s.router.Handle("GET /api/v1/subscriptions", authed(s.handleListSubscriptions))
	s.router.Handle("POST /api/v1/subscriptions", admin(s.handleCreateSubscription))
	s.router.Handle("GET /api/v1/subscriptions/{id}", authed(s.handleGetSubscription))
	s.router.Handle("PATCH /api/v1/subscriptions/{id}", admin(s.handleUpdateSubscription))
	s.router.Handle("DELETE /api/v1/subscriptions/{id}", admin(s.handleDeleteSubscription))
	s.router.Handle("PUT /api/v1/subscriptions/{id}/authorization", admin(s.handleSetAuthorization))

	// Watermarks
	s.router.Handle("GET /api/v1/subscriptions/{id}/watermarks", authed(s.handleListWatermarks))
	s.router.Handle("DELETE /api/v1/subscriptions/{id}/watermarks", admin(s.handleResetWatermarks))

	// Polling and writes
	s.router.Handle("POST /api/v1/subscriptions/{id}/poll", operator(s.handleTriggerPoll))
	s.router.Handle("POST /api/v1/subscriptions/{id}/records/{entity}", admin(s.handleUpsertRecords))
	s.router.Handle("GET /api/v1/subscriptions/{id}/query", operator(s.handleQueryRecords))

	// Tasks
	s.router.Handle("GET /api/v1/tasks", authed(s.handleListTasks))
	s.router.Handle("GET /api/v1/tasks/{id}", authed(s.handleGetTask))
	s.router.Handle("DELETE /api/v1/tasks/{id}", operator(s.handleCancelTask))
	s.router.Handle("GET /api/v1/queue/stats", authed(s.handleQueueStats))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
