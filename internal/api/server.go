// Package api provides the HTTP API server for tempmail.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wesm/tempmail/internal/config"
	"github.com/wesm/tempmail/internal/mailtm"
	"github.com/wesm/tempmail/internal/scheduler"
	"github.com/wesm/tempmail/internal/store"
	syncpkg "github.com/wesm/tempmail/internal/sync"
)

// InboxService defines the inbox operations the API needs.
type InboxService interface {
	ProvisionNewInbox(ctx context.Context) (*store.Account, error)
	Account() (*store.Account, error)
	Logout() error
	InboxSnapshot(ctx context.Context, email string) *syncpkg.Snapshot
	ManualRefresh(ctx context.Context, email string) (*syncpkg.Snapshot, error)
	ReadMessage(ctx context.Context, email, id string) (*mailtm.Message, error)
	DeleteMessage(ctx context.Context, email, id string) error
}

// PollScheduler defines the scheduler operations the API needs.
type PollScheduler interface {
	Follow(email, spec string) error
	UnwatchAll()
	Status() []InboxStatus
	IsRunning() bool
}

// InboxStatus is an alias for scheduler.InboxStatus.
type InboxStatus = scheduler.InboxStatus

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	inbox       InboxService
	scheduler   PollScheduler
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server. sched may be nil.
func NewServer(cfg *config.Config, inbox InboxService, sched PollScheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		inbox:     inbox,
		scheduler: sched,
		logger:    logger,
	}
	s.router = s.setupRouter()
	s.server = &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	// CORS is disabled when no origins are configured
	r.Use(CORSMiddleware(CORSConfig{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         86400,
	}))

	s.rateLimiter = NewRateLimiter(s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/inbox", func(r chi.Router) {
			r.Post("/", s.handleNewInbox)
			r.Get("/", s.handleGetInbox)
			r.Delete("/", s.handleLogout)

			r.Route("/{email}", func(r chi.Router) {
				r.Get("/messages", s.handleListMessages)
				r.Post("/refresh", s.handleRefresh)
				r.Get("/messages/{id}", s.handleGetMessage)
				r.Delete("/messages/{id}", s.handleDeleteMessage)
			})
		})

		r.Get("/scheduler/status", s.handleSchedulerStatus)
	})

	return r
}

// Start begins listening for HTTP requests. It blocks until the server
// is shut down, and returns http.ErrServerClosed at once if Shutdown
// already ran.
func (s *Server) Start() error {
	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication, set [server] api_key in config.toml")
	}

	s.logger.Info("starting API server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the API key from Authorization or X-API-Key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("Authorization")
		if key == "" {
			key = r.Header.Get("X-API-Key")
		}
		key = strings.TrimPrefix(key, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
