// Package api provides the HTTP API server for projmail.
package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wesm/projmail/internal/config"
	"github.com/wesm/projmail/internal/scheduler"
	"github.com/wesm/projmail/internal/source"
	"github.com/wesm/projmail/internal/store"
	"github.com/wesm/projmail/internal/triage"
)

// TriageStore defines the store operations the API needs.
type TriageStore interface {
	GetStats() (*store.Stats, error)

	ListProjects() ([]*store.Project, error)
	GetProject(id int64) (*store.Project, error)
	CreateProject(name, description string) (*store.Project, error)
	CreateProjectAndAssign(name, description string, messageID int64) (*store.Project, error)
	MessagesByProject(projectID int64) ([]*store.Message, error)

	ListMessages(statuses ...string) ([]*store.Message, error)
	GetMessage(id int64) (*store.Message, error)
	ProjectForMessage(messageID int64) (*store.Project, error)
	DueReminders(now time.Time) ([]*store.Message, error)

	Assign(messageID, projectID int64) error
	Snooze(messageID int64, remindAt time.Time) error
	Ignore(messageID int64) error
	AddIgnoredSender(addr string) error

	ListContacts() ([]*store.Contact, error)
	GetContact(id int64) (*store.Contact, error)
	ContactMessagesByProject(contactID int64) ([]store.ContactProject, error)
}

// JobScheduler defines the scheduler operations the API needs.
type JobScheduler interface {
	Status() []scheduler.JobStatus
	IsRunning() bool
}

// FetchFunc fetches new mail from every available source.
type FetchFunc func(ctx context.Context) (*triage.FetchSummary, error)

// SourcesFunc lists the known mail sources.
type SourcesFunc func() []source.Info

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	store       TriageStore
	scheduler   JobScheduler
	fetch       FetchFunc
	sources     SourcesFunc
	now         func() time.Time
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// Option configures a Server.
type Option func(*Server)

// WithScheduler exposes the scheduler's status.
func WithScheduler(sched JobScheduler) Option {
	return func(s *Server) { s.scheduler = sched }
}

// WithFetch enables POST /api/v1/fetch.
func WithFetch(fn FetchFunc) Option {
	return func(s *Server) { s.fetch = fn }
}

// WithSources enables GET /api/v1/sources.
func WithSources(fn SourcesFunc) Option {
	return func(s *Server) { s.sources = fn }
}

// WithClock sets the clock used for snoozes and due reminders.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, st TriageStore, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		store:  st,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	// CORS is disabled when no origins are configured.
	r.Use(CORSMiddleware(CORSConfig{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         86400,
	}))

	rps := s.cfg.Server.RateLimit
	if rps <= 0 {
		rps = 10
	}
	s.rateLimiter = NewRateLimiter(rps, int(rps*2))
	r.Use(RateLimitMiddleware(s.rateLimiter))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/stats", s.handleStats)

		r.Get("/projects", s.handleListProjects)
		r.Post("/projects", s.handleCreateProject)
		r.Get("/projects/{id}", s.handleGetProject)

		r.Get("/messages", s.handleListMessages)
		r.Route("/messages/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetMessage)
			r.Get("/content", s.handleMessageContent)
			r.Post("/assign", s.handleAssign)
			r.Post("/create-project", s.handleCreateProjectForMessage)
			r.Post("/snooze", s.handleSnooze)
			r.Post("/ignore", s.handleIgnore)
		})
		r.Get("/reminders", s.handleReminders)

		r.Get("/contacts", s.handleListContacts)
		r.Get("/contacts/{id}", s.handleGetContact)

		r.Post("/fetch", s.handleFetch)
		r.Get("/sources", s.handleListSources)
		r.Get("/scheduler/status", s.handleSchedulerStatus)
	})

	return r
}

// validateSecure refuses to expose an unauthenticated API beyond loopback.
func (s *Server) validateSecure() error {
	if s.cfg.Server.APIKey != "" {
		return nil
	}
	host := s.cfg.Server.BindAddr
	if host == "" || strings.EqualFold(host, "localhost") {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("refusing to bind %s without [server] api_key", host)
}

// Start begins listening for HTTP requests.
// Returns an error if the security posture is invalid.
func (s *Server) Start() error {
	if err := s.validateSecure(); err != nil {
		return err
	}

	bindAddr := s.cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	addr := net.JoinHostPort(bindAddr, strconv.Itoa(s.cfg.Server.APIPort))

	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication, set [server] api_key in config.toml")
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // POST /fetch waits for providers
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
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

// authMiddleware validates the API key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			authHeader = r.Header.Get("X-API-Key")
		}
		authHeader = strings.TrimPrefix(authHeader, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(authHeader), []byte(s.cfg.Server.APIKey)) != 1 {
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
