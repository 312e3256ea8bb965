// Package server exposes the dashboard over HTTP: the route guard middleware,
// the auth endpoints and a JSON API over the task and settings services.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/slok/taskdash/internal/auth"
	"github.com/slok/taskdash/internal/clock"
	"github.com/slok/taskdash/internal/config"
	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/storage"
	"github.com/slok/taskdash/internal/tasksync"
)

// Config is the configuration for the server.
type Config struct {
	ListenAddr string
	Auth       auth.Backend
	Tasks      *tasksync.Factory
	Settings   storage.SettingsRepository
	Flags      config.Flags
	Admins     model.AdminAllowList
	Clock      clock.Clock
	// SecureCookies sets the secure flag on the session cookies.
	SecureCookies bool
	Logger        log.Logger
}

func (c *Config) defaults() error {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Auth == nil {
		return fmt.Errorf("auth backend is required")
	}
	if c.Tasks == nil {
		return fmt.Errorf("task provider factory is required")
	}
	if c.Settings == nil {
		return fmt.Errorf("settings repository is required")
	}
	if c.Flags == nil {
		return fmt.Errorf("flags are required")
	}
	if c.Admins == nil {
		c.Admins = model.DefaultAdminAllowList
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "server.Server"})
	return nil
}

// Server is the dashboard HTTP server.
type Server struct {
	server        *http.Server
	router        chi.Router
	auth          auth.Backend
	tasks         *tasksync.Factory
	settings      storage.SettingsRepository
	flags         config.Flags
	admins        model.AdminAllowList
	clock         clock.Clock
	secureCookies bool
	logger        log.Logger
}

// New returns a new server.
func New(cfg Config) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		auth:          cfg.Auth,
		tasks:         cfg.Tasks,
		settings:      cfg.Settings,
		flags:         cfg.Flags,
		admins:        cfg.Admins,
		clock:         cfg.Clock,
		secureCookies: cfg.SecureCookies,
		logger:        cfg.Logger,
	}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(s.withIdentity)

	// Pages.
	r.Group(func(r chi.Router) {
		r.Use(s.guardRoutes)
		r.Get("/", s.handleRoot)
		r.Get("/login", s.handlePage("login"))
		r.Get("/signup", s.handlePage("signup"))
		r.Get("/reset-password", s.handlePage("reset-password"))
		r.Get("/dashboard", s.handleListTasks)
		r.Get("/dashboard/settings", s.handleGetAppSettings)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/callback", s.handleAuthCallback)
		r.Post("/signup", s.handleSignUp)
		r.Post("/login", s.handleSignIn)
		r.Post("/magic-link", s.handleMagicLink)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleSignOut)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/me", s.handleMe)
		r.Get("/tasks", s.handleListTasks)
		r.Post("/tasks", s.handleCreateTask)
		r.Post("/tasks/{taskID}/commands", s.handleSubmitCommand)
		r.Get("/settings", s.handleGetUserSettings)
		r.Patch("/settings", s.handleUpdateUserSettings)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/admin/settings", s.handleGetAppSettings)
			r.Put("/admin/settings", s.handleSaveAppSettings)
		})
	})

	return r
}

// ServeHTTP serves the request with the server router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run starts the server and blocks until ctx is cancelled. It performs a
// graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Server listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Infof("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	}
}
