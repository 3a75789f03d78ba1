package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"cdnbox/internal/files"
	"cdnbox/internal/forge"
	"cdnbox/internal/history"
	"cdnbox/internal/session"
	"cdnbox/internal/webhook"
	"cdnbox/pkg/templates"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const (
	// HTTP server timeouts. No WriteTimeout: file transfers may run long.
	HTTPReadHeaderTimeout = 10 * time.Second
	HTTPIdleTimeout       = 60 * time.Second

	// WebhookTimeout covers fetch + reset at their default timeouts
	WebhookTimeout = 90 * time.Second

	// ShutdownTimeout bounds draining of in-flight requests
	ShutdownTimeout = 15 * time.Second

	// NotifyTimeout bounds one commit status call
	NotifyTimeout = 20 * time.Second

	corsMaxAge = 300
)

// Options holds the collaborators a Server is built from
type Options struct {
	Auth         *session.Authenticator
	Resolver     *files.Resolver
	Trigger      *webhook.Trigger
	LoginPage    *templates.Page
	PasswordHash string

	AllowedOrigins []string

	// History and Forge are optional
	History *history.History
	Forge   *forge.Client

	Logger *slog.Logger
}

// Server represents the HTTP server
type Server struct {
	Auth         *session.Authenticator
	Resolver     *files.Resolver
	Trigger      *webhook.Trigger
	LoginPage    *templates.Page
	PasswordHash string

	AllowedOrigins []string

	History *history.History
	Forge   *forge.Client
	Logger  *slog.Logger

	notifyWg sync.WaitGroup // tracks in-flight commit status calls
}

// NewServer creates a new server instance
func NewServer(opts Options) (*Server, error) {
	if opts.Auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	loginPage := opts.LoginPage
	if loginPage == nil {
		loginPage = templates.DefaultLoginPage()
	}

	trigger := opts.Trigger
	if trigger == nil {
		trigger = webhook.NewTrigger("", nil)
	}

	return &Server{
		Auth:           opts.Auth,
		Resolver:       opts.Resolver,
		Trigger:        trigger,
		LoginPage:      loginPage,
		PasswordHash:   opts.PasswordHash,
		AllowedOrigins: opts.AllowedOrigins,
		History:        opts.History,
		Forge:          opts.Forge,
		Logger:         logger,
	}, nil
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  s.originAllowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           corsMaxAge,
	}))

	// Public routes
	r.Get("/login.html", s.HandleLoginPage)
	r.Post("/login", s.HandleLogin)
	r.With(middleware.Timeout(WebhookTimeout)).Post("/webhook", s.HandleWebhook)

	// Everything else is gated by the session cookie
	r.Get("/*", s.HandleFiles)
	r.Head("/*", s.HandleFiles)

	return r
}

// originAllowed matches the configured allow-list. An empty list allows no
// cross-origin requests.
func (s *Server) originAllowed(_ *http.Request, origin string) bool {
	for _, allowed := range s.AllowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// requestLogger logs one line per request once the response is written
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.Logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()),
				"duration_ms", time.Since(start).Milliseconds())
		}()

		next.ServeHTTP(ww, r)
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled. In-flight
// requests get ShutdownTimeout to finish; background notifications are
// drained and the history database is closed before returning.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: HTTPReadHeaderTimeout,
		IdleTimeout:       HTTPIdleTimeout,
	}

	s.Logger.Info("Starting server", "addr", listener.Addr().String())

	serveDone := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.Logger.Info("Shutting down server")
	case err := <-serveDone:
		if err != nil {
			s.Shutdown(context.Background())
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	shutdownErr := httpServer.Shutdown(shutdownCtx)
	if err := s.Shutdown(shutdownCtx); err != nil && shutdownErr == nil {
		shutdownErr = err
	}
	return shutdownErr
}

// WaitForNotifications waits for all in-flight commit status calls.
// This is primarily useful for testing.
func (s *Server) WaitForNotifications() {
	s.notifyWg.Wait()
}

// Shutdown waits for background notifications, bounded by ctx, and closes
// the history database.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.notifyWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.Logger.Warn("Gave up waiting for commit status notifications", "error", ctx.Err())
	}

	if s.History != nil {
		return s.History.Close()
	}
	return nil
}
