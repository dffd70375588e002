// Package server exposes the user-facing HTTP surface: a manual analyze
// trigger, the auto-logging toggle and passive status displays.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"reviewscope/pkg/journal"
	"reviewscope/pkg/loop"
)

// Server represents HTTP server instance
type Server struct {
	config    ConfigProvider
	loop      Loop
	journal   Journal    // nil when the journal is disabled
	sink      SinkStatus // nil when the sink is disabled
	version   string
	debug     bool
	errWindow time.Duration

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle

	errMu       sync.Mutex
	lastErr     string
	lastErrTime time.Time
}

// Loop interface for analysis operations
type Loop interface {
	RequestAnalysis(ctx context.Context, triggeredByUser bool) (*loop.AnalysisResult, error)
	SetAutoLogging(enabled bool)
	AutoLogging() bool
	History() []loop.Entry
	Status() loop.Status
}

// Journal interface for diagnostics queries
type Journal interface {
	RecentFailures(ctx context.Context, limit int) ([]journal.Failure, error)
}

// SinkStatus reports the last dispatch bookkeeping
type SinkStatus interface {
	Status() (lastAttempt time.Time, ok bool)
}

// ConfigProvider provides server configuration
type ConfigProvider interface {
	GetServerConfig() (listen string, timeout time.Duration)
	GetErrorDisplayWindow() time.Duration
}

// New initializes a new server instance
func New(cfg ConfigProvider, lp Loop, jrnl Journal, snk SinkStatus, version string, debug bool) *Server {
	s := &Server{
		config:    cfg,
		loop:      lp,
		journal:   jrnl,
		sink:      snk,
		version:   version,
		debug:     debug,
		errWindow: cfg.GetErrorDisplayWindow(),
		router:    routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	listen, timeout := s.config.GetServerConfig()
	log.Printf("[INFO] starting server on %s", listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		log.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("reviewscope", "reviewscope", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(64 * 1024)) // requests carry no payload beyond the toggle
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("POST /analyze", s.analyzeHandler)
		r.HandleFunc("GET /autolog", s.getAutologHandler)
		r.HandleFunc("POST /autolog", s.setAutologHandler)
		r.HandleFunc("GET /status", s.statusHandler)
		r.HandleFunc("GET /history", s.historyHandler)
		r.HandleFunc("GET /failures", s.failuresHandler)
	})
}

// NoteError records a user-triggered loop error for the status display,
// wired as the loop's OnError callback. Timer-triggered errors stay in the
// diagnostics journal only.
func (s *Server) NoteError(err error, triggeredByUser bool) {
	if !triggeredByUser {
		return
	}
	s.errMu.Lock()
	s.lastErr = err.Error()
	s.lastErrTime = time.Now()
	s.errMu.Unlock()
}

// visibleError returns the last user error while it is within the display
// window, empty string after it auto-clears
func (s *Server) visibleError() string {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.lastErr == "" || time.Since(s.lastErrTime) > s.errWindow {
		return ""
	}
	return s.lastErr
}

// RenderJSON sends JSON response
func RenderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// RenderError sends error response as JSON
func RenderError(w http.ResponseWriter, r *http.Request, err error, code int) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	RenderJSON(w, r, code, map[string]string{"error": errMsg})
}
