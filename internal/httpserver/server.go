// internal/httpserver/server.go
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/forest/internal/config"
	"github.com/MrSnakeDoc/forest/internal/httpserver/deps"
	"github.com/MrSnakeDoc/forest/internal/httpserver/mw"
	"github.com/MrSnakeDoc/forest/internal/httpserver/routes"
	"github.com/MrSnakeDoc/forest/internal/logger"
)

const defaultRequestTimeout = 5 * time.Minute

// Server wraps the HTTP server and its dependencies.
type Server struct {
	http    *http.Server
	logger  logger.Logger
	started time.Time
}

// New builds the control plane server (router, middlewares, route
// registration). Routes of roles the node does not serve are skipped.
func New(cfg *config.Config, loggerClient logger.Logger, d deps.Deps) *Server {
	// Streams watch the base context and end when shutdown begins.
	base, cancel := context.WithCancel(context.Background())

	s := &Server{
		http: &http.Server{
			Addr:              cfg.ListenPort,
			Handler:           Router(d, mw.RateLimitConfig{Burst: cfg.RateLimitBurst, RefillPerMin: cfg.RateLimitPerMin, TrustProxy: cfg.TrustProxy}),
			ReadHeaderTimeout: 5 * time.Second,
			// Read and write deadlines would cut log streams; per request
			// timeouts are applied by route groups instead.
			ReadTimeout:    0,
			WriteTimeout:   0,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20,
			BaseContext:    func(net.Listener) context.Context { return base },
		},
		logger:  loggerClient,
		started: d.StartTime,
	}
	s.http.RegisterOnShutdown(cancel)
	return s
}

// Router returns the handler tree. Exposed for tests.
func Router(d deps.Deps, limit mw.RateLimitConfig) http.Handler {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = defaultRequestTimeout
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}

	r := chi.NewRouter()

	// --- Global middlewares (safe defaults)
	r.Use(middleware.GetHead)
	r.Use(middleware.RequestID) // X-Request-ID on each request
	r.Use(middleware.Recoverer) // never crash the process on panic
	r.Use(mw.Log(d.Logger))     // structured access logs
	r.Use(mw.RateLimit(limit))  // passthrough when disabled

	routes.RegisterAll(r, d)
	return r
}

// Start runs the HTTP server (blocks until error or shutdown).
func (s *Server) Start() error {
	s.logger.Infof("HTTP server listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	// http.ErrServerClosed is expected on graceful shutdown.
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server with the provided context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down...")
	return s.http.Shutdown(ctx)
}
