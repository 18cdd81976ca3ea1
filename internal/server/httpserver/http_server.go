// Package httpserver wires the webapk API handlers onto an HTTP server.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	derrors "git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/logfields"
	"git.home.luguber.info/inful/webapk/internal/metrics"
	"git.home.luguber.info/inful/webapk/internal/server/handlers"
	smw "git.home.luguber.info/inful/webapk/internal/server/middleware"
)

// Options configures the server.
type Options struct {
	Listen         string
	Version        string
	StagingDir     string
	MaxUploadBytes int64
	Registry       *prom.Registry // nil serves the default Prometheus registry
}

// Server manages the API endpoint.
type Server struct {
	opts    Options
	srv     *http.Server
	ln      net.Listener
	handler http.Handler
}

// New constructs a server for the coordinator and content resolver.
func New(builds handlers.BuildQueue, content handlers.ContentPreparer, opts Options) *Server {
	buildHandlers := handlers.NewBuildHandlers(builds, content, handlers.BuildOptions{
		StagingDir:     opts.StagingDir,
		MaxUploadBytes: opts.MaxUploadBytes,
	})
	monitoringHandlers := handlers.NewMonitoringHandlers(builds, opts.Version)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/builds", buildHandlers.HandleSubmit)
	mux.HandleFunc("GET /api/builds", buildHandlers.HandleList)
	mux.HandleFunc("GET /api/builds/{id}", buildHandlers.HandleGet)
	mux.HandleFunc("DELETE /api/builds/{id}", buildHandlers.HandleCancel)
	mux.HandleFunc("GET /api/builds/{id}/progress", buildHandlers.HandleProgress)
	mux.HandleFunc("GET /api/builds/{id}/artifact", buildHandlers.HandleArtifact)

	// Routes of the original single-page front end.
	mux.HandleFunc("POST /build-app", buildHandlers.HandleSubmit)
	mux.HandleFunc("GET /build-progress/{id}", buildHandlers.HandleProgress)
	mux.HandleFunc("GET /download-apk/{id}", buildHandlers.HandleArtifact)

	mux.HandleFunc("GET /healthz", monitoringHandlers.HandleHealthCheck)
	mux.Handle("GET /metrics", metrics.HTTPHandler(opts.Registry))

	adapter := derrors.NewHTTPErrorAdapter(slog.Default())
	return &Server{opts: opts, handler: smw.Chain(slog.Default(), adapter)(mux)}
}

// Handler returns the routed handler including middleware.
func (s *Server) Handler() http.Handler { return s.handler }

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("http startup failed: %w", err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server error", logfields.Error(err))
		}
	}()
	slog.Info("HTTP server started", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	slog.Info("HTTP server stopped")
	return nil
}
