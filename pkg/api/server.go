// Package api serves the HTTP management surface of a secondary process:
// health, Prometheus metrics, the status document, commit history and a
// command endpoint that accepts the same strings as the controller.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psaab/spp/pkg/configstore"
	"github.com/psaab/spp/pkg/dataplane"
	"github.com/psaab/spp/pkg/mgmt"
	"github.com/psaab/spp/pkg/runner"
	"github.com/psaab/spp/pkg/transport"
	"github.com/psaab/spp/pkg/worker"
)

// CaptureStats exposes the counters of a pcap capture engine.
type CaptureStats interface {
	Counters() (captured, dropped, errors uint64)
}

// Config configures the API server. Nil members disable the endpoints and
// metrics that need them.
type Config struct {
	Addr      string
	Token     string // required as Bearer or X-API-Key on POST; empty disables the check
	Runner    *runner.Runner
	State     *mgmt.State
	Ports     *dataplane.Manager
	Workers   *worker.Pool
	Capture   CaptureStats
	Transport *transport.Client
	Store     *configstore.Store
}

// Server is the HTTP API server.
type Server struct {
	cfg        Config
	httpServer *http.Server
	startTime  time.Time
	// streamInterval is how often the status stream polls for changes.
	streamInterval time.Duration
}

// NewServer builds the server and its routes.
func NewServer(cfg Config) *Server {
	s := &Server{cfg: cfg, startTime: time.Now(), streamInterval: time.Second}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)

	registry := prometheus.NewRegistry()
	registry.MustRegister(newCollector(s.cfg))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/v1/status", s.statusHandler)
	mux.HandleFunc("GET /api/v1/status/stream", s.statusStreamHandler)
	mux.HandleFunc("GET /api/v1/ports", s.portsHandler)
	mux.HandleFunc("GET /api/v1/history", s.historyHandler)
	mux.HandleFunc("GET /api/v1/history/compare", s.compareHandler)
	mux.Handle("POST /api/v1/command", requireToken(s.cfg.Token, http.HandlerFunc(s.commandHandler)))
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP API server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
