// Package server hosts the optional debug HTTP endpoints:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /status for the monitor's per-service counters and phases.
//
// The pipeline never depends on this server; it exists for operators
// watching a long export run.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BJSummerfield/zendesk-export-v2/internal/lifecycle"
)

// Server wires the debug routes to an http.Server.
type Server struct {
	srv     *http.Server
	monitor *lifecycle.Monitor
	logger  *zap.Logger
}

// New constructs a Server listening on port.
func New(port int, monitor *lifecycle.Monitor, registry *prometheus.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{monitor: monitor, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", s.healthz)
	r.Get("/status", s.status)
	if registry != nil {
		r.Get("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP)
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves in a background goroutine and returns immediately.
func (s *Server) Start() {
	go func() {
		s.logger.Info("debug server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("debug server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("debug server shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Services     []lifecycle.ServiceStatus `json:"services"`
		ShutdownSent bool                      `json:"shutdown_sent"`
	}
	writeJSON(w, http.StatusOK, response{
		Services:     s.monitor.Snapshot(),
		ShutdownSent: s.monitor.ShutdownSent(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
