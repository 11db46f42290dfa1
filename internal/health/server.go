// Package health provides health checking and HTTP endpoints for the MCP server.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server serves the health check endpoints next to the stdio MCP transport:
//   - /health  full check with per-component status
//   - /ready   readiness check
//   - /live    liveness check
//   - /metrics Prometheus exposition, when a registry is supplied
type Server struct {
	checker    *Checker
	logger     *zap.Logger
	httpServer *http.Server
	handler    http.Handler
	metrics    bool

	ready atomic.Bool
}

// NewServer creates a new health HTTP server. A nil gatherer leaves /metrics
// unregistered. An empty bindAddr binds to loopback.
func NewServer(checker *Checker, logger *zap.Logger, port int, bindAddr string, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}

	s := &Server{
		checker: checker,
		logger:  logger,
		metrics: gatherer != nil,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.HandleFunc("/live", s.liveHandler)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.handler = mux

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(bindAddr, strconv.Itoa(port)),
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	return s
}

// Handler returns the endpoint mux.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetReady marks the server as ready to handle requests.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("Starting health HTTP server",
		zap.String("addr", s.httpServer.Addr),
		zap.Bool("metrics_enabled", s.metrics),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down health HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Response is the /health body.
type Response struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, checks := s.checker.CheckAll(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		// degraded still serves callers that pass their own credentials
		w.WriteHeader(http.StatusOK)
	}

	err := json.NewEncoder(w).Encode(Response{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
	if err != nil {
		s.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_ready"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"alive"}`))
}
