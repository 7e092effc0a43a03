// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the runtime is ready to serve.
type ReadinessChecker func() bool

// StatusFunc returns the lifecycle status of every registered plugin, keyed
// by plugin id.
type StatusFunc func() map[string]string

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithPluginStatus serves status on /healthz/plugins.
func WithPluginStatus(status StatusFunc) ServerOption {
	return func(s *Server) { s.status = status }
}

// Server serves /metrics and the health probes.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	isReady    ReadinessChecker
	status     StatusFunc
	running    atomic.Bool
}

// NewRegistry returns a private registry carrying the standard Go and
// process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// NewServer creates a server for addr ("host:port"; port 0 picks a free
// one). A nil registry gets NewRegistry.
func NewServer(addr string, registry *prometheus.Registry, readinessChecker ReadinessChecker, opts ...ServerOption) *Server {
	if registry == nil {
		registry = NewRegistry()
	}
	s := &Server{
		addr:     addr,
		registry: registry,
		isReady:  readinessChecker,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens and serves in the background. Serve failures arrive on the
// returned channel, which is closed once the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)
	if s.status != nil {
		mux.HandleFunc("/healthz/plugins", s.handlePlugins)
	}

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// handleLiveness always answers 200.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 once the runtime has started, 503 before.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}

// pluginsReport is the body of /healthz/plugins.
type pluginsReport struct {
	Ready   bool              `json:"ready"`
	Plugins map[string]string `json:"plugins"`
	Failed  int               `json:"failed"`
}

// handlePlugins reports plugin statuses. It answers 503 while any plugin is
// in error status.
func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	report := pluginsReport{
		Ready:   s.isReady == nil || s.isReady(),
		Plugins: s.status(),
	}
	if report.Plugins == nil {
		report.Plugins = map[string]string{}
	}
	for _, st := range report.Plugins {
		if st == "error" {
			report.Failed++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if report.Failed > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if err := json.NewEncoder(w).Encode(report); err != nil {
		slog.Debug("write plugin health", "error", err)
	}
}
