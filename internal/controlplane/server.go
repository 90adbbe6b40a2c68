/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package controlplane wires the control plane's own HTTP surface into a
// controller-runtime Runnable: health, diagnostics, Prometheus metrics, and
// the compute hook endpoints, all on one listener, per §6.
package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"oltp.molnett.org/neon-operator/internal/computehook"
	"oltp.molnett.org/neon-operator/internal/metrics"
)

// Server serves the control plane's HTTP surface on a single address.
type Server struct {
	Addr    string
	Hook    *computehook.Handler
	Log     logr.Logger
	started time.Time
}

// NewServer builds a Server bound to addr, dispatching compute-hook requests
// to hook.
func NewServer(addr string, hook *computehook.Handler, log logr.Logger) *Server {
	return &Server{Addr: addr, Hook: hook, Log: log, started: time.Now()}
}

// Start implements manager.Runnable: it serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleDiagnostics)
	mux.Handle("/metrics", promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/notify-attach", s.Hook.NotifyAttach)
	mux.HandleFunc("/compute/api/v2/computes/", s.Hook.GetSpec)

	srv := &http.Server{Addr: s.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("healthy"))
}

type diagnostics struct {
	Uptime        string `json:"uptime"`
	LastEventTime string `json:"last_event_time,omitempty"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	diag := diagnostics{Uptime: time.Since(s.started).String()}
	if last := metrics.LastEvent(); !last.IsZero() {
		diag.LastEventTime = last.UTC().Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(diag)
}
