/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package webhook

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/robfig/cron"

	admissionv1 "k8s.io/api/admission/v1"
)

// CertDir is where the admission server expects tls.crt/tls.key, matching
// the mount path the operator's Deployment wires for the webhook Service's
// TLS secret.
const CertDir = "/etc/certs"

// pollInterval is how often the main loop checks the reload flag set by the
// filesystem watcher.
const pollInterval = 1 * time.Second

// Server fronts the Validator with an HTTPS listener on :8443 and a plain
// HTTP health endpoint on :8080, reloading its certificate whenever the
// files under CertDir change.
type Server struct {
	Validator *Validator
	Log       logr.Logger

	certDir      string
	reloadNeeded atomic.Bool
	currentCert  atomic.Pointer[tls.Certificate]
}

// NewServer builds a Server watching certDir for certificate changes.
func NewServer(validator *Validator, log logr.Logger, certDir string) *Server {
	if certDir == "" {
		certDir = CertDir
	}
	return &Server{Validator: validator, Log: log, certDir: certDir}
}

// Run starts the health endpoint once, loads the initial certificate, and
// then blocks serving HTTPS admission requests until ctx is canceled,
// tearing down and restarting the TLS listener whenever the watched
// certificate files change.
func (s *Server) Run(ctx context.Context) error {
	if err := s.loadCertificate(); err != nil {
		return err
	}

	healthSrv := s.startHealthServer()
	defer healthSrv.Shutdown(context.Background()) //nolint:errcheck

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(s.certDir); err != nil {
		return err
	}
	go s.watchCertDir(watcher)

	c := cron.New()
	if err := c.AddFunc("@every 1h", func() {
		if err := s.loadCertificate(); err != nil {
			s.Log.Error(err, "periodic certificate reload")
		}
	}); err != nil {
		return fmt.Errorf("scheduling periodic certificate reload: %w", err)
	}
	c.Start()
	defer c.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		srv := s.newTLSServer()
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServeTLS("", "") }()

		if restartOrStop := s.serveUntilReloadOrDone(ctx, srv, errCh); restartOrStop != nil {
			return restartOrStop
		}
	}
}

// serveUntilReloadOrDone blocks until the context is canceled (returns nil
// and the caller should stop), the certificate changes (returns nil and the
// caller restarts the TLS listener with fresh material), or the listener
// itself fails (returns the error).
func (s *Server) serveUntilReloadOrDone(ctx context.Context, srv *http.Server, errCh chan error) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			srv.Shutdown(context.Background()) //nolint:errcheck
			return nil
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				return err
			}
		case <-ticker.C:
			if s.reloadNeeded.CompareAndSwap(true, false) {
				s.Log.Info("certificate changed, restarting TLS listener")
				srv.Shutdown(context.Background()) //nolint:errcheck
				return nil
			}
		}
	}
}

func (s *Server) watchCertDir(watcher *fsnotify.Watcher) {
	for event := range watcher.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
			s.reloadNeeded.Store(true)
		}
	}
}

func (s *Server) loadCertificate() error {
	cert, err := tls.LoadX509KeyPair(s.certDir+"/tls.crt", s.certDir+"/tls.key")
	if err != nil {
		return err
	}
	s.currentCert.Store(&cert)
	return nil
}

func (s *Server) newTLSServer() *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/validate-pageserver", s.handleValidate)

	return &http.Server{
		Addr:    ":8443",
		Handler: mux,
		TLSConfig: &tls.Config{
			GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
				return s.currentCert.Load(), nil
			},
			MinVersion: tls.VersionTLS12,
		},
	}
}

func (s *Server) startHealthServer() *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.Log.Error(err, "health server stopped")
		}
	}()
	return srv
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var review admissionv1.AdmissionReview
	if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	response := s.Validator.Review(r.Context(), &review)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}
