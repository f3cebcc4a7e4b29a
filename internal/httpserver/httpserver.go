// Package httpserver serves the operational HTTP surface next to the
// DAP TCP port: Prometheus metrics on /metrics and a liveness report on
// /healthz. It never touches bridge state; everything it reports comes
// from registered read-only probes.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// CheckFunc is one named health probe. A non-nil error marks the whole
// report degraded.
type CheckFunc func() error

// Health is the /healthz response body.
type Health struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Server is the metrics/health HTTP listener.
type Server struct {
	addr    string
	version string
	started time.Time
	srv     *http.Server
	mux     *http.ServeMux

	mu     sync.Mutex
	checks map[string]CheckFunc
}

// New builds a Server on addr exposing metricsHandler at /metrics.
func New(addr, version string, metricsHandler http.Handler) *Server {
	s := &Server{
		addr:    addr,
		version: version,
		started: time.Now(),
		checks:  make(map[string]CheckFunc),
	}

	mux := http.NewServeMux()
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	s.mux = mux

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handle mounts an extra route (e.g. the spectator websocket). Must be
// called before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// RegisterCheck adds a named health probe evaluated on every /healthz.
func (s *Server) RegisterCheck(name string, fn CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = fn
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	checks := make(map[string]CheckFunc, len(s.checks))
	for name, fn := range s.checks {
		checks[name] = fn
	}
	s.mu.Unlock()

	h := Health{
		Status:  "healthy",
		Version: s.version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	if len(checks) > 0 {
		h.Checks = make(map[string]string, len(checks))
		for name, fn := range checks {
			if err := fn(); err != nil {
				h.Checks[name] = err.Error()
				h.Status = "degraded"
			} else {
				h.Checks[name] = "ok"
			}
		}
	}

	code := http.StatusOK
	if h.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(h)
}

// Start begins serving in the background. Listen errors after startup
// are reported through errCh, if non-nil.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		err := s.srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed && errCh != nil {
			errCh <- err
		}
	}()
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
