package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/troppes/strixlog/logstreamer/internal/metrics"
)

// Server is an HTTP listener with a health endpoint. Other handlers are
// mounted with Handle.
type Server struct {
	mux *http.ServeMux
	srv *http.Server
}

func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	s := &Server{
		mux: mux,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	mux.HandleFunc("GET /health", handleHealth)
	return s
}

// NewStatusServer serves health, Prometheus metrics from g, and the JSON
// snapshot produced by snapshot.
func NewStatusServer(addr string, snapshot func() metrics.Snapshot, g prometheus.Gatherer) *Server {
	s := NewServer(addr)
	s.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	s.Handle("GET /api/metrics", handleSnapshot(snapshot))
	return s
}

// Handle registers h for pattern.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones. Hijacked
// connections such as WebSocket sessions are not tracked.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n")) //nolint:errcheck
}

func handleSnapshot(snapshot func() metrics.Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snapshot()) //nolint:errcheck
	}
}
