package exporter

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultMetricsPath = "/metrics"

// Server exposes the metrics registry over HTTP. It is stateless: every
// GET on the metrics path triggers a fresh collection, and concurrent
// scrapes are safe because collection shares nothing but the store.
type Server struct {
	registry *prometheus.Registry
	store    MetricsStore
	logger   *slog.Logger
	path     string
}

type ServerOption func(s *Server)

// WithMetricsPath overrides the path the exposition endpoint is mounted on.
func WithMetricsPath(path string) ServerOption {
	return func(s *Server) {
		if path != "" {
			s.path = path
		}
	}
}

func NewServer(registry *prometheus.Registry, store MetricsStore, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		registry: registry,
		store:    store,
		logger:   logger,
		path:     defaultMetricsPath,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	metricsHandler := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		// a failed collection must fail the scrape, not truncate it
		ErrorHandling: promhttp.HTTPErrorOnError,
		ErrorLog:      slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
	})

	mux.Handle("GET "+s.path, s.withAccessLog(metricsHandler))
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf("store unreachable: %v", err), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		attrs := []any{
			"request_id", uuid.NewString(),
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(started),
		}
		if rec.status >= http.StatusInternalServerError {
			s.logger.Error("scrape failed", attrs...)
		} else {
			s.logger.Debug("scrape served", attrs...)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
