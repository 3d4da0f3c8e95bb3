// Package ops serves the operational endpoint: Prometheus metrics plus
// liveness and readiness probes on a single listener.
package ops

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadyFunc reports readiness; return an error while not ready.
type ReadyFunc func() error

// Server exposes /metrics, /live and /ready.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer builds the ops server. ready gates the readiness probe
// (typically: the initial runtime configuration has been loaded).
func NewServer(addr string, ready ReadyFunc, logger *zap.Logger) *Server {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-count", healthcheck.GoroutineCountCheck(200))
	if ready != nil {
		health.AddReadinessCheck("configuration-loaded", healthcheck.Check(ready))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("ops endpoint listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("ops endpoint failed", zap.Error(err))
		}
	}()
}

// Shutdown drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
