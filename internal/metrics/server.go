package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stratahq/strata/internal/logging"
	"github.com/stratahq/strata/internal/queue"
)

// Server serves the Prometheus scrape endpoint and implements
// lifecycle.Component. A nil pool disables queue gauge polling.
type Server struct {
	port     int
	registry *prometheus.Registry
	metrics  *Metrics
	pool     *queue.Pool
	server   *http.Server
	cancel   context.CancelFunc
	logger   *logging.Logger
}

// NewServer creates the metrics server with a fresh registry.
func NewServer(port int, pool *queue.Pool) *Server {
	registry := prometheus.NewRegistry()
	return &Server{
		port:     port,
		registry: registry,
		metrics:  New(registry),
		pool:     pool,
		logger:   logging.GetLogger("metrics"),
	}
}

// Metrics returns the registered instruments.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start implements lifecycle.Component, serving /metrics.
func (s *Server) Start(ctx context.Context) error {
	if s.port == 0 {
		s.logger.Info("Metrics endpoint disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.ErrorWithErr("Metrics server failed", err)
		}
	}()

	pollCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if s.pool != nil {
		go s.pollQueue(pollCtx)
	}

	s.logger.Info("Metrics endpoint listening on :%d", s.port)
	return nil
}

// pollQueue refreshes the queue gauges periodically.
func (s *Server) pollQueue(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.ObserveQueue(s.pool.Stats())
		}
	}
}

// Stop implements lifecycle.Component.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Name implements lifecycle.Component.
func (s *Server) Name() string {
	return "Metrics Server"
}
