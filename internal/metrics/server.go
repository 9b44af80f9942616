package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hedgegrid/pkg/logging"
)

// Server exposes the process's Prometheus registry over HTTP.
type Server struct {
	port   int
	logger logging.Logger
	srv    *http.Server
}

func NewServer(port int, logger logging.Logger) *Server {
	return &Server{port: port, logger: logger.WithField("component", "metrics_server")}
}

// Start begins serving /metrics in the background.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		s.logger.Info("starting metrics server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", "error", err.Error())
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
