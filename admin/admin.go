// Package admin serves the HTTP endpoints used by operators: Prometheus
// metrics, a health probe and a JSON status document.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusSource reports the state exposed by /healthz and /info
type StatusSource interface {
	// Health returns nil when the server is able to serve commands
	Health() error
	// Info returns the status document served by /info
	Info() map[string]any
}

// Server represents the admin HTTP server
type Server struct {
	router   *mux.Router
	source   StatusSource
	gatherer prometheus.Gatherer

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates an admin server. A nil gatherer serves the default
// Prometheus registry.
func NewServer(source StatusSource, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router:   mux.NewRouter(),
		source:   source,
		gatherer: gatherer,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all admin routes
func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
}

// Handler returns the admin router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves requests in the background
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = s.httpServer.Serve(listener)
	}()
	return nil
}

// Addr returns the listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Stop shuts the HTTP server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles GET /healthz requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.source.Health(); err != nil {
		writeJSON(w, map[string]string{"status": "unavailable", "error": err.Error()}, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// handleInfo handles GET /info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.source.Info(), http.StatusOK)
}

func writeJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
