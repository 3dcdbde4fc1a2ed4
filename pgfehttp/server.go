// Package pgfehttp exposes a Pool's health and metrics over HTTP:
// /healthz, /pool/stats, and a Prometheus /metrics endpoint.
package pgfehttp

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pgfe-go/pgfe"
	"github.com/pgfe-go/pgfe/internal/metrics"
)

// Server wraps an http.Server pre-wired with /healthz, /metrics, and
// /pool/stats routes for one Pool.
type Server struct {
	pool       *pgfe.Pool
	collector  *metrics.Collector
	httpServer *http.Server
}

// New builds a Server listening on addr. collector may be nil, in which
// case /metrics responds 404.
func New(addr string, pool *pgfe.Pool, collector *metrics.Collector) *Server {
	s := &Server{pool: pool, collector: collector}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/pool/stats", s.handlePoolStats).Methods(http.MethodGet)
	if collector != nil {
		r.Handle("/metrics", promhttp.HandlerFor(collector.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

// ListenAndServe starts the HTTP server, blocking until it stops.
func (s *Server) ListenAndServe() error { return s.httpServer.ListenAndServe() }

// Close shuts the HTTP server down.
func (s *Server) Close() error { return s.httpServer.Close() }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	active, idle, waiting := s.pool.ConnectedStats()
	w.Header().Set("Content-Type", "application/json")
	if idle == 0 && active == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]int{
		"active": active, "idle": idle, "waiting": waiting,
	})
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	active, idle, waiting := s.pool.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"active": active, "idle": idle, "waiting": waiting,
	})
}
