package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/agentic-fabric/pkg/metrics"
)

// Server exposes /healthz (liveness: the process is up) and /readyz
// (readiness: every registered Checker currently reports healthy) over
// plain net/http, alongside the Prometheus metrics handler so a single
// ambient port serves all three.
type Server struct {
	mux      *http.ServeMux
	checkers map[string]Checker
	timeout  time.Duration
}

// NewServer builds a Server with no checkers registered; Register adds
// them before the handler starts serving.
func NewServer() *Server {
	s := &Server{mux: http.NewServeMux(), checkers: make(map[string]Checker), timeout: 5 * time.Second}
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/readyz", s.handleReadyz)
	s.mux.Handle("/metrics", metrics.Handler())
	return s
}

// Register adds a named checker that must report healthy for /readyz to
// succeed.
func (s *Server) Register(name string, c Checker) {
	s.checkers[name] = c
}

// Handler returns the server's http.Handler, for embedding in a caller's
// own *http.Server (so the caller controls listen address and
// graceful-shutdown wiring).
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
	metrics.HTTPRequestsTotal.WithLabelValues("/healthz", "200").Inc()
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	results := make(map[string]Result, len(s.checkers))
	allHealthy := true
	for name, c := range s.checkers {
		res := c.Check(ctx)
		results[name] = res
		if !res.Healthy {
			allHealthy = false
		}
	}

	status := http.StatusOK
	statusLabel := "200"
	if !allHealthy {
		status = http.StatusServiceUnavailable
		statusLabel = "503"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"healthy": allHealthy, "checks": results})
	metrics.HTTPRequestsTotal.WithLabelValues("/readyz", statusLabel).Inc()
}
