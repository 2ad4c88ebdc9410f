package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// handleHealthz is the liveness probe: the process is up and answering.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleReadyz is the readiness probe: it checks the core health RPC, which
// in turn runs SELECT 1 on the store.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	state := s.probeCore(r.Context())
	if state != "ok" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":       "not_ready",
			"dependencies": map[string]string{"core_service": state},
		})
		return
	}
	writeJSON(w, map[string]interface{}{
		"status":       "ready",
		"dependencies": map[string]string{"core_service": "ok"},
	})
}

// handleHealth is the detailed report: always 200, per-component status plus
// the build version.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	coreState := s.probeCore(r.Context())
	status := "ok"
	if coreState != "ok" {
		status = "degraded"
	}
	writeJSON(w, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"version":   s.version,
		"checks": map[string]string{
			"gateway":      "ok",
			"core_service": coreState,
		},
	})
}

// probeCore returns "ok", "timeout", or "error".
func (s *Server) probeCore(ctx context.Context) string {
	timeout := time.Duration(s.cfg.Server.HealthTimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := s.core.Health(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "timeout"
		}
		return "error"
	}
	return "ok"
}
