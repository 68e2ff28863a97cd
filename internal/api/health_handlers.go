package api

import (
	"context"
	"net/http"
	"time"

	"github.com/vytor/ucibridge/internal/logger"
)

// handleHealth reports liveness: the process is up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 when the database answers and at least one engine
// session can take requests, 503 otherwise.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	if s.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.DB.Ping(ctx); err != nil {
			log.Warn("readiness check failed - database: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "reason": "database unavailable"})
			return
		}
	}

	status := map[string]any{"ready": true}
	if s.Engines != nil {
		healthy := s.Engines.Healthy()
		status["engines"] = map[string]int{
			"size":      s.Engines.Size(),
			"healthy":   healthy,
			"available": s.Engines.Available(),
		}
		if healthy == 0 {
			log.Warn("readiness check failed - no healthy engine session")
			status["ready"] = false
			status["reason"] = "no engine available"
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	writeJSON(w, http.StatusOK, status)
}
