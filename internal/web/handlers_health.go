package web

import (
	"context"
	"net/http"
	"time"

	"github.com/JonMunkholm/laptiming/internal/core"
	"github.com/JonMunkholm/laptiming/internal/logging"
)

// healthPingTimeout bounds the store ping so a stuck pool fails the check.
const healthPingTimeout = 2 * time.Second

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status string                  `json:"status"`
	Store  string                  `json:"store"`
	Pool   core.WorkerPoolStatus   `json:"pool"`
	Checks core.CheckLimiterStatus `json:"checks"`
}

// handleHealth pings the store and reports worker pool and check occupancy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	resp := HealthResponse{
		Status: "ok",
		Store:  "ok",
		Pool:   s.service.Pool().Status(),
		Checks: s.service.Checks().Status(),
	}

	if err := s.store.Ping(ctx); err != nil {
		logging.FromContext(r.Context()).Error("health check failed", "error", err)
		resp.Status = "unavailable"
		resp.Store = "unreachable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
