package api

import (
	"context"
	"net/http"
	"time"
)

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Health reports readiness of the datastore and session backend. It is
// unauthenticated so load balancers can probe it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Components: map[string]string{}}
	status := http.StatusOK

	if err := h.Store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["storage"] = err.Error()
		status = http.StatusServiceUnavailable
		h.logger().Warn("storage health check failed", "error", err)
	} else {
		resp.Components["storage"] = "ok"
	}

	if err := h.sessions().Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["sessions"] = err.Error()
		status = http.StatusServiceUnavailable
		h.logger().Warn("session store health check failed", "error", err)
	} else {
		resp.Components["sessions"] = "ok"
	}

	writeJSON(w, status, resp)
}
