package api

import (
	"net/http"
	"time"
)

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.hub.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, st)
}

type healthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	res := healthResponse{Status: "healthy", Database: "connected", Timestamp: time.Now().UTC()}
	status := http.StatusOK
	if err := h.hub.Ping(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "health check failed", "error", err)
		res.Status = "unhealthy"
		res.Database = "disconnected"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}
