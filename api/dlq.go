package api

import (
	"net/http"

	"github.com/xraph/relayhub/dlq"
	"github.com/xraph/relayhub/event"
	"github.com/xraph/relayhub/id"
)

func (h *Handler) listDLQ(w http.ResponseWriter, r *http.Request) {
	opts := dlq.ListOpts{
		Source:    queryParam(r, "source"),
		EventType: queryParam(r, "event_type"),
		Search:    queryParam(r, "search"),
		MinRetry:  queryInt(r, "min_retry", 0),
		MaxRetry:  queryInt(r, "max_retry", 0),
		Page:      queryInt(r, "page", 1),
		PageSize:  queryInt(r, "page_size", event.DefaultPageSize),
	}

	res, err := h.hub.DLQ().List(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) replayDLQ(w http.ResponseWriter, r *http.Request) {
	dlqID, err := id.ParseDLQID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DLQ ID")
		return
	}

	res, err := h.hub.DLQ().ReplaySingle(r.Context(), dlqID, queryParam(r, "target_url"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type replayBatchRequest struct {
	IDs       []string `json:"ids"`
	TargetURL string   `json:"target_url,omitempty"`
}

func (h *Handler) replayDLQBatch(w http.ResponseWriter, r *http.Request) {
	var req replayBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	writeJSON(w, http.StatusOK, h.hub.DLQ().ReplayBatch(r.Context(), req.IDs, req.TargetURL))
}

func (h *Handler) deleteDLQ(w http.ResponseWriter, r *http.Request) {
	dlqID, err := id.ParseDLQID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DLQ ID")
		return
	}

	if err := h.hub.DLQ().Delete(r.Context(), dlqID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearDLQ(w http.ResponseWriter, r *http.Request) {
	n, err := h.hub.DLQ().Clear(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
