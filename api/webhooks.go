package api

import (
	"errors"
	"io"
	"net/http"
)

type ingestResponse struct {
	Success        bool   `json:"success"`
	EventID        string `json:"event_id"`
	Source         string `json:"source"`
	EventType      string `json:"event_type"`
	SignatureValid bool   `json:"signature_valid"`
	Forwarded      bool   `json:"forwarded"`
	Queued         bool   `json:"queued"`
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ip := clientIP(r)
	allowed, err := h.config.Limiter.Allow(ctx, ip)
	if err != nil {
		// Fail open: a broken limiter backend must not drop webhooks.
		h.logger.WarnContext(ctx, "rate limiter unavailable", "error", err)
		allowed = true
	}
	if !allowed {
		h.config.Metrics.RecordRateLimited()
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unable to read body")
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	res, err := h.hub.Ingest(ctx, r.PathValue("source"), body, headers)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Success:        true,
		EventID:        res.EventID.String(),
		Source:         res.Source,
		EventType:      res.EventType,
		SignatureValid: res.SignatureValid,
		Forwarded:      res.Forwarded,
		Queued:         res.Queued,
	})
}
