package api

import (
	"encoding/json"
	"net/http"

	"github.com/xraph/relayhub/template"
)

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.hub.Templates().List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

type registerTemplateRequest struct {
	Source          string `json:"source"`
	DisplayName     string `json:"display_name"`
	Description     string `json:"description"`
	Enabled         bool   `json:"enabled"`
	Secret          string `json:"secret"`
	SignatureHeader string `json:"signature_header"`
}

func (h *Handler) registerTemplate(w http.ResponseWriter, r *http.Request) {
	var req registerTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := h.hub.Templates().Register(r.Context(), &template.Template{
		Source:          req.Source,
		DisplayName:     req.DisplayName,
		Description:     req.Description,
		Enabled:         req.Enabled,
		Secret:          req.Secret,
		SignatureHeader: req.SignatureHeader,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) updateTemplate(w http.ResponseWriter, r *http.Request) {
	var req template.Update
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := h.hub.Templates().Update(r.Context(), r.PathValue("source"), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, t)
}

type testTemplateRequest struct {
	// Payload is signed as sent. A JSON string is signed as its contents.
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type testTemplateResponse struct {
	Source      string `json:"source"`
	HeaderName  string `json:"header_name"`
	HeaderValue string `json:"header_value"`
	Payload     string `json:"payload"`
}

func (h *Handler) testTemplate(w http.ResponseWriter, r *http.Request) {
	var req testTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	}

	payload := []byte(req.Payload)
	var s string
	if err := json.Unmarshal(req.Payload, &s); err == nil {
		payload = []byte(s)
	}

	source := r.PathValue("source")
	name, value, err := h.hub.Templates().TestHeader(r.Context(), source, payload, req.Timestamp)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, testTemplateResponse{
		Source:      source,
		HeaderName:  name,
		HeaderValue: value,
		Payload:     string(payload),
	})
}
