package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/xraph/relayhub/event"
	"github.com/xraph/relayhub/forward"
	"github.com/xraph/relayhub/id"
)

// MaxListDays bounds the days filter on event listings.
const MaxListDays = 90

// eventView renders an event with its payload inline. Payloads that are not
// valid JSON are rendered as a string.
type eventView struct {
	*event.Event
	Payload any `json:"payload"`
}

func newEventView(evt *event.Event) eventView {
	v := eventView{Event: evt}
	if json.Valid(evt.RawPayload) {
		v.Payload = json.RawMessage(evt.RawPayload)
	} else {
		v.Payload = string(evt.RawPayload)
	}
	return v
}

type eventDetail struct {
	eventView
	ForwardLogs []*forward.Log `json:"forward_logs"`
}

type eventListResponse struct {
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Items    []eventView `json:"items"`
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	opts := event.ListOpts{
		Source:         queryParam(r, "source"),
		EventType:      queryParam(r, "event_type"),
		SignatureValid: queryBool(r, "signature_valid"),
		Page:           queryInt(r, "page", 1),
		PageSize:       queryInt(r, "page_size", event.DefaultPageSize),
	}
	if days := queryInt(r, "days", 0); days > 0 {
		days = min(days, MaxListDays)
		from := time.Now().UTC().AddDate(0, 0, -days)
		opts.From = &from
	}
	opts = opts.Normalize()

	page, err := h.hub.ListEvents(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	items := make([]eventView, 0, len(page.Items))
	for _, evt := range page.Items {
		items = append(items, newEventView(evt))
	}
	writeJSON(w, http.StatusOK, eventListResponse{
		Total:    page.Total,
		Page:     opts.Page,
		PageSize: opts.PageSize,
		Items:    items,
	})
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	evt, err := h.hub.GetEvent(r.Context(), evtID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	logs, err := h.hub.ForwardLogs(r.Context(), evtID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, eventDetail{eventView: newEventView(evt), ForwardLogs: logs})
}

func (h *Handler) deleteEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	if err := h.hub.DeleteEvent(r.Context(), evtID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) replayEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	res, err := h.hub.Replay(r.Context(), evtID, queryParam(r, "target_url"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}
