package relayhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/textproto"
	"strings"

	"go.opentelemetry.io/otel/codes"

	"github.com/xraph/relayhub/event"
	"github.com/xraph/relayhub/id"
	"github.com/xraph/relayhub/signature"
	"github.com/xraph/relayhub/template"
)

// UnknownEventType is stored when no event type can be extracted.
const UnknownEventType = "unknown"

// GitHubEventHeader carries the GitHub event name.
const GitHubEventHeader = "X-GitHub-Event"

// MaxEventTypeLength bounds stored event types.
const MaxEventTypeLength = 100

// IngestResult reports a stored webhook.
type IngestResult struct {
	EventID        id.ID  `json:"event_id"`
	Source         string `json:"source"`
	EventType      string `json:"event_type"`
	SignatureValid bool   `json:"signature_valid"`

	// Forwarded is true when an inline delivery succeeded.
	Forwarded bool `json:"forwarded"`

	// Queued is true when delivery was handed to the dispatcher.
	Queued bool `json:"queued"`
}

// Ingest verifies, stores and optionally forwards one webhook.
//
// The critical path:
//  1. Reject sources that are neither built in nor registered.
//  2. Resolve how the source is verified and check the signature against
//     the raw body. A required signature that fails rejects the request.
//  3. Parse the body as JSON and extract the event type.
//  4. Persist the event.
//  5. Deliver to the forward URL inline, or queue it on the dispatcher.
//
// Nothing is stored when step 1, 2 or 3 fails. A failed delivery does not
// fail the ingest.
func (h *Hub) Ingest(ctx context.Context, source string, body []byte, headers map[string]string) (*IngestResult, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	ctx, span := h.tracer.StartIngestSpan(ctx, source)
	defer span.End()

	if err := h.checkSource(ctx, source); err != nil {
		h.metrics.RecordReject("unknown_source")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	lookup := canonicalHeaders(headers)

	// Verify against the raw bytes, before any decoding.
	res, err := h.templates.ResolveForRequest(ctx, source, template.DefaultHeader(source), h.config.FallbackSecrets[source])
	if err != nil {
		return nil, err
	}
	valid := false
	if res.Required {
		if !signature.Verify(source, body, lookup(res.Header), res.Secret) {
			h.metrics.RecordReject("unauthorized")
			h.logger.WarnContext(ctx, "webhook rejected: invalid signature",
				"source", source, "mode", res.Mode, "header", res.Header)
			span.SetStatus(codes.Error, "invalid signature")
			return nil, fmt.Errorf("%w: %s", ErrUnauthorized, source)
		}
		valid = true
	} else if res.Mode == template.ModeOpen {
		h.logger.WarnContext(ctx, "signature verification skipped: no template or secret configured",
			"source", source, "mode", res.Mode)
	} else {
		h.logger.DebugContext(ctx, "signature verification disabled by template",
			"source", source, "mode", res.Mode)
	}

	// Parse and classify.
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		h.metrics.RecordReject("bad_payload")
		span.SetStatus(codes.Error, "invalid json")
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	eventType := extractEventType(source, payload, lookup)

	// Persist.
	evt := event.New(source, eventType, body, headers, valid)
	if err := h.store.AppendEvent(ctx, evt); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("relayhub: persist event: %w", err)
	}
	signatureLabel := "skipped"
	if valid {
		signatureLabel = "valid"
	}
	h.metrics.RecordIngest(source, signatureLabel)

	result := &IngestResult{
		EventID:        evt.ID,
		Source:         source,
		EventType:      eventType,
		SignatureValid: valid,
	}
	h.logger.InfoContext(ctx, "webhook received",
		"event_id", evt.ID, "source", source, "event_type", eventType, "signature_valid", valid)

	// Forward.
	target := h.forwarder.DefaultTarget()
	if !h.config.ForwardEnabled || target == "" {
		return result, nil
	}
	if h.config.AsyncForward {
		err := h.dispatcher.Submit(evt, target)
		if err == nil {
			result.Queued = true
			return result, nil
		}
		h.logger.WarnContext(ctx, "dispatcher unavailable, forwarding inline",
			"event_id", evt.ID, "error", err)
	}
	ok, err := h.forwarder.Deliver(ctx, evt, target)
	if err != nil {
		h.logger.ErrorContext(ctx, "forward after ingest failed", "event_id", evt.ID, "error", err)
	}
	result.Forwarded = ok
	return result, nil
}

// checkSource accepts the built-in sources and any source with a template.
func (h *Hub) checkSource(ctx context.Context, source string) error {
	if template.IsBuiltin(source) {
		return nil
	}
	if err := template.ValidateSource(source); err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	_, err := h.store.GetTemplate(ctx, source)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, template.ErrNotFound):
		return fmt.Errorf("%w: %q", ErrUnknownSource, source)
	default:
		return fmt.Errorf("relayhub: lookup template: %w", err)
	}
}

// canonicalHeaders returns a case-insensitive lookup over headers.
func canonicalHeaders(headers map[string]string) func(string) string {
	canon := make(map[string]string, len(headers))
	for k, v := range headers {
		canon[textproto.CanonicalMIMEHeaderKey(k)] = v
	}
	return func(name string) string {
		return canon[textproto.CanonicalMIMEHeaderKey(name)]
	}
}

// extractEventType reads the event name for source: the X-GitHub-Event
// header for github, the payload's "type" for stripe, and the payload's
// "event" then "type" for everything else.
func extractEventType(source string, payload any, header func(string) string) string {
	if source == signature.SourceGitHub {
		return nonEmpty(header(GitHubEventHeader))
	}

	obj, ok := payload.(map[string]any)
	if !ok {
		return UnknownEventType
	}
	keys := []string{"event", "type"}
	if source == signature.SourceStripe {
		keys = []string{"type"}
	}
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return nonEmpty(s)
		}
	}
	return UnknownEventType
}

func nonEmpty(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return UnknownEventType
	}
	if len(s) > MaxEventTypeLength {
		s = strings.ToValidUTF8(s[:MaxEventTypeLength], "")
	}
	return s
}
