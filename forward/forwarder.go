package forward

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/relayhub/event"
	"github.com/xraph/relayhub/id"
	"github.com/xraph/relayhub/observability"
)

// EventReader loads events for replay.
type EventReader interface {
	GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error)
}

// Config holds forwarder configuration.
type Config struct {
	// Timeout bounds each HTTP attempt.
	Timeout time.Duration

	// AppName is sent as X-Forwarded-From.
	AppName string

	// DefaultTarget is used when no explicit target is given.
	DefaultTarget string

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Forwarder delivers events and records each attempt.
type Forwarder struct {
	store  Store
	events EventReader
	sender *Sender
	config Config
	logger *slog.Logger
}

// New creates a forwarder.
func New(store Store, events EventReader, cfg Config, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewTracer()
	}
	return &Forwarder{
		store:  store,
		events: events,
		sender: NewSender(cfg.Timeout, cfg.AppName),
		config: cfg,
		logger: logger,
	}
}

// DefaultTarget returns the configured global target, possibly empty.
func (f *Forwarder) DefaultTarget() string {
	return f.config.DefaultTarget
}

// ResolveTarget returns the first non-blank candidate, falling back to the
// global default.
func (f *Forwarder) ResolveTarget(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return f.config.DefaultTarget
}

// Deliver posts evt to targetURL and records the attempt. A failed delivery
// is reported only through the boolean. The error is non-nil only when the
// attempt could not be recorded.
func (f *Forwarder) Deliver(ctx context.Context, evt *event.Event, targetURL string) (bool, error) {
	ctx, span := f.config.Tracer.StartForwardSpan(ctx, evt.ID.String(), targetURL)

	res := f.sender.Send(ctx, evt, targetURL)
	f.config.Tracer.EndForwardSpan(span, res.StatusCode, res.LatencyMs, res.Error)

	entry := &Log{
		ID:           id.NewForwardLogID(),
		EventID:      evt.ID,
		TargetURL:    targetURL,
		Success:      res.Success,
		ErrorMessage: res.Error,
		Reason:       res.Reason,
		CreatedAt:    time.Now().UTC(),
	}
	if res.StatusCode != 0 {
		code := res.StatusCode
		entry.StatusCode = &code
	}

	if err := f.store.RecordAttempt(ctx, entry); err != nil {
		f.logger.ErrorContext(ctx, "record forward attempt failed",
			"event_id", evt.ID, "target_url", targetURL, "error", err)
		return res.Success, fmt.Errorf("forward: record attempt: %w", err)
	}
	evt.Forwarded = res.Success

	status := "delivered"
	if !res.Success {
		status = "failed"
	}
	f.config.Metrics.RecordDelivery(status, float64(res.LatencyMs)/1000.0)

	if res.Success {
		f.logger.DebugContext(ctx, "event forwarded",
			"event_id", evt.ID, "target_url", targetURL, "status", res.StatusCode, "latency_ms", res.LatencyMs)
	} else {
		f.logger.WarnContext(ctx, "event forward failed",
			"event_id", evt.ID, "target_url", targetURL, "status", res.StatusCode,
			"reason", res.Reason, "error", res.Error)
	}
	return res.Success, nil
}

// Replay loads the event and delivers it to targetURL, or to the default
// target when targetURL is blank. It returns false with event.ErrNotFound or
// ErrNoTarget without attempting delivery when either cannot be resolved.
func (f *Forwarder) Replay(ctx context.Context, evtID id.ID, targetURL string) (bool, error) {
	evt, err := f.events.GetEvent(ctx, evtID)
	if err != nil {
		return false, err
	}
	target := f.ResolveTarget(targetURL)
	if target == "" {
		return false, ErrNoTarget
	}
	return f.Deliver(ctx, evt, target)
}
