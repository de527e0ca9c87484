package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/relayhub/event"
	"github.com/xraph/relayhub/forward"
	"github.com/xraph/relayhub/guard"
	"github.com/xraph/relayhub/id"
	"github.com/xraph/relayhub/observability"
)

// Forwarder is the delivery capability the service replays through.
type Forwarder interface {
	Deliver(ctx context.Context, evt *event.Event, targetURL string) (bool, error)
	ResolveTarget(candidates ...string) string
}

// EventReader loads parent events.
type EventReader interface {
	GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error)
}

// Replay outcomes.
const (
	OutcomeDelivered      = "delivered"
	OutcomeFailed         = "failed"
	OutcomeSkippedSuccess = "skipped_recent_success"
	OutcomeCooldown       = "cooldown"
)

// Batch failure reasons.
const (
	ReasonDuplicate = "Duplicate id ignored"
	ReasonInvalidID = "Invalid id"
)

// ReplayResult reports one guarded replay.
type ReplayResult struct {
	Success   bool   `json:"success"`
	Outcome   string `json:"outcome"`
	Message   string `json:"message"`
	EventID   id.ID  `json:"event_id"`
	TargetURL string `json:"target_url"`

	// RetryAfter is the seconds left in the cooldown.
	RetryAfter *int `json:"retry_after,omitempty"`

	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

// BatchResult reports a batch replay per id. An id may appear in both
// SuccessIDs and Failed when it was repeated in the request.
type BatchResult struct {
	SuccessIDs []string          `json:"success_ids"`
	Failed     map[string]string `json:"failed"`
	Notes      map[string]string `json:"notes"`
}

// Config holds optional service instrumentation.
type Config struct {
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Service manages the dead letter queue.
type Service struct {
	store  Store
	events EventReader
	fwd    Forwarder
	guard  *guard.Guard
	config Config
	logger *slog.Logger
}

// NewService creates a DLQ service.
func NewService(store Store, events EventReader, fwd Forwarder, g *guard.Guard, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewTracer()
	}
	return &Service{
		store:  store,
		events: events,
		fwd:    fwd,
		guard:  g,
		config: cfg,
		logger: logger,
	}
}

// List returns one page of entries with parent event details.
func (svc *Service) List(ctx context.Context, opts ListOpts) (*ListResult, error) {
	opts = opts.Normalize()
	page, err := svc.store.ListDLQ(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("dlq: list: %w", err)
	}

	items := make([]Item, 0, len(page.Rows))
	for _, row := range page.Rows {
		items = append(items, row.Item())
	}
	return &ListResult{
		Total:    page.Total,
		Page:     opts.Page,
		PageSize: opts.PageSize,
		Items:    items,
	}, nil
}

// Get returns an entry by ID.
func (svc *Service) Get(ctx context.Context, dlqID id.ID) (*Entry, error) {
	return svc.store.GetDLQ(ctx, dlqID)
}

// Count returns the number of live entries and publishes it as a gauge.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	n, err := svc.store.CountDLQ(ctx)
	if err != nil {
		return 0, err
	}
	svc.config.Metrics.SetDLQSize(n)
	return n, nil
}

// Delete removes an entry.
func (svc *Service) Delete(ctx context.Context, dlqID id.ID) error {
	if err := svc.store.DeleteDLQ(ctx, dlqID); err != nil {
		return err
	}
	svc.logger.InfoContext(ctx, "dlq entry deleted", "dlq_id", dlqID)
	return nil
}

// Clear removes every entry.
func (svc *Service) Clear(ctx context.Context) (int64, error) {
	n, err := svc.store.ClearDLQ(ctx)
	if err != nil {
		return 0, fmt.Errorf("dlq: clear: %w", err)
	}
	svc.config.Metrics.SetDLQSize(0)
	svc.logger.InfoContext(ctx, "dlq cleared", "deleted", n)
	return n, nil
}

// ReplaySingle replays one entry. The target is targetURL, else the entry's
// stored target, else the global default. A missing parent event removes the
// entry and returns ErrOrphaned. Delivery failure is reported in the result,
// not as an error.
func (svc *Service) ReplaySingle(ctx context.Context, dlqID id.ID, targetURL string) (*ReplayResult, error) {
	entry, err := svc.store.GetDLQ(ctx, dlqID)
	if err != nil {
		return nil, err
	}

	evt, err := svc.events.GetEvent(ctx, entry.EventID)
	if errors.Is(err, event.ErrNotFound) {
		if delErr := svc.store.DeleteDLQ(ctx, entry.ID); delErr != nil && !errors.Is(delErr, ErrNotFound) {
			return nil, fmt.Errorf("dlq: remove orphaned entry: %w", delErr)
		}
		svc.logger.WarnContext(ctx, "dlq entry removed: parent event missing",
			"dlq_id", entry.ID, "event_id", entry.EventID)
		return nil, fmt.Errorf("%w: event %s", ErrOrphaned, entry.EventID)
	}
	if err != nil {
		return nil, err
	}

	target := svc.fwd.ResolveTarget(targetURL, entry.TargetURL)
	if target == "" {
		return nil, forward.ErrNoTarget
	}
	return svc.replay(ctx, evt, target, entry)
}

// ReplayEvent replays an event by ID through the same guard, targeting
// targetURL or the global default.
func (svc *Service) ReplayEvent(ctx context.Context, evtID id.ID, targetURL string) (*ReplayResult, error) {
	evt, err := svc.events.GetEvent(ctx, evtID)
	if err != nil {
		return nil, err
	}
	target := svc.fwd.ResolveTarget(targetURL)
	if target == "" {
		return nil, forward.ErrNoTarget
	}

	entry, err := svc.store.GetDLQByEvent(ctx, evtID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return svc.replay(ctx, evt, target, entry)
}

// ReplayBatch replays each id in order and never fails as a whole. Repeated
// ids after the first occurrence are not attempted again. They are reported
// as failed with ReasonDuplicate, unless the first occurrence already failed,
// in which case its reason is kept and the duplicate is noted instead.
func (svc *Service) ReplayBatch(ctx context.Context, ids []string, targetURL string) *BatchResult {
	res := &BatchResult{
		SuccessIDs: []string{},
		Failed:     map[string]string{},
		Notes:      map[string]string{},
	}

	seen := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		key := strings.TrimSpace(raw)
		if _, dup := seen[key]; dup {
			if _, failed := res.Failed[key]; failed {
				res.Notes[key] = appendNote(res.Notes[key], ReasonDuplicate)
			} else {
				res.Failed[key] = ReasonDuplicate
			}
			continue
		}
		seen[key] = struct{}{}

		dlqID, err := id.ParseDLQID(key)
		if err != nil {
			res.Failed[key] = ReasonInvalidID
			continue
		}

		r, err := svc.ReplaySingle(ctx, dlqID, targetURL)
		switch {
		case err != nil:
			res.Failed[key] = failureReason(err)
		case r.Success:
			res.SuccessIDs = append(res.SuccessIDs, key)
		default:
			res.Failed[key] = r.Message
		}
		if r != nil && r.Notes != "" {
			res.Notes[key] = r.Notes
		}
	}

	svc.logger.InfoContext(ctx, "dlq batch replay finished",
		"requested", len(ids), "succeeded", len(res.SuccessIDs), "failed", len(res.Failed))
	return res
}

func (svc *Service) replay(ctx context.Context, evt *event.Event, target string, entry *Entry) (*ReplayResult, error) {
	ctx, span := svc.config.Tracer.StartReplaySpan(ctx, evt.ID.String(), target)
	defer span.End()

	res := &ReplayResult{EventID: evt.ID, TargetURL: target}

	decision, err := svc.guard.Check(ctx, evt.ID, target)
	if err != nil {
		return nil, err
	}
	res.LastAttemptAt = decision.LastAttemptAt
	res.LastSuccessAt = decision.LastSuccessAt

	switch decision.Verdict {
	case guard.SkipSucceeded:
		if entry != nil {
			if err := svc.store.DeleteDLQ(ctx, entry.ID); err != nil && !errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("dlq: delete recovered entry: %w", err)
			}
		}
		svc.config.Metrics.RecordReplaySkip(decision.Verdict.String())
		res.Success = true
		res.Outcome = OutcomeSkippedSuccess
		res.Message = "Event was delivered recently; replay skipped"
		res.Notes = decision.Note
		return res, nil

	case guard.CoolingDown:
		svc.config.Metrics.RecordReplaySkip(decision.Verdict.String())
		retry := decision.RetryAfter
		res.Outcome = OutcomeCooldown
		res.Message = fmt.Sprintf("Replay cooldown active, retry after %ds", retry)
		res.RetryAfter = &retry
		res.Notes = decision.Note
		return res, nil
	}

	ok, err := svc.fwd.Deliver(ctx, evt, target)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	res.LastAttemptAt = &now
	if ok {
		res.Success = true
		res.Outcome = OutcomeDelivered
		res.Message = "Event replayed successfully"
		res.LastSuccessAt = &now
	} else {
		res.Outcome = OutcomeFailed
		res.Message = "Replay failed"
	}

	svc.logger.InfoContext(ctx, "event replayed",
		"event_id", evt.ID, "target_url", target, "success", ok)
	return res, nil
}

func appendNote(note, extra string) string {
	switch {
	case note == "":
		return extra
	case strings.Contains(note, extra):
		return note
	}
	return note + "; " + extra
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "DLQ entry not found"
	case errors.Is(err, ErrOrphaned):
		return "Event not found; entry removed"
	case errors.Is(err, forward.ErrNoTarget):
		return "No target URL configured"
	default:
		return err.Error()
	}
}
