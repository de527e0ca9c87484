package relayhub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/xraph/relayhub/dlq"
	"github.com/xraph/relayhub/event"
	"github.com/xraph/relayhub/forward"
	"github.com/xraph/relayhub/guard"
	"github.com/xraph/relayhub/id"
	"github.com/xraph/relayhub/observability"
	"github.com/xraph/relayhub/store"
	"github.com/xraph/relayhub/template"
)

// Hub is the webhook relay: it verifies, stores and forwards inbound events
// and manages the dead letter queue of failed deliveries.
type Hub struct {
	config  Config
	store   store.Store
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	templates  *template.Service
	forwarder  *forward.Forwarder
	guard      *guard.Guard
	dlqSvc     *dlq.Service
	dispatcher *forward.Dispatcher
	sweeper    *dlq.Sweeper

	janitorCancel context.CancelFunc
	janitorWG     sync.WaitGroup
}

// New creates a new Hub with the given options.
func New(opts ...Option) (*Hub, error) {
	h := &Hub{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	if h.store == nil {
		return nil, ErrNoStore
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.tracer == nil {
		h.tracer = observability.NewTracer()
	}
	h.wireServices()
	return h, nil
}

// wireServices initializes the internal services after options have been applied.
func (h *Hub) wireServices() {
	h.templates = template.NewService(h.store, h.logger)

	h.forwarder = forward.New(h.store, h.store, forward.Config{
		Timeout:       h.config.ForwardTimeout,
		AppName:       h.config.AppName,
		DefaultTarget: h.config.ForwardURL,
		Metrics:       h.metrics,
		Tracer:        h.tracer,
	}, h.logger)

	h.guard = guard.New(h.store, h.config.ReplayCooldown, h.config.ReplaySuccessTTL)

	h.dlqSvc = dlq.NewService(h.store, h.store, h.forwarder, h.guard, dlq.Config{
		Metrics: h.metrics,
		Tracer:  h.tracer,
	}, h.logger)

	h.dispatcher = forward.NewDispatcher(h.forwarder, forward.DispatcherConfig{
		Concurrency: h.config.Concurrency,
		QueueSize:   h.config.QueueSize,
	}, h.logger)

	h.sweeper = dlq.NewSweeper(h.dlqSvc, dlq.SweeperConfig{
		Interval:   h.config.SweepInterval,
		BatchSize:  h.config.SweepBatchSize,
		MaxRetries: h.config.SweepMaxRetries,
	}, h.logger)
}

// Start launches the background workers: the dispatcher, the DLQ sweeper
// and the retention janitor.
func (h *Hub) Start(ctx context.Context) {
	h.warnShadowedFallbacks(ctx)
	if h.config.ForwardEnabled && h.config.ForwardURL == "" {
		h.logger.WarnContext(ctx, "forwarding enabled without a forward URL; ingested events will not be delivered")
	}

	h.dispatcher.Start(ctx)
	h.sweeper.Start(ctx)
	h.startJanitor(ctx)

	if _, err := h.dlqSvc.Count(ctx); err != nil {
		h.logger.WarnContext(ctx, "initial dlq count failed", "error", err)
	}
	h.logger.InfoContext(ctx, "relay hub started",
		"forward_enabled", h.config.ForwardEnabled,
		"async_forward", h.config.AsyncForward,
		"sweep_interval", h.config.SweepInterval,
		"retention_days", h.config.RetentionDays)
}

// Stop drains queued deliveries and stops the background workers. It waits
// at most ShutdownTimeout for the queue to drain.
func (h *Hub) Stop(ctx context.Context) {
	if h.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.ShutdownTimeout)
		defer cancel()
	}

	h.sweeper.Stop(ctx)
	if h.janitorCancel != nil {
		h.janitorCancel()
	}
	h.janitorWG.Wait()
	h.dispatcher.Stop(ctx)
	h.logger.InfoContext(ctx, "relay hub stopped")
}

// warnShadowedFallbacks logs each fallback secret that will never be used
// because its source has a template that is enabled or holds a secret.
func (h *Hub) warnShadowedFallbacks(ctx context.Context) {
	for source, secret := range h.config.FallbackSecrets {
		if secret == "" {
			continue
		}
		t, err := h.store.GetTemplate(ctx, source)
		switch {
		case err == nil:
			if t.Enabled || t.HasSecret() {
				h.logger.WarnContext(ctx, "fallback secret ignored: a configured signature template exists for this source",
					"source", source, "enabled", t.Enabled)
			}
		case !errors.Is(err, template.ErrNotFound):
			h.logger.WarnContext(ctx, "template lookup failed", "source", source, "error", err)
		}
	}
}

func (h *Hub) startJanitor(ctx context.Context) {
	if h.config.RetentionDays <= 0 || h.config.JanitorInterval <= 0 {
		return
	}
	ctx, h.janitorCancel = context.WithCancel(ctx)

	h.janitorWG.Add(1)
	go func() {
		defer h.janitorWG.Done()
		ticker := time.NewTicker(h.config.JanitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().AddDate(0, 0, -h.config.RetentionDays)
				if _, err := h.Purge(ctx, cutoff); err != nil {
					h.logger.ErrorContext(ctx, "retention purge failed", "error", err)
				}
			}
		}
	}()
}

// Replay re-delivers an event through the replay guard. The target is
// targetURL, else the configured forward URL.
func (h *Hub) Replay(ctx context.Context, evtID id.ID, targetURL string) (*dlq.ReplayResult, error) {
	return h.dlqSvc.ReplayEvent(ctx, evtID, targetURL)
}

// GetEvent returns an event by ID.
func (h *Hub) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	return h.store.GetEvent(ctx, evtID)
}

// ListEvents returns one page of events, newest first.
func (h *Hub) ListEvents(ctx context.Context, opts event.ListOpts) (*event.Page, error) {
	return h.store.ListEvents(ctx, opts)
}

// ForwardLogs returns the delivery history of an event, newest first.
func (h *Hub) ForwardLogs(ctx context.Context, evtID id.ID) ([]*forward.Log, error) {
	return h.store.ListLogs(ctx, evtID)
}

// DeleteEvent removes an event together with its forward logs and DLQ entry.
func (h *Hub) DeleteEvent(ctx context.Context, evtID id.ID) error {
	if err := h.store.DeleteEvent(ctx, evtID); err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "event deleted", "event_id", evtID)
	return nil
}

// Purge removes every event created before the cutoff, with the same cascade
// as DeleteEvent.
func (h *Hub) Purge(ctx context.Context, before time.Time) (int64, error) {
	n, err := h.store.PurgeEvents(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("relayhub: purge events: %w", err)
	}
	if n > 0 {
		h.logger.InfoContext(ctx, "events purged", "deleted", n, "before", before)
		if _, err := h.dlqSvc.Count(ctx); err != nil {
			h.logger.WarnContext(ctx, "dlq count after purge failed", "error", err)
		}
	}
	return n, nil
}

// RecentWindow is the window counted by Stats.Recent24h.
const RecentWindow = 24 * time.Hour

// Stats summarizes the stored events and the DLQ.
type Stats struct {
	Total       int64            `json:"total"`
	BySource    map[string]int64 `json:"by_source"`
	ByEventType map[string]int64 `json:"by_event_type"`
	Recent24h   int64            `json:"recent_24h"`

	// SignatureSuccessRate is the percentage of events with a verified
	// signature, rounded to two decimals.
	SignatureSuccessRate float64 `json:"signature_success_rate"`

	DLQSize int64 `json:"dlq_size"`
}

// Stats returns aggregate counts over all events.
func (h *Hub) Stats(ctx context.Context) (*Stats, error) {
	es, err := h.store.EventStats(ctx, time.Now().UTC().Add(-RecentWindow))
	if err != nil {
		return nil, fmt.Errorf("relayhub: event stats: %w", err)
	}
	dlqSize, err := h.dlqSvc.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("relayhub: dlq size: %w", err)
	}

	st := &Stats{
		Total:       es.Total,
		BySource:    es.BySource,
		ByEventType: es.ByEventType,
		Recent24h:   es.Recent,
		DLQSize:     dlqSize,
	}
	if es.Total > 0 {
		rate := float64(es.SignatureValid) / float64(es.Total) * 100
		st.SignatureSuccessRate = math.Round(rate*100) / 100
	}
	return st, nil
}

// Ping checks store connectivity.
func (h *Hub) Ping(ctx context.Context) error {
	return h.store.Ping(ctx)
}

// Templates returns the signature template service.
func (h *Hub) Templates() *template.Service {
	return h.templates
}

// DLQ returns the DLQ service.
func (h *Hub) DLQ() *dlq.Service {
	return h.dlqSvc
}

// Forwarder returns the forwarder.
func (h *Hub) Forwarder() *forward.Forwarder {
	return h.forwarder
}

// Store returns the underlying store.
func (h *Hub) Store() store.Store {
	return h.store
}

// Config returns the effective configuration.
func (h *Hub) Config() Config {
	return h.config
}
