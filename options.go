package relayhub

import (
	"log/slog"
	"time"

	"github.com/xraph/relayhub/observability"
	"github.com/xraph/relayhub/store"
)

// Option configures a Hub instance.
type Option func(*Hub) error

// WithStore sets the persistence backend for the Hub.
func WithStore(s store.Store) Option {
	return func(h *Hub) error {
		h.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Hub.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) error {
		h.logger = logger
		return nil
	}
}

// WithConfig replaces the whole configuration. Options applied after it
// still take effect.
func WithConfig(cfg Config) Option {
	return func(h *Hub) error {
		h.config = cfg
		return nil
	}
}

// WithMetrics enables Prometheus instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Hub) error {
		h.metrics = m
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer wrapper.
func WithTracer(t *observability.Tracer) Option {
	return func(h *Hub) error {
		h.tracer = t
		return nil
	}
}

// WithForwardURL enables ingest-time forwarding to url and makes it the
// default replay target.
func WithForwardURL(url string) Option {
	return func(h *Hub) error {
		h.config.ForwardURL = url
		h.config.ForwardEnabled = url != ""
		return nil
	}
}

// WithForwardEnabled toggles forwarding at ingest. The forward URL stays the
// default replay target either way.
func WithForwardEnabled(enabled bool) Option {
	return func(h *Hub) error {
		h.config.ForwardEnabled = enabled
		return nil
	}
}

// WithAppName sets the name sent in the X-Forwarded-From header.
func WithAppName(name string) Option {
	return func(h *Hub) error {
		if name != "" {
			h.config.AppName = name
		}
		return nil
	}
}

// WithForwardTimeout sets the HTTP timeout per delivery attempt.
func WithForwardTimeout(d time.Duration) Option {
	return func(h *Hub) error {
		h.config.ForwardTimeout = d
		return nil
	}
}

// WithAsyncForward delivers ingested events on the dispatcher pool.
func WithAsyncForward(enabled bool) Option {
	return func(h *Hub) error {
		h.config.AsyncForward = enabled
		return nil
	}
}

// WithReplayWindows sets the replay cooldown and success windows.
func WithReplayWindows(cooldown, successTTL time.Duration) Option {
	return func(h *Hub) error {
		h.config.ReplayCooldown = cooldown
		h.config.ReplaySuccessTTL = successTTL
		return nil
	}
}

// WithFallbackSecret sets the secret used for source when it has no
// signature template row.
func WithFallbackSecret(source, secret string) Option {
	return func(h *Hub) error {
		if h.config.FallbackSecrets == nil {
			h.config.FallbackSecrets = map[string]string{}
		}
		h.config.FallbackSecrets[source] = secret
		return nil
	}
}

// WithConcurrency sets the number of dispatcher workers.
func WithConcurrency(n int) Option {
	return func(h *Hub) error {
		h.config.Concurrency = n
		return nil
	}
}

// WithQueueSize sets the dispatcher queue capacity.
func WithQueueSize(n int) Option {
	return func(h *Hub) error {
		h.config.QueueSize = n
		return nil
	}
}

// WithRetention sets how long events are kept and how often they are purged.
func WithRetention(days int, interval time.Duration) Option {
	return func(h *Hub) error {
		h.config.RetentionDays = days
		h.config.JanitorInterval = interval
		return nil
	}
}

// WithSweeper enables automatic DLQ replay.
func WithSweeper(interval time.Duration, batchSize, maxRetries int) Option {
	return func(h *Hub) error {
		h.config.SweepInterval = interval
		h.config.SweepBatchSize = batchSize
		h.config.SweepMaxRetries = maxRetries
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for queued deliveries on
// shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(h *Hub) error {
		h.config.ShutdownTimeout = d
		return nil
	}
}
