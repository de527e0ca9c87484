package relayhub

import "time"

// Config holds the configuration for a Hub instance.
type Config struct {
	// AppName is sent downstream as X-Forwarded-From.
	AppName string

	// ForwardEnabled turns on delivery of every ingested event to ForwardURL.
	ForwardEnabled bool

	// ForwardURL is the global default target for ingest and replay.
	ForwardURL string

	// ForwardTimeout bounds each HTTP delivery attempt.
	ForwardTimeout time.Duration

	// ReplayCooldown blocks a replay this soon after any attempt for the
	// same event and target. Zero disables it.
	ReplayCooldown time.Duration

	// ReplaySuccessTTL skips a replay this soon after a successful delivery
	// to the same target. Zero disables it.
	ReplaySuccessTTL time.Duration

	// FallbackSecrets maps source to a secret used only when the source has
	// no signature template row.
	FallbackSecrets map[string]string

	// AsyncForward moves ingest-time delivery onto the dispatcher pool.
	AsyncForward bool

	// Concurrency is the number of dispatcher workers.
	Concurrency int

	// QueueSize bounds the dispatcher queue.
	QueueSize int

	// RetentionDays is how long events are kept. Zero keeps them forever.
	RetentionDays int

	// JanitorInterval is how often expired events are purged.
	JanitorInterval time.Duration

	// SweepInterval is how often the DLQ is replayed automatically. Zero
	// disables the sweeper.
	SweepInterval time.Duration

	// SweepBatchSize is the maximum number of entries replayed per sweep.
	SweepBatchSize int

	// SweepMaxRetries leaves entries that have failed this often to an
	// operator.
	SweepMaxRetries int

	// ShutdownTimeout is the maximum time to wait for queued deliveries on
	// shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		AppName:          "Event Relay Hub",
		ForwardTimeout:   10 * time.Second,
		ReplayCooldown:   30 * time.Second,
		ReplaySuccessTTL: 300 * time.Second,
		FallbackSecrets:  map[string]string{},
		Concurrency:      10,
		QueueSize:        256,
		RetentionDays:    30,
		JanitorInterval:  time.Hour,
		SweepBatchSize:   50,
		SweepMaxRetries:  10,
		ShutdownTimeout:  30 * time.Second,
	}
}
