package dlq

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweeperConfig holds automatic replay configuration.
type SweeperConfig struct {
	// Interval between sweeps. Zero disables the sweeper.
	Interval time.Duration

	// BatchSize is the maximum number of entries replayed per sweep.
	BatchSize int

	// MaxRetries excludes entries that have already failed this many times.
	// Zero means no limit.
	MaxRetries int
}

// Sweeper periodically replays dead-letter entries. Each replay goes
// through the replay guard, so entries inside their cooldown are skipped
// until a later sweep.
type Sweeper struct {
	svc    *Service
	config SweeperConfig
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper.
func NewSweeper(svc *Service, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Sweeper{svc: svc, config: cfg, logger: logger}
}

// Start begins the sweep loop. It does nothing when Interval is zero.
func (s *Sweeper) Start(ctx context.Context) {
	if s.config.Interval <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop cancels the loop and waits for an in-progress sweep to finish.
func (s *Sweeper) Stop(_ context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "dlq sweep failed", "error", err)
			}
		}
	}
}

// Sweep replays the first page of eligible entries against their stored
// targets.
func (s *Sweeper) Sweep(ctx context.Context) (*BatchResult, error) {
	result, err := s.svc.List(ctx, ListOpts{
		MaxRetry: s.config.MaxRetries,
		PageSize: s.config.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		s.svc.config.Metrics.SetDLQSize(result.Total)
		return &BatchResult{SuccessIDs: []string{}, Failed: map[string]string{}, Notes: map[string]string{}}, nil
	}

	ids := make([]string, 0, len(result.Items))
	for _, it := range result.Items {
		ids = append(ids, it.ID.String())
	}
	batch := s.svc.ReplayBatch(ctx, ids, "")

	if _, err := s.svc.Count(ctx); err != nil {
		s.logger.WarnContext(ctx, "dlq count after sweep failed", "error", err)
	}
	s.logger.DebugContext(ctx, "dlq sweep",
		"candidates", len(ids), "recovered", len(batch.SuccessIDs), "still_failing", len(batch.Failed))
	return batch, nil
}
