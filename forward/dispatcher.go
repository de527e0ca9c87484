package forward

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/xraph/relayhub/event"
)

// Dispatcher errors.
var (
	ErrQueueFull         = errors.New("relayhub: forward queue is full")
	ErrDispatcherStopped = errors.New("relayhub: forward dispatcher is not running")
)

// Deliverer is the part of Forwarder the dispatcher drives.
type Deliverer interface {
	Deliver(ctx context.Context, evt *event.Event, targetURL string) (bool, error)
}

// DispatcherConfig holds dispatcher configuration.
type DispatcherConfig struct {
	// Concurrency is the number of delivery workers.
	Concurrency int

	// QueueSize bounds pending jobs. Submit fails fast when it is full.
	QueueSize int
}

type job struct {
	evt    *event.Event
	target string
}

// Dispatcher is a bounded worker pool that delivers events off the request
// path.
type Dispatcher struct {
	fwd    Deliverer
	config DispatcherConfig
	logger *slog.Logger

	mu      sync.RWMutex
	jobs    chan job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher creates a stopped dispatcher.
func NewDispatcher(fwd Deliverer, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Concurrency
	}
	return &Dispatcher{fwd: fwd, config: cfg, logger: logger}
}

// Start launches the workers. Calling Start on a running dispatcher is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.jobs = make(chan job, d.config.QueueSize)
	d.running = true

	for range d.config.Concurrency {
		d.wg.Add(1)
		go func(jobs <-chan job) {
			defer d.wg.Done()
			for j := range jobs {
				d.process(ctx, j)
			}
		}(d.jobs)
	}
}

// Stop stops intake, lets queued jobs drain and waits for the workers. If ctx
// expires first, in-flight deliveries are cancelled.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.jobs)
	cancel := d.cancel
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.logger.WarnContext(ctx, "forward dispatcher shutdown timed out, cancelling in-flight deliveries")
		cancel()
		<-done
	}
	cancel()
}

// Submit queues evt for delivery to targetURL without blocking.
func (d *Dispatcher) Submit(evt *event.Event, targetURL string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return ErrDispatcherStopped
	}
	select {
	case d.jobs <- job{evt: evt, target: targetURL}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) process(ctx context.Context, j job) {
	if _, err := d.fwd.Deliver(ctx, j.evt, j.target); err != nil {
		d.logger.ErrorContext(ctx, "queued delivery failed",
			"event_id", j.evt.ID, "target_url", j.target, "error", err)
	}
}
