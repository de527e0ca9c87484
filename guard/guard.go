// Package guard decides whether a replay of an (event, target) pair should
// proceed, using two windows over the forward log history: a success window
// that treats replays shortly after a confirmed delivery as redundant, and a
// cooldown that spaces out attempts of any outcome.
package guard

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/xraph/relayhub/forward"
	"github.com/xraph/relayhub/id"
)

// History is the read-only view of forward logs the guard consults.
type History interface {
	LatestAttempt(ctx context.Context, evtID id.ID, targetURL string) (*forward.Log, error)
	LatestSuccess(ctx context.Context, evtID id.ID, targetURL string) (*forward.Log, error)
}

// Verdict is the guard outcome.
type Verdict int

const (
	// Proceed means no window applies and a real delivery should be attempted.
	Proceed Verdict = iota

	// SkipSucceeded means a recent success makes the replay redundant. The
	// caller reports success without delivering.
	SkipSucceeded

	// CoolingDown means a recent attempt blocks this one. The caller reports
	// failure with RetryAfter.
	CoolingDown
)

func (v Verdict) String() string {
	switch v {
	case SkipSucceeded:
		return "success_ttl"
	case CoolingDown:
		return "cooldown"
	default:
		return "proceed"
	}
}

// Decision is the result of Check.
type Decision struct {
	Verdict Verdict

	// RetryAfter is the whole seconds left in the cooldown. Set only for CoolingDown.
	RetryAfter int

	LastAttemptAt *time.Time
	LastSuccessAt *time.Time

	// Note explains a skip in human-readable form.
	Note string
}

// Guard evaluates the success and cooldown windows.
type Guard struct {
	history    History
	cooldown   time.Duration
	successTTL time.Duration
	now        func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// New creates a guard. A zero window disables that check.
func New(history History, cooldown, successTTL time.Duration, opts ...Option) *Guard {
	g := &Guard{
		history:    history,
		cooldown:   cooldown,
		successTTL: successTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check evaluates the success window first, then the cooldown. It only reads
// history.
func (g *Guard) Check(ctx context.Context, evtID id.ID, targetURL string) (Decision, error) {
	var d Decision
	if g.cooldown <= 0 && g.successTTL <= 0 {
		return d, nil
	}
	now := g.now()

	if g.successTTL > 0 {
		last, err := g.history.LatestSuccess(ctx, evtID, targetURL)
		if err != nil {
			return d, fmt.Errorf("guard: latest success: %w", err)
		}
		if last != nil {
			at := last.CreatedAt
			d.LastSuccessAt = &at
			elapsed := now.Sub(at)
			if elapsed < g.successTTL {
				d.Verdict = SkipSucceeded
				d.Note = fmt.Sprintf(
					"Skipped: delivered successfully %ds ago; success window expires in %ds",
					seconds(elapsed), ceilSeconds(g.successTTL-elapsed))
				return d, nil
			}
		}
	}

	if g.cooldown > 0 {
		last, err := g.history.LatestAttempt(ctx, evtID, targetURL)
		if err != nil {
			return d, fmt.Errorf("guard: latest attempt: %w", err)
		}
		if last != nil {
			at := last.CreatedAt
			d.LastAttemptAt = &at
			elapsed := now.Sub(at)
			if elapsed < g.cooldown {
				d.Verdict = CoolingDown
				d.RetryAfter = ceilSeconds(g.cooldown - elapsed)
				d.Note = fmt.Sprintf("Cooldown active: last attempt %ds ago, retry in %ds",
					seconds(elapsed), d.RetryAfter)
				return d, nil
			}
		}
	}

	return d, nil
}

func seconds(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// ceilSeconds rounds up so a positive remainder never reports 0.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
