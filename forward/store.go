package forward

import (
	"context"

	"github.com/xraph/relayhub/id"
)

// Store defines the persistence contract for delivery attempts.
type Store interface {
	// RecordAttempt applies every side effect of one attempt as a unit:
	// append the log, set the event's forwarded flag to log.Success, then
	// delete the event's dead-letter entry on success, or upsert it on
	// failure (create with retry_count 1, or increment retry_count and
	// overwrite target, reason and last error).
	RecordAttempt(ctx context.Context, log *Log) error

	// LatestAttempt returns the most recent log for the pair, or nil.
	LatestAttempt(ctx context.Context, evtID id.ID, targetURL string) (*Log, error)

	// LatestSuccess returns the most recent successful log for the pair, or nil.
	LatestSuccess(ctx context.Context, evtID id.ID, targetURL string) (*Log, error)

	// ListLogs returns every log for an event, newest first.
	ListLogs(ctx context.Context, evtID id.ID) ([]*Log, error)
}
