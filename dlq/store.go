package dlq

import (
	"context"

	"github.com/xraph/relayhub/id"
)

// Store defines the persistence contract for the dead letter queue. Entries
// are created, bumped and removed by forward.Store.RecordAttempt.
type Store interface {
	// GetDLQ returns an entry by ID, or ErrNotFound.
	GetDLQ(ctx context.Context, dlqID id.ID) (*Entry, error)

	// GetDLQByEvent returns the live entry for an event, or ErrNotFound.
	GetDLQByEvent(ctx context.Context, evtID id.ID) (*Entry, error)

	// ListDLQ returns one page of entries joined with their parent events.
	ListDLQ(ctx context.Context, opts ListOpts) (*Page, error)

	// DeleteDLQ removes an entry, or returns ErrNotFound.
	DeleteDLQ(ctx context.Context, dlqID id.ID) error

	// ClearDLQ removes every entry and returns how many were removed.
	ClearDLQ(ctx context.Context) (int64, error)

	// CountDLQ returns the number of live entries.
	CountDLQ(ctx context.Context) (int64, error)
}
