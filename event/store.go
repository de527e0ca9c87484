package event

import (
	"context"
	"time"

	"github.com/xraph/relayhub/id"
)

// Store defines the persistence contract for inbound events.
type Store interface {
	// AppendEvent persists a new event. Must be durable before returning.
	AppendEvent(ctx context.Context, evt *Event) error

	// GetEvent returns an event by ID, or ErrNotFound.
	GetEvent(ctx context.Context, evtID id.ID) (*Event, error)

	// ListEvents returns one page of matching events, newest first.
	ListEvents(ctx context.Context, opts ListOpts) (*Page, error)

	// MarkForwarded sets the forwarded flag.
	MarkForwarded(ctx context.Context, evtID id.ID, forwarded bool) error

	// DeleteEvent removes an event together with its forward logs and
	// dead-letter entry.
	DeleteEvent(ctx context.Context, evtID id.ID) error

	// PurgeEvents deletes, with the same cascade, every event created before
	// the cutoff and returns how many were removed.
	PurgeEvents(ctx context.Context, before time.Time) (int64, error)

	// EventStats returns aggregate counts. Recent counts events created at or
	// after since.
	EventStats(ctx context.Context, since time.Time) (*Stats, error)
}
