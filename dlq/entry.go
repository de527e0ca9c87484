// Package dlq tracks events whose most recent delivery failed and replays
// them through the replay guard.
package dlq

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xraph/relayhub/event"
	"github.com/xraph/relayhub/id"
	"github.com/xraph/relayhub/internal/entity"
)

// ErrNotFound is returned when a dead-letter entry cannot be found.
var ErrNotFound = errors.New("relayhub: dlq entry not found")

// ErrOrphaned is returned by a replay whose parent event no longer exists.
// The orphaned entry has been removed when it is returned.
var ErrOrphaned = errors.New("relayhub: dlq entry references a deleted event")

// Entry is the live dead-letter record for one event. There is at most one
// per event.
type Entry struct {
	entity.Entity

	ID        id.ID  `json:"id"`
	EventID   id.ID  `json:"event_id"`
	TargetURL string `json:"target_url"`

	// Reason is a short failure classification.
	Reason string `json:"reason"`

	// LastError is the full message of the latest failure.
	LastError string `json:"last_error"`

	// RetryCount counts failed attempts since the entry was created.
	RetryCount int `json:"retry_count"`
}

// ListOpts configures filtering and pagination for DLQ listing.
type ListOpts struct {
	Source    string
	EventType string

	// Search matches case-insensitively against reason, last error and the
	// parent event's source, event type and payload.
	Search string

	// MinRetry keeps entries with retry_count >= MinRetry.
	MinRetry int

	// MaxRetry keeps entries with retry_count < MaxRetry. Zero disables it.
	MaxRetry int

	// Page is 1-based.
	Page     int
	PageSize int
}

// Normalize clamps paging to valid bounds.
func (o ListOpts) Normalize() ListOpts {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize <= 0 {
		o.PageSize = event.DefaultPageSize
	}
	if o.PageSize > event.MaxPageSize {
		o.PageSize = event.MaxPageSize
	}
	o.Search = strings.TrimSpace(o.Search)
	return o
}

// Offset returns the row offset of the first item on the page.
func (o ListOpts) Offset() int {
	return (o.Page - 1) * o.PageSize
}

// Row pairs an entry with its parent event. Event is nil when the parent no
// longer exists.
type Row struct {
	Entry *Entry
	Event *event.Event
}

// Page is one page of rows plus the total number of matches, newest first.
type Page struct {
	Total int64
	Rows  []Row
}

// UnknownSource is shown in place of a missing parent event's fields.
const UnknownSource = "unknown"

// PreviewLength bounds Item.PayloadPreview.
const PreviewLength = 200

// Item is the listing view of an entry with its parent event denormalized.
type Item struct {
	ID         id.ID     `json:"id"`
	EventID    id.ID     `json:"event_id"`
	TargetURL  string    `json:"target_url"`
	Reason     string    `json:"reason"`
	LastError  string    `json:"last_error"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Source         string `json:"source"`
	EventType      string `json:"event_type"`
	PayloadPreview string `json:"payload_preview"`
	EventMissing   bool   `json:"event_missing,omitempty"`
}

// Item builds the listing view, degrading to "unknown" when the parent event
// is gone.
func (r Row) Item() Item {
	it := Item{
		ID:         r.Entry.ID,
		EventID:    r.Entry.EventID,
		TargetURL:  r.Entry.TargetURL,
		Reason:     r.Entry.Reason,
		LastError:  r.Entry.LastError,
		RetryCount: r.Entry.RetryCount,
		CreatedAt:  r.Entry.CreatedAt,
		UpdatedAt:  r.Entry.UpdatedAt,
	}
	if r.Event == nil {
		it.Source = UnknownSource
		it.EventType = UnknownSource
		it.EventMissing = true
		return it
	}
	it.Source = r.Event.Source
	it.EventType = r.Event.EventType
	it.PayloadPreview = preview(r.Event.RawPayload)
	return it
}

func preview(payload []byte) string {
	if len(payload) <= PreviewLength {
		return strings.ToValidUTF8(string(payload), "")
	}
	cut := payload[:PreviewLength]
	for len(cut) > 0 && !utf8.Valid(cut) {
		cut = cut[:len(cut)-1]
	}
	return string(cut) + "..."
}

// ListResult is a page of listing items.
type ListResult struct {
	Total    int64  `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Items    []Item `json:"items"`
}
