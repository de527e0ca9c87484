// Package event defines the inbound webhook record and its persistence
// contract.
package event

import (
	"errors"
	"time"

	"github.com/xraph/relayhub/id"
	"github.com/xraph/relayhub/internal/entity"
)

// ErrNotFound is returned when an event cannot be found.
var ErrNotFound = errors.New("relayhub: event not found")

// Event is one received webhook. Every field except Forwarded is fixed at
// creation.
type Event struct {
	entity.Entity

	ID id.ID `json:"id"`

	// Source names the sender (github, stripe, custom, ...).
	Source string `json:"source"`

	// EventType is the sender-specific type, or "unknown".
	EventType string `json:"event_type"`

	// RawPayload is the request body exactly as received.
	RawPayload []byte `json:"-"`

	// RawHeaders holds the request headers, one value per name.
	RawHeaders map[string]string `json:"raw_headers"`

	SignatureValid bool `json:"signature_valid"`

	// Forwarded reflects the outcome of the most recent delivery attempt.
	Forwarded bool `json:"forwarded"`
}

// New returns an event with a fresh ID and timestamps.
func New(source, eventType string, payload []byte, headers map[string]string, signatureValid bool) *Event {
	return &Event{
		Entity:         entity.New(),
		ID:             id.NewEventID(),
		Source:         source,
		EventType:      eventType,
		RawPayload:     payload,
		RawHeaders:     headers,
		SignatureValid: signatureValid,
	}
}

// Before reports whether e sorts before other in listing order: newest
// first, ties broken by descending ID.
func (e *Event) Before(other *Event) bool {
	if !e.CreatedAt.Equal(other.CreatedAt) {
		return e.CreatedAt.After(other.CreatedAt)
	}
	return other.ID.Less(e.ID)
}

// Default and maximum page sizes for listings.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// ListOpts configures filtering and pagination for event listing.
type ListOpts struct {
	Source         string
	EventType      string
	SignatureValid *bool
	From           *time.Time
	To             *time.Time

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
		o.PageSize = DefaultPageSize
	}
	if o.PageSize > MaxPageSize {
		o.PageSize = MaxPageSize
	}
	return o
}

// Offset returns the row offset of the first item on the page.
func (o ListOpts) Offset() int {
	return (o.Page - 1) * o.PageSize
}

// Matches reports whether e passes every filter in o.
func (o ListOpts) Matches(e *Event) bool {
	if o.Source != "" && e.Source != o.Source {
		return false
	}
	if o.EventType != "" && e.EventType != o.EventType {
		return false
	}
	if o.SignatureValid != nil && e.SignatureValid != *o.SignatureValid {
		return false
	}
	if o.From != nil && e.CreatedAt.Before(*o.From) {
		return false
	}
	if o.To != nil && e.CreatedAt.After(*o.To) {
		return false
	}
	return true
}

// Page is one page of events plus the total number of matches.
type Page struct {
	Total int64    `json:"total"`
	Items []*Event `json:"items"`
}

// TopEventTypes bounds the ByEventType breakdown in Stats.
const TopEventTypes = 10

// Stats aggregates counts over all stored events.
type Stats struct {
	Total          int64            `json:"total"`
	BySource       map[string]int64 `json:"by_source"`
	ByEventType    map[string]int64 `json:"by_event_type"`
	Recent         int64            `json:"recent"`
	SignatureValid int64            `json:"signature_valid"`
}
