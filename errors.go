package relayhub

import (
	"errors"

	"github.com/xraph/relayhub/dlq"
	"github.com/xraph/relayhub/event"
	"github.com/xraph/relayhub/forward"
	"github.com/xraph/relayhub/store"
	"github.com/xraph/relayhub/template"
)

// Sentinel errors returned by Hub operations. Errors owned by a subsystem are
// re-exported here so callers only need to import the root package.
var (
	// ErrNoStore is returned when a Hub is created without a store.
	ErrNoStore = errors.New("relayhub: store is required")

	// ErrUnauthorized is returned when a signature is required and is missing or invalid.
	ErrUnauthorized = errors.New("relayhub: invalid or missing signature")

	// ErrBadPayload is returned when a webhook body is not valid JSON.
	ErrBadPayload = errors.New("relayhub: payload is not valid JSON")

	// ErrUnknownSource is returned when ingesting for a source that has no
	// template and no built-in verification scheme.
	ErrUnknownSource = errors.New("relayhub: unknown source")

	ErrStoreClosed      = store.ErrClosed
	ErrMigrationFailed  = store.ErrMigrationFailed
	ErrEventNotFound    = event.ErrNotFound
	ErrDLQNotFound      = dlq.ErrNotFound
	ErrDLQOrphaned      = dlq.ErrOrphaned
	ErrNoTarget         = forward.ErrNoTarget
	ErrTemplateNotFound = template.ErrNotFound
	ErrTemplateExists   = template.ErrExists
	ErrTemplateNotReady = template.ErrNotReady
	ErrInvalidHeader    = template.ErrInvalidHeader
	ErrInvalidSource    = template.ErrInvalidSource
)
