// Package store defines the composite Store interface for all relayhub
// persistence.
//
// Each subsystem defines its own store interface and the aggregate Store
// composes them, so a backend implements the whole contract in one type.
package store

import (
	"context"
	"errors"

	"github.com/xraph/relayhub/dlq"
	"github.com/xraph/relayhub/event"
	"github.com/xraph/relayhub/forward"
	"github.com/xraph/relayhub/template"
)

var (
	// ErrClosed is returned when a store is used after Close.
	ErrClosed = errors.New("relayhub: store is closed")

	// ErrMigrationFailed is returned when a schema migration fails.
	ErrMigrationFailed = errors.New("relayhub: migration failed")
)

// Store is the aggregate persistence interface.
type Store interface {
	event.Store
	forward.Store
	dlq.Store
	template.Store

	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
