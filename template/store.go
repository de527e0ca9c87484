package template

import "context"

// Store defines the persistence contract for signature templates.
type Store interface {
	// InsertTemplateIfAbsent inserts t unless a row for t.Source exists. It
	// reports whether a row was inserted and must not fail on a concurrent
	// duplicate.
	InsertTemplateIfAbsent(ctx context.Context, t *Template) (bool, error)

	// GetTemplate returns the template for source, or ErrNotFound.
	GetTemplate(ctx context.Context, source string) (*Template, error)

	// ListTemplates returns all templates ordered by source.
	ListTemplates(ctx context.Context) ([]*Template, error)

	// UpdateTemplate overwrites the mutable fields of an existing template.
	UpdateTemplate(ctx context.Context, t *Template) error
}
