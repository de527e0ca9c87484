package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xraph/relayhub/template"
)

const templateColumns = `source, display_name, description, enabled, secret, signature_header, updated_at`

// InsertTemplateIfAbsent inserts t unless its source already has a row.
func (s *Store) InsertTemplateIfAbsent(ctx context.Context, t *template.Template) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO signature_templates (`+templateColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (source) DO NOTHING`,
		t.Source, t.DisplayName, t.Description, t.Enabled, t.Secret, t.SignatureHeader, t.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("relayhub/postgres: insert template: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("relayhub/postgres: rows affected: %w", err)
	}
	return n == 1, nil
}

// GetTemplate returns the template for source.
func (s *Store) GetTemplate(ctx context.Context, source string) (*template.Template, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM signature_templates WHERE source = $1`, source))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, template.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("relayhub/postgres: get template: %w", err)
	}
	return t, nil
}

// ListTemplates returns all templates ordered by source.
func (s *Store) ListTemplates(ctx context.Context) ([]*template.Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM signature_templates ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("relayhub/postgres: list templates: %w", err)
	}
	defer rows.Close()

	var out []*template.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("relayhub/postgres: scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTemplate overwrites an existing template.
func (s *Store) UpdateTemplate(ctx context.Context, t *template.Template) error {
	res, err := s.db.ExecContext(ctx, `UPDATE signature_templates SET
	display_name = $2, description = $3, enabled = $4, secret = $5, signature_header = $6, updated_at = $7
WHERE source = $1`,
		t.Source, t.DisplayName, t.Description, t.Enabled, t.Secret, t.SignatureHeader, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("relayhub/postgres: update template: %w", err)
	}
	return requireAffected(res, template.ErrNotFound)
}

func scanTemplate(sc scanner) (*template.Template, error) {
	var t template.Template
	if err := sc.Scan(&t.Source, &t.DisplayName, &t.Description, &t.Enabled,
		&t.Secret, &t.SignatureHeader, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
