package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/relayhub/dlq"
	"github.com/xraph/relayhub/event"
	"github.com/xraph/relayhub/id"
)

const dlqColumns = `d.id, d.event_id, d.target_url, d.reason, d.last_error, d.retry_count, d.created_at, d.updated_at`

// GetDLQ returns an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	return s.getDLQ(ctx, `SELECT `+dlqColumns+` FROM dead_letter_events d WHERE d.id = $1`, dlqID)
}

// GetDLQByEvent returns the live entry for an event.
func (s *Store) GetDLQByEvent(ctx context.Context, evtID id.ID) (*dlq.Entry, error) {
	return s.getDLQ(ctx, `SELECT `+dlqColumns+` FROM dead_letter_events d WHERE d.event_id = $1`, evtID)
}

func (s *Store) getDLQ(ctx context.Context, query string, arg any) (*dlq.Entry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dlq.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("relayhub/postgres: get dlq entry: %w", err)
	}
	return entry, nil
}

// ListDLQ returns one page of entries joined with their parent events, most
// recently updated first. Entries without a parent match the "unknown" source
// and event type.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) (*dlq.Page, error) {
	opts = opts.Normalize()

	var w filter
	if opts.Source != "" {
		w.add("COALESCE(e.source, 'unknown') = ?", opts.Source)
	}
	if opts.EventType != "" {
		w.add("COALESCE(e.event_type, 'unknown') = ?", opts.EventType)
	}
	if opts.MinRetry > 0 {
		w.add("d.retry_count >= ?", opts.MinRetry)
	}
	if opts.MaxRetry > 0 {
		w.add("d.retry_count < ?", opts.MaxRetry)
	}
	if opts.Search != "" {
		pattern := "%" + escapeLike(opts.Search) + "%"
		w.add(`(d.reason ILIKE ? OR d.last_error ILIKE ? OR COALESCE(e.source, 'unknown') ILIKE ?
	OR COALESCE(e.event_type, 'unknown') ILIKE ? OR encode(e.payload, 'escape') ILIKE ?)`,
			pattern, pattern, pattern, pattern, pattern)
	}

	from := ` FROM dead_letter_events d LEFT JOIN webhook_events e ON e.id = d.event_id`

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+from+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("relayhub/postgres: count dlq: %w", err)
	}

	query := `SELECT ` + dlqColumns + `,
	e.id, e.source, e.event_type, e.payload, e.headers, e.signature_valid, e.forwarded, e.created_at, e.updated_at` +
		from + w.clause() + ` ORDER BY d.updated_at DESC, d.id DESC` + w.page(opts.PageSize, opts.Offset())
	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("relayhub/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	out := make([]dlq.Row, 0, opts.PageSize)
	for rows.Next() {
		row, err := scanDLQRow(rows)
		if err != nil {
			return nil, fmt.Errorf("relayhub/postgres: scan dlq row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relayhub/postgres: list dlq: %w", err)
	}
	return &dlq.Page{Total: total, Rows: out}, nil
}

// DeleteDLQ removes an entry.
func (s *Store) DeleteDLQ(ctx context.Context, dlqID id.ID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_events WHERE id = $1`, dlqID)
	if err != nil {
		return fmt.Errorf("relayhub/postgres: delete dlq entry: %w", err)
	}
	return requireAffected(res, dlq.ErrNotFound)
}

// ClearDLQ removes every entry.
func (s *Store) ClearDLQ(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_events`)
	if err != nil {
		return 0, fmt.Errorf("relayhub/postgres: clear dlq: %w", err)
	}
	return res.RowsAffected()
}

// CountDLQ returns the number of live entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("relayhub/postgres: count dlq: %w", err)
	}
	return n, nil
}

func scanEntry(sc scanner) (*dlq.Entry, error) {
	var e dlq.Entry
	if err := sc.Scan(&e.ID, &e.EventID, &e.TargetURL, &e.Reason, &e.LastError,
		&e.RetryCount, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanDLQRow(sc scanner) (dlq.Row, error) {
	var (
		e         dlq.Entry
		evtID     id.ID
		source    sql.NullString
		eventType sql.NullString
		payload   []byte
		headers   []byte
		valid     sql.NullBool
		forwarded sql.NullBool
		created   sql.NullTime
		updated   sql.NullTime
	)
	if err := sc.Scan(&e.ID, &e.EventID, &e.TargetURL, &e.Reason, &e.LastError,
		&e.RetryCount, &e.CreatedAt, &e.UpdatedAt,
		&evtID, &source, &eventType, &payload, &headers, &valid, &forwarded, &created, &updated); err != nil {
		return dlq.Row{}, err
	}

	row := dlq.Row{Entry: &e}
	if evtID.IsNil() {
		return row, nil
	}
	evt := &event.Event{
		ID:             evtID,
		Source:         source.String,
		EventType:      eventType.String,
		RawPayload:     payload,
		SignatureValid: valid.Bool,
		Forwarded:      forwarded.Bool,
	}
	evt.CreatedAt = created.Time
	evt.UpdatedAt = updated.Time
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &evt.RawHeaders); err != nil {
			return dlq.Row{}, fmt.Errorf("decode headers: %w", err)
		}
	}
	row.Event = evt
	return row, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
