package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/relayhub/event"
	"github.com/xraph/relayhub/id"
)

const eventColumns = `id, source, event_type, payload, headers, signature_valid, forwarded, created_at, updated_at`

// AppendEvent persists a new event.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	headers, err := json.Marshal(evt.RawHeaders)
	if err != nil {
		return fmt.Errorf("relayhub/postgres: encode headers: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		evt.ID, evt.Source, evt.EventType, evt.RawPayload, headers,
		evt.SignatureValid, evt.Forwarded, evt.CreatedAt, evt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("relayhub/postgres: append event: %w", err)
	}
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM webhook_events WHERE id = $1`, evtID)
	evt, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, event.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("relayhub/postgres: get event: %w", err)
	}
	return evt, nil
}

// ListEvents returns one page of matching events, newest first.
func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) (*event.Page, error) {
	opts = opts.Normalize()

	var w filter
	if opts.Source != "" {
		w.add("source = ?", opts.Source)
	}
	if opts.EventType != "" {
		w.add("event_type = ?", opts.EventType)
	}
	if opts.SignatureValid != nil {
		w.add("signature_valid = ?", *opts.SignatureValid)
	}
	if opts.From != nil {
		w.add("created_at >= ?", *opts.From)
	}
	if opts.To != nil {
		w.add("created_at <= ?", *opts.To)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webhook_events`+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("relayhub/postgres: count events: %w", err)
	}

	query := `SELECT ` + eventColumns + ` FROM webhook_events` + w.clause() +
		` ORDER BY created_at DESC, id DESC` + w.page(opts.PageSize, opts.Offset())
	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("relayhub/postgres: list events: %w", err)
	}
	defer rows.Close()

	items := make([]*event.Event, 0, opts.PageSize)
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("relayhub/postgres: scan event: %w", err)
		}
		items = append(items, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relayhub/postgres: list events: %w", err)
	}
	return &event.Page{Total: total, Items: items}, nil
}

// MarkForwarded sets the forwarded flag.
func (s *Store) MarkForwarded(ctx context.Context, evtID id.ID, forwarded bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events SET forwarded = $1, updated_at = NOW() WHERE id = $2`, forwarded, evtID)
	if err != nil {
		return fmt.Errorf("relayhub/postgres: mark forwarded: %w", err)
	}
	return requireAffected(res, event.ErrNotFound)
}

// DeleteEvent removes an event. Forward logs and the DLQ entry go with it
// through ON DELETE CASCADE.
func (s *Store) DeleteEvent(ctx context.Context, evtID id.ID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE id = $1`, evtID)
	if err != nil {
		return fmt.Errorf("relayhub/postgres: delete event: %w", err)
	}
	return requireAffected(res, event.ErrNotFound)
}

// PurgeEvents removes every event created before the cutoff.
func (s *Store) PurgeEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("relayhub/postgres: purge events: %w", err)
	}
	return res.RowsAffected()
}

// EventStats returns aggregate counts.
func (s *Store) EventStats(ctx context.Context, since time.Time) (*event.Stats, error) {
	st := &event.Stats{
		BySource:    make(map[string]int64),
		ByEventType: make(map[string]int64),
	}

	err := s.db.QueryRowContext(ctx, `SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE created_at >= $1),
	COUNT(*) FILTER (WHERE signature_valid)
FROM webhook_events`, since).Scan(&st.Total, &st.Recent, &st.SignatureValid)
	if err != nil {
		return nil, fmt.Errorf("relayhub/postgres: event totals: %w", err)
	}

	if err := s.groupCounts(ctx, st.BySource,
		`SELECT source, COUNT(*) FROM webhook_events GROUP BY source`); err != nil {
		return nil, err
	}
	if err := s.groupCounts(ctx, st.ByEventType,
		`SELECT event_type, COUNT(*) AS n FROM webhook_events WHERE event_type <> ''
GROUP BY event_type ORDER BY n DESC, event_type LIMIT $1`, event.TopEventTypes); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Store) groupCounts(ctx context.Context, into map[string]int64, query string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("relayhub/postgres: group counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("relayhub/postgres: scan group count: %w", err)
		}
		into[key] = n
	}
	return rows.Err()
}

func scanEvent(sc scanner) (*event.Event, error) {
	var (
		evt     event.Event
		headers []byte
	)
	if err := sc.Scan(&evt.ID, &evt.Source, &evt.EventType, &evt.RawPayload, &headers,
		&evt.SignatureValid, &evt.Forwarded, &evt.CreatedAt, &evt.UpdatedAt); err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &evt.RawHeaders); err != nil {
			return nil, fmt.Errorf("decode headers: %w", err)
		}
	}
	return &evt, nil
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("relayhub/postgres: rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// filter accumulates a WHERE clause with positional arguments. Conditions
// are written with ? and renumbered to $n as they are added.
type filter struct {
	conds []string
	args  []any
}

func (f *filter) add(cond string, args ...any) {
	for _, a := range args {
		f.args = append(f.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(f.args)), 1)
	}
	f.conds = append(f.conds, cond)
}

func (f *filter) clause() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

// page appends LIMIT and OFFSET as literals. Both come from normalized
// integers, never from request text.
func (f *filter) page(limit, offset int) string {
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}
