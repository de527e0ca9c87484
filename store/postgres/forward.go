package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xraph/relayhub/event"
	"github.com/xraph/relayhub/forward"
	"github.com/xraph/relayhub/id"
)

const logColumns = `id, event_id, target_url, status_code, success, error_message, reason, created_at`

// RecordAttempt appends the log, updates the forwarded flag and applies the
// DLQ change in a single transaction.
func (s *Store) RecordAttempt(ctx context.Context, log *forward.Log) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE webhook_events SET forwarded = $1, updated_at = $2 WHERE id = $3`,
			log.Success, log.CreatedAt, log.EventID)
		if err != nil {
			return fmt.Errorf("relayhub/postgres: mark forwarded: %w", err)
		}
		if err := requireAffected(res, event.ErrNotFound); err != nil {
			return err
		}

		var status sql.NullInt64
		if log.StatusCode != nil {
			status = sql.NullInt64{Int64: int64(*log.StatusCode), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO forward_logs (`+logColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			log.ID, log.EventID, log.TargetURL, status, log.Success, log.ErrorMessage, log.Reason, log.CreatedAt); err != nil {
			return fmt.Errorf("relayhub/postgres: insert forward log: %w", err)
		}

		if log.Success {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM dead_letter_events WHERE event_id = $1`, log.EventID); err != nil {
				return fmt.Errorf("relayhub/postgres: clear dlq entry: %w", err)
			}
			return nil
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO dead_letter_events
	(id, event_id, target_url, reason, last_error, retry_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
ON CONFLICT (event_id) DO UPDATE SET
	target_url  = EXCLUDED.target_url,
	reason      = EXCLUDED.reason,
	last_error  = EXCLUDED.last_error,
	retry_count = dead_letter_events.retry_count + 1,
	updated_at  = EXCLUDED.updated_at`,
			id.NewDLQID(), log.EventID, log.TargetURL, log.Reason, log.ErrorMessage, log.CreatedAt); err != nil {
			return fmt.Errorf("relayhub/postgres: upsert dlq entry: %w", err)
		}
		return nil
	})
}

// LatestAttempt returns the most recent log for the pair, or nil.
func (s *Store) LatestAttempt(ctx context.Context, evtID id.ID, targetURL string) (*forward.Log, error) {
	return s.latestLog(ctx, `SELECT `+logColumns+` FROM forward_logs
WHERE event_id = $1 AND target_url = $2
ORDER BY created_at DESC, id DESC LIMIT 1`, evtID, targetURL)
}

// LatestSuccess returns the most recent successful log for the pair, or nil.
func (s *Store) LatestSuccess(ctx context.Context, evtID id.ID, targetURL string) (*forward.Log, error) {
	return s.latestLog(ctx, `SELECT `+logColumns+` FROM forward_logs
WHERE event_id = $1 AND target_url = $2 AND success
ORDER BY created_at DESC, id DESC LIMIT 1`, evtID, targetURL)
}

func (s *Store) latestLog(ctx context.Context, query string, args ...any) (*forward.Log, error) {
	l, err := scanLog(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // no history is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("relayhub/postgres: latest forward log: %w", err)
	}
	return l, nil
}

// ListLogs returns every log for an event, newest first.
func (s *Store) ListLogs(ctx context.Context, evtID id.ID) ([]*forward.Log, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+logColumns+` FROM forward_logs
WHERE event_id = $1 ORDER BY created_at DESC, id DESC`, evtID)
	if err != nil {
		return nil, fmt.Errorf("relayhub/postgres: list forward logs: %w", err)
	}
	defer rows.Close()

	var out []*forward.Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("relayhub/postgres: scan forward log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLog(sc scanner) (*forward.Log, error) {
	var (
		l      forward.Log
		status sql.NullInt64
	)
	if err := sc.Scan(&l.ID, &l.EventID, &l.TargetURL, &status, &l.Success,
		&l.ErrorMessage, &l.Reason, &l.CreatedAt); err != nil {
		return nil, err
	}
	if status.Valid {
		code := int(status.Int64)
		l.StatusCode = &code
	}
	return &l, nil
}
