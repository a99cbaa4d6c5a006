package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erauner12/daykeep/internal/model"
	"github.com/erauner12/daykeep/internal/syncx"
)

// The sync queue is an append-only log of outbound mutations awaiting
// transmission. The queue itself is passive storage — the sync engine owns
// the retry policy and drives the status transitions.

// Enqueue appends a pending entry and returns its auto-assigned id.
// Enqueueing always succeeds locally regardless of connectivity.
func (s *Store) Enqueue(ctx context.Context, typ model.QueueType, payload []byte) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (type, payload_json, status, attempts, created_at_ms)
		VALUES (?, ?, ?, 0, ?)`,
		string(typ), string(payload), model.StatusPending, syncx.NowMs())
	if err != nil {
		return 0, fmt.Errorf("%w: enqueue %s: %v", ErrStorageUnavailable, typ, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: enqueue %s: %v", ErrStorageUnavailable, typ, err)
	}
	return id, nil
}

// ListPending returns pending entries in enqueue order, optionally
// filtered by type (empty means all types).
func (s *Store) ListPending(ctx context.Context, typ model.QueueType) ([]model.QueueEntry, error) {
	q := `SELECT id, type, payload_json, status, attempts, created_at_ms, completed_at_ms
	      FROM sync_queue WHERE status = ? ORDER BY id`
	args := []any{model.StatusPending}
	if typ != "" {
		q = `SELECT id, type, payload_json, status, attempts, created_at_ms, completed_at_ms
		     FROM sync_queue WHERE status = ? AND type = ? ORDER BY id`
		args = append(args, string(typ))
	}
	return s.queryQueue(ctx, q, args...)
}

// ListFailed returns terminally failed entries awaiting manual resolution.
func (s *Store) ListFailed(ctx context.Context) ([]model.QueueEntry, error) {
	return s.queryQueue(ctx, `
		SELECT id, type, payload_json, status, attempts, created_at_ms, completed_at_ms
		FROM sync_queue WHERE status = ? ORDER BY id`, model.StatusFailed)
}

// MarkComplete transitions an entry to completed and stamps the time.
func (s *Store) MarkComplete(ctx context.Context, id int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, completed_at_ms = ? WHERE id = ?`,
		model.StatusCompleted, syncx.NowMs(), id); err != nil {
		return fmt.Errorf("%w: mark complete %d: %v", ErrStorageUnavailable, id, err)
	}
	return nil
}

// IncrementAttempts bumps the attempt counter and returns the new value.
func (s *Store) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET attempts = attempts + 1 WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("%w: increment attempts %d: %v", ErrStorageUnavailable, id, err)
	}
	var attempts int
	if err := s.db.QueryRowContext(ctx,
		`SELECT attempts FROM sync_queue WHERE id = ?`, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("%w: read attempts %d: %v", ErrStorageUnavailable, id, err)
	}
	return attempts, nil
}

// MarkFailed transitions an entry to the terminal failed status. Failed
// entries are retained for visibility until externally cleared.
func (s *Store) MarkFailed(ctx context.Context, id int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ? WHERE id = ?`, model.StatusFailed, id); err != nil {
		return fmt.Errorf("%w: mark failed %d: %v", ErrStorageUnavailable, id, err)
	}
	return nil
}

// PurgeCompleted removes completed entries older than the retention window.
// Failed entries are never purged here.
func (s *Store) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_queue
		WHERE status = ? AND completed_at_ms IS NOT NULL AND completed_at_ms < ?`,
		model.StatusCompleted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: purge completed: %v", ErrStorageUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClearFailed removes all terminally failed entries (manual resolution).
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE status = ?`, model.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("%w: clear failed: %v", ErrStorageUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// QueueCounts returns entry counts per status for the status surface.
func (s *Store) QueueCounts(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("%w: queue counts: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("%w: queue counts: %v", ErrStorageUnavailable, err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (s *Store) queryQueue(ctx context.Context, q string, args ...any) ([]model.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query queue: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []model.QueueEntry
	for rows.Next() {
		var e model.QueueEntry
		var typ, payload string
		var createdMs int64
		var completedMs sql.NullInt64
		if err := rows.Scan(&e.ID, &typ, &payload, &e.Status, &e.Attempts, &createdMs, &completedMs); err != nil {
			return nil, fmt.Errorf("%w: scan queue entry: %v", ErrStorageUnavailable, err)
		}
		e.Type = model.QueueType(typ)
		e.Payload = []byte(payload)
		e.CreatedAt = syncx.RFC3339(createdMs)
		if completedMs.Valid {
			e.CompletedAt = syncx.RFC3339(completedMs.Int64)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
