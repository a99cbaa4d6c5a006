package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/erauner12/daykeep/internal/model"
	"github.com/erauner12/daykeep/internal/syncx"
)

// Add inserts a new record. It fails with ErrDuplicateKey when the id
// already exists in the entity's collection.
func (s *Store) Add(ctx context.Context, rec Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO record (entity, id, updated_at_ms, synced, date_key, payload_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity, id) DO NOTHING`,
		string(rec.Entity), rec.ID, rec.UpdatedAtMs, boolInt(rec.Synced), rec.DateKey, string(rec.Payload))
	if err != nil {
		return fmt.Errorf("%w: add %s/%s: %v", ErrStorageUnavailable, rec.Entity, rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: add %s/%s: %v", ErrStorageUnavailable, rec.Entity, rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, rec.Entity, rec.ID)
	}
	return nil
}

// Get returns the record, or nil when absent.
func (s *Store) Get(ctx context.Context, entity model.EntityType, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := Record{Entity: entity, ID: id}
	var synced int
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT updated_at_ms, synced, date_key, payload_json
		FROM record WHERE entity = ? AND id = ?`,
		string(entity), id).Scan(&rec.UpdatedAtMs, &synced, &rec.DateKey, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s/%s: %v", ErrStorageUnavailable, entity, id, err)
	}
	rec.Synced = synced != 0
	rec.Payload = []byte(payload)
	return &rec, nil
}

// Update upserts a record (create-or-replace). Callers needing strict
// update semantics must Get first. The stored updated_at never regresses:
// a write carrying an older timestamp keeps the previous mark while the
// payload is still replaced.
func (s *Store) Update(ctx context.Context, rec Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO record (entity, id, updated_at_ms, synced, date_key, payload_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity, id) DO UPDATE SET
			updated_at_ms = MAX(record.updated_at_ms, excluded.updated_at_ms),
			synced        = excluded.synced,
			date_key      = excluded.date_key,
			payload_json  = excluded.payload_json`,
		string(rec.Entity), rec.ID, rec.UpdatedAtMs, boolInt(rec.Synced), rec.DateKey, string(rec.Payload))
	if err != nil {
		return fmt.Errorf("%w: update %s/%s: %v", ErrStorageUnavailable, rec.Entity, rec.ID, err)
	}
	return nil
}

// Delete removes a record. Deleting an absent id is a no-op.
func (s *Store) Delete(ctx context.Context, entity model.EntityType, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM record WHERE entity = ? AND id = ?`, string(entity), id); err != nil {
		return fmt.Errorf("%w: delete %s/%s: %v", ErrStorageUnavailable, entity, id, err)
	}
	return nil
}

// List returns every record of the entity in the store's natural key order
// (by id). Callers re-sort when a different order is semantically required.
func (s *Store) List(ctx context.Context, entity model.EntityType) ([]Record, error) {
	return s.queryRecords(ctx, `
		SELECT entity, id, updated_at_ms, synced, date_key, payload_json
		FROM record WHERE entity = ? ORDER BY id`, string(entity))
}

// ListRange returns records of a date-bearing entity whose date key lies in
// [from, to], both inclusive, ordered by date then id.
func (s *Store) ListRange(ctx context.Context, entity model.EntityType, from, to string) ([]Record, error) {
	return s.queryRecords(ctx, `
		SELECT entity, id, updated_at_ms, synced, date_key, payload_json
		FROM record WHERE entity = ? AND date_key >= ? AND date_key <= ?
		ORDER BY date_key, id`, string(entity), from, to)
}

// ListUnsynced returns records mutated locally but never acknowledged by
// the remote. This backs the engine's secondary push safety net.
func (s *Store) ListUnsynced(ctx context.Context, entity model.EntityType) ([]Record, error) {
	return s.queryRecords(ctx, `
		SELECT entity, id, updated_at_ms, synced, date_key, payload_json
		FROM record WHERE entity = ? AND synced = 0 ORDER BY id`, string(entity))
}

// MarkSynced flips the entity-level confirmation flag after a successful push.
func (s *Store) MarkSynced(ctx context.Context, entity model.EntityType, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.db.ExecContext(ctx,
		`UPDATE record SET synced = 1 WHERE entity = ? AND id = ?`,
		string(entity), id); err != nil {
		return fmt.Errorf("%w: mark synced %s/%s: %v", ErrStorageUnavailable, entity, id, err)
	}
	return nil
}

func (s *Store) queryRecords(ctx context.Context, q string, args ...any) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query records: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var entity, payload string
		var synced int
		if err := rows.Scan(&entity, &rec.ID, &rec.UpdatedAtMs, &synced, &rec.DateKey, &payload); err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", ErrStorageUnavailable, err)
		}
		rec.Entity = model.EntityType(entity)
		rec.Synced = synced != 0
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate records: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

// OverdueTasks returns incomplete tasks whose due date is strictly before
// today, sorted by due date ascending. Filtering happens here rather than
// in SQL: due date and completion live inside the payload.
func (s *Store) OverdueTasks(ctx context.Context, today string) ([]model.Task, error) {
	recs, err := s.List(ctx, model.EntityTask)
	if err != nil {
		return nil, err
	}

	var out []model.Task
	for _, rec := range recs {
		var t model.Task
		if err := json.Unmarshal(rec.Payload, &t); err != nil {
			continue
		}
		if t.DueDate != "" && t.DueDate < today && !t.Completed {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate < out[j].DueDate })
	return out, nil
}

// ExpenseSummary aggregates expenses in [from, to]: total, per-category
// totals, and a daily average normalized by the elapsed day count
// (minimum one day).
func (s *Store) ExpenseSummary(ctx context.Context, from, to string) (model.ExpenseSummary, error) {
	sum := model.ExpenseSummary{ByCategory: map[string]float64{}}

	recs, err := s.ListRange(ctx, model.EntityExpense, from, to)
	if err != nil {
		return sum, err
	}
	for _, rec := range recs {
		var e model.Expense
		if err := json.Unmarshal(rec.Payload, &e); err != nil {
			continue
		}
		sum.Total += e.Amount
		sum.Count++
		sum.ByCategory[e.Category] += e.Amount
	}

	sum.Days = elapsedDays(from, to)
	sum.DailyAverage = sum.Total / float64(sum.Days)
	return sum, nil
}

// JournalSummary aggregates journal entries in [from, to]: entry count and
// mean mood.
func (s *Store) JournalSummary(ctx context.Context, from, to string) (model.JournalSummary, error) {
	var sum model.JournalSummary

	recs, err := s.ListRange(ctx, model.EntityJournal, from, to)
	if err != nil {
		return sum, err
	}
	var moodTotal float64
	for _, rec := range recs {
		var j model.JournalEntry
		if err := json.Unmarshal(rec.Payload, &j); err != nil {
			continue
		}
		sum.Count++
		moodTotal += j.Mood
	}
	if sum.Count > 0 {
		sum.MoodAverage = moodTotal / float64(sum.Count)
	}
	return sum, nil
}

// elapsedDays counts calendar days in [from, to] inclusive, minimum 1.
func elapsedDays(from, to string) int {
	f, errF := time.Parse(syncx.DayFormat, from)
	t, errT := time.Parse(syncx.DayFormat, to)
	if errF != nil || errT != nil {
		return 1
	}
	days := int(t.Sub(f).Hours()/24) + 1
	if days < 1 {
		return 1
	}
	return days
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
