package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/erauner12/daykeep/internal/model"
	"github.com/erauner12/daykeep/internal/syncx"
)

// ExportBackup serializes every collection into the backup file format.
func (s *Store) ExportBackup(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exportLocked(ctx)
}

// exportLocked builds the export without touching s.mu; the repair path
// calls it while holding the write lock.
func (s *Store) exportLocked(ctx context.Context) ([]byte, error) {
	backup := model.Backup{
		Data:       map[string][]map[string]any{},
		ExportedAt: syncx.RFC3339(syncx.NowMs()),
		Version:    model.BackupVersion,
		App:        model.BackupApp,
	}

	for _, entity := range model.AllEntities {
		rows, err := s.db.QueryContext(ctx,
			`SELECT payload_json FROM record WHERE entity = ? ORDER BY id`, string(entity))
		if err != nil {
			return nil, fmt.Errorf("%w: export %s: %v", ErrStorageUnavailable, entity, err)
		}

		items := []map[string]any{}
		for rows.Next() {
			var payload string
			if err := rows.Scan(&payload); err != nil {
				rows.Close()
				return nil, fmt.Errorf("%w: export %s: %v", ErrStorageUnavailable, entity, err)
			}
			var item map[string]any
			if err := json.Unmarshal([]byte(payload), &item); err != nil {
				continue
			}
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: export %s: %v", ErrStorageUnavailable, entity, err)
		}
		rows.Close()
		backup.Data[string(entity)] = items
	}

	return json.MarshalIndent(backup, "", "  ")
}

// ImportBackup replaces every covered collection with the backup contents.
// This is a destructive full replace, not a merge. Validation happens
// before any destructive action: a malformed payload, a missing version,
// or a foreign app identifier rejects the import with ErrInvalidBackup and
// leaves the store untouched.
//
// Imported records re-enter the store unconfirmed (synced=false for
// syncable entities), so the next cycle re-pushes them; the remote's own
// last-writer-wins makes that re-push harmless.
func (s *Store) ImportBackup(ctx context.Context, data []byte) error {
	var backup model.Backup
	if err := json.Unmarshal(data, &backup); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	if backup.Version == "" {
		return fmt.Errorf("%w: missing version", ErrInvalidBackup)
	}
	if backup.Data == nil {
		return fmt.Errorf("%w: missing data", ErrInvalidBackup)
	}
	if backup.App != model.BackupApp {
		return fmt.Errorf("%w: app mismatch %q", ErrInvalidBackup, backup.App)
	}
	for key := range backup.Data {
		if _, ok := model.ParseEntityType(key); !ok {
			return fmt.Errorf("%w: unknown entity %q", ErrInvalidBackup, key)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: import begin: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	for _, entity := range model.AllEntities {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM record WHERE entity = ?`, string(entity)); err != nil {
			return fmt.Errorf("%w: import clear %s: %v", ErrStorageUnavailable, entity, err)
		}
	}

	for key, items := range backup.Data {
		entity, _ := model.ParseEntityType(key)
		synced := entity == model.EntityAnalytics
		for _, item := range items {
			env, err := syncx.Extract(item)
			if err != nil {
				return fmt.Errorf("%w: %s item: %v", ErrInvalidBackup, key, err)
			}
			payload, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("%w: %s item %s: %v", ErrInvalidBackup, key, env.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO record (entity, id, updated_at_ms, synced, date_key, payload_json)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(entity, id) DO UPDATE SET
					updated_at_ms = excluded.updated_at_ms,
					synced        = excluded.synced,
					date_key      = excluded.date_key,
					payload_json  = excluded.payload_json`,
				string(entity), env.ID, env.UpdatedAtMs, boolInt(synced), env.DateKey, string(payload)); err != nil {
				return fmt.Errorf("%w: import %s/%s: %v", ErrStorageUnavailable, entity, env.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: import commit: %v", ErrStorageUnavailable, err)
	}
	return nil
}
