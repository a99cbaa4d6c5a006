// Package store implements the durable local cache for daykeep: every
// entity collection, the sync queue, and the sync checkpoint live in one
// embedded SQLite database. The store owns all record and queue storage
// exclusively; the sync engine reads and writes through it on every
// operation and never holds its own copy.
//
// Multi-field filtering and sorting happen in this retrieval layer, in Go,
// over the JSON payloads — the underlying engine is only trusted for the
// single-field indexes declared in the schema.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/erauner12/daykeep/internal/model"
	"github.com/erauner12/daykeep/internal/syncx"
)

var (
	// ErrDuplicateKey is returned by Add when the id already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrStorageUnavailable wraps engine-level failures that make the
	// store unusable until repaired.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidBackup is returned by ImportBackup before any destructive
	// action when the payload is malformed or belongs to another app.
	ErrInvalidBackup = errors.New("invalid backup")

	// ErrNotFound is returned by operations that require an existing record.
	ErrNotFound = errors.New("record not found")
)

// Record is the stored envelope around an entity payload. The payload is
// the full JSON document as the caller supplied it; the remaining fields
// are extracted columns the store indexes on.
type Record struct {
	Entity      model.EntityType
	ID          string
	UpdatedAtMs int64
	Synced      bool
	DateKey     string
	Payload     []byte
}

// Store wraps the SQLite connection. The RWMutex exists only for the
// repair path, which swaps the underlying connection; ordinary operations
// take the read lock and rely on SQLite's own transaction discipline for
// per-collection serialization.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// Open creates or opens the database at path and initializes the schema.
// The caller must Close the store when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrStorageUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrStorageUnavailable, err)
	}

	// Single writer; WAL keeps readers unblocked during sync cycles.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, pragma, err)
		}
	}
	return db, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS record (
		entity        TEXT NOT NULL,
		id            TEXT NOT NULL,
		updated_at_ms INTEGER NOT NULL,
		synced        INTEGER NOT NULL DEFAULT 0,
		date_key      TEXT NOT NULL DEFAULT '',
		payload_json  TEXT NOT NULL,
		PRIMARY KEY (entity, id)
	);
	CREATE INDEX IF NOT EXISTS idx_record_date   ON record(entity, date_key);
	CREATE INDEX IF NOT EXISTS idx_record_synced ON record(entity, synced);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		type            TEXT NOT NULL,
		payload_json    TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending',
		attempts        INTEGER NOT NULL DEFAULT 0,
		created_at_ms   INTEGER NOT NULL,
		completed_at_ms INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON sync_queue(status, type);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: init schema: %v", ErrStorageUnavailable, err)
	}
	return nil
}

const checkpointKey = "last_sync"

// Checkpoint returns the last-sync high-water mark in Unix milliseconds,
// or 0 when no pull has ever completed.
func (s *Store) Checkpoint(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, checkpointKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read checkpoint: %v", ErrStorageUnavailable, err)
	}
	ms, ok := syncx.ParseTimeToMs(v)
	if !ok {
		return 0, nil
	}
	return ms, nil
}

// SetCheckpoint advances the last-sync mark. The checkpoint is monotonic:
// a value at or below the stored one is ignored.
func (s *Store) SetCheckpoint(ctx context.Context, ms int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, _ := s.checkpointLocked(ctx)
	if ms <= cur {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		checkpointKey, fmt.Sprintf("%d", ms))
	if err != nil {
		return fmt.Errorf("%w: write checkpoint: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) checkpointLocked(ctx context.Context) (int64, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, checkpointKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	ms, _ := syncx.ParseTimeToMs(v)
	return ms, nil
}

// Validate probes that every required collection is accessible. It is the
// gate for the repair path: a failure here means the engine cannot operate.
func (s *Store) Validate(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range model.AllEntities {
		var n int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM record WHERE entity = ?`, string(e)).Scan(&n); err != nil {
			return fmt.Errorf("%w: probe %s: %v", ErrStorageUnavailable, e, err)
		}
	}
	for _, table := range []string{"sync_queue", "meta"} {
		var n int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return fmt.Errorf("%w: probe %s: %v", ErrStorageUnavailable, table, err)
		}
	}
	return nil
}

// Repair is the last-resort, data-loss-accepting recovery path: it snapshots
// a best-effort export next to the database file, deletes the database, and
// recreates an empty schema. The checkpoint resets with the schema, so the
// next pull re-fetches everything. Never call this for ordinary errors.
func (s *Store) Repair(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Best-effort side snapshot before anything destructive.
	if snap, err := s.exportLocked(ctx); err == nil {
		side := fmt.Sprintf("%s.repair-%d.json", s.path, time.Now().Unix())
		if werr := os.WriteFile(side, snap, 0o600); werr != nil {
			log.Warn().Err(werr).Str("path", side).Msg("repair: side snapshot write failed")
		} else {
			log.Info().Str("path", side).Msg("repair: side snapshot written")
		}
	} else {
		log.Warn().Err(err).Msg("repair: export failed, proceeding without snapshot")
	}

	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: remove %s: %v", ErrStorageUnavailable, s.path+suffix, err)
		}
	}

	db, err := openDB(s.path)
	if err != nil {
		return err
	}
	s.db = db
	if err := s.initSchema(ctx); err != nil {
		return err
	}
	log.Info().Str("path", s.path).Msg("repair: storage recreated")
	return nil
}
