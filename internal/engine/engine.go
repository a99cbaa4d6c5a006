// Package engine implements the sync cycle: drain the queue, push
// unsynced records, pull remote deltas, advance the checkpoint. One cycle
// runs at a time under a single in-flight flag; a cycle requested while
// one is running is dropped, not queued — the next tick or reconnect
// retries.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/daykeep/internal/event"
	"github.com/erauner12/daykeep/internal/model"
	"github.com/erauner12/daykeep/internal/store"
	"github.com/erauner12/daykeep/internal/syncx"
	"github.com/erauner12/daykeep/internal/transport"
)

// RetryCeiling is the maximum push attempts before a queue entry is marked
// terminally failed. Items under the ceiling stay pending and retry on the
// next full cycle, so the effective backoff is the sync interval.
const RetryCeiling = 3

// DefaultInterval is the periodic sync trigger interval.
const DefaultInterval = 5 * time.Minute

var (
	// ErrSyncInFlight is returned when a cycle is requested while one runs.
	ErrSyncInFlight = errors.New("sync cycle already in flight")

	// ErrOffline is returned when a cycle is requested with no connectivity.
	ErrOffline = errors.New("offline, sync suppressed")
)

// Remote is the transport collaborator the engine pushes to and pulls from.
type Remote interface {
	Push(ctx context.Context, typ model.QueueType, payload []byte) error
	FetchChanges(ctx context.Context, sinceMs int64) (map[model.EntityType][]map[string]any, error)
}

// Store is the slice of the local store the engine drives. The engine
// never holds its own copy of any record; every read and write goes
// through here.
type Store interface {
	Enqueue(ctx context.Context, typ model.QueueType, payload []byte) (int64, error)
	ListPending(ctx context.Context, typ model.QueueType) ([]model.QueueEntry, error)
	MarkComplete(ctx context.Context, id int64) error
	IncrementAttempts(ctx context.Context, id int64) (int, error)
	MarkFailed(ctx context.Context, id int64) error

	Get(ctx context.Context, entity model.EntityType, id string) (*store.Record, error)
	Update(ctx context.Context, rec store.Record) error
	ListUnsynced(ctx context.Context, entity model.EntityType) ([]store.Record, error)
	MarkSynced(ctx context.Context, entity model.EntityType, id string) error

	Checkpoint(ctx context.Context) (int64, error)
	SetCheckpoint(ctx context.Context, ms int64) error
}

// ConnState is the connectivity flag the engine consults before a cycle
// and feeds observed transport failures back into.
type ConnState interface {
	Online() bool
	SetOnline(bool)
}

// Engine orchestrates sync cycles against the store and remote.
type Engine struct {
	store    Store
	remote   Remote
	bus      *event.Bus
	conn     ConnState
	interval time.Duration

	inFlight chan struct{} // 1-slot semaphore; also the mutual-exclusion flag
	trigger  chan struct{}
}

// New wires an engine. Pass 0 for interval to use DefaultInterval.
func New(st Store, remote Remote, bus *event.Bus, conn ConnState, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	e := &Engine{
		store:    st,
		remote:   remote,
		bus:      bus,
		conn:     conn,
		interval: interval,
		inFlight: make(chan struct{}, 1),
		trigger:  make(chan struct{}, 1),
	}
	e.inFlight <- struct{}{}
	return e
}

// QueueForSync durably enqueues a mutation and, while online, kicks an
// immediate cycle. Enqueueing always succeeds locally; the kick is
// opportunistic.
func (e *Engine) QueueForSync(ctx context.Context, typ model.QueueType, payload []byte) (int64, error) {
	id, err := e.store.Enqueue(ctx, typ, payload)
	if err != nil {
		return 0, err
	}
	if e.conn.Online() {
		e.requestSync()
	}
	return id, nil
}

// requestSync coalesces cycle requests; an already-armed trigger absorbs
// the new one.
func (e *Engine) requestSync() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run drives the engine until ctx is cancelled: the periodic tick, queued
// trigger requests, and networkRestored transitions each start a cycle.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	events, cancel := e.bus.Subscribe(8)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.syncAndLog(ctx, "tick")
		case <-e.trigger:
			e.syncAndLog(ctx, "trigger")
		case ev := <-events:
			if ev.Signal == event.NetworkRestored {
				e.syncAndLog(ctx, "reconnect")
			}
		}
	}
}

func (e *Engine) syncAndLog(ctx context.Context, cause string) {
	err := e.Sync(ctx)
	switch {
	case err == nil:
		log.Debug().Str("cause", cause).Msg("sync cycle complete")
	case errors.Is(err, ErrSyncInFlight), errors.Is(err, ErrOffline):
		log.Debug().Str("cause", cause).Err(err).Msg("sync cycle skipped")
	default:
		log.Warn().Str("cause", cause).Err(err).Msg("sync cycle failed")
	}
}

// Sync runs one full cycle. It returns ErrOffline when connectivity is
// down and ErrSyncInFlight when another cycle holds the flag. Any other
// error has already been published as a syncError signal; the in-flight
// flag is released on every exit path.
func (e *Engine) Sync(ctx context.Context) error {
	if !e.conn.Online() {
		return ErrOffline
	}

	select {
	case <-e.inFlight:
	default:
		return ErrSyncInFlight
	}
	defer func() { e.inFlight <- struct{}{} }()

	if err := e.cycle(ctx); err != nil {
		if transport.IsOffline(err) {
			e.conn.SetOnline(false)
		}
		e.bus.Publish(event.SyncError, err.Error())
		return err
	}
	e.bus.Publish(event.SyncComplete, "")
	return nil
}

func (e *Engine) cycle(ctx context.Context) error {
	start := time.Now()

	pushed, err := e.drainQueue(ctx)
	if err != nil {
		return fmt.Errorf("drain queue: %w", err)
	}

	flagged, err := e.pushUnsynced(ctx)
	if err != nil {
		return fmt.Errorf("push unsynced: %w", err)
	}

	applied, err := e.pull(ctx)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}

	log.Info().
		Int("queuePushed", pushed).
		Int("recordsPushed", flagged).
		Int("applied", applied).
		Dur("duration", time.Since(start)).
		Msg("sync cycle finished")
	return nil
}

// drainQueue pushes every pending entry. Per-item transport failures
// increment the attempt counter and, at the ceiling, mark the entry
// terminally failed; they never abort the cycle. An auth failure does
// abort: every subsequent call would fail the same way, and burning the
// ceiling of unrelated items on a dead credential helps nobody. Auth
// failures do not consume attempt budget.
func (e *Engine) drainQueue(ctx context.Context) (int, error) {
	entries, err := e.store.ListPending(ctx, "")
	if err != nil {
		return 0, err
	}

	pushed := 0
	for _, entry := range entries {
		pushErr := e.remote.Push(ctx, entry.Type, entry.Payload)
		if pushErr == nil {
			if err := e.store.MarkComplete(ctx, entry.ID); err != nil {
				return pushed, err
			}
			if !entry.Type.IsDelete() {
				if env, _, err := syncx.ExtractBytes(entry.Payload); err == nil {
					if err := e.store.MarkSynced(ctx, entry.Type.Entity(), env.ID); err != nil {
						return pushed, err
					}
				}
			}
			pushed++
			continue
		}

		if transport.IsAuth(pushErr) {
			return pushed, pushErr
		}

		attempts, err := e.store.IncrementAttempts(ctx, entry.ID)
		if err != nil {
			return pushed, err
		}
		if attempts >= RetryCeiling {
			if err := e.store.MarkFailed(ctx, entry.ID); err != nil {
				return pushed, err
			}
			log.Warn().
				Int64("entry", entry.ID).
				Str("type", string(entry.Type)).
				Int("attempts", attempts).
				Err(pushErr).
				Msg("queue entry reached retry ceiling, marked failed")
		} else {
			log.Debug().
				Int64("entry", entry.ID).
				Int("attempts", attempts).
				Err(pushErr).
				Msg("queue push failed, will retry next cycle")
		}
	}
	return pushed, nil
}

// pushUnsynced is the secondary safety net: records mutated without going
// through the queue path still carry synced=false and get pushed here.
// Failures are logged and left for the next cycle; they never block.
func (e *Engine) pushUnsynced(ctx context.Context) (int, error) {
	pushed := 0
	for _, entity := range model.SyncedEntities {
		typ, ok := model.QueueUpsert(entity)
		if !ok {
			continue
		}
		recs, err := e.store.ListUnsynced(ctx, entity)
		if err != nil {
			return pushed, err
		}
		for _, rec := range recs {
			if pushErr := e.remote.Push(ctx, typ, rec.Payload); pushErr != nil {
				if transport.IsAuth(pushErr) {
					return pushed, pushErr
				}
				log.Debug().
					Str("entity", string(entity)).
					Str("id", rec.ID).
					Err(pushErr).
					Msg("unsynced record push failed, will retry next cycle")
				continue
			}
			if err := e.store.MarkSynced(ctx, entity, rec.ID); err != nil {
				return pushed, err
			}
			pushed++
		}
	}
	return pushed, nil
}

// pull fetches remote deltas since the checkpoint and merges them with
// last-writer-wins: an incoming record replaces the local one only when
// its updatedAt is strictly greater; ties and older values keep the local
// record. The checkpoint advances only after every entity batch applied
// cleanly, so a partial failure re-pulls the same range next cycle —
// harmless, since LWW application is idempotent.
func (e *Engine) pull(ctx context.Context) (int, error) {
	since, err := e.store.Checkpoint(ctx)
	if err != nil {
		return 0, err
	}
	pullStart := syncx.NowMs()

	changes, err := e.remote.FetchChanges(ctx, since)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, entity := range model.SyncedEntities {
		items, ok := changes[entity]
		if !ok {
			continue
		}
		for _, item := range items {
			n, err := e.applyRemote(ctx, entity, item)
			if err != nil {
				return applied, err
			}
			applied += n
		}
	}

	if err := e.store.SetCheckpoint(ctx, pullStart); err != nil {
		return applied, err
	}
	return applied, nil
}

// applyRemote merges one incoming record, returning 1 when it was applied.
// A record the remote sent without an id cannot be merged; it is logged
// and skipped rather than failing the whole batch.
func (e *Engine) applyRemote(ctx context.Context, entity model.EntityType, item map[string]any) (int, error) {
	env, err := syncx.Extract(item)
	if err != nil {
		log.Warn().Str("entity", string(entity)).Err(err).Msg("skipping malformed remote record")
		return 0, nil
	}

	local, err := e.store.Get(ctx, entity, env.ID)
	if err != nil {
		return 0, err
	}
	if local != nil && env.UpdatedAtMs <= local.UpdatedAtMs {
		// Local wins; incoming value discarded silently.
		return 0, nil
	}

	payload, err := json.Marshal(item)
	if err != nil {
		log.Warn().Str("entity", string(entity)).Str("id", env.ID).Err(err).Msg("skipping unencodable remote record")
		return 0, nil
	}
	err = e.store.Update(ctx, store.Record{
		Entity:      entity,
		ID:          env.ID,
		UpdatedAtMs: env.UpdatedAtMs,
		Synced:      true,
		DateKey:     env.DateKey,
		Payload:     payload,
	})
	if err != nil {
		return 0, err
	}
	return 1, nil
}
