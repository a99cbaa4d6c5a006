package store

import (
	"context"
	"testing"
	"time"

	"github.com/erauner12/daykeep/internal/model"
)

func TestQueueLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	taskType, _ := model.QueueUpsert(model.EntityTask)
	expenseType, _ := model.QueueUpsert(model.EntityExpense)

	id1, err := s.Enqueue(ctx, taskType, []byte(`{"id":"t1"}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	id2, err := s.Enqueue(ctx, expenseType, []byte(`{"id":"e1"}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id2 <= id1 {
		t.Errorf("queue ids must be monotonically assigned: %d then %d", id1, id2)
	}

	pending, err := s.ListPending(ctx, "")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending entries, got %d", len(pending))
	}
	if pending[0].ID != id1 || pending[1].ID != id2 {
		t.Error("pending entries not in enqueue order")
	}
	if pending[0].Status != model.StatusPending || pending[0].Attempts != 0 {
		t.Errorf("fresh entry state: %+v", pending[0])
	}

	// Type filter.
	filtered, err := s.ListPending(ctx, taskType)
	if err != nil {
		t.Fatalf("ListPending filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != id1 {
		t.Errorf("type filter returned %+v", filtered)
	}

	if err := s.MarkComplete(ctx, id1); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	pending, _ = s.ListPending(ctx, "")
	if len(pending) != 1 || pending[0].ID != id2 {
		t.Errorf("completed entry still pending: %+v", pending)
	}

	counts, err := s.QueueCounts(ctx)
	if err != nil {
		t.Fatalf("QueueCounts: %v", err)
	}
	if counts[model.StatusPending] != 1 || counts[model.StatusCompleted] != 1 {
		t.Errorf("counts: %+v", counts)
	}
}

func TestIncrementAttemptsAndMarkFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	typ, _ := model.QueueUpsert(model.EntityTask)
	id, err := s.Enqueue(ctx, typ, []byte(`{"id":"t1"}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementAttempts(ctx, id)
		if err != nil {
			t.Fatalf("IncrementAttempts: %v", err)
		}
		if got != want {
			t.Errorf("attempts after increment %d: got %d", want, got)
		}
	}

	if err := s.MarkFailed(ctx, id); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	pending, _ := s.ListPending(ctx, "")
	if len(pending) != 0 {
		t.Errorf("failed entry still pending: %+v", pending)
	}
	failed, err := s.ListFailed(ctx)
	if err != nil {
		t.Fatalf("ListFailed: %v", err)
	}
	if len(failed) != 1 || failed[0].Attempts != 3 {
		t.Errorf("failed list: %+v", failed)
	}

	n, err := s.ClearFailed(ctx)
	if err != nil {
		t.Fatalf("ClearFailed: %v", err)
	}
	if n != 1 {
		t.Errorf("cleared %d entries, want 1", n)
	}
	failed, _ = s.ListFailed(ctx)
	if len(failed) != 0 {
		t.Error("failed entries survived clear")
	}
}

func TestPurgeCompletedKeepsFailedAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	typ, _ := model.QueueUpsert(model.EntityTask)

	oldID, _ := s.Enqueue(ctx, typ, []byte(`{"id":"old"}`))
	if err := s.MarkComplete(ctx, oldID); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	// Age the completion stamp past the retention window.
	cutoff := time.Now().Add(-48 * time.Hour).UnixMilli()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET completed_at_ms = ? WHERE id = ?`, cutoff, oldID); err != nil {
		t.Fatalf("age entry: %v", err)
	}

	freshID, _ := s.Enqueue(ctx, typ, []byte(`{"id":"fresh"}`))
	if err := s.MarkComplete(ctx, freshID); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}

	failedID, _ := s.Enqueue(ctx, typ, []byte(`{"id":"bad"}`))
	if err := s.MarkFailed(ctx, failedID); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	n, err := s.PurgeCompleted(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeCompleted: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}

	counts, _ := s.QueueCounts(ctx)
	if counts[model.StatusCompleted] != 1 || counts[model.StatusFailed] != 1 {
		t.Errorf("counts after purge: %+v", counts)
	}
}
