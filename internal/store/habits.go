package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erauner12/daykeep/internal/model"
	"github.com/erauner12/daykeep/internal/syncx"
)

// LogHabitCompletion records that the habit was completed on the given
// calendar day and updates the streak counters.
//
// The operation is idempotent per day: re-logging the same date is a no-op.
// Continuity is strict calendar-day adjacency evaluated on the wall-clock
// local date, not elapsed hours — a previous completion exactly yesterday
// extends the streak, anything else (a gap of two or more days, or the
// first-ever completion) resets it to 1.
func (s *Store) LogHabitCompletion(ctx context.Context, id string, day time.Time) (model.Habit, error) {
	var h model.Habit

	rec, err := s.Get(ctx, model.EntityHabit, id)
	if err != nil {
		return h, err
	}
	if rec == nil {
		return h, fmt.Errorf("%w: habit/%s", ErrNotFound, id)
	}
	if err := json.Unmarshal(rec.Payload, &h); err != nil {
		return h, fmt.Errorf("decode habit %s: %w", id, err)
	}

	today := day.Format(syncx.DayFormat)
	if h.LastCompleted == today {
		return h, nil
	}

	yesterday := day.AddDate(0, 0, -1).Format(syncx.DayFormat)
	if h.LastCompleted == yesterday {
		h.CurrentStreak++
	} else {
		h.CurrentStreak = 1
	}
	if h.CurrentStreak > h.LongestStreak {
		h.LongestStreak = h.CurrentStreak
	}
	h.LastCompleted = today

	now := syncx.NowMs()
	h.UpdatedAt = syncx.RFC3339(now)

	payload, err := json.Marshal(h)
	if err != nil {
		return h, fmt.Errorf("encode habit %s: %w", id, err)
	}
	err = s.Update(ctx, Record{
		Entity:      model.EntityHabit,
		ID:          id,
		UpdatedAtMs: now,
		Synced:      false,
		Payload:     payload,
	})
	return h, err
}
