package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/erauner12/daykeep/internal/model"
	"github.com/erauner12/daykeep/internal/syncx"
)

// analyticsDoc is the stored shape of an analytics record. The record is
// keyed by calendar date; Metrics maps metric name to value.
type analyticsDoc struct {
	ID        string             `json:"id"`
	Date      string             `json:"date"`
	Metrics   map[string]float64 `json:"metrics"`
	UpdatedAt string             `json:"updatedAt"`
}

// MergeAnalytics folds new metric values into the analytics record for the
// given date (YYYY-MM-DD). Existing metric keys for that date are kept;
// only the supplied keys are written. Analytics records never sync, so the
// merged record is stored already confirmed.
func (s *Store) MergeAnalytics(ctx context.Context, date string, metrics map[string]float64) error {
	rec, err := s.Get(ctx, model.EntityAnalytics, date)
	if err != nil {
		return err
	}

	doc := analyticsDoc{ID: date, Date: date, Metrics: map[string]float64{}}
	if rec != nil {
		if err := json.Unmarshal(rec.Payload, &doc); err != nil {
			return fmt.Errorf("decode analytics %s: %w", date, err)
		}
		if doc.Metrics == nil {
			doc.Metrics = map[string]float64{}
		}
	}
	for k, v := range metrics {
		doc.Metrics[k] = v
	}

	now := syncx.NowMs()
	doc.UpdatedAt = syncx.RFC3339(now)

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode analytics %s: %w", date, err)
	}
	return s.Update(ctx, Record{
		Entity:      model.EntityAnalytics,
		ID:          date,
		UpdatedAtMs: now,
		Synced:      true,
		DateKey:     date,
		Payload:     payload,
	})
}

// Analytics returns the metric map for a date, or an empty map when none
// has been recorded.
func (s *Store) Analytics(ctx context.Context, date string) (map[string]float64, error) {
	rec, err := s.Get(ctx, model.EntityAnalytics, date)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return map[string]float64{}, nil
	}
	var doc analyticsDoc
	if err := json.Unmarshal(rec.Payload, &doc); err != nil {
		return nil, fmt.Errorf("decode analytics %s: %w", date, err)
	}
	if doc.Metrics == nil {
		doc.Metrics = map[string]float64{}
	}
	return doc.Metrics, nil
}
