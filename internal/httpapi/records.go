package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/daykeep/internal/model"
	"github.com/erauner12/daykeep/internal/store"
	"github.com/erauner12/daykeep/internal/syncx"
)

// parseEntity rejects unknown collections and the analytics collection,
// which has its own merge endpoint instead of generic CRUD.
func parseEntity(w http.ResponseWriter, r *http.Request) (model.EntityType, bool) {
	entity, ok := model.ParseEntityType(chi.URLParam(r, "entity"))
	if !ok || entity == model.EntityAnalytics {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown entity"})
		return "", false
	}
	return entity, true
}

func decodeItem(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var item map[string]any
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return nil, false
	}
	return item, true
}

// stamp assigns the local-mutation envelope: a caller-omitted id gets a
// generated one, and updatedAt always advances to now — local mutations
// must never carry a stale mark into last-writer-wins.
func stamp(item map[string]any) (string, int64) {
	id, _ := syncx.GetString(item, "id")
	if id == "" {
		id = uuid.New().String()
		item["id"] = id
	}
	now := syncx.NowMs()
	item["updatedAt"] = syncx.RFC3339(now)
	return id, now
}

// mutate writes the record and enqueues it for sync; while online the
// engine kicks an immediate cycle.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, entity model.EntityType, item map[string]any, create bool) {
	id, now := stamp(item)
	env, _ := syncx.Extract(item)

	payload, err := json.Marshal(item)
	if err != nil {
		writeError(w, err)
		return
	}
	rec := store.Record{
		Entity:      entity,
		ID:          id,
		UpdatedAtMs: now,
		Synced:      false,
		DateKey:     env.DateKey,
		Payload:     payload,
	}

	if create {
		err = s.Store.Add(r.Context(), rec)
	} else {
		err = s.Store.Update(r.Context(), rec)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	if typ, ok := model.QueueUpsert(entity); ok {
		if _, err := s.Engine.QueueForSync(r.Context(), typ, payload); err != nil {
			log.Warn().Err(err).Str("entity", string(entity)).Str("id", id).Msg("enqueue failed after store write")
		}
	}

	code := http.StatusOK
	if create {
		code = http.StatusCreated
	}
	writeJSON(w, code, item)
}

// CreateRecord handles POST /v1/{entity}.
func (s *Server) CreateRecord(w http.ResponseWriter, r *http.Request) {
	entity, ok := parseEntity(w, r)
	if !ok {
		return
	}
	item, ok := decodeItem(w, r)
	if !ok {
		return
	}
	s.mutate(w, r, entity, item, true)
}

// UpsertRecord handles PUT /v1/{entity}/{id}.
func (s *Server) UpsertRecord(w http.ResponseWriter, r *http.Request) {
	entity, ok := parseEntity(w, r)
	if !ok {
		return
	}
	item, ok := decodeItem(w, r)
	if !ok {
		return
	}
	item["id"] = chi.URLParam(r, "id")
	s.mutate(w, r, entity, item, false)
}

// DeleteRecord handles DELETE /v1/{entity}/{id}: the local record goes
// away immediately and a delete intent enters the queue (a delete has no
// record left to flag, hence the queue entry).
func (s *Server) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	entity, ok := parseEntity(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := s.Store.Delete(r.Context(), entity, id); err != nil {
		writeError(w, err)
		return
	}

	if typ, ok := model.QueueDelete(entity); ok {
		payload, _ := json.Marshal(map[string]any{
			"id":        id,
			"updatedAt": syncx.RFC3339(syncx.NowMs()),
		})
		if _, err := s.Engine.QueueForSync(r.Context(), typ, payload); err != nil {
			log.Warn().Err(err).Str("entity", string(entity)).Str("id", id).Msg("enqueue delete failed")
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GetRecord handles GET /v1/{entity}/{id}.
func (s *Server) GetRecord(w http.ResponseWriter, r *http.Request) {
	entity, ok := parseEntity(w, r)
	if !ok {
		return
	}
	rec, err := s.Store.Get(r.Context(), entity, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(rec.Payload)
}

// ListRecords handles GET /v1/{entity}[?from=YYYY-MM-DD&to=YYYY-MM-DD].
// Results come back in the store's natural id order (or date order for a
// range); callers re-sort when they need another order.
func (s *Server) ListRecords(w http.ResponseWriter, r *http.Request) {
	entity, ok := parseEntity(w, r)
	if !ok {
		return
	}

	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	var recs []store.Record
	var err error
	if from != "" && to != "" {
		recs, err = s.Store.ListRange(r.Context(), entity, from, to)
	} else {
		recs, err = s.Store.List(r.Context(), entity)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]json.RawMessage, 0, len(recs))
	for _, rec := range recs {
		items = append(items, json.RawMessage(rec.Payload))
	}
	writeJSON(w, http.StatusOK, items)
}

// OverdueTasks handles GET /v1/tasks/overdue[?today=YYYY-MM-DD].
func (s *Server) OverdueTasks(w http.ResponseWriter, r *http.Request) {
	today := r.URL.Query().Get("today")
	if today == "" {
		today = time.Now().Format(syncx.DayFormat)
	}
	tasks, err := s.Store.OverdueTasks(r.Context(), today)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func periodParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from and to are required"})
		return "", "", false
	}
	return from, to, true
}

// ExpenseSummary handles GET /v1/expenses/summary?from=&to=.
func (s *Server) ExpenseSummary(w http.ResponseWriter, r *http.Request) {
	from, to, ok := periodParams(w, r)
	if !ok {
		return
	}
	sum, err := s.Store.ExpenseSummary(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// JournalSummary handles GET /v1/journal/summary?from=&to=.
func (s *Server) JournalSummary(w http.ResponseWriter, r *http.Request) {
	from, to, ok := periodParams(w, r)
	if !ok {
		return
	}
	sum, err := s.Store.JournalSummary(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// CompleteHabit handles POST /v1/habits/{id}/complete[?date=YYYY-MM-DD].
// The streak update is idempotent per calendar day; the mutated habit is
// enqueued like any other local mutation.
func (s *Server) CompleteHabit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	day := time.Now()
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.Parse(syncx.DayFormat, d)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid date"})
			return
		}
		day = parsed
	}

	habit, err := s.Store.LogHabitCompletion(r.Context(), id, day)
	if err != nil {
		writeError(w, err)
		return
	}

	payload, err := json.Marshal(habit)
	if err == nil {
		if _, qerr := s.Engine.QueueForSync(r.Context(), model.QueueHabit, payload); qerr != nil {
			log.Warn().Err(qerr).Str("id", id).Msg("enqueue habit completion failed")
		}
	}
	writeJSON(w, http.StatusOK, habit)
}

// MergeAnalytics handles POST /v1/analytics/{date} with {"metrics": {...}}.
func (s *Server) MergeAnalytics(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")

	var body struct {
		Metrics map[string]float64 `json:"metrics"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Metrics) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "metrics are required"})
		return
	}
	if err := s.Store.MergeAnalytics(r.Context(), date, body.Metrics); err != nil {
		writeError(w, err)
		return
	}
	metrics, err := s.Store.Analytics(r.Context(), date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "metrics": metrics})
}

// GetAnalytics handles GET /v1/analytics/{date}.
func (s *Server) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	metrics, err := s.Store.Analytics(r.Context(), date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "metrics": metrics})
}
