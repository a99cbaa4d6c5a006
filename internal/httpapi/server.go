// Package httpapi is the narrow interface the presentation layer calls
// into: record mutations (which write the store, enqueue for sync, and
// opportunistically kick a cycle), derived queries, sync control, backup
// transfer, and a server-sent event feed of the core's signals.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/daykeep/internal/engine"
	"github.com/erauner12/daykeep/internal/event"
	"github.com/erauner12/daykeep/internal/store"
)

// RemoteBackup is the slice of the transport the backup handlers use.
type RemoteBackup interface {
	UploadBackup(ctx context.Context, data []byte) error
	FetchLatestBackup(ctx context.Context) ([]byte, error)
}

// Server holds dependencies for the control API handlers.
type Server struct {
	Store  *store.Store
	Engine *engine.Engine
	Bus    *event.Bus
	Conn   engine.ConnState
	Remote RemoteBackup // nil disables remote backup endpoints
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		// Derived queries before the generic entity wildcards.
		r.Get("/tasks/overdue", s.OverdueTasks)
		r.Get("/expenses/summary", s.ExpenseSummary)
		r.Get("/journal/summary", s.JournalSummary)
		r.Post("/habits/{id}/complete", s.CompleteHabit)

		r.Post("/analytics/{date}", s.MergeAnalytics)
		r.Get("/analytics/{date}", s.GetAnalytics)

		r.Post("/sync/force", s.ForceSync)
		r.Get("/sync/status", s.SyncStatus)
		r.Get("/sync/queue/failed", s.ListFailedQueue)
		r.Post("/sync/queue/clear-failed", s.ClearFailedQueue)

		r.Get("/backup/export", s.ExportBackup)
		r.Post("/backup/import", s.ImportBackup)
		r.Post("/backup/remote", s.UploadRemoteBackup)
		r.Get("/backup/remote/latest", s.FetchRemoteBackup)

		r.Get("/events", s.Events)

		r.Post("/{entity}", s.CreateRecord)
		r.Get("/{entity}", s.ListRecords)
		r.Get("/{entity}/{id}", s.GetRecord)
		r.Put("/{entity}/{id}", s.UpsertRecord)
		r.Delete("/{entity}/{id}", s.DeleteRecord)
	})

	log.Info().Msg("control API routes registered")
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeError maps the core error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrDuplicateKey):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrInvalidBackup):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrStorageUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
