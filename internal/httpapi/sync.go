package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/erauner12/daykeep/internal/engine"
	"github.com/erauner12/daykeep/internal/model"
	"github.com/erauner12/daykeep/internal/syncx"
)

// ForceSync handles POST /v1/sync/force — the manual refresh entry point.
// A cycle already in flight is reported, not queued.
func (s *Server) ForceSync(w http.ResponseWriter, r *http.Request) {
	err := s.Engine.Sync(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, engine.ErrSyncInFlight):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, engine.ErrOffline):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
}

// SyncStatus handles GET /v1/sync/status.
func (s *Server) SyncStatus(w http.ResponseWriter, r *http.Request) {
	checkpoint, err := s.Store.Checkpoint(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	counts, err := s.Store.QueueCounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	var lastSync *string
	if checkpoint > 0 {
		ts := syncx.RFC3339(checkpoint)
		lastSync = &ts
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"online":   s.Conn.Online(),
		"lastSync": lastSync,
		"queue":    counts,
	})
}

// ListFailedQueue handles GET /v1/sync/queue/failed: terminally failed
// entries surfaced for manual attention.
func (s *Server) ListFailedQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Store.ListFailed(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ClearFailedQueue handles POST /v1/sync/queue/clear-failed.
func (s *Server) ClearFailedQueue(w http.ResponseWriter, r *http.Request) {
	n, err := s.Store.ClearFailed(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cleared": n})
}

// Events handles GET /v1/events: a server-sent event stream of the core's
// signals (syncComplete, syncError, networkRestored, networkLost).
func (s *Server) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := s.Bus.Subscribe(16)
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\n", ev.Signal)
			fmt.Fprintf(w, "data: {\"detail\":%q,\"at\":%q}\n\n", ev.Detail, ev.At.Format("2006-01-02T15:04:05.000Z07:00"))
			flusher.Flush()
		}
	}
}
