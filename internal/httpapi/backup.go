package httpapi

import (
	"io"
	"net/http"
)

// ExportBackup handles GET /v1/backup/export: the full local snapshot in
// the backup file format.
func (s *Server) ExportBackup(w http.ResponseWriter, r *http.Request) {
	data, err := s.Store.ExportBackup(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="daykeep-backup.json"`)
	_, _ = w.Write(data)
}

// ImportBackup handles POST /v1/backup/import. The import is a destructive
// full replace; validation rejects foreign or malformed payloads before
// anything is deleted.
func (s *Server) ImportBackup(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	if err := s.Store.ImportBackup(r.Context(), data); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "imported"})
}

// UploadRemoteBackup handles POST /v1/backup/remote: exports the store and
// ships the snapshot to the remote service.
func (s *Server) UploadRemoteBackup(w http.ResponseWriter, r *http.Request) {
	if s.Remote == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "remote backup not configured"})
		return
	}
	data, err := s.Store.ExportBackup(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Remote.UploadBackup(r.Context(), data); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "uploaded"})
}

// FetchRemoteBackup handles GET /v1/backup/remote/latest: returns the most
// recent remote snapshot without importing it — importing stays an
// explicit, separate, destructive step.
func (s *Server) FetchRemoteBackup(w http.ResponseWriter, r *http.Request) {
	if s.Remote == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "remote backup not configured"})
		return
	}
	data, err := s.Remote.FetchLatestBackup(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
