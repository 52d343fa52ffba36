package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/geoinsight/backend/internal/auth"
	"github.com/geoinsight/backend/internal/backup"
	"github.com/geoinsight/backend/internal/restore"
	"github.com/geoinsight/backend/internal/store"
)

// UserDBHandler exposes per-owner backup, restore, import and export.
// Everything is scoped to the authenticated subject.
type UserDBHandler struct {
	backups  *backup.Manager
	restores *restore.Coordinator
	logger   *slog.Logger
}

func NewUserDBHandler(bm *backup.Manager, rc *restore.Coordinator, logger *slog.Logger) *UserDBHandler {
	return &UserDBHandler{backups: bm, restores: rc, logger: logger.With("component", "user_db")}
}

type passphraseRequest struct {
	Passphrase string `json:"passphrase"`
}

// decodePassphrase reads an optional {"passphrase": "..."} body.
// An empty body is fine.
func decodePassphrase(r *http.Request) string {
	var req passphraseRequest
	json.NewDecoder(r.Body).Decode(&req)
	return req.Passphrase
}

// Backup snapshots the caller's records into a new artifact.
func (h *UserDBHandler) Backup(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.Subject(r.Context())
	passphrase := decodePassphrase(r)

	backupID, err := h.backups.CreateUserBackup(r.Context(), ownerID, passphrase)
	if err != nil {
		h.logger.Error("user backup failed", "owner", ownerID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "User backup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "User backup created successfully",
		"backupId": backupID,
	})
}

// Restore replaces the caller's records with their latest artifact.
func (h *UserDBHandler) Restore(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.Subject(r.Context())
	passphrase := decodePassphrase(r)

	result, err := h.restores.RestoreUserLatest(ownerID, passphrase)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "No backups found")
	case errors.Is(err, restore.ErrPassphraseRequired):
		writeMessage(w, http.StatusBadRequest, "Backup is encrypted: passphrase required")
	case errors.Is(err, restore.ErrInvalidFormat):
		writeMessage(w, http.StatusBadRequest, "Invalid backup format")
	case err != nil:
		h.logger.Error("user restore failed", "owner", ownerID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "User restore failed")
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"message":  "User restore completed successfully",
			"backupId": result.BackupID,
			"total":    result.Total,
			"restored": result.Restored,
		})
	}
}

// Import merges an uploaded JSON array into the caller's records.
func (h *UserDBHandler) Import(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.Subject(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	result, err := h.restores.ImportUser(ownerID, file)
	if err != nil {
		if errors.Is(err, restore.ErrInvalidFormat) {
			writeMessage(w, http.StatusBadRequest, "Invalid JSON format")
			return
		}
		h.logger.Error("user import failed", "owner", ownerID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "User import failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "User import merged successfully",
		"inserted": result.Inserted,
		"skipped":  result.Skipped,
	})
}

// Export streams the caller's records as a JSON array.
func (h *UserDBHandler) Export(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.Subject(r.Context())

	records, err := h.backups.ExportUser(ownerID)
	if err != nil {
		h.logger.Error("user export failed", "owner", ownerID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "User export failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=records.json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(records)
}
