package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/geoinsight/backend/internal/backup"
	"github.com/geoinsight/backend/internal/dbtool"
	"github.com/geoinsight/backend/internal/restore"
	"github.com/geoinsight/backend/internal/staging"
	"github.com/geoinsight/backend/internal/store"
)

const maxImportBytes = 256 << 20

// AdminDBHandler exposes whole-database backup, restore, import and
// export. All routes behind it require the admin role.
type AdminDBHandler struct {
	backups  *backup.Manager
	restores *restore.Coordinator
	logger   *slog.Logger
}

func NewAdminDBHandler(bm *backup.Manager, rc *restore.Coordinator, logger *slog.Logger) *AdminDBHandler {
	return &AdminDBHandler{backups: bm, restores: rc, logger: logger.With("component", "admin_db")}
}

// Backup creates a full backup and streams the zip archive.
func (h *AdminDBHandler) Backup(w http.ResponseWriter, r *http.Request) {
	archivePath, backupID, cleanup, err := h.backups.CreateSystemBackup(r.Context())
	if err != nil {
		if errors.Is(err, staging.ErrConflict) {
			writeMessage(w, http.StatusConflict, "A backup is already in progress")
			return
		}
		h.writeToolFailure(w, "Backup failed", err)
		return
	}
	defer cleanup()

	f, err := os.Open(archivePath)
	if err != nil {
		h.logger.Error("open backup archive failed", "backup_id", backupID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Backup failed")
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		h.logger.Error("stat backup archive failed", "backup_id", backupID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Backup failed")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=backup-%s.zip", backupID))
	w.Header().Set("Content-Length", fmt.Sprint(stat.Size()))
	io.Copy(w, f)
}

// RestoreLatest replaces the database with the most recent backup.
func (h *AdminDBHandler) RestoreLatest(w http.ResponseWriter, r *http.Request) {
	backupID, err := h.restores.RestoreSystemLatest(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "No backups found")
			return
		}
		h.writeToolFailure(w, "Restore failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Restore completed successfully",
		"backupId": backupID,
	})
}

// RestoreByID replaces the database with a named backup generation.
func (h *AdminDBHandler) RestoreByID(w http.ResponseWriter, r *http.Request) {
	backupID := r.PathValue("id")

	if err := h.restores.RestoreSystem(r.Context(), backupID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "Backup not found")
			return
		}
		h.writeToolFailure(w, "Restore failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Restore completed successfully",
		"backupId": backupID,
	})
}

// Import loads an uploaded JSON array or zip archive through the
// external import utility. ?mode=merge keeps existing data (default);
// ?mode=replace overwrites matching documents.
func (h *AdminDBHandler) Import(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "merge"
	}
	if mode != "merge" && mode != "replace" {
		writeMessage(w, http.StatusBadRequest, "mode must be merge or replace")
		return
	}
	merge := mode == "merge"

	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	uploadPath, err := saveUpload(file, header.Filename)
	if err != nil {
		h.logger.Error("save upload failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Import failed")
		return
	}

	if strings.EqualFold(filepath.Ext(header.Filename), ".zip") {
		err = h.restores.ImportArchive(r.Context(), uploadPath, merge)
	} else {
		err = h.restores.ImportSystem(r.Context(), uploadPath, merge)
	}
	if err != nil {
		if errors.Is(err, staging.ErrNoSegment) {
			writeMessage(w, http.StatusNotFound, "Archive contains no JSON data file")
			return
		}
		h.writeToolFailure(w, "Import failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Import completed successfully",
		"mode":    mode,
	})
}

// Export streams the full record set as a JSON array.
func (h *AdminDBHandler) Export(w http.ResponseWriter, r *http.Request) {
	path, cleanup, err := h.backups.ExportSystem(r.Context())
	if err != nil {
		h.writeToolFailure(w, "Export failed", err)
		return
	}
	defer cleanup()

	f, err := os.Open(path)
	if err != nil {
		h.logger.Error("open export file failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Export failed")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=records.json")
	io.Copy(w, f)
}

// writeToolFailure surfaces external utility diagnostics without
// leaking anything beyond the tool's own output.
func (h *AdminDBHandler) writeToolFailure(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, "error", err)

	var toolErr *dbtool.ToolError
	if errors.As(err, &toolErr) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"message": msg,
			"error":   string(toolErr.Output),
		})
		return
	}
	writeMessage(w, http.StatusInternalServerError, msg)
}

func saveUpload(src io.Reader, filename string) (string, error) {
	dst := filepath.Join(os.TempDir(), fmt.Sprintf("geoinsight-upload-%d%s", time.Now().UnixNano(), filepath.Ext(filename)))
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, src); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return dst, nil
}
