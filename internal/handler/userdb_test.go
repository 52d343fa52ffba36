package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/geoinsight/backend/internal/auth"
	"github.com/geoinsight/backend/internal/backup"
	"github.com/geoinsight/backend/internal/config"
	"github.com/geoinsight/backend/internal/database"
	"github.com/geoinsight/backend/internal/events"
	"github.com/geoinsight/backend/internal/model"
	"github.com/geoinsight/backend/internal/restore"
	"github.com/geoinsight/backend/internal/staging"
	"github.com/geoinsight/backend/internal/store"
)

type nopRunner struct{}

func (nopRunner) Run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	return nil, nil
}

func setupUserDBHandler(t *testing.T) (*UserDBHandler, *store.RecordStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	root := t.TempDir()
	cfg := &config.Config{
		DBPath:      filepath.Join(root, "app.db"),
		Database:    "geoinsight",
		BackupRoot:  filepath.Join(root, "backups", "admin"),
		UserRoot:    filepath.Join(root, "backups", "users"),
		StagingRoot: filepath.Join(root, "staging"),
	}

	logger := testLogger()
	rs := store.NewRecordStore(db)
	hub := events.NewHub(logger)
	bm := backup.NewManager(cfg, rs, nopRunner{}, staging.NewLeaseRegistry(), hub, logger)
	rc := restore.NewCoordinator(cfg, rs, nopRunner{}, hub, logger)
	return NewUserDBHandler(bm, rc, logger), rs
}

func TestUserBackupRestoreRoundTrip(t *testing.T) {
	h, rs := setupUserDBHandler(t)

	rs.Insert(&model.Record{OwnerID: "u1", Country: "Vietnam"})
	rs.Insert(&model.Record{OwnerID: "u1", Country: "Japan"})

	// Backup.
	req := authedRequest(http.MethodPost, "/api/user/db/backup", strings.NewReader(`{}`), "u1", auth.RoleUser)
	rec := httptest.NewRecorder()
	h.Backup(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("backup status = %d, body %s", rec.Code, rec.Body.String())
	}
	var backupResp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &backupResp)
	if backupResp["backupId"] == "" {
		t.Fatal("backupId missing")
	}

	// Mutate the live data, then restore.
	rs.DeleteByOwner("u1")
	rs.Insert(&model.Record{OwnerID: "u1", Country: "Germany"})

	req = authedRequest(http.MethodPost, "/api/user/db/restore", strings.NewReader(`{}`), "u1", auth.RoleUser)
	rec = httptest.NewRecorder()
	h.Restore(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("restore status = %d, body %s", rec.Code, rec.Body.String())
	}

	records, _ := rs.ListByOwner("u1")
	if len(records) != 2 {
		t.Fatalf("records after restore = %d, want 2", len(records))
	}
	for _, r := range records {
		if r.Country == "Germany" {
			t.Error("post-backup record survived the replace restore")
		}
	}
}

func TestUserRestoreEncryptedNeedsPassphrase(t *testing.T) {
	h, rs := setupUserDBHandler(t)

	rs.Insert(&model.Record{OwnerID: "u1", Country: "Vietnam"})

	req := authedRequest(http.MethodPost, "/api/user/db/backup", strings.NewReader(`{"passphrase":"hunter2"}`), "u1", auth.RoleUser)
	rec := httptest.NewRecorder()
	h.Backup(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("backup status = %d", rec.Code)
	}

	req = authedRequest(http.MethodPost, "/api/user/db/restore", strings.NewReader(`{}`), "u1", auth.RoleUser)
	rec = httptest.NewRecorder()
	h.Restore(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("restore without passphrase status = %d, want 400", rec.Code)
	}

	req = authedRequest(http.MethodPost, "/api/user/db/restore", strings.NewReader(`{"passphrase":"hunter2"}`), "u1", auth.RoleUser)
	rec = httptest.NewRecorder()
	h.Restore(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("restore with passphrase status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestUserRestoreNoBackups(t *testing.T) {
	h, _ := setupUserDBHandler(t)

	req := authedRequest(http.MethodPost, "/api/user/db/restore", strings.NewReader(`{}`), "u1", auth.RoleUser)
	rec := httptest.NewRecorder()
	h.Restore(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func TestUserImportMerge(t *testing.T) {
	h, rs := setupUserDBHandler(t)

	rs.Insert(&model.Record{OwnerID: "u1", Country: "Vietnam"})

	payload := `[{"country":"Vietnam"},{"country":"Japan"}]`
	body, contentType := multipartBody(t, "file", "records.json", payload)

	req := authedRequest(http.MethodPost, "/api/user/db/import", body, "u1", auth.RoleUser)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Import(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["inserted"] != float64(1) || resp["skipped"] != float64(1) {
		t.Errorf("response = %v", resp)
	}
}

func TestUserImportRejectsNonArray(t *testing.T) {
	h, _ := setupUserDBHandler(t)

	body, contentType := multipartBody(t, "file", "records.json", `{"country":"Vietnam"}`)
	req := authedRequest(http.MethodPost, "/api/user/db/import", body, "u1", auth.RoleUser)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Import(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUserImportNoFile(t *testing.T) {
	h, _ := setupUserDBHandler(t)

	req := authedRequest(http.MethodPost, "/api/user/db/import", strings.NewReader("not multipart"), "u1", auth.RoleUser)
	rec := httptest.NewRecorder()
	h.Import(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUserExport(t *testing.T) {
	h, rs := setupUserDBHandler(t)

	rs.Insert(&model.Record{OwnerID: "u1", Country: "Vietnam"})
	rs.Insert(&model.Record{OwnerID: "u2", Country: "Japan"})

	req := authedRequest(http.MethodGet, "/api/user/db/export", nil, "u1", auth.RoleUser)
	rec := httptest.NewRecorder()
	h.Export(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "records.json") {
		t.Errorf("content disposition = %q", got)
	}
	var records []model.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("export body not a JSON array: %v", err)
	}
	if len(records) != 1 || records[0].Country != "Vietnam" {
		t.Errorf("exported = %+v", records)
	}
}

func TestUserExportEmptyIsArray(t *testing.T) {
	h, _ := setupUserDBHandler(t)

	req := authedRequest(http.MethodGet, "/api/user/db/export", nil, "u1", auth.RoleUser)
	rec := httptest.NewRecorder()
	h.Export(rec, req)

	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}
