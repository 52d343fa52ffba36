// Package restore loads backup artifacts and import payloads back into
// the database. System operations drive the external restore/import
// utilities; user operations run in process against the record store.
package restore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/geoinsight/backend/internal/archive"
	"github.com/geoinsight/backend/internal/backup"
	"github.com/geoinsight/backend/internal/config"
	"github.com/geoinsight/backend/internal/dbtool"
	"github.com/geoinsight/backend/internal/events"
	"github.com/geoinsight/backend/internal/model"
	"github.com/geoinsight/backend/internal/staging"
	"github.com/geoinsight/backend/internal/store"
)

// ErrInvalidFormat marks a backup or import payload that is not a JSON
// array of records.
var ErrInvalidFormat = errors.New("payload is not a JSON array of records")

// ErrPassphraseRequired marks an encrypted user artifact restored
// without a passphrase.
var ErrPassphraseRequired = errors.New("backup is encrypted: passphrase required")

// Coordinator executes restore and import operations.
type Coordinator struct {
	cfg    *config.Config
	store  *store.RecordStore
	runner dbtool.Runner
	cmds   dbtool.Commands
	hub    *events.Hub
	logger *slog.Logger
}

func NewCoordinator(cfg *config.Config, rs *store.RecordStore, runner dbtool.Runner, hub *events.Hub, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		store:  rs,
		runner: runner,
		cmds: dbtool.Commands{
			Target:   cfg.DBPath,
			Database: cfg.Database,
		},
		hub:    hub,
		logger: logger.With("component", "restore"),
	}
}

// latestSubdir resolves the greatest directory name under root.
// Backup identifiers sort lexicographically in creation order.
func latestSubdir(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("read backup root: %w", err)
	}

	latest := ""
	for _, e := range entries {
		if e.IsDir() && e.Name() > latest {
			latest = e.Name()
		}
	}
	if latest == "" {
		return "", store.ErrNotFound
	}
	return latest, nil
}

// RestoreSystemLatest restores the most recent system backup and
// returns its identifier.
func (c *Coordinator) RestoreSystemLatest(ctx context.Context) (string, error) {
	backupID, err := latestSubdir(c.cfg.BackupRoot)
	if err != nil {
		return "", err
	}
	return backupID, c.RestoreSystem(ctx, backupID)
}

// RestoreSystem replaces the database contents with the named backup
// generation via the external restore utility in drop mode.
func (c *Coordinator) RestoreSystem(ctx context.Context, backupID string) error {
	dir := filepath.Join(c.cfg.BackupRoot, backupID)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return store.ErrNotFound
	}

	c.hub.Broadcast(events.NewMessage("restore", events.StageStarted, backupID, nil))

	if _, err := c.runner.Run(ctx, c.cfg.Tools.Restore, c.cmds.RestoreArgs(dir, true)...); err != nil {
		c.hub.Broadcast(events.NewMessage("restore", events.StageFailed, backupID, map[string]any{"error": err.Error()}))
		c.logger.Error("system restore failed", "backup_id", backupID, "error", err)
		return fmt.Errorf("restore database: %w", err)
	}

	c.hub.Broadcast(events.NewMessage("restore", events.StageCompleted, backupID, nil))
	c.logger.Info("system restore completed", "backup_id", backupID)
	return nil
}

// ImportSystem loads an uploaded JSON file through the external import
// utility. Replace mode clears the records first; the import tool's
// upsert mode alone would leave rows the upload does not mention. The
// upload is removed no matter the outcome.
func (c *Coordinator) ImportSystem(ctx context.Context, uploadPath string, merge bool) error {
	defer os.Remove(uploadPath)

	c.hub.Broadcast(events.NewMessage("import", events.StageStarted, "", nil))

	if !merge {
		if _, err := c.store.DeleteAll(); err != nil {
			c.hub.Broadcast(events.NewMessage("import", events.StageFailed, "", map[string]any{"error": err.Error()}))
			return fmt.Errorf("clear records: %w", err)
		}
	}

	if _, err := c.runner.Run(ctx, c.cfg.Tools.Import, c.cmds.ImportArgs(uploadPath, merge)...); err != nil {
		c.hub.Broadcast(events.NewMessage("import", events.StageFailed, "", map[string]any{"error": err.Error()}))
		c.logger.Error("system import failed", "merge", merge, "error", err)
		return fmt.Errorf("import database: %w", err)
	}

	c.hub.Broadcast(events.NewMessage("import", events.StageCompleted, "", nil))
	c.logger.Info("system import completed", "merge", merge)
	return nil
}

// ImportArchive extracts an uploaded zip, locates the first JSON
// segment anywhere inside it, and feeds it to the import utility.
// The upload and the extraction directory are removed regardless of
// outcome.
func (c *Coordinator) ImportArchive(ctx context.Context, zipPath string, merge bool) error {
	defer os.Remove(zipPath)

	extractDir := filepath.Join(c.cfg.StagingRoot, fmt.Sprintf("import-%d", time.Now().UnixNano()))
	if err := os.MkdirAll(extractDir, 0755); err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}
	defer os.RemoveAll(extractDir)

	if err := archive.Unpack(zipPath, extractDir); err != nil {
		return fmt.Errorf("unpack archive: %w", err)
	}

	segment, err := staging.FindByExt(extractDir, ".json")
	if err != nil {
		return err
	}

	return c.ImportSystem(ctx, segment, merge)
}

// RestoreUserLatest replaces the owner's records with the contents of
// their most recent backup artifact.
func (c *Coordinator) RestoreUserLatest(ownerID, passphrase string) (*model.RestoreResult, error) {
	ownerRoot := filepath.Join(c.cfg.UserRoot, ownerID)
	backupID, err := latestSubdir(ownerRoot)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(ownerRoot, backupID)

	data, err := c.readUserArtifact(dir, passphrase)
	if err != nil {
		return nil, err
	}

	var records []model.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	restored, err := c.store.ReplaceOwner(ownerID, records)
	if err != nil {
		return nil, err
	}

	c.logger.Info("user restore completed", "owner", ownerID, "backup_id", backupID, "restored", restored)
	return &model.RestoreResult{BackupID: backupID, Total: len(records), Restored: restored}, nil
}

func (c *Coordinator) readUserArtifact(dir, passphrase string) ([]byte, error) {
	encPath := filepath.Join(dir, "backup.json.enc")
	if _, err := os.Stat(encPath); err == nil {
		if passphrase == "" {
			return nil, ErrPassphraseRequired
		}
		decPath := filepath.Join(os.TempDir(), fmt.Sprintf("geoinsight-restore-%d.json", time.Now().UnixNano()))
		defer os.Remove(decPath)
		if err := backup.DecryptFile(encPath, decPath, passphrase); err != nil {
			return nil, err
		}
		return os.ReadFile(decPath)
	}

	data, err := os.ReadFile(filepath.Join(dir, "backup.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("read backup file: %w", err)
	}
	return data, nil
}

// ImportUser merges a JSON array of records into the owner's data.
// A record is inserted only when the owner has no record for its
// country yet; existing data is never overwritten, so re-importing the
// same payload is a no-op.
func (c *Coordinator) ImportUser(ownerID string, r io.Reader) (*model.ImportResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read import payload: %w", err)
	}

	var records []model.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	result := &model.ImportResult{Total: len(records)}
	for i := range records {
		rec := records[i]
		country := strings.TrimSpace(rec.Country)
		if country == "" {
			result.Skipped++
			continue
		}

		exists, err := c.store.ExistsMergeKey(ownerID, country)
		if err != nil {
			return nil, fmt.Errorf("check merge key: %w", err)
		}
		if exists {
			result.Skipped++
			continue
		}

		rec.ID = 0
		rec.OwnerID = ownerID
		rec.CreatedAt = time.Time{}
		if _, err := c.store.Insert(&rec); err != nil {
			return nil, fmt.Errorf("import record: %w", err)
		}
		result.Inserted++
	}

	c.logger.Info("user import completed", "owner", ownerID,
		"total", result.Total, "inserted", result.Inserted, "skipped", result.Skipped)
	return result, nil
}
