// Package backup produces system and per-owner backup artifacts and
// export files. System backups drive the external dump utility through
// a staging directory; user backups are written in process.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/geoinsight/backend/internal/archive"
	"github.com/geoinsight/backend/internal/config"
	"github.com/geoinsight/backend/internal/dbtool"
	"github.com/geoinsight/backend/internal/events"
	"github.com/geoinsight/backend/internal/model"
	"github.com/geoinsight/backend/internal/staging"
	"github.com/geoinsight/backend/internal/store"
)

// Manager coordinates backup and export operations.
type Manager struct {
	cfg        *config.Config
	store      *store.RecordStore
	runner     dbtool.Runner
	cmds       dbtool.Commands
	leases     *staging.LeaseRegistry
	hub        *events.Hub
	replicator *Replicator
	logger     *slog.Logger
}

func NewManager(cfg *config.Config, rs *store.RecordStore, runner dbtool.Runner, leases *staging.LeaseRegistry, hub *events.Hub, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  rs,
		runner: runner,
		cmds: dbtool.Commands{
			Target:   cfg.DBPath,
			Database: cfg.Database,
		},
		leases:     leases,
		hub:        hub,
		replicator: NewReplicator(cfg.S3, logger),
		logger:     logger.With("component", "backup"),
	}
}

// NewBackupID returns a fresh generation identifier.
func NewBackupID() string {
	return time.Now().UTC().Format(model.BackupIDFormat)
}

// CreateSystemBackup dumps the whole database into a new backup
// generation and packs it into a downloadable zip archive. The staged
// dump directory becomes the retained artifact under the admin backup
// root; the archive is transient and the returned cleanup must be
// called once it has been streamed (or the stream abandoned).
//
// Only one system backup may run at a time: a second concurrent call
// fails with staging.ErrConflict.
func (m *Manager) CreateSystemBackup(ctx context.Context) (archivePath, backupID string, cleanup func(), err error) {
	release, err := m.leases.Acquire(m.cfg.StagingRoot)
	if err != nil {
		return "", "", nil, err
	}
	defer release()

	backupID = NewBackupID()
	m.hub.Broadcast(events.NewMessage("backup", events.StageStarted, backupID, nil))

	stagingDir := filepath.Join(m.cfg.StagingRoot, backupID)
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return m.failSystemBackup(backupID, "", stagingDir, fmt.Errorf("create staging dir: %w", err))
	}

	out, err := m.runner.Run(ctx, m.cfg.Tools.Dump, m.cmds.DumpArgs(stagingDir)...)
	if err != nil {
		return m.failSystemBackup(backupID, "", stagingDir, fmt.Errorf("dump database: %w", err))
	}
	m.logger.Info("database dump finished", "backup_id", backupID, "output_bytes", len(out))

	manifest := model.Manifest{
		BackupID:  backupID,
		Database:  m.cfg.Database,
		CreatedAt: time.Now().UTC(),
	}
	if err := writeManifest(filepath.Join(stagingDir, "meta.json"), manifest); err != nil {
		return m.failSystemBackup(backupID, "", stagingDir, err)
	}

	archivePath = filepath.Join(os.TempDir(), fmt.Sprintf("geoinsight-backup-%s.zip", backupID))
	if err := archive.Pack(stagingDir, archivePath); err != nil {
		return m.failSystemBackup(backupID, archivePath, stagingDir, fmt.Errorf("pack archive: %w", err))
	}

	if err := os.MkdirAll(m.cfg.BackupRoot, 0755); err != nil {
		return m.failSystemBackup(backupID, archivePath, stagingDir, fmt.Errorf("create backup root: %w", err))
	}
	finalDir := filepath.Join(m.cfg.BackupRoot, backupID)
	if err := os.Rename(stagingDir, finalDir); err != nil {
		return m.failSystemBackup(backupID, archivePath, stagingDir, fmt.Errorf("promote backup: %w", err))
	}

	if err := m.replicator.Replicate(ctx, archivePath, backupID); err != nil {
		m.logger.Error("archive replication failed", "backup_id", backupID, "error", err)
	}

	m.hub.Broadcast(events.NewMessage("backup", events.StageCompleted, backupID, nil))
	m.logger.Info("system backup completed", "backup_id", backupID)

	cleanup = func() { os.Remove(archivePath) }
	return archivePath, backupID, cleanup, nil
}

func (m *Manager) failSystemBackup(backupID, archivePath, stagingDir string, err error) (string, string, func(), error) {
	if archivePath != "" {
		os.Remove(archivePath)
	}
	os.RemoveAll(stagingDir)
	m.hub.Broadcast(events.NewMessage("backup", events.StageFailed, backupID, map[string]any{"error": err.Error()}))
	m.logger.Error("system backup failed", "backup_id", backupID, "error", err)
	return "", "", nil, err
}

func writeManifest(path string, manifest model.Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// CreateUserBackup writes the owner's records as a JSON array under
// the per-owner backup root. With a non-empty passphrase the file is
// encrypted and the plaintext removed.
func (m *Manager) CreateUserBackup(ctx context.Context, ownerID, passphrase string) (string, error) {
	records, err := m.store.ListByOwner(ownerID)
	if err != nil {
		return "", fmt.Errorf("list records: %w", err)
	}

	backupID := NewBackupID()
	dir := filepath.Join(m.cfg.UserRoot, ownerID, backupID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("marshal records: %w", err)
	}

	jsonPath := filepath.Join(dir, "backup.json")
	if err := os.WriteFile(jsonPath, data, 0600); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("write backup file: %w", err)
	}

	if passphrase != "" {
		if err := EncryptFile(jsonPath, jsonPath+".enc", passphrase); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
		if err := os.Remove(jsonPath); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("remove plaintext: %w", err)
		}
	}

	m.logger.Info("user backup completed", "owner", ownerID, "backup_id", backupID, "records", len(records))
	return backupID, nil
}

// ExportSystem runs the export utility into a temp JSON file. The
// returned cleanup removes the file and must always be called.
func (m *Manager) ExportSystem(ctx context.Context) (string, func(), error) {
	outFile := filepath.Join(os.TempDir(), fmt.Sprintf("geoinsight-export-%d.json", time.Now().UnixNano()))

	if _, err := m.runner.Run(ctx, m.cfg.Tools.Export, m.cmds.ExportArgs(outFile)...); err != nil {
		os.Remove(outFile)
		return "", nil, fmt.Errorf("export database: %w", err)
	}

	cleanup := func() { os.Remove(outFile) }
	return outFile, cleanup, nil
}

// ExportUser returns the owner's records for in-process streaming.
// The slice is never nil so an empty export encodes as [].
func (m *Manager) ExportUser(ownerID string) ([]model.Record, error) {
	records, err := m.store.ListByOwner(ownerID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if records == nil {
		records = []model.Record{}
	}
	return records, nil
}
