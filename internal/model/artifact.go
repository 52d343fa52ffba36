package model

import "time"

// BackupIDFormat is the layout of a backup generation identifier.
// UTC, second precision; lexicographic order equals temporal order, so
// "latest" resolves to the greatest directory name under a scope.
const BackupIDFormat = "20060102T150405"

// Manifest describes a system backup artifact. Written as meta.json
// next to the dump segment inside the staging directory.
type Manifest struct {
	BackupID  string    `json:"backup_id"`
	Database  string    `json:"database"`
	CreatedAt time.Time `json:"created_at"`
}

// ImportResult reports the outcome of a merge import.
type ImportResult struct {
	Total    int `json:"total"`
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// RestoreResult reports the outcome of a replace restore.
type RestoreResult struct {
	BackupID string `json:"backupId"`
	Total    int    `json:"total"`
	Restored int    `json:"restored"`
}
