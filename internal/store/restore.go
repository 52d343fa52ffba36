package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geoinsight/backend/internal/model"
)

// Bulk operations backing the restore/import coordinator.

// DeleteAll destructively clears every record. Used by the replace
// policy at system scope.
func (s *RecordStore) DeleteAll() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM records`)
	if err != nil {
		return 0, fmt.Errorf("delete all records: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DeleteByOwner destructively clears one owner's records. Used by the
// replace policy at owner scope.
func (s *RecordStore) DeleteByOwner(ownerID string) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM records WHERE owner_id = ?`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete owner records: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// ReplaceOwner swaps one owner's records for the given set inside a
// single transaction, so a failure mid-way leaves the existing rows
// untouched. Ownership is forced onto every incoming record, internal
// ids are reissued, and records without a country are dropped.
// Returns the number of records written.
func (s *RecordStore) ReplaceOwner(ownerID string, recs []model.Record) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM records WHERE owner_id = ?`, ownerID); err != nil {
		return 0, fmt.Errorf("delete owner records: %w", err)
	}

	restored := 0
	for i := range recs {
		rec := recs[i]
		rec.ID = 0
		rec.OwnerID = ownerID
		rec.CreatedAt = time.Time{}
		if strings.TrimSpace(rec.Country) == "" {
			continue
		}
		if _, err := s.insertWith(tx, &rec); err != nil {
			return 0, fmt.Errorf("restore record: %w", err)
		}
		restored++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit replace: %w", err)
	}
	return restored, nil
}

// ExistsMergeKey reports whether the owner already has a record for
// the given country. The (owner, country) pair is the merge key: the
// merge policy inserts only when it is absent and never overwrites.
func (s *RecordStore) ExistsMergeKey(ownerID, country string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM records WHERE owner_id = ? AND country = ? LIMIT 1`,
		ownerID, country,
	).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check merge key: %w", err)
}
