package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/geoinsight/backend/internal/model"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("record not found")
	// ErrForbidden is returned when the requester does not own the
	// record and lacks the admin role.
	ErrForbidden = errors.New("not your record")
)

// ValidationError reports a missing or invalid field on insert.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type RecordStore struct {
	db *sql.DB
}

func NewRecordStore(db *sql.DB) *RecordStore {
	return &RecordStore{db: db}
}

const recordCols = `id, record_id, owner_id, country, country_code, capital, population, currency, languages, flag, region, subregion, timestamp, temperature, feels_like, humidity, pressure, weather_description, pm25, air_quality_status, created_at`

func scanRecord(scanner interface{ Scan(...any) error }) (*model.Record, error) {
	var r model.Record
	var languages string
	var temperature, feelsLike, humidity, pressure, pm25 sql.NullFloat64

	err := scanner.Scan(
		&r.ID, &r.RecordID, &r.OwnerID, &r.Country, &r.CountryCode,
		&r.Capital, &r.Population, &r.Currency, &languages, &r.Flag,
		&r.Region, &r.Subregion, &r.Timestamp,
		&temperature, &feelsLike, &humidity, &pressure,
		&r.WeatherDescription, &pm25, &r.AirQualityStatus, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if languages != "" {
		if err := json.Unmarshal([]byte(languages), &r.Languages); err != nil {
			return nil, fmt.Errorf("decode languages: %w", err)
		}
	}
	if temperature.Valid {
		r.Temperature = &temperature.Float64
	}
	if feelsLike.Valid {
		r.FeelsLike = &feelsLike.Float64
	}
	if humidity.Valid {
		r.Humidity = &humidity.Float64
	}
	if pressure.Valid {
		r.Pressure = &pressure.Float64
	}
	if pm25.Valid {
		r.PM25 = &pm25.Float64
	}
	return &r, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// execQuerier is the slice of database/sql shared by *sql.DB and
// *sql.Tx, letting inserts run standalone or inside a transaction.
type execQuerier interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Insert persists a new record. The record's OwnerID and Country must
// be present; RecordID and Timestamp are generated when empty.
func (s *RecordStore) Insert(rec *model.Record) (*model.Record, error) {
	return s.insertWith(s.db, rec)
}

func (s *RecordStore) insertWith(q execQuerier, rec *model.Record) (*model.Record, error) {
	if strings.TrimSpace(rec.OwnerID) == "" {
		return nil, &ValidationError{Field: "userId", Message: "userId is required"}
	}
	if strings.TrimSpace(rec.Country) == "" {
		return nil, &ValidationError{Field: "country", Message: "country is required"}
	}

	if rec.RecordID == "" {
		rec.RecordID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	languages, err := json.Marshal(rec.Languages)
	if err != nil {
		return nil, fmt.Errorf("encode languages: %w", err)
	}
	if rec.Languages == nil {
		languages = []byte("[]")
	}

	result, err := q.Exec(
		`INSERT INTO records (record_id, owner_id, country, country_code, capital, population, currency, languages, flag, region, subregion, timestamp, temperature, feels_like, humidity, pressure, weather_description, pm25, air_quality_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RecordID, rec.OwnerID, rec.Country, rec.CountryCode,
		rec.Capital, rec.Population, rec.Currency, string(languages),
		rec.Flag, rec.Region, rec.Subregion, rec.Timestamp.UTC(),
		nullFloat(rec.Temperature), nullFloat(rec.FeelsLike),
		nullFloat(rec.Humidity), nullFloat(rec.Pressure),
		rec.WeatherDescription, nullFloat(rec.PM25), rec.AirQualityStatus,
	)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	row := q.QueryRow(`SELECT `+recordCols+` FROM records WHERE id = ?`, id)
	stored, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("get inserted record: %w", err)
	}
	return stored, nil
}

// ListByOwner returns all of one owner's records, newest first.
func (s *RecordStore) ListByOwner(ownerID string) ([]model.Record, error) {
	rows, err := s.db.Query(
		`SELECT `+recordCols+` FROM records WHERE owner_id = ? ORDER BY timestamp DESC, id DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]model.Record, error) {
	var records []model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// GetByRecordID returns the record with the given public identifier,
// or nil when absent. When duplicates exist the newest is returned.
func (s *RecordStore) GetByRecordID(recordID string) (*model.Record, error) {
	row := s.db.QueryRow(
		`SELECT `+recordCols+` FROM records WHERE record_id = ? ORDER BY timestamp DESC LIMIT 1`,
		recordID,
	)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

// DeleteByRecordID removes every row sharing recordID. The requester
// must own the record or hold the admin role. Deletion is exhaustive:
// an external identifier reused across partitions leaves nothing
// behind.
func (s *RecordStore) DeleteByRecordID(recordID, requesterID string, privileged bool) error {
	existing, err := s.GetByRecordID(recordID)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}
	if existing.OwnerID != requesterID && !privileged {
		return ErrForbidden
	}

	if _, err := s.db.Exec(`DELETE FROM records WHERE record_id = ?`, recordID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// CountByOwner returns the number of records an owner holds.
func (s *RecordStore) CountByOwner(ownerID string) (int64, error) {
	var count int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM records WHERE owner_id = ?`, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// DistinctCountries returns the set of countries an owner has snapshots
// for, sorted for stable output.
func (s *RecordStore) DistinctCountries(ownerID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT country FROM records WHERE owner_id = ? ORDER BY country ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("distinct countries: %w", err)
	}
	defer rows.Close()

	var countries []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan country: %w", err)
		}
		countries = append(countries, c)
	}
	return countries, rows.Err()
}

// History returns the owner's records since the given instant whose
// country or capital contains location, case-insensitively. Newest
// first.
func (s *RecordStore) History(ownerID, location string, since time.Time) ([]model.Record, error) {
	pattern := "%" + strings.ToLower(location) + "%"
	rows, err := s.db.Query(
		`SELECT `+recordCols+` FROM records
		 WHERE owner_id = ? AND timestamp >= ?
		   AND (LOWER(country) LIKE ? OR LOWER(capital) LIKE ?)
		 ORDER BY timestamp DESC, id DESC`,
		ownerID, since.UTC(), pattern, pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// ComparePM25 aggregates PM2.5 across the owner's locations since the
// given instant. Only records with a derived pm25 participate. Sorted
// by average descending.
func (s *RecordStore) ComparePM25(ownerID string, since time.Time) ([]model.PM25Comparison, error) {
	rows, err := s.db.Query(
		`SELECT capital, country, AVG(pm25), MAX(pm25), MIN(pm25), COUNT(*), MAX(timestamp)
		 FROM records
		 WHERE owner_id = ? AND pm25 IS NOT NULL AND timestamp >= ?
		 GROUP BY capital, country
		 ORDER BY AVG(pm25) DESC`,
		ownerID, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("compare pm25: %w", err)
	}
	defer rows.Close()

	var out []model.PM25Comparison
	for rows.Next() {
		var c model.PM25Comparison
		// MAX(timestamp) loses the column's declared type, so the
		// driver hands it back as text.
		var last string
		if err := rows.Scan(&c.Capital, &c.Country, &c.AvgPM25, &c.MaxPM25, &c.MinPM25, &c.Count, &last); err != nil {
			return nil, fmt.Errorf("scan comparison: %w", err)
		}
		c.LastUpdate, err = parseStoredTime(last)
		if err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func parseStoredTime(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999 -0700 MST",
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
