package model

import "time"

// Record is one environmental snapshot for a country, owned by the
// authenticated subject that submitted it.
type Record struct {
	// ID is the storage-internal row id. It is never exported in
	// backup artifacts and is stripped on import.
	ID int64 `json:"-"`

	RecordID string `json:"recordId"`
	OwnerID  string `json:"userId"`

	Country     string   `json:"country"`
	CountryCode string   `json:"countryCode,omitempty"`
	Capital     string   `json:"capital,omitempty"`
	Population  int64    `json:"population,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Languages   []string `json:"languages,omitempty"`
	Flag        string   `json:"flag,omitempty"`
	Region      string   `json:"region,omitempty"`
	Subregion   string   `json:"subregion,omitempty"`

	// Timestamp is the snapshot instant and the sort key. Defaults to
	// ingestion time when the caller does not supply one.
	Timestamp time.Time `json:"timestamp"`

	Temperature        *float64 `json:"temperature,omitempty"`
	FeelsLike          *float64 `json:"feelsLike,omitempty"`
	Humidity           *float64 `json:"humidity,omitempty"`
	Pressure           *float64 `json:"pressure,omitempty"`
	WeatherDescription string   `json:"weatherDescription,omitempty"`

	PM25             *float64 `json:"pm25,omitempty"`
	AirQualityStatus string   `json:"airQualityStatus,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Stats summarizes one owner's records.
type Stats struct {
	TotalRecords         int64 `json:"totalRecords"`
	UniqueCountriesCount int   `json:"uniqueCountriesCount"`
}

// PM25Comparison is one row of the cross-location PM2.5 aggregate.
type PM25Comparison struct {
	Capital    string    `json:"capital"`
	Country    string    `json:"country"`
	AvgPM25    float64   `json:"avgPM25"`
	MaxPM25    float64   `json:"maxPM25"`
	MinPM25    float64   `json:"minPM25"`
	Count      int64     `json:"count"`
	LastUpdate time.Time `json:"lastUpdate"`
}
