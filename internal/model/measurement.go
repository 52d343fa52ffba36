package model

import "time"

// Coordinates is a lat/lon pair as reported by the air-quality provider.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Measurement is a single air-quality sensor reading, either submitted
// by a caller at ingestion or returned from the upstream lookup.
type Measurement struct {
	Parameter    string       `json:"parameter"`
	Value        float64      `json:"value"`
	Unit         string       `json:"unit,omitempty"`
	Status       string       `json:"status,omitempty"`
	MeasuredAt   time.Time    `json:"measuredAt"`
	LocationName string       `json:"locationName,omitempty"`
	Coordinates  *Coordinates `json:"coordinates,omitempty"`
}
