// Package aqi classifies air-quality readings and reduces a set of
// station measurements to a single PM2.5 value.
package aqi

import (
	"math"
	"strings"

	"github.com/geoinsight/backend/internal/model"
)

// Status labels, ordered from clean to hazardous.
const (
	StatusGood          = "Good"
	StatusModerate      = "Moderate"
	StatusUnhealthySens = "Unhealthy for Sensitive"
	StatusUnhealthy     = "Unhealthy"
	StatusVeryUnhealthy = "Very Unhealthy"
	StatusHazardous     = "Hazardous"
	StatusUnknown       = "Unknown"
)

type band struct {
	upper  float64
	status string
}

// Threshold tables in µg/m³. Upper bounds are inclusive.
var (
	pm25Bands = []band{
		{12, StatusGood},
		{35.4, StatusModerate},
		{55.4, StatusUnhealthySens},
		{150.4, StatusUnhealthy},
		{250.4, StatusVeryUnhealthy},
	}
	pm10Bands = []band{
		{54, StatusGood},
		{154, StatusModerate},
		{254, StatusUnhealthySens},
		{354, StatusUnhealthy},
		{424, StatusVeryUnhealthy},
	}
	genericBands = []band{
		{50, StatusGood},
		{100, StatusModerate},
		{150, StatusUnhealthySens},
		{200, StatusUnhealthy},
		{300, StatusVeryUnhealthy},
	}
)

// Classify maps a measurement value to a status label. The parameter
// name selects the threshold table: PM2.5 and PM10 have their own,
// anything else uses the generic one.
func Classify(value float64, parameter string) string {
	if math.IsNaN(value) {
		return StatusUnknown
	}

	p := strings.ToLower(parameter)
	var bands []band
	switch {
	case strings.Contains(p, "pm25") || strings.Contains(p, "pm2.5") || strings.Contains(p, "pm2_5"):
		bands = pm25Bands
	case strings.Contains(p, "pm10"):
		bands = pm10Bands
	default:
		bands = genericBands
	}

	for _, b := range bands {
		if value <= b.upper {
			return b.status
		}
	}
	return StatusHazardous
}

// IsPM25Parameter reports whether the parameter name is a PM2.5
// variant, case-insensitively.
func IsPM25Parameter(parameter string) bool {
	switch strings.ToLower(strings.TrimSpace(parameter)) {
	case "pm2.5", "pm25", "pm2_5":
		return true
	}
	return false
}

// ReducePM25 derives a single PM2.5 value from a set of station
// measurements: PM2.5-parameter entries with a usable numeric value
// are grouped by station name, only the most recently measured value
// per station is kept, and the result is the mean of those latest
// values. ok is false when no qualifying measurement exists.
func ReducePM25(measurements []model.Measurement) (value float64, ok bool) {
	latest := make(map[string]model.Measurement)
	for _, m := range measurements {
		if !IsPM25Parameter(m.Parameter) {
			continue
		}
		if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
			continue
		}
		prev, seen := latest[m.LocationName]
		if !seen || m.MeasuredAt.After(prev.MeasuredAt) {
			latest[m.LocationName] = m
		}
	}

	if len(latest) == 0 {
		return 0, false
	}

	var sum float64
	for _, m := range latest {
		sum += m.Value
	}
	return sum / float64(len(latest)), true
}
