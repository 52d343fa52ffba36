package aqi

import (
	"math"
	"testing"
	"time"

	"github.com/geoinsight/backend/internal/model"
)

func TestClassifyPM25Boundaries(t *testing.T) {
	cases := []struct {
		value float64
		want  string
	}{
		{11.9, StatusGood},
		{12.0, StatusGood},
		{12.1, StatusModerate},
		{35.4, StatusModerate},
		{35.5, StatusUnhealthySens},
		{55.4, StatusUnhealthySens},
		{150.4, StatusUnhealthy},
		{250.4, StatusVeryUnhealthy},
		{250.5, StatusHazardous},
		{500, StatusHazardous},
	}
	for _, tc := range cases {
		if got := Classify(tc.value, "pm2.5"); got != tc.want {
			t.Errorf("Classify(%v, pm2.5) = %q, want %q", tc.value, got, tc.want)
		}
	}
}

func TestClassifyPM10(t *testing.T) {
	cases := []struct {
		value float64
		want  string
	}{
		{54, StatusGood},
		{55, StatusModerate},
		{154, StatusModerate},
		{254, StatusUnhealthySens},
		{354, StatusUnhealthy},
		{424, StatusVeryUnhealthy},
		{425, StatusHazardous},
	}
	for _, tc := range cases {
		if got := Classify(tc.value, "PM10"); got != tc.want {
			t.Errorf("Classify(%v, PM10) = %q, want %q", tc.value, got, tc.want)
		}
	}
}

func TestClassifyGeneric(t *testing.T) {
	if got := Classify(50, "no2"); got != StatusGood {
		t.Errorf("Classify(50, no2) = %q, want %q", got, StatusGood)
	}
	if got := Classify(301, "o3"); got != StatusHazardous {
		t.Errorf("Classify(301, o3) = %q, want %q", got, StatusHazardous)
	}
}

func TestClassifyNaN(t *testing.T) {
	if got := Classify(math.NaN(), "pm25"); got != StatusUnknown {
		t.Errorf("Classify(NaN) = %q, want %q", got, StatusUnknown)
	}
}

func TestIsPM25Parameter(t *testing.T) {
	for _, p := range []string{"pm2.5", "PM2.5", "pm25", "PM25", "pm2_5"} {
		if !IsPM25Parameter(p) {
			t.Errorf("IsPM25Parameter(%q) = false, want true", p)
		}
	}
	for _, p := range []string{"pm10", "no2", ""} {
		if IsPM25Parameter(p) {
			t.Errorf("IsPM25Parameter(%q) = true, want false", p)
		}
	}
}

func TestReducePM25LatestPerStation(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	// Two readings from the same station: only the latest counts.
	ms := []model.Measurement{
		{Parameter: "pm2.5", Value: 40, LocationName: "Hanoi", MeasuredAt: t1},
		{Parameter: "pm2.5", Value: 10, LocationName: "Hanoi", MeasuredAt: t0},
	}
	v, ok := ReducePM25(ms)
	if !ok {
		t.Fatal("expected a value")
	}
	if v != 40 {
		t.Errorf("value = %v, want 40", v)
	}
	if got := Classify(v, "pm2.5"); got != StatusUnhealthySens {
		t.Errorf("status = %q, want %q", got, StatusUnhealthySens)
	}
}

func TestReducePM25MeanAcrossStations(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	ms := []model.Measurement{
		{Parameter: "pm25", Value: 30, LocationName: "A", MeasuredAt: t1},
		{Parameter: "PM2_5", Value: 10, LocationName: "B", MeasuredAt: t0},
		{Parameter: "pm25", Value: 99, LocationName: "A", MeasuredAt: t0}, // stale
		{Parameter: "pm10", Value: 999, LocationName: "C", MeasuredAt: t1},
	}
	v, ok := ReducePM25(ms)
	if !ok {
		t.Fatal("expected a value")
	}
	if v != 20 {
		t.Errorf("value = %v, want 20", v)
	}
}

func TestReducePM25NoQualifying(t *testing.T) {
	ms := []model.Measurement{
		{Parameter: "pm10", Value: 20, LocationName: "A"},
		{Parameter: "pm2.5", Value: math.NaN(), LocationName: "B"},
	}
	if _, ok := ReducePM25(ms); ok {
		t.Error("expected ok = false with no qualifying measurements")
	}
	if _, ok := ReducePM25(nil); ok {
		t.Error("expected ok = false for empty input")
	}
}
