package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/geoinsight/backend/internal/auth"
	"github.com/geoinsight/backend/internal/database"
	"github.com/geoinsight/backend/internal/model"
	"github.com/geoinsight/backend/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupRecordHandler(t *testing.T) (*RecordHandler, *store.RecordStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	rs := store.NewRecordStore(db)
	return NewRecordHandler(rs, testLogger()), rs
}

func authedRequest(method, target string, body io.Reader, subject, role string) *http.Request {
	r := httptest.NewRequest(method, target, body)
	return r.WithContext(auth.WithIdentity(r.Context(), auth.Identity{Subject: subject, Role: role}))
}

func TestCreateRecordDerivesPM25(t *testing.T) {
	h, _ := setupRecordHandler(t)

	body := `{
		"country": "Vietnam",
		"metadata": {"capital": "Hanoi", "countryCode": "VN"},
		"weather": {"temperature": 28.4, "description": "haze"},
		"airQuality": [
			{"parameter": "pm2.5", "value": 40, "locationName": "Hanoi", "measuredAt": "2026-03-01T12:00:00Z"},
			{"parameter": "pm2.5", "value": 10, "locationName": "Hanoi", "measuredAt": "2026-03-01T10:00:00Z"}
		]
	}`
	req := authedRequest(http.MethodPost, "/api/records", strings.NewReader(body), "u1", auth.RoleUser)
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var saved model.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &saved); err != nil {
		t.Fatal(err)
	}
	if saved.OwnerID != "u1" {
		t.Errorf("owner = %q, want u1", saved.OwnerID)
	}
	if saved.RecordID == "" {
		t.Error("recordId not generated")
	}
	if saved.PM25 == nil || *saved.PM25 != 40 {
		t.Errorf("pm25 = %v, want 40 (latest per station)", saved.PM25)
	}
	if saved.AirQualityStatus != "Unhealthy for Sensitive" {
		t.Errorf("status = %q", saved.AirQualityStatus)
	}
	if saved.Capital != "Hanoi" || saved.Temperature == nil || *saved.Temperature != 28.4 {
		t.Errorf("metadata/weather not stored: %+v", saved)
	}
}

func TestCreateRecordOwnerFromContextOnly(t *testing.T) {
	h, _ := setupRecordHandler(t)

	// userId in the body must be ignored.
	body := `{"country": "Vietnam", "userId": "attacker"}`
	req := authedRequest(http.MethodPost, "/api/records", strings.NewReader(body), "u1", auth.RoleUser)
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	var saved model.Record
	json.Unmarshal(rec.Body.Bytes(), &saved)
	if saved.OwnerID != "u1" {
		t.Errorf("owner = %q, body userId was honored", saved.OwnerID)
	}
}

func TestCreateRecordNoMeasurements(t *testing.T) {
	h, _ := setupRecordHandler(t)

	req := authedRequest(http.MethodPost, "/api/records", strings.NewReader(`{"country": "Vietnam"}`), "u1", auth.RoleUser)
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	var saved model.Record
	json.Unmarshal(rec.Body.Bytes(), &saved)
	if saved.PM25 != nil {
		t.Errorf("pm25 = %v, want nil", saved.PM25)
	}
	if saved.AirQualityStatus != "" {
		t.Errorf("airQualityStatus = %q, want empty", saved.AirQualityStatus)
	}
}

func TestCreateRecordValidation(t *testing.T) {
	h, _ := setupRecordHandler(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing country", `{}`},
		{"invalid json", `{`},
		{"humidity out of range", `{"country": "Vietnam", "weather": {"humidity": 250}}`},
	}
	for _, c := range cases {
		req := authedRequest(http.MethodPost, "/api/records", strings.NewReader(c.body), "u1", auth.RoleUser)
		rec := httptest.NewRecorder()
		h.Create(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", c.name, rec.Code)
		}
	}
}

func TestListScopedToOwner(t *testing.T) {
	h, rs := setupRecordHandler(t)

	rs.Insert(&model.Record{OwnerID: "u1", Country: "Vietnam"})
	rs.Insert(&model.Record{OwnerID: "u2", Country: "Japan"})

	req := authedRequest(http.MethodGet, "/api/records", nil, "u1", auth.RoleUser)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	var records []model.Record
	json.Unmarshal(rec.Body.Bytes(), &records)
	if len(records) != 1 || records[0].Country != "Vietnam" {
		t.Errorf("records = %+v", records)
	}
}

func TestListAdminOwnerTargeting(t *testing.T) {
	h, rs := setupRecordHandler(t)

	rs.Insert(&model.Record{OwnerID: "u1", Country: "Vietnam"})

	// Plain users cannot target someone else.
	req := authedRequest(http.MethodGet, "/api/records?owner=u1", nil, "u2", auth.RoleUser)
	rec := httptest.NewRecorder()
	h.List(rec, req)
	var records []model.Record
	json.Unmarshal(rec.Body.Bytes(), &records)
	if len(records) != 0 {
		t.Errorf("user targeting leaked %d records", len(records))
	}

	// Admins can.
	req = authedRequest(http.MethodGet, "/api/records?owner=u1", nil, "admin1", auth.RoleAdmin)
	rec = httptest.NewRecorder()
	h.List(rec, req)
	json.Unmarshal(rec.Body.Bytes(), &records)
	if len(records) != 1 {
		t.Errorf("admin targeting records = %d, want 1", len(records))
	}
}

func TestStats(t *testing.T) {
	h, rs := setupRecordHandler(t)

	rs.Insert(&model.Record{OwnerID: "u1", Country: "Vietnam"})
	rs.Insert(&model.Record{OwnerID: "u1", Country: "Vietnam"})
	rs.Insert(&model.Record{OwnerID: "u1", Country: "Japan"})

	req := authedRequest(http.MethodGet, "/api/records/stats", nil, "u1", auth.RoleUser)
	rec := httptest.NewRecorder()
	h.Stats(rec, req)

	var stats model.Stats
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats.TotalRecords != 3 || stats.UniqueCountriesCount != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestDeleteRecord(t *testing.T) {
	h, rs := setupRecordHandler(t)

	saved, err := rs.Insert(&model.Record{OwnerID: "u1", Country: "Vietnam"})
	if err != nil {
		t.Fatal(err)
	}

	// Unknown id.
	req := authedRequest(http.MethodDelete, "/api/records/missing", nil, "u1", auth.RoleUser)
	req.SetPathValue("recordId", "missing")
	rec := httptest.NewRecorder()
	h.Delete(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", rec.Code)
	}

	// Someone else's record.
	req = authedRequest(http.MethodDelete, "/api/records/"+saved.RecordID, nil, "u2", auth.RoleUser)
	req.SetPathValue("recordId", saved.RecordID)
	rec = httptest.NewRecorder()
	h.Delete(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign delete status = %d, want 403", rec.Code)
	}

	// Owner delete.
	req = authedRequest(http.MethodDelete, "/api/records/"+saved.RecordID, nil, "u1", auth.RoleUser)
	req.SetPathValue("recordId", saved.RecordID)
	rec = httptest.NewRecorder()
	h.Delete(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("owner delete status = %d, want 200", rec.Code)
	}
}

func TestDeleteRecordAdmin(t *testing.T) {
	h, rs := setupRecordHandler(t)

	saved, err := rs.Insert(&model.Record{OwnerID: "u1", Country: "Vietnam"})
	if err != nil {
		t.Fatal(err)
	}

	req := authedRequest(http.MethodDelete, "/api/records/"+saved.RecordID, nil, "admin1", auth.RoleAdmin)
	req.SetPathValue("recordId", saved.RecordID)
	rec := httptest.NewRecorder()
	h.Delete(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("admin delete status = %d, want 200", rec.Code)
	}
}

func TestHistoryDaysValidation(t *testing.T) {
	h, _ := setupRecordHandler(t)

	for _, days := range []string{"0", "-3", "week"} {
		req := authedRequest(http.MethodGet, "/api/records/history/hanoi?days="+days, nil, "u1", auth.RoleUser)
		req.SetPathValue("location", "hanoi")
		rec := httptest.NewRecorder()
		h.History(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("days=%s status = %d, want 400", days, rec.Code)
		}
	}
}

func TestHistoryDefaultWindow(t *testing.T) {
	h, rs := setupRecordHandler(t)

	rs.Insert(&model.Record{OwnerID: "u1", Country: "Vietnam", Capital: "Hanoi"})

	req := authedRequest(http.MethodGet, "/api/records/history/hanoi", nil, "u1", auth.RoleUser)
	req.SetPathValue("location", "hanoi")
	rec := httptest.NewRecorder()
	h.History(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var records []model.Record
	json.Unmarshal(rec.Body.Bytes(), &records)
	if len(records) != 1 {
		t.Errorf("records = %d, want 1", len(records))
	}
}

func TestCompareAirQualityEmpty(t *testing.T) {
	h, _ := setupRecordHandler(t)

	req := authedRequest(http.MethodGet, "/api/records/compare-airquality", nil, "u1", auth.RoleUser)
	rec := httptest.NewRecorder()
	h.CompareAirQuality(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}
