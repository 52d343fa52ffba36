package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/geoinsight/backend/internal/aqi"
	"github.com/geoinsight/backend/internal/auth"
	"github.com/geoinsight/backend/internal/model"
	"github.com/geoinsight/backend/internal/store"
)

const defaultWindowDays = 7

type RecordHandler struct {
	records  *store.RecordStore
	validate *validator.Validate
	logger   *slog.Logger
}

func NewRecordHandler(rs *store.RecordStore, logger *slog.Logger) *RecordHandler {
	return &RecordHandler{
		records:  rs,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("component", "records"),
	}
}

type metadataPayload struct {
	CountryCode string   `json:"countryCode" validate:"omitempty,max=3"`
	Capital     string   `json:"capital"`
	Population  int64    `json:"population" validate:"omitempty,gte=0"`
	Currency    string   `json:"currency"`
	Languages   []string `json:"languages"`
	Flag        string   `json:"flag"`
	Region      string   `json:"region"`
	Subregion   string   `json:"subregion"`
}

type weatherPayload struct {
	Temperature *float64 `json:"temperature"`
	FeelsLike   *float64 `json:"feelsLike"`
	Humidity    *float64 `json:"humidity" validate:"omitempty,gte=0,lte=100"`
	Pressure    *float64 `json:"pressure" validate:"omitempty,gte=0"`
	Description string   `json:"description"`
}

type createRecordRequest struct {
	Country    string              `json:"country" validate:"required"`
	Timestamp  *time.Time          `json:"timestamp"`
	Metadata   *metadataPayload    `json:"metadata"`
	Weather    *weatherPayload     `json:"weather"`
	AirQuality []model.Measurement `json:"airQuality"`
}

// Create ingests one snapshot. Ownership always comes from the
// verified caller identity, never from the body.
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.Subject(r.Context())

	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) && len(vErrs) > 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"message": "validation failed",
				"field":   vErrs[0].Field(),
				"rule":    vErrs[0].Tag(),
			})
			return
		}
		writeMessage(w, http.StatusBadRequest, "validation failed")
		return
	}

	rec := model.Record{
		OwnerID: ownerID,
		Country: req.Country,
	}
	if req.Timestamp != nil {
		rec.Timestamp = req.Timestamp.UTC()
	}
	if m := req.Metadata; m != nil {
		rec.CountryCode = m.CountryCode
		rec.Capital = m.Capital
		rec.Population = m.Population
		rec.Currency = m.Currency
		rec.Languages = m.Languages
		rec.Flag = m.Flag
		rec.Region = m.Region
		rec.Subregion = m.Subregion
	}
	if wx := req.Weather; wx != nil {
		rec.Temperature = wx.Temperature
		rec.FeelsLike = wx.FeelsLike
		rec.Humidity = wx.Humidity
		rec.Pressure = wx.Pressure
		rec.WeatherDescription = wx.Description
	}

	if pm25, ok := aqi.ReducePM25(req.AirQuality); ok {
		rec.PM25 = &pm25
		rec.AirQualityStatus = aqi.Classify(pm25, "pm25")
	}

	saved, err := h.records.Insert(&rec)
	if err != nil {
		var vErr *store.ValidationError
		if errors.As(err, &vErr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"message": vErr.Message,
				"field":   vErr.Field,
			})
			return
		}
		h.logger.Error("create record failed", "owner", ownerID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Failed to save record")
		return
	}

	writeJSON(w, http.StatusCreated, saved)
}

// targetOwner resolves the owner whose data the request addresses.
// Admins may target another owner with ?owner=.
func targetOwner(r *http.Request) string {
	owner := auth.Subject(r.Context())
	if target := r.URL.Query().Get("owner"); target != "" && auth.IsAdmin(r.Context()) {
		owner = target
	}
	return owner
}

func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID := targetOwner(r)

	records, err := h.records.ListByOwner(ownerID)
	if err != nil {
		h.logger.Error("list records failed", "owner", ownerID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Failed to fetch records")
		return
	}
	if records == nil {
		records = []model.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *RecordHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ownerID := targetOwner(r)

	total, err := h.records.CountByOwner(ownerID)
	if err != nil {
		h.logger.Error("count records failed", "owner", ownerID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Failed to fetch statistics")
		return
	}
	countries, err := h.records.DistinctCountries(ownerID)
	if err != nil {
		h.logger.Error("distinct countries failed", "owner", ownerID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Failed to fetch statistics")
		return
	}

	writeJSON(w, http.StatusOK, model.Stats{
		TotalRecords:         total,
		UniqueCountriesCount: len(countries),
	})
}

func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	recordID := r.PathValue("recordId")
	requester := auth.Subject(r.Context())

	err := h.records.DeleteByRecordID(recordID, requester, auth.IsAdmin(r.Context()))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Record not found")
	case errors.Is(err, store.ErrForbidden):
		writeMessage(w, http.StatusForbidden, "Forbidden: not your record")
	case err != nil:
		h.logger.Error("delete record failed", "record_id", recordID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Failed to delete record")
	default:
		writeMessage(w, http.StatusOK, "Record deleted successfully")
	}
}

// windowDays parses ?days=N, defaulting to a week.
func windowDays(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return defaultWindowDays, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return 0, errors.New("days must be a positive integer")
	}
	return days, nil
}

func (h *RecordHandler) History(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.Subject(r.Context())
	location := r.PathValue("location")

	days, err := windowDays(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	records, err := h.records.History(ownerID, location, since)
	if err != nil {
		h.logger.Error("history query failed", "owner", ownerID, "location", location, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Failed to fetch history")
		return
	}
	if records == nil {
		records = []model.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *RecordHandler) CompareAirQuality(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.Subject(r.Context())

	days, err := windowDays(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	comparisons, err := h.records.ComparePM25(ownerID, since)
	if err != nil {
		h.logger.Error("pm25 comparison failed", "owner", ownerID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Failed to compare air quality")
		return
	}
	if comparisons == nil {
		comparisons = []model.PM25Comparison{}
	}
	writeJSON(w, http.StatusOK, comparisons)
}
