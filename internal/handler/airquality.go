package handler

import (
	"log/slog"
	"net/http"

	"github.com/geoinsight/backend/internal/openaq"
)

// AirQualityHandler proxies live air-quality lookups. The endpoint is
// always 200: upstream trouble is encoded in the payload so clients
// keep working without air-quality data.
type AirQualityHandler struct {
	client *openaq.Client
	logger *slog.Logger
}

func NewAirQualityHandler(client *openaq.Client, logger *slog.Logger) *AirQualityHandler {
	return &AirQualityHandler{client: client, logger: logger.With("component", "airquality")}
}

func (h *AirQualityHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := openaq.Query{
		Lat:     r.URL.Query().Get("lat"),
		Lon:     r.URL.Query().Get("lon"),
		City:    r.URL.Query().Get("city"),
		Country: r.URL.Query().Get("country"),
	}

	result := h.client.Lookup(r.Context(), q)
	writeJSON(w, http.StatusOK, result)
}
