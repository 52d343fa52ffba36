// Package server wires stores, coordinators and handlers into the
// HTTP API.
package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/geoinsight/backend/internal/backup"
	"github.com/geoinsight/backend/internal/config"
	"github.com/geoinsight/backend/internal/dbtool"
	"github.com/geoinsight/backend/internal/events"
	"github.com/geoinsight/backend/internal/handler"
	"github.com/geoinsight/backend/internal/middleware"
	"github.com/geoinsight/backend/internal/openaq"
	"github.com/geoinsight/backend/internal/restore"
	"github.com/geoinsight/backend/internal/staging"
	"github.com/geoinsight/backend/internal/store"
)

type Server struct {
	db          *sql.DB
	cfg         *config.Config
	hub         *events.Hub
	recordH     *handler.RecordHandler
	airQualityH *handler.AirQualityHandler
	adminDBH    *handler.AdminDBHandler
	userDBH     *handler.UserDBHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(cfg *config.Config, db *sql.DB, logger *slog.Logger) *Server {
	hub := events.NewHub(logger.With("component", "events"))

	recordStore := store.NewRecordStore(db)
	runner := dbtool.ExecRunner{}
	leases := staging.NewLeaseRegistry()

	backupMgr := backup.NewManager(cfg, recordStore, runner, leases, hub, logger)
	restoreCo := restore.NewCoordinator(cfg, recordStore, runner, hub, logger)
	aqClient := openaq.NewClient(cfg.OpenAQBaseURL, cfg.OpenAQAPIKey, cfg.HTTPTimeout, logger)

	return &Server{
		db:          db,
		cfg:         cfg,
		hub:         hub,
		recordH:     handler.NewRecordHandler(recordStore, logger),
		airQualityH: handler.NewAirQualityHandler(aqClient, logger),
		adminDBH:    handler.NewAdminDBHandler(backupMgr, restoreCo, logger),
		userDBH:     handler.NewUserDBHandler(backupMgr, restoreCo, logger),
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes behind bearer-token auth
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.cfg.JWTSecret)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// adminLimited guards destructive database operations with the admin
// role and a per-subject rate limit.
func (s *Server) adminLimited(h http.HandlerFunc) http.Handler {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return middleware.RequireAdmin(rl(h))
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Record API routes
	mux.HandleFunc("POST /api/records", s.recordH.Create)
	mux.HandleFunc("GET /api/records", s.recordH.List)
	mux.HandleFunc("GET /api/records/stats", s.recordH.Stats)
	mux.HandleFunc("DELETE /api/records/{recordId}", s.recordH.Delete)
	mux.HandleFunc("GET /api/records/history/{location}", s.recordH.History)
	mux.HandleFunc("GET /api/records/compare-airquality", s.recordH.CompareAirQuality)

	// Live air-quality proxy
	mux.HandleFunc("GET /api/records/geo/airquality", s.airQualityH.Get)

	// Admin database operations
	mux.Handle("POST /api/admin/db/backup", s.adminLimited(s.adminDBH.Backup))
	mux.Handle("POST /api/admin/db/restore/latest", s.adminLimited(s.adminDBH.RestoreLatest))
	mux.Handle("POST /api/admin/db/restore/{id}", s.adminLimited(s.adminDBH.RestoreByID))
	mux.Handle("POST /api/admin/db/import", s.adminLimited(s.adminDBH.Import))
	mux.Handle("GET /api/admin/db/export", s.adminLimited(s.adminDBH.Export))

	// Per-user database operations
	mux.HandleFunc("POST /api/user/db/backup", s.userDBH.Backup)
	mux.HandleFunc("POST /api/user/db/restore", s.userDBH.Restore)
	mux.Handle("POST /api/user/db/import",
		middleware.RequirePermission("user:import")(http.HandlerFunc(s.userDBH.Import)))
	mux.HandleFunc("GET /api/user/db/export", s.userDBH.Export)

	// Operation status stream
	mux.HandleFunc("GET /ws", events.Handler(s.hub, s.logger.With("component", "events")))
}
