package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// S3 holds optional S3-compatible replication settings for system
// backup archives. Replication is disabled when Bucket, AccessKey or
// SecretKey is empty.
type S3 struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Tools holds the paths of the external database utilities. Each is
// invoked as a subprocess and observed via exit code and combined
// output; none of them is ever retried.
type Tools struct {
	Dump    string
	Restore string
	Import  string
	Export  string
}

// Config is the explicit configuration value injected into every
// component at construction. Nothing outside Load reads the process
// environment.
type Config struct {
	Port     string
	DBPath   string
	Database string // logical database name recorded in backup manifests

	BackupRoot  string // admin (system) backup artifacts
	UserRoot    string // per-owner backup artifacts
	StagingRoot string // transient extraction/upload workspace

	Tools Tools
	S3    S3

	JWTSecret string

	OpenAQAPIKey  string
	OpenAQBaseURL string

	HTTPTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment with sensible defaults.
// A .env file is honored when present.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Port:     getenvDefault("GEOINSIGHT_PORT", "8080"),
		DBPath:   getenvDefault("GEOINSIGHT_DB_PATH", "geoinsight.db"),
		Database: getenvDefault("GEOINSIGHT_DB_NAME", "geoinsight"),

		BackupRoot:  getenvDefault("GEOINSIGHT_BACKUP_ROOT", filepath.Join("backups", "admin")),
		UserRoot:    getenvDefault("GEOINSIGHT_USER_BACKUP_ROOT", filepath.Join("backups", "users")),
		StagingRoot: getenvDefault("GEOINSIGHT_STAGING_ROOT", "staging"),

		Tools: Tools{
			Dump:    getenvDefault("GEOINSIGHT_DUMP_PATH", "sqlite3"),
			Restore: getenvDefault("GEOINSIGHT_RESTORE_PATH", "sqlite3"),
			Import:  getenvDefault("GEOINSIGHT_IMPORT_PATH", "sqlite3"),
			Export:  getenvDefault("GEOINSIGHT_EXPORT_PATH", "sqlite3"),
		},

		S3: S3{
			Endpoint:  os.Getenv("GEOINSIGHT_S3_ENDPOINT"),
			Bucket:    os.Getenv("GEOINSIGHT_S3_BUCKET"),
			Region:    getenvDefault("GEOINSIGHT_S3_REGION", "auto"),
			AccessKey: os.Getenv("GEOINSIGHT_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("GEOINSIGHT_S3_SECRET_KEY"),
		},

		JWTSecret: os.Getenv("GEOINSIGHT_JWT_SECRET"),

		OpenAQAPIKey:  os.Getenv("OPENAQ_API_KEY"),
		OpenAQBaseURL: getenvDefault("OPENAQ_BASE_URL", "https://api.openaq.org/v3"),

		LogLevel:  getenvDefault("GEOINSIGHT_LOG_LEVEL", "info"),
		LogFormat: getenvDefault("GEOINSIGHT_LOG_FORMAT", "text"),
	}

	timeoutStr := getenvDefault("GEOINSIGHT_HTTP_TIMEOUT", "10s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid GEOINSIGHT_HTTP_TIMEOUT: %w", err)
	}
	cfg.HTTPTimeout = timeout

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("GEOINSIGHT_JWT_SECRET is required")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

