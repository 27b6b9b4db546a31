package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nimeninja/ingestd/internal/ingest"
)

var configEnvVars = []string{
	"CONFIG_FILE", "PORT", "LOG_LEVEL", "DB_TYPE", "DB_PATH",
	"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER", "POSTGRES_PASSWORD",
	"POSTGRES_DB", "POSTGRES_SSLMODE", "POSTGRES_OPTIONS", "POSTGRES_MAX_CONNS",
	"POSTGRES_AUTO_MIGRATE", "TEMP_DIR", "FILES_DIR", "BASE_URL",
	"SESSION_TIMEOUT_SECONDS", "CHUNK_QUEUE_DEPTH", "OUTBOUND_QUEUE_DEPTH",
	"SINK_BUFFER_SIZE", "MAX_FILE_SIZE", "MAX_TOTAL_CHUNKS", "MAX_MESSAGE_SIZE",
	"MAX_IMAGE_DIMENSION", "RATE_LIMIT_RESIZE", "ALLOWED_MIME_TYPES", "ALLOWED_ORIGINS",
	"STORAGE_BACKEND", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT",
	"S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "S3_PATH_STYLE", "S3_PREFIX",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "CLEANUP_QUEUE",
	"TEMP_SWEEP_INTERVAL_MINUTES", "TEMP_MAX_AGE_HOURS",
	"READ_TIMEOUT", "WRITE_TIMEOUT",
}

// clearEnvVars empties every variable Load reads; t.Setenv restores them afterwards.
func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, v := range configEnvVars {
		t.Setenv(v, "")
	}
}

func TestLoad_DefaultConfiguration(t *testing.T) {
	clearEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with defaults failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.DBType != "sqlite" {
		t.Errorf("DBType = %s, want sqlite", cfg.DBType)
	}
	if cfg.TempDir != "./file-temps" {
		t.Errorf("TempDir = %s, want ./file-temps", cfg.TempDir)
	}
	if cfg.SessionTimeout() != 30*time.Second {
		t.Errorf("SessionTimeout() = %v, want 30s", cfg.SessionTimeout())
	}
	if cfg.MaxImageDimension != 2000 {
		t.Errorf("MaxImageDimension = %d, want 2000", cfg.MaxImageDimension)
	}
	if cfg.StorageBackend != "filesystem" {
		t.Errorf("StorageBackend = %s, want filesystem", cfg.StorageBackend)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("Redis.Addr = %s, want empty", cfg.Redis.Addr)
	}

	if strings.Join(cfg.AllowedMimeTypes, ",") != strings.Join(ingest.DefaultAllowedMimeTypes, ",") {
		t.Errorf("AllowedMimeTypes = %v, want the validator defaults", cfg.AllowedMimeTypes)
	}
	for _, want := range []string{"application/x-subrip", "video/mp4", "video/webm", "video/x-matroska"} {
		found := false
		for _, m := range cfg.AllowedMimeTypes {
			if m == want {
				found = true
			}
		}
		if !found {
			t.Errorf("AllowedMimeTypes missing %s", want)
		}
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("PORT", "9090")
	t.Setenv("BASE_URL", "https://api.example.com/")
	t.Setenv("SESSION_TIMEOUT_SECONDS", "5")
	t.Setenv("ALLOWED_MIME_TYPES", "image/PNG, image/jpeg ,")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("S3_PATH_STYLE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.BaseURL != "https://api.example.com" {
		t.Errorf("BaseURL = %s, want trailing slash trimmed", cfg.BaseURL)
	}
	if cfg.SessionTimeout() != 5*time.Second {
		t.Errorf("SessionTimeout() = %v, want 5s", cfg.SessionTimeout())
	}
	if strings.Join(cfg.AllowedMimeTypes, ",") != "image/png,image/jpeg" {
		t.Errorf("AllowedMimeTypes = %v", cfg.AllowedMimeTypes)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Redis.Addr = %s", cfg.Redis.Addr)
	}
	if !cfg.S3.PathStyle {
		t.Error("S3.PathStyle = false, want true")
	}
}

func TestLoad_ConfigFileThenEnv(t *testing.T) {
	clearEnvVars(t)

	path := filepath.Join(t.TempDir(), "ingestd.yaml")
	yamlBody := `
port: "7000"
temp_dir: /var/lib/ingestd/temps
session_timeout_seconds: 45
storage_backend: s3
s3:
  bucket: media
  region: eu-west-1
redis:
  addr: cache:6379
  queue: cleanup
`
	if err := os.WriteFile(path, []byte(yamlBody), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7001")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "7001" {
		t.Errorf("Port = %s, want env value 7001", cfg.Port)
	}
	if cfg.TempDir != "/var/lib/ingestd/temps" {
		t.Errorf("TempDir = %s, want file value", cfg.TempDir)
	}
	if cfg.SessionTimeoutSeconds != 45 {
		t.Errorf("SessionTimeoutSeconds = %d, want 45", cfg.SessionTimeoutSeconds)
	}
	if cfg.S3.Bucket != "media" || cfg.S3.Region != "eu-west-1" {
		t.Errorf("S3 = %+v", cfg.S3)
	}
	if cfg.Redis.Queue != "cleanup" {
		t.Errorf("Redis.Queue = %s, want cleanup", cfg.Redis.Queue)
	}
	// Fields absent from the file keep their defaults.
	if cfg.MaxImageDimension != 2000 {
		t.Errorf("MaxImageDimension = %d, want default 2000", cfg.MaxImageDimension)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("Load() with missing CONFIG_FILE succeeded, want error")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "zero session timeout", key: "SESSION_TIMEOUT_SECONDS", value: "0"},
		{name: "negative queue depth", key: "CHUNK_QUEUE_DEPTH", value: "-1"},
		{name: "unknown db type", key: "DB_TYPE", value: "mysql"},
		{name: "unknown storage backend", key: "STORAGE_BACKEND", value: "ftp"},
		{name: "s3 without bucket", key: "STORAGE_BACKEND", value: "s3"},
		{name: "bad log level", key: "LOG_LEVEL", value: "verbose"},
		{name: "zero image dimension", key: "MAX_IMAGE_DIMENSION", value: "0"},
		{name: "negative resize rate limit", key: "RATE_LIMIT_RESIZE", value: "-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			if err == nil {
				t.Fatalf("Load() with %s=%s succeeded, want error", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), "configuration validation failed") {
				t.Errorf("error = %v, want validation failure", err)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := getEnvInt("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}

	t.Setenv("TEST_INT", "not-a-number")
	if got := getEnvInt("TEST_INT", 1); got != 1 {
		t.Errorf("getEnvInt() with invalid value = %d, want default 1", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"false", true, false},
		{"garbage", true, true},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Setenv("TEST_BOOL", tt.value)
		if got := getEnvBool("TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("getEnvBool(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}
