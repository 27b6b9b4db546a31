package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nimeninja/ingestd/internal/ingest"
)

// Config holds all application configuration.
// Values come from built-in defaults, then an optional YAML file named by
// CONFIG_FILE, then environment variables.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	DBType     string            `yaml:"db_type"` // sqlite or postgres
	DBPath     string            `yaml:"db_path"`
	PostgreSQL *PostgreSQLConfig `yaml:"postgresql"`

	TempDir  string `yaml:"temp_dir"`  // reassembly area, "<temp_dir>/<folder>/<name>"
	FilesDir string `yaml:"files_dir"` // published files for the filesystem backend
	BaseURL  string `yaml:"base_url"`  // prefix of public file URLs

	SessionTimeoutSeconds int      `yaml:"session_timeout_seconds"`
	ChunkQueueDepth       int      `yaml:"chunk_queue_depth"`
	OutboundQueueDepth    int      `yaml:"outbound_queue_depth"`
	SinkBufferSize        int      `yaml:"sink_buffer_size"`
	MaxFileSize           int64    `yaml:"max_file_size"`
	MaxTotalChunks        int      `yaml:"max_total_chunks"`
	MaxMessageSize        int64    `yaml:"max_message_size"`
	MaxImageDimension     int      `yaml:"max_image_dimension"`
	RateLimitResize       int      `yaml:"rate_limit_resize"` // resized image requests per IP per minute, 0 disables
	AllowedMimeTypes      []string `yaml:"allowed_mime_types"`
	AllowedOrigins        []string `yaml:"allowed_origins"`

	StorageBackend string   `yaml:"storage_backend"` // filesystem or s3
	S3             S3Config `yaml:"s3"`

	Redis RedisConfig `yaml:"redis"`

	TempSweepIntervalMinutes int `yaml:"temp_sweep_interval_minutes"`
	TempMaxAgeHours          int `yaml:"temp_max_age_hours"`

	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
}

// PostgreSQLConfig holds PostgreSQL connection settings.
type PostgreSQLConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Database       string `yaml:"database"`
	SSLMode        string `yaml:"sslmode"`
	Options        string `yaml:"options"`
	MaxConnections int    `yaml:"max_connections"`
	AutoMigrate    bool   `yaml:"auto_migrate"`
}

// S3Config holds settings for the S3 storage backend.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
}

// RedisConfig holds settings for the cleanup job queue.
// An empty Addr selects the in-process queue.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Queue    string `yaml:"queue"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Port:     "8080",
		LogLevel: "info",
		DBType:   "sqlite",
		DBPath:   "./ingest.db",
		PostgreSQL: &PostgreSQLConfig{
			Host:           "localhost",
			Port:           5432,
			User:           "ingest",
			Database:       "ingest",
			SSLMode:        "prefer",
			MaxConnections: 10,
			AutoMigrate:    true,
		},
		TempDir:                  "./file-temps",
		FilesDir:                 "./files",
		BaseURL:                  "http://localhost:8080",
		SessionTimeoutSeconds:    30,
		ChunkQueueDepth:          16,
		OutboundQueueDepth:       256,
		SinkBufferSize:           1 << 20,          // 1MB
		MaxFileSize:              10 * 1024 << 20,  // 10GB
		MaxTotalChunks:           100000,
		MaxMessageSize:           16 << 20, // 16MB per frame
		MaxImageDimension:        2000,
		RateLimitResize:          120,
		AllowedMimeTypes:         append([]string(nil), ingest.DefaultAllowedMimeTypes...),
		AllowedOrigins:           []string{"*"},
		StorageBackend:           "filesystem",
		Redis:                    RedisConfig{Queue: "file_cleanup"},
		TempSweepIntervalMinutes: 60,
		TempMaxAgeHours:          24,
		ReadTimeoutSeconds:       15,
		WriteTimeoutSeconds:      60,
	}
}

// Load builds the configuration from defaults, the optional CONFIG_FILE and
// environment variables, then validates it.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays YAML values from path onto c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto c.
func (c *Config) loadEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))

	c.DBType = strings.ToLower(getEnv("DB_TYPE", c.DBType))
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	if c.PostgreSQL == nil {
		c.PostgreSQL = Defaults().PostgreSQL
	}
	pg := c.PostgreSQL
	pg.Host = getEnv("POSTGRES_HOST", pg.Host)
	pg.Port = getEnvInt("POSTGRES_PORT", pg.Port)
	pg.User = getEnv("POSTGRES_USER", pg.User)
	pg.Password = getEnv("POSTGRES_PASSWORD", pg.Password)
	pg.Database = getEnv("POSTGRES_DB", pg.Database)
	pg.SSLMode = getEnv("POSTGRES_SSLMODE", pg.SSLMode)
	pg.Options = getEnv("POSTGRES_OPTIONS", pg.Options)
	pg.MaxConnections = getEnvInt("POSTGRES_MAX_CONNS", pg.MaxConnections)
	pg.AutoMigrate = getEnvBool("POSTGRES_AUTO_MIGRATE", pg.AutoMigrate)

	c.TempDir = getEnv("TEMP_DIR", c.TempDir)
	c.FilesDir = getEnv("FILES_DIR", c.FilesDir)
	c.BaseURL = strings.TrimRight(getEnv("BASE_URL", c.BaseURL), "/")

	c.SessionTimeoutSeconds = getEnvInt("SESSION_TIMEOUT_SECONDS", c.SessionTimeoutSeconds)
	c.ChunkQueueDepth = getEnvInt("CHUNK_QUEUE_DEPTH", c.ChunkQueueDepth)
	c.OutboundQueueDepth = getEnvInt("OUTBOUND_QUEUE_DEPTH", c.OutboundQueueDepth)
	c.SinkBufferSize = getEnvInt("SINK_BUFFER_SIZE", c.SinkBufferSize)
	c.MaxFileSize = getEnvInt64("MAX_FILE_SIZE", c.MaxFileSize)
	c.MaxTotalChunks = getEnvInt("MAX_TOTAL_CHUNKS", c.MaxTotalChunks)
	c.MaxMessageSize = getEnvInt64("MAX_MESSAGE_SIZE", c.MaxMessageSize)
	c.MaxImageDimension = getEnvInt("MAX_IMAGE_DIMENSION", c.MaxImageDimension)
	c.RateLimitResize = getEnvInt("RATE_LIMIT_RESIZE", c.RateLimitResize)
	c.AllowedMimeTypes = getEnvList("ALLOWED_MIME_TYPES", c.AllowedMimeTypes)
	c.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", c.AllowedOrigins)

	c.StorageBackend = strings.ToLower(getEnv("STORAGE_BACKEND", c.StorageBackend))
	c.S3.Bucket = getEnv("S3_BUCKET", c.S3.Bucket)
	c.S3.Region = getEnv("S3_REGION", c.S3.Region)
	c.S3.Endpoint = getEnv("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.AccessKeyID = getEnv("S3_ACCESS_KEY_ID", c.S3.AccessKeyID)
	c.S3.SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", c.S3.SecretAccessKey)
	c.S3.PathStyle = getEnvBool("S3_PATH_STYLE", c.S3.PathStyle)
	c.S3.Prefix = getEnv("S3_PREFIX", c.S3.Prefix)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.Queue = getEnv("CLEANUP_QUEUE", c.Redis.Queue)

	c.TempSweepIntervalMinutes = getEnvInt("TEMP_SWEEP_INTERVAL_MINUTES", c.TempSweepIntervalMinutes)
	c.TempMaxAgeHours = getEnvInt("TEMP_MAX_AGE_HOURS", c.TempMaxAgeHours)

	c.ReadTimeoutSeconds = getEnvInt("READ_TIMEOUT", c.ReadTimeoutSeconds)
	c.WriteTimeoutSeconds = getEnvInt("WRITE_TIMEOUT", c.WriteTimeoutSeconds)
}

// validate ensures configuration values are sensible
func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel)
	}

	switch c.DBType {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "postgres":
		if c.PostgreSQL.Host == "" || c.PostgreSQL.Database == "" {
			return fmt.Errorf("POSTGRES_HOST and POSTGRES_DB are required when DB_TYPE=postgres")
		}
	default:
		return fmt.Errorf("DB_TYPE must be sqlite or postgres, got %q", c.DBType)
	}

	if c.TempDir == "" {
		return fmt.Errorf("TEMP_DIR cannot be empty")
	}

	if c.BaseURL == "" {
		return fmt.Errorf("BASE_URL cannot be empty")
	}

	if c.SessionTimeoutSeconds <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT_SECONDS must be positive, got %d", c.SessionTimeoutSeconds)
	}

	if c.ChunkQueueDepth <= 0 {
		return fmt.Errorf("CHUNK_QUEUE_DEPTH must be positive, got %d", c.ChunkQueueDepth)
	}

	if c.OutboundQueueDepth <= 0 {
		return fmt.Errorf("OUTBOUND_QUEUE_DEPTH must be positive, got %d", c.OutboundQueueDepth)
	}

	if c.SinkBufferSize <= 0 {
		return fmt.Errorf("SINK_BUFFER_SIZE must be positive, got %d", c.SinkBufferSize)
	}

	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	}

	if c.MaxTotalChunks <= 0 {
		return fmt.Errorf("MAX_TOTAL_CHUNKS must be positive, got %d", c.MaxTotalChunks)
	}

	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("MAX_MESSAGE_SIZE must be positive, got %d", c.MaxMessageSize)
	}

	if c.MaxImageDimension <= 0 {
		return fmt.Errorf("MAX_IMAGE_DIMENSION must be positive, got %d", c.MaxImageDimension)
	}

	if c.RateLimitResize < 0 {
		return fmt.Errorf("RATE_LIMIT_RESIZE cannot be negative, got %d", c.RateLimitResize)
	}

	if len(c.AllowedMimeTypes) == 0 {
		return fmt.Errorf("ALLOWED_MIME_TYPES cannot be empty")
	}

	switch c.StorageBackend {
	case "filesystem":
		if c.FilesDir == "" {
			return fmt.Errorf("FILES_DIR cannot be empty")
		}
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be filesystem or s3, got %q", c.StorageBackend)
	}

	if c.Redis.Queue == "" {
		return fmt.Errorf("CLEANUP_QUEUE cannot be empty")
	}

	if c.TempSweepIntervalMinutes <= 0 {
		return fmt.Errorf("TEMP_SWEEP_INTERVAL_MINUTES must be positive, got %d", c.TempSweepIntervalMinutes)
	}

	if c.TempMaxAgeHours <= 0 {
		return fmt.Errorf("TEMP_MAX_AGE_HOURS must be positive, got %d", c.TempMaxAgeHours)
	}

	return nil
}

// SessionTimeout returns the inactivity window of an upload session.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// TempMaxAge returns the age after which an orphaned temp file is swept.
func (c *Config) TempMaxAge() time.Duration {
	return time.Duration(c.TempMaxAgeHours) * time.Hour
}

// TempSweepInterval returns how often orphaned temp files are swept.
func (c *Config) TempSweepInterval() time.Duration {
	return time.Duration(c.TempSweepIntervalMinutes) * time.Minute
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 retrieves an int64 environment variable or returns a default value
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvList parses a comma-separated, lowercased list or returns a default value
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
