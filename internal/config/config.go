package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

type Config struct {
	Store         string `toml:"store"`          // MEMLOG_STORE (default "postgres")
	DatabaseURL   string `toml:"database_url"`   // MEMLOG_DATABASE_URL (required unless store is memory)
	MongoDatabase string `toml:"mongo_database"` // MEMLOG_MONGO_DATABASE (default "memlog")

	GRPCAddr  string `toml:"grpc_addr"`  // MEMLOG_GRPC_ADDR (default ":9090")
	HTTPAddr  string `toml:"http_addr"`  // MEMLOG_HTTP_ADDR (default ":8080")
	NATSURL   string `toml:"nats_url"`   // MEMLOG_NATS_URL (optional, empty = no events)
	AuthToken string `toml:"auth_token"` // MEMLOG_AUTH_TOKEN (optional, empty = auth disabled)

	LogLevel  string `toml:"log_level"`  // MEMLOG_LOG_LEVEL (default "info")
	LogFormat string `toml:"log_format"` // MEMLOG_LOG_FORMAT (text or json, default "text")

	RateLimitRPS   float64 `toml:"rate_limit_rps"`   // MEMLOG_RATE_LIMIT_RPS (0 = unlimited)
	RateLimitBurst int     `toml:"rate_limit_burst"` // MEMLOG_RATE_LIMIT_BURST (default 20)

	// ListenerSubject is the NATS subject carrying observed requests.
	ListenerSubject string `toml:"listener_subject"` // MEMLOG_LISTENER_SUBJECT (default "memlog.request.observed")

	// Archive settings
	ArchiveInterval   time.Duration `toml:"-"`                   // MEMLOG_ARCHIVE_INTERVAL (default 1m; 0 = disabled)
	ArchiveS3Bucket   string        `toml:"archive_s3_bucket"`   // MEMLOG_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Endpoint string        `toml:"archive_s3_endpoint"` // MEMLOG_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        `toml:"archive_s3_region"`   // MEMLOG_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Prefix   string        `toml:"archive_s3_prefix"`   // MEMLOG_ARCHIVE_S3_PREFIX (default "memlog/archive")
	ArchiveDir        string        `toml:"archive_dir"`         // MEMLOG_ARCHIVE_DIR (enables local files when set)
}

// fileConfig mirrors Config for TOML decoding, with the interval as text.
type fileConfig struct {
	Config
	ArchiveInterval string `toml:"archive_interval"`
}

func defaults() *Config {
	return &Config{
		Store:           StorePostgres,
		MongoDatabase:   "memlog",
		GRPCAddr:        ":9090",
		HTTPAddr:        ":8080",
		LogLevel:        "info",
		LogFormat:       "text",
		RateLimitBurst:  20,
		ListenerSubject: "memlog.request.observed",
		ArchiveInterval: time.Minute,
		ArchiveS3Region: "us-east-1",
		ArchiveS3Prefix: "memlog/archive",
	}
}

// Load builds the configuration from defaults, then the TOML file named by
// MEMLOG_CONFIG (if set), then MEMLOG_* environment variables.
func Load() (*Config, error) {
	c := defaults()

	if path := os.Getenv("MEMLOG_CONFIG"); path != "" {
		if err := c.loadFile(path); err != nil {
			return nil, err
		}
	}

	str := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str(&c.Store, "MEMLOG_STORE")
	str(&c.DatabaseURL, "MEMLOG_DATABASE_URL")
	str(&c.MongoDatabase, "MEMLOG_MONGO_DATABASE")
	str(&c.GRPCAddr, "MEMLOG_GRPC_ADDR")
	str(&c.HTTPAddr, "MEMLOG_HTTP_ADDR")
	str(&c.NATSURL, "MEMLOG_NATS_URL")
	str(&c.AuthToken, "MEMLOG_AUTH_TOKEN")
	str(&c.LogLevel, "MEMLOG_LOG_LEVEL")
	str(&c.LogFormat, "MEMLOG_LOG_FORMAT")
	str(&c.ListenerSubject, "MEMLOG_LISTENER_SUBJECT")
	str(&c.ArchiveS3Bucket, "MEMLOG_ARCHIVE_S3_BUCKET")
	str(&c.ArchiveS3Endpoint, "MEMLOG_ARCHIVE_S3_ENDPOINT")
	str(&c.ArchiveS3Region, "MEMLOG_ARCHIVE_S3_REGION")
	str(&c.ArchiveS3Prefix, "MEMLOG_ARCHIVE_S3_PREFIX")
	str(&c.ArchiveDir, "MEMLOG_ARCHIVE_DIR")

	if v := os.Getenv("MEMLOG_RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("MEMLOG_RATE_LIMIT_RPS: %w", err)
		}
		c.RateLimitRPS = f
	}
	if v := os.Getenv("MEMLOG_RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("MEMLOG_RATE_LIMIT_BURST: %w", err)
		}
		c.RateLimitBurst = n
	}
	if v := os.Getenv("MEMLOG_ARCHIVE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("MEMLOG_ARCHIVE_INTERVAL: %w", err)
		}
		c.ArchiveInterval = d
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadFile(path string) error {
	fc := fileConfig{Config: *c}
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("MEMLOG_CONFIG %s: %w", path, err)
	}
	interval := c.ArchiveInterval
	if fc.ArchiveInterval != "" {
		d, err := time.ParseDuration(fc.ArchiveInterval)
		if err != nil {
			return fmt.Errorf("MEMLOG_CONFIG %s: archive_interval: %w", path, err)
		}
		interval = d
	}
	*c = fc.Config
	c.ArchiveInterval = interval
	return nil
}

func (c *Config) validate() error {
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	switch c.Store {
	case StorePostgres, StoreSQLite, StoreMongo:
		if c.DatabaseURL == "" {
			return fmt.Errorf("MEMLOG_DATABASE_URL is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("MEMLOG_STORE: unknown store %q (must be postgres, sqlite, mongo or memory)", c.Store)
	}
	if c.RateLimitRPS < 0 {
		return errors.New("MEMLOG_RATE_LIMIT_RPS must not be negative")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return errors.New("MEMLOG_RATE_LIMIT_BURST must be at least 1 when rate limiting is enabled")
	}
	if c.ArchiveInterval < 0 {
		return errors.New("MEMLOG_ARCHIVE_INTERVAL must not be negative")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("MEMLOG_LOG_LEVEL: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("MEMLOG_LOG_FORMAT: unknown format %q (must be text or json)", c.LogFormat)
	}
	return nil
}

// ArchiveEnabled reports whether background archiving should run.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveInterval > 0 && (c.ArchiveS3Bucket != "" || c.ArchiveDir != "")
}

// ParseLogLevel maps debug, info, warn and error onto slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, err
	}
	return l, nil
}

// NewLogger returns a logger writing to w in the configured format and level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := ParseLogLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
