package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allEnvVars = []string{
	"MEMLOG_CONFIG", "MEMLOG_STORE", "MEMLOG_DATABASE_URL", "MEMLOG_MONGO_DATABASE",
	"MEMLOG_GRPC_ADDR", "MEMLOG_HTTP_ADDR", "MEMLOG_NATS_URL", "MEMLOG_AUTH_TOKEN",
	"MEMLOG_LOG_LEVEL", "MEMLOG_LOG_FORMAT", "MEMLOG_RATE_LIMIT_RPS", "MEMLOG_RATE_LIMIT_BURST",
	"MEMLOG_LISTENER_SUBJECT",
	"MEMLOG_ARCHIVE_INTERVAL", "MEMLOG_ARCHIVE_S3_BUCKET", "MEMLOG_ARCHIVE_S3_ENDPOINT",
	"MEMLOG_ARCHIVE_S3_REGION", "MEMLOG_ARCHIVE_S3_PREFIX", "MEMLOG_ARCHIVE_DIR",
}

// loadWith clears every MEMLOG_ variable, applies env and loads.
func loadWith(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
	return Load()
}

func TestLoad_Errors(t *testing.T) {
	for name, env := range map[string]map[string]string{
		"postgres without url": {},
		"sqlite without url":   {"MEMLOG_STORE": "sqlite"},
		"unknown store":        {"MEMLOG_STORE": "redis", "MEMLOG_DATABASE_URL": "x"},
		"bad log level":        {"MEMLOG_STORE": "memory", "MEMLOG_LOG_LEVEL": "loud"},
		"bad log format":       {"MEMLOG_STORE": "memory", "MEMLOG_LOG_FORMAT": "xml"},
		"negative rps":         {"MEMLOG_STORE": "memory", "MEMLOG_RATE_LIMIT_RPS": "-1"},
		"negative interval":    {"MEMLOG_STORE": "memory", "MEMLOG_ARCHIVE_INTERVAL": "-5s"},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := loadWith(t, env); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoad_Backends(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(*Config) bool
	}{
		{
			"postgres by default",
			map[string]string{"MEMLOG_DATABASE_URL": "postgres://localhost/memlog"},
			func(c *Config) bool {
				return c.Store == StorePostgres && c.GRPCAddr == ":9090" && c.HTTPAddr == ":8080" && c.NATSURL == ""
			},
		},
		{
			"store name is case-insensitive",
			map[string]string{
				"MEMLOG_DATABASE_URL": "file:/tmp/memlog.db",
				"MEMLOG_STORE":        " SQLite ",
				"MEMLOG_GRPC_ADDR":    ":5050",
				"MEMLOG_HTTP_ADDR":    ":3000",
				"MEMLOG_NATS_URL":     "nats://localhost:4222",
			},
			func(c *Config) bool {
				return c.Store == StoreSQLite && c.GRPCAddr == ":5050" && c.HTTPAddr == ":3000" && c.NATSURL == "nats://localhost:4222"
			},
		},
		{
			"mongo database override",
			map[string]string{"MEMLOG_STORE": "mongo", "MEMLOG_DATABASE_URL": "mongodb://db", "MEMLOG_MONGO_DATABASE": "chat"},
			func(c *Config) bool { return c.Store == StoreMongo && c.MongoDatabase == "chat" },
		},
		{
			"memory needs no url",
			map[string]string{"MEMLOG_STORE": "memory"},
			func(c *Config) bool { return c.Store == StoreMemory && c.DatabaseURL == "" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadWith(t, tt.env)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("unexpected config %+v", cfg)
			}
		})
	}
}

func TestLoad_ArchiveDefaults(t *testing.T) {
	cfg, err := loadWith(t, map[string]string{"MEMLOG_STORE": "memory"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ArchiveInterval != time.Minute {
		t.Errorf("ArchiveInterval = %v, want 1m", cfg.ArchiveInterval)
	}
	if cfg.ArchiveS3Region != "us-east-1" || cfg.ArchiveS3Prefix != "memlog/archive" {
		t.Errorf("S3 defaults = %q %q", cfg.ArchiveS3Region, cfg.ArchiveS3Prefix)
	}
	if cfg.ArchiveEnabled() {
		t.Error("archive should be disabled without a destination")
	}
	if cfg.ListenerSubject != "memlog.request.observed" {
		t.Errorf("ListenerSubject = %q", cfg.ListenerSubject)
	}
}

func TestLoad_ArchiveSettings(t *testing.T) {
	cfg, err := loadWith(t, map[string]string{
		"MEMLOG_STORE":               "memory",
		"MEMLOG_ARCHIVE_INTERVAL":    "30s",
		"MEMLOG_ARCHIVE_S3_BUCKET":   "logs",
		"MEMLOG_ARCHIVE_S3_ENDPOINT": "http://minio:9000",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ArchiveInterval != 30*time.Second || !cfg.ArchiveEnabled() {
		t.Errorf("archive = %v enabled=%v", cfg.ArchiveInterval, cfg.ArchiveEnabled())
	}

	t.Setenv("MEMLOG_ARCHIVE_INTERVAL", "0")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ArchiveEnabled() {
		t.Error("interval 0 should disable archiving")
	}

	t.Setenv("MEMLOG_ARCHIVE_INTERVAL", "soon")
	if _, err := Load(); err == nil {
		t.Error("expected error for bad interval")
	}
}

func TestLoad_RateLimit(t *testing.T) {
	cfg, err := loadWith(t, map[string]string{"MEMLOG_STORE": "memory", "MEMLOG_RATE_LIMIT_RPS": "12.5"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimitRPS != 12.5 || cfg.RateLimitBurst != 20 {
		t.Errorf("rate limit = %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	t.Setenv("MEMLOG_RATE_LIMIT_BURST", "0")
	if _, err := Load(); err == nil {
		t.Error("expected error for zero burst with limiting enabled")
	}
	t.Setenv("MEMLOG_RATE_LIMIT_BURST", "x")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric burst")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memlog.toml")
	content := `
store = "mongo"
database_url = "mongodb://db:27017"
mongo_database = "logs"
http_addr = ":7000"
archive_interval = "5m"
archive_dir = "/var/lib/memlog"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadWith(t, map[string]string{"MEMLOG_CONFIG": path, "MEMLOG_HTTP_ADDR": ":7001"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != StoreMongo || cfg.DatabaseURL != "mongodb://db:27017" || cfg.MongoDatabase != "logs" {
		t.Errorf("store settings = %q %q %q", cfg.Store, cfg.DatabaseURL, cfg.MongoDatabase)
	}
	if cfg.HTTPAddr != ":7001" {
		t.Errorf("HTTPAddr = %q, env should win", cfg.HTTPAddr)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, default should survive", cfg.GRPCAddr)
	}
	if cfg.ArchiveInterval != 5*time.Minute || cfg.ArchiveDir != "/var/lib/memlog" {
		t.Errorf("archive = %v %q", cfg.ArchiveInterval, cfg.ArchiveDir)
	}
}

func TestLoad_BadFile(t *testing.T) {
	dir := t.TempDir()
	malformed := filepath.Join(dir, "bad.toml")
	badInterval := filepath.Join(dir, "interval.toml")
	if err := os.WriteFile(malformed, []byte("store = \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(badInterval, []byte("store = \"memory\"\narchive_interval = \"often\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{malformed, badInterval, filepath.Join(dir, "missing.toml")} {
		if _, err := loadWith(t, map[string]string{"MEMLOG_CONFIG": path}); err == nil {
			t.Errorf("%s: expected error", filepath.Base(path))
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLogLevel("chatty"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var sb strings.Builder
	cfg := &Config{LogLevel: "warn", LogFormat: "json"}
	logger := cfg.NewLogger(&sb)
	logger.Info("hidden")
	logger.Warn("shown", "group_id", "g1")
	out := sb.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"group_id":"g1"`) {
		t.Errorf("expected JSON output, got %s", out)
	}
}
