package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/atmx/range-exchange/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.WorkerQueue != 64 {
		t.Errorf("worker_queue = %d", cfg.Server.WorkerQueue)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown_timeout = %s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Storage.DatabaseURL != "" || cfg.Storage.RedisURL != "" {
		t.Errorf("storage defaults = %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := strings.Join([]string{
		"server:",
		"  addr: \":9090\"",
		"  worker_queue: 8",
		"storage:",
		"  database_url: \"postgres://localhost/rex\"",
		"  redis_url: \"redis://localhost:6379\"",
		"logging:",
		"  level: debug",
		"  format: text",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.WorkerQueue != 8 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Storage.RedisURL != "redis://localhost:6379" {
		t.Errorf("redis_url = %q", cfg.Storage.RedisURL)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("REX_SERVER_ADDR", ":7070")
	t.Setenv("REX_LOGGING_LEVEL", "warn")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("addr = %q, want :7070", cfg.Server.Addr)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q, want warn", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		cfg, err := config.Load("")
		if err != nil {
			t.Fatalf("load defaults: %v", err)
		}
		return cfg
	}

	cases := []struct {
		name  string
		mutate func(*config.Config)
	}{
		{"empty addr", func(c *config.Config) { c.Server.Addr = "" }},
		{"zero queue", func(c *config.Config) { c.Server.WorkerQueue = 0 }},
		{"redis without database", func(c *config.Config) { c.Storage.RedisURL = "redis://x" }},
		{"tiny cache ttl", func(c *config.Config) { c.Storage.CacheTTL = time.Millisecond }},
		{"bad level", func(c *config.Config) { c.Logging.Level = "chatty" }},
		{"bad format", func(c *config.Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
