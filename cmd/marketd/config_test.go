package main

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MARKET_OWNER", "0xOwner")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("Store = %q, want memory", cfg.Store)
	}
	if cfg.Currency != "usd" || cfg.Addr != ":8080" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.SQLite.DSN != "file:market.db" || cfg.AMQP.Exchange != "market.events" {
		t.Errorf("unexpected nested defaults: %+v", cfg)
	}
	if !cfg.Metrics || !cfg.Audit {
		t.Error("metrics and audit should default on")
	}
}

func TestLoadNested(t *testing.T) {
	t.Setenv("MARKET_OWNER", "0xowner")
	t.Setenv("MARKET_STORE", "Postgres")
	t.Setenv("MARKET_POSTGRES_URL", "postgres://localhost/market")
	t.Setenv("MARKET_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("MARKET_REDIS_PREFIX", "shop:")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != StorePostgres {
		t.Errorf("Store = %q, want postgres", cfg.Store)
	}
	if cfg.Postgres.URL != "postgres://localhost/market" {
		t.Errorf("Postgres.URL = %q", cfg.Postgres.URL)
	}
	if cfg.Redis.Prefix != "shop:" {
		t.Errorf("Redis.Prefix = %q", cfg.Redis.Prefix)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing owner", map[string]string{}},
		{"unknown store", map[string]string{"MARKET_OWNER": "o", "MARKET_STORE": "redis"}},
		{"postgres without url", map[string]string{"MARKET_OWNER": "o", "MARKET_STORE": "postgres"}},
		{"mongo without uri", map[string]string{"MARKET_OWNER": "o", "MARKET_STORE": "mongo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MARKET_OWNER", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		c := Config{LogLevel: in}
		if got := c.Level(); got != want {
			t.Errorf("Level(%q) = %v, want %v", in, got, want)
		}
	}
}
