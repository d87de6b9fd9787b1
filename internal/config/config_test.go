package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ServerPort == "" {
		t.Fatalf("expected default server port")
	}
	if cfg.PostgresURL == "" {
		t.Fatalf("expected default postgres url")
	}
	if cfg.StalenessWindow != 30*time.Second {
		t.Fatalf("expected 30s staleness window, got %v", cfg.StalenessWindow)
	}
	if cfg.InviteTTL != 24*time.Hour {
		t.Fatalf("expected 24h invite ttl, got %v", cfg.InviteTTL)
	}
	if cfg.StoreDriver != "postgres" || !cfg.RunMigrations {
		t.Fatalf("unexpected store defaults")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("POSTGRES_URL", "postgres://example")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("STALENESS_WINDOW", "45s")
	t.Setenv("RUN_MIGRATIONS", "false")

	cfg := Load()
	if cfg.ServerPort != ":9000" {
		t.Fatalf("expected override port")
	}
	if cfg.PostgresURL != "postgres://example" {
		t.Fatalf("expected override postgres")
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("expected override redis")
	}
	if cfg.JWTSecret != "secret" {
		t.Fatalf("expected override secret")
	}
	if cfg.StoreDriver != "memory" || cfg.RunMigrations {
		t.Fatalf("expected store overrides")
	}
	if cfg.StalenessWindow != 45*time.Second {
		t.Fatalf("expected override staleness, got %v", cfg.StalenessWindow)
	}
}

func TestLoadAgent(t *testing.T) {
	t.Setenv("AGENT_TRIP_ID", "trip-1")
	t.Setenv("AGENT_FLUSH_BATCH", "25")

	cfg := LoadAgent()
	if cfg.TripID != "trip-1" || cfg.FlushBatch != 25 {
		t.Fatalf("expected agent overrides: %+v", cfg)
	}
	if cfg.BufferMax != 50000 || cfg.PublishInterval != 2*time.Second {
		t.Fatalf("unexpected agent defaults: %+v", cfg)
	}
}
