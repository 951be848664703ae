package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("Addr = %q, want :8787", cfg.Addr)
	}
	if cfg.InvitationTTL != 7*24*time.Hour {
		t.Fatalf("InvitationTTL = %s, want 168h", cfg.InvitationTTL)
	}
	if cfg.DispatchWorkers != 4 || cfg.DispatchQueueSize != 256 || cfg.DispatchMaxAttempts != 3 {
		t.Fatalf("unexpected dispatch defaults: %+v", cfg)
	}
	if cfg.DBMaxOpenConns != 20 || cfg.DBMaxIdleConns != 10 || cfg.DBConnMaxLifetime != 30*time.Minute || cfg.DBConnMaxIdleTime != 5*time.Minute {
		t.Fatalf("unexpected pool defaults: %+v", cfg)
	}
}

func TestLoadPoolOverrides(t *testing.T) {
	t.Setenv("TASKHUB_DB_MAX_OPEN_CONNS", "50")
	t.Setenv("TASKHUB_DB_MAX_IDLE_CONNS", "25")
	t.Setenv("TASKHUB_DB_CONN_MAX_LIFETIME", "1h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DBMaxOpenConns != 50 || cfg.DBMaxIdleConns != 25 || cfg.DBConnMaxLifetime != time.Hour {
		t.Fatalf("pool overrides not applied: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("TASKHUB_INVITATION_TTL", "48h")
	t.Setenv("TASKHUB_DISPATCH_WORKERS", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9000" || cfg.InvitationTTL != 48*time.Hour || cfg.DispatchWorkers != 2 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{name: "non numeric workers", key: "TASKHUB_DISPATCH_WORKERS", value: "many"},
		{name: "zero workers", key: "TASKHUB_DISPATCH_WORKERS", value: "0"},
		{name: "negative ttl", key: "TASKHUB_INVITATION_TTL", value: "-1h"},
		{name: "zero open conns", key: "TASKHUB_DB_MAX_OPEN_CONNS", value: "0"},
		{name: "idle above open", key: "TASKHUB_DB_MAX_IDLE_CONNS", value: "21"},
		{name: "zero conn lifetime", key: "TASKHUB_DB_CONN_MAX_LIFETIME", value: "0s"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected Load() to fail for %s=%s", tc.key, tc.value)
			}
		})
	}
}
