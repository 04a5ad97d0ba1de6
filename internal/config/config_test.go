package config

import (
	"testing"
	"time"
)

func TestLoadDefaultsWithEnvSecret(t *testing.T) {
	t.Setenv("CLINIGATE_SECURITY_TOKEN_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Security.SessionTTL != 30*time.Minute {
		t.Fatalf("unexpected session ttl: %v", cfg.Security.SessionTTL)
	}
	if cfg.Security.GracePeriod != 10*time.Minute {
		t.Fatalf("unexpected grace period: %v", cfg.Security.GracePeriod)
	}
	if cfg.Security.TokenSecret != "test-secret" {
		t.Fatalf("env secret not applied: %q", cfg.Security.TokenSecret)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("CLINIGATE_SECURITY_TOKEN_SECRET", "test-secret")
	t.Setenv("CLINIGATE_SERVER_ADDR", ":9090")
	t.Setenv("CLINIGATE_SECURITY_LOCKOUT_THRESHOLD", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("env addr not applied: %s", cfg.Server.Addr)
	}
	if cfg.Security.LockoutThreshold != 3 {
		t.Fatalf("env lockout threshold not applied: %d", cfg.Security.LockoutThreshold)
	}
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	t.Setenv("CLINIGATE_SECURITY_TOKEN_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing token secret")
	}
}

func TestEnvTransform(t *testing.T) {
	cases := map[string]string{
		"CLINIGATE_SERVER_ADDR":              "server.addr",
		"CLINIGATE_SECURITY_TOKEN_SECRET":    "security.token_secret",
		"CLINIGATE_DATABASE_MAX_OPEN_CONNS":  "database.max_open_conns",
		"CLINIGATE_SECURITY_LOGIN_RATE_BURST": "security.login_rate_burst",
	}
	for in, want := range cases {
		if got := envTransform(in); got != want {
			t.Fatalf("envTransform(%q)=%q, want %q", in, got, want)
		}
	}
}
