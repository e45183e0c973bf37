package config

import (
	"log/slog"
	"strings"
	"testing"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://foundry:pw@localhost/foundry")
	t.Setenv("GITHUB_WEBHOOK_SECRET", "hush")
}

func TestFromEnv_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.BindAddr != "0.0.0.0:8080" {
		t.Errorf("unexpected bind addr %q", cfg.BindAddr)
	}
	if cfg.Tunnel != nil || cfg.Auth != nil {
		t.Error("expected tunnel and auth disabled by default")
	}
}

func TestFromEnv_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GITHUB_WEBHOOK_SECRET", "hush")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("GITHUB_WEBHOOK_SECRET", "")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error without GITHUB_WEBHOOK_SECRET")
	}
}

func TestFromEnv_Tunnel(t *testing.T) {
	setRequired(t)
	t.Setenv("FOUNDRY_ENABLE_TUNNEL", "true")
	t.Setenv("CF_TUNNEL_TOKEN", "cf-token")
	t.Setenv("CF_TUNNEL_DOMAIN", "ci.example.com")
	t.Setenv("FOUNDRY_BIND_ADDR", "127.0.0.1:9090")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Tunnel == nil {
		t.Fatal("expected tunnel config")
	}
	if cfg.Tunnel.LocalPort != "9090" {
		t.Errorf("expected local port 9090, got %q", cfg.Tunnel.LocalPort)
	}
	if cfg.Tunnel.Hostname != "ci.example.com" {
		t.Errorf("unexpected hostname %q", cfg.Tunnel.Hostname)
	}
}

func TestFromEnv_TunnelRequiresToken(t *testing.T) {
	setRequired(t)
	t.Setenv("FOUNDRY_ENABLE_TUNNEL", "1")
	t.Setenv("CF_TUNNEL_TOKEN", "")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error when tunnel enabled without token")
	}
}

func TestFromEnv_AuthRequiresSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("FOUNDRY_AUTH_ENABLED", "true")
	t.Setenv("FOUNDRY_AUTH_SESSION_SECRET", "")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error when auth enabled without secret")
	}

	t.Setenv("FOUNDRY_AUTH_SESSION_SECRET", "s3cret")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Auth == nil || cfg.Auth.LoginURL != "/login" {
		t.Errorf("unexpected auth config %+v", cfg.Auth)
	}
}

func TestLogLevel(t *testing.T) {
	cases := []struct {
		env  string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, c := range cases {
		t.Setenv("FOUNDRY_LOG_LEVEL", c.env)
		if got := LogLevel(); got != c.want {
			t.Errorf("FOUNDRY_LOG_LEVEL=%q: got %v, want %v", c.env, got, c.want)
		}
	}
}

func TestString_RedactsSecrets(t *testing.T) {
	setRequired(t)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	s := cfg.String()
	if strings.Contains(s, "pw@localhost") || strings.Contains(s, "hush") {
		t.Errorf("secrets leaked into String(): %s", s)
	}
}
