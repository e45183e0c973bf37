// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// LogLevel maps FOUNDRY_LOG_LEVEL to a slog level. Empty or unknown
// values fall back to info.
func LogLevel() slog.Level {
	switch strings.ToLower(os.Getenv("FOUNDRY_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Server is the controller's runtime configuration.
type Server struct {
	BindAddr            string
	DatabaseURL         string
	GitHubWebhookSecret string
	Tunnel              *Tunnel
	Auth                *Auth
}

// Tunnel configures the external cloudflared ingress process.
type Tunnel struct {
	Token     string
	Hostname  string
	LocalPort string
}

// Auth configures the stateless session check on the operator surface.
type Auth struct {
	SessionSecret string
	LoginURL      string
}

// String redacts secrets.
func (c *Server) String() string {
	return fmt.Sprintf("Server{bind_addr: %s, database_url: [REDACTED], webhook_secret: [REDACTED], tunnel: %v, auth: %v}",
		c.BindAddr, c.Tunnel != nil, c.Auth != nil)
}

// FromEnv builds the controller config. DATABASE_URL and
// GITHUB_WEBHOOK_SECRET are required; everything else has defaults.
func FromEnv() (*Server, error) {
	cfg := &Server{
		BindAddr:            envOr("FOUNDRY_BIND_ADDR", "0.0.0.0:8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		GitHubWebhookSecret: os.Getenv("GITHUB_WEBHOOK_SECRET"),
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.GitHubWebhookSecret == "" {
		return nil, fmt.Errorf("GITHUB_WEBHOOK_SECRET must be set")
	}

	if envBool("FOUNDRY_ENABLE_TUNNEL") {
		token := os.Getenv("CF_TUNNEL_TOKEN")
		if token == "" {
			return nil, fmt.Errorf("CF_TUNNEL_TOKEN required when tunnel enabled")
		}
		port := "8080"
		if i := strings.LastIndex(cfg.BindAddr, ":"); i >= 0 {
			port = cfg.BindAddr[i+1:]
		}
		cfg.Tunnel = &Tunnel{
			Token:     token,
			Hostname:  os.Getenv("CF_TUNNEL_DOMAIN"),
			LocalPort: port,
		}
	}

	if envBool("FOUNDRY_AUTH_ENABLED") {
		secret := os.Getenv("FOUNDRY_AUTH_SESSION_SECRET")
		if secret == "" {
			return nil, fmt.Errorf("FOUNDRY_AUTH_SESSION_SECRET required when auth enabled")
		}
		cfg.Auth = &Auth{
			SessionSecret: secret,
			LoginURL:      envOr("FOUNDRY_AUTH_LOGIN_URL", "/login"),
		}
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true"
}
