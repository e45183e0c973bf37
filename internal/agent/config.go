// Package agent is the build worker: it leases jobs from the controller,
// checks out the revision, runs the build in a container and streams logs
// back.
package agent

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Config is the agent's runtime configuration, loaded from the environment.
type Config struct {
	AgentID      string
	ServerURL    string
	WorkspaceDir string
	PollInterval time.Duration
	// DefaultCommand runs when the repo declares no build command.
	DefaultCommand string

	// SelfRepoMarker routes jobs whose clone URL contains it to the local
	// deploy script instead of a container.
	SelfRepoMarker string
	DeployScript   string

	GitHubAppID          string
	GitHubInstallationID string
	GitHubPrivateKey     []byte
}

// HasGitHubApp reports whether App credentials are fully configured.
func (c *Config) HasGitHubApp() bool {
	return c.GitHubAppID != "" && c.GitHubInstallationID != "" && len(c.GitHubPrivateKey) > 0
}

// String redacts the private key.
func (c *Config) String() string {
	return fmt.Sprintf("Config{agent_id: %s, server_url: %s, workspace_dir: %s, poll_interval: %s, github_app: %v}",
		c.AgentID, c.ServerURL, c.WorkspaceDir, c.PollInterval, c.HasGitHubApp())
}

// ConfigFromEnv builds the agent config from FOUNDRY_* and GITHUB_*
// variables, with sensible defaults for everything optional.
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{
		AgentID:              os.Getenv("FOUNDRY_AGENT_ID"),
		ServerURL:            envOr("FOUNDRY_SERVER_URL", "http://localhost:8080"),
		WorkspaceDir:         envOr("FOUNDRY_WORKSPACE_DIR", "/tmp/foundry"),
		PollInterval:         5 * time.Second,
		DefaultCommand:       envOr("FOUNDRY_DEFAULT_COMMAND", "echo 'No command configured'"),
		SelfRepoMarker:       os.Getenv("FOUNDRY_SELF_REPO"),
		DeployScript:         envOr("FOUNDRY_DEPLOY_SCRIPT", "/app/scripts/deploy.sh"),
		GitHubAppID:          os.Getenv("GITHUB_APP_ID"),
		GitHubInstallationID: os.Getenv("GITHUB_INSTALLATION_ID"),
	}

	if cfg.AgentID == "" {
		cfg.AgentID = "agent-" + uuid.NewString()[:8]
	}

	if v := os.Getenv("FOUNDRY_POLL_INTERVAL"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid FOUNDRY_POLL_INTERVAL %q", v)
		}
		cfg.PollInterval = time.Duration(secs) * time.Second
	}

	if path := os.Getenv("GITHUB_APP_PRIVATE_KEY_PATH"); path != "" {
		key, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read github app key from %s: %w", path, err)
		}
		cfg.GitHubPrivateKey = key
	} else if key := os.Getenv("GITHUB_APP_PRIVATE_KEY"); key != "" {
		cfg.GitHubPrivateKey = []byte(key)
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
