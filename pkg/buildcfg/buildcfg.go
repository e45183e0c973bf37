// Package buildcfg parses the foundry.toml file a repository uses to declare
// how it is built, deployed, triggered and scheduled.
package buildcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultImage is used when no image or dockerfile is declared.
	DefaultImage = "ubuntu:latest"

	// DefaultBuildTimeout bounds a single container run.
	DefaultBuildTimeout = 1800 * time.Second

	// DefaultStageTimeout bounds one pipeline stage.
	DefaultStageTimeout = 600 * time.Second
)

// DefaultBranches are the branches that trigger push builds when a repo has
// not declared its own list.
var DefaultBranches = []string{"main", "master"}

// Config is the parsed foundry.toml.
type Config struct {
	Build    Build             `toml:"build"`
	Deploy   Deploy            `toml:"deploy"`
	Triggers Triggers          `toml:"triggers"`
	Schedule Schedule          `toml:"schedule"`
	Stages   []Stage           `toml:"stages"`
	Env      map[string]string `toml:"env"`
}

type Build struct {
	Image      string   `toml:"image"`
	Dockerfile string   `toml:"dockerfile"`
	Context    string   `toml:"context"`
	Command    string   `toml:"command"`
	Args       []string `toml:"args"`
	TimeoutSec int      `toml:"timeout"`
}

type Deploy struct {
	Name        string   `toml:"name"`
	Domain      string   `toml:"domain"`
	Domains     []string `toml:"domains"`
	Port        int      `toml:"port"`
	ComposeFile string   `toml:"compose_file"`
	Healthcheck string   `toml:"healthcheck"`
	Volumes     []string `toml:"volumes"`
	EnvFile     string   `toml:"env_file"`
}

type Triggers struct {
	Branches         []string `toml:"branches"`
	PullRequests     *bool    `toml:"pull_requests"`
	PRTargetBranches []string `toml:"pr_target_branches"`
}

type Schedule struct {
	Cron     string `toml:"cron"`
	Branch   string `toml:"branch"`
	Timezone string `toml:"timezone"`
	Enabled  *bool  `toml:"enabled"`
}

// Condition controls when a pipeline stage runs relative to earlier stages
// and the triggering ref.
type Condition string

const (
	CondAlways    Condition = "always"
	CondOnSuccess Condition = "on_success"
	CondOnFailure Condition = "on_failure"
	CondOnPR      Condition = "on_pr"
	CondOnPush    Condition = "on_push"
)

type Stage struct {
	Name         string            `toml:"name"`
	Image        string            `toml:"image"`
	Command      string            `toml:"command"`
	TimeoutSec   int               `toml:"timeout"`
	AllowFailure bool              `toml:"allow_failure"`
	Env          map[string]string `toml:"env"`
	DependsOn    []string          `toml:"depends_on"`
	Condition    Condition         `toml:"condition"`
}

// Load reads foundry.toml from dir. A missing file is not an error; it
// returns (nil, nil) and the caller falls back to defaults.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "foundry.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse foundry.toml: %w", err)
	}
	return &cfg, nil
}

// Image returns the declared build image or the default.
func (c *Config) Image() string {
	if c != nil && c.Build.Image != "" {
		return c.Build.Image
	}
	return DefaultImage
}

// BuildTimeout returns the declared container deadline or the default.
func (c *Config) BuildTimeout() time.Duration {
	if c != nil && c.Build.TimeoutSec > 0 {
		return time.Duration(c.Build.TimeoutSec) * time.Second
	}
	return DefaultBuildTimeout
}

// EffectiveCommand returns build.command with build.args appended, or the
// given default when no command is declared.
func (c *Config) EffectiveCommand(def string) string {
	if c == nil || c.Build.Command == "" {
		return def
	}
	if len(c.Build.Args) == 0 {
		return c.Build.Command
	}
	return c.Build.Command + " " + strings.Join(c.Build.Args, " ")
}

// BuildContext returns the docker build context directory, defaulting to ".".
func (c *Config) BuildContext() string {
	if c != nil && c.Build.Context != "" {
		return c.Build.Context
	}
	return "."
}

// TriggerBranches returns the declared push-trigger branches or the defaults.
func (c *Config) TriggerBranches() []string {
	if c != nil && len(c.Triggers.Branches) > 0 {
		return c.Triggers.Branches
	}
	return append([]string(nil), DefaultBranches...)
}

// PullRequestsEnabled reports whether PR builds are on (default true).
func (c *Config) PullRequestsEnabled() bool {
	if c != nil && c.Triggers.PullRequests != nil {
		return *c.Triggers.PullRequests
	}
	return true
}

// ScheduleEnabled reports whether the declared schedule is active. A config
// without a cron expression has no schedule.
func (c *Config) ScheduleEnabled() bool {
	if c == nil || c.Schedule.Cron == "" {
		return false
	}
	if c.Schedule.Enabled != nil {
		return *c.Schedule.Enabled
	}
	return true
}

// ScheduleBranch returns the branch to build on schedule fire (default main).
func (c *Config) ScheduleBranch() string {
	if c != nil && c.Schedule.Branch != "" {
		return c.Schedule.Branch
	}
	return "main"
}

// Enabled reports whether the deploy path is taken.
func (d *Deploy) Enabled() bool {
	return d.Name != "" || d.ComposeFile != ""
}

// AllDomains flattens domain and domains[] into one list.
func (d *Deploy) AllDomains() []string {
	var out []string
	if d.Domain != "" {
		out = append(out, d.Domain)
	}
	out = append(out, d.Domains...)
	return out
}

// Timeout returns the stage deadline or the stage default.
func (s *Stage) Timeout() time.Duration {
	if s.TimeoutSec > 0 {
		return time.Duration(s.TimeoutSec) * time.Second
	}
	return DefaultStageTimeout
}

// ShouldRun evaluates the stage condition against the pipeline's failure flag
// and the job's git ref.
func (s *Stage) ShouldRun(anyFailed bool, gitRef string) bool {
	switch s.Condition {
	case CondAlways:
		return true
	case CondOnFailure:
		return anyFailed
	case CondOnPR:
		return strings.HasPrefix(gitRef, "refs/pull/")
	case CondOnPush:
		return !strings.HasPrefix(gitRef, "refs/pull/")
	case CondOnSuccess, "":
		return !anyFailed
	default:
		return !anyFailed
	}
}
