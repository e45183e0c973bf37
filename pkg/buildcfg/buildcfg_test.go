package buildcfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "foundry.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write foundry.toml: %v", err)
	}
	return dir
}

func TestLoad_Missing(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("expected missing file to be nil error, got %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected nil config, got %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	dir := writeConfig(t, "not [valid toml")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_Full(t *testing.T) {
	dir := writeConfig(t, `
[build]
image = "golang:1.22"
command = "make"
args = ["test", "build"]
timeout = 900

[triggers]
branches = ["main", "develop"]
pull_requests = false

[schedule]
cron = "0 3 * * *"
branch = "nightly"
timezone = "Europe/Berlin"

[[stages]]
name = "test"
command = "make test"

[[stages]]
name = "cleanup"
command = "make clean"
condition = "always"
allow_failure = true

[env]
CI = "true"
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Image(); got != "golang:1.22" {
		t.Errorf("expected image golang:1.22, got %q", got)
	}
	if got := cfg.EffectiveCommand("echo"); got != "make test build" {
		t.Errorf("expected joined command, got %q", got)
	}
	if got := cfg.BuildTimeout(); got != 900*time.Second {
		t.Errorf("expected 900s timeout, got %s", got)
	}
	if cfg.PullRequestsEnabled() {
		t.Error("expected pull_requests=false to disable PR builds")
	}
	if got := cfg.TriggerBranches(); len(got) != 2 || got[1] != "develop" {
		t.Errorf("unexpected trigger branches %v", got)
	}
	if !cfg.ScheduleEnabled() || cfg.ScheduleBranch() != "nightly" {
		t.Errorf("unexpected schedule: enabled=%v branch=%q", cfg.ScheduleEnabled(), cfg.ScheduleBranch())
	}
	if len(cfg.Stages) != 2 || !cfg.Stages[1].AllowFailure {
		t.Errorf("unexpected stages %+v", cfg.Stages)
	}
	if cfg.Env["CI"] != "true" {
		t.Errorf("unexpected env %v", cfg.Env)
	}
}

func TestNilConfigDefaults(t *testing.T) {
	var cfg *Config
	if got := cfg.Image(); got != DefaultImage {
		t.Errorf("expected default image, got %q", got)
	}
	if got := cfg.BuildTimeout(); got != DefaultBuildTimeout {
		t.Errorf("expected default timeout, got %s", got)
	}
	if got := cfg.EffectiveCommand("echo hello"); got != "echo hello" {
		t.Errorf("expected fallback command, got %q", got)
	}
	if got := cfg.TriggerBranches(); len(got) != 2 || got[0] != "main" || got[1] != "master" {
		t.Errorf("expected default branches, got %v", got)
	}
	if !cfg.PullRequestsEnabled() {
		t.Error("expected PR builds on by default")
	}
	if cfg.ScheduleEnabled() {
		t.Error("expected no schedule on nil config")
	}
	if got := cfg.ScheduleBranch(); got != "main" {
		t.Errorf("expected default schedule branch main, got %q", got)
	}
}

func TestScheduleEnabled_ExplicitFlag(t *testing.T) {
	off := false
	cfg := &Config{Schedule: Schedule{Cron: "0 * * * *", Enabled: &off}}
	if cfg.ScheduleEnabled() {
		t.Error("expected enabled=false to win over a present cron")
	}

	cfg.Schedule.Enabled = nil
	if !cfg.ScheduleEnabled() {
		t.Error("expected a present cron to default to enabled")
	}
}

func TestDeployEnabled(t *testing.T) {
	cases := []struct {
		deploy Deploy
		want   bool
	}{
		{Deploy{}, false},
		{Deploy{Name: "svc"}, true},
		{Deploy{ComposeFile: "docker-compose.yml"}, true},
	}
	for _, tc := range cases {
		if got := tc.deploy.Enabled(); got != tc.want {
			t.Errorf("deploy %+v: expected %v, got %v", tc.deploy, tc.want, got)
		}
	}
}

func TestDeployAllDomains(t *testing.T) {
	d := Deploy{Domain: "a.test", Domains: []string{"b.test", "c.test"}}
	got := d.AllDomains()
	if len(got) != 3 || got[0] != "a.test" || got[2] != "c.test" {
		t.Errorf("unexpected domains %v", got)
	}
}

func TestStageShouldRun(t *testing.T) {
	const prRef = "refs/pull/9/head"
	const pushRef = "refs/heads/main"

	cases := []struct {
		name      string
		cond      Condition
		anyFailed bool
		ref       string
		want      bool
	}{
		{"default passes on success", "", false, pushRef, true},
		{"default skipped after failure", "", true, pushRef, false},
		{"on_success skipped after failure", CondOnSuccess, true, pushRef, false},
		{"always runs after failure", CondAlways, true, pushRef, true},
		{"on_failure skipped on success", CondOnFailure, false, pushRef, false},
		{"on_failure runs after failure", CondOnFailure, true, pushRef, true},
		{"on_pr runs for pr ref", CondOnPR, false, prRef, true},
		{"on_pr skipped for push ref", CondOnPR, false, pushRef, false},
		{"on_push runs for push ref", CondOnPush, false, pushRef, true},
		{"on_push skipped for pr ref", CondOnPush, false, prRef, false},
		{"unknown behaves like on_success", Condition("bogus"), true, pushRef, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Stage{Condition: tc.cond}
			if got := s.ShouldRun(tc.anyFailed, tc.ref); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestStageTimeout(t *testing.T) {
	s := &Stage{}
	if got := s.Timeout(); got != DefaultStageTimeout {
		t.Errorf("expected default stage timeout, got %s", got)
	}
	s.TimeoutSec = 30
	if got := s.Timeout(); got != 30*time.Second {
		t.Errorf("expected 30s, got %s", got)
	}
}
