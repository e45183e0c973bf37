package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/foundry-sh/foundry/internal/ghapp"
	"github.com/foundry-sh/foundry/pkg/protocol"
)

// claimRetryDelay is the backoff after a failed claim call, distinct from
// the empty-queue poll interval.
const claimRetryDelay = 5 * time.Second

// Runner is the agent's top level. Its loop never aborts on a single job's
// failure; every error is reported through finish and the loop continues.
type Runner struct {
	cfg    *Config
	client *Client
	app    *ghapp.App

	// execStage runs one containerized command; tests swap it out.
	execStage func(ctx context.Context, sink *logSink, run containerRun) error
}

func NewRunner(cfg *Config) (*Runner, error) {
	r := &Runner{cfg: cfg, client: NewClient(cfg), execStage: runContainer}

	if cfg.HasGitHubApp() {
		app, err := ghapp.New(cfg.GitHubAppID, cfg.GitHubInstallationID, cfg.GitHubPrivateKey)
		if err != nil {
			return nil, err
		}
		r.app = app
		slog.Info("github app authentication enabled")
	} else {
		slog.Warn("github app not configured, private repos will fail to clone")
	}

	return r, nil
}

// Run polls the controller until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("agent started", "agent_id", r.cfg.AgentID, "server_url", r.cfg.ServerURL)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, err := r.client.Claim(ctx)
		if err != nil {
			slog.Warn("claim failed", "error", err)
			if !sleep(ctx, claimRetryDelay) {
				return ctx.Err()
			}
			continue
		}
		if job == nil {
			if !sleep(ctx, r.cfg.PollInterval) {
				return ctx.Err()
			}
			continue
		}

		r.handle(ctx, job)
	}
}

func (r *Runner) handle(ctx context.Context, job *protocol.ClaimedJob) {
	sha := job.GitSHA
	if len(sha) > 8 {
		sha = sha[:8]
	}
	slog.Info("job claimed", "job_id", job.ID,
		"repo", job.RepoOwner+"/"+job.RepoName, "sha", sha)

	checkRunID := r.reportStart(ctx, job)

	success := false
	runErr := r.runJob(ctx, job)
	if runErr != nil {
		slog.Error("job failed", "job_id", job.ID, "error", runErr)
		// Best effort; the lease may already be gone.
		_ = r.client.Log(ctx, job, "ERROR: "+runErr.Error())
	} else {
		slog.Info("job completed", "job_id", job.ID)
		success = true
	}

	r.reportFinish(ctx, job, checkRunID, runErr)

	if err := r.client.Finish(ctx, job, success); err != nil {
		slog.Error("finish report failed", "job_id", job.ID, "error", err)
	}
}

// sleep waits d or until cancellation, reporting false on cancel.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
