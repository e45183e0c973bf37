package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/foundry-sh/foundry/internal/ghapp"
	"github.com/foundry-sh/foundry/pkg/buildcfg"
	"github.com/foundry-sh/foundry/pkg/protocol"
)

// runJob executes one claimed job end to end. Any returned error marks the
// job failed; the caller reports finish either way.
func (r *Runner) runJob(ctx context.Context, job *protocol.ClaimedJob) error {
	if r.cfg.SelfRepoMarker != "" && strings.Contains(job.CloneURL, r.cfg.SelfRepoMarker) {
		return r.selfDeploy(ctx, job)
	}

	start := time.Now()
	metrics := RunMetrics{}

	sink := newLogSink(ctx, r.client, job)
	defer sink.Close()

	workspace := filepath.Join(r.cfg.WorkspaceDir, fmt.Sprintf("job-%d", job.ID))
	repoDir := filepath.Join(workspace, "repo")
	if err := os.RemoveAll(workspace); err != nil {
		return fmt.Errorf("purge workspace: %w", err)
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			slog.Debug("workspace cleanup failed", "job_id", job.ID, "error", err)
		}
	}()

	cloneURL := job.CloneURL
	if r.app != nil {
		sink.Send("Fetching GitHub App installation token")
		token, err := r.app.InstallationToken(ctx)
		if err != nil {
			return fmt.Errorf("installation token: %w", err)
		}
		cloneURL = ghapp.AuthenticatedCloneURL(job.CloneURL, token)
	}

	branch := job.ResolveBranch()
	sha := job.GitSHA
	if len(sha) > 8 {
		sha = sha[:8]
	}
	if branch != "" {
		sink.Send(fmt.Sprintf("Cloning %s @ HEAD of %s", job.CloneURL, branch))
	} else {
		sink.Send(fmt.Sprintf("Cloning %s @ %s", job.CloneURL, sha))
	}

	cloneStart := time.Now()
	if err := checkout(ctx, cloneURL, job.CloneURL, job.GitSHA, branch, repoDir); err != nil {
		return err
	}
	metrics.CloneDurationMS = time.Since(cloneStart).Milliseconds()
	sink.Send("Clone complete")

	if branch != "" {
		if head, err := headSHA(ctx, repoDir); err == nil {
			sink.Send(fmt.Sprintf("Resolved %s to %s", branch, head))
		} else {
			slog.Debug("head resolve failed", "job_id", job.ID, "error", err)
		}
	}

	cfg, err := buildcfg.Load(repoDir)
	if err != nil {
		sink.Send("WARNING: " + err.Error())
		slog.Warn("foundry.toml unreadable", "job_id", job.ID, "error", err)
	}
	r.syncRepoConfig(ctx, job, cfg, sink)

	buildStart := time.Now()
	runErr := r.dispatch(ctx, job, cfg, repoDir, sink, &metrics)
	metrics.BuildDurationMS = time.Since(buildStart).Milliseconds()
	metrics.TotalDurationMS = time.Since(start).Milliseconds()

	if err := r.client.Metrics(ctx, job, metrics); err != nil {
		slog.Warn("metrics report failed", "job_id", job.ID, "error", err)
	}

	return runErr
}

// dispatch picks the execution mode: deploy, staged pipeline, or a single
// container.
func (r *Runner) dispatch(ctx context.Context, job *protocol.ClaimedJob, cfg *buildcfg.Config, repoDir string, sink *logSink, metrics *RunMetrics) error {
	// The deploy path owns its own image build.
	if cfg != nil && cfg.Deploy.Enabled() {
		return r.deploy(ctx, job, cfg, repoDir, sink)
	}

	image := job.Image
	env := map[string]string{}
	if cfg != nil {
		image = cfg.Image()
		for k, v := range cfg.Env {
			env[k] = v
		}
		if cfg.Build.Dockerfile != "" {
			sink.Send("Building image from " + cfg.Build.Dockerfile)
			built, err := buildImage(ctx, sink, job.ID, repoDir, cfg.Build.Dockerfile, cfg.BuildContext())
			if err != nil {
				return err
			}
			image = built
		}
	}

	switch {
	case cfg != nil && len(cfg.Stages) > 0:
		return r.runPipeline(ctx, job, cfg, image, env, repoDir, sink, metrics)
	default:
		command := cfg.EffectiveCommand(r.cfg.DefaultCommand)
		sink.Send("Running in container: " + image)
		return r.execStage(ctx, sink, containerRun{
			JobID:   job.ID,
			Image:   image,
			Command: command,
			Env:     env,
			RepoDir: repoDir,
			Timeout: cfg.BuildTimeout(),
		})
	}
}

// syncRepoConfig advertises the repo's declared triggers and schedule back
// to the controller. Failures are warnings; the build proceeds.
func (r *Runner) syncRepoConfig(ctx context.Context, job *protocol.ClaimedJob, cfg *buildcfg.Config, sink *logSink) {
	err := r.client.SyncTriggers(ctx, protocol.SyncTriggersRequest{
		RepoID:           job.RepoID,
		ClaimToken:       job.ClaimToken,
		Branches:         cfg.TriggerBranches(),
		PullRequests:     cfg.PullRequestsEnabled(),
		PRTargetBranches: triggerPRTargets(cfg),
	})
	if err != nil {
		slog.Warn("trigger sync failed", "job_id", job.ID, "error", err)
		sink.Send("WARNING: trigger sync failed: " + err.Error())
	}

	schedReq := protocol.SyncScheduleRequest{
		RepoID:     job.RepoID,
		ClaimToken: job.ClaimToken,
		Enabled:    cfg.ScheduleEnabled(),
	}
	if cfg != nil && cfg.Schedule.Cron != "" {
		schedReq.Cron = cfg.Schedule.Cron
		schedReq.Branch = cfg.ScheduleBranch()
		schedReq.Timezone = cfg.Schedule.Timezone
	}
	if err := r.client.SyncSchedule(ctx, schedReq); err != nil {
		slog.Warn("schedule sync failed", "job_id", job.ID, "error", err)
		sink.Send("WARNING: schedule sync failed: " + err.Error())
	}
}

func triggerPRTargets(cfg *buildcfg.Config) []string {
	if cfg == nil {
		return nil
	}
	return cfg.Triggers.PRTargetBranches
}
