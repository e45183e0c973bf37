package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/foundry-sh/foundry/internal/ghapp"
	"github.com/foundry-sh/foundry/pkg/protocol"
)

const checkRunName = "foundry"

// reportStart tells GitHub a build began: a check run for PR jobs, a pending
// commit status for push jobs. Returns the check run id, or 0 when nothing
// was created. Sentinel jobs have no commit yet, so they report nothing.
func (r *Runner) reportStart(ctx context.Context, job *protocol.ClaimedJob) int64 {
	if r.app == nil || job.ResolveBranch() != "" {
		return 0
	}

	if job.IsPullRequest() {
		id, err := r.app.CreateCheckRun(ctx, job.RepoOwner, job.RepoName, job.GitSHA, checkRunName)
		if err != nil {
			slog.Warn("create check run failed", "job_id", job.ID, "error", err)
			return 0
		}
		return id
	}

	err := r.app.CreateCommitStatus(ctx, job.RepoOwner, job.RepoName, job.GitSHA,
		ghapp.StatusPending, "Build in progress", "")
	if err != nil {
		slog.Warn("create commit status failed", "job_id", job.ID, "error", err)
	}
	return 0
}

// reportFinish closes out whatever reportStart opened. Failures here are
// logged and swallowed; the job outcome is already recorded controller-side.
func (r *Runner) reportFinish(ctx context.Context, job *protocol.ClaimedJob, checkRunID int64, runErr error) {
	if r.app == nil || job.ResolveBranch() != "" {
		return
	}

	if checkRunID != 0 {
		conclusion := ghapp.ConclusionSuccess
		summary := "Build completed successfully."
		switch {
		case errors.Is(runErr, errTimeout):
			conclusion = ghapp.ConclusionTimedOut
			summary = "Build exceeded its time limit."
		case runErr != nil:
			conclusion = ghapp.ConclusionFailure
			summary = "Build failed: " + runErr.Error()
		}

		logs, err := r.client.FetchLogs(ctx, job)
		if err != nil {
			slog.Warn("fetch logs for check run failed", "job_id", job.ID, "error", err)
		}
		if err := r.app.CompleteCheckRun(ctx, job.RepoOwner, job.RepoName, checkRunID, conclusion, summary, logs); err != nil {
			slog.Warn("complete check run failed", "job_id", job.ID, "error", err)
		}
		return
	}

	if job.IsPullRequest() {
		return
	}

	status := ghapp.StatusSuccess
	desc := "Build succeeded"
	if runErr != nil {
		status = ghapp.StatusFailure
		desc = "Build failed"
	}
	err := r.app.CreateCommitStatus(ctx, job.RepoOwner, job.RepoName, job.GitSHA, status, desc, "")
	if err != nil {
		slog.Warn("create commit status failed", "job_id", job.ID, "error", err)
	}
}
