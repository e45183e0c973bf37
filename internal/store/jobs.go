package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/foundry-sh/foundry/pkg/protocol"
)

// EnqueuePushJob inserts a queued push job. The canonical git_sha is the
// push payload's after SHA.
func (s *Store) EnqueuePushJob(ctx context.Context, repoID int64, push PushData) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO job (
			repo_id, git_sha, git_ref, status, trigger_type,
			commit_message, commit_author, commit_url,
			files_added, files_removed, files_modified
		)
		VALUES ($1, $2, $3, 'queued', 'push', $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		repoID, push.After, push.Ref,
		nilStr(push.CommitMessage), nilStr(push.CommitAuthor), nilStr(push.CommitURL),
		textArray(push.FilesAdded), textArray(push.FilesRemoved), textArray(push.FilesModified),
	).Scan(&id)
	if err != nil {
		return 0, storageErr("enqueue push job", err)
	}
	return id, nil
}

// EnqueuePRJob inserts a queued pull-request job against refs/pull/<n>/head.
func (s *Store) EnqueuePRJob(ctx context.Context, repoID int64, pr PRData) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO job (
			repo_id, git_sha, git_ref, status, trigger_type,
			pr_number, pr_title, pr_url, pr_author, pr_base_ref, pr_base_sha
		)
		VALUES ($1, $2, $3, 'queued', 'pull_request', $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		repoID, pr.HeadSHA, fmt.Sprintf("refs/pull/%d/head", pr.Number),
		pr.Number, nilStr(pr.Title), nilStr(pr.URL), nilStr(pr.Author),
		nilStr(pr.BaseRef), nilStr(pr.BaseSHA),
	).Scan(&id)
	if err != nil {
		return 0, storageErr("enqueue pr job", err)
	}
	return id, nil
}

// EnqueueScheduledJob inserts a queued cron-originated job. The commit does
// not exist yet, so git_sha carries the RESOLVE:<branch> sentinel and the
// agent resolves HEAD at checkout time.
func (s *Store) EnqueueScheduledJob(ctx context.Context, scheduledID, repoID int64, branch, cron string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO job (repo_id, git_sha, git_ref, status, trigger_type, scheduled_job_id, commit_message)
		VALUES ($1, $2, $3, 'queued', 'manual', $4, $5)
		RETURNING id`,
		repoID, protocol.ResolvePrefix+branch, "refs/heads/"+branch,
		scheduledID, "Scheduled build: "+cron,
	).Scan(&id)
	if err != nil {
		return 0, storageErr("enqueue scheduled job", err)
	}
	return id, nil
}

// Rerun copies a terminal job into a new queued row with parent lineage.
// Rerunning a queued or running job returns ErrConflict.
func (s *Store) Rerun(ctx context.Context, jobID int64) (int64, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status::text FROM job WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, storageErr("rerun lookup", err)
	}
	if status != "success" && status != "failed" {
		return 0, ErrConflict
	}

	var newID int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO job (
			repo_id, git_sha, git_ref, status, trigger_type,
			commit_message, commit_author, commit_url,
			pr_number, pr_title, pr_url, pr_author, pr_base_ref, pr_base_sha,
			files_added, files_removed, files_modified, parent_job_id
		)
		SELECT repo_id, git_sha, git_ref, 'queued', trigger_type,
		       commit_message, commit_author, commit_url,
		       pr_number, pr_title, pr_url, pr_author, pr_base_ref, pr_base_sha,
		       files_added, files_removed, files_modified, id
		FROM job WHERE id = $1
		RETURNING id`, jobID,
	).Scan(&newID)
	if err != nil {
		return 0, storageErr("rerun insert", err)
	}
	return newID, nil
}

// ClaimNext leases the oldest queued job to agentID. The candidate row is
// locked FOR UPDATE SKIP LOCKED inside one transaction, so concurrent
// claimers step past each other and at most one agent wins any given job.
// Returns nil when the queue is empty.
func (s *Store) ClaimNext(ctx context.Context, agentID string) (*protocol.ClaimedJob, error) {
	token := uuid.New()

	row := s.db.QueryRowContext(ctx, `
		WITH claimed AS (
			UPDATE job
			SET status = 'running', started_at = now(), claimed_by = $1, claim_token = $2
			WHERE id = (
				SELECT id FROM job
				WHERE status = 'queued'
				ORDER BY created_at ASC, id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING id, repo_id, git_sha, git_ref, claim_token
		)
		SELECT c.id, c.repo_id, c.git_sha, c.git_ref, c.claim_token,
		       r.owner, r.name, r.clone_url,
		       COALESCE(r.config_json->'build'->>'image', 'ubuntu:latest')
		FROM claimed c
		JOIN repo r ON r.id = c.repo_id`,
		agentID, token,
	)

	var job protocol.ClaimedJob
	err := row.Scan(
		&job.ID, &job.RepoID, &job.GitSHA, &job.GitRef, &job.ClaimToken,
		&job.RepoOwner, &job.RepoName, &job.CloneURL, &job.Image,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("claim next", err)
	}
	return &job, nil
}

// Finish moves a running job to its terminal status iff the token matches.
// A second call for the same job returns false.
func (s *Store) Finish(ctx context.Context, jobID int64, token uuid.UUID, success bool) (bool, error) {
	status := "failed"
	if success {
		status = "success"
	}
	var repoID int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE job
		SET status = $3::job_status, finished_at = now()
		WHERE id = $1 AND claim_token = $2 AND status = 'running'
		RETURNING repo_id`,
		jobID, token, status,
	).Scan(&repoID)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("finish job", err)
	}

	// Counters are derived data; a failed bump must not fail the finish.
	if err := s.RecordBuildOutcome(ctx, repoID, success); err != nil {
		slog.Warn("record build outcome failed", "repo_id", repoID, "error", err)
	}
	return true, nil
}

// VerifyJobToken passes iff a running job under repoID holds token. Used by
// the repo-scoped sync endpoints.
func (s *Store) VerifyJobToken(ctx context.Context, repoID int64, token uuid.UUID) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM job
			WHERE repo_id = $1 AND claim_token = $2 AND status = 'running'
		)`, repoID, token,
	).Scan(&ok)
	if err != nil {
		return false, storageErr("verify job token", err)
	}
	return ok, nil
}

// StoreMetrics attaches a metrics blob to the job. The token guard does not
// require running status: the finish report may land first.
func (s *Store) StoreMetrics(ctx context.Context, jobID int64, token uuid.UUID, metrics json.RawMessage) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job SET metrics = $3
		WHERE id = $1 AND claim_token = $2`,
		jobID, token, []byte(metrics),
	)
	if err != nil {
		return false, storageErr("store metrics", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReapStaleJobs resets running jobs older than ttl back to queued with the
// lease cleared. Covers agents that died mid-job.
func (s *Store) ReapStaleJobs(ctx context.Context, ttl time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job
		SET status = 'queued', claimed_by = NULL, claim_token = NULL, started_at = NULL
		WHERE status = 'running' AND started_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(ttl.Seconds())),
	)
	if err != nil {
		return 0, storageErr("reap stale jobs", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListJobs returns the newest jobs first, joined with repo identity.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]JobSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []JobSummary
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT j.id, r.owner AS repo_owner, r.name AS repo_name,
		       j.git_sha, j.git_ref, j.status::text AS status,
		       j.trigger_type::text AS trigger_type,
		       j.created_at, j.started_at, j.finished_at
		FROM job j
		JOIN repo r ON r.id = j.repo_id
		ORDER BY j.created_at DESC, j.id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, storageErr("list jobs", err)
	}
	return jobs, nil
}

// ListRepoJobs returns a single repo's newest jobs.
func (s *Store) ListRepoJobs(ctx context.Context, repoID int64, limit int) ([]JobSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []JobSummary
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT j.id, r.owner AS repo_owner, r.name AS repo_name,
		       j.git_sha, j.git_ref, j.status::text AS status,
		       j.trigger_type::text AS trigger_type,
		       j.created_at, j.started_at, j.finished_at
		FROM job j
		JOIN repo r ON r.id = j.repo_id
		WHERE j.repo_id = $1
		ORDER BY j.created_at DESC, j.id DESC
		LIMIT $2`, repoID, limit)
	if err != nil {
		return nil, storageErr("list repo jobs", err)
	}
	return jobs, nil
}

// GetJob returns one job with its repo identity.
func (s *Store) GetJob(ctx context.Context, jobID int64) (*JobDetail, error) {
	var job JobDetail
	err := s.db.GetContext(ctx, &job, `
		SELECT j.id, j.repo_id, r.owner AS repo_owner, r.name AS repo_name,
		       j.git_sha, j.git_ref, j.status::text AS status,
		       j.trigger_type::text AS trigger_type, j.claimed_by,
		       j.commit_message, j.commit_author, j.commit_url,
		       j.pr_number, j.pr_title, j.pr_url,
		       j.parent_job_id, j.scheduled_job_id, j.metrics,
		       j.created_at, j.started_at, j.finished_at
		FROM job j
		JOIN repo r ON r.id = j.repo_id
		WHERE j.id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get job", err)
	}
	return &job, nil
}

// DashboardStats computes the /api/stats aggregates on demand.
func (s *Store) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	var stats DashboardStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE created_at >= date_trunc('day', now())),
			COALESCE(
				100.0 * COUNT(*) FILTER (WHERE status = 'success')
				/ NULLIF(COUNT(*) FILTER (WHERE status IN ('success', 'failed')), 0),
				0),
			COUNT(*) FILTER (WHERE status = 'queued'),
			COUNT(*) FILTER (WHERE status = 'running')
		FROM job`,
	).Scan(&stats.TotalJobs, &stats.JobsToday, &stats.SuccessRatePct,
		&stats.QueuedCount, &stats.RunningCount)
	if err != nil {
		return nil, storageErr("dashboard stats", err)
	}
	return &stats, nil
}
