package store

import (
	"encoding/json"
	"time"
)

// RepoData is the upsert input derived from a webhook payload.
type RepoData struct {
	Owner         string
	Name          string
	CloneURL      string
	GitHubID      int64
	FullName      string
	HTMLURL       string
	SSHURL        string
	Private       bool
	DefaultBranch string
	Language      string
	Description   string
}

// PushData carries the denormalized fields of a push-triggered job.
type PushData struct {
	After         string
	Ref           string
	CommitMessage string
	CommitAuthor  string
	CommitURL     string
	FilesAdded    []string
	FilesRemoved  []string
	FilesModified []string
}

// PRData carries the denormalized fields of a pull-request-triggered job.
type PRData struct {
	Number  int64
	Title   string
	URL     string
	Author  string
	HeadSHA string
	BaseRef string
	BaseSHA string
}

// CommitData is one archived commit of a push delivery.
type CommitData struct {
	SHA            string
	TreeID         string
	Message        string
	AuthorName     string
	AuthorEmail    string
	CommitterName  string
	CommitterEmail string
	URL            string
	FilesAdded     []string
	FilesRemoved   []string
	FilesModified  []string
	Distinct       bool
}

// JobSummary is the list-view read model.
type JobSummary struct {
	ID          int64      `db:"id" json:"id"`
	RepoOwner   string     `db:"repo_owner" json:"repo_owner"`
	RepoName    string     `db:"repo_name" json:"repo_name"`
	GitSHA      string     `db:"git_sha" json:"git_sha"`
	GitRef      string     `db:"git_ref" json:"git_ref"`
	Status      string     `db:"status" json:"status"`
	TriggerType string     `db:"trigger_type" json:"trigger_type"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt  *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// JobDetail is the single-job read model.
type JobDetail struct {
	ID             int64           `db:"id" json:"id"`
	RepoID         int64           `db:"repo_id" json:"repo_id"`
	RepoOwner      string          `db:"repo_owner" json:"repo_owner"`
	RepoName       string          `db:"repo_name" json:"repo_name"`
	GitSHA         string          `db:"git_sha" json:"git_sha"`
	GitRef         string          `db:"git_ref" json:"git_ref"`
	Status         string          `db:"status" json:"status"`
	TriggerType    string          `db:"trigger_type" json:"trigger_type"`
	ClaimedBy      *string         `db:"claimed_by" json:"claimed_by,omitempty"`
	CommitMessage  *string         `db:"commit_message" json:"commit_message,omitempty"`
	CommitAuthor   *string         `db:"commit_author" json:"commit_author,omitempty"`
	CommitURL      *string         `db:"commit_url" json:"commit_url,omitempty"`
	PRNumber       *int64          `db:"pr_number" json:"pr_number,omitempty"`
	PRTitle        *string         `db:"pr_title" json:"pr_title,omitempty"`
	PRURL          *string         `db:"pr_url" json:"pr_url,omitempty"`
	ParentJobID    *int64          `db:"parent_job_id" json:"parent_job_id,omitempty"`
	ScheduledJobID *int64          `db:"scheduled_job_id" json:"scheduled_job_id,omitempty"`
	Metrics        json.RawMessage `db:"metrics" json:"metrics,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	StartedAt      *time.Time      `db:"started_at" json:"started_at,omitempty"`
	FinishedAt     *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}

// RepoSummary is the repo list read model.
type RepoSummary struct {
	ID            int64      `db:"id" json:"id"`
	Owner         string     `db:"owner" json:"owner"`
	Name          string     `db:"name" json:"name"`
	CloneURL      string     `db:"clone_url" json:"clone_url"`
	Private       bool       `db:"private" json:"private"`
	DefaultBranch *string    `db:"default_branch" json:"default_branch,omitempty"`
	Language      *string    `db:"language" json:"language,omitempty"`
	Description   *string    `db:"description" json:"description,omitempty"`
	BuildCount    int64      `db:"build_count" json:"build_count"`
	SuccessCount  int64      `db:"success_count" json:"success_count"`
	FailureCount  int64      `db:"failure_count" json:"failure_count"`
	LastBuildAt   *time.Time `db:"last_build_at" json:"last_build_at,omitempty"`
}

// ScheduleSummary is the schedule list read model.
type ScheduleSummary struct {
	ID        int64      `db:"id" json:"id"`
	RepoID    int64      `db:"repo_id" json:"repo_id"`
	RepoOwner string     `db:"repo_owner" json:"repo_owner"`
	RepoName  string     `db:"repo_name" json:"repo_name"`
	Cron      string     `db:"cron_expression" json:"cron"`
	Branch    string     `db:"branch" json:"branch"`
	Timezone  string     `db:"timezone" json:"timezone"`
	Enabled   bool       `db:"enabled" json:"enabled"`
	LastRunAt *time.Time `db:"last_run_at" json:"last_run_at,omitempty"`
	NextRunAt *time.Time `db:"next_run_at" json:"next_run_at,omitempty"`
}

// DueSchedule is one enabled schedule whose next fire time has passed.
type DueSchedule struct {
	ID       int64  `db:"id"`
	RepoID   int64  `db:"repo_id"`
	Cron     string `db:"cron_expression"`
	Branch   string `db:"branch"`
	Timezone string `db:"timezone"`
}

// DashboardStats is the aggregate read model for /api/stats.
type DashboardStats struct {
	TotalJobs      int64   `json:"total_jobs"`
	JobsToday      int64   `json:"jobs_today"`
	SuccessRatePct float64 `json:"success_rate_pct"`
	QueuedCount    int64   `json:"queued_count"`
	RunningCount   int64   `json:"running_count"`
}

// LogLine is one stored log row.
type LogLine struct {
	Timestamp time.Time `db:"ts" json:"timestamp"`
	Line      string    `db:"line" json:"line"`
}
