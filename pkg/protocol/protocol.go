// Package protocol defines the wire types exchanged between the foundry
// controller and its build agents. Both sides marshal these with encoding/json;
// field names are part of the compatibility contract.
package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ResolvePrefix marks a git_sha that must be resolved to the HEAD of a branch
// at checkout time. Scheduler-originated jobs carry "RESOLVE:<branch>" because
// the commit does not exist yet when the job is enqueued.
const ResolvePrefix = "RESOLVE:"

// ClaimedJob is everything an agent needs to run a job it has leased.
type ClaimedJob struct {
	ID         int64     `json:"id"`
	RepoID     int64     `json:"repo_id"`
	RepoOwner  string    `json:"repo_owner"`
	RepoName   string    `json:"repo_name"`
	CloneURL   string    `json:"clone_url"`
	GitSHA     string    `json:"git_sha"`
	GitRef     string    `json:"git_ref"`
	Image      string    `json:"image"`
	ClaimToken uuid.UUID `json:"claim_token"`
}

// ResolveBranch returns the branch name when GitSHA carries the resolve
// sentinel, and "" otherwise.
func (j *ClaimedJob) ResolveBranch() string {
	if len(j.GitSHA) > len(ResolvePrefix) && j.GitSHA[:len(ResolvePrefix)] == ResolvePrefix {
		return j.GitSHA[len(ResolvePrefix):]
	}
	return ""
}

// IsPullRequest reports whether the job was triggered by a pull request.
func (j *ClaimedJob) IsPullRequest() bool {
	return len(j.GitRef) >= len("refs/pull/") && j.GitRef[:len("refs/pull/")] == "refs/pull/"
}

type ClaimRequest struct {
	AgentID string `json:"agent_id"`
}

// ClaimStatus tags the ClaimResponse union.
const (
	ClaimStatusClaimed = "claimed"
	ClaimStatusEmpty   = "empty"
)

// ClaimResponse is a tagged union: {"status":"claimed","job":{...}} or
// {"status":"empty"}.
type ClaimResponse struct {
	Status string      `json:"status"`
	Job    *ClaimedJob `json:"job,omitempty"`
}

type LogRequest struct {
	JobID      int64     `json:"job_id"`
	ClaimToken uuid.UUID `json:"claim_token"`
	Line       string    `json:"line"`
}

type FinishRequest struct {
	JobID      int64     `json:"job_id"`
	ClaimToken uuid.UUID `json:"claim_token"`
	Success    bool      `json:"success"`
}

type MetricsRequest struct {
	JobID      int64           `json:"job_id"`
	ClaimToken uuid.UUID       `json:"claim_token"`
	Metrics    json.RawMessage `json:"metrics"`
}

// SyncScheduleRequest pushes a repo's declared cron schedule back to the
// controller. Disabled or cron-less requests delete any existing schedule.
type SyncScheduleRequest struct {
	RepoID     int64     `json:"repo_id"`
	ClaimToken uuid.UUID `json:"claim_token"`
	Enabled    bool      `json:"enabled"`
	Cron       string    `json:"cron,omitempty"`
	Branch     string    `json:"branch,omitempty"`
	Timezone   string    `json:"timezone,omitempty"`
}

// SyncTriggersRequest pushes a repo's declared trigger filters back to the
// controller.
type SyncTriggersRequest struct {
	RepoID           int64     `json:"repo_id"`
	ClaimToken       uuid.UUID `json:"claim_token"`
	Branches         []string  `json:"branches"`
	PullRequests     bool      `json:"pull_requests"`
	PRTargetBranches []string  `json:"pr_target_branches,omitempty"`
}

// APIResponse is the generic mutation-endpoint reply.
type APIResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func OK() APIResponse { return APIResponse{OK: true} }

func Error(msg string) APIResponse { return APIResponse{OK: false, Error: msg} }
