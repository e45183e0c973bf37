package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/foundry-sh/foundry/pkg/protocol"
)

// handleClaim leases the oldest queued job to the requesting agent. An empty
// queue is not an error; neither is a storage failure, which the agent
// treats the same as no work.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req protocol.ClaimRequest
	if err := decodeJSON(r, &req); err != nil || req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id required")
		return
	}

	job, err := s.store.ClaimNext(r.Context(), req.AgentID)
	if err != nil {
		slog.Error("claim job", "error", err, "agent", req.AgentID)
		writeJSON(w, http.StatusOK, protocol.ClaimResponse{Status: protocol.ClaimStatusEmpty})
		return
	}
	if job == nil {
		writeJSON(w, http.StatusOK, protocol.ClaimResponse{Status: protocol.ClaimStatusEmpty})
		return
	}

	slog.Info("job claimed", "job_id", job.ID, "agent", req.AgentID)
	writeJSON(w, http.StatusOK, protocol.ClaimResponse{Status: protocol.ClaimStatusClaimed, Job: job})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	var req protocol.LogRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	applied, err := s.store.AppendLog(r.Context(), req.JobID, req.ClaimToken, req.Line)
	if err != nil {
		slog.Error("append log", "error", err, "job_id", req.JobID)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if !applied {
		writeError(w, http.StatusForbidden, "invalid job or token")
		return
	}
	writeOK(w)
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	var req protocol.FinishRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	applied, err := s.store.Finish(r.Context(), req.JobID, req.ClaimToken, req.Success)
	if err != nil {
		slog.Error("finish job", "error", err, "job_id", req.JobID)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if !applied {
		writeError(w, http.StatusForbidden, "invalid job or token")
		return
	}

	status := "failed"
	if req.Success {
		status = "success"
	}
	slog.Info("job finished", "job_id", req.JobID, "status", status)
	writeOK(w)
}

// handleAgentLogs returns a job's logs to the holder of its claim token.
func (s *Server) handleAgentLogs(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	token, err := uuid.Parse(r.URL.Query().Get("claim_token"))
	if err != nil {
		http.Error(w, "invalid claim_token", http.StatusBadRequest)
		return
	}

	lines, ok, err := s.store.JobLogsWithToken(r.Context(), jobID, token)
	if err != nil {
		slog.Error("fetch logs", "error", err, "job_id", jobID)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "invalid job or token", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.Line)
	}
	fmt.Fprint(w, b.String())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var req protocol.MetricsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	applied, err := s.store.StoreMetrics(r.Context(), req.JobID, req.ClaimToken, req.Metrics)
	if err != nil {
		slog.Error("store metrics", "error", err, "job_id", req.JobID)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if !applied {
		writeError(w, http.StatusForbidden, "invalid job or token")
		return
	}
	writeOK(w)
}

// handleSyncSchedule applies a repo's declared cron schedule. The claim token
// must belong to a running job under that repo. Disabled or cron-less
// requests delete the schedule.
func (s *Server) handleSyncSchedule(w http.ResponseWriter, r *http.Request) {
	var req protocol.SyncScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	valid, err := s.store.VerifyJobToken(r.Context(), req.RepoID, req.ClaimToken)
	if err != nil {
		slog.Error("verify job token", "error", err, "repo_id", req.RepoID)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if !valid {
		writeError(w, http.StatusForbidden, "invalid repo or token")
		return
	}

	if !req.Enabled || req.Cron == "" {
		if _, err := s.store.DeleteSchedule(r.Context(), req.RepoID, req.Branch); err != nil {
			slog.Error("delete schedule", "error", err, "repo_id", req.RepoID)
			writeError(w, http.StatusInternalServerError, "failed to delete schedule")
			return
		}
		slog.Info("schedule deleted", "repo_id", req.RepoID, "branch", req.Branch)
		writeOK(w)
		return
	}

	id, err := s.store.UpsertSchedule(r.Context(), req.RepoID, req.Cron, req.Branch, req.Timezone)
	if err != nil {
		if isValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("upsert schedule", "error", err, "repo_id", req.RepoID)
		writeError(w, http.StatusInternalServerError, "failed to create schedule")
		return
	}
	slog.Info("schedule synced", "schedule_id", id, "repo_id", req.RepoID, "cron", req.Cron)
	writeOK(w)
}

// handleSyncTriggers overwrites a repo's trigger filters from its declared
// config; same ownership guard as schedule sync.
func (s *Server) handleSyncTriggers(w http.ResponseWriter, r *http.Request) {
	var req protocol.SyncTriggersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	valid, err := s.store.VerifyJobToken(r.Context(), req.RepoID, req.ClaimToken)
	if err != nil {
		slog.Error("verify job token", "error", err, "repo_id", req.RepoID)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if !valid {
		writeError(w, http.StatusForbidden, "invalid repo or token")
		return
	}

	err = s.store.SyncRepoTriggers(r.Context(), req.RepoID, req.Branches, req.PullRequests, req.PRTargetBranches, nil)
	if err != nil {
		slog.Error("sync triggers", "error", err, "repo_id", req.RepoID)
		writeError(w, http.StatusInternalServerError, "failed to sync triggers")
		return
	}
	slog.Info("triggers synced", "repo_id", req.RepoID,
		"branches", req.Branches, "pull_requests", req.PullRequests)
	writeOK(w)
}
