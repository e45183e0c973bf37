package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foundry-sh/foundry/internal/store"
)

func isValidation(err error) bool {
	var ve *store.ValidationError
	return errors.As(err, &ve)
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 50
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.DashboardStats(r.Context())
	if err != nil {
		slog.Error("dashboard stats", "error", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context(), queryLimit(r))
	if err != nil {
		slog.Error("list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// LogEntry is one parsed dashboard log line.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Level     string `json:"level"`
}

type jobWithLogs struct {
	*store.JobDetail
	Logs []LogEntry `json:"logs"`
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		slog.Error("get job", "error", err, "job_id", id)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	lines, err := s.store.JobLogs(r.Context(), id)
	if err != nil {
		slog.Error("job logs", "error", err, "job_id", id)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	logs := make([]LogEntry, 0, len(lines))
	for _, l := range lines {
		logs = append(logs, parseLogLine(l))
	}
	writeJSON(w, http.StatusOK, jobWithLogs{JobDetail: job, Logs: logs})
}

// parseLogLine splits an optional "[ts] message" prefix and classifies the
// level by substring. The classification is a display heuristic only.
func parseLogLine(l store.LogLine) LogEntry {
	ts := l.Timestamp.UTC().Format(time.RFC3339)
	msg := l.Line
	if strings.HasPrefix(msg, "[") {
		if end := strings.Index(msg, "]"); end > 0 {
			ts = msg[1:end]
			msg = strings.TrimSpace(msg[end+1:])
		}
	}
	level := "info"
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "error") {
		level = "error"
	} else if strings.Contains(lower, "warn") {
		level = "warning"
	}
	return LogEntry{Timestamp: ts, Message: msg, Level: level}
}

func (s *Server) handleRerun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	newID, err := s.store.Rerun(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "job is not finished")
	case err != nil:
		slog.Error("rerun job", "error", err, "job_id", id)
		writeError(w, http.StatusInternalServerError, "database error")
	default:
		slog.Info("job rerun", "job_id", id, "new_job_id", newID)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job_id": newID})
	}
}

func (s *Server) handleRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.store.ListRepos(r.Context())
	if err != nil {
		slog.Error("list repos", "error", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (s *Server) handleRepo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid repo id")
		return
	}
	repo, err := s.store.GetRepo(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "repo not found")
		return
	}
	if err != nil {
		slog.Error("get repo", "error", err, "repo_id", id)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

func (s *Server) handleRepoJobs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid repo id")
		return
	}
	jobs, err := s.store.ListRepoJobs(r.Context(), id, queryLimit(r))
	if err != nil {
		slog.Error("list repo jobs", "error", err, "repo_id", id)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules(r.Context())
	if err != nil {
		slog.Error("list schedules", "error", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) handleToggleSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}
	enabled, err := s.store.ToggleSchedule(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		slog.Error("toggle schedule", "error", err, "schedule_id", id)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "enabled": enabled})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}
	deleted, err := s.store.DeleteScheduleByID(r.Context(), id)
	if err != nil {
		slog.Error("delete schedule", "error", err, "schedule_id", id)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	writeOK(w)
}
