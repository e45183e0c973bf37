// Package server is the controller's HTTP surface: webhook ingest, the
// agent endpoints, and the dashboard read API.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/foundry-sh/foundry/internal/config"
	"github.com/foundry-sh/foundry/internal/store"
	"github.com/foundry-sh/foundry/pkg/protocol"
)

// Store is the persistence surface the handlers need. *store.Store satisfies
// it; tests substitute a fake.
type Store interface {
	UpsertRepo(ctx context.Context, data store.RepoData) (int64, error)
	EnqueuePushJob(ctx context.Context, repoID int64, push store.PushData) (int64, error)
	EnqueuePRJob(ctx context.Context, repoID int64, pr store.PRData) (int64, error)
	Rerun(ctx context.Context, jobID int64) (int64, error)
	ClaimNext(ctx context.Context, agentID string) (*protocol.ClaimedJob, error)
	AppendLog(ctx context.Context, jobID int64, token uuid.UUID, line string) (bool, error)
	Finish(ctx context.Context, jobID int64, token uuid.UUID, success bool) (bool, error)
	VerifyJobToken(ctx context.Context, repoID int64, token uuid.UUID) (bool, error)
	StoreMetrics(ctx context.Context, jobID int64, token uuid.UUID, metrics json.RawMessage) (bool, error)
	StoreWebhookEvent(ctx context.Context, eventType, deliveryID string, payload []byte, jobID int64) (int64, error)
	LinkWebhookEvent(ctx context.Context, eventID, jobID int64) error
	StoreCommits(ctx context.Context, jobID int64, commits []store.CommitData) error
	SyncRepoTriggers(ctx context.Context, repoID int64, branches []string, pullRequests bool, prTargets []string, configJSON json.RawMessage) error
	ShouldBuildBranch(ctx context.Context, owner, name, branch string) (bool, error)
	ShouldBuildPR(ctx context.Context, owner, name, targetBranch string) (bool, error)
	UpsertSchedule(ctx context.Context, repoID int64, cron, branch, timezone string) (int64, error)
	DeleteSchedule(ctx context.Context, repoID int64, branch string) (bool, error)
	ToggleSchedule(ctx context.Context, id int64) (bool, error)
	DeleteScheduleByID(ctx context.Context, id int64) (bool, error)
	JobLogs(ctx context.Context, jobID int64) ([]store.LogLine, error)
	JobLogsWithToken(ctx context.Context, jobID int64, token uuid.UUID) ([]store.LogLine, bool, error)
	DashboardStats(ctx context.Context) (*store.DashboardStats, error)
	ListJobs(ctx context.Context, limit int) ([]store.JobSummary, error)
	ListRepoJobs(ctx context.Context, repoID int64, limit int) ([]store.JobSummary, error)
	GetJob(ctx context.Context, jobID int64) (*store.JobDetail, error)
	ListRepos(ctx context.Context) ([]store.RepoSummary, error)
	GetRepo(ctx context.Context, id int64) (*store.RepoSummary, error)
	ListSchedules(ctx context.Context) ([]store.ScheduleSummary, error)
}

// Server wires the handlers to the store and config.
type Server struct {
	store   Store
	docker  Docker
	cfg     *config.Server
	version string
}

func New(st Store, cfg *config.Server, version string) *Server {
	return &Server{store: st, docker: &dockerCLI{}, cfg: cfg, version: version}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/health", s.handleHealth)
		r.Post("/webhook/github", s.handleGitHubWebhook)

		r.Route("/agent", func(r chi.Router) {
			r.Post("/claim", s.handleClaim)
			r.Post("/log", s.handleLog)
			r.Post("/finish", s.handleFinish)
			r.Get("/logs/{jobID}", s.handleAgentLogs)
			r.Post("/metrics", s.handleMetrics)
			r.Post("/schedule", s.handleSyncSchedule)
			r.Post("/triggers", s.handleSyncTriggers)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireSession)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/stats", s.handleStats)
			r.Get("/jobs", s.handleJobs)
			r.Get("/job/{id}", s.handleJob)
			r.Post("/job/{id}/rerun", s.handleRerun)
			r.Get("/repos", s.handleRepos)
			r.Get("/repo/{id}", s.handleRepo)
			r.Get("/repo/{id}/jobs", s.handleRepoJobs)
			r.Get("/schedules", s.handleSchedules)
			r.Post("/schedule/{id}/toggle", s.handleToggleSchedule)
			r.Delete("/schedule/{id}", s.handleDeleteSchedule)

			r.Get("/containers", s.handleContainers)
			r.Get("/containers/{id}/logs", s.handleContainerLogs)
			r.Post("/containers/{id}/restart", s.containerAction("container restarted", s.docker.RestartContainer))
			r.Post("/containers/{id}/stop", s.containerAction("container stopped", s.docker.StopContainer))
			r.Post("/containers/{id}/start", s.containerAction("container started", s.docker.StartContainer))

			r.Get("/projects", s.handleProjects)
			r.Post("/projects/{name}/restart", s.projectAction("project restarted", s.docker.RestartProject))
			r.Post("/projects/{name}/stop", s.projectAction("project stopped", s.docker.StopProject))
			r.Post("/projects/{name}/start", s.projectAction("project started", s.docker.StartProject))
		})

		// Following a live log outlives the request timeout.
		r.Get("/containers/{id}/logs/stream", s.handleContainerLogsStream)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}
