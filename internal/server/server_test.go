package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/foundry-sh/foundry/internal/config"
	"github.com/foundry-sh/foundry/internal/store"
	"github.com/foundry-sh/foundry/pkg/protocol"
)

// fakeStore implements Store with overridable function fields. Methods
// without an override return zero values.
type fakeStore struct {
	upsertRepo        func(ctx context.Context, data store.RepoData) (int64, error)
	enqueuePushJob    func(ctx context.Context, repoID int64, push store.PushData) (int64, error)
	enqueuePRJob      func(ctx context.Context, repoID int64, pr store.PRData) (int64, error)
	rerun             func(ctx context.Context, jobID int64) (int64, error)
	claimNext         func(ctx context.Context, agentID string) (*protocol.ClaimedJob, error)
	appendLog         func(ctx context.Context, jobID int64, token uuid.UUID, line string) (bool, error)
	finish            func(ctx context.Context, jobID int64, token uuid.UUID, success bool) (bool, error)
	verifyJobToken    func(ctx context.Context, repoID int64, token uuid.UUID) (bool, error)
	storeMetrics      func(ctx context.Context, jobID int64, token uuid.UUID, metrics json.RawMessage) (bool, error)
	storeWebhookEvent func(ctx context.Context, eventType, deliveryID string, payload []byte, jobID int64) (int64, error)
	shouldBuildBranch func(ctx context.Context, owner, name, branch string) (bool, error)
	shouldBuildPR     func(ctx context.Context, owner, name, targetBranch string) (bool, error)
	upsertSchedule    func(ctx context.Context, repoID int64, cron, branch, timezone string) (int64, error)
	deleteSchedule    func(ctx context.Context, repoID int64, branch string) (bool, error)
	toggleSchedule    func(ctx context.Context, id int64) (bool, error)
	jobLogs           func(ctx context.Context, jobID int64) ([]store.LogLine, error)
	jobLogsWithToken  func(ctx context.Context, jobID int64, token uuid.UUID) ([]store.LogLine, bool, error)
	getJob            func(ctx context.Context, jobID int64) (*store.JobDetail, error)
	getRepo           func(ctx context.Context, id int64) (*store.RepoSummary, error)

	storedCommits []store.CommitData
	linkedEvents  []int64
	syncedRepoID  int64
}

func (f *fakeStore) UpsertRepo(ctx context.Context, data store.RepoData) (int64, error) {
	if f.upsertRepo != nil {
		return f.upsertRepo(ctx, data)
	}
	return 1, nil
}

func (f *fakeStore) EnqueuePushJob(ctx context.Context, repoID int64, push store.PushData) (int64, error) {
	if f.enqueuePushJob != nil {
		return f.enqueuePushJob(ctx, repoID, push)
	}
	return 1, nil
}

func (f *fakeStore) EnqueuePRJob(ctx context.Context, repoID int64, pr store.PRData) (int64, error) {
	if f.enqueuePRJob != nil {
		return f.enqueuePRJob(ctx, repoID, pr)
	}
	return 1, nil
}

func (f *fakeStore) Rerun(ctx context.Context, jobID int64) (int64, error) {
	if f.rerun != nil {
		return f.rerun(ctx, jobID)
	}
	return 0, store.ErrNotFound
}

func (f *fakeStore) ClaimNext(ctx context.Context, agentID string) (*protocol.ClaimedJob, error) {
	if f.claimNext != nil {
		return f.claimNext(ctx, agentID)
	}
	return nil, nil
}

func (f *fakeStore) AppendLog(ctx context.Context, jobID int64, token uuid.UUID, line string) (bool, error) {
	if f.appendLog != nil {
		return f.appendLog(ctx, jobID, token, line)
	}
	return false, nil
}

func (f *fakeStore) Finish(ctx context.Context, jobID int64, token uuid.UUID, success bool) (bool, error) {
	if f.finish != nil {
		return f.finish(ctx, jobID, token, success)
	}
	return false, nil
}

func (f *fakeStore) VerifyJobToken(ctx context.Context, repoID int64, token uuid.UUID) (bool, error) {
	if f.verifyJobToken != nil {
		return f.verifyJobToken(ctx, repoID, token)
	}
	return false, nil
}

func (f *fakeStore) StoreMetrics(ctx context.Context, jobID int64, token uuid.UUID, metrics json.RawMessage) (bool, error) {
	if f.storeMetrics != nil {
		return f.storeMetrics(ctx, jobID, token, metrics)
	}
	return false, nil
}

func (f *fakeStore) StoreWebhookEvent(ctx context.Context, eventType, deliveryID string, payload []byte, jobID int64) (int64, error) {
	if f.storeWebhookEvent != nil {
		return f.storeWebhookEvent(ctx, eventType, deliveryID, payload, jobID)
	}
	return 100, nil
}

func (f *fakeStore) LinkWebhookEvent(ctx context.Context, eventID, jobID int64) error {
	f.linkedEvents = append(f.linkedEvents, eventID)
	return nil
}

func (f *fakeStore) StoreCommits(ctx context.Context, jobID int64, commits []store.CommitData) error {
	f.storedCommits = append(f.storedCommits, commits...)
	return nil
}

func (f *fakeStore) SyncRepoTriggers(ctx context.Context, repoID int64, branches []string, pullRequests bool, prTargets []string, configJSON json.RawMessage) error {
	f.syncedRepoID = repoID
	return nil
}

func (f *fakeStore) ShouldBuildBranch(ctx context.Context, owner, name, branch string) (bool, error) {
	if f.shouldBuildBranch != nil {
		return f.shouldBuildBranch(ctx, owner, name, branch)
	}
	return true, nil
}

func (f *fakeStore) ShouldBuildPR(ctx context.Context, owner, name, targetBranch string) (bool, error) {
	if f.shouldBuildPR != nil {
		return f.shouldBuildPR(ctx, owner, name, targetBranch)
	}
	return true, nil
}

func (f *fakeStore) UpsertSchedule(ctx context.Context, repoID int64, cron, branch, timezone string) (int64, error) {
	if f.upsertSchedule != nil {
		return f.upsertSchedule(ctx, repoID, cron, branch, timezone)
	}
	return 1, nil
}

func (f *fakeStore) DeleteSchedule(ctx context.Context, repoID int64, branch string) (bool, error) {
	if f.deleteSchedule != nil {
		return f.deleteSchedule(ctx, repoID, branch)
	}
	return false, nil
}

func (f *fakeStore) ToggleSchedule(ctx context.Context, id int64) (bool, error) {
	if f.toggleSchedule != nil {
		return f.toggleSchedule(ctx, id)
	}
	return false, store.ErrNotFound
}

func (f *fakeStore) DeleteScheduleByID(ctx context.Context, id int64) (bool, error) {
	return false, nil
}

func (f *fakeStore) JobLogs(ctx context.Context, jobID int64) ([]store.LogLine, error) {
	if f.jobLogs != nil {
		return f.jobLogs(ctx, jobID)
	}
	return nil, nil
}

func (f *fakeStore) JobLogsWithToken(ctx context.Context, jobID int64, token uuid.UUID) ([]store.LogLine, bool, error) {
	if f.jobLogsWithToken != nil {
		return f.jobLogsWithToken(ctx, jobID, token)
	}
	return nil, false, nil
}

func (f *fakeStore) DashboardStats(ctx context.Context) (*store.DashboardStats, error) {
	return &store.DashboardStats{}, nil
}

func (f *fakeStore) ListJobs(ctx context.Context, limit int) ([]store.JobSummary, error) {
	return nil, nil
}

func (f *fakeStore) ListRepoJobs(ctx context.Context, repoID int64, limit int) ([]store.JobSummary, error) {
	return nil, nil
}

func (f *fakeStore) GetJob(ctx context.Context, jobID int64) (*store.JobDetail, error) {
	if f.getJob != nil {
		return f.getJob(ctx, jobID)
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListRepos(ctx context.Context) ([]store.RepoSummary, error) {
	return nil, nil
}

func (f *fakeStore) GetRepo(ctx context.Context, id int64) (*store.RepoSummary, error) {
	if f.getRepo != nil {
		return f.getRepo(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListSchedules(ctx context.Context) ([]store.ScheduleSummary, error) {
	return nil, nil
}

const testWebhookSecret = "webhook-secret"

func newTestServer(fs *fakeStore) http.Handler {
	cfg := &config.Server{GitHubWebhookSecret: testWebhookSecret}
	return New(fs, cfg, "test").Router()
}

func doRequest(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestServer(&fakeStore{})
	rec := doRequest(t, h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("unexpected health body %v", body)
	}
}
