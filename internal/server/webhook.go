package server

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/foundry-sh/foundry/internal/github"
	"github.com/foundry-sh/foundry/internal/store"
)

// handleGitHubWebhook ingests one signed event. Order is fixed: verify the
// signature, archive the raw body, then dispatch. The archive happens before
// any parsing so a replay survives parse bugs.
func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	sig := r.Header.Get("X-Hub-Signature-256")
	if sig == "" {
		slog.Warn("webhook missing signature header")
		writeError(w, http.StatusUnauthorized, "missing signature")
		return
	}
	if !github.VerifySignature(s.cfg.GitHubWebhookSecret, body, sig) {
		slog.Warn("webhook signature verification failed")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	slog.Info("webhook received", "event", eventType, "delivery", deliveryID)

	eventID, err := s.store.StoreWebhookEvent(r.Context(), eventType, deliveryID, body, 0)
	if err != nil {
		slog.Error("archive webhook", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to archive event")
		return
	}

	switch eventType {
	case "push":
		s.ingestPush(w, r, body, eventID)
	case "pull_request":
		s.ingestPullRequest(w, r, body, eventID)
	default:
		slog.Info("ignoring event", "event", eventType)
		writeOK(w)
	}
}

func (s *Server) ingestPush(w http.ResponseWriter, r *http.Request, body []byte, eventID int64) {
	ctx := r.Context()

	push, err := github.ParsePush(body)
	if err != nil {
		slog.Error("parse push event", "error", err)
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if push.Deleted {
		slog.Info("ignoring branch deletion", "ref", push.Ref)
		writeOK(w)
		return
	}

	repo := &push.Repository
	branch := push.RefName()
	build, err := s.store.ShouldBuildBranch(ctx, repo.Owner.Login, repo.Name, branch)
	if err != nil {
		slog.Error("branch filter", "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if !build {
		slog.Info("ignoring push to unconfigured branch", "branch", branch)
		writeOK(w)
		return
	}

	repoID, err := s.store.UpsertRepo(ctx, repoData(repo))
	if err != nil {
		slog.Error("upsert repo", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process repo")
		return
	}

	push2 := store.PushData{
		After: push.After,
		Ref:   push.Ref,
	}
	if hc := push.HeadCommit; hc != nil {
		push2.CommitMessage = hc.Message
		push2.CommitAuthor = hc.Author.Name
		push2.CommitURL = hc.URL
		push2.FilesAdded = hc.Added
		push2.FilesRemoved = hc.Removed
		push2.FilesModified = hc.Modified
	}

	jobID, err := s.store.EnqueuePushJob(ctx, repoID, push2)
	if err != nil {
		slog.Error("enqueue push job", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	commits := make([]store.CommitData, 0, len(push.Commits))
	for _, c := range push.Commits {
		commits = append(commits, store.CommitData{
			SHA:            c.ID,
			TreeID:         c.TreeID,
			Message:        c.Message,
			AuthorName:     c.Author.Name,
			AuthorEmail:    c.Author.Email,
			CommitterName:  c.Committer.Name,
			CommitterEmail: c.Committer.Email,
			URL:            c.URL,
			FilesAdded:     c.Added,
			FilesRemoved:   c.Removed,
			FilesModified:  c.Modified,
			Distinct:       c.Distinct,
		})
	}
	if err := s.store.StoreCommits(ctx, jobID, commits); err != nil {
		slog.Error("store commits", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store commits")
		return
	}

	if err := s.store.LinkWebhookEvent(ctx, eventID, jobID); err != nil {
		slog.Warn("link webhook event", "error", err)
	}

	sha := push.After
	if len(sha) > 8 {
		sha = sha[:8]
	}
	slog.Info("push job enqueued", "job_id", jobID,
		"repo", repo.Owner.Login+"/"+repo.Name, "sha", sha)
	writeOK(w)
}

func (s *Server) ingestPullRequest(w http.ResponseWriter, r *http.Request, body []byte, eventID int64) {
	ctx := r.Context()

	pr, err := github.ParsePullRequest(body)
	if err != nil {
		slog.Error("parse pull_request event", "error", err)
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if !pr.ShouldBuild() {
		slog.Info("ignoring pull_request", "action", pr.Action, "draft", pr.PullRequest.Draft)
		writeOK(w)
		return
	}

	repo := &pr.Repository
	build, err := s.store.ShouldBuildPR(ctx, repo.Owner.Login, repo.Name, pr.PullRequest.Base.Ref)
	if err != nil {
		slog.Error("pr filter", "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if !build {
		slog.Info("ignoring pull_request by filter", "base", pr.PullRequest.Base.Ref)
		writeOK(w)
		return
	}

	// Head repo carries the branch being built; fall back to the event repo
	// for same-repo PRs.
	headRepo := repo
	if pr.PullRequest.Head.Repo != nil {
		headRepo = pr.PullRequest.Head.Repo
	}
	repoID, err := s.store.UpsertRepo(ctx, repoData(headRepo))
	if err != nil {
		slog.Error("upsert repo", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process repo")
		return
	}

	jobID, err := s.store.EnqueuePRJob(ctx, repoID, store.PRData{
		Number:  pr.PullRequest.Number,
		Title:   pr.PullRequest.Title,
		URL:     pr.PullRequest.HTMLURL,
		Author:  pr.PullRequest.User.Login,
		HeadSHA: pr.PullRequest.Head.SHA,
		BaseRef: pr.PullRequest.Base.Ref,
		BaseSHA: pr.PullRequest.Base.SHA,
	})
	if err != nil {
		slog.Error("enqueue pr job", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	if err := s.store.LinkWebhookEvent(ctx, eventID, jobID); err != nil {
		slog.Warn("link webhook event", "error", err)
	}

	slog.Info("pr job enqueued", "job_id", jobID,
		"repo", repo.Owner.Login+"/"+repo.Name, "pr", pr.PullRequest.Number)
	writeOK(w)
}

func repoData(r *github.Repository) store.RepoData {
	return store.RepoData{
		Owner:         r.Owner.Login,
		Name:          r.Name,
		CloneURL:      r.CloneURL,
		GitHubID:      r.ID,
		FullName:      r.FullName,
		HTMLURL:       r.HTMLURL,
		SSHURL:        r.SSHURL,
		Private:       r.Private,
		DefaultBranch: r.DefaultBranch,
		Language:      r.Language,
		Description:   r.Description,
	}
}
