package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"slices"
)

// UpsertRepo inserts or updates a repository keyed on (owner, name) and
// returns its id. clone_url and private always overwrite; descriptive fields
// only overwrite when the incoming value is non-empty.
func (s *Store) UpsertRepo(ctx context.Context, data RepoData) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO repo (
			owner, name, clone_url, github_id, full_name, html_url, ssh_url,
			private, default_branch, language, description
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (owner, name) DO UPDATE SET
			clone_url      = EXCLUDED.clone_url,
			private        = EXCLUDED.private,
			github_id      = COALESCE(EXCLUDED.github_id, repo.github_id),
			full_name      = COALESCE(EXCLUDED.full_name, repo.full_name),
			html_url       = COALESCE(EXCLUDED.html_url, repo.html_url),
			ssh_url        = COALESCE(EXCLUDED.ssh_url, repo.ssh_url),
			default_branch = COALESCE(EXCLUDED.default_branch, repo.default_branch),
			language       = COALESCE(EXCLUDED.language, repo.language),
			description    = COALESCE(EXCLUDED.description, repo.description),
			updated_at     = now()
		RETURNING id`,
		data.Owner, data.Name, data.CloneURL, nilInt64(data.GitHubID),
		nilStr(data.FullName), nilStr(data.HTMLURL), nilStr(data.SSHURL),
		data.Private, nilStr(data.DefaultBranch), nilStr(data.Language),
		nilStr(data.Description),
	).Scan(&id)
	if err != nil {
		return 0, storageErr("upsert repo", err)
	}
	return id, nil
}

// SyncRepoTriggers overwrites a repo's trigger filter fields with the values
// its foundry.toml declared on the last run.
func (s *Store) SyncRepoTriggers(ctx context.Context, repoID int64, branches []string, pullRequests bool, prTargets []string, configJSON json.RawMessage) error {
	var cfg interface{}
	if configJSON != nil {
		cfg = []byte(configJSON)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE repo
		SET trigger_branches = $2, trigger_prs = $3, pr_target_branches = $4,
		    config_json = COALESCE($5, config_json), updated_at = now()
		WHERE id = $1`,
		repoID, textArray(branches), pullRequests, textArray(prTargets), cfg,
	)
	if err != nil {
		return storageErr("sync repo triggers", err)
	}
	return nil
}

// ShouldBuildBranch reports whether a push to branch should build. Unknown
// repos and repos that never synced filters use the {main, master} default.
func (s *Store) ShouldBuildBranch(ctx context.Context, owner, name, branch string) (bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT trigger_branches FROM repo WHERE owner = $1 AND name = $2`,
		owner, name,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return branch == "main" || branch == "master", nil
	}
	if err != nil {
		return false, storageErr("should build branch", err)
	}
	branches := scanTextArray(raw)
	if len(branches) == 0 {
		return branch == "main" || branch == "master", nil
	}
	return slices.Contains(branches, branch), nil
}

// ShouldBuildPR reports whether a PR targeting targetBranch should build.
// Unknown repos default to true; a synced pr_target_branches list restricts
// by base branch.
func (s *Store) ShouldBuildPR(ctx context.Context, owner, name, targetBranch string) (bool, error) {
	var prs bool
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT trigger_prs, pr_target_branches FROM repo WHERE owner = $1 AND name = $2`,
		owner, name,
	).Scan(&prs, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, storageErr("should build pr", err)
	}
	if !prs {
		return false, nil
	}
	targets := scanTextArray(raw)
	if len(targets) == 0 {
		return true, nil
	}
	return slices.Contains(targets, targetBranch), nil
}

// RecordBuildOutcome bumps the repo's build counters after a job finishes.
func (s *Store) RecordBuildOutcome(ctx context.Context, repoID int64, success bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE repo
		SET build_count = build_count + 1,
		    success_count = success_count + CASE WHEN $2 THEN 1 ELSE 0 END,
		    failure_count = failure_count + CASE WHEN $2 THEN 0 ELSE 1 END,
		    last_build_at = now()
		WHERE id = $1`,
		repoID, success,
	)
	if err != nil {
		return storageErr("record build outcome", err)
	}
	return nil
}

// ListRepos returns all repos ordered by most recent build.
func (s *Store) ListRepos(ctx context.Context) ([]RepoSummary, error) {
	var repos []RepoSummary
	err := s.db.SelectContext(ctx, &repos, `
		SELECT id, owner, name, clone_url, private, default_branch, language,
		       description, build_count, success_count, failure_count, last_build_at
		FROM repo
		ORDER BY last_build_at DESC NULLS LAST, id`)
	if err != nil {
		return nil, storageErr("list repos", err)
	}
	return repos, nil
}

// GetRepo returns one repo by id.
func (s *Store) GetRepo(ctx context.Context, id int64) (*RepoSummary, error) {
	var repo RepoSummary
	err := s.db.GetContext(ctx, &repo, `
		SELECT id, owner, name, clone_url, private, default_branch, language,
		       description, build_count, success_count, failure_count, last_build_at
		FROM repo WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get repo", err)
	}
	return &repo, nil
}
