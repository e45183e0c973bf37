package github

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTimestampUnmarshal_Epoch(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte("1735689600"), &ts); err != nil {
		t.Fatalf("unmarshal epoch: %v", err)
	}
	if !ts.Valid {
		t.Fatal("expected valid timestamp")
	}
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if !ts.Time.Equal(want) {
		t.Errorf("expected %s, got %s", want, ts.Time)
	}
}

func TestTimestampUnmarshal_ISO(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte(`"2025-06-15T12:30:00Z"`), &ts); err != nil {
		t.Fatalf("unmarshal iso: %v", err)
	}
	want := time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)
	if !ts.Time.Equal(want) {
		t.Errorf("expected %s, got %s", want, ts.Time)
	}
}

func TestTimestampUnmarshal_Null(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte("null"), &ts); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if ts.Valid {
		t.Error("expected null timestamp to be invalid")
	}
}

func TestTimestampUnmarshal_Garbage(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte(`"not a date"`), &ts); err == nil {
		t.Error("expected error for unparseable timestamp")
	}
}

func TestParsePush(t *testing.T) {
	body := []byte(`{
		"ref": "refs/heads/main",
		"after": "abc123",
		"deleted": false,
		"repository": {
			"id": 42,
			"name": "widget",
			"full_name": "acme/widget",
			"owner": {"login": "acme"},
			"clone_url": "https://github.com/acme/widget.git",
			"pushed_at": 1735689600,
			"created_at": "2024-01-01T00:00:00Z"
		},
		"head_commit": {
			"id": "abc123",
			"message": "fix the thing",
			"author": {"name": "Dev", "email": "dev@acme.test"},
			"added": ["a.go"],
			"modified": ["b.go"]
		},
		"commits": [{"id": "abc123", "message": "fix the thing", "distinct": true}]
	}`)

	e, err := ParsePush(body)
	if err != nil {
		t.Fatalf("ParsePush: %v", err)
	}
	if got := e.RefName(); got != "main" {
		t.Errorf("expected branch main, got %q", got)
	}
	if e.Repository.Owner.Login != "acme" || e.Repository.Name != "widget" {
		t.Errorf("unexpected repo %s/%s", e.Repository.Owner.Login, e.Repository.Name)
	}
	if e.HeadCommit == nil || e.HeadCommit.Message != "fix the thing" {
		t.Errorf("unexpected head commit %+v", e.HeadCommit)
	}
	if !e.Repository.PushedAt.Valid || !e.Repository.CreatedAt.Valid {
		t.Error("expected both timestamp formats to parse")
	}
	if len(e.Commits) != 1 || !e.Commits[0].Distinct {
		t.Errorf("unexpected commits %+v", e.Commits)
	}
}

func TestPushRefName_NonBranch(t *testing.T) {
	e := &PushEvent{Ref: "refs/tags/v1.0.0"}
	if got := e.RefName(); got != "refs/tags/v1.0.0" {
		t.Errorf("expected tag ref unchanged, got %q", got)
	}
}

func TestPullRequestShouldBuild(t *testing.T) {
	cases := []struct {
		action string
		draft  bool
		want   bool
	}{
		{"opened", false, true},
		{"synchronize", false, true},
		{"reopened", false, true},
		{"opened", true, false},
		{"closed", false, false},
		{"labeled", false, false},
	}
	for _, tc := range cases {
		e := &PullRequestEvent{Action: tc.action}
		e.PullRequest.Draft = tc.draft
		if got := e.ShouldBuild(); got != tc.want {
			t.Errorf("action=%s draft=%v: expected %v, got %v", tc.action, tc.draft, tc.want, got)
		}
	}
}

func TestParsePullRequest(t *testing.T) {
	body := []byte(`{
		"action": "opened",
		"number": 7,
		"pull_request": {
			"number": 7,
			"title": "Add widgets",
			"html_url": "https://github.com/acme/widget/pull/7",
			"user": {"login": "contributor"},
			"head": {"ref": "feature", "sha": "feedface", "repo": {"name": "widget", "owner": {"login": "fork-owner"}}},
			"base": {"ref": "main", "sha": "abc123"},
			"draft": false
		},
		"repository": {"name": "widget", "owner": {"login": "acme"}}
	}`)

	e, err := ParsePullRequest(body)
	if err != nil {
		t.Fatalf("ParsePullRequest: %v", err)
	}
	if !e.ShouldBuild() {
		t.Error("expected opened non-draft PR to build")
	}
	if e.PullRequest.Head.Repo == nil || e.PullRequest.Head.Repo.Owner.Login != "fork-owner" {
		t.Errorf("unexpected head repo %+v", e.PullRequest.Head.Repo)
	}
	if e.PullRequest.Base.Ref != "main" {
		t.Errorf("expected base main, got %q", e.PullRequest.Base.Ref)
	}
}
