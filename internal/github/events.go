// Package github holds the webhook payload shapes foundry accepts from a
// GitHub-compatible host, plus signature verification. Payload ambiguity
// (epoch-or-ISO timestamps) is normalized here and never leaks further in.
package github

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Timestamp handles repository fields that arrive as either a Unix epoch
// integer or an RFC 3339 string depending on the event type.
type Timestamp struct {
	Time  time.Time
	Valid bool
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*t = Timestamp{}
		return nil
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = Timestamp{Time: time.Unix(epoch, 0).UTC(), Valid: true}
		return nil
	}
	var iso string
	if err := json.Unmarshal(data, &iso); err != nil {
		return fmt.Errorf("timestamp is neither epoch nor string: %s", s)
	}
	parsed, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", iso, err)
	}
	*t = Timestamp{Time: parsed.UTC(), Valid: true}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

type Owner struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
	Type  string `json:"type,omitempty"`
}

type Repository struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Private       bool      `json:"private"`
	Owner         Owner     `json:"owner"`
	HTMLURL       string    `json:"html_url"`
	Description   string    `json:"description,omitempty"`
	Fork          bool      `json:"fork"`
	CloneURL      string    `json:"clone_url"`
	SSHURL        string    `json:"ssh_url,omitempty"`
	DefaultBranch string    `json:"default_branch"`
	Language      string    `json:"language,omitempty"`
	Visibility    string    `json:"visibility,omitempty"`
	PushedAt      Timestamp `json:"pushed_at,omitempty"`
	CreatedAt     Timestamp `json:"created_at,omitempty"`
	UpdatedAt     Timestamp `json:"updated_at,omitempty"`
}

type CommitPerson struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

type Commit struct {
	ID        string       `json:"id"`
	TreeID    string       `json:"tree_id"`
	Message   string       `json:"message"`
	Timestamp string       `json:"timestamp"`
	URL       string       `json:"url"`
	Author    CommitPerson `json:"author"`
	Committer CommitPerson `json:"committer"`
	Added     []string     `json:"added"`
	Removed   []string     `json:"removed"`
	Modified  []string     `json:"modified"`
	Distinct  bool         `json:"distinct"`
}

type Pusher struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// PushEvent is the payload of an X-GitHub-Event: push delivery.
type PushEvent struct {
	Ref        string     `json:"ref"`
	Before     string     `json:"before"`
	After      string     `json:"after"`
	Created    bool       `json:"created"`
	Deleted    bool       `json:"deleted"`
	Forced     bool       `json:"forced"`
	Compare    string     `json:"compare"`
	Commits    []Commit   `json:"commits"`
	HeadCommit *Commit    `json:"head_commit"`
	Repository Repository `json:"repository"`
	Pusher     Pusher     `json:"pusher"`
}

// RefName strips the refs/heads/ prefix from the push ref.
func (e *PushEvent) RefName() string {
	const p = "refs/heads/"
	if len(e.Ref) > len(p) && e.Ref[:len(p)] == p {
		return e.Ref[len(p):]
	}
	return e.Ref
}

type PRUser struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

type PRRef struct {
	Label string      `json:"label"`
	Ref   string      `json:"ref"`
	SHA   string      `json:"sha"`
	Repo  *Repository `json:"repo"`
}

type PullRequest struct {
	ID      int64  `json:"id"`
	Number  int64  `json:"number"`
	State   string `json:"state"`
	Title   string `json:"title"`
	HTMLURL string `json:"html_url"`
	User    PRUser `json:"user"`
	Head    PRRef  `json:"head"`
	Base    PRRef  `json:"base"`
	Draft   bool   `json:"draft"`
}

// PullRequestEvent is the payload of an X-GitHub-Event: pull_request delivery.
type PullRequestEvent struct {
	Action      string      `json:"action"`
	Number      int64       `json:"number"`
	PullRequest PullRequest `json:"pull_request"`
	Repository  Repository  `json:"repository"`
}

// ParsePush decodes a push event body.
func ParsePush(body []byte) (*PushEvent, error) {
	var e PushEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("parse push event: %w", err)
	}
	return &e, nil
}

// ParsePullRequest decodes a pull_request event body.
func ParsePullRequest(body []byte) (*PullRequestEvent, error) {
	var e PullRequestEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("parse pull_request event: %w", err)
	}
	return &e, nil
}

// ShouldBuild reports whether the action and draft state call for a build.
// Only opened, synchronize and reopened non-draft PRs build.
func (e *PullRequestEvent) ShouldBuild() bool {
	switch e.Action {
	case "opened", "synchronize", "reopened":
		return !e.PullRequest.Draft
	default:
		return false
	}
}
