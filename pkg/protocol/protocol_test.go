package protocol

import (
	"encoding/json"
	"testing"
)

func TestResolveBranch(t *testing.T) {
	cases := []struct {
		sha  string
		want string
	}{
		{"RESOLVE:main", "main"},
		{"RESOLVE:release/v2", "release/v2"},
		{"RESOLVE:", ""},
		{"abc123def", ""},
		{"", ""},
	}
	for _, tc := range cases {
		j := &ClaimedJob{GitSHA: tc.sha}
		if got := j.ResolveBranch(); got != tc.want {
			t.Errorf("ResolveBranch(%q): expected %q, got %q", tc.sha, tc.want, got)
		}
	}
}

func TestIsPullRequest(t *testing.T) {
	cases := []struct {
		ref  string
		want bool
	}{
		{"refs/pull/42/head", true},
		{"refs/heads/main", false},
		{"", false},
	}
	for _, tc := range cases {
		j := &ClaimedJob{GitRef: tc.ref}
		if got := j.IsPullRequest(); got != tc.want {
			t.Errorf("IsPullRequest(%q): expected %v, got %v", tc.ref, tc.want, got)
		}
	}
}

func TestClaimResponseUnion(t *testing.T) {
	empty, err := json.Marshal(ClaimResponse{Status: ClaimStatusEmpty})
	if err != nil {
		t.Fatalf("marshal empty: %v", err)
	}
	if string(empty) != `{"status":"empty"}` {
		t.Errorf("unexpected empty encoding: %s", empty)
	}

	var decoded ClaimResponse
	full := []byte(`{"status":"claimed","job":{"id":5,"repo_owner":"acme","repo_name":"widget"}}`)
	if err := json.Unmarshal(full, &decoded); err != nil {
		t.Fatalf("unmarshal claimed: %v", err)
	}
	if decoded.Status != ClaimStatusClaimed || decoded.Job == nil || decoded.Job.ID != 5 {
		t.Errorf("unexpected decoded response: %+v", decoded)
	}
}
