package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/foundry-sh/foundry/pkg/protocol"
)

func TestClientClaim_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agent/claim" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(protocol.ClaimResponse{Status: protocol.ClaimStatusEmpty})
	}))
	defer srv.Close()

	job, err := testClient(srv.URL).Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil job for empty queue, got %+v", job)
	}
}

func TestClientClaim_Job(t *testing.T) {
	token := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.ClaimRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.AgentID != "agent-test" {
			t.Errorf("expected agent-test, got %q", req.AgentID)
		}
		json.NewEncoder(w).Encode(protocol.ClaimResponse{
			Status: protocol.ClaimStatusClaimed,
			Job:    &protocol.ClaimedJob{ID: 9, ClaimToken: token},
		})
	}))
	defer srv.Close()

	job, err := testClient(srv.URL).Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if job == nil || job.ID != 9 || job.ClaimToken != token {
		t.Errorf("unexpected job %+v", job)
	}
}

func TestClientFinish_LeaseLostOn403(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := testClient(srv.URL).Finish(context.Background(), testJob(), true)
	if !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
}

func TestClientLog_ServerErrorIsNotLeaseLoss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(protocol.Error("database error"))
	}))
	defer srv.Close()

	err := testClient(srv.URL).Log(context.Background(), testJob(), "line")
	if err == nil {
		t.Fatal("expected an error for a rejected log line")
	}
	if errors.Is(err, ErrLeaseLost) {
		t.Fatalf("a 500 reply must stay retryable, got %v", err)
	}
}

func TestClientFetchLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("claim_token") == "" {
			t.Error("expected claim_token query parameter")
		}
		w.Write([]byte("line one\nline two"))
	}))
	defer srv.Close()

	logs, err := testClient(srv.URL).FetchLogs(context.Background(), testJob())
	if err != nil {
		t.Fatalf("FetchLogs: %v", err)
	}
	if logs != "line one\nline two" {
		t.Errorf("unexpected logs %q", logs)
	}
}
