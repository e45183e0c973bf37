package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/foundry-sh/foundry/pkg/protocol"
)

func testJob() *protocol.ClaimedJob {
	return &protocol.ClaimedJob{ID: 5, ClaimToken: uuid.New()}
}

func testClient(serverURL string) *Client {
	return NewClient(&Config{AgentID: "agent-test", ServerURL: serverURL})
}

func TestLogSink_DeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.LogRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode log request: %v", err)
		}
		mu.Lock()
		got = append(got, req.Line)
		mu.Unlock()
		json.NewEncoder(w).Encode(protocol.OK())
	}))
	defer srv.Close()

	sink := newLogSink(context.Background(), testClient(srv.URL), testJob())
	sink.Send("one")
	sink.Send("two")
	sink.Send("three")
	sink.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != "one" || got[2] != "three" {
		t.Errorf("unexpected delivered lines %v", got)
	}
}

func TestLogSink_StopsOnLeaseLoss(t *testing.T) {
	var mu sync.Mutex
	delivered := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		delivered++
		mu.Unlock()
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	sink := newLogSink(context.Background(), testClient(srv.URL), testJob())
	sink.Send("first")
	sink.Send("second")
	sink.Close()

	if !sink.LeaseLost() {
		t.Fatal("expected lease loss to be recorded")
	}
	mu.Lock()
	defer mu.Unlock()
	if delivered != 1 {
		t.Errorf("expected delivery to stop after the first 403, got %d posts", delivered)
	}
}

func TestLogSink_SurvivesTransientServerError(t *testing.T) {
	var mu sync.Mutex
	var got []string
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.LogRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode log request: %v", err)
		}
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(protocol.Error("database error"))
			return
		}
		got = append(got, req.Line)
		json.NewEncoder(w).Encode(protocol.OK())
	}))
	defer srv.Close()

	sink := newLogSink(context.Background(), testClient(srv.URL), testJob())
	sink.Send("first")
	sink.Send("second")
	sink.Send("third")
	sink.Close()

	if sink.LeaseLost() {
		t.Fatal("a storage error must not be treated as a lost lease")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "second" || got[1] != "third" {
		t.Errorf("expected delivery to resume after the transient error, got %v", got)
	}
}

func TestLogSink_CloseIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(protocol.OK())
	}))
	defer srv.Close()

	sink := newLogSink(context.Background(), testClient(srv.URL), testJob())
	sink.Send("line")
	sink.Close()
	sink.Close()
}
