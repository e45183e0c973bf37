package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/foundry-sh/foundry/pkg/protocol"
)

// ErrLeaseLost is returned when the controller rejects a token-guarded call;
// the agent's lease on the job is gone and streaming should stop.
var ErrLeaseLost = errors.New("agent: lease lost")

// Client talks to the controller's agent endpoints.
type Client struct {
	http      *http.Client
	serverURL string
	agentID   string
}

func NewClient(cfg *Config) *Client {
	return &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		serverURL: cfg.ServerURL,
		agentID:   cfg.AgentID,
	}
}

// Claim asks for the next queued job. Returns nil when the queue is empty.
func (c *Client) Claim(ctx context.Context) (*protocol.ClaimedJob, error) {
	var resp protocol.ClaimResponse
	err := c.post(ctx, "/agent/claim", protocol.ClaimRequest{AgentID: c.agentID}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Status != protocol.ClaimStatusClaimed {
		return nil, nil
	}
	return resp.Job, nil
}

// Log streams one line for a claimed job.
func (c *Client) Log(ctx context.Context, job *protocol.ClaimedJob, line string) error {
	return c.LogRaw(ctx, job.ID, job.ClaimToken, line)
}

// LogRaw streams one line given only the (id, token) pair; the self-deploy
// path uses it without a ClaimedJob in hand.
func (c *Client) LogRaw(ctx context.Context, jobID int64, token uuid.UUID, line string) error {
	var resp protocol.APIResponse
	err := c.post(ctx, "/agent/log", protocol.LogRequest{
		JobID: jobID, ClaimToken: token, Line: line,
	}, &resp)
	if err != nil {
		return err
	}
	if !resp.OK {
		// Lease loss comes back as a 403 and is mapped inside post; any
		// other rejection is transient and the caller should keep trying.
		return fmt.Errorf("log rejected: %s", resp.Error)
	}
	return nil
}

// Finish reports the job outcome.
func (c *Client) Finish(ctx context.Context, job *protocol.ClaimedJob, success bool) error {
	var resp protocol.APIResponse
	err := c.post(ctx, "/agent/finish", protocol.FinishRequest{
		JobID: job.ID, ClaimToken: job.ClaimToken, Success: success,
	}, &resp)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("finish rejected: %s", resp.Error)
	}
	return nil
}

// Metrics attaches the run metrics blob to the job.
func (c *Client) Metrics(ctx context.Context, job *protocol.ClaimedJob, metrics any) error {
	data, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	var resp protocol.APIResponse
	err = c.post(ctx, "/agent/metrics", protocol.MetricsRequest{
		JobID: job.ID, ClaimToken: job.ClaimToken, Metrics: data,
	}, &resp)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("metrics rejected: %s", resp.Error)
	}
	return nil
}

// SyncSchedule pushes the repo's declared cron schedule to the controller.
func (c *Client) SyncSchedule(ctx context.Context, req protocol.SyncScheduleRequest) error {
	var resp protocol.APIResponse
	if err := c.post(ctx, "/agent/schedule", req, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("schedule sync rejected: %s", resp.Error)
	}
	return nil
}

// SyncTriggers pushes the repo's declared trigger filters to the controller.
func (c *Client) SyncTriggers(ctx context.Context, req protocol.SyncTriggersRequest) error {
	var resp protocol.APIResponse
	if err := c.post(ctx, "/agent/triggers", req, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("trigger sync rejected: %s", resp.Error)
	}
	return nil
}

// FetchLogs returns the job's full log text, token-guarded.
func (c *Client) FetchLogs(ctx context.Context, job *protocol.ClaimedJob) (string, error) {
	url := fmt.Sprintf("%s/agent/logs/%d?claim_token=%s", c.serverURL, job.ID, job.ClaimToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch logs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch logs: server returned %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read logs: %w", err)
	}
	return string(data), nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		io.Copy(io.Discard, resp.Body)
		return ErrLeaseLost
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
