// Package ghapp mints GitHub App credentials and reports build status back
// to the host. The app JWT is short-lived RS256; the installation token it
// buys is what actually authenticates clones and check-run calls.
package ghapp

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	apiBase    = "https://api.github.com"
	apiVersion = "2022-11-28"
	userAgent  = "foundry-agent"

	// checkRunLogLimit caps the log text attached to a completed check run;
	// GitHub rejects larger outputs. The tail is kept.
	checkRunLogLimit = 60000
)

// App holds the GitHub App identity.
type App struct {
	appID          string
	installationID string
	key            *rsa.PrivateKey
	client         *http.Client
}

// New parses the PEM private key and returns the identity helper.
func New(appID, installationID string, privateKeyPEM []byte) (*App, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, fmt.Errorf("github app key: no PEM block found")
	}
	var key *rsa.PrivateKey
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		key = k
	} else if k, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("github app key: not an RSA key")
		}
		key = rsaKey
	} else {
		return nil, fmt.Errorf("github app key: parse: %w", err)
	}

	return &App{
		appID:          appID,
		installationID: installationID,
		key:            key,
		client:         &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// generateJWT builds the app-level token: issued a minute in the past to
// absorb clock skew, valid ten minutes.
func (a *App) generateJWT() (string, error) {
	now := time.Now()
	tok, err := jwt.NewBuilder().
		IssuedAt(now.Add(-60 * time.Second)).
		Expiration(now.Add(10 * time.Minute)).
		Issuer(a.appID).
		Build()
	if err != nil {
		return "", fmt.Errorf("build app jwt: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, a.key))
	if err != nil {
		return "", fmt.Errorf("sign app jwt: %w", err)
	}
	return string(signed), nil
}

// InstallationToken exchanges the app JWT for an installation access token.
func (a *App) InstallationToken(ctx context.Context) (string, error) {
	appJWT, err := a.generateJWT()
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/app/installations/%s/access_tokens", apiBase, a.installationID)
	var resp struct {
		Token string `json:"token"`
	}
	if err := a.do(ctx, http.MethodPost, url, appJWT, nil, &resp); err != nil {
		return "", fmt.Errorf("installation token: %w", err)
	}
	return resp.Token, nil
}

// AuthenticatedCloneURL embeds an installation token into an https clone URL.
// Non-https URLs pass through unchanged.
func AuthenticatedCloneURL(cloneURL, token string) string {
	rest, ok := strings.CutPrefix(cloneURL, "https://")
	if !ok {
		return cloneURL
	}
	return "https://x-access-token:" + token + "@" + rest
}

// CheckConclusion is the terminal state reported on a check run.
type CheckConclusion string

const (
	ConclusionSuccess  CheckConclusion = "success"
	ConclusionFailure  CheckConclusion = "failure"
	ConclusionTimedOut CheckConclusion = "timed_out"
)

// CreateCheckRun opens an in-progress check run against a head SHA and
// returns its id.
func (a *App) CreateCheckRun(ctx context.Context, owner, repo, sha, name string) (int64, error) {
	token, err := a.InstallationToken(ctx)
	if err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/repos/%s/%s/check-runs", apiBase, owner, repo)
	body := map[string]any{
		"name":     name,
		"head_sha": sha,
		"status":   "in_progress",
		"output": map[string]string{
			"title":   "Build in progress",
			"summary": "Foundry is building your project...",
		},
	}
	var resp struct {
		ID int64 `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, url, token, body, &resp); err != nil {
		return 0, fmt.Errorf("create check run: %w", err)
	}
	return resp.ID, nil
}

// CompleteCheckRun closes a check run with a conclusion and an optional log
// tail.
func (a *App) CompleteCheckRun(ctx context.Context, owner, repo string, checkRunID int64, conclusion CheckConclusion, summary, logs string) error {
	token, err := a.InstallationToken(ctx)
	if err != nil {
		return err
	}

	title := "Build failed"
	switch conclusion {
	case ConclusionSuccess:
		title = "Build succeeded"
	case ConclusionTimedOut:
		title = "Build timed out"
	}

	output := map[string]any{"title": title, "summary": summary}
	if logs != "" {
		if len(logs) > checkRunLogLimit {
			logs = logs[len(logs)-checkRunLogLimit:]
		}
		output["text"] = logs
	}

	url := fmt.Sprintf("%s/repos/%s/%s/check-runs/%d", apiBase, owner, repo, checkRunID)
	body := map[string]any{
		"status":     "completed",
		"conclusion": string(conclusion),
		"output":     output,
	}
	if err := a.do(ctx, http.MethodPatch, url, token, body, nil); err != nil {
		return fmt.Errorf("complete check run: %w", err)
	}
	return nil
}

// CommitStatus is the state of a commit status context.
type CommitStatus string

const (
	StatusPending CommitStatus = "pending"
	StatusSuccess CommitStatus = "success"
	StatusFailure CommitStatus = "failure"
	StatusError   CommitStatus = "error"
)

// CreateCommitStatus posts a commit status under the "foundry" context.
func (a *App) CreateCommitStatus(ctx context.Context, owner, repo, sha string, status CommitStatus, description, targetURL string) error {
	token, err := a.InstallationToken(ctx)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/repos/%s/%s/statuses/%s", apiBase, owner, repo, sha)
	body := map[string]any{
		"state":   string(status),
		"context": "foundry",
	}
	if description != "" {
		body["description"] = description
	}
	if targetURL != "" {
		body["target_url"] = targetURL
	}
	if err := a.do(ctx, http.MethodPost, url, token, body, nil); err != nil {
		return fmt.Errorf("create commit status: %w", err)
	}
	return nil
}

func (a *App) do(ctx context.Context, method, url, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("github api %s: %s", resp.Status, data)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
