// Package remote talks to the coding-agent session service over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/alekspetrov/overseer/internal/logging"
	"github.com/alekspetrov/overseer/internal/store"
)

// SessionSnapshot is the remote view of one session, already mapped into
// local state vocabulary.
type SessionSnapshot struct {
	ID       string
	Title    string
	State    store.SessionState
	Branch   string
	PRStatus string
	PRURL    string
}

// Client is the surface the engine loops use to reach the session service.
type Client interface {
	CreateSession(ctx context.Context, repo, branch, prompt string) (SessionSnapshot, error)
	FetchSession(ctx context.Context, id string) (SessionSnapshot, error)
	FetchPRStatus(ctx context.Context, id string) (string, error)
	ApprovePlan(ctx context.Context, id string) error
	RetrySession(ctx context.Context, id string) error
	SendMessage(ctx context.Context, id, text string) error
	DeleteBranch(ctx context.Context, repo, branch string) error
}

// HTTPClient implements Client against the service's REST API with
// exponential backoff and 429-aware retries.
type HTTPClient struct {
	base   string
	apiKey string
	http   *retryablehttp.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a client for the given base URL. The API key is sent
// on every request; retry behavior handles rate limiting and transient 5xx.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	log := logging.WithComponent("remote")

	rc := retryablehttp.NewClient()
	rc.RetryMax = 5
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 30 * time.Second
	rc.Logger = nil
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, retry int) {
		if retry > 0 {
			log.Info("retrying request", "url", req.URL.String(), "attempt", retry)
		}
	}

	return &HTTPClient{
		base:   strings.TrimRight(baseURL, "/"),
		apiKey: apiKey,
		http:   rc,
	}
}

type remoteSession struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	State   string `json:"state"`
	Branch  string `json:"branch"`
	Outputs []struct {
		PullRequest *struct {
			URL    string `json:"url"`
			Status string `json:"status"`
		} `json:"pullRequest"`
	} `json:"outputs"`
}

func (s *remoteSession) snapshot() SessionSnapshot {
	snap := SessionSnapshot{
		ID:     s.ID,
		Title:  s.Title,
		State:  mapState(s.State),
		Branch: s.Branch,
	}
	for _, out := range s.Outputs {
		if out.PullRequest != nil {
			snap.PRURL = out.PullRequest.URL
			snap.PRStatus = out.PullRequest.Status
		}
	}
	return snap
}

// mapState normalizes remote state strings into the local vocabulary.
// Unknown states map to IN_PROGRESS so a new remote state degrades to
// frequent polling rather than being dropped.
func mapState(s string) store.SessionState {
	switch store.SessionState(s) {
	case store.SessionQueued, store.SessionInProgress, store.SessionAwaitingApproval,
		store.SessionAwaitingFeedback, store.SessionCompleted, store.SessionFailed:
		return store.SessionState(s)
	default:
		return store.SessionInProgress
	}
}

func (c *HTTPClient) CreateSession(ctx context.Context, repo, branch, prompt string) (SessionSnapshot, error) {
	payload := map[string]string{
		"repo":   repo,
		"branch": branch,
		"prompt": prompt,
	}
	var sess remoteSession
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", payload, &sess); err != nil {
		return SessionSnapshot{}, fmt.Errorf("failed to create session: %w", err)
	}
	return sess.snapshot(), nil
}

func (c *HTTPClient) FetchSession(ctx context.Context, id string) (SessionSnapshot, error) {
	var sess remoteSession
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(id), nil, &sess); err != nil {
		return SessionSnapshot{}, err
	}
	return sess.snapshot(), nil
}

func (c *HTTPClient) FetchPRStatus(ctx context.Context, id string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(id)+"/pullRequest", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *HTTPClient) ApprovePlan(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(id)+":approvePlan", struct{}{}, nil)
}

func (c *HTTPClient) RetrySession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(id)+":retry", struct{}{}, nil)
}

func (c *HTTPClient) SendMessage(ctx context.Context, id, text string) error {
	payload := map[string]string{"message": text}
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(id)+":sendMessage", payload, nil)
}

func (c *HTTPClient) DeleteBranch(ctx context.Context, repo, branch string) error {
	path := fmt.Sprintf("/v1/repos/%s/branches/%s", url.PathEscape(repo), url.PathEscape(branch))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
