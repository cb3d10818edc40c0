package cloudagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

const (
	// DefaultBaseURL is the agent service endpoint used when none is configured.
	DefaultBaseURL = "https://api.cursor.com"
	apiVersion     = "v0"

	defaultTimeout  = 30 * time.Second
	defaultBranch   = "main"
	maxResponseBody = 4 * 1024 * 1024
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is a thin request/response wrapper around the remote agent service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a Client. An empty APIKey yields a client that reports
// Configured() == false and refuses to launch.
func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: base, apiKey: cfg.APIKey, http: hc}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// LaunchRequest describes a remote agent launch.
type LaunchRequest struct {
	Prompt     string
	Repository string
	Branch     string
	// Options are passed through in the request body. "mode" is not part
	// of the remote API and is dropped.
	Options map[string]any
}

// Agent is the remote service's view of one agent.
type Agent struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// APIError is a non-2xx response from the agent service.
type APIError struct {
	StatusCode int
	Message    string
	Body       json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agent service error (%d): %s", e.StatusCode, e.Message)
}

// StatusCode returns the remote HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Launch starts a remote agent on the given repository.
func (c *Client) Launch(ctx context.Context, req LaunchRequest) (*Agent, error) {
	if !c.Configured() {
		return nil, schema.NewError(schema.ErrCodeValidation, "agent service API key is not configured")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "prompt is required")
	}
	if strings.TrimSpace(req.Repository) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "repository is required")
	}

	branch := req.Branch
	if branch == "" {
		branch = defaultBranch
	}
	body := map[string]any{}
	for k, v := range req.Options {
		if k == "mode" {
			continue
		}
		body[k] = v
	}
	body["prompt"] = map[string]any{"text": req.Prompt}
	body["source"] = map[string]any{"repository": RepositoryURL(req.Repository), "ref": branch}

	data, err := c.do(ctx, http.MethodPost, "/agents", body)
	if err != nil {
		return nil, err
	}
	agent := decodeAgent(data)
	if agent.Status == "" {
		agent.Status = string(schema.AgentQueued)
	}
	if agent.ID == "" {
		return nil, schema.NewError(schema.ErrCodeRemote, "agent service response carried no agent id").
			WithDetails(map[string]any{"response": string(data)})
	}
	return agent, nil
}

// GetStatus fetches the current state of a remote agent.
func (c *Client) GetStatus(ctx context.Context, agentID string) (*Agent, error) {
	if !c.Configured() {
		return nil, schema.NewError(schema.ErrCodeValidation, "agent service API key is not configured")
	}
	if agentID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "agent id is required")
	}
	data, err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(agentID), nil)
	if err != nil {
		return nil, err
	}
	agent := decodeAgent(data)
	if agent.ID == "" {
		agent.ID = agentID
	}
	return agent, nil
}

// RepositoryURL expands "owner/repo" shorthand into a GitHub URL.
func RepositoryURL(repo string) string {
	if strings.HasPrefix(repo, "http") {
		return repo
	}
	return "https://github.com/" + strings.TrimPrefix(repo, "/")
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+apiVersion+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeRemote, "%s %s failed", method, path).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeRemote, "read response").WithCause(err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.StatusCode)}
		if json.Valid(raw) {
			apiErr.Body = raw
		}
		return nil, schema.NewErrorf(schema.ErrCodeRemote, "%s %s rejected", method, path).
			WithCause(apiErr).
			WithDetails(map[string]any{"status_code": resp.StatusCode})
	}
	if !json.Valid(raw) {
		return nil, schema.NewErrorf(schema.ErrCodeRemote, "agent service returned invalid JSON (%d bytes)", len(raw))
	}
	return raw, nil
}

// errorMessage picks error, then message, then detail, then the HTTP status.
func errorMessage(raw []byte, status int) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, key := range []string{"error", "message", "detail"} {
			switch v := body[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case map[string]any:
				if m, ok := v["message"].(string); ok && m != "" {
					return m
				}
			}
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}

func decodeAgent(raw json.RawMessage) *Agent {
	var body struct {
		ID      string `json:"id"`
		AgentID string `json:"agent_id"`
		Status  string `json:"status"`
	}
	_ = json.Unmarshal(raw, &body)
	id := body.ID
	if id == "" {
		id = body.AgentID
	}
	return &Agent{ID: id, Status: body.Status, Data: raw}
}
