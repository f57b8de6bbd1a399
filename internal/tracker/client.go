package tracker

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

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds tracker connection settings.
type Config struct {
	BaseURL  string
	Email    string
	APIToken string
	Timeout  time.Duration
	Traced   bool
}

// DefaultConfig returns settings suitable for local development.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "http://localhost:8090",
		Timeout: 30 * time.Second,
	}
}

// API is the narrow REST surface the automation engine consumes. Callers
// pass paths relative to the tracker base URL and receive the raw response
// body; typed decoding stays with the caller.
type API interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error)
	Put(ctx context.Context, path string, body interface{}) (json.RawMessage, error)
	Delete(ctx context.Context, path string) (json.RawMessage, error)
}

// Client is an HTTP client for the tracker REST API.
type Client struct {
	baseURL    string
	email      string
	apiToken   string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a tracker client from config.
func NewClient(cfg *Config, logger *logrus.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	transport := http.DefaultTransport
	if cfg.Traced {
		transport = otelhttp.NewTransport(transport)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		email:    cfg.Email,
		apiToken: cfg.APIToken,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: logger,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.email != "" && c.apiToken != "" {
		req.SetBasicAuth(c.email, c.apiToken)
	}
	req.Header.Set("User-Agent", "Trackwise-Client/1.0")
	return req, nil
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debugf("tracker API %s %s -> %d", req.Method, req.URL.Path, resp.StatusCode)

	if resp.StatusCode >= 400 {
		var errBody ErrorBody
		if err := json.Unmarshal(body, &errBody); err == nil && len(errBody.ErrorMessages) > 0 {
			return nil, fmt.Errorf("tracker error [%d]: %s", resp.StatusCode, strings.Join(errBody.ErrorMessages, "; "))
		}
		return nil, fmt.Errorf("tracker error [%d]: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.RawMessage(body), nil
}

// Get issues a GET request against the tracker.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Post issues a POST request against the tracker.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Put issues a PUT request against the tracker.
func (c *Client) Put(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodPut, path, body)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Delete issues a DELETE request against the tracker.
func (c *Client) Delete(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// GetIssue fetches a single issue by key.
func GetIssue(ctx context.Context, api API, issueKey string) (*Issue, error) {
	raw, err := api.Get(ctx, "/rest/api/2/issue/"+url.PathEscape(issueKey))
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := json.Unmarshal(raw, &issue); err != nil {
		return nil, fmt.Errorf("decode issue: %w", err)
	}
	return &issue, nil
}

// SearchIssues runs a JQL search bounded by maxResults.
func SearchIssues(ctx context.Context, api API, jql string, maxResults int) (*SearchResult, error) {
	raw, err := api.Post(ctx, "/rest/api/2/search", map[string]interface{}{
		"jql":        jql,
		"maxResults": maxResults,
	})
	if err != nil {
		return nil, err
	}
	var result SearchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode search result: %w", err)
	}
	return &result, nil
}

// GetTransitions lists the workflow transitions available to an issue.
func GetTransitions(ctx context.Context, api API, issueKey string) ([]Transition, error) {
	raw, err := api.Get(ctx, "/rest/api/2/issue/"+url.PathEscape(issueKey)+"/transitions")
	if err != nil {
		return nil, err
	}
	var list TransitionList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode transitions: %w", err)
	}
	return list.Transitions, nil
}
