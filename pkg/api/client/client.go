package client

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
)

// Client provides typed access to the warden API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4600"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// Server describes a managed game server as listed by the API.
type Server struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Game       string    `json:"game"`
	Status     string    `json:"status"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListServers returns all servers visible to the operator.
func (c *Client) ListServers(ctx context.Context, token string) ([]Server, error) {
	var servers []Server
	if err := c.do(ctx, http.MethodGet, "/servers", nil, token, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// Snapshot mirrors one historical metric sample.
type Snapshot struct {
	ServerID   string    `json:"server_id"`
	At         time.Time `json:"at"`
	CPUPercent float64   `json:"cpu_percent"`
	RAMBytes   uint64    `json:"ram_bytes"`
	TPS        float64   `json:"tps"`
	Players    int       `json:"players"`
}

// MetricHistory backfills the last n snapshots for a server, newest first.
// This is the pull path for chart initialisation; live values arrive on the
// realtime channel.
func (c *Client) MetricHistory(ctx context.Context, token, serverID string, n int) ([]Snapshot, error) {
	path := fmt.Sprintf("/servers/%s/metrics?limit=%d", url.PathEscape(serverID), n)
	var snapshots []Snapshot
	if err := c.do(ctx, http.MethodGet, path, nil, token, &snapshots); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// Lifecycle requests a start/stop/restart/kill action; the status transition
// arrives asynchronously on the realtime channel.
func (c *Client) Lifecycle(ctx context.Context, token, serverID, action string) error {
	path := fmt.Sprintf("/servers/%s/%s", url.PathEscape(serverID), url.PathEscape(action))
	return c.do(ctx, http.MethodPost, path, nil, token, nil)
}
