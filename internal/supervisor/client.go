// Package supervisor is the boundary client for the external process
// supervisor that owns game-server OS processes. The panel never spawns or
// kills processes itself; lifecycle requests go through here and their
// outcomes come back asynchronously as status pushes on the ingest endpoints.
package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wardenpanel/warden/internal/domain"
)

const (
	defaultTimeout   = 10 * time.Second
	maxErrorBodySize = 4096
)

// ErrUnauthorized indicates the supervisor rejected the panel's token.
var ErrUnauthorized = errors.New("supervisor unauthorized")

// ErrNotFound indicates the supervisor does not know the server id.
var ErrNotFound = errors.New("supervisor server not found")

// ErrInvalidResponse indicates a malformed supervisor response payload.
var ErrInvalidResponse = errors.New("supervisor invalid response")

// Client talks to the supervisor's local HTTP API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New constructs a supervisor client for the given base URL and shared token.
func New(baseURL, token string, client *http.Client) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("supervisor base url required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &Client{baseURL: trimmed, token: strings.TrimSpace(token), client: client}, nil
}

// Start requests an asynchronous process start. The resulting status
// transition arrives later on the push channel.
func (c *Client) Start(ctx context.Context, id domain.ServerID) error {
	return c.post(ctx, "/servers/"+id+"/start", nil, nil)
}

// Stop requests a graceful stop.
func (c *Client) Stop(ctx context.Context, id domain.ServerID) error {
	return c.post(ctx, "/servers/"+id+"/stop", nil, nil)
}

// Restart requests a stop-then-start cycle.
func (c *Client) Restart(ctx context.Context, id domain.ServerID) error {
	return c.post(ctx, "/servers/"+id+"/restart", nil, nil)
}

// Kill requests an immediate, ungraceful termination.
func (c *Client) Kill(ctx context.Context, id domain.ServerID) error {
	return c.post(ctx, "/servers/"+id+"/kill", nil, nil)
}

// SendCommand writes one line to the server's standard input.
func (c *Client) SendCommand(ctx context.Context, id domain.ServerID, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("command text required")
	}
	return c.post(ctx, "/servers/"+id+"/stdin", map[string]string{"text": text}, nil)
}

// statsResponse is the supervisor's raw stat shape. RAM arrives in whatever
// unit the collector backend uses; normalization happens in the broadcaster.
type statsResponse struct {
	CPUPercent float64 `json:"cpu_percent"`
	RAM        uint64  `json:"ram"`
	TPS        float64 `json:"tps"`
	Players    int     `json:"players"`
}

// Sample pulls one resource snapshot for a server. Satisfies
// metrics.Sampler.
func (c *Client) Sample(ctx context.Context, id domain.ServerID) (domain.MetricSnapshot, error) {
	var stats statsResponse
	if err := c.get(ctx, "/servers/"+id+"/stats", &stats); err != nil {
		return domain.MetricSnapshot{}, err
	}
	return domain.MetricSnapshot{
		ServerID:   id,
		CPUPercent: stats.CPUPercent,
		RAMBytes:   stats.RAM,
		TPS:        stats.TPS,
		Players:    stats.Players,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode supervisor request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build supervisor request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-Supervisor-Token", c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("supervisor request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("supervisor returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}
