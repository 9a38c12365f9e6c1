// Package boothclient talks to the booth's trigger HTTP API from the relay.
package boothclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Response is the booth's answer to a trigger.
type Response struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
	StatusCode int    `json:"-"`
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	// StreamClient has no timeout so the MJPEG stream can stay open.
	StreamClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		HTTPClient:   &http.Client{Timeout: 45 * time.Second},
		StreamClient: &http.Client{},
	}
}

func (c *Client) StartPreview(ctx context.Context) (*Response, error) {
	return c.trigger(ctx, "/preview/start")
}

func (c *Client) StopPreview(ctx context.Context) (*Response, error) {
	return c.trigger(ctx, "/preview/stop")
}

func (c *Client) Capture(ctx context.Context) (*Response, error) {
	return c.trigger(ctx, "/capture")
}

// trigger posts to path. Rejections (429, 503) are returned as a Response,
// not an error.
func (c *Client) trigger(ctx context.Context, path string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("booth unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("booth returned %d with invalid body: %w", resp.StatusCode, err)
	}
	out.StatusCode = resp.StatusCode
	return &out, nil
}

// Health returns the booth's /health document as is.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("booth unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("booth health returned %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stream opens the booth's MJPEG stream. The caller closes the body.
func (c *Client) Stream(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StreamURL(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.StreamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("booth unreachable: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("booth stream returned %d", resp.StatusCode)
	}
	return resp, nil
}

func (c *Client) StreamURL() string {
	return c.BaseURL + "/stream"
}
