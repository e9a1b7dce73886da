// Package relayclient talks to a relay gateway over HTTP and WebSocket.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mcdev12/relay/go/internal/gateway"
)

// Client calls the gateway's HTTP endpoints.
type Client struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// SetToken sends token as a bearer credential on every request.
func (c *Client) SetToken(token string) {
	c.SetHeader("Authorization", "Bearer "+token)
}

func (c *Client) makeRequest(ctx context.Context, method, endpoint string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(responseBody))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status code: %d, response: %s", e.Code, e.Body)
}

// Publish posts a status text; the gateway publishes it on its status channel.
func (c *Client) Publish(ctx context.Context, text string) (gateway.PublishResponse, error) {
	return c.PublishRequest(ctx, gateway.PublishRequest{Text: text})
}

func (c *Client) PublishRequest(ctx context.Context, req gateway.PublishRequest) (gateway.PublishResponse, error) {
	var resp gateway.PublishResponse
	err := c.makeRequest(ctx, http.MethodPost, "/publish", req, &resp)
	return resp, err
}

// Token requests a transport token for clientID. An empty id lets the
// gateway generate one.
func (c *Client) Token(ctx context.Context, clientID string) (gateway.TokenResponse, error) {
	var resp gateway.TokenResponse
	err := c.makeRequest(ctx, http.MethodPost, "/token", gateway.TokenRequest{ClientID: clientID}, &resp)
	return resp, err
}

func (c *Client) StatusLog(ctx context.Context) ([]gateway.LogEntry, error) {
	var entries []gateway.LogEntry
	err := c.makeRequest(ctx, http.MethodGet, "/status/log", nil, &entries)
	return entries, err
}

func (c *Client) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})
	err := c.makeRequest(ctx, http.MethodGet, "/stats", nil, &stats)
	return stats, err
}
