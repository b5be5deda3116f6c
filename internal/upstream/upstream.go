package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StreamRequest is the payload posted to the provider's chat endpoint.
type StreamRequest struct {
	Model         string          `json:"model,omitempty"`
	Prompt        string          `json:"prompt"`
	ThreadID      string          `json:"threadId,omitempty"`
	WebSearch     bool            `json:"webSearch,omitempty"`
	GenerateImage bool            `json:"generateImage,omitempty"`
	Reasoning     bool            `json:"reasoning,omitempty"`
	AutoRoute     bool            `json:"autoRoute,omitempty"`
	Files         json.RawMessage `json:"files,omitempty"`
	InputAudio    json.RawMessage `json:"inputAudio,omitempty"`
}

// Error reports a non-success HTTP status from the provider.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream: http %d: %s", e.Status, e.Body)
}

// Client talks to the upstream conversational service. Each request presents
// a pool identity token via the browserId cookie the provider keys sessions on.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
}

// Config holds configuration for the upstream client.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration // applies to non-streaming calls only
}

// New creates an upstream Client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("upstream: base url required")
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		// streaming responses stay open indefinitely; ctx handles cancellation
		streamClient: &http.Client{},
	}, nil
}

// Open starts a streaming chat request and returns the raw SSE body.
// The caller owns the returned reader and must close it. Streaming requests
// deliberately bypass the client timeout; cancellation comes from ctx.
func (c *Client) Open(ctx context.Context, req StreamRequest, token string) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: create request: %w", err)
	}
	c.setHeaders(httpReq, token)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &Error{Status: resp.StatusCode, Body: string(data)}
	}
	return resp.Body, nil
}

// ListModels fetches the provider's model catalogue using the given token.
func (c *Client) ListModels(ctx context.Context, token string) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/models", nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: create request: %w", err)
	}
	c.setHeaders(httpReq, token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &Error{Status: resp.StatusCode, Body: string(data)}
	}

	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("upstream: decode models: %w", err)
	}
	names := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Probe sends a minimal request under the token and returns the HTTP status.
// It implements identity validation for the pool generator.
func (c *Client) Probe(ctx context.Context, token string) (int, error) {
	body, err := json.Marshal(StreamRequest{Prompt: "ping"})
	if err != nil {
		return 0, fmt.Errorf("upstream: marshal probe: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("upstream: create probe: %w", err)
	}
	c.setHeaders(httpReq, token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("upstream: send probe: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	return resp.StatusCode, nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "browserId", Value: token})
	}
}
