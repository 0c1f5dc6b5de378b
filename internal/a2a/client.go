package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Client sends work to remote agents.
type Client interface {
	// SendMessage sends a message and, in blocking mode, returns the task
	// once it reaches a terminal state.
	SendMessage(ctx context.Context, endpoint string, req SendMessageRequest) (*Task, error)

	// DiscoverAgent fetches the Agent Card from the well-known URI.
	DiscoverAgent(ctx context.Context, baseURL string) (*AgentCard, error)
}

var _ Client = (*HTTPClient)(nil)

// maxResponse bounds how much of a reply body is read.
const maxResponse = 8 << 20

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	http *http.Client
	seq  atomic.Int64
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout bounds each HTTP exchange.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.http.Timeout = d }
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) { c.http = hc }
}

// NewHTTPClient creates an A2A client with a 30s default timeout.
func NewHTTPClient(opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{http: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage calls message/send on the agent at endpoint.
func (c *HTTPClient) SendMessage(ctx context.Context, endpoint string, req SendMessageRequest) (*Task, error) {
	return invoke[Task](ctx, c, endpoint, MethodSendMessage, req)
}

// DiscoverAgent fetches the Agent Card from the well-known URI.
func (c *HTTPClient) DiscoverAgent(ctx context.Context, baseURL string) (*AgentCard, error) {
	url := strings.TrimRight(baseURL, "/") + "/.well-known/agent-card.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("a2a: discover agent: %w", err)
	}
	body, err := c.exchange(req, "discover agent")
	if err != nil {
		return nil, err
	}
	card := new(AgentCard)
	if err := json.Unmarshal(body, card); err != nil {
		return nil, fmt.Errorf("a2a: decode agent card: %w", err)
	}
	return card, nil
}

// invoke performs one JSON-RPC call and decodes its result into a new T.
func invoke[T any](ctx context.Context, c *HTTPClient, endpoint, method string, params any) (*T, error) {
	payload, err := request(c.seq.Add(1), method, params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("a2a: %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.exchange(req, method)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("a2a: %s: decode response: %w", method, err)
	}
	if env.Error != nil {
		env.Error.Method = method
		return nil, env.Error
	}
	out := new(T)
	if len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return nil, fmt.Errorf("a2a: %s: decode result: %w", method, err)
		}
	}
	return out, nil
}

// exchange sends req and returns the body of a 200 reply. Anything else is a
// TransportError carrying the status and the start of the body.
func (c *HTTPClient) exchange(req *http.Request, op string) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		text := strings.TrimSpace(string(body))
		if len(text) > 512 {
			text = text[:512]
		}
		return nil, &TransportError{Op: op, Status: resp.StatusCode, Err: errors.New(text)}
	}
	return body, nil
}
