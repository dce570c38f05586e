// Package memory is the HTTP client for the external long-term memory
// service. The service is authoritative; there is no local cache. Every
// failure surfaces as ErrUnavailable so callers can degrade gracefully
// (empty context on recall, warning on retain).
package memory

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
)

// ErrUnavailable is the single recoverable error kind for all memory
// failures: unreachable service, non-2xx responses, malformed payloads.
var ErrUnavailable = errors.New("memory service unavailable")

const defaultTimeout = 10 * time.Second

// Record is one stored or recalled memory item.
type Record struct {
	ID      string  `json:"id,omitempty"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Context is the bundle returned by recall.
type Context struct {
	Records []Record `json:"memories"`
	Summary string   `json:"summary,omitempty"`
}

// Entity is one entity record from the bank's entity listing.
type Entity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

// Client talks to the memory service. All calls carry a bounded timeout.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// NewClient creates a memory client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Retain stores content in the bank. The optional context string carries
// conversational framing the service may use for indexing.
func (c *Client) Retain(ctx context.Context, bankID, content, memCtx string) (*Record, error) {
	payload := map[string]string{"content": content}
	if memCtx != "" {
		payload["context"] = memCtx
	}

	var rec Record
	if err := c.post(ctx, c.bankPath(bankID, "memories"), payload, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Recall queries the bank for context relevant to query. The reflect endpoint
// serves both recall and consolidation; recall passes the user utterance.
func (c *Client) Recall(ctx context.Context, bankID, query string) (*Context, error) {
	var out Context
	if err := c.post(ctx, c.bankPath(bankID, "reflect"), map[string]string{"query": query}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reflect asks the service to consolidate the bank.
func (c *Client) Reflect(ctx context.Context, bankID string) error {
	payload := map[string]string{"query": "consolidate recent memories"}
	return c.post(ctx, c.bankPath(bankID, "reflect"), payload, nil)
}

// Entities lists the entity records the service has extracted for the bank.
func (c *Client) Entities(ctx context.Context, bankID string) ([]Entity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.bankPath(bankID, "entities"), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var out struct {
		Entities []Entity `json:"entities"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}

// Healthy reports whether the service answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *Client) bankPath(bankID, op string) string {
	return "/v1/default/banks/" + url.PathEscape(bankID) + "/" + op
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, req.URL.Path, resp.StatusCode, string(body))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnavailable, req.URL.Path, err)
	}
	return nil
}
