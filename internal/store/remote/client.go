// Package remote is a document store backend that talks to a daybook
// document server over HTTP, with a websocket change feed.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/colonyops/daybook/internal/core/docstore"
)

// OriginHeader carries the writer origin id on write requests.
const OriginHeader = "X-Daybook-Origin"

// HTTPError is a non-2xx response from the document server.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Client implements docstore.Backend against a document server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ docstore.Backend = (*Client)(nil)

// New creates a client for the server at opts.BaseURL.
func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: opts.HTTPClient,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
		ctx:        ctx,
		cancel:     cancel,
	}
}

type claimRequest struct {
	Access docstore.Access `json:"access"`
}

type listResponse struct {
	Keys []string `json:"keys"`
}

// Claim asks the server for access to ns.
func (c *Client) Claim(ctx context.Context, ns string, access docstore.Access) error {
	if err := c.check(); err != nil {
		return err
	}
	_, err := c.do(ctx, http.MethodPost, namespacePath(ns)+"/claim", nil, mustJSON(claimRequest{Access: access}), nil)
	return err
}

// List returns the keys in ns.
func (c *Client) List(ctx context.Context, ns string) ([]string, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	var out listResponse
	if _, err := c.do(ctx, http.MethodGet, namespacePath(ns)+"/documents", nil, nil, &out); err != nil {
		return nil, err
	}
	if out.Keys == nil {
		out.Keys = []string{}
	}
	return out.Keys, nil
}

// Get returns the document for key.
func (c *Client) Get(ctx context.Context, ns, key string) (json.RawMessage, bool, error) {
	if err := c.check(); err != nil {
		return nil, false, err
	}
	var body json.RawMessage
	_, err := c.do(ctx, http.MethodGet, documentPath(ns, key), nil, nil, &body)
	if IsHTTPStatus(err, http.StatusNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

// Put upserts the document for key.
func (c *Client) Put(ctx context.Context, ns, key string, doc json.RawMessage) error {
	if err := c.check(); err != nil {
		return err
	}
	_, err := c.do(ctx, http.MethodPut, documentPath(ns, key), originHeaders(ctx), doc, nil)
	return err
}

// Delete removes the document for key.
func (c *Client) Delete(ctx context.Context, ns, key string) error {
	if err := c.check(); err != nil {
		return err
	}
	_, err := c.do(ctx, http.MethodDelete, documentPath(ns, key), originHeaders(ctx), nil, nil)
	return err
}

// Close stops every change feed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Client) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return docstore.ErrClosed
	}
	return nil
}

func (c *Client) do(
	ctx context.Context,
	method, requestPath string,
	headers map[string]string,
	body []byte,
	out any,
) (int, error) {
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return 0, err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return 0, waitErr
				}
				continue
			}
			return 0, err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resp.StatusCode, readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return resp.StatusCode, nil
			}
			return resp.StatusCode, json.Unmarshal(payload, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return resp.StatusCode, waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
		if resp.StatusCode == http.StatusForbidden {
			return resp.StatusCode, fmt.Errorf("%w: %w", docstore.ErrAccessDenied, httpErr)
		}
		return resp.StatusCode, httpErr
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func originHeaders(ctx context.Context) map[string]string {
	origin := docstore.OriginFrom(ctx)
	if origin == "" {
		return nil
	}
	return map[string]string{OriginHeader: origin}
}

func namespacePath(ns string) string {
	return "/v1/namespaces/" + url.PathEscape(ns)
}

func documentPath(ns, key string) string {
	return namespacePath(ns) + "/documents/" + url.PathEscape(key)
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
