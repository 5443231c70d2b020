// Package jina provides a client for the Jina AI reader API, which renders a
// page in a managed browser and returns its readable content.
package jina

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/digest-cli/internal/resilience"
)

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

// Client defines the Jina AI Reader operations.
type Client interface {
	// Read fetches a URL via Jina AI Reader and returns the rendered content.
	Read(ctx context.Context, targetURL string, opts ...ReadOption) (*ReadResponse, error)
}

// ReadResponse is the parsed Jina API response.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

// ReadData holds the content from Jina.
type ReadData struct {
	Title         string    `json:"title"`
	URL           string    `json:"url"`
	Description   string    `json:"description"`
	Content       string    `json:"content"`
	PublishedTime string    `json:"publishedTime"`
	Usage         ReadUsage `json:"usage"`
}

// ReadUsage tracks token consumption.
type ReadUsage struct {
	Tokens int `json:"tokens"`
}

// ReadOption configures a single read request.
type ReadOption func(*readOpts)

type readOpts struct {
	format      string
	timeout     time.Duration
	waitFor     string
	bypassCache bool
}

// WithFormat sets X-Return-Format ("markdown", "html", "text").
func WithFormat(format string) ReadOption {
	return func(o *readOpts) { o.format = format }
}

// WithTimeout sets the server-side page load budget.
func WithTimeout(d time.Duration) ReadOption {
	return func(o *readOpts) { o.timeout = d }
}

// WithWaitForSelector makes the reader wait until selector appears.
func WithWaitForSelector(selector string) ReadOption {
	return func(o *readOpts) { o.waitFor = selector }
}

// WithNoCache bypasses Jina's own response cache.
func WithNoCache() ReadOption {
	return func(o *readOpts) { o.bypassCache = true }
}

// Option configures the Jina client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry sets the attempt count and initial backoff for transient
// failures.
func WithRetry(maxAttempts int, initialBackoff time.Duration) Option {
	return func(c *httpClient) {
		if maxAttempts > 0 {
			c.retry.MaxAttempts = maxAttempts
		}
		if initialBackoff > 0 {
			c.retry.InitialBackoff = initialBackoff
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a new Jina AI Reader client. An empty apiKey uses the
// anonymous tier.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.InitialBackoff = time.Second
	retry.OnRetry = resilience.RetryLogger("jina", "read")

	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://r.jina.ai",
		retry:   retry,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// send issues req, retrying transport failures and transient statuses.
// A non-200 reply comes back as *APIError, wrapped as transient when the
// status allows a retry.
func (c *httpClient) send(ctx context.Context, req *http.Request) ([]byte, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return nil, eris.Wrap(err, "jina: read response body")
		}
		if resp.StatusCode != http.StatusOK {
			apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
			return nil, resilience.WrapStatus(apiErr, resp.StatusCode, resp.Header)
		}
		return body, nil
	})
}

func (c *httpClient) Read(ctx context.Context, targetURL string, opts ...ReadOption) (*ReadResponse, error) {
	ro := &readOpts{format: "markdown"}
	for _, opt := range opts {
		opt(ro)
	}

	reqURL := fmt.Sprintf("%s/%s", c.baseURL, targetURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create request")
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Return-Format", ro.format)
	if ro.timeout > 0 {
		req.Header.Set("X-Timeout", strconv.Itoa(int(ro.timeout/time.Second)))
	}
	if ro.waitFor != "" {
		req.Header.Set("X-Wait-For-Selector", ro.waitFor)
	}
	if ro.bypassCache {
		req.Header.Set("X-No-Cache", "true")
	}

	body, err := c.send(ctx, req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, eris.Wrap(err, "jina: request failed")
	}

	var result ReadResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal response")
	}

	return &result, nil
}

// APIError is returned when the reader responds with a non-200 status after
// retries.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jina: unexpected status %d: %s", e.StatusCode, e.Body)
}
