// Package firecrawl provides a client for the Firecrawl scrape API, used as a
// managed remote browser.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/digest-cli/internal/resilience"
)

// Default base URL for the Firecrawl v1 API.
const defaultBaseURL = "https://api.firecrawl.dev/v1"

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

// Client defines the Firecrawl scrape operation.
type Client interface {
	Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error)
}

// ScrapeRequest is the body for POST /scrape.
type ScrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats,omitempty"`
	OnlyMainContent bool     `json:"onlyMainContent,omitempty"`
	// WaitFor is extra time in milliseconds the remote browser waits after
	// load before capturing.
	WaitFor int `json:"waitFor,omitempty"`
	// Timeout is the server-side budget in milliseconds.
	Timeout int `json:"timeout,omitempty"`
}

// ScrapeResponse is the response from POST /scrape.
type ScrapeResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Data    PageData `json:"data"`
}

// PageData represents a single rendered page.
type PageData struct {
	Markdown string   `json:"markdown"`
	HTML     string   `json:"html"`
	RawHTML  string   `json:"rawHtml"`
	Metadata Metadata `json:"metadata"`
}

// Metadata is the page metadata Firecrawl reports alongside content.
type Metadata struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Language      string `json:"language"`
	SourceURL     string `json:"sourceURL"`
	URL           string `json:"url"`
	StatusCode    int    `json:"statusCode"`
	Error         string `json:"error,omitempty"`
	OGSiteName    string `json:"ogSiteName,omitempty"`
	PublishedTime string `json:"publishedTime,omitempty"`
}

// APIError is returned when Firecrawl responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("firecrawl: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = url }
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRetry sets the attempt count and first backoff for rate limits and
// server errors. One attempt disables retries.
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

// NewClient creates a new Firecrawl client.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.InitialBackoff = 2 * time.Second
	retry.OnRetry = resilience.RetryLogger("firecrawl", "scrape")

	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		retry:   retry,
		http: &http.Client{
			Timeout: 90 * time.Second,
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

// Scrape renders req.URL remotely. A 429 or 5xx is retried, waiting at
// least as long as the API's Retry-After.
func (c *httpClient) Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error) {
	buf, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "firecrawl: marshal request")
	}

	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*ScrapeResponse, error) {
		var out ScrapeResponse
		if err := c.post(ctx, "/scrape", buf, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "firecrawl: scrape")
	}
	return resp, nil
}

func (c *httpClient) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return eris.Wrap(err, "read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		return resilience.WrapStatus(apiErr, resp.StatusCode, resp.Header)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
