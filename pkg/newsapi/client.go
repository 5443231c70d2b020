// Package newsapi provides a client for the NewsAPI article index.
package newsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://newsapi.org/v2"

// Client defines the NewsAPI operations used for article lookups.
type Client interface {
	Everything(ctx context.Context, q Query) (*Response, error)
}

// Query holds the /everything parameters. Empty fields are omitted.
type Query struct {
	Q        string
	QInTitle string
	Domains  string
	SearchIn string
	Language string
	SortBy   string
	PageSize int
}

func (q Query) values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("q", q.Q)
	set("qInTitle", q.QInTitle)
	set("domains", q.Domains)
	set("searchIn", q.SearchIn)
	set("language", q.Language)
	set("sortBy", q.SortBy)
	if q.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	return v
}

// Response is the /everything response body.
type Response struct {
	Status       string    `json:"status"`
	TotalResults int       `json:"totalResults"`
	Articles     []Article `json:"articles"`
}

// Article is one indexed article. Content is truncated by the provider.
type Article struct {
	Source      Source    `json:"source"`
	Author      string    `json:"author"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	URLToImage  string    `json:"urlToImage"`
	PublishedAt time.Time `json:"publishedAt"`
	Content     string    `json:"content"`
}

// Source names the publisher.
type Source struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// APIError is returned for non-2xx responses or an error status body.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("newsapi: HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a NewsAPI client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Everything(ctx context.Context, q Query) (*Response, error) {
	endpoint := c.baseURL + "/everything?" + q.values().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "newsapi: create request")
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "newsapi: execute request")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, eris.Wrap(err, "newsapi: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jerr := json.Unmarshal(data, apiErr); jerr != nil || apiErr.Message == "" {
			apiErr.Message = string(data)
		}
		return nil, apiErr
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "newsapi: decode response")
	}
	if out.Status == "error" {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return nil, apiErr
	}
	return &out, nil
}
