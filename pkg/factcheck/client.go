// Package factcheck provides a client for the Google Fact Check Tools claim
// search API.
package factcheck

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

const defaultBaseURL = "https://factchecktools.googleapis.com/v1alpha1"

// Client searches published fact-checks.
type Client interface {
	// Search returns claims matching query. No match is an empty slice, not
	// an error.
	Search(ctx context.Context, query string) ([]Claim, error)
}

// Claim is a checked statement with its reviews.
type Claim struct {
	Text        string        `json:"text"`
	Claimant    string        `json:"claimant"`
	ClaimDate   string        `json:"claimDate"`
	ClaimReview []ClaimReview `json:"claimReview"`
}

// ClaimReview is one publisher's verdict on a claim.
type ClaimReview struct {
	Publisher     Publisher `json:"publisher"`
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	ReviewDate    string    `json:"reviewDate"`
	TextualRating string    `json:"textualRating"`
	LanguageCode  string    `json:"languageCode"`
}

// Publisher identifies a fact-checking organization.
type Publisher struct {
	Name string `json:"name"`
	Site string `json:"site"`
}

type searchResponse struct {
	Claims        []Claim `json:"claims"`
	NextPageToken string  `json:"nextPageToken"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("factcheck: HTTP %d: %s", e.StatusCode, e.Body)
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

// WithLanguage restricts results to a BCP-47 language code.
func WithLanguage(code string) Option {
	return func(c *httpClient) { c.language = code }
}

// WithPageSize caps the number of claims per search.
func WithPageSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

type httpClient struct {
	apiKey   string
	baseURL  string
	language string
	pageSize int
	http     *http.Client
}

// NewClient creates a fact-check client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		language: "en",
		pageSize: 5,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string) ([]Claim, error) {
	v := url.Values{}
	v.Set("query", query)
	v.Set("key", c.apiKey)
	v.Set("pageSize", strconv.Itoa(c.pageSize))
	if c.language != "" {
		v.Set("languageCode", c.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/claims:search?"+v.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "factcheck: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "factcheck: execute request")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, eris.Wrap(err, "factcheck: read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var out searchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "factcheck: decode response")
	}
	if out.Claims == nil {
		return []Claim{}, nil
	}
	return out.Claims, nil
}
