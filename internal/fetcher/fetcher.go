// Package fetcher performs polite HTTP GETs for extraction strategies: a
// per-host adaptive rate limit, charset-aware body decoding, and a bounded
// body size.
package fetcher

import (
	"context"
	"net/http"
)

// Fetcher retrieves a single page.
type Fetcher interface {
	// Get fetches rawURL. Non-2xx statuses are returned as a Page, not an
	// error; only transport failures produce an error.
	Get(ctx context.Context, rawURL string, opts ...RequestOption) (*Page, error)
}

// Page is a fetched HTTP response with its body fully read.
type Page struct {
	URL string
	// FinalURL is the URL after redirects.
	FinalURL    string
	StatusCode  int
	Header      http.Header
	ContentType string
	Body        []byte
	// Truncated is set when the body exceeded the size cap.
	Truncated bool
}

// OK reports a 2xx status.
func (p *Page) OK() bool {
	return p.StatusCode >= 200 && p.StatusCode < 300
}

// RequestOption customizes one Get.
type RequestOption func(*requestOpts)

type requestOpts struct {
	userAgent string
	header    http.Header
	raw       bool
	noRetry   bool
}

// WithUserAgent overrides the fetcher's default User-Agent.
func WithUserAgent(ua string) RequestOption {
	return func(o *requestOpts) { o.userAgent = ua }
}

// WithHeader adds a request header.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOpts) {
		if o.header == nil {
			o.header = http.Header{}
		}
		o.header.Add(key, value)
	}
}

// Raw skips charset decoding. Use for XML, whose decoder handles its own
// encoding declaration.
func Raw() RequestOption {
	return func(o *requestOpts) { o.raw = true }
}

// NoRetry makes a 429 or 5xx response return immediately instead of being
// retried, so the caller can react to it.
func NoRetry() RequestOption {
	return func(o *requestOpts) { o.noRetry = true }
}
