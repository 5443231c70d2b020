package fetcher

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/sells-group/digest-cli/internal/resilience"
)

// DefaultUserAgent is a current desktop Chrome string. Many publishers
// serve a stripped or blocked page to obvious bot agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36"

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// MaxRetries is the number of attempts for 429/5xx and transport errors.
	// Default: 1 (no retry).
	MaxRetries int
	// RetryBackoff is the initial delay between retries. Default: 500ms.
	RetryBackoff time.Duration
	// MaxBodyBytes caps how much of a body is read. Default: 4 MiB.
	MaxBodyBytes int64
	// Limiter throttles requests per host. Nil creates a default.
	Limiter *HostLimiter
	// Transport overrides the default transport (tests).
	Transport http.RoundTripper
}

// HTTPFetcher implements Fetcher using net/http with per-host rate limiting.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *HostLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 4 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Limiter == nil {
		opts.Limiter = NewHostLimiter(2, 2)
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:    opts,
		limiter: opts.Limiter,
	}
}

// Limiter returns the fetcher's host limiter.
func (f *HTTPFetcher) Limiter() *HostLimiter {
	return f.limiter
}

// Get fetches rawURL and reads its body. HTML and text bodies are decoded
// to UTF-8 from the declared or sniffed charset unless Raw is given.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string, opts ...RequestOption) (*Page, error) {
	ro := &requestOpts{userAgent: f.opts.UserAgent}
	for _, opt := range opts {
		opt(ro)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", ro.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, vs := range ro.header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	attempts := f.opts.MaxRetries
	if ro.noRetry {
		attempts = 1
	}
	resp, err := f.doWithRetry(ctx, req, attempts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	return f.readPage(rawURL, resp, ro.raw)
}

func (f *HTTPFetcher) readPage(rawURL string, resp *http.Response, raw bool) (*Page, error) {
	limited := io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, eris.Wrap(err, "read body")
	}
	page := &Page{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if int64(len(body)) > f.opts.MaxBodyBytes {
		body = body[:f.opts.MaxBodyBytes]
		page.Truncated = true
	}

	if !raw && len(body) > 0 {
		if decoded, derr := decode(body, page.ContentType); derr == nil {
			body = decoded
		} else {
			zap.L().Debug("fetcher: charset decode failed, keeping raw body",
				zap.String("url", rawURL),
				zap.Error(derr),
			)
		}
	}
	page.Body = body
	return page, nil
}

// decode converts body to UTF-8 using the Content-Type charset, a <meta>
// declaration, or content sniffing, in that order.
func decode(body []byte, contentType string) ([]byte, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func (f *HTTPFetcher) doWithRetry(ctx context.Context, req *http.Request, attempts int) (*http.Response, error) {
	adaptive := f.limiter.For(req.URL.String())

	var lastErr error
	for attempt := range attempts {
		if err := adaptive.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		cloned := req.Clone(ctx)
		resp, err := f.client.Do(cloned)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil || attempt == attempts-1 {
				break
			}
			zap.L().Warn("http request failed, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			f.backoff(ctx, attempt, err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			adaptive.OnRateLimit()
		}
		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < attempts-1 {
			_ = resp.Body.Close()
			statusErr := resilience.WrapStatus(eris.Errorf("HTTP %d", resp.StatusCode), resp.StatusCode, resp.Header)
			zap.L().Warn("retryable status, backing off",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
				zap.Duration("retry_after", resilience.RetryAfterOf(statusErr)),
			)
			f.backoff(ctx, attempt, statusErr)
			continue
		}

		if resp.StatusCode < 400 {
			adaptive.OnSuccess()
		}
		return resp, nil
	}

	return nil, eris.Wrap(lastErr, "fetch")
}

// backoff waits before the next attempt, stretching to a Retry-After the
// server sent with err, up to maxRetryWait.
func (f *HTTPFetcher) backoff(ctx context.Context, attempt int, err error) {
	d := resilience.Delay(attempt, err, resilience.RetryConfig{
		InitialBackoff: f.opts.RetryBackoff,
		MaxBackoff:     maxRetryWait,
		JitterFraction: 0.25,
	})
	_ = resilience.Sleep(ctx, d)
}

const maxRetryWait = 10 * time.Second
