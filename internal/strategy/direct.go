package strategy

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/digest-cli/internal/extract"
	"github.com/sells-group/digest-cli/internal/fetcher"
	"github.com/sells-group/digest-cli/internal/model"
)

// DefaultEDGARUserAgent identifies the client to SEC EDGAR, which rejects
// requests without a contact address.
const DefaultEDGARUserAgent = "digest-cli research@example.com"

// DirectFetch performs a plain GET and extracts the article from the HTML.
type DirectFetch struct {
	fetcher   fetcher.Fetcher
	extractor *extract.Extractor
	edgarUA   string
}

// DirectOption configures a DirectFetch.
type DirectOption func(*DirectFetch)

// WithEDGARUserAgent sets the User-Agent sent for SEC filings.
func WithEDGARUserAgent(ua string) DirectOption {
	return func(d *DirectFetch) {
		if ua != "" {
			d.edgarUA = ua
		}
	}
}

// NewDirectFetch creates the direct_fetch strategy.
func NewDirectFetch(f fetcher.Fetcher, opts ...DirectOption) *DirectFetch {
	d := &DirectFetch{
		fetcher:   f,
		extractor: extract.Default(),
		edgarUA:   DefaultEDGARUserAgent,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name implements Strategy.
func (d *DirectFetch) Name() string { return NameDirectFetch }

// Attempt implements Strategy.
func (d *DirectFetch) Attempt(ctx context.Context, req Request) Outcome {
	var opts []fetcher.RequestOption
	if req.Classification == model.ClassSECFiling {
		opts = append(opts, fetcher.WithUserAgent(d.edgarUA))
	} else {
		opts = append(opts, fetcher.WithHeader("Referer", "https://www.google.com/"))
	}

	page, err := d.fetcher.Get(ctx, req.URL, opts...)
	if err != nil {
		return FromError(ctx, "fetch", err)
	}

	if blocked, bt := DetectBlock(page.StatusCode, page.Header, page.Body); blocked {
		zap.L().Debug("direct_fetch: blocked",
			zap.String("url", req.URL),
			zap.Int("status", page.StatusCode),
			zap.String("block", string(bt)),
		)
		return Retry("blocked (%s, HTTP %d)", bt, page.StatusCode)
	}
	if !page.OK() {
		return Retry("HTTP %d", page.StatusCode)
	}

	ex, ok := d.extractor.Extract(page.Body, page.FinalURL)
	if !ok {
		return Retry("no readable content")
	}
	if IsPaywallStub(ex.Text) {
		return Retry("paywall teaser")
	}
	return Accept(d.Name(), fromExtracted(req, ex))
}
