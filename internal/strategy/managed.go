package strategy

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/digest-cli/pkg/firecrawl"
	"github.com/sells-group/digest-cli/pkg/jina"
)

// staticSession is a single capture from a managed rendering API.
type staticSession struct {
	snap *Snapshot
}

func (s staticSession) Snapshot(context.Context) (*Snapshot, error) { return s.snap, nil }
func (s staticSession) Live() bool                                  { return false }
func (s staticSession) Close() error                                { return nil }

// FirecrawlRenderer renders pages with the Firecrawl scrape API.
type FirecrawlRenderer struct {
	client  firecrawl.Client
	waitFor time.Duration
	timeout time.Duration
}

// NewFirecrawlRenderer creates a FirecrawlRenderer. waitFor is extra settle
// time after load; timeout is the server-side budget.
func NewFirecrawlRenderer(client firecrawl.Client, waitFor, timeout time.Duration) *FirecrawlRenderer {
	return &FirecrawlRenderer{client: client, waitFor: waitFor, timeout: timeout}
}

// Name implements Renderer.
func (f *FirecrawlRenderer) Name() string { return "firecrawl" }

// Open implements Renderer.
func (f *FirecrawlRenderer) Open(ctx context.Context, rawURL string) (Session, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:             rawURL,
		Formats:         []string{"html", "markdown"},
		OnlyMainContent: true,
		WaitFor:         int(f.waitFor.Milliseconds()),
		Timeout:         int(f.timeout.Milliseconds()),
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, eris.Errorf("firecrawl: scrape not successful: %s", resp.Error)
	}
	md := resp.Data.Metadata
	finalURL := md.URL
	if finalURL == "" {
		finalURL = md.SourceURL
	}
	return staticSession{snap: &Snapshot{
		Title:      md.Title,
		HTML:       resp.Data.HTML,
		Text:       resp.Data.Markdown,
		FinalURL:   finalURL,
		StatusCode: md.StatusCode,
		SiteName:   md.OGSiteName,
		Published:  md.PublishedTime,
	}}, nil
}

// JinaRenderer renders pages with the Jina reader API. It returns
// markdown only, so extraction uses the text directly.
type JinaRenderer struct {
	client  jina.Client
	timeout time.Duration
}

// NewJinaRenderer creates a JinaRenderer.
func NewJinaRenderer(client jina.Client, timeout time.Duration) *JinaRenderer {
	return &JinaRenderer{client: client, timeout: timeout}
}

// Name implements Renderer.
func (j *JinaRenderer) Name() string { return "jina" }

// Open implements Renderer.
func (j *JinaRenderer) Open(ctx context.Context, rawURL string) (Session, error) {
	opts := []jina.ReadOption{jina.WithFormat("markdown")}
	if j.timeout > 0 {
		opts = append(opts, jina.WithTimeout(j.timeout))
	}
	resp, err := j.client.Read(ctx, rawURL, opts...)
	if err != nil {
		return nil, err
	}
	status := resp.Code
	if status == 0 {
		status = http.StatusOK
	}
	return staticSession{snap: &Snapshot{
		Title:      resp.Data.Title,
		Text:       resp.Data.Content,
		FinalURL:   resp.Data.URL,
		StatusCode: status,
		Published:  resp.Data.PublishedTime,
	}}, nil
}
