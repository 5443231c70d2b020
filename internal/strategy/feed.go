package strategy

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/digest-cli/internal/extract"
	"github.com/sells-group/digest-cli/internal/fetcher"
	"github.com/sells-group/digest-cli/internal/model"
)

// DefaultFeedMinScore is the lowest entry match score accepted.
const DefaultFeedMinScore = scoreContainment

// Feed finds the article in the site's RSS or Atom feed and uses the full
// entry body when the publisher includes one.
type Feed struct {
	fetcher   fetcher.Fetcher
	extractor *extract.Extractor
	minScore  float64
}

// NewFeed creates the feed strategy. minScore <= 0 uses DefaultFeedMinScore.
func NewFeed(f fetcher.Fetcher, minScore float64) *Feed {
	if minScore <= 0 {
		minScore = DefaultFeedMinScore
	}
	return &Feed{fetcher: f, extractor: extract.Default(), minScore: minScore}
}

// Name implements Strategy.
func (f *Feed) Name() string { return NameFeed }

// Attempt implements Strategy.
func (f *Feed) Attempt(ctx context.Context, req Request) Outcome {
	feedURL := req.FeedURL
	if feedURL == "" && req.Hint != nil {
		feedURL = req.Hint.FeedURL
	}
	if feedURL == "" {
		return Retry("no feed configured for %s", req.Host())
	}

	page, err := f.fetcher.Get(ctx, feedURL, fetcher.Raw(),
		fetcher.WithHeader("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8"))
	if err != nil {
		return FromError(ctx, "fetch feed", err)
	}
	if !page.OK() {
		return Retry("feed HTTP %d", page.StatusCode)
	}

	entries, err := parseFeed(ctx, page.Body)
	if err != nil {
		return FromError(ctx, "parse feed", err)
	}
	if len(entries) == 0 {
		return Retry("feed has no entries")
	}

	entry, score, ok := bestMatch(req.URL, entries, f.minScore)
	if !ok {
		return Retry("no feed entry matched (best score %.2f < %.2f)", score, f.minScore)
	}
	zap.L().Debug("feed: matched entry",
		zap.String("url", req.URL),
		zap.String("entry", entry.URL()),
		zap.Float64("score", score),
	)

	c := &model.Content{
		URL:            req.URL,
		Classification: req.Classification,
		Title:          strings.TrimSpace(entry.Title),
		Author:         entry.AuthorName(),
		Text:           f.extractor.Fragment(entry.Body(), entry.URL()),
	}
	if t, ok := extract.ParseDate(entry.Date()); ok {
		c.PublishedAt = &t
	}
	return Accept(f.Name(), c)
}
