package strategy

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/sells-group/digest-cli/internal/model"
	"github.com/sells-group/digest-cli/pkg/newsapi"
)

var (
	// providerTruncation is NewsAPI's "[+1234 chars]" suffix.
	providerTruncation = regexp.MustCompile(`\s*\[\+\d+ chars\]\s*$`)
	trailingEllipsis   = regexp.MustCompile(`\s*(…|\.\.\.)\s*$`)
)

// NewsIndex looks the article up in a paid news metadata index and returns
// the description and lead the index carries.
type NewsIndex struct {
	client newsapi.Client
}

// NewNewsIndex creates the news_index strategy.
func NewNewsIndex(client newsapi.Client) *NewsIndex {
	return &NewsIndex{client: client}
}

// Name implements Strategy.
func (n *NewsIndex) Name() string { return NameNewsIndex }

// Attempt implements Strategy.
func (n *NewsIndex) Attempt(ctx context.Context, req Request) Outcome {
	terms := slugTerms(req.URL)
	if terms == "" {
		return Retry("no searchable terms in URL")
	}

	queries := []newsapi.Query{
		{Q: terms, Domains: req.Host(), SortBy: "relevancy", PageSize: 20},
		{QInTitle: terms, SortBy: "relevancy", PageSize: 20},
	}
	for _, q := range queries {
		resp, err := n.client.Everything(ctx, q)
		if err != nil {
			return FromError(ctx, "news index", err)
		}
		if a, ok := pickArticle(req.URL, resp.Articles); ok {
			return Accept(n.Name(), articleContent(req, a))
		}
	}
	return Retry("article not in news index")
}

func pickArticle(target string, articles []newsapi.Article) (newsapi.Article, bool) {
	var best newsapi.Article
	bestScore := 0.0
	for _, a := range articles {
		if s := matchScore(target, a.URL); s > bestScore {
			best, bestScore = a, s
		}
	}
	return best, bestScore >= DefaultFeedMinScore
}

func articleContent(req Request, a newsapi.Article) *model.Content {
	parts := make([]string, 0, 2)
	desc := StripTruncation(a.Description)
	if desc != "" {
		parts = append(parts, desc)
	}
	if body := StripTruncation(a.Content); body != "" && !strings.HasPrefix(desc, body) {
		parts = append(parts, body)
	}
	c := &model.Content{
		URL:            req.URL,
		Classification: req.Classification,
		Title:          strings.TrimSpace(a.Title),
		Author:         strings.TrimSpace(a.Author),
		SiteName:       a.Source.Name,
		Text:           strings.Join(parts, "\n\n"),
	}
	if !a.PublishedAt.IsZero() {
		t := a.PublishedAt.UTC()
		c.PublishedAt = &t
	}
	return c
}

// StripTruncation removes provider truncation markers from index text.
func StripTruncation(s string) string {
	s = strings.TrimSpace(s)
	s = providerTruncation.ReplaceAllString(s, "")
	s = trailingEllipsis.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// slugTerms turns the URL's last path segment into search words.
func slugTerms(rawURL string) string {
	s := slug(pathOf(rawURL))
	words := strings.FieldsFunc(s, func(r rune) bool {
		return r == '-' || r == '_' || r == '+' || r == '.'
	})
	var out []string
	for _, w := range words {
		if len(w) < 3 || isDigits(w) {
			continue
		}
		out = append(out, w)
		if len(out) == 8 {
			break
		}
	}
	return strings.Join(out, " ")
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
