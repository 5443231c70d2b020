// Package classify maps URLs to content classifications and normalizes them.
package classify

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/digest-cli/internal/model"
)

// ErrInvalidURL is returned when a URL cannot be normalized into an
// http(s) URL with a host.
var ErrInvalidURL = eris.New("invalid url")

// family is an ordered group of patterns that map to one classification.
type family struct {
	class    model.Classification
	patterns []*regexp.Regexp
}

var tweetPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^https?://([a-z0-9-]+\.)*(twitter|x)\.com/[a-z0-9_]{1,15}/status(?:es)?/(?P<id>\d+)`),
	regexp.MustCompile(`(?i)^https?://([a-z0-9-]+\.)*(twitter|x)\.com/i/web/status/(?P<id>\d+)`),
}

// families are tested in order; the first match wins.
var families = []family{
	{class: model.ClassTweet, patterns: tweetPatterns},
	{class: model.ClassSECFiling, patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)^https?://([a-z0-9-]+\.)*sec\.gov(:\d+)?(/|$|\?)`),
		regexp.MustCompile(`(?i)/Archives/edgar/`),
		regexp.MustCompile(`(?i)^https?://([a-z0-9-]+\.)*13f\.info(/|$)`),
		regexp.MustCompile(`(?i)[/?&=_-]13f(-hr)?([/?&=_.-]|$)`),
	}},
	{class: model.ClassBlog, patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)^https?://([a-z0-9-]+\.)*substack\.com(/|$)`),
		regexp.MustCompile(`(?i)^https?://([a-z0-9-]+\.)*medium\.com(/|$)`),
		regexp.MustCompile(`(?i)^https?://([a-z0-9-]+\.)*ghost\.io(/|$)`),
		regexp.MustCompile(`(?i)^https?://([a-z0-9-]+\.)*wordpress\.com(/|$)`),
		regexp.MustCompile(`(?i)^https?://([a-z0-9-]+\.)*blogspot\.[a-z.]+(/|$)`),
		regexp.MustCompile(`(?i)^https?://[^/]+/([^?#]*/)?blog(/|$|\?)`),
	}},
}

// newsDomains are known general news publishers. Subdomains match too.
var newsDomains = []string{
	"apnews.com",
	"arstechnica.com",
	"axios.com",
	"bbc.co.uk",
	"bbc.com",
	"bloomberg.com",
	"cnbc.com",
	"cnn.com",
	"economist.com",
	"ft.com",
	"theguardian.com",
	"nytimes.com",
	"politico.com",
	"reuters.com",
	"techcrunch.com",
	"theverge.com",
	"washingtonpost.com",
	"wired.com",
	"wsj.com",
}

// Classify returns the classification for a URL. It never performs I/O and
// always returns the same answer for the same input.
func Classify(rawURL string) model.Classification {
	c, _ := Explain(rawURL)
	return c
}

// Explain is like Classify but also names the rule that matched: the
// pattern family, "news_domain", or "default".
func Explain(rawURL string) (model.Classification, string) {
	target := rawURL
	if n, err := Normalize(rawURL); err == nil {
		target = n
	}

	for _, f := range families {
		for _, re := range f.patterns {
			if re.MatchString(target) {
				return f.class, string(f.class)
			}
		}
	}

	if IsNewsDomain(Host(target)) {
		return model.ClassGenericArticle, "news_domain"
	}
	return model.ClassGenericArticle, "default"
}

// IsNewsDomain reports whether host belongs to the curated news domain set.
func IsNewsDomain(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	for _, d := range newsDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// TweetID extracts the numeric status ID from a tweet URL.
func TweetID(rawURL string) (string, bool) {
	target := rawURL
	if n, err := Normalize(rawURL); err == nil {
		target = n
	}
	for _, re := range tweetPatterns {
		m := re.FindStringSubmatch(target)
		if m == nil {
			continue
		}
		if id := m[re.SubexpIndex("id")]; id != "" {
			return id, true
		}
	}
	return "", false
}

// Host returns the lowercased hostname of a URL without port, or "" if the
// URL cannot be parsed.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
