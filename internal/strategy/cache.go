package strategy

import (
	"context"
	"net/url"
	"strings"

	"github.com/sells-group/digest-cli/internal/extract"
	"github.com/sells-group/digest-cli/internal/fetcher"
)

// DefaultCacheEndpoint is the search-engine cache lookup URL. The target
// URL is appended query-escaped.
const DefaultCacheEndpoint = "https://webcache.googleusercontent.com/search?q=cache:"

// cacheErrorPhrases mark interstitial and error pages served by the cache
// service instead of a cached copy.
var cacheErrorPhrases = []string{
	"did not match any documents",
	"your search -",
	"the requested url",
	"was not found on this server",
	"that's an error",
	"our systems have detected unusual traffic",
	"please click here if you are not redirected",
	"if you're having trouble accessing google search",
	"before you continue to google",
}

// SearchCache reads the search engine's cached rendering of the URL.
type SearchCache struct {
	fetcher   fetcher.Fetcher
	endpoint  string
	cacheHost string
	extractor *extract.Extractor
}

// NewSearchCache creates the search_cache strategy. An empty endpoint uses
// DefaultCacheEndpoint.
func NewSearchCache(f fetcher.Fetcher, endpoint string) *SearchCache {
	if endpoint == "" {
		endpoint = DefaultCacheEndpoint
	}
	return &SearchCache{
		fetcher:   f,
		endpoint:  endpoint,
		cacheHost: hostOf(endpoint),
		extractor: extract.Default(),
	}
}

// Name implements Strategy.
func (s *SearchCache) Name() string { return NameSearchCache }

// Attempt implements Strategy.
func (s *SearchCache) Attempt(ctx context.Context, req Request) Outcome {
	page, err := s.fetcher.Get(ctx, s.endpoint+url.QueryEscape(req.URL))
	if err != nil {
		return FromError(ctx, "fetch cache", err)
	}
	if !page.OK() {
		return Retry("cache HTTP %d", page.StatusCode)
	}

	// A redirect off the cache host means there was no cached copy.
	if h := hostOf(page.FinalURL); h != s.cacheHost {
		return Retry("redirected away from cache to %s", h)
	}
	if blocked, bt := DetectBlock(page.StatusCode, page.Header, page.Body); blocked {
		return Retry("cache blocked (%s)", bt)
	}
	if hasCacheError(page.Body) {
		return Retry("cache error page")
	}

	ex, ok := s.extractor.Extract(page.Body, req.URL)
	if !ok {
		return Retry("cached copy has no readable content")
	}
	return Accept(s.Name(), fromExtracted(req, ex))
}

// hasCacheError checks the top of the page, where the cache service puts
// its own banner or error text.
func hasCacheError(body []byte) bool {
	head := body
	if len(head) > 16<<10 {
		head = head[:16<<10]
	}
	return containsAny(strings.ToLower(string(head)), cacheErrorPhrases)
}
