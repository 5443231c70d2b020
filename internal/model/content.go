package model

import "time"

// Classification is the content-type tag derived from a URL.
type Classification string

const (
	ClassTweet          Classification = "tweet"
	ClassSECFiling      Classification = "sec_filing"
	ClassBlog           Classification = "blog"
	ClassGenericArticle Classification = "generic_article"
)

// AllClassifications returns every classification in precedence order.
func AllClassifications() []Classification {
	return []Classification{
		ClassTweet,
		ClassSECFiling,
		ClassBlog,
		ClassGenericArticle,
	}
}

// SiteHint is static reference data about a domain that is known to be
// difficult to extract from.
type SiteHint struct {
	Pattern       string  `yaml:"pattern" json:"pattern"`
	Issue         string  `yaml:"issue" json:"issue,omitempty"`
	FeedURL       string  `yaml:"feed_url" json:"feed_url,omitempty"`
	PreferBrowser bool    `yaml:"prefer_browser" json:"prefer_browser"`
	Paywalled     bool    `yaml:"paywalled" json:"paywalled"`
	// RatePerSec caps requests to the domain when positive.
	RatePerSec    float64 `yaml:"rate_per_sec" json:"rate_per_sec,omitempty"`
}

// Content is the extracted, validated article text for one URL.
type Content struct {
	URL              string         `json:"url"`
	Classification   Classification `json:"classification"`
	Title            string         `json:"title"`
	Author           string         `json:"author,omitempty"`
	PublishedAt      *time.Time     `json:"published_at,omitempty"`
	SiteName         string         `json:"site_name,omitempty"`
	Text             string         `json:"text"`
	WordCount        int            `json:"word_count"`
	ExtractionMethod string         `json:"extraction_method"`
	FallbackUsed     bool           `json:"fallback_used"`
}
