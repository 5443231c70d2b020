package strategy

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/digest-cli/internal/model"
)

func TestMatchScore(t *testing.T) {
	t.Parallel()

	const target = "https://news.example.com/2024/05/city-council-approves-budget"
	tests := []struct {
		name      string
		candidate string
		want      float64
	}{
		{"exact", target, 1.0},
		{"exact after normalize", "https://NEWS.example.com/2024/05/city-council-approves-budget/#top", 1.0},
		{"same path other host", "https://feeds.example.net/2024/05/city-council-approves-budget", 0.9},
		{"unrelated", "https://news.example.com/2024/05/weather-report", 0},
		{"root", "https://news.example.com/", 0},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, matchScore(target, tt.candidate), 0.001)
		})
	}
}

func TestMatchScore_SlugSimilarity(t *testing.T) {
	t.Parallel()
	s := matchScore(
		"https://news.example.com/2024/05/city-council-approves-budget",
		"https://news.example.com/politics/city-council-approve-budget",
	)
	assert.GreaterOrEqual(t, s, 0.8)
	assert.Less(t, s, 1.0)
}

func TestMatchScore_Containment(t *testing.T) {
	t.Parallel()
	s := matchScore(
		"https://news.example.com/budget",
		"https://news.example.com/local/budget/full-story-with-many-extra-words",
	)
	assert.InDelta(t, 0.7, s, 0.001)
}

func TestMatchScore_ShortSlugsDoNotFuzzyMatch(t *testing.T) {
	t.Parallel()
	assert.Zero(t, matchScore("https://a.example/x/abc", "https://a.example/y/abd"))
}

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>Example Times</title>
  <item>
    <title>Weather report</title>
    <link>https://news.example.com/2024/05/weather-report</link>
    <description>Sunny.</description>
  </item>
  <item>
    <title>Council approves budget</title>
    <link>https://news.example.com/2024/05/city-council-approves-budget</link>
    <dc:creator>Jane Reporter</dc:creator>
    <pubDate>Wed, 01 May 2024 10:00:00 +0000</pubDate>
    <description>Short teaser.</description>
    <content:encoded><![CDATA[<p>` + articleBody + `</p>]]></content:encoded>
  </item>
</channel>
</rss>`

const atomFeed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Example Blog</title>
  <entry>
    <title>Council approves budget</title>
    <link rel="alternate" href="https://news.example.com/2024/05/city-council-approves-budget"/>
    <id>tag:example.com,2024:1</id>
    <author><name>Sam Writer</name></author>
    <published>2024-05-01T10:00:00Z</published>
    <content type="html">&lt;p&gt;` + articleBody + `&lt;/p&gt;</content>
  </entry>
</feed>`

func TestFeed_RSS(t *testing.T) {
	t.Parallel()
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssFeed))
	})

	f := NewFeed(testFetcher(), 0)
	o := f.Attempt(context.Background(), Request{
		URL:     "https://news.example.com/2024/05/city-council-approves-budget",
		FeedURL: srv.URL + "/feed",
	})

	require.Equal(t, Success, o.Kind, o.Reason)
	assert.Equal(t, NameFeed, o.Content.ExtractionMethod)
	assert.Equal(t, "Council approves budget", o.Content.Title)
	assert.Equal(t, "Jane Reporter", o.Content.Author)
	assert.Contains(t, o.Content.Text, "extend the program")
	require.NotNil(t, o.Content.PublishedAt)
	assert.Equal(t, 2024, o.Content.PublishedAt.Year())
}

func TestFeed_AtomFromHint(t *testing.T) {
	t.Parallel()
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(atomFeed))
	})

	o := NewFeed(testFetcher(), 0).Attempt(context.Background(), Request{
		URL:  "https://news.example.com/2024/05/city-council-approves-budget",
		Hint: &model.SiteHint{Pattern: "example.com", FeedURL: srv.URL},
	})

	require.Equal(t, Success, o.Kind, o.Reason)
	assert.Equal(t, "Sam Writer", o.Content.Author)
	assert.Contains(t, o.Content.Text, "extend the program")
}

func TestFeed_NoMatch(t *testing.T) {
	t.Parallel()
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(rssFeed))
	})

	o := NewFeed(testFetcher(), 0).Attempt(context.Background(), Request{
		URL:     "https://news.example.com/2024/05/election-night-results",
		FeedURL: srv.URL,
	})
	assert.Equal(t, Retryable, o.Kind)
	assert.Contains(t, o.Reason, "no feed entry matched")
}

func TestFeed_TeaserOnlyIsRejected(t *testing.T) {
	t.Parallel()
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(rssFeed))
	})

	o := NewFeed(testFetcher(), 0).Attempt(context.Background(), Request{
		URL:     "https://news.example.com/2024/05/weather-report",
		FeedURL: srv.URL,
	})
	assert.Equal(t, Retryable, o.Kind)
	assert.Contains(t, o.Reason, "too short")
}

func TestFeed_NoFeedConfigured(t *testing.T) {
	t.Parallel()
	o := NewFeed(testFetcher(), 0).Attempt(context.Background(), Request{URL: "https://news.example.com/a"})
	assert.Equal(t, Retryable, o.Kind)
	assert.Contains(t, o.Reason, "no feed")
}

func TestFeed_HTTPError(t *testing.T) {
	t.Parallel()
	srv := newServer(t, htmlHandler(http.StatusNotFound, "missing"))
	o := NewFeed(testFetcher(), 0).Attempt(context.Background(), Request{URL: "https://news.example.com/a", FeedURL: srv.URL})
	assert.Equal(t, Retryable, o.Kind)
	assert.Contains(t, o.Reason, "404")
}
