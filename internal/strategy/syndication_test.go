package strategy

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/digest-cli/internal/model"
)

const tweetJSON = `{
  "__typename": "Tweet",
  "id_str": "1790000000000000000",
  "text": "We are publishing the full report on grid reliability today. It covers outages, maintenance backlogs, and what regulators asked for next year. Details: https://t.co/abc",
  "created_at": "2024-05-13T15:04:05.000Z",
  "user": {"name": "Grid Watch", "screen_name": "gridwatch"},
  "entities": {"urls": [{"url": "https://t.co/abc", "expanded_url": "https://gridwatch.example/report"}]}
}`

func TestSyndication_Tweet(t *testing.T) {
	t.Parallel()
	var gotID, gotToken string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotID = r.URL.Query().Get("id")
		gotToken = r.URL.Query().Get("token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(tweetJSON))
	})

	s := NewSyndication(testFetcher(), srv.URL+"/tweet-result")
	o := s.Attempt(context.Background(), Request{
		URL:            "https://x.com/gridwatch/status/1790000000000000000",
		Classification: model.ClassTweet,
		TweetID:        "1790000000000000000",
	})

	require.Equal(t, Success, o.Kind, o.Reason)
	assert.Equal(t, NameSyndication, o.Content.ExtractionMethod)
	assert.Equal(t, "Grid Watch (@gridwatch)", o.Content.Author)
	assert.Contains(t, o.Content.Text, "https://gridwatch.example/report")
	assert.NotContains(t, o.Content.Text, "t.co")
	require.NotNil(t, o.Content.PublishedAt)
	assert.Equal(t, "1790000000000000000", gotID)
	assert.NotEmpty(t, gotToken)
	assert.NotContains(t, gotToken, "0")
	assert.NotContains(t, gotToken, ".")
}

func TestSyndication_ShortTweetFallsThrough(t *testing.T) {
	t.Parallel()
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"__typename":"Tweet","text":"gm","user":{"name":"A","screen_name":"a"}}`))
	})

	o := NewSyndication(testFetcher(), srv.URL).Attempt(context.Background(), Request{TweetID: "1"})
	assert.Equal(t, Retryable, o.Kind)
	assert.Contains(t, o.Reason, "too short")
}

func TestSyndication_Tombstone(t *testing.T) {
	t.Parallel()
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"__typename":"TweetTombstone"}`))
	})
	o := NewSyndication(testFetcher(), srv.URL).Attempt(context.Background(), Request{TweetID: "1"})
	assert.Equal(t, Retryable, o.Kind)
	assert.Contains(t, o.Reason, "unavailable")
}

func TestSyndication_NotFoundAndBadJSON(t *testing.T) {
	t.Parallel()
	nf := newServer(t, htmlHandler(http.StatusNotFound, ""))
	o := NewSyndication(testFetcher(), nf.URL).Attempt(context.Background(), Request{TweetID: "1"})
	assert.Contains(t, o.Reason, "not found")

	bad := newServer(t, htmlHandler(http.StatusOK, "<html>"))
	o = NewSyndication(testFetcher(), bad.URL).Attempt(context.Background(), Request{TweetID: "1"})
	assert.Equal(t, Retryable, o.Kind)
	assert.Contains(t, o.Reason, "syndication")
}

func TestSyndication_NoTweetID(t *testing.T) {
	t.Parallel()
	o := NewSyndication(testFetcher(), "").Attempt(context.Background(), Request{URL: "https://x.com/a"})
	assert.Equal(t, Retryable, o.Kind)
}

func TestSyndicationToken(t *testing.T) {
	t.Parallel()
	tok := syndicationToken("1790000000000000000")
	assert.NotEmpty(t, tok)
	assert.Equal(t, tok, syndicationToken("1790000000000000000"))
	assert.NotEqual(t, tok, syndicationToken("1790000000000000001000"))
	assert.Equal(t, "a", syndicationToken("not-a-number"))
}
