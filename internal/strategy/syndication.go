package strategy

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sells-group/digest-cli/internal/extract"
	"github.com/sells-group/digest-cli/internal/fetcher"
	"github.com/sells-group/digest-cli/internal/model"
)

// DefaultSyndicationURL is the public tweet embed endpoint.
const DefaultSyndicationURL = "https://cdn.syndication.twimg.com/tweet-result"

type tweetUser struct {
	Name       string `json:"name"`
	ScreenName string `json:"screen_name"`
}

type tweetURL struct {
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url"`
}

type tweetResult struct {
	TypeName  string    `json:"__typename"`
	IDStr     string    `json:"id_str"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"created_at"`
	User      tweetUser `json:"user"`
	Entities  struct {
		URLs []tweetURL `json:"urls"`
	} `json:"entities"`
	NoteTweet *struct {
		Text string `json:"text"`
	} `json:"note_tweet"`
	QuotedTweet *struct {
		Text string    `json:"text"`
		User tweetUser `json:"user"`
	} `json:"quoted_tweet"`
}

// Syndication reads a tweet from the embed syndication endpoint.
type Syndication struct {
	fetcher  fetcher.Fetcher
	endpoint string
}

// NewSyndication creates the syndication strategy. An empty endpoint uses
// DefaultSyndicationURL.
func NewSyndication(f fetcher.Fetcher, endpoint string) *Syndication {
	if endpoint == "" {
		endpoint = DefaultSyndicationURL
	}
	return &Syndication{fetcher: f, endpoint: endpoint}
}

// Name implements Strategy.
func (s *Syndication) Name() string { return NameSyndication }

// Attempt implements Strategy.
func (s *Syndication) Attempt(ctx context.Context, req Request) Outcome {
	if req.TweetID == "" {
		return Retry("no tweet id")
	}

	q := url.Values{}
	q.Set("id", req.TweetID)
	q.Set("token", syndicationToken(req.TweetID))
	q.Set("lang", "en")

	page, err := s.fetcher.Get(ctx, s.endpoint+"?"+q.Encode(), fetcher.WithHeader("Accept", "application/json"))
	if err != nil {
		return FromError(ctx, "syndication", err)
	}
	if page.StatusCode == http.StatusNotFound {
		return Retry("tweet not found")
	}
	if !page.OK() {
		return Retry("syndication HTTP %d", page.StatusCode)
	}

	tw, err := fetcher.DecodeJSON[tweetResult](page)
	if err != nil {
		return Retry("syndication: %v", err)
	}
	if tw.TypeName == "TweetTombstone" {
		return Retry("tweet unavailable")
	}
	return Accept(s.Name(), tweetContent(req, tw))
}

func tweetContent(req Request, tw *tweetResult) *model.Content {
	text := tw.Text
	if tw.NoteTweet != nil && strings.TrimSpace(tw.NoteTweet.Text) != "" {
		text = tw.NoteTweet.Text
	}
	for _, u := range tw.Entities.URLs {
		if u.URL != "" && u.ExpandedURL != "" {
			text = strings.ReplaceAll(text, u.URL, u.ExpandedURL)
		}
	}
	if tw.QuotedTweet != nil && tw.QuotedTweet.Text != "" {
		text += fmt.Sprintf("\n\nQuoting @%s: %s", tw.QuotedTweet.User.ScreenName, tw.QuotedTweet.Text)
	}

	author := tw.User.Name
	if tw.User.ScreenName != "" {
		author = fmt.Sprintf("%s (@%s)", tw.User.Name, tw.User.ScreenName)
	}
	c := &model.Content{
		URL:            req.URL,
		Classification: req.Classification,
		Title:          strings.TrimSpace(author + " on X"),
		Author:         author,
		SiteName:       "X",
		Text:           extract.Clean(text),
	}
	if t, ok := extract.ParseDate(tw.CreatedAt); ok {
		c.PublishedAt = &t
	}
	return c
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// syndicationToken derives the token the embed endpoint expects:
// (id / 1e15 * pi) written in base 36 with zeros and the point removed.
func syndicationToken(id string) string {
	n, err := strconv.ParseFloat(id, 64)
	if err != nil || n <= 0 {
		return "a"
	}
	v := n / 1e15 * math.Pi
	whole := math.Floor(v)
	frac := v - whole

	var b strings.Builder
	b.WriteString(strconv.FormatInt(int64(whole), 36))
	for i := 0; i < 11 && frac > 0; i++ {
		frac *= 36
		d := int(frac)
		b.WriteByte(base36[d])
		frac -= float64(d)
	}
	tok := strings.ReplaceAll(b.String(), "0", "")
	if tok == "" {
		return "a"
	}
	return tok
}
