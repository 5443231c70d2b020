package strategy

import (
	"bytes"
	"context"
	"strings"

	"github.com/sells-group/digest-cli/internal/classify"
	"github.com/sells-group/digest-cli/internal/fetcher"
)

// feedEntry is an RSS 2.0 <item> or an Atom 1.0 <entry>.
type feedEntry struct {
	Title          string     `xml:"title"`
	Links          []feedLink `xml:"link"`
	GUID           string     `xml:"guid"`
	ID             string     `xml:"id"`
	Description    string     `xml:"description"`
	ContentEncoded string     `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	Content        string     `xml:"content"`
	Summary        string     `xml:"summary"`
	Creator        string     `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Author         feedAuthor `xml:"author"`
	PubDate        string     `xml:"pubDate"`
	Published      string     `xml:"published"`
	Updated        string     `xml:"updated"`
}

// feedLink covers RSS <link>url</link> and Atom <link href rel/>.
type feedLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Text string `xml:",chardata"`
}

type feedAuthor struct {
	Name string `xml:"name"`
	Text string `xml:",chardata"`
}

// URL returns the entry's article link.
func (e feedEntry) URL() string {
	for _, l := range e.Links {
		if t := strings.TrimSpace(l.Text); t != "" {
			return t
		}
		if l.Href != "" && (l.Rel == "" || l.Rel == "alternate") {
			return strings.TrimSpace(l.Href)
		}
	}
	for _, id := range []string{e.GUID, e.ID} {
		if classify.IsValid(id) {
			return strings.TrimSpace(id)
		}
	}
	return ""
}

// Body returns the richest HTML body the entry carries.
func (e feedEntry) Body() string {
	for _, s := range []string{e.ContentEncoded, e.Content, e.Description, e.Summary} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// AuthorName returns the first non-empty author field.
func (e feedEntry) AuthorName() string {
	for _, s := range []string{e.Creator, e.Author.Name, e.Author.Text} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Date returns the first non-empty date field.
func (e feedEntry) Date() string {
	for _, s := range []string{e.PubDate, e.Published, e.Updated} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// maxFeedEntries bounds how much of a long feed is scored.
const maxFeedEntries = 500

// parseFeed reads the items or entries of an RSS or Atom document. A feed
// that breaks partway still yields the entries before the break.
func parseFeed(ctx context.Context, body []byte) ([]feedEntry, error) {
	entries, err := fetcher.DecodeElements[feedEntry](ctx, bytes.NewReader(body), maxFeedEntries, "item", "entry")
	if err != nil && len(entries) == 0 {
		return nil, err
	}
	return entries, nil
}
