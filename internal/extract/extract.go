// Package extract turns an HTML page into article text and metadata.
package extract

import (
	"bytes"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// Extracted is the readable text and metadata pulled from one page.
type Extracted struct {
	Title       string
	Author      string
	SiteName    string
	PublishedAt *time.Time
	Text        string
	WordCount   int
}

// chrome is removed before the content container is chosen.
const chrome = "script, style, noscript, template, svg, nav, footer, header, aside, form, iframe, button, " +
	"[role=navigation], [role=banner], [role=contentinfo], [aria-hidden=true], .share, .social, .newsletter, .advert, .ad"

var (
	blankLines    = regexp.MustCompile(`\n{3,}`)
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
)

// Extractor converts HTML to article text. It is safe for concurrent use.
type Extractor struct {
	conv   *converter.Converter
	policy *bluemonday.Policy
}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

var (
	defaultOnce sync.Once
	defaultExt  *Extractor
)

// Default returns a process-wide Extractor.
func Default() *Extractor {
	defaultOnce.Do(func() { defaultExt = New() })
	return defaultExt
}

// Extract parses a full HTML document. It returns false when the page holds
// no readable text.
func (e *Extractor) Extract(html []byte, pageURL string) (*Extracted, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, false
	}

	out := &Extracted{
		Title:       title(doc),
		Author:      author(doc),
		SiteName:    metaContent(doc, `meta[property="og:site_name"]`),
		PublishedAt: published(doc),
	}

	doc.Find(chrome).Remove()
	container := pickContainer(doc)
	inner, err := container.Html()
	if err != nil {
		return nil, false
	}

	out.Text = e.Fragment(inner, pageURL)
	if out.Text == "" {
		return nil, false
	}
	out.WordCount = len(strings.Fields(out.Text))
	return out, true
}

// Fragment sanitizes an HTML fragment and renders it as markdown text.
// Plain text passes through unchanged apart from whitespace cleanup.
func (e *Extractor) Fragment(fragment, pageURL string) string {
	clean := e.policy.Sanitize(fragment)
	if strings.TrimSpace(clean) == "" {
		return ""
	}
	md, err := e.conv.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil || strings.TrimSpace(md) == "" {
		d, derr := goquery.NewDocumentFromReader(strings.NewReader(clean))
		if derr != nil {
			return ""
		}
		md = d.Text()
	}
	return Clean(md)
}

// Clean normalizes line endings and collapses runs of blank lines.
func Clean(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = trailingSpace.ReplaceAllString(s, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Length returns the number of characters in s after trimming.
func Length(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

func pickContainer(doc *goquery.Document) *goquery.Selection {
	for _, sel := range []string{"article", "main", "[role=main]"} {
		if s := doc.Find(sel).First(); s.Length() > 0 && textLen(s) > 0 {
			return s
		}
	}

	// Densest block: the div or section with the most paragraph text
	// directly under it.
	var best *goquery.Selection
	bestScore := 0
	doc.Find("div, section").Each(func(_ int, s *goquery.Selection) {
		score := 0
		s.ChildrenFiltered("p").Each(func(_ int, p *goquery.Selection) {
			score += textLen(p)
		})
		if score > bestScore {
			best, bestScore = s, score
		}
	})
	if best != nil {
		return best
	}

	if body := doc.Find("body"); body.Length() > 0 {
		return body
	}
	return doc.Selection
}

func textLen(s *goquery.Selection) int {
	return utf8.RuneCountInString(strings.TrimSpace(s.Text()))
}

func title(doc *goquery.Document) string {
	if t := metaContent(doc, `meta[property="og:title"]`); t != "" {
		return t
	}
	if t := metaContent(doc, `meta[name="twitter:title"]`); t != "" {
		return t
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func author(doc *goquery.Document) string {
	for _, sel := range []string{
		`meta[name="author"]`,
		`meta[property="article:author"]`,
		`meta[name="twitter:creator"]`,
	} {
		if a := metaContent(doc, sel); a != "" {
			return a
		}
	}
	return strings.TrimSpace(doc.Find(`[rel="author"]`).First().Text())
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

func published(doc *goquery.Document) *time.Time {
	candidates := []string{
		metaContent(doc, `meta[property="article:published_time"]`),
		metaContent(doc, `meta[name="date"]`),
		metaContent(doc, `meta[itemprop="datePublished"]`),
	}
	if dt, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		candidates = append(candidates, dt)
	}
	for _, c := range candidates {
		if t, ok := ParseDate(c); ok {
			return &t
		}
	}
	return nil
}

// ParseDate parses the date formats commonly found in page metadata and
// feeds.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(v)
}
