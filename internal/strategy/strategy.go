// Package strategy implements the extraction strategies tried by the
// orchestrator. Every strategy turns a URL into validated Content or reports
// why it could not.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/sells-group/digest-cli/internal/extract"
	"github.com/sells-group/digest-cli/internal/model"
)

// Strategy names. These double as circuit breaker keys and
// Content.ExtractionMethod values.
const (
	NameDirectFetch = "direct_fetch"
	NameBrowser     = "browser"
	NameFeed        = "feed"
	NameArchive     = "archive"
	NameSearchCache = "search_cache"
	NameNewsIndex   = "news_index"
	NameSyndication = "syndication"
)

// MinContentLength is the minimum number of characters of trimmed text any
// strategy must produce before it may report success.
const MinContentLength = 100

// Strategy is one technique for turning a URL into article text.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, req Request) Outcome
}

// Request carries everything an attempt needs.
type Request struct {
	URL            string
	Classification model.Classification
	Hint           *model.SiteHint
	TweetID        string
	FeedURL        string
	// Timeout is the budget for this attempt. The orchestrator also
	// enforces it on ctx; adapters use it to size server-side waits.
	Timeout time.Duration
}

// Host returns the lowercased request host.
func (r Request) Host() string {
	return hostOf(r.URL)
}

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	// Success means Content passed validation.
	Success OutcomeKind = iota
	// Retryable means this strategy failed but the next one may work.
	Retryable
	// Aborted stops the whole chain.
	Aborted
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of one attempt.
type Outcome struct {
	Kind    OutcomeKind
	Content *model.Content
	// Failure categorizes non-success outcomes.
	Failure model.FailureKind
	Reason  string
	Err     error
}

// Succeeded wraps validated content.
func Succeeded(c *model.Content) Outcome {
	return Outcome{Kind: Success, Content: c}
}

// Retry reports a rejected attempt.
func Retry(format string, args ...any) Outcome {
	return Outcome{Kind: Retryable, Failure: model.FailureStrategyRejected, Reason: fmt.Sprintf(format, args...)}
}

// Fatal reports a failure that makes every other strategy pointless.
func Fatal(kind model.FailureKind, format string, args ...any) Outcome {
	return Outcome{Kind: Aborted, Failure: kind, Reason: fmt.Sprintf(format, args...)}
}

// TimedOut reports an attempt that ran out of time.
func TimedOut(err error) Outcome {
	return Outcome{Kind: Retryable, Failure: model.FailureStrategyTimeout, Reason: "timed out", Err: err}
}

// FromError maps a transport error to a retryable outcome, separating
// timeouts from other failures.
func FromError(ctx context.Context, op string, err error) Outcome {
	if IsTimeout(ctx, err) {
		return TimedOut(err)
	}
	o := Retry("%s: %v", op, err)
	o.Err = err
	return o
}

// IsTimeout reports whether err, or ctx, indicates a deadline was hit.
func IsTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Validate checks content produced by a strategy. It is the single gate every
// strategy passes before reporting success.
func Validate(c *model.Content) error {
	if c == nil {
		return errors.New("no content")
	}
	if n := extract.Length(c.Text); n < MinContentLength {
		return fmt.Errorf("content too short (%d < %d chars)", n, MinContentLength)
	}
	return nil
}

// Accept stamps the strategy name and word count on c and validates it.
func Accept(name string, c *model.Content) Outcome {
	if err := Validate(c); err != nil {
		return Retry("%s", err.Error())
	}
	c.Text = strings.TrimSpace(c.Text)
	c.ExtractionMethod = name
	if c.WordCount == 0 {
		c.WordCount = len(strings.Fields(c.Text))
	}
	return Succeeded(c)
}

// fromExtracted builds Content from an extraction result.
func fromExtracted(req Request, ex *extract.Extracted) *model.Content {
	return &model.Content{
		URL:            req.URL,
		Classification: req.Classification,
		Title:          ex.Title,
		Author:         ex.Author,
		PublishedAt:    ex.PublishedAt,
		SiteName:       ex.SiteName,
		Text:           ex.Text,
		WordCount:      ex.WordCount,
	}
}

// truncate shortens s to n runes for failure reasons.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
