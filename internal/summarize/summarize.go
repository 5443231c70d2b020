// Package summarize turns extracted content into a structured summary with a
// single LLM call.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/digest-cli/internal/model"
	"github.com/sells-group/digest-cli/internal/resilience"
	"github.com/sells-group/digest-cli/pkg/anthropic"
)

// ErrSummarization marks every failure returned by Summarize.
var ErrSummarization = eris.New("summarization failed")

// Defaults.
const (
	DefaultModel             = "claude-haiku-4-5-20251001"
	DefaultMaxTokens         = 1024
	DefaultMaxInputChars     = 24000
	DefaultRequestsPerMinute = 5
)

const systemPrompt = `You summarize articles for a research digest.
Respond with a single JSON object and nothing else, using exactly these keys:
  "headline":   one line, at most 15 words
  "summary":    2 to 4 sentences in plain prose
  "key_points": 3 to 6 short strings
  "sentiment":  one of "positive", "negative", "neutral", "mixed"
  "topics":     up to 5 lowercase topic tags
Use only facts stated in the article. Do not add commentary.`

var sentiments = map[string]bool{"positive": true, "negative": true, "neutral": true, "mixed": true}

// Config controls the summarizer.
type Config struct {
	Model         string
	MaxTokens     int64
	MaxInputChars int
	// RequestsPerMinute sizes the token bucket shared by all callers.
	RequestsPerMinute int
	Retry             resilience.RetryConfig
	// CacheTTL sets the system prompt cache breakpoint ("5m" or "1h").
	CacheTTL string
}

// Summarizer calls the Messages API. It is safe for concurrent use; the
// limiter serializes calls across goroutines.
type Summarizer struct {
	client  anthropic.Client
	cfg     Config
	limiter *rate.Limiter
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithLimiter replaces the default per-minute limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *Summarizer) { s.limiter = l }
}

// New creates a Summarizer.
func New(client anthropic.Client, cfg Config, opts ...Option) *Summarizer {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxInputChars
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("anthropic", "summarize")
	}

	s := &Summarizer{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Summarize produces a structured summary of c.
func (s *Summarizer) Summarize(ctx context.Context, c *model.Content) (*model.Summary, error) {
	if c == nil || strings.TrimSpace(c.Text) == "" {
		return nil, eris.Wrap(ErrSummarization, "no content to summarize")
	}

	req := anthropic.MessageRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		System:    anthropic.CachedSystem(systemPrompt, s.cfg.CacheTTL),
		Messages:  []anthropic.Message{{Role: anthropic.RoleUser, Content: s.prompt(c)}},
		Prefill:   "{",
	}

	resp, err := resilience.DoVal(ctx, s.cfg.Retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "summarize: rate limiter")
		}
		return s.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrapf(ErrSummarization, "%s: %v", c.URL, err)
	}
	resp.Usage.LogCost(s.cfg.Model, c.URL)

	sum, err := Parse(resp.Text())
	if err != nil {
		zap.L().Warn("summarize: unparseable response",
			zap.String("url", c.URL),
			zap.String("stop_reason", resp.StopReason),
			zap.Error(err),
		)
		return nil, eris.Wrapf(ErrSummarization, "%s: %v", c.URL, err)
	}
	sum.Model = resp.Model
	if sum.Model == "" {
		sum.Model = s.cfg.Model
	}
	return sum, nil
}

func (s *Summarizer) prompt(c *model.Content) string {
	var b strings.Builder
	if c.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", c.Title)
	}
	if c.SiteName != "" {
		fmt.Fprintf(&b, "Source: %s\n", c.SiteName)
	}
	if c.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", c.Author)
	}
	if c.PublishedAt != nil {
		fmt.Fprintf(&b, "Published: %s\n", c.PublishedAt.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "URL: %s\n\n", c.URL)
	b.WriteString(Truncate(c.Text, s.cfg.MaxInputChars))
	return b.String()
}

// Truncate cuts text to at most limit runes, preferring a paragraph or
// sentence boundary in the last fifth of the budget.
func Truncate(text string, limit int) string {
	r := []rune(text)
	if limit <= 0 || len(r) <= limit {
		return text
	}
	cut := string(r[:limit])
	floor := len(cut) * 4 / 5
	if i := strings.LastIndex(cut, "\n\n"); i >= floor {
		cut = cut[:i]
	} else if i := strings.LastIndex(cut, ". "); i >= floor {
		cut = cut[:i+1]
	}
	return strings.TrimSpace(cut) + "\n\n[truncated]"
}

// Parse decodes the model's reply. Markdown fences and prose around the JSON
// object are tolerated.
func Parse(raw string) (*model.Summary, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, eris.New("no JSON object in response")
	}

	var out model.Summary
	if err := json.Unmarshal([]byte(s[start:end+1]), &out); err != nil {
		return nil, eris.Wrap(err, "decode summary")
	}

	out.Headline = strings.TrimSpace(out.Headline)
	out.Summary = strings.TrimSpace(out.Summary)
	if out.Headline == "" && out.Summary == "" {
		return nil, eris.New("summary has neither headline nor summary")
	}
	out.Sentiment = strings.ToLower(strings.TrimSpace(out.Sentiment))
	if !sentiments[out.Sentiment] {
		out.Sentiment = ""
	}
	out.KeyPoints = compact(out.KeyPoints)
	out.Topics = compact(out.Topics)
	for i, t := range out.Topics {
		out.Topics[i] = strings.ToLower(t)
	}
	return &out, nil
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
