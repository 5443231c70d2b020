// Package anthropic wraps the Messages API of the official SDK behind a small
// interface the summarizer can fake.
package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/digest-cli/internal/resilience"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Client defines the Anthropic API operations used by the summarizer.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is one Messages API call.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      []SystemBlock
	Messages    []Message
	Temperature *float64
	// Prefill starts the assistant turn. It is sent as a trailing assistant
	// message and put back in front of the returned text.
	Prefill string
}

// SystemBlock is a system prompt block, optionally a cache breakpoint.
type SystemBlock struct {
	Text         string
	CacheControl *CacheControl
}

// CacheControl marks a block as cacheable.
type CacheControl struct {
	TTL string // "" (5m) or "1h"
}

// CachedSystem returns text as one system block carrying a cache
// breakpoint. Only "1h" extends the API's five-minute default; any other
// ttl uses the default.
func CachedSystem(text, ttl string) []SystemBlock {
	cc := &CacheControl{}
	if ttl == "1h" {
		cc.TTL = ttl
	}
	return []SystemBlock{{Text: text, CacheControl: cc}}
}

// Message is a single conversational turn.
type Message struct {
	Role    string
	Content string
}

// MessageResponse is the part of a reply the summarizer reads.
type MessageResponse struct {
	ID         string
	Model      string
	Content    []ContentBlock
	StopReason string
	Usage      TokenUsage
}

// Text concatenates every text block of the response.
func (r *MessageResponse) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" || c.Type == "" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// ContentBlock is one block of a response.
type ContentBlock struct {
	Type string
	Text string
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// Price is the list price of a model family in USD per million tokens.
type Price struct {
	Input  float64
	Output float64
}

// Cache writes bill at a premium over input, cache reads at a discount.
const (
	cacheWriteFactor = 1.25
	cacheReadFactor  = 0.1
)

var familyPrices = []struct {
	prefix string
	price  Price
}{
	{"claude-haiku-4-5", Price{Input: 1.00, Output: 5.00}},
	{"claude-sonnet-4-5", Price{Input: 3.00, Output: 15.00}},
}

// PriceOf looks up a model by family prefix, so dated IDs and aliases
// price the same.
func PriceOf(model string) (Price, bool) {
	for _, f := range familyPrices {
		if strings.HasPrefix(model, f.prefix) {
			return f.price, true
		}
	}
	return Price{}, false
}

// EstimateCost returns the USD cost of u on model, or 0 for unknown models.
func (u TokenUsage) EstimateCost(model string) float64 {
	p, ok := PriceOf(model)
	if !ok {
		return 0
	}
	perToken := func(n int64, rate float64) float64 { return float64(n) / 1e6 * rate }
	return perToken(u.InputTokens, p.Input) +
		perToken(u.OutputTokens, p.Output) +
		perToken(u.CacheCreationInputTokens, p.Input*cacheWriteFactor) +
		perToken(u.CacheReadInputTokens, p.Input*cacheReadFactor)
}

// LogCost logs token usage and estimated cost for one summarized URL.
func (u TokenUsage) LogCost(model, url string) {
	zap.L().Info("summarize cost",
		zap.String("model", model),
		zap.String("url", url),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}

// Option configures the SDK client.
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at a different API host.
func WithBaseURL(u string) Option {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithBaseURL(u))
	}
}

// WithMaxRetries sets the SDK's own retry count. Callers that retry
// themselves should pass 0.
func WithMaxRetries(n int) Option {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithMaxRetries(n))
	}
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates a Client backed by the official SDK.
func NewClient(apiKey string, opts ...Option) Client {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &sdkClient{client: sdk.NewClient(reqOpts...)}
}

// CreateMessage sends req. Rate limits, overload and server errors come
// back as resilience.TransientError carrying the server's Retry-After.
func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	msgs := req.Messages
	if req.Prefill != "" {
		msgs = append(msgs[:len(msgs):len(msgs)], Message{Role: RoleAssistant, Content: req.Prefill})
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toSDKMessages(msgs),
	}
	if len(req.System) > 0 {
		params.System = toSDKSystemBlocks(req.System)
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, apiError(err)
	}

	resp := fromSDKMessage(msg)
	if req.Prefill != "" {
		resp.Content = append([]ContentBlock{{Type: "text", Text: req.Prefill}}, resp.Content...)
	}
	return resp, nil
}

func apiError(err error) error {
	wrapped := eris.Wrap(err, "anthropic: create message")
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return wrapped
	}
	if apiErr.Response != nil {
		return resilience.WrapStatus(wrapped, apiErr.StatusCode, apiErr.Response.Header)
	}
	return resilience.WrapStatus(wrapped, apiErr.StatusCode, nil)
}

// StatusCode returns the HTTP status of an API error, or 0 when err did not
// come from an API response.
func StatusCode(err error) int {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, len(msgs))
	for i, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			out[i] = sdk.NewAssistantMessage(block)
		} else {
			out[i] = sdk.NewUserMessage(block)
		}
	}
	return out
}

func toSDKSystemBlocks(blocks []SystemBlock) []sdk.TextBlockParam {
	out := make([]sdk.TextBlockParam, len(blocks))
	for i, b := range blocks {
		out[i] = sdk.TextBlockParam{Text: b.Text}
		if b.CacheControl == nil {
			continue
		}
		cc := sdk.NewCacheControlEphemeralParam()
		if b.CacheControl.TTL != "" {
			cc.TTL = sdk.CacheControlEphemeralTTL(b.CacheControl.TTL)
		}
		out[i].CacheControl = cc
	}
	return out
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	resp := &MessageResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Content:    make([]ContentBlock, 0, len(msg.Content)),
		Usage: TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		},
	}
	for _, b := range msg.Content {
		resp.Content = append(resp.Content, ContentBlock{Type: b.Type, Text: b.Text})
	}
	return resp
}
