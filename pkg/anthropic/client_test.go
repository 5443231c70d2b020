package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/digest-cli/internal/resilience"
)

func messageHandler(t *testing.T, capture *map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		if capture != nil {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, capture))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":   "msg_test_001",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": `{"headline":"Hi"}`},
			},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "end_turn",
			"usage": map[string]any{
				"input_tokens":                120,
				"output_tokens":               30,
				"cache_creation_input_tokens": 0,
				"cache_read_input_tokens":     100,
			},
		})
	}
}

func TestCreateMessage(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(messageHandler(t, &body))
	defer ts.Close()

	temp := 0.2
	client := NewClient("test-key", WithBaseURL(ts.URL), WithMaxRetries(0))
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   1024,
		System:      CachedSystem("Return JSON only.", "1h"),
		Messages:    []Message{{Role: "user", Content: "Summarize this"}},
		Temperature: &temp,
	})
	require.NoError(t, err)

	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, `{"headline":"Hi"}`, resp.Text())
	assert.Equal(t, int64(120), resp.Usage.InputTokens)
	assert.Equal(t, int64(100), resp.Usage.CacheReadInputTokens)

	assert.Equal(t, "claude-haiku-4-5-20251001", body["model"])
	assert.InDelta(t, 0.2, body["temperature"], 0.0001)
	system, ok := body["system"].([]any)
	require.True(t, ok)
	require.Len(t, system, 1)
	block := system[0].(map[string]any)
	assert.Equal(t, "Return JSON only.", block["text"])
	cc := block["cache_control"].(map[string]any)
	assert.Equal(t, "ephemeral", cc["type"])
	assert.Equal(t, "1h", cc["ttl"])
}

func TestCreateMessage_RateLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL), WithMaxRetries(0))
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 16,
		Messages:  []Message{{Role: "user", Content: "x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, 2*time.Second, resilience.RetryAfterOf(err))
}

func TestCreateMessage_BadRequestNotRetryable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL), WithMaxRetries(0))
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 16,
		Messages:  []Message{{Role: "user", Content: "x"}},
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.False(t, resilience.IsTransient(err))
}

func TestStatusCode_NonAPIError(t *testing.T) {
	assert.Equal(t, 0, StatusCode(errors.New("boom")))
	assert.Equal(t, 0, StatusCode(nil))
}

func TestCreateMessage_Prefill(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(messageHandler(t, &body))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL), WithMaxRetries(0))
	req := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 64,
		Messages:  []Message{{Role: RoleUser, Content: "Summarize this"}},
		Prefill:   "[",
	}
	resp, err := client.CreateMessage(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, `[{"headline":"Hi"}`, resp.Text())
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleAssistant, msgs[1].(map[string]any)["role"])
	assert.Len(t, req.Messages, 1)
}

func TestPriceOf(t *testing.T) {
	dated, ok := PriceOf("claude-sonnet-4-5-20250929")
	require.True(t, ok)
	alias, ok := PriceOf("claude-sonnet-4-5")
	require.True(t, ok)
	assert.Equal(t, dated, alias)
	assert.Equal(t, Price{Input: 3, Output: 15}, dated)

	_, ok = PriceOf("gpt-4o")
	assert.False(t, ok)
}

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "a"},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: "b"},
	}}
	assert.Equal(t, "ab", resp.Text())

	var nilResp *MessageResponse
	assert.Equal(t, "", nilResp.Text())
}

func TestToSDKMessages_Roles(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "Question"},
		{Role: "assistant", Content: "Answer"},
		{Role: "unknown", Content: "defaults to user"},
	}
	require.Len(t, toSDKMessages(msgs), 3)
	assert.Empty(t, toSDKMessages(nil))
}

func TestToSDKSystemBlocks(t *testing.T) {
	blocks := []SystemBlock{
		{Text: "You are a helpful assistant."},
		{Text: "Context data here.", CacheControl: &CacheControl{TTL: "1h"}},
	}

	sdkBlocks := toSDKSystemBlocks(blocks)
	require.Len(t, sdkBlocks, 2)
	assert.Equal(t, "You are a helpful assistant.", sdkBlocks[0].Text)
	assert.Equal(t, "Context data here.", sdkBlocks[1].Text)
}

func TestCachedSystem(t *testing.T) {
	for ttl, want := range map[string]string{"": "", "5m": "", "1h": "1h", "2h": ""} {
		blocks := CachedSystem("prompt", ttl)
		require.Len(t, blocks, 1)
		assert.Equal(t, "prompt", blocks[0].Text)
		require.NotNil(t, blocks[0].CacheControl)
		assert.Equal(t, want, blocks[0].CacheControl.TTL, ttl)
	}
}

func TestEstimateCost(t *testing.T) {
	usage := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	// 1M * $3 + 1M * $15
	assert.InDelta(t, 18.00, usage.EstimateCost("claude-sonnet-4-5-20250929"), 0.001)
	assert.Equal(t, 0.0, usage.EstimateCost("unknown-model"))
	assert.Equal(t, 0.0, TokenUsage{}.EstimateCost("claude-haiku-4-5-20251001"))
}

func TestEstimateCost_WithCache(t *testing.T) {
	usage := TokenUsage{
		InputTokens:              500_000,
		OutputTokens:             100_000,
		CacheCreationInputTokens: 200_000,
		CacheReadInputTokens:     300_000,
	}
	// input 0.50 + output 0.50 + write 0.25 + read 0.03
	assert.InDelta(t, 1.28, usage.EstimateCost("claude-haiku-4-5-20251001"), 0.001)
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 100, OutputTokens: 50}.LogCost("claude-haiku-4-5-20251001", "https://example.com/a")
		TokenUsage{}.LogCost("unknown-model", "")
	})
}
