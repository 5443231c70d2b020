package strategy

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBlock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   BlockType
	}{
		{"cloudflare 403 cf-ray", 403, http.Header{"Cf-Ray": {"abc123"}}, "", BlockCloudflare},
		{"cloudflare 503 server", 503, http.Header{"Server": {"cloudflare"}}, "", BlockCloudflare},
		{"429", 429, http.Header{}, "", BlockRateLimit},
		{"challenge body", 200, http.Header{}, "<title>Just a moment...</title>", BlockCloudflare},
		{"captcha widget", 200, http.Header{}, `<div class="g-recaptcha" data-sitekey="x"></div>`, BlockCaptcha},
		{"rate limit page served as 200", 200, http.Header{}, "<h1>Too Many Requests</h1>", BlockRateLimit},
		{"js shell", 200, http.Header{}, "<html><noscript>Enable JavaScript to continue</noscript></html>", BlockJSShell},
		{"meta refresh", 200, http.Header{}, `<meta http-equiv="refresh" content="0;url=/x">`, BlockJSShell},
		{"clean page", 200, http.Header{}, articleHTML("Budget vote", articleBody), BlockNone},
		{"plain 403 without cloudflare", 403, http.Header{}, "Forbidden", BlockNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			blocked, bt := DetectBlock(tt.status, tt.header, []byte(tt.body))
			assert.Equal(t, tt.want, bt)
			assert.Equal(t, tt.want != BlockNone, blocked)
		})
	}
}

func TestDetectBlock_LargePageNotScanned(t *testing.T) {
	t.Parallel()
	body := articleHTML("Security", strings.Repeat("An article about captcha design and g-recaptcha. ", 2000))
	blocked, _ := DetectBlock(200, http.Header{}, []byte(body))
	assert.False(t, blocked)
}

func TestIsChallenge(t *testing.T) {
	t.Parallel()
	assert.True(t, IsChallenge("Just a moment...", ""))
	assert.True(t, IsChallenge("example.com", "Checking your browser before accessing example.com"))
	assert.False(t, IsChallenge("Budget vote", articleBody))
	assert.False(t, IsChallenge("Budget vote", strings.Repeat("please verify you are human ", 200)))
}

func TestIsPaywallStub(t *testing.T) {
	t.Parallel()
	assert.True(t, IsPaywallStub("The first paragraph. Subscribe to continue reading."))
	assert.False(t, IsPaywallStub(articleBody))
}
