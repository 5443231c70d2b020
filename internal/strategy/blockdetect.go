package strategy

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
	BlockRateLimit  BlockType = "rate_limit"
	BlockPaywall    BlockType = "paywall"
)

// markerScanLimit bounds how much of a body is scanned for challenge
// markers. Challenge pages are small; full articles that merely mention
// "captcha" are not blocks.
const markerScanLimit = 64 << 10

// challengePhrases appear in the title or body of bot-challenge
// interstitials while they are still unresolved.
var challengePhrases = []string{
	"just a moment",
	"checking your browser",
	"verifying you are human",
	"verify you are human",
	"attention required",
	"please enable cookies",
	"enable javascript and cookies",
	"are you a robot",
	"press & hold",
	"pardon our interruption",
	"access to this page has been denied",
	"ddos protection by",
	"cf-browser-verification",
	"cf-challenge",
	"_cf_chl_opt",
	"px-captcha",
}

// rateLimitPhrases identify a throttling page served with a 200.
var rateLimitPhrases = []string{
	"too many requests",
	"rate limit exceeded",
	"you have been rate limited",
	"unusual traffic from your computer",
}

var paywallPhrases = []string{
	"subscribe to continue reading",
	"to continue reading, subscribe",
	"this article is for subscribers",
	"already a subscriber? sign in",
	"create a free account to continue",
}

// DetectBlock checks a fetched response for signs of anti-bot protection or
// a throttling page masquerading as content.
func DetectBlock(status int, header http.Header, body []byte) (bool, BlockType) {
	if status == http.StatusTooManyRequests {
		return true, BlockRateLimit
	}

	// Cloudflare: 403/503 with cf-* headers.
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable {
		if header.Get("cf-ray") != "" || header.Get("cf-cache-status") != "" ||
			strings.EqualFold(header.Get("server"), "cloudflare") ||
			header.Get("cf-mitigated") != "" {
			return true, BlockCloudflare
		}
	}

	if len(body) > markerScanLimit {
		return false, BlockNone
	}
	lower := strings.ToLower(string(body))

	if containsAny(lower, challengePhrases) {
		return true, BlockCloudflare
	}

	if strings.Contains(lower, "g-recaptcha") ||
		strings.Contains(lower, "h-captcha") ||
		strings.Contains(lower, "hcaptcha.com") ||
		strings.Contains(lower, "please complete the captcha") {
		return true, BlockCaptcha
	}

	if containsAny(lower, rateLimitPhrases) && len(body) < 8<<10 {
		return true, BlockRateLimit
	}

	// JS-only shell: very small body with noscript or meta refresh.
	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, `http-equiv="refresh"`) {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}

// IsChallenge reports whether a rendered page still shows a bot challenge.
func IsChallenge(title, text string) bool {
	t := strings.ToLower(title)
	if containsAny(t, challengePhrases) {
		return true
	}
	// Only short bodies count; a long article can quote these phrases.
	if len(text) > 4000 {
		return false
	}
	return containsAny(strings.ToLower(text), challengePhrases)
}

// IsPaywallStub reports whether short extracted text looks like a paywall
// teaser rather than the article.
func IsPaywallStub(text string) bool {
	if len(text) > 3000 {
		return false
	}
	return containsAny(strings.ToLower(text), paywallPhrases)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
