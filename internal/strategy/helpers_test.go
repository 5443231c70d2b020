package strategy

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sells-group/digest-cli/internal/fetcher"
	"github.com/sells-group/digest-cli/internal/resilience"
)

const articleBody = "The committee voted on Thursday to extend the program for another year, " +
	"after a long debate about its cost and how the money had been spent so far. " +
	"Supporters pointed to rising enrollment while critics asked for an audit."

func articleHTML(title, body string) string {
	return fmt.Sprintf(`<!DOCTYPE html><html><head><title>%s</title>
<meta property="og:site_name" content="Example Times"></head>
<body><nav>Home | World</nav><article><h1>%s</h1><p>%s</p></article></body></html>`, title, title, body)
}

func testFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:      5 * time.Second,
		RetryBackoff: time.Millisecond,
		Limiter:      fetcher.NewHostLimiter(1000, 100),
	})
}

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func htmlHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func longText(n int) string {
	return strings.Repeat("word ", n)
}

func pageAt(finalURL, body string) *fetcher.Page {
	return &fetcher.Page{URL: finalURL, FinalURL: finalURL, StatusCode: http.StatusOK, Body: []byte(body)}
}

func resilienceConfig(initial, maxDelay time.Duration) resilience.RetryConfig {
	return resilience.RetryConfig{InitialBackoff: initial, MaxBackoff: maxDelay, JitterFraction: 0.2}
}
