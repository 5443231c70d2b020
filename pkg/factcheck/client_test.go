package factcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc, opts ...Option) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("fc-key", append([]Option{WithBaseURL(srv.URL)}, opts...)...)
}

func TestSearch(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/claims:search", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "unemployment fell to 3%", q.Get("query"))
		assert.Equal(t, "fc-key", q.Get("key"))
		assert.Equal(t, "en", q.Get("languageCode"))
		assert.Equal(t, "3", q.Get("pageSize"))

		_, _ = w.Write([]byte(`{
			"claims": [{
				"text": "Unemployment fell to 3%",
				"claimant": "Senator X",
				"claimDate": "2024-01-10T00:00:00Z",
				"claimReview": [{
					"publisher": {"name": "PolitiFact", "site": "politifact.com"},
					"url": "https://www.politifact.com/factchecks/2024/jan/11/x/",
					"title": "No, unemployment did not fall to 3%",
					"reviewDate": "2024-01-11T00:00:00Z",
					"textualRating": "False",
					"languageCode": "en"
				}]
			}]
		}`))
	}, WithPageSize(3))

	claims, err := c.Search(context.Background(), "unemployment fell to 3%")
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "Senator X", claims[0].Claimant)
	require.Len(t, claims[0].ClaimReview, 1)
	assert.Equal(t, "False", claims[0].ClaimReview[0].TextualRating)
	assert.Equal(t, "PolitiFact", claims[0].ClaimReview[0].Publisher.Name)
}

func TestSearch_NoMatchIsEmpty(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	claims, err := c.Search(context.Background(), "nothing here")
	require.NoError(t, err)
	assert.NotNil(t, claims)
	assert.Empty(t, claims)
}

func TestSearch_APIError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"API key not valid"}}`))
	})

	_, err := c.Search(context.Background(), "x")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "API key not valid")
}

func TestSearch_MalformedJSON(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[`))
	})

	_, err := c.Search(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	hc := NewClient("k").(*httpClient)
	assert.Equal(t, defaultBaseURL, hc.baseURL)
	assert.Equal(t, "en", hc.language)
	assert.Equal(t, 5, hc.pageSize)

	hc = NewClient("k", WithLanguage(""), WithPageSize(0)).(*httpClient)
	assert.Empty(t, hc.language)
	assert.Equal(t, 5, hc.pageSize)
}
