package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ddgPage = `
<div class="result results_links">
  <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc&amp;rut=x">The <b>Go</b> Programming Language</a>
  <a class="result__snippet" href="#">Go is an open source <b>programming</b> language &amp; toolchain.</a>
</div>
<div class="result results_links">
  <a rel="nofollow" class="result__a" href="https://pkg.go.dev/">Go Packages</a>
  <a class="result__snippet" href="#">Find packages.</a>
</div>`

func TestParseDuckDuckGo(t *testing.T) {
	results := parseDuckDuckGo(ddgPage, 5)
	require.Len(t, results, 2)
	assert.Equal(t, "The Go Programming Language", results[0].Title)
	assert.Equal(t, "https://go.dev/doc", results[0].Link)
	assert.Equal(t, "Go is an open source programming language & toolchain.", results[0].Snippet)
	assert.Equal(t, "https://pkg.go.dev/", results[1].Link)

	assert.Len(t, parseDuckDuckGo(ddgPage, 1), 1)
	assert.Empty(t, parseDuckDuckGo("<html></html>", 5))
}

func TestWebSearcher_BraveThenFallback(t *testing.T) {
	brave := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-Subscription-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"Brave hit","url":"https://a.example","description":"desc"}]}}`))
	}))
	defer brave.Close()
	ddg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(ddgPage))
	}))
	defer ddg.Close()

	s := NewWebSearcher("key", 3)
	s.braveURL = brave.URL
	s.ddgURL = ddg.URL

	results, err := s.Search(context.Background(), "golang")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Brave hit", results[0].Title)

	s.braveURL = "http://127.0.0.1:1" // unreachable
	results, err = s.Search(context.Background(), "golang")
	require.NoError(t, err)
	assert.Equal(t, "https://go.dev/doc", results[0].Link)
}

func TestWebSearcher_NoResults(t *testing.T) {
	ddg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>blocked</html>"))
	}))
	defer ddg.Close()

	s := NewWebSearcher("", 0)
	s.ddgURL = ddg.URL
	_, err := s.Search(context.Background(), "anything")
	assert.ErrorContains(t, err, "no results")

	_, err = s.Search(context.Background(), "  ")
	assert.ErrorContains(t, err, "query is required")
}
