package search

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/manthysbr/deep-research/internal/core/ports"
)

const (
	defaultBraveURL = "https://api.search.brave.com/res/v1/web/search"
	defaultDDGURL   = "https://html.duckduckgo.com/html/"
	userAgent       = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var (
	reLink    = regexp.MustCompile(`<a[^>]+class="[^"]*result__a[^"]*"[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)
	reSnippet = regexp.MustCompile(`<a[^>]+class="[^"]*result__snippet[^"]*"[^>]*>(.*?)</a>`)
	reTags    = regexp.MustCompile(`<[^>]+>`)
)

var _ ports.Searcher = (*WebSearcher)(nil)

// WebSearcher queries Brave Search when an API key is set and falls back to
// the DuckDuckGo HTML page otherwise, or when Brave fails.
type WebSearcher struct {
	braveKey   string
	braveURL   string
	ddgURL     string
	maxResults int
	client     *http.Client
}

func NewWebSearcher(braveKey string, maxResults int) *WebSearcher {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearcher{
		braveKey:   braveKey,
		braveURL:   defaultBraveURL,
		ddgURL:     defaultDDGURL,
		maxResults: maxResults,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebSearcher) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if s.braveKey != "" {
		if results, err := s.searchBrave(ctx, query); err == nil {
			return results, nil
		}
	}
	return s.searchDuckDuckGo(ctx, query)
}

func (s *WebSearcher) searchBrave(ctx context.Context, query string) ([]domain.SearchResult, error) {
	reqURL := fmt.Sprintf("%s?q=%s&count=%d", s.braveURL, url.QueryEscape(query), s.maxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Subscription-Token", s.braveKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave api error: %d", resp.StatusCode)
	}

	var braveResp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&braveResp); err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(braveResp.Web.Results))
	for _, r := range braveResp.Web.Results {
		if len(results) == s.maxResults {
			break
		}
		results = append(results, domain.SearchResult{
			Title:   cleanText(r.Title),
			Link:    r.URL,
			Snippet: cleanText(r.Description),
		})
	}
	return results, nil
}

func (s *WebSearcher) searchDuckDuckGo(ctx context.Context, query string) ([]domain.SearchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.ddgURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ddg error: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}

	results := parseDuckDuckGo(string(body), s.maxResults)
	if len(results) == 0 {
		return nil, fmt.Errorf("no results found on DuckDuckGo (layout likely changed or blocked)")
	}
	return results, nil
}

// parseDuckDuckGo pulls result links and snippets out of the HTML page.
func parseDuckDuckGo(page string, limit int) []domain.SearchResult {
	links := reLink.FindAllStringSubmatch(page, -1)
	snippets := reSnippet.FindAllStringSubmatch(page, -1)

	var results []domain.SearchResult
	for i, match := range links {
		if len(results) == limit {
			break
		}
		link := html.UnescapeString(match[1])
		// DDG wraps targets in a redirect: //duckduckgo.com/l/?uddg=<target>
		if strings.Contains(link, "uddg=") {
			if u, err := url.Parse(link); err == nil {
				if target := u.Query().Get("uddg"); target != "" {
					link = target
				}
			}
		}
		title := cleanText(match[2])

		snippet := ""
		if i < len(snippets) {
			snippet = cleanText(snippets[i][1])
		}
		if title != "" && link != "" {
			results = append(results, domain.SearchResult{Title: title, Link: link, Snippet: snippet})
		}
	}
	return results
}

func cleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(reTags.ReplaceAllString(s, "")))
}
