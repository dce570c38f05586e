package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	searchTimeoutSeconds    = 15
	defaultSearchMaxResults = 5
)

// WebSearchTool queries DuckDuckGo's HTML endpoint and extracts results.
type WebSearchTool struct {
	maxResults int
	client     *http.Client
}

// WebSearchConfig holds configuration for the web search tool.
type WebSearchConfig struct {
	MaxResults int
}

func NewWebSearchTool(cfg WebSearchConfig) *WebSearchTool {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultSearchMaxResults
	}
	return &WebSearchTool{
		maxResults: maxResults,
		client:     &http.Client{Timeout: searchTimeoutSeconds * time.Second},
	}
}

// Handle wraps the tool as a registry entry.
func (t *WebSearchTool) Handle() *Handle {
	return &Handle{
		Name:        "web_search",
		Description: "Search the web and return titles, URLs and snippets for the top results.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query.",
				},
				"count": map[string]any{
					"type":        "number",
					"description": "Number of results to return (default 5).",
				},
			},
			"required": []any{"query"},
		},
		Source:  "builtin",
		Enabled: true,
		Invoke:  t.invoke,
	}
}

type searchResult struct {
	Title       string
	URL         string
	Description string
}

func (t *WebSearchTool) invoke(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	count := t.maxResults
	if v, ok := args["count"].(float64); ok && v > 0 {
		count = int(v)
	}

	searchURL := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	results := extractDDGResults(string(body), count)
	if len(results) == 0 {
		return "No results found.", nil
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Description)
		}
	}
	return sb.String(), nil
}

var (
	ddgLinkRe    = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
)

func extractDDGResults(html string, count int) []searchResult {
	linkMatches := ddgLinkRe.FindAllStringSubmatch(html, count+5)
	if len(linkMatches) == 0 {
		return nil
	}
	snippetMatches := ddgSnippetRe.FindAllStringSubmatch(html, count+5)

	var results []searchResult
	for i := 0; i < len(linkMatches) && i < count; i++ {
		rawURL := linkMatches[i][1]
		title := strings.TrimSpace(tagRe.ReplaceAllString(linkMatches[i][2], ""))

		// DDG wraps URLs with a redirect — extract the real URL from uddg=.
		if strings.Contains(rawURL, "uddg=") {
			if u, err := url.QueryUnescape(rawURL); err == nil {
				if idx := strings.Index(u, "uddg="); idx != -1 {
					extracted := u[idx+5:]
					if ampIdx := strings.Index(extracted, "&"); ampIdx != -1 {
						extracted = extracted[:ampIdx]
					}
					rawURL = extracted
				}
			}
		}

		desc := ""
		if i < len(snippetMatches) {
			desc = strings.TrimSpace(tagRe.ReplaceAllString(snippetMatches[i][1], ""))
		}

		results = append(results, searchResult{Title: title, URL: rawURL, Description: desc})
	}
	return results
}
