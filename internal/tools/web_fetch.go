package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	defaultFetchMaxChars = 50000
	fetchTimeoutSeconds  = 30
	fetchUserAgent       = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// WebFetchTool fetches a URL and returns its textual content, with SSRF
// protection against private and loopback targets.
type WebFetchTool struct {
	maxChars int
	client   *http.Client
}

// WebFetchConfig holds configuration for the web fetch tool.
type WebFetchConfig struct {
	MaxChars int
}

func NewWebFetchTool(cfg WebFetchConfig) *WebFetchTool {
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultFetchMaxChars
	}
	return &WebFetchTool{
		maxChars: maxChars,
		client:   &http.Client{Timeout: fetchTimeoutSeconds * time.Second},
	}
}

// Handle wraps the tool as a registry entry.
func (t *WebFetchTool) Handle() *Handle {
	return &Handle{
		Name:        "web_fetch",
		Description: "Fetch an HTTP/HTTPS URL and return its text content. HTML is stripped to plain text.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "HTTP or HTTPS URL to fetch.",
				},
				"max_chars": map[string]any{
					"type":        "number",
					"description": "Maximum characters to return (truncates when exceeded).",
				},
			},
			"required": []any{"url"},
		},
		Source:  "builtin",
		Enabled: true,
		Invoke:  t.invoke,
	}
}

func (t *WebFetchTool) invoke(ctx context.Context, args map[string]any) (string, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return "", fmt.Errorf("url is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("only http and https URLs are supported")
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("missing hostname in URL")
	}
	if err := checkSSRF(parsed.Hostname()); err != nil {
		return "", fmt.Errorf("ssrf protection: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch returned %d", resp.StatusCode)
	}

	maxChars := t.maxChars
	if v, ok := args["max_chars"].(float64); ok && v >= 100 {
		maxChars = int(v)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxChars)*4))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		text = stripHTML(text)
	}
	if len(text) > maxChars {
		text = text[:maxChars] + "\n[truncated]"
	}
	return text, nil
}

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe         = regexp.MustCompile(`<[^>]+>`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
)

// stripHTML reduces an HTML document to readable plain text.
func stripHTML(html string) string {
	text := scriptStyleRe.ReplaceAllString(html, "")
	text = tagRe.ReplaceAllString(text, "\n")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", `"`)
	text = strings.ReplaceAll(text, "&#39;", "'")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// checkSSRF rejects hostnames that resolve to loopback, private, or
// link-local addresses. Tool traffic must never reach internal services.
func checkSSRF(hostname string) error {
	ips, err := net.LookupIP(hostname)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", hostname, err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("%s resolves to restricted address %s", hostname, ip)
		}
	}
	return nil
}
