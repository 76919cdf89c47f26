package tools

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/adriankopytko/chatloop/internal/llm"
)

type FetchWebPageTool struct{}

type WebPage struct {
	URL         string `json:"url"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
	Truncated   bool   `json:"truncated,omitempty"`
}

const (
	defaultFetchTimeout = 20 * time.Second
	maxWebPageBytes     = 2 * 1024 * 1024
	defaultWebPageChars = 20000
	maxFetchRedirects   = 5
)

var (
	scriptTagRegex = regexp.MustCompile(`(?is)<script.*?>.*?</script>`)
	styleTagRegex  = regexp.MustCompile(`(?is)<style.*?>.*?</style>`)
	htmlTagRegex   = regexp.MustCompile(`(?s)<[^>]+>`)
	spaceRegex     = regexp.MustCompile(`\s+`)
)

func (FetchWebPageTool) Name() string {
	return "fetch_webpage"
}

func (tool FetchWebPageTool) Definition() llm.ToolDefinition {
	return llm.NewFunctionTool(tool.Name(), "Fetch a public webpage by URL and return its text content",
		map[string]llm.Property{
			"url":       {Type: "string", Description: "Fully-qualified http or https URL"},
			"max_chars": {Type: "integer", Description: "Maximum characters of text to return. Defaults to 20000."},
		},
		"url",
	)
}

func (FetchWebPageTool) Execute(ctx ToolContext, arguments map[string]any) (any, error) {
	pageURL := strings.TrimSpace(StringArgument(arguments, "url", ""))
	if pageURL == "" {
		return nil, fmt.Errorf("url must be a non-empty string")
	}
	maxChars := IntArgument(arguments, "max_chars", defaultWebPageChars)
	if maxChars <= 0 {
		return nil, fmt.Errorf("max_chars must be positive, got %d", maxChars)
	}
	if err := EnsureOutboundURLAllowed(ctx.Parent(), pageURL); err != nil {
		return nil, err
	}

	requestCtx, cancel := context.WithTimeout(ctx.Parent(), ctx.TimeoutOr(defaultFetchTimeout))
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "chatloop/1.0")

	client := &http.Client{
		Timeout:       ctx.TimeoutOr(defaultFetchTimeout),
		CheckRedirect: checkRedirect,
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(requestCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("webpage request timed out")
		}
		if errors.Is(requestCtx.Err(), context.Canceled) {
			return nil, fmt.Errorf("webpage request cancelled: %w", context.Canceled)
		}
		return nil, fmt.Errorf("fetch webpage: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read webpage response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webpage request failed with status %d", resp.StatusCode)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	textContent := string(body)
	if strings.Contains(contentType, "text/html") {
		textContent = extractTextFromHTML(textContent)
	}
	textContent = strings.TrimSpace(textContent)

	page := WebPage{URL: pageURL, Status: resp.StatusCode, ContentType: contentType, Content: textContent}
	if runes := []rune(textContent); len(runes) > maxChars {
		page.Content = string(runes[:maxChars])
		page.Truncated = true
	}
	ctx.debugf("event=fetch_webpage status=%d chars=%d truncated=%t", resp.StatusCode, len(page.Content), page.Truncated)
	return page, nil
}

// checkRedirect applies the outbound policy to every redirect hop.
func checkRedirect(request *http.Request, via []*http.Request) error {
	if len(via) >= maxFetchRedirects {
		return fmt.Errorf("stopped after %d redirects", maxFetchRedirects)
	}
	return EnsureOutboundURLAllowed(request.Context(), request.URL.String())
}

func extractTextFromHTML(content string) string {
	withoutScripts := scriptTagRegex.ReplaceAllString(content, " ")
	withoutStyles := styleTagRegex.ReplaceAllString(withoutScripts, " ")
	withoutTags := htmlTagRegex.ReplaceAllString(withoutStyles, " ")
	decoded := html.UnescapeString(withoutTags)
	return spaceRegex.ReplaceAllString(decoded, " ")
}
