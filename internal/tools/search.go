package tools

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
)

const (
	defaultGoogleBase = "https://www.googleapis.com"
	pageTextLimit     = 3500
	summaryFallback   = 120
)

// SearchTool answers search.web through Google Custom Search.
type SearchTool struct {
	base  string
	key   string
	cx    string
	count int
	http  *HTTPClient
}

// NewSearchTool creates the tool; base may be empty for the public endpoint.
func NewSearchTool(base, key, cx string, count int, hc *HTTPClient) *SearchTool {
	if count <= 0 || count > 10 {
		count = 5
	}
	return &SearchTool{base: serviceBase(base, defaultGoogleBase), key: key, cx: cx, count: count, http: hc}
}

func (t *SearchTool) Name() string          { return SearchWeb }
func (t *SearchTool) ConcurrencySafe() bool { return true }

type googleResults struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

func (t *SearchTool) Invoke(ctx context.Context, call Call) (Outcome, error) {
	if t.key == "" || t.cx == "" {
		return Outcome{}, &NotConfiguredError{What: "Google Custom Search"}
	}
	query := call.Arg("query", call.Text)
	var res googleResults
	if err := t.http.GetJSON(ctx, t.base+"/customsearch/v1", url.Values{
		"key": {t.key},
		"cx":  {t.cx},
		"q":   {query},
		"num": {strconv.Itoa(t.count)},
	}, &res); err != nil {
		return Outcome{}, err
	}
	if len(res.Items) == 0 {
		return Fact("搜索结果为空。"), nil
	}
	var b strings.Builder
	b.WriteString("Google 搜索结果:")
	for i, item := range res.Items {
		if i >= t.count {
			break
		}
		title := item.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "\n- %s\n  %s\n  %s", title, item.Link, item.Snippet)
	}
	return Outcome{Facts: []string{b.String()}}, nil
}

// Summarizer condenses page text. The LLM provider implements it.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// SummarizeURLTool answers search.summarize_url: it fetches the page,
// extracts the readable article text and asks the summarizer for a short
// digest. Without a summarizer the first characters of the text are used.
type SummarizeURLTool struct {
	http       *HTTPClient
	summarizer Summarizer
}

// NewSummarizeURLTool creates the tool. summarizer may be nil.
func NewSummarizeURLTool(hc *HTTPClient, summarizer Summarizer) *SummarizeURLTool {
	return &SummarizeURLTool{http: hc, summarizer: summarizer}
}

func (t *SummarizeURLTool) Name() string          { return SearchSummarizeURL }
func (t *SummarizeURLTool) ConcurrencySafe() bool { return true }

func (t *SummarizeURLTool) Require(call Call) string {
	raw := call.Arg("url", "")
	u, err := url.Parse(raw)
	if raw == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "requires a valid url"
	}
	return ""
}

func (t *SummarizeURLTool) Invoke(ctx context.Context, call Call) (Outcome, error) {
	target := call.Arg("url", "")
	text, err := t.pageText(ctx, target)
	if err != nil {
		slog.Warn("Failed to fetch url content", "url", target, "error", err)
		text = ""
	}
	if text == "" {
		return Fact("链接总结失败: 网页内容为空。"), nil
	}
	text = truncate(text, pageTextLimit)

	summary := ""
	if t.summarizer != nil {
		summary, err = t.summarizer.Summarize(ctx, text)
		if err != nil {
			return Outcome{}, err
		}
	}
	if strings.TrimSpace(summary) == "" {
		summary = truncate(text, summaryFallback)
	}
	return Fact("链接总结（%s）: %s", target, strings.TrimSpace(summary)), nil
}

func (t *SummarizeURLTool) pageText(ctx context.Context, target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	body, _, err := t.http.Download(ctx, target, 0)
	if err != nil {
		return "", err
	}
	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return collapseSpace(article.TextContent), nil
	}
	return stripHTML(string(body)), nil
}

var (
	scriptStyle = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	anyTag      = regexp.MustCompile(`(?s)<[^>]*>`)
	spaces      = regexp.MustCompile(`\s+`)
)

func stripHTML(content string) string {
	content = scriptStyle.ReplaceAllString(content, " ")
	content = anyTag.ReplaceAllString(content, " ")
	return collapseSpace(html.UnescapeString(content))
}

func collapseSpace(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
