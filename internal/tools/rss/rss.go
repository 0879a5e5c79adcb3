// Package rss provides the local feed reader tool.
package rss

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"

	"github.com/giantswarm/agent-relay/internal/tools"
)

const (
	// ToolName is the name the agent sees.
	ToolName = "rss"

	// ActionFetch is the only supported action; nothing is persisted between calls.
	ActionFetch = "fetch"

	defaultMaxEntries = 10
	defaultTimeout    = 15 * time.Second
	summaryLimit      = 500
)

// Tool fetches and summarises RSS, Atom and JSON feeds.
type Tool struct {
	client     *http.Client
	userAgent  string
	maxEntries int
}

var _ tools.Tool = (*Tool)(nil)

// Option configures a Tool.
type Option func(*Tool)

// WithHTTPClient sets the client used to fetch feeds.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

// WithTimeout sets the fetch timeout on the default client.
func WithTimeout(d time.Duration) Option {
	return func(t *Tool) {
		if d > 0 {
			t.client = &http.Client{Timeout: d}
		}
	}
}

// WithUserAgent sets the User-Agent header for feed requests.
func WithUserAgent(ua string) Option {
	return func(t *Tool) { t.userAgent = ua }
}

// WithMaxEntries sets the default number of entries returned.
func WithMaxEntries(n int) Option {
	return func(t *Tool) {
		if n > 0 {
			t.maxEntries = n
		}
	}
}

// New creates the rss tool.
func New(opts ...Option) *Tool {
	t := &Tool{
		client:     &http.Client{Timeout: defaultTimeout},
		userAgent:  "agent-relay/1.0",
		maxEntries: defaultMaxEntries,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Name() string { return ToolName }

func (t *Tool) Description() string {
	return "Fetch an RSS, Atom or JSON feed and return its most recent entries. " +
		"Use action \"fetch\" with the feed url."
}

func (t *Tool) InputSchema() map[string]any {
	return tools.ObjectSchema(map[string]any{
		"action": map[string]any{
			"type":        "string",
			"enum":        []string{ActionFetch},
			"description": "Action to perform. Only \"fetch\" is supported.",
		},
		"url": map[string]any{
			"type":        "string",
			"description": "URL of the feed to fetch",
		},
		"max_entries": map[string]any{
			"type":        "integer",
			"description": fmt.Sprintf("Maximum number of entries to return (default %d)", t.maxEntries),
		},
		"include_content": map[string]any{
			"type":        "boolean",
			"description": "Return full entry content instead of the summary",
		},
	}, "url")
}

// Feed is the JSON document returned to the agent.
type Feed struct {
	Title   string  `json:"title"`
	Link    string  `json:"link,omitempty"`
	Entries []Entry `json:"entries"`
}

// Entry is a single feed item.
type Entry struct {
	Title     string `json:"title"`
	Link      string `json:"link,omitempty"`
	Published string `json:"published,omitempty"`
	Author    string `json:"author,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Call fetches the feed named by args["url"].
func (t *Tool) Call(ctx context.Context, args map[string]any) (string, error) {
	action := stringArg(args, "action")
	if action == "" {
		action = ActionFetch
	}
	if action != ActionFetch {
		return "", fmt.Errorf("action %q is not supported, only %q is available", action, ActionFetch)
	}

	url := strings.TrimSpace(stringArg(args, "url"))
	if url == "" {
		return "", errors.New("url is required")
	}

	limit := intArg(args, "max_entries", t.maxEntries)
	if limit <= 0 {
		limit = t.maxEntries
	}
	includeContent := boolArg(args, "include_content")

	feed, err := t.Fetch(ctx, url)
	if err != nil {
		return "", err
	}

	out := summarize(feed, limit, includeContent)
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode feed: %w", err)
	}
	return string(b), nil
}

// Fetch downloads and parses a feed.
func (t *Tool) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	fp := gofeed.NewParser()
	fp.Client = t.client
	fp.UserAgent = t.userAgent

	feed, err := fp.ParseURLWithContext(url, ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			return nil, fmt.Errorf("fetch feed %s: HTTP %d", url, httpErr.StatusCode)
		}
		return nil, fmt.Errorf("fetch feed %s: %w", url, err)
	}
	return feed, nil
}

func summarize(feed *gofeed.Feed, limit int, includeContent bool) Feed {
	out := Feed{Title: feed.Title, Link: feed.Link, Entries: []Entry{}}

	for i, item := range feed.Items {
		if i >= limit {
			break
		}
		if item == nil {
			continue
		}
		e := Entry{
			Title:  strings.TrimSpace(item.Title),
			Link:   item.Link,
			Author: author(item),
		}
		switch {
		case item.PublishedParsed != nil:
			e.Published = item.PublishedParsed.UTC().Format(time.RFC3339)
		case item.UpdatedParsed != nil:
			e.Published = item.UpdatedParsed.UTC().Format(time.RFC3339)
		default:
			e.Published = item.Published
		}

		if includeContent && item.Content != "" {
			e.Content = truncate(plainText(item.Content), summaryLimit)
		} else {
			e.Summary = truncate(plainText(item.Description), summaryLimit)
		}
		out.Entries = append(out.Entries, e)
	}
	return out
}

func author(item *gofeed.Item) string {
	var names []string
	for _, p := range item.Authors {
		if p != nil && p.Name != "" {
			names = append(names, p.Name)
		}
	}
	return strings.Join(names, ", ")
}

// plainText strips markup from feed HTML and collapses whitespace.
func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(b.String()), " ")
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func boolArg(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}
