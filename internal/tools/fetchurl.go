package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"talkops/internal/ai"
	"talkops/internal/config"
	"talkops/internal/logger"
	"talkops/internal/thread"
)

const ToolFetchURL = "fetch_url"

var whitespaceRe = regexp.MustCompile(`\s+`)

// FetchURLTool fetches a page and extracts its readable text.
type FetchURLTool struct {
	httpClient *http.Client
	logger     logger.Logger
}

func NewFetchURLTool(httpClient *http.Client, log logger.Logger) *FetchURLTool {
	return &FetchURLTool{
		httpClient: httpClient,
		logger:     log.WithField("tool", ToolFetchURL),
	}
}

func (t *FetchURLTool) Name() string {
	return ToolFetchURL
}

func (t *FetchURLTool) DefaultParams() map[string]any {
	return map[string]any{"max_length": 8000}
}

func (t *FetchURLTool) Call(chatCfg *config.ChatConfig, state *thread.State) Client {
	maxLength := IntParam(MergedParams(t, chatCfg), "max_length", 8000)
	if maxLength <= 0 {
		maxLength = 8000
	}
	return &fetchURLClient{tool: t, maxLength: maxLength}
}

func (t *FetchURLTool) OptionsString(argsJSON string) string {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return argsJSON
	}
	return args.URL
}

type fetchURLClient struct {
	tool      *FetchURLTool
	maxLength int
}

func (c *fetchURLClient) Functions() map[string]Func {
	return map[string]Func{
		ToolFetchURL: c.fetch,
	}
}

func (c *fetchURLClient) Specs() []ai.Tool {
	return []ai.Tool{{
		Type: "function",
		Function: ai.ToolFunction{
			Name:        ToolFetchURL,
			Description: "Fetch full content from URL. Use when you need more info from a URL or if the user asks.",
			Parameters: ai.Parameters{
				Type: "object",
				Properties: map[string]ai.Property{
					"url": {Type: "string"},
				},
				Required: []string{"url"},
			},
		},
	}}
}

func (c *fetchURLClient) fetch(ctx context.Context, argsJSON string) (*Response, error) {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if _, err := url.ParseRequestURI(args.URL); err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", args.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.tool.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch failed with status %d for %s", resp.StatusCode, args.URL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body failed: %w", err)
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
		if err != nil {
			return nil, fmt.Errorf("failed to parse HTML: %w", err)
		}
		doc.Find("script, style, footer, nav, aside, .sidebar, .hidden").Each(func(i int, s *goquery.Selection) {
			s.Remove()
		})
		text = doc.Text()
	}

	text = strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	if len(text) > c.maxLength {
		cut := c.maxLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "...[truncated]"
	}

	return &Response{Content: text, Args: args.URL}, nil
}
