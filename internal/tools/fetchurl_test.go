package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkops/internal/config"
	"talkops/internal/logger"
	"talkops/internal/thread"
)

func fetchChatConfig(maxLength any) *config.ChatConfig {
	return &config.ChatConfig{
		ID:    1,
		Tools: []string{ToolFetchURL},
		ToolParams: map[string]map[string]any{
			ToolFetchURL: {"max_length": maxLength},
		},
	}
}

func TestFetchURLTool_Call_MaxLengthFromConfig(t *testing.T) {
	tool := NewFetchURLTool(http.DefaultClient, logger.NewTestLogger())

	t.Run("int64 as config decoding delivers it", func(t *testing.T) {
		client := tool.Call(fetchChatConfig(int64(500)), &thread.State{}).(*fetchURLClient)
		assert.Equal(t, 500, client.maxLength)
	})

	t.Run("plain int", func(t *testing.T) {
		client := tool.Call(fetchChatConfig(500), &thread.State{}).(*fetchURLClient)
		assert.Equal(t, 500, client.maxLength)
	})

	t.Run("default fills in when unset", func(t *testing.T) {
		client := tool.Call(&config.ChatConfig{ID: 1, Tools: []string{ToolFetchURL}}, &thread.State{}).(*fetchURLClient)
		assert.Equal(t, 8000, client.maxLength)
	})
}

func TestFetchURLClient_Fetch_TruncatesOnRuneBoundary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>日日日日日</body></html>")
	}))
	t.Cleanup(server.Close)

	tool := NewFetchURLTool(server.Client(), logger.NewTestLogger())
	// 10 bytes lands inside the fourth 3-byte rune
	client := tool.Call(fetchChatConfig(int64(10)), &thread.State{})

	resp, err := client.Functions()[ToolFetchURL](context.Background(), fmt.Sprintf(`{"url":%q}`, server.URL))

	require.NoError(t, err)
	assert.True(t, utf8.ValidString(resp.Content))
	assert.Equal(t, "日日日...[truncated]", resp.Content)
}

func TestFetchURLClient_Fetch_StripsMarkupAndWhitespace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><script>alert(1)</script><p>hello\n\n  world</p></body></html>")
	}))
	t.Cleanup(server.Close)

	tool := NewFetchURLTool(server.Client(), logger.NewTestLogger())
	client := tool.Call(&config.ChatConfig{ID: 1, Tools: []string{ToolFetchURL}}, &thread.State{})

	resp, err := client.Functions()[ToolFetchURL](context.Background(), fmt.Sprintf(`{"url":%q}`, server.URL))

	require.NoError(t, err)
	assert.Equal(t, "hello world", resp.Content)
	assert.False(t, strings.Contains(resp.Content, "alert"))
}

func TestFetchURLClient_Fetch_RejectsBadInput(t *testing.T) {
	tool := NewFetchURLTool(http.DefaultClient, logger.NewTestLogger())
	client := tool.Call(&config.ChatConfig{ID: 1}, &thread.State{})

	_, err := client.Functions()[ToolFetchURL](context.Background(), `{"url":"not a url"}`)
	assert.Error(t, err)

	_, err = client.Functions()[ToolFetchURL](context.Background(), `{"broken`)
	assert.Error(t, err)
}
