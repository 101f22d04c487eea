package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return NewTest(map[string]any{
		"telegram.token":         "test-token",
		"telegram.allowed_users": []int64{100},
		"telegram.allowed_chats": []int64{1},
		"chats": []any{
			map[string]any{
				"id":    int64(1),
				"agent": "kitchen",
				"model": "gpt-test",
				"tools": []string{"weather"},
				"params": map[string]any{
					"confirmation":   true,
					"forget_timeout": 300,
				},
			},
			map[string]any{
				"id": int64(2),
			},
		},
	})
}

func TestConfig_ChatByID(t *testing.T) {
	cfg := testConfig()

	chat, ok := cfg.ChatByID(1)
	require.True(t, ok)
	assert.Equal(t, "gpt-test", chat.Model)
	assert.True(t, chat.ChatParams.Confirmation)
	assert.Equal(t, 5*time.Minute, chat.ForgetTimeout())

	_, ok = cfg.ChatByID(999)
	assert.False(t, ok)
}

func TestConfig_ChatByAgent(t *testing.T) {
	cfg := testConfig()

	chat, ok := cfg.ChatByAgent("kitchen")
	require.True(t, ok)
	assert.Equal(t, int64(1), chat.ID)

	_, ok = cfg.ChatByAgent("")
	assert.False(t, ok, "chats without an agent name are not addressable")

	_, ok = cfg.ChatByAgent("garage")
	assert.False(t, ok)
}

func TestConfig_SetChatParam(t *testing.T) {
	cfg := testConfig()

	err := cfg.SetChatParam(1, "params.memoryless", true)
	require.NoError(t, err)

	chat, ok := cfg.ChatByID(1)
	require.True(t, ok)
	assert.True(t, chat.ChatParams.Memoryless)
	assert.True(t, chat.ChatParams.Confirmation, "existing params survive")

	err = cfg.SetChatParam(999, "model", "x")
	assert.Error(t, err)
}

func TestChatConfig_ToolEnabled(t *testing.T) {
	cfg := testConfig()
	chat, _ := cfg.ChatByID(1)

	assert.True(t, chat.ToolEnabled("weather"))
	assert.False(t, chat.ToolEnabled("fetch_url"))
}

func TestTelegramConfig_IsAllowed(t *testing.T) {
	cfg := testConfig()
	tg := cfg.Telegram()

	assert.True(t, tg.IsAllowed(100, 555), "whitelisted user is allowed anywhere")
	assert.True(t, tg.IsAllowed(200, 1), "any user is allowed in a whitelisted chat")
	assert.False(t, tg.IsAllowed(200, 555))

	empty := TelegramConfig{}
	assert.True(t, empty.IsChatAllowed(5), "empty chat whitelist allows all chats")
	assert.False(t, empty.IsUserAllowed(5), "empty user whitelist allows no users")
}

func TestConfig_Defaults(t *testing.T) {
	cfg := NewTest(nil)

	ai := cfg.AI()
	assert.Equal(t, "/chat/completions", ai.ChatURL)
	assert.Equal(t, 20, ai.HistoryLimit)
	assert.Equal(t, 700*time.Millisecond, ai.DebounceDelay)
	assert.Equal(t, time.Duration(0), ai.ConfirmationTTL)
	assert.Contains(t, ai.SystemPrompt, "{date}")
}
