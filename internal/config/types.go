package config

import (
	"slices"
	"strings"
	"time"
)

type LoggingConfig struct {
	LogLevel    string `koanf:"level"`
	WriteInFile bool   `koanf:"write_in_file"`
	FilePath    string `koanf:"file_path"`
}

func (c LoggingConfig) Level() string {
	return strings.ToLower(c.LogLevel)
}

func (c LoggingConfig) IsDebug() bool {
	return c.Level() == "debug" || c.Level() == "trace"
}

type TelegramConfig struct {
	Token        string  `koanf:"token"`
	AllowedUsers []int64 `koanf:"allowed_users"`
	AllowedChats []int64 `koanf:"allowed_chats"`
}

func (c TelegramConfig) IsAllowed(userID int64, chatID int64) bool {
	return c.IsUserAllowed(userID) || c.IsChatAllowed(chatID)
}

func (c TelegramConfig) IsUserAllowed(userID int64) bool {
	allowedUsers := c.AllowedUsers
	if len(allowedUsers) == 0 {
		return false
	}

	return slices.Contains(allowedUsers, userID)
}

func (c TelegramConfig) IsChatAllowed(chatID int64) bool {
	allowedChats := c.AllowedChats
	if len(allowedChats) == 0 {
		return true
	}

	return slices.Contains(allowedChats, chatID)
}

type AIConfig struct {
	BaseURL         string
	ChatURL         string
	APIKey          string
	DefaultModel    string
	SystemPrompt    string
	Temperature     float32
	UseStream       bool
	HistoryLimit    int
	DebounceDelay   time.Duration
	ConfirmationTTL time.Duration
}

type HTTPAPIConfig struct {
	Enabled bool
	Listen  string
	Token   string
}

type MQTTConfig struct {
	Enabled     bool
	Broker      string
	ClientID    string
	TopicPrefix string
}

type GlobalConfig struct {
	InterfaceLanguage string
	TurnRetentionDays int
}

// ChatParams are the behavioral flags of one chat.
type ChatParams struct {
	// Confirmation requires explicit user approval before any tool runs.
	Confirmation bool `koanf:"confirmation"`
	// Memoryless forgets history after each answered turn.
	Memoryless bool `koanf:"memoryless"`
	// ForgetTimeout is seconds of silence after which history is dropped.
	ForgetTimeout int `koanf:"forget_timeout"`
	// ShowToolMessages: "" or "full" shows formatted args, "headers" shows
	// only the call signature, "none" suppresses the line entirely.
	ShowToolMessages string `koanf:"show_tool_messages"`
}

type ButtonConfig struct {
	Label string `koanf:"label"`
	// Prompt is sent as the user text when the button is tapped. When
	// AwaitText is set the prompt is held until the next free-text message
	// and prepended to it.
	Prompt    string `koanf:"prompt"`
	AwaitText bool   `koanf:"await_text"`
}

// ChatConfig is the static-ish configuration of one chat identity.
type ChatConfig struct {
	ID            int64                     `koanf:"id"`
	Username      string                    `koanf:"username"`
	Agent         string                    `koanf:"agent"`
	Model         string                    `koanf:"model"`
	Temperature   *float32                  `koanf:"temperature"`
	SystemMessage string                    `koanf:"system_message"`
	Tools         []string                  `koanf:"tools"`
	ToolParams    map[string]map[string]any `koanf:"tool_params"`
	Buttons       []ButtonConfig            `koanf:"buttons"`
	ChatParams    ChatParams                `koanf:"params"`
}

func (c *ChatConfig) ToolEnabled(name string) bool {
	return slices.Contains(c.Tools, name)
}

func (c *ChatConfig) ForgetTimeout() time.Duration {
	return time.Duration(c.ChatParams.ForgetTimeout) * time.Second
}
