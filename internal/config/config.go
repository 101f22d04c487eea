package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
)

const (
	GLOBAL_LANGUAGE            = "global.interface_language"
	GLOBAL_TURN_RETENTION_DAYS = "global.turn_retention_days"
	AI_BASE_URL                = "ai.base_url"
	AI_CHAT_URL                = "ai.chat_url"
	AI_API_KEY                 = "ai.api_key"
	AI_DEFAULT_MODEL           = "ai.default_model"
	AI_SYSTEM_PROMPT           = "ai.system_prompt"
	AI_TEMPERATURE             = "ai.temperature"
	AI_USE_STREAM              = "ai.use_stream"
	AI_HISTORY_LIMIT           = "ai.history_limit"
	AI_DEBOUNCE_DELAY          = "ai.debounce_delay"
	AI_CONFIRM_TTL             = "ai.confirmation_ttl"
	TELEGRAM_TOKEN             = "telegram.token"
	HTTP_API_ENABLED           = "http_api.enabled"
	HTTP_API_LISTEN            = "http_api.listen"
	HTTP_API_TOKEN             = "http_api.token"
	MQTT_ENABLED               = "mqtt.enabled"
	MQTT_BROKER                = "mqtt.broker"
	MQTT_CLIENT_ID             = "mqtt.client_id"
	MQTT_TOPIC_PREFIX          = "mqtt.topic_prefix"
	DATABASE_DSN               = "database.dsn"
	LOGGING_LEVEL              = "logging.level"
	LOGGING_WRITE_IN_FILE      = "logging.write_in_file"
	LOGGING_FILE_PATH          = "logging.file_path"
)

type Config struct {
	mu   sync.RWMutex
	k    *koanf.Koanf
	path string
}

var configPath string

func init() {
	flag.StringVar(&configPath, "config", "", "Path to config file")
}

func defaults() map[string]any {
	return map[string]any{
		GLOBAL_LANGUAGE:            "en",
		GLOBAL_TURN_RETENTION_DAYS: 30,
		AI_CHAT_URL:                "/chat/completions",
		AI_SYSTEM_PROMPT:           "You are a helpful assistant. Current date: {date}.",
		AI_TEMPERATURE:             1.0,
		AI_USE_STREAM:              false,
		AI_HISTORY_LIMIT:           20,
		AI_DEBOUNCE_DELAY:          700 * time.Millisecond,
		AI_CONFIRM_TTL:             time.Duration(0),
		HTTP_API_ENABLED:           false,
		HTTP_API_LISTEN:            ":8090",
		MQTT_ENABLED:               false,
		MQTT_CLIENT_ID:             "talkops",
		MQTT_TOPIC_PREFIX:          "talkops",
		DATABASE_DSN:               "talkops.db?_journal=WAL&_busy_timeout=5000&_synchronous=NORMAL",
		LOGGING_LEVEL:              "info",
		LOGGING_WRITE_IN_FILE:      false,
	}
}

func Load() (*Config, error) {
	k := koanf.New(".")
	k.Load(confmap.Provider(defaults(), "."), nil)

	var loadedPath string
	for _, path := range getConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("error loading config %s: %v", path, err)
			}
			loadedPath = path
			break
		}
	}

	k.Load(env.Provider("TALKOPS_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "TALKOPS_")),
			"_", ".",
		)
	}), nil)

	if k.String(TELEGRAM_TOKEN) == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	return &Config{k: k, path: loadedPath}, nil
}

// NewTest builds a config from literal values layered over the defaults,
// without touching the filesystem or environment. Intended for tests.
func NewTest(values map[string]any) *Config {
	k := koanf.New(".")
	k.Load(confmap.Provider(defaults(), "."), nil)
	if values != nil {
		k.Load(confmap.Provider(values, "."), nil)
	}
	return &Config{k: k}
}

// Watch reloads the config whenever the file changes on disk. Consumers must
// re-resolve chat config by identity on every turn instead of caching it.
func (c *Config) Watch(onChange func()) error {
	if c.path == "" {
		return nil
	}
	f := file.Provider(c.path)
	return f.Watch(func(event any, err error) {
		if err != nil {
			return
		}
		k := koanf.New(".")
		k.Load(confmap.Provider(defaults(), "."), nil)
		if err := k.Load(f, toml.Parser()); err != nil {
			return
		}
		c.mu.Lock()
		c.k = k
		c.mu.Unlock()
		if onChange != nil {
			onChange()
		}
	})
}

func (c *Config) koanf() *koanf.Koanf {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.k
}

func (c *Config) Telegram() TelegramConfig {
	var cfg TelegramConfig
	if err := c.koanf().Unmarshal("telegram", &cfg); err != nil {
		return TelegramConfig{}
	}
	return cfg
}

func (c *Config) AI() AIConfig {
	k := c.koanf()
	return AIConfig{
		BaseURL:         k.String(AI_BASE_URL),
		ChatURL:         k.String(AI_CHAT_URL),
		APIKey:          k.String(AI_API_KEY),
		DefaultModel:    k.String(AI_DEFAULT_MODEL),
		SystemPrompt:    k.String(AI_SYSTEM_PROMPT),
		Temperature:     float32(k.Float64(AI_TEMPERATURE)),
		UseStream:       k.Bool(AI_USE_STREAM),
		HistoryLimit:    k.Int(AI_HISTORY_LIMIT),
		DebounceDelay:   k.Duration(AI_DEBOUNCE_DELAY),
		ConfirmationTTL: k.Duration(AI_CONFIRM_TTL),
	}
}

func (c *Config) HTTPAPI() HTTPAPIConfig {
	k := c.koanf()
	return HTTPAPIConfig{
		Enabled: k.Bool(HTTP_API_ENABLED),
		Listen:  k.String(HTTP_API_LISTEN),
		Token:   k.String(HTTP_API_TOKEN),
	}
}

func (c *Config) MQTT() MQTTConfig {
	k := c.koanf()
	return MQTTConfig{
		Enabled:     k.Bool(MQTT_ENABLED),
		Broker:      k.String(MQTT_BROKER),
		ClientID:    k.String(MQTT_CLIENT_ID),
		TopicPrefix: k.String(MQTT_TOPIC_PREFIX),
	}
}

func (c *Config) Log() LoggingConfig {
	k := c.koanf()
	return LoggingConfig{
		LogLevel:    k.String(LOGGING_LEVEL),
		WriteInFile: k.Bool(LOGGING_WRITE_IN_FILE),
		FilePath:    k.String(LOGGING_FILE_PATH),
	}
}

func (c *Config) Global() GlobalConfig {
	k := c.koanf()
	return GlobalConfig{
		InterfaceLanguage: k.String(GLOBAL_LANGUAGE),
		TurnRetentionDays: k.Int(GLOBAL_TURN_RETENTION_DAYS),
	}
}

func (c *Config) GetDatabaseDSN() string {
	return c.koanf().String(DATABASE_DSN)
}

// Chats returns every configured chat block.
func (c *Config) Chats() []ChatConfig {
	var chats []ChatConfig
	if err := c.koanf().Unmarshal("chats", &chats); err != nil {
		return nil
	}
	return chats
}

// ChatByID resolves the chat config for a Telegram chat id. Must be called
// per turn: the underlying koanf instance may be swapped by Watch.
func (c *Config) ChatByID(chatID int64) (*ChatConfig, bool) {
	for _, chat := range c.Chats() {
		if chat.ID == chatID {
			return &chat, true
		}
	}
	return nil, false
}

// ChatByAgent resolves the chat config for a named agent endpoint.
func (c *Config) ChatByAgent(name string) (*ChatConfig, bool) {
	if name == "" {
		return nil, false
	}
	for _, chat := range c.Chats() {
		if chat.Agent == name {
			return &chat, true
		}
	}
	return nil, false
}

// SetChatParam updates one chat's parameter in the live config and persists
// the whole tree back to the config file. Used by the settings tool.
func (c *Config) SetChatParam(chatID int64, key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw := c.k.Raw()
	chats, ok := raw["chats"].([]any)
	if !ok {
		return fmt.Errorf("no chats configured")
	}

	var target map[string]any
	for _, entry := range chats {
		chat, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := toInt64(chat["id"]); ok && id == chatID {
			target = chat
			break
		}
	}
	if target == nil {
		return fmt.Errorf("chat %d not found in config", chatID)
	}

	// walk the dotted key, creating intermediate tables as needed
	parts := strings.Split(key, ".")
	node := target
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(raw, "."), nil); err != nil {
		return err
	}
	c.k = k

	if c.path == "" {
		return nil
	}
	data, err := c.k.Marshal(toml.Parser())
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o644)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func getConfigPaths() []string {
	if configPath != "" {
		return []string{configPath}
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		home, _ := os.UserHomeDir()
		xdgConfig = filepath.Join(home, ".config")
	}

	return []string{
		"talkops.toml",
		"config.toml",
		filepath.Join(xdgConfig, "talkops", "config.toml"),
		"/etc/talkops/config.toml",
	}
}
