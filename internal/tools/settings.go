package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"talkops/internal/ai"
	"talkops/internal/config"
	"talkops/internal/logger"
	"talkops/internal/thread"
)

const ToolSettings = "settings"

// settable maps exposed setting names to their config keys and value kinds.
var settable = map[string]struct {
	key  string
	kind string
}{
	"confirmation":       {"params.confirmation", "bool"},
	"memoryless":         {"params.memoryless", "bool"},
	"forget_timeout":     {"params.forget_timeout", "int"},
	"show_tool_messages": {"params.show_tool_messages", "string"},
	"model":              {"model", "string"},
}

// SettingsTool lets the model adjust a chat's own behavior flags. Changes are
// persisted to the config file, so they survive restarts.
type SettingsTool struct {
	cfg    *config.Config
	logger logger.Logger
}

func NewSettingsTool(cfg *config.Config, log logger.Logger) *SettingsTool {
	return &SettingsTool{
		cfg:    cfg,
		logger: log.WithField("tool", ToolSettings),
	}
}

func (t *SettingsTool) Name() string {
	return ToolSettings
}

func (t *SettingsTool) Call(chatCfg *config.ChatConfig, state *thread.State) Client {
	return &settingsClient{tool: t, chatID: chatCfg.ID}
}

func (t *SettingsTool) OptionsString(argsJSON string) string {
	var args struct {
		Setting string `json:"setting"`
		Value   string `json:"value"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return argsJSON
	}
	return fmt.Sprintf("%s = %s", args.Setting, args.Value)
}

type settingsClient struct {
	tool   *SettingsTool
	chatID int64
}

func (c *settingsClient) Functions() map[string]Func {
	return map[string]Func{
		"change_setting": c.change,
	}
}

func (c *settingsClient) Specs() []ai.Tool {
	return []ai.Tool{{
		Type: "function",
		Function: ai.ToolFunction{
			Name:        "change_setting",
			Description: "Change a chat setting. Available settings: confirmation (bool), memoryless (bool), forget_timeout (seconds, int), show_tool_messages (full|headers|none), model (string).",
			Parameters: ai.Parameters{
				Type: "object",
				Properties: map[string]ai.Property{
					"setting": {Type: "string", Description: "Setting name", Enum: []string{"confirmation", "memoryless", "forget_timeout", "show_tool_messages", "model"}},
					"value":   {Type: "string", Description: "New value, as a string"},
				},
				Required: []string{"setting", "value"},
			},
		},
	}}
}

func (c *settingsClient) change(ctx context.Context, argsJSON string) (*Response, error) {
	var args struct {
		Setting string `json:"setting"`
		Value   string `json:"value"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	def, ok := settable[args.Setting]
	if !ok {
		return nil, fmt.Errorf("unknown setting %q", args.Setting)
	}

	var value any
	switch def.kind {
	case "bool":
		b, err := strconv.ParseBool(args.Value)
		if err != nil {
			return nil, fmt.Errorf("setting %s expects a boolean, got %q", args.Setting, args.Value)
		}
		value = b
	case "int":
		n, err := strconv.Atoi(args.Value)
		if err != nil {
			return nil, fmt.Errorf("setting %s expects an integer, got %q", args.Setting, args.Value)
		}
		value = n
	default:
		value = args.Value
	}

	if err := c.tool.cfg.SetChatParam(c.chatID, def.key, value); err != nil {
		return nil, fmt.Errorf("failed to update setting: %w", err)
	}

	c.tool.logger.WithFields(logger.Fields{
		"chat_id": c.chatID,
		"setting": args.Setting,
		"value":   args.Value,
	}).Info("Chat setting changed")

	return &Response{
		Content: fmt.Sprintf("Setting %s changed to %s", args.Setting, args.Value),
		Args:    fmt.Sprintf("%s = %s", args.Setting, args.Value),
	}, nil
}
