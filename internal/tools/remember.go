package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"talkops/internal/ai"
	"talkops/internal/config"
	"talkops/internal/logger"
	"talkops/internal/thread"
)

const ToolRemember = "remember"

// RememberTool stores standing instructions in the thread's custom system
// message. The instructions survive history forgets but not restarts.
type RememberTool struct {
	logger logger.Logger
}

func NewRememberTool(log logger.Logger) *RememberTool {
	return &RememberTool{logger: log.WithField("tool", ToolRemember)}
}

func (t *RememberTool) Name() string {
	return ToolRemember
}

func (t *RememberTool) Call(chatCfg *config.ChatConfig, state *thread.State) Client {
	return &rememberClient{tool: t, state: state}
}

func (t *RememberTool) OptionsString(argsJSON string) string {
	var args struct {
		Instruction string `json:"instruction"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return argsJSON
	}
	return args.Instruction
}

type rememberClient struct {
	tool  *RememberTool
	state *thread.State
}

func (c *rememberClient) Functions() map[string]Func {
	return map[string]Func{
		ToolRemember: c.remember,
		"forget_all": c.forgetAll,
	}
}

func (c *rememberClient) Specs() []ai.Tool {
	return []ai.Tool{
		{
			Type: "function",
			Function: ai.ToolFunction{
				Name:        ToolRemember,
				Description: "Remember a standing instruction or fact about the user for future turns. Use when the user asks you to remember something.",
				Parameters: ai.Parameters{
					Type: "object",
					Properties: map[string]ai.Property{
						"instruction": {Type: "string", Description: "The instruction or fact to remember"},
					},
					Required: []string{"instruction"},
				},
			},
		},
		{
			Type: "function",
			Function: ai.ToolFunction{
				Name:        "forget_all",
				Description: "Forget every previously remembered instruction. Use only when the user explicitly asks.",
				Parameters: ai.Parameters{
					Type:       "object",
					Properties: map[string]ai.Property{},
				},
			},
		},
	}
}

func (c *rememberClient) remember(ctx context.Context, argsJSON string) (*Response, error) {
	var args struct {
		Instruction string `json:"instruction"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Instruction == "" {
		return nil, fmt.Errorf("instruction is empty")
	}

	c.state.AppendCustomSystemMessage(args.Instruction)

	c.tool.logger.Debug("Remembered instruction")
	return &Response{Content: "Remembered.", Args: args.Instruction}, nil
}

func (c *rememberClient) forgetAll(ctx context.Context, argsJSON string) (*Response, error) {
	c.state.SetCustomSystemMessage("")
	return &Response{Content: "All remembered instructions dropped."}, nil
}
