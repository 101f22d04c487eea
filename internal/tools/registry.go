package tools

import (
	"context"

	"talkops/internal/ai"
	"talkops/internal/config"
	"talkops/internal/logger"
	"talkops/internal/thread"
)

// Response is the result of executing one tool call. Content is always
// present, possibly an error description; Args optionally echoes the call
// arguments for display.
type Response struct {
	Content string
	Args    string
}

// Func executes one call with the raw JSON-encoded argument string.
type Func func(ctx context.Context, argsJSON string) (*Response, error)

// Client is what a tool exposes once bound to a chat and thread.
type Client interface {
	// Functions maps callable names to their implementations.
	Functions() map[string]Func
	// Specs lists the JSON-schema tool specs for the completion API.
	Specs() []ai.Tool
}

// OptionsStringer formats a pending or executed call for humans. Optional.
type OptionsStringer interface {
	OptionsString(argsJSON string) string
}

// DefaultParamser supplies parameters merged into a chat's tool params when
// the tool is enabled. Optional.
type DefaultParamser interface {
	DefaultParams() map[string]any
}

// Tool is one registered tool module.
type Tool interface {
	Name() string
	Call(chatCfg *config.ChatConfig, state *thread.State) Client
}

// Registry is the static set of tool constructors built at startup.
type Registry struct {
	tools  map[string]Tool
	order  []string
	logger logger.Logger
}

func NewRegistry(log logger.Logger, tools ...Tool) *Registry {
	r := &Registry{
		tools:  make(map[string]Tool),
		logger: log,
	}
	for _, tool := range tools {
		r.Register(tool)
	}
	return r
}

// Register adds a tool. Invalid tools are skipped with a warning, not fatal.
func (r *Registry) Register(tool Tool) {
	if tool == nil || tool.Name() == "" {
		r.logger.Warn("Skipping invalid tool registration")
		return
	}
	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		r.logger.WithField("tool", name).Warn("Duplicate tool registration skipped")
		return
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	r.logger.WithField("tool", name).Debug("Registered tool")
}

func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *Registry) Names() []string {
	return append([]string{}, r.order...)
}

// Binding is one callable function of an enabled tool, bound to a chat and
// thread. Tool is retained for the optional display interfaces.
type Binding struct {
	Tool   Tool
	Client Client
	Fn     Func
}

// BindFor binds every tool enabled for the chat, keyed by function name so
// the invocation engine can resolve a requested call directly.
func (r *Registry) BindFor(chatCfg *config.ChatConfig, state *thread.State) map[string]Binding {
	bindings := make(map[string]Binding)
	for _, name := range r.order {
		if !chatCfg.ToolEnabled(name) {
			continue
		}
		tool := r.tools[name]
		client := tool.Call(chatCfg, state)
		if client == nil {
			r.logger.WithField("tool", name).Warn("Tool returned nil client, skipping")
			continue
		}
		for fnName, fn := range client.Functions() {
			bindings[fnName] = Binding{Tool: tool, Client: client, Fn: fn}
		}
	}
	return bindings
}

// SpecsFor collects the completion-API tool specs of every enabled tool.
func (r *Registry) SpecsFor(chatCfg *config.ChatConfig, state *thread.State) []ai.Tool {
	var specs []ai.Tool
	for _, name := range r.order {
		if !chatCfg.ToolEnabled(name) {
			continue
		}
		client := r.tools[name].Call(chatCfg, state)
		if client == nil {
			continue
		}
		specs = append(specs, client.Specs()...)
	}
	return specs
}

// MergedParams returns the chat's parameters for a tool, with the tool's
// defaults filled in underneath.
func MergedParams(tool Tool, chatCfg *config.ChatConfig) map[string]any {
	params := make(map[string]any)
	if dp, ok := tool.(DefaultParamser); ok {
		for k, v := range dp.DefaultParams() {
			params[k] = v
		}
	}
	for k, v := range chatCfg.ToolParams[tool.Name()] {
		params[k] = v
	}
	return params
}

func (r *Registry) MergedParams(chatCfg *config.ChatConfig, toolName string) map[string]any {
	tool, ok := r.tools[toolName]
	if !ok {
		params := make(map[string]any)
		for k, v := range chatCfg.ToolParams[toolName] {
			params[k] = v
		}
		return params
	}
	return MergedParams(tool, chatCfg)
}

// IntParam reads an integer tool parameter, tolerating the numeric types
// config decoding produces.
func IntParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}
