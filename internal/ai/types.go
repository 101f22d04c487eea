package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitzero"`
	ToolCallID string     `json:"tool_call_id,omitzero"`
	ToolCalls  []ToolCall `json:"tool_calls,omitzero"`
}

type ModelParams struct {
	Stream      *bool    `json:"stream,omitzero"`
	Temperature *float32 `json:"temperature,omitzero"`
	MaxTokens   *int     `json:"max_tokens,omitzero"`
}

func (base ModelParams) Merge(override ModelParams) ModelParams {
	if override.Stream != nil {
		base.Stream = override.Stream
	}
	if override.Temperature != nil {
		base.Temperature = override.Temperature
	}
	if override.MaxTokens != nil {
		base.MaxTokens = override.MaxTokens
	}
	return base
}

type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitzero"`
	Stream      bool      `json:"stream,omitempty"`
	Temperature *float32  `json:"temperature,omitzero"`
	MaxTokens   *int      `json:"max_tokens,omitzero"`
}

type ModelUsage struct {
	CompletionTokens int64 `json:"completion_tokens"`
	PromptTokens     int64 `json:"prompt_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type MessageResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type CompletionResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message MessageResponse `json:"message"`
	} `json:"choices"`
	Usage ModelUsage     `json:"usage,omitzero"`
	Error *ProviderError `json:"error,omitzero"`
}

type StreamResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage ModelUsage `json:"usage,omitzero"`
}

type ProviderError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}

type Chunk struct {
	Content string
	Usage   *ModelUsage
	Tools   []ToolCall
	Error   *AIError
}

// Provider is the contract the orchestrator needs from a completion-capable
// API: one-shot and streamed modes over the same request shape.
type Provider interface {
	Name() string
	Ask(ctx context.Context, request CompletionRequest) (*CompletionResponse, error)
	AskStream(ctx context.Context, request CompletionRequest) (<-chan Chunk, error)
	DefaultModel() string
}

// AIError is an enriched error from the completion provider.
type AIError struct {
	OriginalErr    error  `json:"-"`
	ProviderName   string `json:"provider_name"`
	ModelName      string `json:"model_name"`
	HTTPStatusCode int    `json:"http_status_code"`
	ErrorCode      string `json:"error_code"`
	Message        string `json:"message"`
}

func (e *AIError) Error() string {
	msg := e.Message
	if msg == "" && e.OriginalErr != nil {
		msg = e.OriginalErr.Error()
	}
	if e.ProviderName != "" && e.ModelName != "" {
		msg = fmt.Sprintf("[%s:%s] %s", e.ProviderName, e.ModelName, msg)
	}
	if e.ErrorCode != "" {
		msg = fmt.Sprintf("%s (code: %s)", msg, e.ErrorCode)
	}
	if e.HTTPStatusCode != 0 {
		msg = fmt.Sprintf("%d %s", e.HTTPStatusCode, msg)
	}
	return msg
}

func (e *AIError) Unwrap() error {
	return e.OriginalErr
}

// ErrorType classifies the error for retry decisions.
func (e *AIError) ErrorType() ErrorType {
	lower := strings.ToLower(e.Message)
	switch {
	case e.ErrorCode == "context_length_exceeded" ||
		strings.Contains(lower, "context length") ||
		strings.Contains(lower, "maximum context"):
		return ErrorTypeContextLength
	case e.HTTPStatusCode == 429:
		return ErrorTypeRateLimit
	case e.HTTPStatusCode >= 500:
		return ErrorTypeServer
	case e.HTTPStatusCode == 400 && strings.Contains(lower, "policy"):
		return ErrorTypeContentPolicy
	case e.HTTPStatusCode >= 400 && e.HTTPStatusCode < 500:
		return ErrorTypeClient
	default:
		return ErrorTypeUnknown
	}
}

type ErrorType string

const (
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypeServer        ErrorType = "server"
	ErrorTypeClient        ErrorType = "client"         // 4xx (except 429): invalid parameters, bad tool arguments
	ErrorTypeContentPolicy ErrorType = "content_policy" // 400/403 content policy violation
	ErrorTypeContextLength ErrorType = "context_length" // prompt exceeds the model context window
	ErrorTypeUnknown       ErrorType = "unknown"
)

func GetErrorType(err error) ErrorType {
	var aiErr *AIError
	if errors.As(err, &aiErr) {
		return aiErr.ErrorType()
	}
	return ErrorTypeUnknown
}

// IsContextLengthExceeded reports whether the prompt overran the model
// context window, which the orchestrator recovers from by forgetting history.
func IsContextLengthExceeded(err error) bool {
	return GetErrorType(err) == ErrorTypeContextLength
}

// IsInvalidParameter reports a 400-class "invalid parameter" failure, which
// is retried exactly once at the completion-call level.
func IsInvalidParameter(err error) bool {
	return GetErrorType(err) == ErrorTypeClient
}
