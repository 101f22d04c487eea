package chat

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"talkops/internal/ai"
	"talkops/internal/config"
	"talkops/internal/logger"
	"talkops/internal/thread"
	"talkops/internal/tools"
)

// Notifier delivers intermediate turn output to the transport: tool-invocation
// lines and confirmation prompts. Transports that cannot render prompts pass
// nil and confirmation-gated tools are refused.
type Notifier interface {
	// Notify sends an informational line to the chat.
	Notify(ctx context.Context, chatID int64, text string)
	// AskConfirmation presents a Yes/No prompt correlated by id. The verdict
	// arrives later through Confirmations.Resolve.
	AskConfirmation(ctx context.Context, chatID int64, id, prompt string) error
}

// NoConfirmToken is the inline override a user can embed in a message to skip
// confirmation for that turn.
const NoConfirmToken = "noconfirm"

// StripNoConfirm removes the inline override token from the text. Reports
// whether the token was present.
func StripNoConfirm(text string) (string, bool) {
	fields := strings.Fields(text)
	kept := fields[:0]
	found := false
	for _, f := range fields {
		if strings.EqualFold(f, NoConfirmToken) {
			found = true
			continue
		}
		kept = append(kept, f)
	}
	if !found {
		return text, false
	}
	return strings.Join(kept, " "), true
}

// Engine resolves and executes the tool calls a completion response requests.
type Engine struct {
	registry      *tools.Registry
	confirmations *Confirmations
	logger        logger.Logger
}

func NewEngine(registry *tools.Registry, confirmations *Confirmations, log logger.Logger) *Engine {
	return &Engine{
		registry:      registry,
		confirmations: confirmations,
		logger:        log,
	}
}

// Execute runs every requested call and returns one response per call, in
// request order. A call that cannot be resolved or fails produces an error
// response rather than aborting the batch. Confirmation-gated calls run
// sequentially, each suspended until its verdict arrives; the rest run
// concurrently.
func (e *Engine) Execute(
	ctx context.Context,
	calls []ai.ToolCall,
	chatCfg *config.ChatConfig,
	state *thread.State,
	confirm bool,
	notifier Notifier,
) []*tools.Response {
	bindings := e.registry.BindFor(chatCfg, state)
	responses := make([]*tools.Response, len(calls))

	type job struct {
		idx     int
		binding tools.Binding
		call    ai.ToolCall
	}
	var jobs []job

	for i, call := range calls {
		name := call.Function.Name
		binding, ok := bindings[name]
		if !ok {
			e.logger.WithField("tool", name).Warn("Requested tool not found")
			responses[i] = &tools.Response{Content: "Tool not found: " + name}
			continue
		}

		if line := e.describe(binding, call, chatCfg.ChatParams.ShowToolMessages); line != "" && notifier != nil {
			notifier.Notify(ctx, chatCfg.ID, line)
		}

		if confirm {
			responses[i] = e.executeConfirmed(ctx, chatCfg, binding, call, notifier)
			continue
		}
		jobs = append(jobs, job{idx: i, binding: binding, call: call})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		g.Go(func() error {
			responses[j.idx] = e.run(gctx, j.binding, j.call)
			return nil
		})
	}
	g.Wait()

	return responses
}

func (e *Engine) run(ctx context.Context, binding tools.Binding, call ai.ToolCall) *tools.Response {
	resp, err := binding.Fn(ctx, call.Function.Arguments)
	if err != nil {
		e.logger.WithError(err).WithField("tool", call.Function.Name).Warn("Tool execution failed")
		return &tools.Response{Content: fmt.Sprintf("Error executing %s: %s", call.Function.Name, err.Error())}
	}
	if resp == nil {
		return &tools.Response{Content: ""}
	}
	return resp
}

func (e *Engine) executeConfirmed(
	ctx context.Context,
	chatCfg *config.ChatConfig,
	binding tools.Binding,
	call ai.ToolCall,
	notifier Notifier,
) *tools.Response {
	if notifier == nil {
		return &tools.Response{Content: "Confirmation required for " + call.Function.Name + " but this channel cannot ask for it."}
	}

	id, verdict := e.confirmations.Create()
	prompt := fmt.Sprintf("Run %s?", e.signature(binding, call))
	if err := notifier.AskConfirmation(ctx, chatCfg.ID, id, prompt); err != nil {
		e.confirmations.Cancel(id)
		e.logger.WithError(err).Warn("Failed to deliver confirmation prompt")
		return &tools.Response{Content: "Could not ask for confirmation: " + err.Error()}
	}

	e.logger.WithFields(logger.Fields{
		"tool":            call.Function.Name,
		"confirmation_id": id,
	}).Debug("Awaiting confirmation")

	select {
	case approved, ok := <-verdict:
		if !ok || !approved {
			return &tools.Response{Content: "Cancelled by user: " + call.Function.Name}
		}
	case <-ctx.Done():
		e.confirmations.Cancel(id)
		return &tools.Response{Content: "Cancelled: " + call.Function.Name}
	}

	return e.run(ctx, binding, call)
}

// describe renders the tool-invocation line shown to the user before
// execution. "none" suppresses it, "headers" shows only the call signature,
// anything else shows the full formatted arguments.
func (e *Engine) describe(binding tools.Binding, call ai.ToolCall, policy string) string {
	switch policy {
	case "none":
		return ""
	case "headers":
		return "🔧 " + call.Function.Name
	default:
		return "🔧 " + e.signature(binding, call)
	}
}

func (e *Engine) signature(binding tools.Binding, call ai.ToolCall) string {
	args := call.Function.Arguments
	if os, ok := binding.Tool.(tools.OptionsStringer); ok {
		args = os.OptionsString(call.Function.Arguments)
	}
	return fmt.Sprintf("%s(%s)", call.Function.Name, args)
}
