package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"talkops/internal/ai"
	"talkops/internal/config"
	"talkops/internal/logger"
	"talkops/internal/thread"
	"talkops/internal/tools"
)

// Archiver persists completed turns for later inspection. Optional.
type Archiver interface {
	SaveTurn(ctx context.Context, chatID int64, question, answer string) error
}

// Turn is one inbound message entering the orchestrator.
type Turn struct {
	ChatID   int64
	Text     string
	Name     string
	At       time.Time
	Notifier Notifier
}

// Orchestrator runs the full turn cycle: context building, completion calls,
// tool round-trips and error recovery.
type Orchestrator struct {
	provider  ai.Provider
	store     *thread.Store
	history   *thread.History
	registry  *tools.Registry
	engine    *Engine
	debouncer *Debouncer
	cfg       *config.Config
	archiver  Archiver
	logger    logger.Logger
}

func NewOrchestrator(
	provider ai.Provider,
	store *thread.Store,
	history *thread.History,
	registry *tools.Registry,
	engine *Engine,
	cfg *config.Config,
	archiver Archiver,
	log logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		provider:  provider,
		store:     store,
		history:   history,
		registry:  registry,
		engine:    engine,
		debouncer: NewDebouncer(log),
		cfg:       cfg,
		archiver:  archiver,
		logger:    log,
	}
}

// Process handles one turn with debounce: the answer is computed after the
// configured delay and only if no newer message supersedes this one. The
// answer, or the error text standing in for it, is passed to deliver.
func (o *Orchestrator) Process(ctx context.Context, chatCfg *config.ChatConfig, turn Turn, deliver func(answer string)) {
	state, text, noconfirm := o.ingest(chatCfg, &turn)
	o.debouncer.Schedule(ctx, state, o.cfg.AI().DebounceDelay, func() {
		answer := o.answer(ctx, chatCfg, state, text, turn, noconfirm, false)
		deliver(answer)
	})
}

// Ask handles one turn synchronously, without debounce. Used by the agent
// endpoints where each request expects exactly one response.
func (o *Orchestrator) Ask(ctx context.Context, chatCfg *config.ChatConfig, turn Turn) string {
	state, text, noconfirm := o.ingest(chatCfg, &turn)
	return o.answer(ctx, chatCfg, state, text, turn, noconfirm, false)
}

// ingest appends the inbound message and applies the forget-timeout policy.
func (o *Orchestrator) ingest(chatCfg *config.ChatConfig, turn *Turn) (*thread.State, string, bool) {
	if turn.At.IsZero() {
		turn.At = time.Now()
	}
	state := o.store.GetOrCreate(chatCfg.ID)
	text, noconfirm := StripNoConfirm(turn.Text)
	o.history.Add(state, text, turn.Name, turn.At)
	o.history.ForgetOnTimeout(state, chatCfg, turn.At)
	return state, text, noconfirm
}

func (o *Orchestrator) answer(
	ctx context.Context,
	chatCfg *config.ChatConfig,
	state *thread.State,
	text string,
	turn Turn,
	noconfirm bool,
	secondTry bool,
) string {
	aiCfg := o.cfg.AI()
	system := o.resolveSystemMessage(chatCfg, state, aiCfg)
	params := o.resolveParams(chatCfg, state, aiCfg)
	req := ai.CompletionRequest{
		Model:       o.resolveModel(chatCfg),
		Messages:    o.history.BuildMessages(system, state),
		Tools:       o.registry.SpecsFor(chatCfg, state),
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	}
	stream := params.Stream != nil && *params.Stream

	content, toolCalls, err := o.complete(ctx, req, stream)
	if err != nil {
		if ai.IsContextLengthExceeded(err) && !secondTry {
			o.logger.WithField("chat_id", chatCfg.ID).
				Warn("Context length exceeded, forgetting history and resending")
			if turn.Notifier != nil {
				turn.Notifier.Notify(ctx, chatCfg.ID, "Context limit exceeded, forgetting history and resending...")
			}
			state.Forget()
			o.history.Add(state, text, turn.Name, turn.At)
			return o.answer(ctx, chatCfg, state, text, turn, noconfirm, true)
		}
		o.logger.WithError(err).WithField("chat_id", chatCfg.ID).Error("Completion failed")
		return err.Error()
	}

	if len(toolCalls) == 0 {
		return o.finishPlain(ctx, chatCfg, state, text, content)
	}

	if !argsValid(toolCalls) {
		o.logger.WithField("chat_id", chatCfg.ID).
			Warn("Malformed tool-call arguments, retrying completion once")
		content, toolCalls, err = o.complete(ctx, req, stream)
		if err != nil {
			return err.Error()
		}
		if len(toolCalls) == 0 {
			return o.finishPlain(ctx, chatCfg, state, text, content)
		}
		if !argsValid(toolCalls) {
			return "The model produced malformed tool arguments."
		}
	}

	confirm := chatCfg.ChatParams.Confirmation && !noconfirm
	results := o.engine.Execute(ctx, toolCalls, chatCfg, state, confirm, turn.Notifier)
	o.history.AddContext(state, toolSummary(toolCalls, results))

	followup := req
	followup.Messages = o.history.BuildMessages(system, state)
	followup.Tools = nil
	answer, _, err := o.complete(ctx, followup, stream)
	if err != nil {
		o.logger.WithError(err).Error("Follow-up completion failed")
		return err.Error()
	}

	// Tool-assisted turns are one-shot: the tool round-trip is not
	// remembered across turns.
	state.Forget()
	o.archive(ctx, chatCfg.ID, text, answer)
	return answer
}

func (o *Orchestrator) finishPlain(ctx context.Context, chatCfg *config.ChatConfig, state *thread.State, question, answer string) string {
	o.history.AddAssistant(state, answer)
	if chatCfg.ChatParams.Memoryless {
		state.Forget()
	}
	o.archive(ctx, chatCfg.ID, question, answer)
	return answer
}

// complete issues one completion call, retrying exactly once on a 400-class
// invalid-parameter error. Other errors propagate immediately.
func (o *Orchestrator) complete(ctx context.Context, req ai.CompletionRequest, stream bool) (string, []ai.ToolCall, error) {
	content, calls, err := o.completeOnce(ctx, req, stream)
	if err != nil && ai.IsInvalidParameter(err) {
		o.logger.WithError(err).Warn("Invalid parameter from provider, retrying once")
		return o.completeOnce(ctx, req, stream)
	}
	return content, calls, err
}

func (o *Orchestrator) completeOnce(ctx context.Context, req ai.CompletionRequest, stream bool) (string, []ai.ToolCall, error) {
	if stream {
		req.Stream = true
		ch, err := o.provider.AskStream(ctx, req)
		if err != nil {
			return "", nil, err
		}
		var sb strings.Builder
		var calls []ai.ToolCall
		for chunk := range ch {
			if chunk.Error != nil {
				return "", nil, chunk.Error
			}
			sb.WriteString(chunk.Content)
			calls = append(calls, chunk.Tools...)
		}
		return sb.String(), calls, nil
	}

	resp, err := o.provider.Ask(ctx, req)
	if err != nil {
		return "", nil, err
	}
	if len(resp.Choices) == 0 {
		return "", nil, &ai.AIError{ProviderName: o.provider.Name(), Message: "empty response"}
	}
	message := resp.Choices[0].Message
	return message.Content, message.ToolCalls, nil
}

// resolveSystemMessage picks the effective system message: one-shot override,
// then thread custom, then chat config, then the global default. The {date}
// placeholder is substituted everywhere.
func (o *Orchestrator) resolveSystemMessage(chatCfg *config.ChatConfig, state *thread.State, aiCfg config.AIConfig) string {
	message := aiCfg.SystemPrompt
	if next := state.TakeNextSystemMessage(); next != "" {
		message = next
	} else if custom := state.CustomSystemMessage(); custom != "" {
		message = custom
	} else if chatCfg.SystemMessage != "" {
		message = chatCfg.SystemMessage
	}
	return strings.ReplaceAll(message, "{date}", time.Now().Format("2006-01-02"))
}

func (o *Orchestrator) resolveModel(chatCfg *config.ChatConfig) string {
	if chatCfg.Model != "" {
		return chatCfg.Model
	}
	return o.provider.DefaultModel()
}

// resolveParams layers completion parameters: global config, then the chat
// block, then the thread's own overrides.
func (o *Orchestrator) resolveParams(chatCfg *config.ChatConfig, state *thread.State, aiCfg config.AIConfig) ai.ModelParams {
	temperature := aiCfg.Temperature
	stream := aiCfg.UseStream
	base := ai.ModelParams{Temperature: &temperature, Stream: &stream}
	return base.
		Merge(ai.ModelParams{Temperature: chatCfg.Temperature}).
		Merge(state.Params())
}

func (o *Orchestrator) archive(ctx context.Context, chatID int64, question, answer string) {
	if o.archiver == nil {
		return
	}
	if err := o.archiver.SaveTurn(ctx, chatID, question, answer); err != nil {
		o.logger.WithError(err).Warn("Failed to archive turn")
	}
}

func argsValid(calls []ai.ToolCall) bool {
	for _, call := range calls {
		if call.Function.Arguments == "" {
			continue
		}
		if _, err := call.Function.GetArguments(); err != nil {
			return false
		}
	}
	return true
}

// toolSummary folds the batch results into one context entry, preserving the
// request order.
func toolSummary(calls []ai.ToolCall, results []*tools.Response) string {
	var sb strings.Builder
	sb.WriteString("Tool results:\n")
	for i, result := range results {
		header := calls[i].Function.Name
		if result.Args != "" {
			header = result.Args
		}
		sb.WriteString(fmt.Sprintf("> %s: %s\n", header, result.Content))
	}
	return sb.String()
}
