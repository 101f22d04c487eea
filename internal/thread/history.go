package thread

import (
	"strings"
	"time"

	"talkops/internal/ai"
	"talkops/internal/config"
	"talkops/internal/logger"
)

// DefaultContextLimit bounds the history tail sent to the completion API.
const DefaultContextLimit = 20

// History applies the append/trim/forget policies to a thread.
type History struct {
	limit  int
	logger logger.Logger
}

func NewHistory(limit int, log logger.Logger) *History {
	if limit <= 0 {
		limit = DefaultContextLimit
	}
	return &History{
		limit:  limit,
		logger: log,
	}
}

// Add appends an inbound user message to both the raw timeline and the
// completion history.
func (h *History) Add(state *State, text, name string, at time.Time) {
	state.append(
		InboundMsg{Time: at, Text: text},
		ai.Message{Role: ai.RoleUser, Content: text, Name: SanitizeName(name)},
	)
}

// AddAssistant appends the produced answer to the completion history.
func (h *History) AddAssistant(state *State, text string) {
	state.appendMessage(ai.Message{Role: ai.RoleAssistant, Content: text})
}

// AddContext appends a synthetic system-role entry, used to fold tool results
// into the context for the follow-up completion call.
func (h *History) AddContext(state *State, text string) {
	state.appendMessage(ai.Message{Role: ai.RoleSystem, Content: text})
}

// ForgetOnTimeout forgets the thread when the gap between the current message
// and the previous one exceeds the chat's forget timeout, then re-adds the
// current message as a fresh turn. Every turn resets the clock: the policy is
// "timeout since previous message", not "since conversation start". A thread
// with fewer than two entries never times out.
func (h *History) ForgetOnTimeout(state *State, chatCfg *config.ChatConfig, now time.Time) bool {
	timeout := chatCfg.ForgetTimeout()
	if timeout <= 0 {
		return false
	}

	state.mu.Lock()
	if len(state.msgs) < 2 {
		state.mu.Unlock()
		return false
	}
	secondToLast := state.msgs[len(state.msgs)-2]
	if now.Sub(secondToLast.Time) <= timeout {
		state.mu.Unlock()
		return false
	}
	current := state.msgs[len(state.msgs)-1]
	currentMessage := state.messages[len(state.messages)-1]
	state.msgs = state.msgs[:0]
	state.messages = state.messages[:0]
	state.msgs = append(state.msgs, current)
	state.messages = append(state.messages, currentMessage)
	state.mu.Unlock()

	h.logger.WithFields(logger.Fields{
		"elapsed": now.Sub(secondToLast.Time).String(),
		"timeout": timeout.String(),
	}).Info("Forgot history on timeout")
	return true
}

// BuildMessages returns [system, ...tail] where tail is the last N history
// entries. A tool-role message surviving at the head of the tail without the
// assistant message that issued its call is dropped: the completion API
// rejects a tool message with no matching preceding tool call.
func (h *History) BuildMessages(systemMessage string, state *State) []ai.Message {
	history := state.Messages()
	if len(history) > h.limit {
		history = history[len(history)-h.limit:]
	}

	for len(history) > 0 && history[0].Role == ai.RoleTool {
		h.logger.WithField("tool_call_id", history[0].ToolCallID).
			Debug("Dropped orphan tool message after trimming")
		history = history[1:]
	}

	messages := make([]ai.Message, 0, len(history)+1)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: systemMessage})
	messages = append(messages, history...)
	return messages
}

const maxNameLen = 64

// SanitizeName strips everything the completion API rejects in a name field,
// keeping alphanumerics, underscore and dash.
func SanitizeName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if sb.Len() >= maxNameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
