package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkops/internal/ai"
	"talkops/internal/config"
	"talkops/internal/logger"
	"talkops/internal/thread"
	"talkops/internal/tools"
)

// recordingNotifier captures intermediate lines and confirmation prompts.
type recordingNotifier struct {
	mu       sync.Mutex
	notices  []string
	prompts  []string
	ids      []string
	askError error
}

func (n *recordingNotifier) Notify(ctx context.Context, chatID int64, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, text)
}

func (n *recordingNotifier) AskConfirmation(ctx context.Context, chatID int64, id, prompt string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.askError != nil {
		return n.askError
	}
	n.ids = append(n.ids, id)
	n.prompts = append(n.prompts, prompt)
	return nil
}

func (n *recordingNotifier) lastID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.ids) == 0 {
		return ""
	}
	return n.ids[len(n.ids)-1]
}

// slowTool records invocation order to verify concurrent execution and
// result ordering.
type slowTool struct {
	mu      sync.Mutex
	invoked []string
	delay   time.Duration
}

func (s *slowTool) Name() string { return "slow" }

func (s *slowTool) Call(chatCfg *config.ChatConfig, state *thread.State) tools.Client {
	return &slowClient{tool: s}
}

type slowClient struct {
	tool *slowTool
}

func (c *slowClient) Functions() map[string]tools.Func {
	fn := func(name string, delay time.Duration) tools.Func {
		return func(ctx context.Context, argsJSON string) (*tools.Response, error) {
			time.Sleep(delay)
			c.tool.mu.Lock()
			c.tool.invoked = append(c.tool.invoked, name)
			c.tool.mu.Unlock()
			return &tools.Response{Content: "result of " + name}, nil
		}
	}
	return map[string]tools.Func{
		"slow_a": fn("slow_a", c.tool.delay),
		"slow_b": fn("slow_b", 0),
	}
}

func (c *slowClient) Specs() []ai.Tool { return nil }

func call(name, args string) ai.ToolCall {
	return ai.ToolCall{
		ID: "id-" + name, Type: "function",
		Function: ai.FunctionCall{Name: name, Arguments: args},
	}
}

func TestStripNoConfirm(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		found    bool
	}{
		{"absent", "run the backup", "run the backup", false},
		{"trailing", "run the backup noconfirm", "run the backup", true},
		{"leading", "noconfirm run the backup", "run the backup", true},
		{"case insensitive", "NoConfirm do it", "do it", true},
		{"not a substring match", "noconfirmation please", "noconfirmation please", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stripped, found := StripNoConfirm(tt.input)
			assert.Equal(t, tt.expected, stripped)
			assert.Equal(t, tt.found, found)
		})
	}
}

func TestEngine_Execute_PreservesOrder(t *testing.T) {
	l := logger.NewTestLogger()
	slow := &slowTool{delay: 30 * time.Millisecond}
	registry := tools.NewRegistry(l, slow)
	engine := NewEngine(registry, NewConfirmations(0, l), l)
	chatCfg := &config.ChatConfig{ID: 1, Tools: []string{"slow"}, ChatParams: config.ChatParams{ShowToolMessages: "none"}}

	responses := engine.Execute(
		context.Background(),
		[]ai.ToolCall{call("slow_a", "{}"), call("slow_b", "{}")},
		chatCfg, &thread.State{}, false, nil,
	)

	require.Len(t, responses, 2)
	assert.Equal(t, "result of slow_a", responses[0].Content, "results keep request order")
	assert.Equal(t, "result of slow_b", responses[1].Content)

	slow.mu.Lock()
	defer slow.mu.Unlock()
	require.Len(t, slow.invoked, 2)
	assert.Equal(t, "slow_b", slow.invoked[0], "calls run concurrently, fast one finishes first")
}

func TestEngine_Execute_ToolNotFound(t *testing.T) {
	l := logger.NewTestLogger()
	engine := NewEngine(tools.NewRegistry(l), NewConfirmations(0, l), l)

	responses := engine.Execute(
		context.Background(),
		[]ai.ToolCall{call("ghost", "{}")},
		&config.ChatConfig{ID: 1}, &thread.State{}, false, nil,
	)

	require.Len(t, responses, 1)
	assert.Equal(t, "Tool not found: ghost", responses[0].Content)
}

func TestEngine_Execute_ConfirmationSuppressesExecution(t *testing.T) {
	l := logger.NewTestLogger()
	echo := &echoTool{content: "echoed"}
	confirmations := NewConfirmations(0, l)
	engine := NewEngine(tools.NewRegistry(l, echo), confirmations, l)
	chatCfg := &config.ChatConfig{
		ID: 1, Tools: []string{"echo"},
		ChatParams: config.ChatParams{Confirmation: true, ShowToolMessages: "none"},
	}
	notifier := &recordingNotifier{}

	done := make(chan []*tools.Response, 1)
	go func() {
		done <- engine.Execute(
			context.Background(),
			[]ai.ToolCall{call("echo", "{}")},
			chatCfg, &thread.State{}, true, notifier,
		)
	}()

	require.Eventually(t, func() bool { return notifier.lastID() != "" },
		time.Second, 5*time.Millisecond, "confirmation prompt should be sent")
	assert.Equal(t, 0, echo.invocations(), "tool must not run before the verdict")

	require.True(t, confirmations.Resolve(notifier.lastID(), true))

	select {
	case responses := <-done:
		require.Len(t, responses, 1)
		assert.Equal(t, "echoed", responses[0].Content)
		assert.Equal(t, 1, echo.invocations())
	case <-time.After(time.Second):
		t.Fatal("execution did not resume after confirmation")
	}
}

func TestEngine_Execute_CancelSkipsExecution(t *testing.T) {
	l := logger.NewTestLogger()
	echo := &echoTool{content: "echoed"}
	confirmations := NewConfirmations(0, l)
	engine := NewEngine(tools.NewRegistry(l, echo), confirmations, l)
	chatCfg := &config.ChatConfig{
		ID: 1, Tools: []string{"echo"},
		ChatParams: config.ChatParams{Confirmation: true, ShowToolMessages: "none"},
	}
	notifier := &recordingNotifier{}

	done := make(chan []*tools.Response, 1)
	go func() {
		done <- engine.Execute(
			context.Background(),
			[]ai.ToolCall{call("echo", "{}")},
			chatCfg, &thread.State{}, true, notifier,
		)
	}()

	require.Eventually(t, func() bool { return notifier.lastID() != "" },
		time.Second, 5*time.Millisecond)
	require.True(t, confirmations.Resolve(notifier.lastID(), false))

	select {
	case responses := <-done:
		require.Len(t, responses, 1)
		assert.Contains(t, responses[0].Content, "Cancelled by user")
		assert.Equal(t, 0, echo.invocations())
	case <-time.After(time.Second):
		t.Fatal("execution did not finish after cancel")
	}
}

func TestEngine_Execute_ConfirmationWithoutNotifier(t *testing.T) {
	l := logger.NewTestLogger()
	echo := &echoTool{content: "echoed"}
	engine := NewEngine(tools.NewRegistry(l, echo), NewConfirmations(0, l), l)
	chatCfg := &config.ChatConfig{
		ID: 1, Tools: []string{"echo"},
		ChatParams: config.ChatParams{Confirmation: true, ShowToolMessages: "none"},
	}

	responses := engine.Execute(
		context.Background(),
		[]ai.ToolCall{call("echo", "{}")},
		chatCfg, &thread.State{}, true, nil,
	)

	require.Len(t, responses, 1)
	assert.Contains(t, responses[0].Content, "Confirmation required")
	assert.Equal(t, 0, echo.invocations())
}

func TestEngine_Execute_ShowToolMessagesPolicy(t *testing.T) {
	l := logger.NewTestLogger()
	echo := &echoTool{content: "echoed"}

	run := func(policy string) *recordingNotifier {
		engine := NewEngine(tools.NewRegistry(l, echo), NewConfirmations(0, l), l)
		notifier := &recordingNotifier{}
		chatCfg := &config.ChatConfig{
			ID: 1, Tools: []string{"echo"},
			ChatParams: config.ChatParams{ShowToolMessages: policy},
		}
		engine.Execute(
			context.Background(),
			[]ai.ToolCall{call("echo", `{"x":1}`)},
			chatCfg, &thread.State{}, false, notifier,
		)
		return notifier
	}

	t.Run("none suppresses the line", func(t *testing.T) {
		assert.Empty(t, run("none").notices)
	})

	t.Run("headers shows only the name", func(t *testing.T) {
		notices := run("headers").notices
		require.Len(t, notices, 1)
		assert.Equal(t, "🔧 echo", notices[0])
	})

	t.Run("default shows full signature", func(t *testing.T) {
		notices := run("").notices
		require.Len(t, notices, 1)
		assert.Equal(t, fmt.Sprintf("🔧 echo(%s)", `{"x":1}`), notices[0])
	})
}
