package thread

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"talkops/internal/config"
	"talkops/internal/logger"
)

func TestStore_GetOrCreate(t *testing.T) {
	store := NewStore(logger.NewTestLogger())

	first := store.GetOrCreate(42)
	second := store.GetOrCreate(42)
	other := store.GetOrCreate(43)

	assert.Same(t, first, second, "same chat id yields the same thread")
	assert.NotSame(t, first, other)
}

func TestStore_GetOrCreate_Concurrent(t *testing.T) {
	store := NewStore(logger.NewTestLogger())

	var wg sync.WaitGroup
	results := make([]*State, 10)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = store.GetOrCreate(7)
		}()
	}
	wg.Wait()

	for _, state := range results {
		assert.Same(t, results[0], state)
	}
}

func TestStore_Forget(t *testing.T) {
	store := NewStore(logger.NewTestLogger())
	h := NewHistory(20, logger.NewTestLogger())

	state := store.GetOrCreate(1)
	h.Add(state, "hello", "user", time.Now())
	state.SetActiveButton(&config.ButtonConfig{Label: "Weather"})
	state.SetCustomSystemMessage("be brief")

	store.Forget(1)

	assert.Empty(t, state.Messages())
	assert.Empty(t, state.Msgs())
	assert.NotNil(t, state.ActiveButton(), "forgetting history keeps control flags")
	assert.Equal(t, "be brief", state.CustomSystemMessage())
	assert.Same(t, state, store.GetOrCreate(1), "thread identity survives forget")
}

func TestState_CustomSystemMessage_Append(t *testing.T) {
	state := &State{}

	state.AppendCustomSystemMessage("always answer in haiku")
	state.AppendCustomSystemMessage("the user is called Sam")

	assert.Equal(t, "always answer in haiku\nthe user is called Sam", state.CustomSystemMessage())

	state.SetCustomSystemMessage("")
	assert.Empty(t, state.CustomSystemMessage())
}

func TestState_TakeNextSystemMessage(t *testing.T) {
	state := &State{}
	state.SetNextSystemMessage("one shot")

	assert.Equal(t, "one shot", state.TakeNextSystemMessage())
	assert.Empty(t, state.NextSystemMessage(), "taking consumes the override")
	assert.Empty(t, state.TakeNextSystemMessage())
}

func TestState_ConcurrentAccessors(t *testing.T) {
	state := &State{}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state.AppendCustomSystemMessage("line")
			state.SetActiveButton(&config.ButtonConfig{Label: "X"})
			_ = state.ActiveButton()
			_ = state.Params()
		}()
	}
	wg.Wait()

	assert.Len(t, strings.Split(state.CustomSystemMessage(), "\n"), 10)
}

func TestStore_Forget_UnknownChat(t *testing.T) {
	store := NewStore(logger.NewTestLogger())
	store.Forget(999)
}

func TestState_MsgCount(t *testing.T) {
	h := NewHistory(20, logger.NewTestLogger())
	state := &State{}

	assert.Equal(t, 0, state.MsgCount())
	h.Add(state, "one", "user", time.Now())
	h.Add(state, "two", "user", time.Now())
	assert.Equal(t, 2, state.MsgCount())

	h.AddAssistant(state, "answer")
	assert.Equal(t, 2, state.MsgCount(), "assistant entries do not count as inbound messages")
}
