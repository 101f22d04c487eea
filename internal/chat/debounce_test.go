package chat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"talkops/internal/logger"
	"talkops/internal/thread"
)

func TestDebouncer_Coalesces(t *testing.T) {
	l := logger.NewTestLogger()
	d := NewDebouncer(l)
	h := thread.NewHistory(20, l)
	state := &thread.State{}

	var fired atomic.Int32

	h.Add(state, "first", "user", time.Now())
	d.Schedule(context.Background(), state, 40*time.Millisecond, func() {
		fired.Add(1)
	})

	// a newer message arrives inside the window, superseding the first turn
	h.Add(state, "second", "user", time.Now())
	d.Schedule(context.Background(), state, 40*time.Millisecond, func() {
		fired.Add(1)
	})

	assert.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, 10*time.Millisecond, "only the latest turn fires")

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load(), "the superseded turn never fires")
}

func TestDebouncer_SingleMessageFires(t *testing.T) {
	l := logger.NewTestLogger()
	d := NewDebouncer(l)
	h := thread.NewHistory(20, l)
	state := &thread.State{}

	var fired atomic.Int32
	h.Add(state, "only", "user", time.Now())
	d.Schedule(context.Background(), state, 10*time.Millisecond, func() {
		fired.Add(1)
	})

	assert.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestDebouncer_ContextCancelDropsTurn(t *testing.T) {
	l := logger.NewTestLogger()
	d := NewDebouncer(l)
	state := &thread.State{}

	ctx, cancel := context.WithCancel(context.Background())
	var fired atomic.Int32
	d.Schedule(ctx, state, 50*time.Millisecond, func() {
		fired.Add(1)
	})
	cancel()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}
