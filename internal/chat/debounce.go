package chat

import (
	"context"
	"time"

	"talkops/internal/logger"
	"talkops/internal/thread"
)

// Debouncer coalesces message bursts. A scheduled turn captures the thread's
// message count; when the delay elapses, the turn fires only if no newer
// message has arrived in the meantime. A superseded turn is dropped entirely,
// so a burst of N messages produces exactly one answer.
type Debouncer struct {
	logger logger.Logger
}

func NewDebouncer(log logger.Logger) *Debouncer {
	return &Debouncer{logger: log}
}

// Schedule runs fn after delay unless the thread receives another message
// first. A zero or negative delay fires immediately, still asynchronously.
func (d *Debouncer) Schedule(ctx context.Context, state *thread.State, delay time.Duration, fn func()) {
	snapshot := state.MsgCount()
	go func() {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		if state.MsgCount() != snapshot {
			d.logger.WithFields(logger.Fields{
				"snapshot": snapshot,
				"current":  state.MsgCount(),
			}).Debug("Turn superseded by newer message, skipping")
			return
		}
		fn()
	}()
}
