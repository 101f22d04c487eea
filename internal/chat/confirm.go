package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"talkops/internal/logger"
)

// Confirmations tracks tool calls suspended on user approval. Each pending
// entry is a buffered channel the invocation engine waits on; a confirm or
// cancel action from the transport resolves it by correlation id.
//
// When ttl is zero pending entries never expire and an abandoned confirmation
// stays suspended until process restart. With a positive ttl the entry is
// removed and its channel closed, which the waiter observes as a cancel.
type Confirmations struct {
	mu      sync.Mutex
	pending map[string]chan bool
	ttl     time.Duration
	logger  logger.Logger
}

func NewConfirmations(ttl time.Duration, log logger.Logger) *Confirmations {
	return &Confirmations{
		pending: make(map[string]chan bool),
		ttl:     ttl,
		logger:  log,
	}
}

// Create registers a new pending confirmation and returns its correlation id
// and the channel that will deliver the verdict.
func (c *Confirmations) Create() (string, <-chan bool) {
	id := uuid.NewString()
	ch := make(chan bool, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	if c.ttl > 0 {
		time.AfterFunc(c.ttl, func() {
			c.mu.Lock()
			pending, ok := c.pending[id]
			if ok {
				delete(c.pending, id)
			}
			c.mu.Unlock()
			if ok {
				close(pending)
				c.logger.WithField("confirmation_id", id).Debug("Confirmation expired")
			}
		})
	}

	return id, ch
}

// Resolve delivers the verdict for a correlation id. Returns false when the
// id is unknown, already resolved or expired.
func (c *Confirmations) Resolve(id string, approved bool) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- approved
	return true
}

// Cancel drops a pending confirmation without delivering a verdict. Used when
// the waiting turn gives up first.
func (c *Confirmations) Cancel(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// PendingCount reports how many confirmations are currently suspended.
func (c *Confirmations) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
