package thread

import (
	"sync"
	"time"

	"talkops/internal/ai"
	"talkops/internal/config"
	"talkops/internal/logger"
)

// InboundMsg records the arrival of one raw inbound or outbound message.
// Only the timestamp matters: forget-timeout math runs on these entries.
type InboundMsg struct {
	Time time.Time
	Text string
}

// State is the mutable conversational state of one chat identity. All fields
// are guarded by the mutex; mutate through the accessors.
type State struct {
	mu sync.Mutex

	msgs     []InboundMsg
	messages []ai.Message

	activeButton        *config.ButtonConfig
	nextSystemMessage   string
	customSystemMessage string
	params              ai.ModelParams
}

// ActiveButton returns the tapped button awaiting its free-text follow-up.
func (s *State) ActiveButton() *config.ButtonConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeButton
}

func (s *State) SetActiveButton(btn *config.ButtonConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeButton = btn
}

// SetNextSystemMessage installs a one-shot system message override.
func (s *State) SetNextSystemMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSystemMessage = message
}

func (s *State) NextSystemMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSystemMessage
}

// TakeNextSystemMessage returns the one-shot override and consumes it.
func (s *State) TakeNextSystemMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	message := s.nextSystemMessage
	s.nextSystemMessage = ""
	return message
}

// CustomSystemMessage is the standing instruction set overriding the
// chat-level system message until reset.
func (s *State) CustomSystemMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customSystemMessage
}

func (s *State) SetCustomSystemMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customSystemMessage = message
}

// AppendCustomSystemMessage adds one line to the standing instructions.
func (s *State) AppendCustomSystemMessage(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.customSystemMessage == "" {
		s.customSystemMessage = line
		return
	}
	s.customSystemMessage += "\n" + line
}

// Params returns the thread's completion parameter overrides.
func (s *State) Params() ai.ModelParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// MergeParams folds overrides into the thread's completion parameters.
func (s *State) MergeParams(p ai.ModelParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = s.params.Merge(p)
}

// Msgs returns a copy of the raw message timeline.
func (s *State) Msgs() []InboundMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]InboundMsg{}, s.msgs...)
}

// Messages returns a copy of the role-tagged completion history.
func (s *State) Messages() []ai.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ai.Message{}, s.messages...)
}

// MsgCount is the debounce snapshot: a turn whose snapshot no longer matches
// the live count has been superseded by a newer message.
func (s *State) MsgCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Forget clears history in place. The State identity survives: the active
// button, custom system message and cached params persist unless reset
// explicitly.
func (s *State) Forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = s.msgs[:0]
	s.messages = s.messages[:0]
}

func (s *State) append(msg InboundMsg, message ai.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	s.messages = append(s.messages, message)
}

func (s *State) appendMessage(message ai.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
}

// Store maps chat ids to their threads. It is an injectable instance, not a
// package-level singleton, so tests and future multi-instance deployments
// can own isolated stores.
type Store struct {
	mu      sync.RWMutex
	threads map[int64]*State
	logger  logger.Logger
}

func NewStore(log logger.Logger) *Store {
	return &Store{
		threads: make(map[int64]*State),
		logger:  log,
	}
}

// GetOrCreate returns the thread for a chat id, creating it lazily on the
// first message.
func (s *Store) GetOrCreate(chatID int64) *State {
	s.mu.RLock()
	state, ok := s.threads[chatID]
	s.mu.RUnlock()
	if ok {
		return state
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.threads[chatID]; ok {
		return state
	}
	state = &State{}
	s.threads[chatID] = state
	s.logger.WithField("chat_id", chatID).Debug("Created thread")
	return state
}

// Forget clears the thread history for a chat id, if the thread exists.
func (s *Store) Forget(chatID int64) {
	s.mu.RLock()
	state, ok := s.threads[chatID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	state.Forget()
	s.logger.WithField("chat_id", chatID).Debug("Forgot thread history")
}
