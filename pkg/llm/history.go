package llm

import (
	"sync"
)

// ChatHistory is an append-only conversation log. The only change allowed to
// a stored turn is recording follow-up text on an assistant turn.
type ChatHistory struct {
	messages []Message
	mu       sync.RWMutex
}

func NewChatHistory() *ChatHistory {
	return &ChatHistory{
		messages: make([]Message, 0),
	}
}

// Add appends msg.
func (h *ChatHistory) Add(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, msg)
}

// Messages returns a copy of the history.
func (h *ChatHistory) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cp := make([]Message, len(h.messages))
	copy(cp, h.messages)
	return cp
}

func (h *ChatHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// SetFollowUp records text on the most recent assistant turn. It reports
// false when there is none.
func (h *ChatHistory) SetFollowUp(text string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.messages) - 1; i >= 0; i-- {
		if h.messages[i].Role == RoleAssistant {
			h.messages[i].FollowUp = text
			return true
		}
	}
	return false
}
