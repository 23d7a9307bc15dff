package chat

import (
	"time"

	"github.com/google/uuid"
)

// DefaultGreeting opens every fresh conversation.
const DefaultGreeting = "Hi! I'm your campus assistant. Ask me anything about campus life."

// ClearedGreeting replaces the transcript after an explicit clear.
const ClearedGreeting = "Conversation cleared. What can I help you with?"

// Conversation is a transcript plus identity. Messages are held by value;
// the message actively receiving deltas is mutated through MessageAt.
type Conversation struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Messages  []Message `json:"messages"`
}

// NewConversation starts a transcript with the given greeting, or the
// default one when empty.
func NewConversation(greeting string) Conversation {
	if greeting == "" {
		greeting = DefaultGreeting
	}
	return Conversation{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Messages:  []Message{NewAssistantMessage(greeting)},
	}
}

// Append adds a message and returns its index.
func (c *Conversation) Append(msg Message) int {
	c.Messages = append(c.Messages, msg)
	return len(c.Messages) - 1
}

// MessageAt returns a pointer into the transcript so an open assistant
// message can be mutated by delta/reference callbacks. Returns nil when the
// index is stale (for example after a clear).
func (c *Conversation) MessageAt(index int) *Message {
	if index < 0 || index >= len(c.Messages) {
		return nil
	}
	return &c.Messages[index]
}

func (c Conversation) Len() int {
	return len(c.Messages)
}

func (c Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

func (c Conversation) LastAssistantMessage() (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].IsAssistant() {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// UserMessageCount reports how many sends the transcript holds, which is
// also how a saved conversation is judged worth keeping.
func (c Conversation) UserMessageCount() int {
	count := 0
	for _, msg := range c.Messages {
		if msg.IsUser() {
			count++
		}
	}
	return count
}
