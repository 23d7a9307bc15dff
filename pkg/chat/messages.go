package chat

import (
	"strings"
	"time"
)

// Message is one entry in a conversation transcript. Assistant messages are
// mutated in place while a stream is open: Text grows append-only until a
// terminal signal arrives, and Nodes is recomputed from the full text on
// every delta.
type Message struct {
	Role       string             `json:"role"`
	Text       string             `json:"text"`
	Nodes      []Paragraph        `json:"-"`
	References []ReferenceArticle `json:"references,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`

	// Pending is true from creation until the first delta or a terminal
	// signal. While true the UI shows a loading state instead of text.
	Pending bool `json:"-"`

	// ThinkingSeconds is the elapsed display value maintained by the
	// session's thinking ticker. Zero once the reply completes.
	ThinkingSeconds int       `json:"-"`
	RequestStart    time.Time `json:"-"`
}

// ReferenceArticle is a source link the assistant's answer is based on. The
// controller passes URLs through without validating their shape.
type ReferenceArticle struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	URL   string `json:"article_url"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

func NewUserMessage(content string) Message {
	text := strings.TrimSpace(content)
	return Message{
		Role:      RoleUser,
		Text:      text,
		Nodes:     RenderNodes(text),
		Timestamp: time.Now(),
	}
}

func NewAssistantMessage(content string) Message {
	return Message{
		Role:      RoleAssistant,
		Text:      content,
		Nodes:     RenderNodes(content),
		Timestamp: time.Now(),
	}
}

// NewPendingMessage creates the assistant placeholder appended immediately
// after a user send, before any delta has arrived.
func NewPendingMessage(requestStart time.Time) Message {
	return Message{
		Role:         RoleAssistant,
		Pending:      true,
		Timestamp:    time.Now(),
		RequestStart: requestStart,
	}
}

// AppendDelta un-escapes literal \n sequences in the incoming delta, grows
// the message text and recomputes the render tree from the full text.
func (m *Message) AppendDelta(delta string) {
	m.Text += UnescapeNewlines(delta)
	m.Nodes = RenderNodes(m.Text)
	m.Pending = false
}

// ReplaceText swaps the whole text, used when a terminal error replaces a
// partial reply with a notice. Never a partial rollback.
func (m *Message) ReplaceText(text string) {
	m.Text = text
	m.Nodes = RenderNodes(text)
	m.Pending = false
}

// SetReferences replaces the reference list. The protocol sends the complete
// list, not incremental additions.
func (m *Message) SetReferences(refs []ReferenceArticle) {
	m.References = refs
}

func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == ""
}

// UnescapeNewlines converts literal backslash-n sequences to real newlines.
// The server escapes embedded newlines so they survive line-based framing.
// Applying it to text that already contains only real newlines is a no-op.
func UnescapeNewlines(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}
