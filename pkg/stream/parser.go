package stream

import (
	"encoding/json"
	"strings"

	"github.com/campuskit/sage/pkg/chat"
	"github.com/campuskit/sage/pkg/logger"
)

// Handlers receives the typed events produced from a raw byte stream.
// OnDone and OnError fire at most once per session, after every delta and
// reference event for data received before the terminal point.
type Handlers struct {
	OnDelta      func(delta string)
	OnReferences func(refs []chat.ReferenceArticle)
	OnDone       func()
	OnError      func(err *RequestError)
}

// referencesMarker splits a plain-text line into a leading delta and a
// trailing JSON reference list.
const referencesMarker = "[[REFERENCES]]"

// doneSentinel terminates the stream out-of-band from JSON payloads.
// Matched case-insensitively on the bracketed token.
const doneSentinel = "[done]"

// FrameParser assembles decoded text into newline-delimited frames and
// dispatches them as typed events. It owns the rolling buffer holding the
// trailing partial line between chunks. Once terminal, further input is
// ignored.
type FrameParser struct {
	handlers Handlers
	buffer   string
	done     bool
}

func NewFrameParser(handlers Handlers) *FrameParser {
	return &FrameParser{handlers: handlers}
}

// Feed appends decoded text to the buffer and dispatches every complete
// line. The trailing partial line stays buffered for the next chunk.
func (p *FrameParser) Feed(text string) {
	if p.done {
		return
	}

	p.buffer += text
	for {
		idx := strings.IndexByte(p.buffer, '\n')
		if idx < 0 {
			return
		}
		line := p.buffer[:idx]
		p.buffer = p.buffer[idx+1:]

		p.parseLine(line)
		if p.done {
			p.buffer = ""
			return
		}
	}
}

// Flush pushes a final unterminated frame through the parser and fires
// OnDone. Called on successful request completion so a last line lacking a
// trailing newline is not lost.
func (p *FrameParser) Flush() {
	if p.done {
		return
	}
	if p.buffer != "" {
		line := p.buffer
		p.buffer = ""
		p.parseLine(line)
	}
	p.finish()
}

// Done reports whether a terminal sentinel or flush has been processed.
func (p *FrameParser) Done() bool {
	return p.done
}

// streamFrame is the canonical shape every accepted JSON payload normalizes
// into. Reference keys are pointers so "first key present" can be told
// apart from "key absent".
type streamFrame struct {
	Delta   string `json:"delta"`
	Answer  string `json:"answer"`
	Content string `json:"content"`
	Reply   string `json:"reply"`

	RefsDashed *[]chat.ReferenceArticle `json:"references-articles"`
	RefsCamel  *[]chat.ReferenceArticle `json:"referencesArticles"`
	RefsSnake  *[]chat.ReferenceArticle `json:"references_articles"`
	RefsPlain  *[]chat.ReferenceArticle `json:"references"`

	Done bool `json:"done"`
}

func (f streamFrame) text() string {
	for _, s := range []string{f.Delta, f.Answer, f.Content, f.Reply} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (f streamFrame) references() (*[]chat.ReferenceArticle, bool) {
	for _, refs := range []*[]chat.ReferenceArticle{f.RefsDashed, f.RefsCamel, f.RefsSnake, f.RefsPlain} {
		if refs != nil {
			return refs, true
		}
	}
	return nil, false
}

func (p *FrameParser) parseLine(line string) {
	payload := line
	if strings.HasPrefix(payload, "data:") {
		payload = payload[len("data:"):]
		payload = strings.TrimPrefix(payload, " ")
	}
	payload = strings.TrimSuffix(payload, "\r")

	sentinel := strings.TrimSpace(payload)
	if payload == "" && sentinel == "" {
		return
	}

	if strings.Contains(payload, referencesMarker) {
		p.parseMarkedLine(payload)
		return
	}

	if strings.EqualFold(sentinel, doneSentinel) {
		p.finish()
		return
	}

	var frame streamFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		// Not a known sentinel and not JSON: degrade to a raw text delta.
		p.emitDelta(payload)
		return
	}

	if text := frame.text(); text != "" {
		p.emitDelta(text)
	}
	if refs, ok := frame.references(); ok {
		p.emitReferences(*refs)
	}
	if frame.Done {
		p.finish()
	}
}

// parseMarkedLine handles the inline text[[REFERENCES]]json form. The text
// delta is emitted first; a malformed reference payload is logged and
// dropped without failing the stream.
func (p *FrameParser) parseMarkedLine(payload string) {
	parts := strings.SplitN(payload, referencesMarker, 2)
	if parts[0] != "" {
		p.emitDelta(parts[0])
	}

	refsRaw := strings.TrimSpace(parts[1])
	if refsRaw == "" {
		return
	}

	var refs []chat.ReferenceArticle
	if err := json.Unmarshal([]byte(refsRaw), &refs); err != nil {
		logger.Warn("dropping malformed reference payload: %v", err)
		return
	}
	p.emitReferences(refs)
}

func (p *FrameParser) emitDelta(text string) {
	if p.handlers.OnDelta != nil {
		p.handlers.OnDelta(text)
	}
}

func (p *FrameParser) emitReferences(refs []chat.ReferenceArticle) {
	if p.handlers.OnReferences != nil {
		p.handlers.OnReferences(refs)
	}
}

func (p *FrameParser) finish() {
	if p.done {
		return
	}
	p.done = true
	if p.handlers.OnDone != nil {
		p.handlers.OnDone()
	}
}
