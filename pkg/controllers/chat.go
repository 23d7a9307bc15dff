package controllers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/campuskit/sage/pkg/api"
	"github.com/campuskit/sage/pkg/chat"
	"github.com/campuskit/sage/pkg/logger"
	"github.com/campuskit/sage/pkg/stream"
)

var (
	// ErrEmptyMessage rejects whitespace-only input. User-visible, non-fatal.
	ErrEmptyMessage = errors.New("message content cannot be empty")
	// ErrSendInFlight rejects a send while another reply is still streaming.
	ErrSendInFlight = errors.New("a reply is already in flight")
)

// User-facing notices that replace a failed reply. An overloaded service is
// an expected retry-soon condition and gets the calmer wording.
const (
	busyNotice    = "The assistant is busy right now. Please try again in a moment."
	failureNotice = "Sorry, something went wrong while answering. Please try again later."
	emptyNotice   = "Sorry, I couldn't come up with an answer for that."
)

// Aborter is the abort handle of one in-flight streaming session.
type Aborter interface {
	Abort()
}

// Streamer opens a streaming session. stream.ErrStreamingUnsupported routes
// the controller onto the single request/response fallback.
type Streamer interface {
	StreamQuestion(ctx context.Context, question string, h stream.Handlers) (Aborter, error)
}

// Asker is the non-streaming fallback call.
type Asker interface {
	Ask(ctx context.Context, question string) (api.AskResponse, error)
}

// ChatController owns the transcript and drives one streaming session at a
// time. Adapter callbacks mutate the open assistant message in place and
// re-render it; the active-session slot is single-writer, so a new send is
// refused while one is open.
type ChatController struct {
	streamer Streamer
	asker    Asker

	mu      sync.Mutex
	conv    chat.Conversation
	active  *session
	loading bool

	// onUpdate fires after every transcript change so a view can re-render.
	// onNotice surfaces transient error notifications.
	onUpdate func()
	onNotice func(err error)

	thinkEvery time.Duration
}

// session is the per-send bookkeeping: which transcript slot the reply
// streams into, the abort handle, and the thinking-ticker stop function.
type session struct {
	msgIndex     int
	stream       Aborter
	cancel       context.CancelFunc
	stopThinking func()
}

func NewChatController(streamer Streamer, asker Asker) *ChatController {
	return &ChatController{
		streamer:   streamer,
		asker:      asker,
		conv:       chat.NewConversation(""),
		thinkEvery: time.Second,
	}
}

// SetOnUpdate registers the re-render hook. Called outside the controller
// lock; the callback may read controller state.
func (cc *ChatController) SetOnUpdate(fn func()) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.onUpdate = fn
}

// SetOnNotice registers the transient error notification hook.
func (cc *ChatController) SetOnNotice(fn func(err error)) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.onNotice = fn
}

// Messages returns a snapshot of the transcript.
func (cc *ChatController) Messages() []chat.Message {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	out := make([]chat.Message, len(cc.conv.Messages))
	copy(out, cc.conv.Messages)
	return out
}

// Conversation returns a snapshot of the whole transcript with identity,
// for persistence.
func (cc *ChatController) Conversation() chat.Conversation {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	snapshot := cc.conv
	snapshot.Messages = make([]chat.Message, len(cc.conv.Messages))
	copy(snapshot.Messages, cc.conv.Messages)
	return snapshot
}

// IsLoading reports whether a send is in flight, from sendMessage until the
// terminal signal.
func (cc *ChatController) IsLoading() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.loading
}

// SendMessage appends the user message plus a pending assistant message and
// opens a stream bound to that transcript slot. Rejects empty input and
// concurrent sends.
func (cc *ChatController) SendMessage(ctx context.Context, input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return ErrEmptyMessage
	}

	cc.mu.Lock()
	if cc.active != nil {
		cc.mu.Unlock()
		return ErrSendInFlight
	}

	start := time.Now()
	cc.conv.Append(chat.NewUserMessage(input))
	idx := cc.conv.Append(chat.NewPendingMessage(start))
	cc.loading = true

	ctx, cancel := context.WithCancel(ctx)
	sess := &session{msgIndex: idx, cancel: cancel}
	cc.active = sess
	cc.startThinking(sess, start)
	cc.mu.Unlock()
	cc.notifyUpdate()

	s, err := cc.streamer.StreamQuestion(ctx, input, cc.handlers(sess))
	if err != nil {
		if errors.Is(err, stream.ErrStreamingUnsupported) {
			logger.Info("streaming unavailable, using single-shot fallback")
			go cc.fetchOnce(ctx, sess, input)
			return nil
		}
		cc.failSession(sess, &stream.RequestError{Status: 0, Message: err.Error()})
		return nil
	}

	cc.mu.Lock()
	if cc.active == sess {
		sess.stream = s
	}
	cc.mu.Unlock()
	return nil
}

// handlers binds the adapter callbacks to one session. Every callback
// checks that its session is still the active one, so events from an
// aborted or superseded stream fall on the floor.
func (cc *ChatController) handlers(sess *session) stream.Handlers {
	return stream.Handlers{
		OnDelta: func(delta string) {
			cc.mu.Lock()
			if cc.active != sess {
				cc.mu.Unlock()
				return
			}
			if msg := cc.conv.MessageAt(sess.msgIndex); msg != nil {
				msg.AppendDelta(delta)
			}
			cc.mu.Unlock()
			cc.notifyUpdate()
		},
		OnReferences: func(refs []chat.ReferenceArticle) {
			cc.mu.Lock()
			if cc.active != sess {
				cc.mu.Unlock()
				return
			}
			if msg := cc.conv.MessageAt(sess.msgIndex); msg != nil {
				msg.SetReferences(refs)
			}
			cc.mu.Unlock()
			cc.notifyUpdate()
		},
		OnDone: func() {
			cc.finishSession(sess)
		},
		OnError: func(err *stream.RequestError) {
			cc.failSession(sess, err)
		},
	}
}

// finishSession closes out a successful reply: ticker stopped, thinking
// display cleared, loading cleared.
func (cc *ChatController) finishSession(sess *session) {
	cc.mu.Lock()
	if cc.active != sess {
		cc.mu.Unlock()
		return
	}
	sess.stopThinking()
	cc.active = nil
	cc.loading = false
	if msg := cc.conv.MessageAt(sess.msgIndex); msg != nil {
		msg.Pending = false
		msg.ThinkingSeconds = 0
		if msg.IsEmpty() {
			msg.ReplaceText(emptyNotice)
		}
	}
	cc.mu.Unlock()
	cc.notifyUpdate()
}

// failSession replaces the reply with a notice and surfaces the raw error.
// Shared by the streaming and fallback paths so both obey the same rule:
// no exit leaves a message pending or the ticker running.
func (cc *ChatController) failSession(sess *session, reqErr *stream.RequestError) {
	cc.mu.Lock()
	if cc.active != sess {
		cc.mu.Unlock()
		return
	}
	sess.stopThinking()
	cc.active = nil
	cc.loading = false

	notice := failureNotice
	surface := true
	if reqErr.Busy() {
		notice = busyNotice
		surface = false
	}
	if msg := cc.conv.MessageAt(sess.msgIndex); msg != nil {
		msg.ReplaceText(notice)
		msg.ThinkingSeconds = 0
	}
	onNotice := cc.onNotice
	cc.mu.Unlock()

	logger.Error("chat request failed: %v", reqErr)
	if surface && onNotice != nil {
		onNotice(reqErr)
	}
	cc.notifyUpdate()
}

// fetchOnce is the fallback when the transport cannot stream: one
// request/response call that fills text and references in a single step.
// Failures route through the same handling as the streaming path.
func (cc *ChatController) fetchOnce(ctx context.Context, sess *session, question string) {
	resp, err := cc.asker.Ask(ctx, question)
	if err != nil {
		var reqErr *stream.RequestError
		if !errors.As(err, &reqErr) {
			reqErr = &stream.RequestError{Status: 0, Message: err.Error()}
		}
		cc.failSession(sess, reqErr)
		return
	}

	cc.mu.Lock()
	if cc.active != sess {
		cc.mu.Unlock()
		return
	}
	if msg := cc.conv.MessageAt(sess.msgIndex); msg != nil {
		text := resp.Text()
		if text == "" {
			text = emptyNotice
		}
		msg.ReplaceText(text)
		msg.SetReferences(resp.References())
	}
	cc.mu.Unlock()

	cc.finishSession(sess)
}

// AbortActive cancels the in-flight session, if any. Safe to call when
// idle. Used on teardown and explicit user cancellation.
func (cc *ChatController) AbortActive() {
	cc.mu.Lock()
	sess := cc.active
	if sess == nil {
		cc.mu.Unlock()
		return
	}
	sess.stopThinking()
	cc.active = nil
	cc.loading = false
	if msg := cc.conv.MessageAt(sess.msgIndex); msg != nil {
		msg.Pending = false
		msg.ThinkingSeconds = 0
	}
	cc.mu.Unlock()

	sess.cancel()
	if sess.stream != nil {
		sess.stream.Abort()
	}
	cc.notifyUpdate()
}

// ClearConversation aborts any in-flight stream and reinitializes the
// transcript to a single fresh greeting.
func (cc *ChatController) ClearConversation() {
	cc.AbortActive()

	cc.mu.Lock()
	cc.conv = chat.NewConversation(chat.ClearedGreeting)
	cc.mu.Unlock()
	cc.notifyUpdate()
}

// startThinking runs the once-per-second elapsed display updater. The stop
// function is idempotent and every session exit path calls it; the ticker
// also bails out on its own when the session is no longer active.
func (cc *ChatController) startThinking(sess *session, start time.Time) {
	ticker := time.NewTicker(cc.thinkEvery)
	stop := make(chan struct{})
	var once sync.Once
	sess.stopThinking = func() {
		once.Do(func() {
			ticker.Stop()
			close(stop)
		})
	}

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				cc.mu.Lock()
				if cc.active != sess {
					cc.mu.Unlock()
					return
				}
				if msg := cc.conv.MessageAt(sess.msgIndex); msg != nil {
					msg.ThinkingSeconds = int(time.Since(start) / time.Second)
				}
				cc.mu.Unlock()
				cc.notifyUpdate()
			}
		}
	}()
}

func (cc *ChatController) notifyUpdate() {
	cc.mu.Lock()
	fn := cc.onUpdate
	cc.mu.Unlock()
	if fn != nil {
		fn()
	}
}
