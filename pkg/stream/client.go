package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/campuskit/sage/pkg/chat"
	"github.com/campuskit/sage/pkg/logger"
)

// TokenSource supplies the current bearer token, empty when anonymous.
type TokenSource func() string

// State is the lifecycle of one streaming session. Once terminal, no
// further handler callbacks fire.
type State int

const (
	StateActive State = iota
	StateDone
	StateErrored
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Client opens chunked requests against the assistant endpoint and turns
// the response bytes into typed events.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	streaming  bool
}

// NewClient creates a streaming client. The HTTP client carries no global
// timeout; stream lifetime is governed by the caller's context.
func NewClient(baseURL string, token TokenSource) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		token:      token,
		streaming:  true,
	}
}

// DisableStreaming forces StreamQuestion to report the capability error so
// callers take the single request/response fallback.
func (c *Client) DisableStreaming() {
	c.streaming = false
}

func (c *Client) SupportsStreaming() bool {
	return c.streaming
}

type askRequest struct {
	Question string `json:"question"`
}

// Stream is the abort handle for one in-flight session.
type Stream struct {
	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Abort stops processing further events. Cooperative: the remote server may
// keep generating tokens, the client just stops consuming them. Calling
// Abort after termination is a no-op.
func (s *Stream) Abort() {
	s.transition(StateAborted)
	s.cancel()
}

func (s *Stream) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateActive
}

func (s *Stream) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return false
	}
	s.state = to
	return true
}

// StreamQuestion opens the chunked POST and dispatches events to h from a
// single reader goroutine, in network-arrival order. Each chunk is fully
// frame-split and dispatched before the next is read.
//
// The only error returned is ErrStreamingUnsupported; every transport
// failure is reported through h.OnError instead.
func (c *Client) StreamQuestion(ctx context.Context, question string, h Handlers) (*Stream, error) {
	if !c.streaming {
		return nil, ErrStreamingUnsupported
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{state: StateActive, cancel: cancel}

	go func() {
		defer cancel()
		c.run(ctx, question, s.gateHandlers(h))
	}()

	return s, nil
}

// gateHandlers wraps h so nothing is delivered after the session turns
// terminal, and so done/error are each delivered at most once.
func (s *Stream) gateHandlers(h Handlers) Handlers {
	return Handlers{
		OnDelta: func(delta string) {
			if s.active() && h.OnDelta != nil {
				h.OnDelta(delta)
			}
		},
		OnReferences: func(refs []chat.ReferenceArticle) {
			if s.active() && h.OnReferences != nil {
				h.OnReferences(refs)
			}
		},
		OnDone: func() {
			if s.transition(StateDone) && h.OnDone != nil {
				h.OnDone()
			}
		},
		OnError: func(err *RequestError) {
			if s.transition(StateErrored) && h.OnError != nil {
				h.OnError(err)
			}
		},
	}
}

func (c *Client) run(ctx context.Context, question string, h Handlers) {
	body, err := json.Marshal(askRequest{Question: question})
	if err != nil {
		h.OnError(&RequestError{Status: 0, Message: err.Error()})
		return
	}

	url := fmt.Sprintf("%s/ask/stream/", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		h.OnError(&RequestError{Status: 0, Message: err.Error()})
		return
	}

	req.Header.Set("Content-Type", "application/json")
	// Prefer event-stream but accept a plain JSON body from servers that
	// cannot stream.
	req.Header.Set("Accept", "text/event-stream,application/json;q=0.9,*/*;q=0.8")
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		h.OnError(&RequestError{Status: 0, Message: err.Error()})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.OnError(&RequestError{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)})
		return
	}

	parser := NewFrameParser(h)
	decoder := &chunkDecoder{}
	buf := make([]byte, 4096)

	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			parser.Feed(decoder.Decode(buf[:n]))
			if parser.Done() {
				return
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				parser.Feed(decoder.Flush())
				parser.Flush()
			case ctx.Err() != nil:
				// Aborted; the gate already suppresses late events.
				logger.Debug("stream read stopped: %v", ctx.Err())
			default:
				h.OnError(&RequestError{Status: 0, Message: err.Error()})
			}
			return
		}
	}
}

// readErrorMessage extracts a server message from a failed response body,
// trying the known error keys before falling back to the raw text.
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 8192))
	if err != nil || len(raw) == 0 {
		return "request failed"
	}

	var parsed struct {
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		for _, msg := range []string{parsed.Error, parsed.Detail, parsed.Message} {
			if msg != "" {
				return msg
			}
		}
	}
	return string(raw)
}
