package mockd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/campuskit/sage/pkg/logger"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// Server is a local stand-in for the campus backend so the client can be
// developed and demonstrated offline. It speaks the same wire protocol:
// newline-delimited data frames, an inline reference marker and a terminal
// sentinel on the streaming path, plain JSON on the rest.
type Server struct {
	mux   *http.ServeMux
	delay time.Duration
}

func New() *Server {
	s := &Server{
		mux:   http.NewServeMux(),
		delay: 25 * time.Millisecond,
	}
	s.mux.HandleFunc("POST /user/auth/login/", s.handleLogin)
	s.mux.HandleFunc("POST /user/auth/token/refresh/", s.handleRefresh)
	s.mux.HandleFunc("POST /ask/stream/", s.handleAskStream)
	s.mux.HandleFunc("POST /ask/", s.handleAsk)
	return s
}

// SetDelay overrides the pause between streamed chunks. Tests set zero.
func (s *Server) SetDelay(d time.Duration) {
	s.delay = d
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mock backend listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	writeJSON(w, map[string]string{
		"access":  "mock-access-" + uuid.NewString(),
		"refresh": "mock-refresh-" + uuid.NewString(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !strings.HasPrefix(req.Refresh, "mock-refresh-") {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	writeJSON(w, map[string]string{"access": "mock-access-" + uuid.NewString()})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if isOverloaded(req.Question) {
		writeError(w, http.StatusServiceUnavailable, "the assistant is handling too many questions")
		return
	}

	f := answerFor(req.Question)
	writeJSON(w, map[string]any{
		"question":            req.Question,
		"answer":              f.answer,
		"references-articles": f.refs,
	})
}

func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if isOverloaded(req.Question) {
		writeError(w, http.StatusServiceUnavailable, "the assistant is handling too many questions")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	f := answerFor(req.Question)
	for _, delta := range chunkAnswer(f.answer) {
		payload, err := json.Marshal(map[string]string{"delta": delta})
		if err != nil {
			logger.Error("failed to marshal delta: %v", err)
			return
		}
		if err := writeFrame(w, string(payload)); err != nil {
			logger.Debug("client went away mid-stream: %v", err)
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.delay):
		}
	}

	if len(f.refs) > 0 {
		refsJSON, err := json.Marshal(f.refs)
		if err != nil {
			logger.Error("failed to marshal references: %v", err)
			return
		}
		if _, err := fmt.Fprintf(w, "[[REFERENCES]]%s\n", refsJSON); err != nil {
			return
		}
		flusher.Flush()
	}

	_ = writeFrame(w, "[DONE]")
	flusher.Flush()
}

// writeFrame encodes one payload as an event-stream data frame. The blank
// line an SSE event ends with is harmless to line-oriented readers.
func writeFrame(w http.ResponseWriter, payload string) error {
	msg := sse.Message{}
	msg.AppendData(payload)
	_, err := msg.WriteTo(w)
	return err
}

// chunkAnswer splits an answer into few-word deltas so streaming is visible
// even for short fixtures.
func chunkAnswer(answer string) []string {
	words := strings.Fields(answer)
	var chunks []string
	for i := 0; i < len(words); i += 3 {
		end := min(i+3, len(words))
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// isOverloaded lets a question opt into the busy path, for demos and tests.
func isOverloaded(question string) bool {
	return strings.Contains(strings.ToLower(question), "overload")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
