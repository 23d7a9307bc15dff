package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/campuskit/sage/pkg/chat"
	"github.com/campuskit/sage/pkg/logger"
	"github.com/campuskit/sage/pkg/stream"
)

const (
	loginPath   = "/user/auth/login/"
	refreshPath = "/user/auth/token/refresh/"
	askPath     = "/ask/"
)

// Client is the authenticated request layer for the campus backend. It owns
// the bearer token pair and transparently refreshes an expired access token
// once per failed request.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu         sync.Mutex
	access     string
	refresh    string
	refreshing *refreshCall
}

// refreshCall collapses concurrent refresh attempts into one network call;
// every waiter observes the same outcome.
type refreshCall struct {
	done chan struct{}
	err  error
}

func NewClient(baseURL string) *Client {
	return NewClientWithTimeout(baseURL, 60*time.Second)
}

func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetTokens seeds a previously persisted token pair.
func (c *Client) SetTokens(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access = access
	c.refresh = refresh
}

// AccessToken returns the current access token, empty when anonymous.
// Satisfies stream.TokenSource.
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access
}

// Logout drops both tokens.
func (c *Client) Logout() {
	c.SetTokens("", "")
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Login authenticates and stores the issued token pair.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var tokens tokenPair
	if err := c.do(ctx, http.MethodPost, loginPath, loginRequest{Username: username, Password: password}, &tokens); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if tokens.Access == "" {
		return fmt.Errorf("login failed: no access token in response")
	}
	c.SetTokens(tokens.Access, tokens.Refresh)
	return nil
}

// AskResponse is the non-streaming answer shape. Servers disagree on field
// names, so it carries every accepted spelling and normalizes on read.
type AskResponse struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Reply    string `json:"reply"`
	Message  string `json:"message"`

	RefsDashed []chat.ReferenceArticle `json:"references-articles"`
	RefsCamel  []chat.ReferenceArticle `json:"referencesArticles"`
}

// Text returns the first non-empty of answer, reply, message.
func (r AskResponse) Text() string {
	for _, s := range []string{r.Answer, r.Reply, r.Message} {
		if s != "" {
			return s
		}
	}
	return ""
}

// References returns whichever reference key the server used.
func (r AskResponse) References() []chat.ReferenceArticle {
	if r.RefsDashed != nil {
		return r.RefsDashed
	}
	return r.RefsCamel
}

// Ask issues the single request/response fallback call.
func (c *Client) Ask(ctx context.Context, question string) (AskResponse, error) {
	var resp AskResponse
	if err := c.do(ctx, http.MethodPost, askPath, map[string]string{"question": question}, &resp); err != nil {
		return AskResponse{}, err
	}
	return resp, nil
}

func skipAuthHeader(path string) bool {
	return path == loginPath || path == refreshPath
}

// do runs one JSON request. A 401 on an authenticated path triggers a
// single-flight token refresh and one retry. Failures come back as
// *stream.RequestError so callers share one error taxonomy with the
// streaming path.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	resp, err := c.send(ctx, method, path, payload)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && !skipAuthHeader(path) && c.hasRefreshToken() {
		drain(resp)
		if err := c.refreshAccessToken(ctx); err != nil {
			return err
		}
		resp, err = c.send(ctx, method, path, payload)
		if err != nil {
			return err
		}
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &stream.RequestError{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if !skipAuthHeader(path) {
		if token := c.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &stream.RequestError{Status: 0, Message: err.Error()}
	}
	return resp, nil
}

func (c *Client) hasRefreshToken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refresh != ""
}

// refreshAccessToken exchanges the refresh token for a new access token.
// Concurrent callers share one in-flight exchange. A failed refresh clears
// both tokens; the session is over.
func (c *Client) refreshAccessToken(ctx context.Context) error {
	c.mu.Lock()
	if c.refreshing != nil {
		call := c.refreshing
		c.mu.Unlock()
		<-call.done
		return call.err
	}
	call := &refreshCall{done: make(chan struct{})}
	c.refreshing = call
	refresh := c.refresh
	c.mu.Unlock()

	call.err = c.exchangeRefreshToken(ctx, refresh)

	c.mu.Lock()
	c.refreshing = nil
	if call.err != nil {
		c.access = ""
		c.refresh = ""
	}
	c.mu.Unlock()
	close(call.done)
	return call.err
}

func (c *Client) exchangeRefreshToken(ctx context.Context, refresh string) error {
	if refresh == "" {
		return fmt.Errorf("missing refresh token")
	}

	resp, err := c.send(ctx, http.MethodPost, refreshPath, map[string]string{"refresh": refresh})
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &stream.RequestError{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	var tokens tokenPair
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if tokens.Access == "" && tokens.Refresh == "" {
		return fmt.Errorf("refresh response carried no tokens")
	}

	c.mu.Lock()
	if tokens.Access != "" {
		c.access = tokens.Access
	}
	if tokens.Refresh != "" {
		c.refresh = tokens.Refresh
	}
	c.mu.Unlock()

	logger.Debug("access token refreshed")
	return nil
}

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

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
