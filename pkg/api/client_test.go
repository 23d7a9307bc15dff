package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/campuskit/sage/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin(t *testing.T) {
	t.Run("should store the issued token pair", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/user/auth/login/", r.URL.Path)
			assert.Empty(t, r.Header.Get("Authorization"), "login must not carry a bearer token")

			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "student", req["username"])

			_ = json.NewEncoder(w).Encode(map[string]string{"access": "acc-1", "refresh": "ref-1"})
		}))
		defer server.Close()

		client := NewClient(server.URL)
		require.NoError(t, client.Login(context.Background(), "student", "pw"))
		assert.Equal(t, "acc-1", client.AccessToken())
	})

	t.Run("should fail when no access token is issued", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{})
		}))
		defer server.Close()

		client := NewClient(server.URL)
		assert.Error(t, client.Login(context.Background(), "student", "pw"))
	})
}

func TestAsk(t *testing.T) {
	t.Run("should return the answer and references", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/ask/", r.URL.Path)
			assert.Equal(t, "Bearer acc", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"question":"q","answer":"the answer","references-articles":[{"id":3,"title":"t","article_url":"u"}]}`))
		}))
		defer server.Close()

		client := NewClient(server.URL)
		client.SetTokens("acc", "ref")

		resp, err := client.Ask(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, "the answer", resp.Text())
		require.Len(t, resp.References(), 1)
		assert.Equal(t, 3, resp.References()[0].ID)
	})

	t.Run("should normalize alternate text keys", func(t *testing.T) {
		cases := []struct {
			body string
			want string
		}{
			{`{"answer":"a","reply":"r"}`, "a"},
			{`{"reply":"r","message":"m"}`, "r"},
			{`{"message":"m"}`, "m"},
		}
		for _, tc := range cases {
			var resp AskResponse
			require.NoError(t, json.Unmarshal([]byte(tc.body), &resp))
			assert.Equal(t, tc.want, resp.Text(), "body %s", tc.body)
		}
	})

	t.Run("should surface HTTP failures as request errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"detail":"busy"}`))
		}))
		defer server.Close()

		client := NewClient(server.URL)
		_, err := client.Ask(context.Background(), "q")

		var reqErr *stream.RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusServiceUnavailable, reqErr.Status)
		assert.Equal(t, "busy", reqErr.Message)
		assert.True(t, reqErr.Busy())
	})
}

func TestTokenRefresh(t *testing.T) {
	t.Run("should refresh once and retry on 401", func(t *testing.T) {
		var refreshes atomic.Int32

		mux := http.NewServeMux()
		mux.HandleFunc("/ask/", func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"answer":"ok"}`))
		})
		mux.HandleFunc("/user/auth/token/refresh/", func(w http.ResponseWriter, r *http.Request) {
			refreshes.Add(1)
			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "ref", req["refresh"])
			_ = json.NewEncoder(w).Encode(map[string]string{"access": "fresh"})
		})

		server := httptest.NewServer(mux)
		defer server.Close()

		client := NewClient(server.URL)
		client.SetTokens("stale", "ref")

		resp, err := client.Ask(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Text())
		assert.Equal(t, int32(1), refreshes.Load())
		assert.Equal(t, "fresh", client.AccessToken())
	})

	t.Run("should collapse concurrent refreshes into one call", func(t *testing.T) {
		var refreshes atomic.Int32
		gate := make(chan struct{})

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/user/auth/token/refresh/", r.URL.Path)
			refreshes.Add(1)
			<-gate
			_ = json.NewEncoder(w).Encode(map[string]string{"access": "fresh"})
		}))
		defer server.Close()

		client := NewClient(server.URL)
		client.SetTokens("stale", "ref")

		var started, wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			started.Add(1)
			wg.Add(1)
			go func() {
				started.Done()
				defer wg.Done()
				assert.NoError(t, client.refreshAccessToken(context.Background()))
			}()
		}

		// Let every goroutine pile onto the in-flight exchange before the
		// server is allowed to answer.
		started.Wait()
		time.Sleep(20 * time.Millisecond)
		close(gate)
		wg.Wait()

		assert.Equal(t, int32(1), refreshes.Load())
		assert.Equal(t, "fresh", client.AccessToken())
	})

	t.Run("should clear tokens when the refresh is rejected", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/ask/", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		mux.HandleFunc("/user/auth/token/refresh/", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"token expired"}`))
		})

		server := httptest.NewServer(mux)
		defer server.Close()

		client := NewClient(server.URL)
		client.SetTokens("stale", "dead")

		_, err := client.Ask(context.Background(), "q")
		require.Error(t, err)
		assert.Empty(t, client.AccessToken())
	})

	t.Run("should not attempt a refresh without a refresh token", func(t *testing.T) {
		var refreshes atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("/ask/", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"auth required"}`))
		})
		mux.HandleFunc("/user/auth/token/refresh/", func(w http.ResponseWriter, _ *http.Request) {
			refreshes.Add(1)
		})

		server := httptest.NewServer(mux)
		defer server.Close()

		client := NewClient(server.URL)
		_, err := client.Ask(context.Background(), "q")

		var reqErr *stream.RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusUnauthorized, reqErr.Status)
		assert.Equal(t, int32(0), refreshes.Load())
	})
}
