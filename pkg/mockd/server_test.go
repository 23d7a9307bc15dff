package mockd_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/campuskit/sage/pkg/api"
	"github.com/campuskit/sage/pkg/chat"
	"github.com/campuskit/sage/pkg/mockd"
	"github.com/campuskit/sage/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mock := mockd.New()
	mock.SetDelay(0)
	server := httptest.NewServer(mock.Handler())
	t.Cleanup(server.Close)
	return server
}

func TestMockBackendAuth(t *testing.T) {
	server := newTestServer(t)

	t.Run("should issue tokens on login", func(t *testing.T) {
		client := api.NewClient(server.URL)
		require.NoError(t, client.Login(context.Background(), "student", "pw"))
		assert.NotEmpty(t, client.AccessToken())
	})

	t.Run("should reject a login without credentials", func(t *testing.T) {
		client := api.NewClient(server.URL)
		assert.Error(t, client.Login(context.Background(), "", ""))
	})
}

func TestMockBackendAsk(t *testing.T) {
	server := newTestServer(t)
	client := api.NewClient(server.URL)

	t.Run("should answer a known topic with references", func(t *testing.T) {
		resp, err := client.Ask(context.Background(), "when does the library open?")
		require.NoError(t, err)
		assert.Contains(t, resp.Text(), "library")
		assert.NotEmpty(t, resp.References())
	})

	t.Run("should fall back to a generic answer", func(t *testing.T) {
		resp, err := client.Ask(context.Background(), "what is the meaning of life?")
		require.NoError(t, err)
		assert.Contains(t, resp.Text(), "don't have a precise answer")
		assert.Empty(t, resp.References())
	})

	t.Run("should report the busy condition", func(t *testing.T) {
		_, err := client.Ask(context.Background(), "please overload yourself")
		var reqErr *stream.RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.True(t, reqErr.Busy())
	})
}

func TestMockBackendStreaming(t *testing.T) {
	server := newTestServer(t)

	t.Run("should stream a full turn the client can assemble", func(t *testing.T) {
		client := stream.NewClient(server.URL, func() string { return "mock-access-x" })

		var mu sync.Mutex
		var text string
		var refs []chat.ReferenceArticle
		done := make(chan struct{})

		s, err := client.StreamQuestion(context.Background(), "where can I eat on campus?", stream.Handlers{
			OnDelta: func(delta string) {
				mu.Lock()
				text += delta
				mu.Unlock()
			},
			OnReferences: func(r []chat.ReferenceArticle) {
				mu.Lock()
				refs = r
				mu.Unlock()
			},
			OnDone: func() { close(done) },
		})
		require.NoError(t, err)

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("stream did not complete")
		}

		mu.Lock()
		defer mu.Unlock()
		assert.Contains(t, text, "dining halls")
		require.NotEmpty(t, refs)
		assert.Equal(t, 301, refs[0].ID)
		assert.Equal(t, stream.StateDone, s.State())
	})

	t.Run("should surface the busy condition through OnError", func(t *testing.T) {
		client := stream.NewClient(server.URL, nil)

		errCh := make(chan *stream.RequestError, 1)
		_, err := client.StreamQuestion(context.Background(), "overload test", stream.Handlers{
			OnError: func(e *stream.RequestError) { errCh <- e },
		})
		require.NoError(t, err)

		select {
		case reqErr := <-errCh:
			assert.True(t, reqErr.Busy())
		case <-time.After(5 * time.Second):
			t.Fatal("no error reported")
		}
	})
}
