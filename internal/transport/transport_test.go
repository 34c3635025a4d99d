package transport_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/cartsync/internal/config"
	"github.com/TheMichaelB/cartsync/internal/events"
	"github.com/TheMichaelB/cartsync/internal/models"
	"github.com/TheMichaelB/cartsync/internal/transport"
)

func testAPIConfig(baseURL string) *config.APIConfig {
	return &config.APIConfig{
		BaseURL:    baseURL,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
		UserAgent:  "test",
	}
}

func testLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

func TestHTTPClientRetry(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	client := transport.NewHTTPClient(testAPIConfig(server.URL), testLogger())

	resp, err := client.Call(context.Background(), http.MethodGet, "/cart", nil)
	require.NoError(t, err)

	var body struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.Unmarshal(resp, &body))
	assert.True(t, body.Success)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestHTTPClientDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"message":"Cart transfer not available"}`))
	}))
	defer server.Close()

	client := transport.NewHTTPClient(testAPIConfig(server.URL), testLogger())

	_, err := client.Call(context.Background(), http.MethodPost, "/cart/transfer", nil)
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
	assert.Equal(t, int32(1), attempts.Load())

	var apiErr *models.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Cart transfer not available", apiErr.Message)
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestHTTPClientHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/cart/update", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "sess-42", r.Header.Get("X-Session-ID"))
		assert.Equal(t, "req-fixed", r.Header.Get("X-Request-ID"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "test", r.Header.Get("User-Agent"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"itemId":"line-1","quantity":4}`, string(body))

		_, _ = w.Write([]byte(`{"cart":{"items":[]}}`))
	}))
	defer server.Close()

	client := transport.NewHTTPClient(testAPIConfig(server.URL), testLogger())
	client.SetToken("test-token")
	client.SetSessionID("sess-42")

	ctx := events.WithRequestID(context.Background(), "req-fixed")
	resp, err := client.Call(ctx, http.MethodPatch, "/cart/update", models.UpdateItemRequest{ItemID: "line-1", Quantity: 4})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cart":{"items":[]}}`, string(resp))
}

func TestHTTPClientGeneratesRequestID(t *testing.T) {
	seen := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("X-Session-ID"))
		seen <- r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := transport.NewHTTPClient(testAPIConfig(server.URL), testLogger())

	for i := 0; i < 2; i++ {
		resp, err := client.Call(context.Background(), http.MethodDelete, "/cart/clear", nil)
		require.NoError(t, err)
		assert.Equal(t, "null", string(resp))
	}

	first, second := <-seen, <-seen
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}

func TestHTTPClientInvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer server.Close()

	client := transport.NewHTTPClient(testAPIConfig(server.URL), testLogger())

	_, err := client.Call(context.Background(), http.MethodGet, "/cart", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse response")
}

func TestHTTPClientRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	cfg := testAPIConfig(server.URL)
	cfg.RateLimit = 20
	cfg.Burst = 1
	client := transport.NewHTTPClient(cfg, testLogger())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.Call(context.Background(), http.MethodGet, "/cart", nil)
		require.NoError(t, err)
	}

	// Burst of one at 20 req/s: two waits of ~50ms.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestEventStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		for _, msg := range []string{
			`{"type":"ping"}`,
			`not json`,
			`{"type":"cart.updated","cartId":"cart-1"}`,
			`{"type":"cart.cleared","cartId":"cart-1"}`,
		} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer server.Close()

	stream := transport.NewEventStream(server.URL, "test-token", "", testLogger())
	require.NoError(t, stream.Connect(context.Background()))
	defer stream.Close()

	var received []models.CartEvent
	timeout := time.After(2 * time.Second)
loop:
	for {
		select {
		case e, ok := <-stream.Events():
			if !ok {
				break loop
			}
			received = append(received, e)
		case <-timeout:
			t.Fatal("timeout waiting for events")
		}
	}

	require.Len(t, received, 2)
	assert.Equal(t, models.CartEventUpdated, received[0].Type)
	assert.Equal(t, "cart-1", received[0].CartID)
	assert.True(t, received[0].RequiresRefresh())
	assert.Equal(t, models.CartEventCleared, received[1].Type)
}

func TestTransportInterface(t *testing.T) {
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/login" {
			_, _ = w.Write([]byte(`{"token": "test-token"}`))
			return
		}
		if r.URL.Path == "/api/cart" {
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"cart":{"_id":"cart-1","items":[]}}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer httpServer.Close()

	tr := transport.NewTransport(testAPIConfig(httpServer.URL+"/api"), testLogger())
	defer tr.Close()

	ctx := context.Background()

	resp, err := tr.Call(ctx, http.MethodPost, "/auth/login", models.AuthRequest{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"token": "test-token"}`, string(resp))

	tr.SetToken("test-token")
	assert.Equal(t, "test-token", tr.GetToken())
	tr.SetSessionID("sess-1")
	assert.Equal(t, "sess-1", tr.SessionID())

	_, err = tr.Call(ctx, http.MethodGet, "/cart", nil)
	require.NoError(t, err)

	_, err = tr.Call(ctx, http.MethodGet, "/missing", nil)
	assert.True(t, models.IsNotFound(err))
}

func TestMockTransport(t *testing.T) {
	mock := transport.NewMockTransport()
	boom := errors.New("boom")

	mock.AddResponse(http.MethodGet, "/cart", map[string]any{"cart": map[string]any{"items": []any{}}})
	mock.AddResponse(http.MethodPost, "/cart/add", `{"cart":{"sessionId":"s1"}}`)
	mock.AddError(http.MethodDelete, "/cart/clear", boom)
	mock.AddEvent(models.CartEvent{Type: models.CartEventUpdated})

	ctx := context.Background()
	mock.SetToken("tok")

	resp, err := mock.Call(ctx, http.MethodGet, "/cart", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cart":{"items":[]}}`, string(resp))

	resp, err = mock.Call(ctx, http.MethodPost, "/cart/add", models.AddItemRequest{ProductID: "p"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cart":{"sessionId":"s1"}}`, string(resp))

	_, err = mock.Call(ctx, http.MethodDelete, "/cart/clear", nil)
	assert.ErrorIs(t, err, boom)

	_, err = mock.Call(ctx, http.MethodGet, "/unknown", nil)
	assert.Error(t, err)

	assert.Equal(t, 1, mock.CallCount(http.MethodPost, "/cart/add"))
	reqs := mock.RequestsFor(http.MethodPost, "/cart/add")
	require.Len(t, reqs, 1)
	assert.Equal(t, "tok", reqs[0].Token)

	ch, err := mock.StreamEvents(ctx)
	require.NoError(t, err)
	var got []models.CartEvent
	for e := range ch {
		got = append(got, e)
	}
	assert.Len(t, got, 1)

	require.NoError(t, mock.Close())
	assert.True(t, mock.IsClosed())
}
