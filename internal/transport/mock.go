package transport

import (
	"context"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/TheMichaelB/cartsync/internal/models"
)

// MockTransport provides a mock implementation for testing.
type MockTransport struct {
	mu sync.Mutex

	// Response configuration, keyed by "METHOD /path"
	Responses map[string]any
	Errors    map[string]error
	Events    []models.CartEvent

	// Error injection for every call
	CallError   error
	StreamError error

	// Request tracking
	Requests []Request

	// State
	token     string
	sessionID string
	eventChan chan models.CartEvent
	closed    bool
}

// Request tracks a call made through the mock.
type Request struct {
	Method     string
	Path       string
	Payload    any
	Token      string
	SessionID  string
	Idempotent bool
}

// NewMockTransport creates a mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		Responses: make(map[string]any),
		Errors:    make(map[string]error),
	}
}

func routeKey(method, path string) string {
	return method + " " + path
}

// Call mocks an HTTP request.
func (m *MockTransport) Call(ctx context.Context, method, path string, payload any, opts ...CallOption) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, Request{
		Method:     method,
		Path:       path,
		Payload:    payload,
		Token:      m.token,
		SessionID:  m.sessionID,
		Idempotent: applyCallOptions(opts).idempotent,
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.CallError != nil {
		return nil, m.CallError
	}

	key := routeKey(method, path)
	if err, ok := m.Errors[key]; ok {
		return nil, err
	}

	resp, ok := m.Responses[key]
	if !ok {
		return nil, fmt.Errorf("no mock response for %s", key)
	}

	switch r := resp.(type) {
	case json.RawMessage:
		return r, nil
	case string:
		return json.RawMessage(r), nil
	case []byte:
		return json.RawMessage(r), nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal mock response: %w", err)
	}
	return data, nil
}

// StreamEvents replays the configured events and closes the channel.
func (m *MockTransport) StreamEvents(ctx context.Context) (<-chan models.CartEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.StreamError != nil {
		return nil, m.StreamError
	}

	ch := make(chan models.CartEvent, len(m.Events))
	for _, e := range m.Events {
		ch <- e
	}
	close(ch)
	m.eventChan = ch

	return ch, nil
}

// SetToken mocks token setting.
func (m *MockTransport) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// GetToken returns the current token.
func (m *MockTransport) GetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// SetSessionID mocks session setting.
func (m *MockTransport) SetSessionID(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = sessionID
}

// SessionID returns the current session id.
func (m *MockTransport) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Close mocks connection closing.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Helper methods for test setup

// AddResponse sets the response for a route.
func (m *MockTransport) AddResponse(method, path string, response any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[routeKey(method, path)] = response
}

// AddError sets an error for a route.
func (m *MockTransport) AddError(method, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[routeKey(method, path)] = err
}

// ClearError removes the error for a route.
func (m *MockTransport) ClearError(method, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Errors, routeKey(method, path))
}

// AddEvent queues a cart event for StreamEvents.
func (m *MockTransport) AddEvent(event models.CartEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
}

// CallCount returns how many calls hit a route.
func (m *MockTransport) CallCount(method, path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.Requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// RequestsFor returns the calls made to a route.
func (m *MockTransport) RequestsFor(method, path string) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.Requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// IsClosed reports whether Close was called.
func (m *MockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
