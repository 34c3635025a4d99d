package transport

import (
	"context"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/TheMichaelB/cartsync/internal/config"
	"github.com/TheMichaelB/cartsync/internal/events"
	"github.com/TheMichaelB/cartsync/internal/models"
)

// Transport combines HTTP and WebSocket functionality.
type Transport interface {
	// HTTP methods
	Call(ctx context.Context, method, path string, payload any, opts ...CallOption) (json.RawMessage, error)

	// Cart change notifications
	StreamEvents(ctx context.Context) (<-chan models.CartEvent, error)

	// Authentication and guest correlation
	SetToken(token string)
	GetToken() string
	SetSessionID(sessionID string)
	SessionID() string

	// Lifecycle
	Close() error
}

// CallOption adjusts a single Call.
type CallOption func(*callOptions)

type callOptions struct {
	idempotent bool
}

// Idempotent marks a request as safe to resend after a server error even
// though its method is not idempotent, e.g. a PATCH that sets an absolute value.
func Idempotent() CallOption {
	return func(o *callOptions) { o.idempotent = true }
}

func applyCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DefaultTransport implements the Transport interface.
type DefaultTransport struct {
	httpClient *HTTPClient
	eventsURL  string
	logger     *events.Logger

	mu     sync.Mutex
	stream *EventStream
}

// NewTransport creates a transport instance.
func NewTransport(cfg *config.APIConfig, logger *events.Logger) Transport {
	eventsURL := cfg.EventsURL
	if eventsURL == "" {
		eventsURL = cfg.BaseURL + "/cart/events"
	}
	return &DefaultTransport{
		httpClient: NewHTTPClient(cfg, logger),
		eventsURL:  eventsURL,
		logger:     logger,
	}
}

// Call forwards to HTTP client.
func (t *DefaultTransport) Call(ctx context.Context, method, path string, payload any, opts ...CallOption) (json.RawMessage, error) {
	return t.httpClient.Call(ctx, method, path, payload, opts...)
}

// StreamEvents opens the cart events socket. A previous stream is closed.
func (t *DefaultTransport) StreamEvents(ctx context.Context) (<-chan models.CartEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stream != nil {
		_ = t.stream.Close()
	}

	stream := NewEventStream(t.eventsURL, t.httpClient.GetToken(), t.httpClient.SessionID(), t.logger)
	if err := stream.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect events: %w", err)
	}
	t.stream = stream

	// Monitor errors in background
	go func() {
		for err := range stream.Errors() {
			t.logger.WithError(err).Warn("Cart events error")
		}
	}()

	return stream.Events(), nil
}

// SetToken sets the auth token.
func (t *DefaultTransport) SetToken(token string) {
	t.httpClient.SetToken(token)
}

// GetToken returns the current auth token.
func (t *DefaultTransport) GetToken() string {
	return t.httpClient.GetToken()
}

// SetSessionID sets the guest session sent as X-Session-ID.
func (t *DefaultTransport) SetSessionID(sessionID string) {
	t.httpClient.SetSessionID(sessionID)
}

// SessionID returns the guest session id.
func (t *DefaultTransport) SessionID() string {
	return t.httpClient.SessionID()
}

// Close closes all connections.
func (t *DefaultTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stream != nil {
		err := t.stream.Close()
		t.stream = nil
		return err
	}
	return nil
}
