package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/cartsync/internal/events"
	"github.com/TheMichaelB/cartsync/internal/models"
)

// EventStream receives cart change notifications over WebSocket.
type EventStream struct {
	url       string
	token     string
	sessionID string
	logger    *events.Logger

	// Connection state
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	// Channels
	events chan models.CartEvent
	errors chan error
	done   chan struct{}

	// Heartbeat
	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewEventStream creates an event stream client.
func NewEventStream(url, token, sessionID string, logger *events.Logger) *EventStream {
	// Convert http(s) to ws(s)
	if strings.HasPrefix(url, "http") {
		url = "ws" + url[4:]
	}

	return &EventStream{
		url:          url,
		token:        token,
		sessionID:    sessionID,
		logger:       logger.WithField("component", "event_stream"),
		events:       make(chan models.CartEvent, 100),
		errors:       make(chan error, 10),
		done:         make(chan struct{}),
		pingInterval: 30 * time.Second,
		pongTimeout:  10 * time.Second,
	}
}

// Connect establishes the WebSocket connection.
func (s *EventStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return errors.New("already connected")
	}
	if s.closed {
		return errors.New("stream closed")
	}

	s.logger.WithField("url", s.url).Info("Connecting to cart events")

	headers := http.Header{}
	if s.token != "" {
		headers.Set("Authorization", "Bearer "+s.token)
	}
	if s.sessionID != "" {
		headers.Set("X-Session-ID", s.sessionID)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, s.url, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket connect failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket connect failed: %w", err)
	}

	s.conn = conn

	go s.readLoop(conn)
	go s.pingLoop(conn)

	// Tie the stream lifetime to the caller's context.
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	s.logger.Info("Cart events connected")
	return nil
}

// Events returns the event channel. It is closed when the stream ends.
func (s *EventStream) Events() <-chan models.CartEvent {
	return s.events
}

// Errors returns the error channel.
func (s *EventStream) Errors() <-chan error {
	return s.errors
}

// Close closes the WebSocket connection.
func (s *EventStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

		err := s.conn.Close()
		s.conn = nil
		return err
	}

	return nil
}

func (s *EventStream) readLoop(conn *websocket.Conn) {
	defer func() {
		_ = s.Close()
		close(s.events)
		close(s.errors)
	}()

	deadline := s.pongTimeout + s.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				s.errors <- err
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))

		var event models.CartEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.logger.WithError(err).Debug("Skipping malformed cart event")
			continue
		}
		if event.Type == models.CartEventPing {
			continue
		}

		s.logger.WithFields(map[string]interface{}{
			"type":    event.Type,
			"cart_id": event.CartID,
		}).Debug("Received cart event")

		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}

func (s *EventStream) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if s.conn == nil {
				s.mu.Unlock()
				return
			}
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.mu.Unlock()
			if err != nil {
				s.logger.WithError(err).Warn("Ping failed")
				return
			}

		case <-s.done:
			return
		}
	}
}
