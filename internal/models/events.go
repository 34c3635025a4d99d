package models

import (
	"time"

	json "github.com/goccy/go-json"
)

// CartEventType names a server push on the cart events socket.
type CartEventType string

const (
	CartEventUpdated     CartEventType = "cart.updated"
	CartEventCleared     CartEventType = "cart.cleared"
	CartEventPriceChange CartEventType = "cart.price_changed"
	CartEventPing        CartEventType = "ping"
)

// CartEvent is one message from the cart events socket.
type CartEvent struct {
	Type      CartEventType   `json:"type"`
	CartID    string          `json:"cartId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RequiresRefresh reports whether the event may have changed server-side cart state.
func (e CartEvent) RequiresRefresh() bool {
	switch e.Type {
	case CartEventUpdated, CartEventCleared, CartEventPriceChange:
		return true
	default:
		return false
	}
}
