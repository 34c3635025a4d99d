// Package carts is the client for the remote cart endpoints.
package carts

import (
	"context"
	"fmt"
	"net/http"

	"github.com/TheMichaelB/cartsync/internal/events"
	"github.com/TheMichaelB/cartsync/internal/models"
	"github.com/TheMichaelB/cartsync/internal/transport"
)

// Service talks to the remote cart service.
type Service struct {
	transport    transport.Transport
	assetBaseURL string
	logger       *events.Logger
}

// NewService creates a cart service client.
func NewService(transport transport.Transport, assetBaseURL string, logger *events.Logger) *Service {
	return &Service{
		transport:    transport,
		assetBaseURL: assetBaseURL,
		logger:       logger.WithField("service", "carts"),
	}
}

// Get fetches the current cart.
func (s *Service) Get(ctx context.Context) (*models.ServerCart, error) {
	return s.call(ctx, "get cart", http.MethodGet, "/cart", nil)
}

// Add adds a product to the cart. Guests receive a sessionId in the result.
func (s *Service) Add(ctx context.Context, req models.AddItemRequest) (*models.ServerCart, error) {
	return s.call(ctx, "add item", http.MethodPost, "/cart/add", req)
}

// UpdateQuantity sets the quantity of a server line.
func (s *Service) UpdateQuantity(ctx context.Context, itemID string, quantity int) (*models.ServerCart, error) {
	return s.call(ctx, "update item", http.MethodPatch, "/cart/update", models.UpdateItemRequest{
		ItemID:   itemID,
		Quantity: quantity,
	}, transport.Idempotent())
}

// Remove deletes a server line.
func (s *Service) Remove(ctx context.Context, itemID string) (*models.ServerCart, error) {
	return s.call(ctx, "remove item", http.MethodDelete, "/cart/remove", models.RemoveItemRequest{ItemID: itemID})
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context) (*models.ServerCart, error) {
	return s.call(ctx, "clear cart", http.MethodDelete, "/cart/clear", nil)
}

// Transfer merges a guest session's cart into the customer's cart.
// A 404 is reported as models.ErrTransferUnsupported.
func (s *Service) Transfer(ctx context.Context, sessionID, customerID string) (*models.ServerCart, error) {
	cart, err := s.call(ctx, "transfer cart", http.MethodPost, "/cart/transfer", models.TransferRequest{
		SessionID:  sessionID,
		CustomerID: customerID,
	})
	if models.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %w", models.ErrTransferUnsupported, err)
	}
	return cart, err
}

// SetSessionID sets the guest session sent with every request.
func (s *Service) SetSessionID(sessionID string) {
	s.transport.SetSessionID(sessionID)
}

func (s *Service) call(ctx context.Context, op, method, path string, payload any, opts ...transport.CallOption) (*models.ServerCart, error) {
	s.logger.WithFields(map[string]interface{}{
		"op":   op,
		"path": path,
	}).Debug("Calling cart service")

	resp, err := s.transport.Call(ctx, method, path, payload, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cart, err := DecodeCart(resp, s.assetBaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"op":    op,
		"items": len(cart.Items),
	}).Debug("Cart service responded")

	return cart, nil
}
