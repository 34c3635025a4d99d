// Package orders is the client for the coupon and order endpoints.
package orders

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/TheMichaelB/cartsync/internal/events"
	"github.com/TheMichaelB/cartsync/internal/models"
	"github.com/TheMichaelB/cartsync/internal/transport"
)

// Service talks to the remote order service.
type Service struct {
	transport transport.Transport
	logger    *events.Logger
}

// NewService creates an order service client.
func NewService(transport transport.Transport, logger *events.Logger) *Service {
	return &Service{
		transport: transport,
		logger:    logger.WithField("service", "orders"),
	}
}

// CheckCoupon asks the server whether code is valid. code is sent as given.
func (s *Service) CheckCoupon(ctx context.Context, code string) (*models.CouponCheckResponse, error) {
	s.logger.WithField("code", code).Debug("Checking coupon")

	resp, err := s.transport.Call(ctx, http.MethodPost, "/coupons/check", models.CouponCheckRequest{Code: code})
	if err != nil {
		return nil, fmt.Errorf("check coupon: %w", err)
	}

	var wire struct {
		Valid   *bool          `json:"valid"`
		Message string         `json:"message"`
		Coupon  *models.Coupon `json:"coupon"`
	}
	if err := json.Unmarshal(unwrap(resp, ""), &wire); err != nil {
		return nil, fmt.Errorf("check coupon: decode response: %w", err)
	}
	out := models.CouponCheckResponse{Message: wire.Message, Coupon: wire.Coupon}
	if wire.Valid != nil {
		out.Valid = *wire.Valid
	}

	// Some deployments only send {"success": true, "data": {coupon}}.
	if wire.Valid == nil && out.Coupon == nil {
		var env struct {
			Success *bool           `json:"success"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data"`
		}
		if json.Unmarshal(resp, &env) == nil && env.Success != nil {
			out.Valid = *env.Success
			if out.Message == "" {
				out.Message = env.Message
			}
			if out.Valid && len(env.Data) > 0 {
				var coupon models.Coupon
				if json.Unmarshal(env.Data, &coupon) == nil && coupon.Code != "" {
					out.Coupon = &coupon
				}
			}
		}
	}

	return &out, nil
}

// Preview returns the server-computed price breakdown.
func (s *Service) Preview(ctx context.Context, req models.PreviewOrderRequest) (*models.PriceBreakdown, error) {
	s.logger.WithFields(map[string]interface{}{
		"cart_id": req.CartID,
		"coupon":  req.CouponCode,
	}).Debug("Previewing order")

	resp, err := s.transport.Call(ctx, http.MethodPost, "/orders/preview-from-cart", req)
	if err != nil {
		return nil, fmt.Errorf("preview order: %w", err)
	}

	var wire struct {
		Subtotal     *decimal.Decimal `json:"subtotal"`
		Shipping     *decimal.Decimal `json:"shipping"`
		ShippingCost *decimal.Decimal `json:"shippingCost"`
		Tax          *decimal.Decimal `json:"tax"`
		Discount     *decimal.Decimal `json:"discount"`
		Total        *decimal.Decimal `json:"total"`
		TotalAmount  *decimal.Decimal `json:"totalAmount"`
	}
	if err := json.Unmarshal(unwrap(resp, "preview"), &wire); err != nil {
		return nil, fmt.Errorf("preview order: decode response: %w", err)
	}

	total := firstDecimal(wire.Total, wire.TotalAmount)
	if total == nil {
		return nil, fmt.Errorf("preview order: response has no total")
	}

	return &models.PriceBreakdown{
		Subtotal: valueOrZero(wire.Subtotal),
		Shipping: valueOrZero(firstDecimal(wire.Shipping, wire.ShippingCost)),
		Tax:      valueOrZero(wire.Tax),
		Discount: valueOrZero(wire.Discount),
		Total:    *total,
	}, nil
}

// Create places an order from the cart.
func (s *Service) Create(ctx context.Context, req models.CreateOrderRequest) (*models.OrderSummary, error) {
	s.logger.WithField("cart_id", req.CartID).Info("Creating order")

	resp, err := s.transport.Call(ctx, http.MethodPost, "/orders/from-cart", req)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	var wire struct {
		ID          string           `json:"id"`
		MongoID     string           `json:"_id"`
		OrderNumber string           `json:"orderNumber"`
		Status      string           `json:"status"`
		Total       *decimal.Decimal `json:"total"`
		TotalAmount *decimal.Decimal `json:"totalAmount"`
		CreatedAt   string           `json:"createdAt"`
	}
	if err := json.Unmarshal(unwrap(resp, "order"), &wire); err != nil {
		return nil, fmt.Errorf("create order: decode response: %w", err)
	}

	order := &models.OrderSummary{
		ID:          wire.ID,
		OrderNumber: wire.OrderNumber,
		Status:      wire.Status,
		Total:       valueOrZero(firstDecimal(wire.Total, wire.TotalAmount)),
	}
	if ts, err := time.Parse(time.RFC3339, wire.CreatedAt); err == nil {
		order.CreatedAt = ts
	}
	if order.ID == "" {
		order.ID = wire.MongoID
	}

	s.logger.WithFields(map[string]interface{}{
		"order_id": order.ID,
		"number":   order.OrderNumber,
	}).Info("Order created")

	return order, nil
}

// unwrap strips {"success":..,"data":..} and an optional named inner object.
func unwrap(raw json.RawMessage, inner string) json.RawMessage {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if json.Unmarshal(raw, &env) == nil && isObject(env.Data) {
		raw = env.Data
	}
	if inner == "" {
		return raw
	}

	var named map[string]json.RawMessage
	if json.Unmarshal(raw, &named) == nil {
		if v, ok := named[inner]; ok && isObject(v) {
			return v
		}
	}
	return raw
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func firstDecimal(values ...*decimal.Decimal) *decimal.Decimal {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func valueOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
