// Package checkout validates coupons and drives order preview and creation.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/TheMichaelB/cartsync/internal/cartstate"
	"github.com/TheMichaelB/cartsync/internal/events"
	"github.com/TheMichaelB/cartsync/internal/models"
)

// MinCouponLength is the shortest code sent to the server.
const MinCouponLength = 3

// OrderService is the remote order service.
type OrderService interface {
	CheckCoupon(ctx context.Context, code string) (*models.CouponCheckResponse, error)
	Preview(ctx context.Context, req models.PreviewOrderRequest) (*models.PriceBreakdown, error)
	Create(ctx context.Context, req models.CreateOrderRequest) (*models.OrderSummary, error)
}

// Cart is the part of the cart store checkout needs.
type Cart interface {
	State() cartstate.State
	ClearAfterOrder(orderNumber string)
}

// Options holds checkout defaults.
type Options struct {
	DefaultShipping decimal.Decimal
	TaxRate         decimal.Decimal
}

// Service runs the checkout flow.
type Service struct {
	orders OrderService
	cart   Cart
	opts   Options
	logger *events.Logger

	mu          sync.Mutex
	coupon      *models.Coupon
	previewKey  string
	lastPreview *models.PriceBreakdown
}

// NewService creates a checkout service.
func NewService(orders OrderService, cart Cart, opts Options, logger *events.Logger) *Service {
	return &Service{
		orders: orders,
		cart:   cart,
		opts:   opts,
		logger: logger.WithField("service", "checkout"),
	}
}

// ValidateCouponFormat checks a code locally and returns its normalized form.
func ValidateCouponFormat(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if len([]rune(code)) < MinCouponLength {
		return "", &models.ValidationError{
			Field:   "coupon",
			Message: fmt.Sprintf("Coupon code must be at least %d characters", MinCouponLength),
		}
	}
	for _, r := range code {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' ' && r != '-' {
			return "", &models.ValidationError{
				Field:   "coupon",
				Message: "Coupon code may only contain letters, numbers, spaces and dashes",
			}
		}
	}
	return cases.Upper(language.Und).String(code), nil
}

// ValidateCoupon checks raw locally, then with the server, then against the
// current subtotal. A valid coupon becomes the applied coupon.
func (s *Service) ValidateCoupon(ctx context.Context, raw string) (*models.Coupon, error) {
	code, err := ValidateCouponFormat(raw)
	if err != nil {
		return nil, err
	}

	resp, err := s.orders.CheckCoupon(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("validate coupon: %w", err)
	}

	logger := s.logger.WithField("code", code)

	if !resp.Valid {
		msg := resp.Message
		if msg == "" {
			msg = "Invalid coupon code"
		}
		logger.WithField("reason", msg).Info("Coupon rejected")
		return nil, &models.BusinessError{Reason: "coupon_invalid", Message: msg}
	}

	coupon := models.Coupon{Code: code}
	if resp.Coupon != nil {
		coupon = *resp.Coupon
		if coupon.Code == "" {
			coupon.Code = code
		}
	}

	if minimum := coupon.MinimumOrderValue; minimum != nil {
		subtotal := s.cart.State().Subtotal()
		if subtotal.LessThan(*minimum) {
			short := minimum.Sub(subtotal)
			logger.WithFields(map[string]interface{}{
				"minimum":  minimum.String(),
				"subtotal": subtotal.String(),
			}).Info("Coupon below minimum order value")
			return nil, &models.BusinessError{
				Reason: "coupon_minimum",
				Message: fmt.Sprintf("Minimum order value for this coupon is %s. Add %s more to use it.",
					minimum.StringFixed(2), short.StringFixed(2)),
			}
		}
	}

	s.mu.Lock()
	s.coupon = &coupon
	s.mu.Unlock()

	logger.Info("Coupon applied")
	return &coupon, nil
}

// AppliedCoupon returns the applied coupon, or nil.
func (s *Service) AppliedCoupon() *models.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coupon == nil {
		return nil
	}
	c := *s.coupon
	return &c
}

// ClearCoupon removes the applied coupon.
func (s *Service) ClearCoupon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupon = nil
}

// Draft builds a preview request from the cart, the applied coupon and the
// configured shipping and tax rate.
func (s *Service) Draft(notes string) models.PreviewOrderRequest {
	st := s.cart.State()
	req := models.PreviewOrderRequest{
		CartID:        st.CartID,
		ShippingCost:  s.opts.DefaultShipping,
		Tax:           st.Subtotal().Mul(s.opts.TaxRate).Round(2),
		CustomerNotes: notes,
	}
	if c := s.AppliedCoupon(); c != nil {
		req.CouponCode = c.Code
	}
	return req
}

// PreviewOrder returns the server price breakdown. Unchanged inputs reuse the
// last breakdown. When the server cannot be asked, a local breakdown of
// subtotal plus shipping is returned with Fallback set.
func (s *Service) PreviewOrder(ctx context.Context, req models.PreviewOrderRequest) (*models.PriceBreakdown, error) {
	st := s.cart.State()
	if st.IsEmpty() {
		return nil, models.ErrEmptyCart
	}
	if req.CartID == "" {
		req.CartID = st.CartID
	}
	if req.CouponCode == "" {
		if c := s.AppliedCoupon(); c != nil {
			req.CouponCode = c.Code
		}
	}

	key := previewKey(st, req)

	s.mu.Lock()
	if s.lastPreview != nil && s.previewKey == key {
		cached := *s.lastPreview
		s.mu.Unlock()
		return &cached, nil
	}
	s.mu.Unlock()

	logger := s.logger.WithField("cart_id", req.CartID)

	if req.CartID == "" {
		logger.Debug("Cart not synced, using local preview")
		return fallback(st, req), nil
	}

	b, err := s.orders.Preview(ctx, req)
	if err != nil {
		logger.WithError(err).Warn("Order preview failed, using local preview")
		return fallback(st, req), nil
	}

	s.mu.Lock()
	s.previewKey = key
	cached := *b
	s.lastPreview = &cached
	s.mu.Unlock()

	return b, nil
}

// CreateOrder places the order. On success the cart is cleared. A failure
// that mentions the coupon clears the applied coupon and is returned as a
// BusinessError carrying the server message.
func (s *Service) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (*models.OrderSummary, error) {
	st := s.cart.State()
	if st.IsEmpty() {
		return nil, models.ErrEmptyCart
	}
	if req.CartID == "" {
		req.CartID = st.CartID
	}
	if req.CartID == "" {
		return nil, models.ErrNoCartID
	}
	if req.CouponCode == "" {
		if c := s.AppliedCoupon(); c != nil {
			req.CouponCode = c.Code
		}
	}

	order, err := s.orders.Create(ctx, req)
	if err != nil {
		msg := models.UserMessage(err)
		if strings.Contains(strings.ToLower(msg), "coupon") {
			s.logger.WithField("code", req.CouponCode).Info("Order rejected for coupon, clearing it")
			s.ClearCoupon()
			s.resetPreview()
			return nil, &models.BusinessError{Reason: "coupon_rejected", Message: msg}
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.cart.ClearAfterOrder(order.OrderNumber)
	s.ClearCoupon()
	s.resetPreview()

	return order, nil
}

func (s *Service) resetPreview() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previewKey = ""
	s.lastPreview = nil
}

func fallback(st cartstate.State, req models.PreviewOrderRequest) *models.PriceBreakdown {
	subtotal := st.Subtotal()
	return &models.PriceBreakdown{
		Subtotal: subtotal,
		Shipping: req.ShippingCost,
		Tax:      decimal.Zero,
		Discount: decimal.Zero,
		Total:    subtotal.Add(req.ShippingCost),
		Fallback: true,
	}
}

// previewKey identifies the inputs a breakdown depends on.
func previewKey(st cartstate.State, req models.PreviewOrderRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%s|%s", req.CartID, req.CouponCode, req.ShippingCost.String(), req.Tax.String(), req.CustomerNotes)
	for _, l := range st.Lines {
		fmt.Fprintf(&b, "|%s:%d:%s", l.UniqueID, l.Quantity, l.UnitPrice.String())
	}
	return b.String()
}
