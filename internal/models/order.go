package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CouponCheckRequest is the body of POST /coupons/check.
type CouponCheckRequest struct {
	Code string `json:"code"`
}

// Coupon describes a discount as returned by the coupon-check endpoint.
type Coupon struct {
	Code              string           `json:"code"`
	DiscountType      string           `json:"discountType"` // percentage, fixed
	DiscountValue     decimal.Decimal  `json:"discountValue"`
	MinimumOrderValue *decimal.Decimal `json:"minimumOrderValue,omitempty"`
	ExpiresAt         *time.Time       `json:"expiresAt,omitempty"`
}

// CouponCheckResponse is the coupon-check endpoint result.
type CouponCheckResponse struct {
	Valid   bool    `json:"valid"`
	Message string  `json:"message"`
	Coupon  *Coupon `json:"coupon,omitempty"`
}

// PreviewOrderRequest is the body of POST /orders/preview-from-cart.
type PreviewOrderRequest struct {
	CartID        string          `json:"cartId"`
	CouponCode    string          `json:"couponCode,omitempty"`
	ShippingCost  decimal.Decimal `json:"shippingCost"`
	Tax           decimal.Decimal `json:"tax"`
	CustomerNotes string          `json:"customerNotes,omitempty"`
}

// PriceBreakdown is the server-computed (or fallback) order pricing.
type PriceBreakdown struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`

	// Fallback is set when the breakdown was computed locally.
	Fallback bool `json:"-"`
}

// CreateOrderRequest is the body of POST /orders/from-cart.
type CreateOrderRequest struct {
	CartID        string          `json:"cartId"`
	CouponCode    string          `json:"couponCode,omitempty"`
	ShippingCost  decimal.Decimal `json:"shippingCost"`
	CustomerNotes string          `json:"customerNotes,omitempty"`
}

// OrderSummary is the created order as returned by the server.
type OrderSummary struct {
	ID          string          `json:"id"`
	OrderNumber string          `json:"orderNumber,omitempty"`
	Status      string          `json:"status"`
	Total       decimal.Decimal `json:"total"`
	CreatedAt   time.Time       `json:"createdAt"`
}
