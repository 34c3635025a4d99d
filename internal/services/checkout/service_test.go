package checkout_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/cartsync/internal/cartstate"
	"github.com/TheMichaelB/cartsync/internal/config"
	"github.com/TheMichaelB/cartsync/internal/events"
	"github.com/TheMichaelB/cartsync/internal/models"
	"github.com/TheMichaelB/cartsync/internal/services/checkout"
	"github.com/TheMichaelB/cartsync/internal/services/orders"
	"github.com/TheMichaelB/cartsync/internal/transport"
)

type fakeOrders struct {
	couponResp *models.CouponCheckResponse
	couponErr  error
	preview    *models.PriceBreakdown
	previewErr error
	order      *models.OrderSummary
	createErr  error

	coupons  []string
	previews []models.PreviewOrderRequest
	creates  []models.CreateOrderRequest
}

func (f *fakeOrders) CheckCoupon(ctx context.Context, code string) (*models.CouponCheckResponse, error) {
	f.coupons = append(f.coupons, code)
	if f.couponErr != nil {
		return nil, f.couponErr
	}
	return f.couponResp, nil
}

func (f *fakeOrders) Preview(ctx context.Context, req models.PreviewOrderRequest) (*models.PriceBreakdown, error) {
	f.previews = append(f.previews, req)
	if f.previewErr != nil {
		return nil, f.previewErr
	}
	b := *f.preview
	return &b, nil
}

func (f *fakeOrders) Create(ctx context.Context, req models.CreateOrderRequest) (*models.OrderSummary, error) {
	f.creates = append(f.creates, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.order, nil
}

type fakeCart struct {
	state   cartstate.State
	cleared []string
}

func (c *fakeCart) State() cartstate.State { return c.state.Clone() }

func (c *fakeCart) ClearAfterOrder(orderNumber string) {
	c.cleared = append(c.cleared, orderNumber)
	c.state.Lines = nil
	c.state.CartID = ""
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// cartWith returns a cart with one line worth qty * price.
func cartWith(qty int, price string) *fakeCart {
	return &fakeCart{state: cartstate.State{
		CartID: "cart-1",
		Lines: []models.CartLine{
			{ProductID: "ring-1", UniqueID: "ring-1_l1", ServerLineID: "l1", Quantity: qty, UnitPrice: dec(price)},
		},
	}}
}

func newService(orders *fakeOrders, cart *fakeCart) *checkout.Service {
	return checkout.NewService(orders, cart, checkout.Options{
		DefaultShipping: dec("10"),
		TaxRate:         dec("0.08"),
	}, events.NewNopLogger())
}

func TestValidateCouponFormat(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"AB", "", true},
		{"  ab  ", "", true},
		{"", "", true},
		{"SAVE10", "SAVE10", false},
		{"save10", "SAVE10", false},
		{" spring-sale 25 ", "SPRING-SALE 25", false},
		{"BAD$", "", true},
		{"50%OFF", "", true},
		{"ÉTÉ-10", "ÉTÉ-10", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := checkout.ValidateCouponFormat(tt.raw)
			if tt.wantErr {
				var vErr *models.ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, "coupon", vErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateCoupon(t *testing.T) {
	ctx := context.Background()

	t.Run("short code makes no call", func(t *testing.T) {
		orders := &fakeOrders{}
		svc := newService(orders, cartWith(1, "200"))

		_, err := svc.ValidateCoupon(ctx, "AB")
		var vErr *models.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.Message, "at least 3")
		assert.Empty(t, orders.coupons)
	})

	t.Run("valid code makes exactly one call", func(t *testing.T) {
		orders := &fakeOrders{couponResp: &models.CouponCheckResponse{
			Valid:  true,
			Coupon: &models.Coupon{DiscountType: "percentage", DiscountValue: dec("10")},
		}}
		svc := newService(orders, cartWith(1, "200"))

		coupon, err := svc.ValidateCoupon(ctx, "save10")
		require.NoError(t, err)
		assert.Equal(t, []string{"SAVE10"}, orders.coupons)
		assert.Equal(t, "SAVE10", coupon.Code)
		require.NotNil(t, svc.AppliedCoupon())
		assert.Equal(t, "SAVE10", svc.AppliedCoupon().Code)
	})

	t.Run("server rejection is verbatim", func(t *testing.T) {
		orders := &fakeOrders{couponResp: &models.CouponCheckResponse{Message: "Coupon has expired"}}
		svc := newService(orders, cartWith(1, "200"))

		_, err := svc.ValidateCoupon(ctx, "OLD10")
		var bizErr *models.BusinessError
		require.ErrorAs(t, err, &bizErr)
		assert.Equal(t, "Coupon has expired", bizErr.Message)
		assert.Nil(t, svc.AppliedCoupon())
	})

	t.Run("below minimum order value", func(t *testing.T) {
		minimum := dec("100")
		orders := &fakeOrders{couponResp: &models.CouponCheckResponse{
			Valid:  true,
			Coupon: &models.Coupon{Code: "BIG20", MinimumOrderValue: &minimum},
		}}
		svc := newService(orders, cartWith(2, "40"))

		_, err := svc.ValidateCoupon(ctx, "BIG20")
		var bizErr *models.BusinessError
		require.ErrorAs(t, err, &bizErr)
		assert.Equal(t, "coupon_minimum", bizErr.Reason)
		assert.Contains(t, bizErr.Message, "100.00")
		assert.Contains(t, bizErr.Message, "20.00")
		assert.Nil(t, svc.AppliedCoupon())
	})

	t.Run("minimum met", func(t *testing.T) {
		minimum := dec("100")
		orders := &fakeOrders{couponResp: &models.CouponCheckResponse{
			Valid:  true,
			Coupon: &models.Coupon{Code: "BIG20", MinimumOrderValue: &minimum},
		}}
		svc := newService(orders, cartWith(2, "50"))

		_, err := svc.ValidateCoupon(ctx, "BIG20")
		assert.NoError(t, err)
	})

	t.Run("transport failure", func(t *testing.T) {
		orders := &fakeOrders{couponErr: errors.New("timeout")}
		svc := newService(orders, cartWith(1, "1"))

		_, err := svc.ValidateCoupon(ctx, "SAVE10")
		assert.ErrorContains(t, err, "timeout")
		assert.Nil(t, svc.AppliedCoupon())
	})
}

func TestDraft(t *testing.T) {
	orders := &fakeOrders{couponResp: &models.CouponCheckResponse{Valid: true}}
	svc := newService(orders, cartWith(2, "50"))

	_, err := svc.ValidateCoupon(context.Background(), "SAVE10")
	require.NoError(t, err)

	req := svc.Draft("gift wrap")
	assert.Equal(t, "cart-1", req.CartID)
	assert.Equal(t, "SAVE10", req.CouponCode)
	assert.True(t, req.ShippingCost.Equal(dec("10")))
	assert.True(t, req.Tax.Equal(dec("8")))
	assert.Equal(t, "gift wrap", req.CustomerNotes)
}

func TestPreviewOrder(t *testing.T) {
	ctx := context.Background()
	breakdown := &models.PriceBreakdown{
		Subtotal: dec("100"), Shipping: dec("10"), Tax: dec("8"), Discount: dec("10"), Total: dec("108"),
	}

	t.Run("server breakdown", func(t *testing.T) {
		orders := &fakeOrders{preview: breakdown}
		svc := newService(orders, cartWith(2, "50"))

		b, err := svc.PreviewOrder(ctx, models.PreviewOrderRequest{ShippingCost: dec("10"), Tax: dec("8")})
		require.NoError(t, err)
		assert.True(t, b.Total.Equal(dec("108")))
		assert.False(t, b.Fallback)

		require.Len(t, orders.previews, 1)
		assert.Equal(t, "cart-1", orders.previews[0].CartID)
	})

	t.Run("unchanged inputs reuse breakdown", func(t *testing.T) {
		orders := &fakeOrders{preview: breakdown}
		cart := cartWith(2, "50")
		svc := newService(orders, cart)
		req := models.PreviewOrderRequest{ShippingCost: dec("10"), Tax: dec("8")}

		_, err := svc.PreviewOrder(ctx, req)
		require.NoError(t, err)
		_, err = svc.PreviewOrder(ctx, req)
		require.NoError(t, err)
		assert.Len(t, orders.previews, 1)

		req.ShippingCost = dec("15")
		_, err = svc.PreviewOrder(ctx, req)
		require.NoError(t, err)
		assert.Len(t, orders.previews, 2)

		cart.state.Lines[0].Quantity = 3
		_, err = svc.PreviewOrder(ctx, req)
		require.NoError(t, err)
		assert.Len(t, orders.previews, 3)
	})

	t.Run("server failure falls back", func(t *testing.T) {
		orders := &fakeOrders{previewErr: &models.APIError{StatusCode: 500, Message: "boom"}}
		svc := newService(orders, cartWith(2, "50"))

		b, err := svc.PreviewOrder(ctx, models.PreviewOrderRequest{ShippingCost: dec("12.50"), Tax: dec("8")})
		require.NoError(t, err)
		assert.True(t, b.Fallback)
		assert.True(t, b.Subtotal.Equal(dec("100")))
		assert.True(t, b.Discount.IsZero())
		assert.True(t, b.Total.Equal(dec("112.50")))

		// Fallbacks are not cached.
		_, err = svc.PreviewOrder(ctx, models.PreviewOrderRequest{ShippingCost: dec("12.50"), Tax: dec("8")})
		require.NoError(t, err)
		assert.Len(t, orders.previews, 2)
	})

	t.Run("unsynced cart falls back without a call", func(t *testing.T) {
		orders := &fakeOrders{preview: breakdown}
		cart := cartWith(1, "30")
		cart.state.CartID = ""
		svc := newService(orders, cart)

		b, err := svc.PreviewOrder(ctx, models.PreviewOrderRequest{ShippingCost: dec("5")})
		require.NoError(t, err)
		assert.True(t, b.Fallback)
		assert.True(t, b.Total.Equal(dec("35")))
		assert.Empty(t, orders.previews)
	})

	t.Run("empty cart", func(t *testing.T) {
		svc := newService(&fakeOrders{}, &fakeCart{})
		_, err := svc.PreviewOrder(ctx, models.PreviewOrderRequest{})
		assert.ErrorIs(t, err, models.ErrEmptyCart)
	})
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()

	withCoupon := func(t *testing.T, orders *fakeOrders, cart *fakeCart) *checkout.Service {
		orders.couponResp = &models.CouponCheckResponse{Valid: true}
		svc := newService(orders, cart)
		_, err := svc.ValidateCoupon(ctx, "SAVE10")
		require.NoError(t, err)
		return svc
	}

	t.Run("success clears cart", func(t *testing.T) {
		orders := &fakeOrders{order: &models.OrderSummary{ID: "ord-1", OrderNumber: "JW-1001"}}
		cart := cartWith(1, "50")
		svc := withCoupon(t, orders, cart)

		order, err := svc.CreateOrder(ctx, models.CreateOrderRequest{ShippingCost: dec("10")})
		require.NoError(t, err)
		assert.Equal(t, "ord-1", order.ID)

		require.Len(t, orders.creates, 1)
		assert.Equal(t, "cart-1", orders.creates[0].CartID)
		assert.Equal(t, "SAVE10", orders.creates[0].CouponCode)

		assert.Equal(t, []string{"JW-1001"}, cart.cleared)
		assert.True(t, cart.State().IsEmpty())
		assert.Nil(t, svc.AppliedCoupon())
	})

	t.Run("coupon failure clears coupon", func(t *testing.T) {
		orders := &fakeOrders{createErr: &models.APIError{StatusCode: 400, Message: "Coupon usage limit reached"}}
		cart := cartWith(1, "50")
		svc := withCoupon(t, orders, cart)

		_, err := svc.CreateOrder(ctx, models.CreateOrderRequest{ShippingCost: dec("10")})
		var bizErr *models.BusinessError
		require.ErrorAs(t, err, &bizErr)
		assert.Equal(t, "Coupon usage limit reached", bizErr.Message)
		assert.Nil(t, svc.AppliedCoupon())
		assert.Empty(t, cart.cleared)
		assert.Len(t, cart.State().Lines, 1)
	})

	t.Run("other failure keeps coupon and cart", func(t *testing.T) {
		orders := &fakeOrders{createErr: &models.APIError{StatusCode: 500, Message: "Internal error"}}
		cart := cartWith(1, "50")
		svc := withCoupon(t, orders, cart)

		_, err := svc.CreateOrder(ctx, models.CreateOrderRequest{})
		require.Error(t, err)
		var apiErr *models.APIError
		assert.ErrorAs(t, err, &apiErr)
		assert.NotNil(t, svc.AppliedCoupon())
		assert.Len(t, cart.State().Lines, 1)
	})

	t.Run("empty cart", func(t *testing.T) {
		orders := &fakeOrders{}
		svc := newService(orders, &fakeCart{})
		_, err := svc.CreateOrder(ctx, models.CreateOrderRequest{})
		assert.ErrorIs(t, err, models.ErrEmptyCart)
		assert.Empty(t, orders.creates)
	})

	t.Run("unsynced cart", func(t *testing.T) {
		orders := &fakeOrders{}
		cart := cartWith(1, "50")
		cart.state.CartID = ""
		svc := newService(orders, cart)
		_, err := svc.CreateOrder(ctx, models.CreateOrderRequest{})
		assert.ErrorIs(t, err, models.ErrNoCartID)
	})
}

func TestServerErrorsAreNotResent(t *testing.T) {
	ctx := context.Background()

	var (
		mu    sync.Mutex
		calls = map[string]int{}
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls[r.Method+" "+r.URL.Path]++
		mu.Unlock()

		switch r.URL.Path {
		case "/coupons/check":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			// The order may already be committed when the gateway fails.
			w.WriteHeader(http.StatusBadGateway)
		}
		_, _ = w.Write([]byte(`{"success":false,"message":"upstream unavailable"}`))
	}))
	defer server.Close()

	logger := events.NewNopLogger()
	tr := transport.NewTransport(&config.APIConfig{
		BaseURL:    server.URL,
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		RetryDelay: 5 * time.Millisecond,
	}, logger)
	defer tr.Close()

	cart := cartWith(3, "50")
	svc := checkout.NewService(orders.NewService(tr, logger), cart, checkout.Options{
		DefaultShipping: dec("10"),
	}, logger)

	_, err := svc.ValidateCoupon(ctx, "SUMMER-10")
	require.Error(t, err)
	assert.Nil(t, svc.AppliedCoupon())

	_, err = svc.CreateOrder(ctx, models.CreateOrderRequest{ShippingCost: dec("10")})
	require.Error(t, err)
	assert.Empty(t, cart.cleared)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls["POST /coupons/check"])
	assert.Equal(t, 1, calls["POST /orders/from-cart"])
}
