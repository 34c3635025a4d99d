package carts_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/cartsync/internal/models"
	"github.com/TheMichaelB/cartsync/internal/services/carts"
)

const assetBase = "https://cdn.example.com/assets/"

const cartBody = `{
	"_id": "cart-1",
	"sessionId": "sess-1",
	"items": [
		{"_id": "line-1", "productId": "ring-1", "name": "Halo Ring", "quantity": 2, "price": 50, "image": "/img/ring.jpg"},
		{"id": "line-2", "productId": "ear-3", "quantity": "1", "price": "120.50", "productAttributes": {"color": "gold"}}
	],
	"subtotal": 220.5
}`

func TestDecodeCartEnvelopes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"success data cart", `{"success": true, "data": {"cart": ` + cartBody + `}}`},
		{"data", `{"data": ` + cartBody + `}`},
		{"cart", `{"cart": ` + cartBody + `}`},
		{"bare", cartBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart, err := carts.DecodeCart([]byte(tt.body), assetBase)
			require.NoError(t, err)

			assert.Equal(t, "cart-1", cart.ID)
			assert.Equal(t, "sess-1", cart.SessionID)
			require.Len(t, cart.Items, 2)

			first := cart.Items[0]
			assert.Equal(t, "line-1", first.ID)
			assert.Equal(t, "ring-1", first.ProductID)
			assert.Equal(t, "Halo Ring", first.Name)
			assert.Equal(t, 2, first.Quantity)
			assert.True(t, first.Price.Equal(decimal.NewFromInt(50)))
			assert.Equal(t, "https://cdn.example.com/assets/img/ring.jpg", first.ImageURL)
			assert.Nil(t, first.Attributes)

			second := cart.Items[1]
			assert.Equal(t, "line-2", second.ID)
			assert.Equal(t, 1, second.Quantity)
			assert.True(t, second.Price.Equal(decimal.RequireFromString("120.5")))
			require.NotNil(t, second.Attributes)
			assert.Equal(t, "gold", second.Attributes.Color)

			assert.True(t, cart.Subtotal.Equal(decimal.RequireFromString("220.5")))
			assert.Equal(t, 3, cart.ItemCount())
		})
	}
}

func TestDecodeCartEmptyShapes(t *testing.T) {
	for _, body := range []string{
		``,
		`null`,
		`{"data": null}`,
		`{"cart": null}`,
		`{"success": true, "data": {"cart": null}}`,
		`{"success": true, "data": {"cart": {"items": []}}}`,
		`{"items": []}`,
	} {
		t.Run(body, func(t *testing.T) {
			cart, err := carts.DecodeCart([]byte(body), "")
			require.NoError(t, err)
			assert.Empty(t, cart.Items)
			assert.True(t, cart.Subtotal.IsZero())
		})
	}
}

func TestDecodeCartRejected(t *testing.T) {
	_, err := carts.DecodeCart([]byte(`{"success": false, "message": "Product out of stock"}`), "")
	require.Error(t, err)

	var bizErr *models.BusinessError
	require.ErrorAs(t, err, &bizErr)
	assert.Equal(t, "Product out of stock", bizErr.Message)
}

func TestDecodeCartMalformed(t *testing.T) {
	_, err := carts.DecodeCart([]byte(`{"cart": [1, 2`), "")
	assert.Error(t, err)
}

func TestDecodeCartPopulatedProduct(t *testing.T) {
	body := `{"cart": {"_id": "c", "customerId": {"_id": "cust-9"}, "items": [
		{"_id": "l1", "productId": {"_id": "p1", "name": "Pearl Drop", "images": ["//img.example.com/p1.jpg"], "price": 80}, "quantity": 1},
		{"_id": "l2", "product": {"id": "p2", "name": "Cuff", "images": [{"url": "https://img.example.com/p2.jpg"}]}, "quantity": 3, "price": "15"},
		{"_id": "l3", "productId": "p3", "product": {"name": "Anklet", "image": "p3.png"}, "quantity": 1, "price": 5},
		{"_id": "l4", "quantity": 1, "price": 5}
	]}}`

	cart, err := carts.DecodeCart([]byte(body), "https://cdn.example.com")
	require.NoError(t, err)

	assert.Equal(t, "cust-9", cart.CustomerID)
	require.Len(t, cart.Items, 3, "items without a product id are dropped")

	assert.Equal(t, "p1", cart.Items[0].ProductID)
	assert.Equal(t, "Pearl Drop", cart.Items[0].Name)
	assert.Equal(t, "https://img.example.com/p1.jpg", cart.Items[0].ImageURL)
	assert.True(t, cart.Items[0].Price.Equal(decimal.NewFromInt(80)), "price falls back to product price")

	assert.Equal(t, "p2", cart.Items[1].ProductID)
	assert.Equal(t, "https://img.example.com/p2.jpg", cart.Items[1].ImageURL)
	assert.Equal(t, 3, cart.Items[1].Quantity)

	assert.Equal(t, "p3", cart.Items[2].ProductID)
	assert.Equal(t, "Anklet", cart.Items[2].Name)
	assert.Equal(t, "https://cdn.example.com/p3.png", cart.Items[2].ImageURL)

	// No subtotal in the payload: computed from items.
	assert.True(t, cart.Subtotal.Equal(decimal.NewFromInt(130)))
}

func TestDecodeCartNumericCoercion(t *testing.T) {
	body := `{"items": [
		{"_id": "a", "productId": "p", "quantity": "", "price": null},
		{"_id": "b", "productId": "q", "quantity": "4", "price": "abc"}
	], "totalAmount": "9.99"}`

	cart, err := carts.DecodeCart([]byte(body), "")
	require.NoError(t, err)
	require.Len(t, cart.Items, 2)

	assert.Equal(t, 0, cart.Items[0].Quantity)
	assert.True(t, cart.Items[0].Price.IsZero())
	assert.Equal(t, 4, cart.Items[1].Quantity)
	assert.True(t, cart.Items[1].Price.IsZero())
	assert.True(t, cart.Subtotal.Equal(decimal.RequireFromString("9.99")))
}

func TestNormalizeImageURL(t *testing.T) {
	tests := []struct {
		raw, base, want string
	}{
		{"", assetBase, ""},
		{"//cdn.x.com/a.jpg", assetBase, "https://cdn.x.com/a.jpg"},
		{"http://x.com/a.jpg", assetBase, "http://x.com/a.jpg"},
		{"https://x.com/a.jpg", assetBase, "https://x.com/a.jpg"},
		{"data:image/png;base64,AAA", assetBase, "data:image/png;base64,AAA"},
		{"/uploads/a.jpg", assetBase, "https://cdn.example.com/assets/uploads/a.jpg"},
		{"uploads/a.jpg", "https://cdn.example.com", "https://cdn.example.com/uploads/a.jpg"},
		{"uploads/a.jpg", "", "uploads/a.jpg"},
		{"  //padded.com/a.jpg ", "", "https://padded.com/a.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, carts.NormalizeImageURL(tt.raw, tt.base))
		})
	}
}
