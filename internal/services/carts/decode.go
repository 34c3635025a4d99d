package carts

import (
	"bytes"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/TheMichaelB/cartsync/internal/models"
)

// The storefront answers cart calls with one of four envelopes:
//
//	{"success":true,"data":{"cart":{...}}}
//	{"data":{...}}
//	{"cart":{...}}
//	{...}
//
// DecodeCart is the only place that knows about them.

type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Cart    json.RawMessage `json:"cart"`
}

type wireCart struct {
	ID          string          `json:"id"`
	MongoID     string          `json:"_id"`
	SessionID   string          `json:"sessionId"`
	CustomerID  json.RawMessage `json:"customerId"`
	Items       []wireItem      `json:"items"`
	Subtotal    flexNumber      `json:"subtotal"`
	TotalAmount flexNumber      `json:"totalAmount"`
}

type wireItem struct {
	ID                string                    `json:"id"`
	MongoID           string                    `json:"_id"`
	ProductID         json.RawMessage           `json:"productId"`
	Product           json.RawMessage           `json:"product"`
	Name              string                    `json:"name"`
	Image             string                    `json:"image"`
	ImageURL          string                    `json:"imageUrl"`
	Quantity          flexNumber                `json:"quantity"`
	Price             flexNumber                `json:"price"`
	ProductAttributes *models.ProductAttributes `json:"productAttributes"`
}

type wireProduct struct {
	ID      string            `json:"id"`
	MongoID string            `json:"_id"`
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	Images  []json.RawMessage `json:"images"`
	Price   flexNumber        `json:"price"`
}

// flexNumber accepts a JSON number, a numeric string, or null.
type flexNumber struct {
	value decimal.Decimal
	valid bool
}

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}
	s = strings.Trim(s, `"`)
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		// Unparseable numbers are treated as absent.
		return nil
	}
	n.value, n.valid = d, true
	return nil
}

// DecodeCart normalizes any cart response into a ServerCart.
// assetBaseURL prefixes relative image paths.
func DecodeCart(data []byte, assetBaseURL string) (*models.ServerCart, error) {
	body := bytes.TrimSpace(data)
	if len(body) == 0 || string(body) == "null" {
		return &models.ServerCart{}, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode cart response: %w", err)
	}

	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = "cart request rejected"
		}
		return nil, &models.BusinessError{Reason: "cart_rejected", Message: msg}
	}

	raw := body
	switch {
	case isPresent(env.Data):
		raw = env.Data
		var inner struct {
			Cart json.RawMessage `json:"cart"`
		}
		if err := json.Unmarshal(env.Data, &inner); err == nil && inner.Cart != nil {
			raw = inner.Cart
		}
	case env.Data != nil || env.Cart != nil:
		// {"data":null} or {"cart":...}
		raw = env.Cart
	}

	if !isPresent(raw) {
		return &models.ServerCart{}, nil
	}

	var wc wireCart
	if err := json.Unmarshal(raw, &wc); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}

	return wc.normalize(assetBaseURL), nil
}

func isPresent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && string(trimmed) != "null"
}

func (wc *wireCart) normalize(assetBaseURL string) *models.ServerCart {
	cart := &models.ServerCart{
		ID:         firstNonEmpty(wc.ID, wc.MongoID),
		SessionID:  wc.SessionID,
		CustomerID: decodeID(wc.CustomerID),
	}

	subtotal := decimal.Zero
	for _, wi := range wc.Items {
		item, ok := wi.normalize(assetBaseURL)
		if !ok {
			continue
		}
		cart.Items = append(cart.Items, item)
		subtotal = subtotal.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	switch {
	case wc.Subtotal.valid:
		cart.Subtotal = wc.Subtotal.value
	case wc.TotalAmount.valid:
		cart.Subtotal = wc.TotalAmount.value
	default:
		cart.Subtotal = subtotal
	}

	return cart
}

func (wi *wireItem) normalize(assetBaseURL string) (models.ServerCartItem, bool) {
	var product wireProduct

	// productId may be a plain id or a populated product document.
	if productID, ok := decodeString(wi.ProductID); ok {
		product.ID = productID
	} else if isPresent(wi.ProductID) {
		_ = json.Unmarshal(wi.ProductID, &product)
	}
	if isPresent(wi.Product) {
		var nested wireProduct
		if err := json.Unmarshal(wi.Product, &nested); err == nil {
			product = mergeProduct(product, nested)
		}
	}

	productID := firstNonEmpty(product.ID, product.MongoID)
	if productID == "" {
		return models.ServerCartItem{}, false
	}

	price := wi.Price
	if !price.valid {
		price = product.Price
	}

	image := firstNonEmpty(wi.ImageURL, wi.Image, product.Image, firstImage(product.Images))

	return models.ServerCartItem{
		ID:         firstNonEmpty(wi.ID, wi.MongoID),
		ProductID:  productID,
		Name:       firstNonEmpty(wi.Name, product.Name),
		ImageURL:   NormalizeImageURL(image, assetBaseURL),
		Quantity:   int(wi.Quantity.value.IntPart()),
		Price:      price.value,
		Attributes: wi.ProductAttributes,
	}, true
}

func mergeProduct(base, nested wireProduct) wireProduct {
	if base.ID == "" && base.MongoID == "" {
		base.ID, base.MongoID = nested.ID, nested.MongoID
	}
	if base.Name == "" {
		base.Name = nested.Name
	}
	if base.Image == "" {
		base.Image = nested.Image
	}
	if len(base.Images) == 0 {
		base.Images = nested.Images
	}
	if !base.Price.valid {
		base.Price = nested.Price
	}
	return base
}

// firstImage accepts ["url", ...] or [{"url": ...}, ...].
func firstImage(images []json.RawMessage) string {
	for _, raw := range images {
		if s, ok := decodeString(raw); ok && s != "" {
			return s
		}
		var obj struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && obj.URL != "" {
			return obj.URL
		}
	}
	return ""
}

// decodeID accepts "id" or {"_id": "id"} / {"id": "id"}.
func decodeID(raw json.RawMessage) string {
	if s, ok := decodeString(raw); ok {
		return s
	}
	var obj struct {
		ID      string `json:"id"`
		MongoID string `json:"_id"`
	}
	if isPresent(raw) && json.Unmarshal(raw, &obj) == nil {
		return firstNonEmpty(obj.ID, obj.MongoID)
	}
	return ""
}

func decodeString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", false
	}
	return s, true
}

// NormalizeImageURL makes protocol-relative URLs https and prefixes
// relative paths with assetBaseURL.
func NormalizeImageURL(raw, assetBaseURL string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"), strings.HasPrefix(raw, "data:"):
		return raw
	case assetBaseURL == "":
		return raw
	default:
		return strings.TrimRight(assetBaseURL, "/") + "/" + strings.TrimLeft(raw, "/")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
