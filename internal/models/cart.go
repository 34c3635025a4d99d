package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Variant identifies a size/color selection of a product.
type Variant struct {
	SelectedSize  string `json:"selectedSize,omitempty"`
	SelectedColor string `json:"selectedColor,omitempty"`
}

// IsZero reports whether no attribute is selected.
func (v *Variant) IsZero() bool {
	return v == nil || (v.SelectedSize == "" && v.SelectedColor == "")
}

// String renders the variant for display, e.g. "size 7, gold".
func (v *Variant) String() string {
	if v.IsZero() {
		return ""
	}
	var parts []string
	if v.SelectedSize != "" {
		parts = append(parts, "size "+v.SelectedSize)
	}
	if v.SelectedColor != "" {
		parts = append(parts, v.SelectedColor)
	}
	return strings.Join(parts, ", ")
}

// SameVariant treats nil and empty variants as equal.
func SameVariant(a, b *Variant) bool {
	if a.IsZero() || b.IsZero() {
		return a.IsZero() && b.IsZero()
	}
	return a.SelectedSize == b.SelectedSize && a.SelectedColor == b.SelectedColor
}

// CartLine is one row in the cart.
type CartLine struct {
	ProductID    string          `json:"productId"`
	UniqueID     string          `json:"uniqueId"`
	ServerLineID string          `json:"serverLineId,omitempty"`
	Name         string          `json:"name,omitempty"`
	ImageURL     string          `json:"imageUrl,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	Variant      *Variant        `json:"variant,omitempty"`

	// ForceDistinct asks AddLine not to merge with an existing variant-less line.
	ForceDistinct bool `json:"-"`
}

// Total returns quantity * unit price.
func (l CartLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// DisplayName is the human-readable label used in confirmations.
func (l CartLine) DisplayName() string {
	name := l.Name
	if name == "" {
		name = l.ProductID
	}
	if v := l.Variant.String(); v != "" {
		name = fmt.Sprintf("%s (%s)", name, v)
	}
	return name
}

// LineUniqueID derives the stable identity of a server-synced line.
func LineUniqueID(productID, serverLineID string) string {
	return productID + "_" + serverLineID
}

// ProductAttributes is the wire form of a variant.
type ProductAttributes struct {
	Size  string `json:"size,omitempty"`
	Color string `json:"color,omitempty"`
}

// ToVariant converts wire attributes to a Variant (nil when empty).
func (a *ProductAttributes) ToVariant() *Variant {
	if a == nil || (a.Size == "" && a.Color == "") {
		return nil
	}
	return &Variant{SelectedSize: a.Size, SelectedColor: a.Color}
}

// AttributesFromVariant converts a Variant to wire attributes (nil when empty).
func AttributesFromVariant(v *Variant) *ProductAttributes {
	if v.IsZero() {
		return nil
	}
	return &ProductAttributes{Size: v.SelectedSize, Color: v.SelectedColor}
}

// AddItemRequest is the body of POST /cart/add.
type AddItemRequest struct {
	ProductID         string             `json:"productId"`
	Quantity          int                `json:"quantity,omitempty"`
	ProductAttributes *ProductAttributes `json:"productAttributes,omitempty"`
}

// UpdateItemRequest is the body of PATCH /cart/update.
type UpdateItemRequest struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// RemoveItemRequest is the body of DELETE /cart/remove.
type RemoveItemRequest struct {
	ItemID string `json:"itemId"`
}

// TransferRequest is the body of POST /cart/transfer.
type TransferRequest struct {
	SessionID  string `json:"sessionId"`
	CustomerID string `json:"customerId"`
}

// ServerCartItem is one normalized line of the authoritative cart.
type ServerCartItem struct {
	ID         string             `json:"id"`
	ProductID  string             `json:"productId"`
	Name       string             `json:"name,omitempty"`
	ImageURL   string             `json:"imageUrl,omitempty"`
	Quantity   int                `json:"quantity"`
	Price      decimal.Decimal    `json:"price"`
	Attributes *ProductAttributes `json:"productAttributes,omitempty"`
}

// ServerCart is the normalized authoritative cart snapshot.
type ServerCart struct {
	ID         string           `json:"id"`
	SessionID  string           `json:"sessionId,omitempty"`
	CustomerID string           `json:"customerId,omitempty"`
	Items      []ServerCartItem `json:"items"`
	Subtotal   decimal.Decimal  `json:"subtotal"`
}

// ItemCount returns the total quantity across items.
func (c *ServerCart) ItemCount() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}
