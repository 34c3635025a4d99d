package testutil

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TheMichaelB/cartsync/internal/config"
	"github.com/TheMichaelB/cartsync/internal/events"
	"github.com/TheMichaelB/cartsync/internal/models"
)

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// Product is a catalog entry of the test storefront.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// Fixture is the seed data of the test storefront.
type Fixture struct {
	Email    string
	Password string
	Products []Product
	Coupons  []models.Coupon
}

// DefaultFixture returns a small jewellery catalog, two coupons and one
// registered customer.
func DefaultFixture() *Fixture {
	minimum := decimal.NewFromInt(100)
	return &Fixture{
		Email:    "ada@example.com",
		Password: "testpassword123",
		Products: []Product{
			{ID: "ring-1", Name: "Solitaire Ring", Price: decimal.NewFromInt(50)},
			{ID: "ear-3", Name: "Pearl Earrings", Price: decimal.NewFromInt(120)},
			{ID: "neck-2", Name: "Gold Chain", Price: decimal.RequireFromString("79.90")},
		},
		Coupons: []models.Coupon{
			{
				Code:              "SUMMER-10",
				DiscountType:      "percentage",
				DiscountValue:     decimal.NewFromInt(10),
				MinimumOrderValue: &minimum,
			},
			{
				Code:          "WELCOME",
				DiscountType:  "fixed",
				DiscountValue: decimal.NewFromInt(5),
			},
		},
	}
}

// TestConfig returns a config pointing at apiURL with state in a temp dir.
func TestConfig(t *testing.T, apiURL string) *config.Config {
	t.Helper()

	dataDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.API.BaseURL = apiURL
	cfg.API.Timeout = 5 * time.Second
	cfg.API.MaxRetries = 1
	cfg.API.RetryDelay = 10 * time.Millisecond
	cfg.API.RateLimit = 0
	cfg.Storage.DataDir = dataDir
	cfg.Storage.StateDir = filepath.Join(dataDir, "state")
	cfg.Checkout.DefaultShipping = "10"
	cfg.Checkout.TaxRate = "0"
	cfg.Log = config.LogConfig{Level: "debug", Format: "json"}
	return cfg
}
