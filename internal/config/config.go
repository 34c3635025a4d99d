package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	// API configuration
	API APIConfig `json:"api" mapstructure:"api"`

	// Authentication configuration
	Auth AuthConfig `json:"auth" mapstructure:"auth"`

	// Local persistent store
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Cart engine behavior
	Cart CartConfig `json:"cart" mapstructure:"cart"`

	// Checkout defaults
	Checkout CheckoutConfig `json:"checkout" mapstructure:"checkout"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// APIConfig for storefront API communication.
type APIConfig struct {
	BaseURL      string        `json:"base_url" mapstructure:"base_url"`
	EventsURL    string        `json:"events_url" mapstructure:"events_url"`         // Cart change WebSocket (empty = derived from base_url)
	AssetBaseURL string        `json:"asset_base_url" mapstructure:"asset_base_url"` // Prefix for relative image paths
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries   int           `json:"max_retries" mapstructure:"max_retries"`
	RetryDelay   time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
	RateLimit    float64       `json:"rate_limit" mapstructure:"rate_limit"` // Requests per second, 0 = unlimited
	Burst        int           `json:"burst" mapstructure:"burst"`
	UserAgent    string        `json:"user_agent" mapstructure:"user_agent"`
}

// AuthConfig for authentication settings.
type AuthConfig struct {
	Email    string `json:"email,omitempty" mapstructure:"email"`
	Password string `json:"password,omitempty" mapstructure:"password"`
}

// StorageConfig for the local persistent store.
type StorageConfig struct {
	DataDir  string `json:"data_dir" mapstructure:"data_dir"`   // Base directory for all data
	StateDir string `json:"state_dir" mapstructure:"state_dir"` // Key/value snapshots
	Backend  string `json:"backend" mapstructure:"backend"`     // json, sqlite
}

// CartConfig for the synchronization engine.
type CartConfig struct {
	ReconcileGuard bool   `json:"reconcile_guard" mapstructure:"reconcile_guard"` // Drop out-of-order server snapshots
	Currency       string `json:"currency" mapstructure:"currency"`
	EventBuffer    int    `json:"event_buffer" mapstructure:"event_buffer"`
}

// CheckoutConfig for order preview and creation.
type CheckoutConfig struct {
	DefaultShipping string `json:"default_shipping" mapstructure:"default_shipping"`
	TaxRate         string `json:"tax_rate" mapstructure:"tax_rate"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // Log file path (empty = stderr)
	Color  bool   `json:"color" mapstructure:"color"`   // Enable colored output
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".cartsync"

	return &Config{
		API: APIConfig{
			BaseURL:    "http://localhost:5000/api",
			Timeout:    15 * time.Second,
			MaxRetries: 2,
			RetryDelay: 250 * time.Millisecond,
			RateLimit:  10,
			Burst:      5,
			UserAgent:  "cartsync/1.0",
		},
		Storage: StorageConfig{
			DataDir:  dataDir,
			StateDir: filepath.Join(dataDir, "state"),
			Backend:  "json",
		},
		Cart: CartConfig{
			ReconcileGuard: true,
			Currency:       "USD",
			EventBuffer:    100,
		},
		Checkout: CheckoutConfig{
			DefaultShipping: "0",
			TaxRate:         "0",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Color:  true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries cannot be negative")
	}

	if c.API.RateLimit < 0 {
		return errors.New("api.rate_limit cannot be negative")
	}

	validBackends := map[string]bool{"json": true, "sqlite": true}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}

	if _, err := decimal.NewFromString(c.Checkout.DefaultShipping); err != nil {
		return fmt.Errorf("invalid checkout.default_shipping: %w", err)
	}

	if _, err := decimal.NewFromString(c.Checkout.TaxRate); err != nil {
		return fmt.Errorf("invalid checkout.tax_rate: %w", err)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// ShippingCost returns the configured default shipping as a decimal.
func (c *CheckoutConfig) ShippingCost() decimal.Decimal {
	d, err := decimal.NewFromString(c.DefaultShipping)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Tax returns the configured tax rate as a decimal fraction.
func (c *CheckoutConfig) Tax() decimal.Decimal {
	d, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Storage.StateDir,
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
