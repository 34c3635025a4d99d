package client

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/TheMichaelB/cartsync/internal/config"
	"github.com/TheMichaelB/cartsync/internal/events"
	"github.com/TheMichaelB/cartsync/internal/models"
	"github.com/TheMichaelB/cartsync/internal/services/auth"
	"github.com/TheMichaelB/cartsync/internal/services/cart"
	"github.com/TheMichaelB/cartsync/internal/services/carts"
	"github.com/TheMichaelB/cartsync/internal/services/checkout"
	"github.com/TheMichaelB/cartsync/internal/services/orders"
	"github.com/TheMichaelB/cartsync/internal/state"
	"github.com/TheMichaelB/cartsync/internal/transport"
)

// SQLiteFile is the database name used by the sqlite backend.
const SQLiteFile = "cartsync.db"

// Client provides the high-level API for cartsync operations.
type Client struct {
	Auth     *auth.Service
	Carts    *carts.Service
	Orders   *orders.Service
	Cart     *cart.Store
	Checkout *checkout.Service
	State    state.Store

	config    *config.Config
	logger    *events.Logger
	transport transport.Transport
}

// New creates a client talking to cfg.API with the configured local store.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	store, err := OpenStore(&cfg.Storage, cfg.Storage.Backend, logger)
	if err != nil {
		return nil, err
	}

	return NewWithTransport(cfg, transport.NewTransport(&cfg.API, logger), store, logger), nil
}

// NewWithTransport wires a client around existing collaborators.
func NewWithTransport(cfg *config.Config, tr transport.Transport, store state.Store, logger *events.Logger) *Client {
	authService := auth.NewService(tr, store, logger)
	cartsService := carts.NewService(tr, cfg.API.AssetBaseURL, logger)
	ordersService := orders.NewService(tr, logger)

	cartStore := cart.NewStore(cartsService, store, authService, cart.Options{
		ReconcileGuard: cfg.Cart.ReconcileGuard,
		EventBuffer:    cfg.Cart.EventBuffer,
	}, logger)

	checkoutService := checkout.NewService(ordersService, cartStore, checkout.Options{
		DefaultShipping: cfg.Checkout.ShippingCost(),
		TaxRate:         cfg.Checkout.Tax(),
	}, logger)

	c := &Client{
		Auth:      authService,
		Carts:     cartsService,
		Orders:    ordersService,
		Cart:      cartStore,
		Checkout:  checkoutService,
		State:     store,
		config:    cfg,
		logger:    logger,
		transport: tr,
	}

	authService.OnLogin(c.afterLogin)
	authService.OnLogout(c.afterLogout)

	return c
}

// OpenStore opens the local store for backend under cfg.StateDir.
func OpenStore(cfg *config.StorageConfig, backend string, logger *events.Logger) (state.Store, error) {
	switch backend {
	case "", "json":
		return state.NewJSONStore(cfg.StateDir, logger)
	case "sqlite":
		return state.NewSQLiteStore(filepath.Join(cfg.StateDir, SQLiteFile), logger)
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", models.ErrInvalidConfig, backend)
	}
}

// Start restores a saved login and rehydrates the cart.
func (c *Client) Start(ctx context.Context) {
	if c.Auth.Restore() {
		ctx = events.WithCustomerID(ctx, c.Auth.CustomerID())
	}
	c.Cart.Rehydrate(ctx)
}

// Watch keeps the cart in step with server-side changes until ctx is done.
func (c *Client) Watch(ctx context.Context) error {
	return c.Cart.Watch(ctx, c.transport)
}

// MigrateState copies the local store into a fresh store of backend.
func (c *Client) MigrateState(backend string) error {
	target, err := OpenStore(&c.config.Storage, backend, c.logger)
	if err != nil {
		return err
	}
	defer target.Close()

	if err := c.State.Migrate(target); err != nil {
		return fmt.Errorf("migrate state to %s: %w", backend, err)
	}
	return nil
}

// Close releases the transport and the local store.
func (c *Client) Close() error {
	c.Cart.Close()

	var firstErr error
	if err := c.transport.Close(); err != nil {
		firstErr = err
	}
	if err := c.State.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// afterLogin moves the guest cart into the customer's cart, then loads the
// customer's cart. Neither step can fail the login.
func (c *Client) afterLogin(ctx context.Context, user models.User) {
	if err := c.Cart.TransferGuestCartOnLogin(ctx, user.ID); err != nil {
		c.logger.WithError(err).Warn("Continuing login without cart transfer")
	}
	if err := c.Cart.Refresh(ctx); err != nil {
		c.logger.WithError(err).Warn("Failed to load cart after login")
	}
}

func (c *Client) afterLogout(ctx context.Context, user models.User) {
	c.Cart.ResetOnLogout()
	c.Checkout.ClearCoupon()
}
