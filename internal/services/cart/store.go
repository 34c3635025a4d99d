// Package cart is the cart synchronization orchestrator: optimistic local
// updates reconciled against the remote cart service.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/TheMichaelB/cartsync/internal/cartstate"
	"github.com/TheMichaelB/cartsync/internal/events"
	"github.com/TheMichaelB/cartsync/internal/models"
	"github.com/TheMichaelB/cartsync/internal/state"
)

// RemoteCart is the remote cart service.
type RemoteCart interface {
	Get(ctx context.Context) (*models.ServerCart, error)
	Add(ctx context.Context, req models.AddItemRequest) (*models.ServerCart, error)
	UpdateQuantity(ctx context.Context, itemID string, quantity int) (*models.ServerCart, error)
	Remove(ctx context.Context, itemID string) (*models.ServerCart, error)
	Clear(ctx context.Context) (*models.ServerCart, error)
	Transfer(ctx context.Context, sessionID, customerID string) (*models.ServerCart, error)
	SetSessionID(sessionID string)
}

// AuthState answers the auth branching questions.
type AuthState interface {
	IsAuthenticated() bool
	CustomerID() string
}

// EventSource delivers server-side cart change notifications.
type EventSource interface {
	StreamEvents(ctx context.Context) (<-chan models.CartEvent, error)
}

// Options tunes the store.
type Options struct {
	// ReconcileGuard drops server snapshots whose request was overtaken by a
	// later local mutation.
	ReconcileGuard bool
	EventBuffer    int
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{ReconcileGuard: true, EventBuffer: 100}
}

// Store owns the cart state and its synchronization.
type Store struct {
	remote RemoteCart
	local  state.Store
	auth   AuthState
	logger *events.Logger
	guard  bool

	mu          sync.Mutex
	state       cartstate.State
	seq         uint64
	inflight    int
	transferred bool

	refreshGroup singleflight.Group

	subsMu       sync.RWMutex
	subs         map[int]func(Event)
	nextSub      int
	events       chan Event
	eventsClosed bool
}

// NewStore creates a cart store. Call Rehydrate before use.
func NewStore(remote RemoteCart, local state.Store, auth AuthState, opts Options, logger *events.Logger) *Store {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultOptions().EventBuffer
	}
	return &Store{
		remote: remote,
		local:  local,
		auth:   auth,
		logger: logger.WithField("component", "cart_store"),
		guard:  opts.ReconcileGuard,
		subs:   make(map[int]func(Event)),
		events: make(chan Event, opts.EventBuffer),
	}
}

// State returns a copy of the current state.
func (s *Store) State() cartstate.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// SessionID returns the guest session id, if any.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SessionID
}

// Close closes the event channel.
func (s *Store) Close() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if !s.eventsClosed {
		close(s.events)
		s.eventsClosed = true
	}
}

// AddItem adds a line optimistically and syncs it. Remote failures never
// undo the local add.
func (s *Store) AddItem(ctx context.Context, line models.CartLine) error {
	if line.ProductID == "" {
		return &models.ValidationError{Field: "productId", Message: "product id required"}
	}

	ticket, uniqueID := s.addLocal(line)
	s.emit(Event{Type: EventLineAdded, UniqueID: uniqueID, Ticket: ticket})

	qty := line.Quantity
	if qty <= 0 {
		qty = 1
	}

	authed := s.auth.IsAuthenticated()

	s.begin()
	cart, err := s.remote.Add(ctx, models.AddItemRequest{
		ProductID:         line.ProductID,
		Quantity:          qty,
		ProductAttributes: models.AttributesFromVariant(line.Variant),
	})
	s.end()

	if err != nil {
		s.syncFailed("add", line.ProductID, authed, err)
		return nil
	}

	if !authed {
		s.assignSession(cart.SessionID)
		return nil
	}

	s.reconcile(ticket, cart)
	return nil
}

// RemoveItem asks for confirmation before a line is removed.
func (s *Store) RemoveItem(uniqueID string) error {
	s.mu.Lock()
	line, ok := s.state.Line(uniqueID)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrLineNotFound, uniqueID)
	}
	s.state = cartstate.Reduce(s.state, cartstate.RequestRemovalConfirmation{
		UniqueID:    uniqueID,
		DisplayName: line.DisplayName(),
	})
	s.mu.Unlock()

	s.emit(Event{Type: EventRemovalRequested, UniqueID: uniqueID})
	return nil
}

// CancelRemoval drops the pending removal. The cart is untouched.
func (s *Store) CancelRemoval() {
	s.dispatch(cartstate.CancelRemovalConfirmation{})
	s.emit(Event{Type: EventRemovalCancelled})
}

// ConfirmRemoval removes the pending line locally, then remotely when the
// line is synced and the caller is authenticated. The success notice is
// recorded either way.
func (s *Store) ConfirmRemoval(ctx context.Context) error {
	s.mu.Lock()
	pending := s.state.PendingRemoval
	if pending == nil {
		s.mu.Unlock()
		return models.ErrNoPendingRemoval
	}
	line, _ := s.state.Line(pending.UniqueID)
	name := pending.DisplayName
	s.mu.Unlock()

	ticket := s.mutate(
		cartstate.RemoveLine{UniqueID: line.UniqueID},
		cartstate.ShowNotice{Notice: cartstate.Notice{
			Kind:    cartstate.NoticeRemoved,
			Message: fmt.Sprintf("%s removed from your cart", name),
		}},
	)
	s.emit(Event{Type: EventLineRemoved, UniqueID: line.UniqueID, Ticket: ticket})

	authed := s.auth.IsAuthenticated()
	if line.ServerLineID == "" || !authed {
		return nil
	}

	s.begin()
	cart, err := s.remote.Remove(ctx, line.ServerLineID)
	s.end()
	if err != nil {
		s.syncFailed("remove", line.UniqueID, authed, err)
		return nil
	}

	s.reconcile(ticket, cart)
	return nil
}

// SetQuantity changes a line's quantity; <= 0 removes it.
func (s *Store) SetQuantity(ctx context.Context, uniqueID string, quantity int) error {
	s.mu.Lock()
	line, ok := s.state.Line(uniqueID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrLineNotFound, uniqueID)
	}

	ticket := s.mutate(cartstate.SetQuantity{UniqueID: uniqueID, Quantity: quantity})
	if quantity <= 0 {
		s.emit(Event{Type: EventLineRemoved, UniqueID: uniqueID, Ticket: ticket})
	} else {
		s.emit(Event{Type: EventQuantityChanged, UniqueID: uniqueID, Ticket: ticket})
	}

	authed := s.auth.IsAuthenticated()
	if line.ServerLineID == "" || !authed {
		return nil
	}

	var (
		cart *models.ServerCart
		err  error
	)
	s.begin()
	if quantity <= 0 {
		cart, err = s.remote.Remove(ctx, line.ServerLineID)
	} else {
		cart, err = s.remote.UpdateQuantity(ctx, line.ServerLineID, quantity)
	}
	s.end()
	if err != nil {
		s.syncFailed("update", uniqueID, authed, err)
		return nil
	}

	s.reconcile(ticket, cart)
	return nil
}

// ClearCart empties the cart locally and, when authenticated, remotely.
func (s *Store) ClearCart(ctx context.Context) {
	ticket := s.mutate(
		cartstate.ClearCart{},
		cartstate.ShowNotice{Notice: cartstate.Notice{Kind: cartstate.NoticeCleared, Message: "Cart cleared"}},
	)
	s.emit(Event{Type: EventCleared, Ticket: ticket})

	authed := s.auth.IsAuthenticated()
	if !authed {
		return
	}

	s.begin()
	cart, err := s.remote.Clear(ctx)
	s.end()
	if err != nil {
		s.syncFailed("clear", "", authed, err)
		return
	}

	s.reconcile(ticket, cart)
}

// Refresh fetches the authoritative cart and installs it. Concurrent calls
// share one request.
func (s *Store) Refresh(ctx context.Context) error {
	_, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		ticket := s.ticket()
		authed := s.auth.IsAuthenticated()

		s.begin()
		cart, err := s.remote.Get(ctx)
		s.end()
		if err != nil {
			s.syncFailed("refresh", "", authed, err)
			return nil, fmt.Errorf("refresh cart: %w", err)
		}

		if !authed {
			s.assignSession(cart.SessionID)
		}
		s.reconcile(ticket, cart)
		return nil, nil
	})
	return err
}

// Rehydrate restores the cart at start-up: from the remote cart when
// authenticated, otherwise (or when that fails) from the local snapshot.
func (s *Store) Rehydrate(ctx context.Context) {
	var sessionID string
	if err := s.local.Load(state.KeyGuestSession, &sessionID); err == nil && sessionID != "" {
		s.dispatch(cartstate.SetSession{SessionID: sessionID})
		s.remote.SetSessionID(sessionID)
	} else if err != nil && !errors.Is(err, state.ErrStateNotFound) {
		s.logger.WithError(err).Warn("Failed to read guest session")
	}

	s.begin()
	defer s.end()

	if authed := s.auth.IsAuthenticated(); authed {
		ticket := s.ticket()
		cart, err := s.remote.Get(ctx)
		if err == nil {
			s.reconcile(ticket, cart)
			s.emit(Event{Type: EventRehydrated})
			return
		}
		s.syncFailed("rehydrate", "", authed, err)
	}

	s.loadLocal()
	s.emit(Event{Type: EventRehydrated})
}

// TransferGuestCartOnLogin moves the guest session's cart to customerID.
// It runs at most once per login and never blocks authentication: failures
// are logged and returned for information only.
func (s *Store) TransferGuestCartOnLogin(ctx context.Context, customerID string) error {
	s.mu.Lock()
	sessionID := s.state.SessionID
	already := s.transferred
	if sessionID != "" && customerID != "" && !already {
		s.transferred = true
	}
	ticket := s.seq
	s.mu.Unlock()

	logger := s.logger.WithFields(map[string]interface{}{
		"session_id":  sessionID,
		"customer_id": customerID,
	})

	if already || sessionID == "" || customerID == "" {
		logger.Debug("Skipping guest cart transfer")
		s.emit(Event{Type: EventTransferSkipped})
		return nil
	}

	logger.Info("Transferring guest cart")

	s.begin()
	cart, err := s.remote.Transfer(ctx, sessionID, customerID)
	s.end()

	defer s.discardSession()

	switch {
	case err == nil:
		s.clearGuestCache()
		s.reconcile(ticket, cart)
		s.emit(Event{Type: EventTransferred})
		return nil

	case errors.Is(err, models.ErrTransferUnsupported):
		logger.WithError(err).Warn("Cart transfer not supported by server")
		s.clearGuestCache()
		s.emit(Event{Type: EventTransferSkipped, Error: err})
		return nil

	default:
		logger.WithError(err).Warn("Guest cart transfer failed")
		s.emit(Event{Type: EventSyncFailed, Error: err})
		return fmt.Errorf("transfer guest cart: %w", err)
	}
}

// ResetOnLogout clears the whole cart state and the local cart keys.
func (s *Store) ResetOnLogout() {
	s.mu.Lock()
	s.state = cartstate.Reduce(s.state, cartstate.Reset{})
	s.seq++
	s.transferred = false
	s.mu.Unlock()

	s.remote.SetSessionID("")
	for _, key := range []string{state.KeyCartSnapshot, state.KeyGuestSession} {
		if err := s.local.Delete(key); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Failed to clear local cart data")
		}
	}

	s.emit(Event{Type: EventReset})
}

// ClearAfterOrder empties the cart and forgets the cart id after an order
// has been placed.
func (s *Store) ClearAfterOrder(orderNumber string) {
	msg := "Order placed"
	if orderNumber != "" {
		msg = fmt.Sprintf("Order %s placed", orderNumber)
	}
	ticket := s.mutate(
		cartstate.ClearCart{},
		cartstate.DiscardCartID{},
		cartstate.SetError{},
		cartstate.ShowNotice{Notice: cartstate.Notice{Kind: cartstate.NoticeOrderPlaced, Message: msg}},
	)
	s.emit(Event{Type: EventOrderPlaced, Ticket: ticket})
}

// DismissError clears the last synchronization error.
func (s *Store) DismissError() {
	s.dispatch(cartstate.SetError{})
}

// DismissNotice clears the success acknowledgment.
func (s *Store) DismissNotice() {
	s.dispatch(cartstate.DismissNotice{})
}

// Watch refreshes the cart whenever the server reports a change. It returns
// when ctx is done or the stream ends.
func (s *Store) Watch(ctx context.Context, source EventSource) error {
	stream, err := source.StreamEvents(ctx)
	if err != nil {
		return fmt.Errorf("stream cart events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-stream:
			if !ok {
				return nil
			}
			if !ev.RequiresRefresh() {
				continue
			}
			s.logger.WithField("event", string(ev.Type)).Debug("Server cart changed")
			if err := s.Refresh(ctx); err != nil {
				s.logger.WithError(err).Warn("Refresh after cart event failed")
			}
		}
	}
}

// mutate applies cart-changing actions, bumps the request counter and
// persists the snapshot. It returns the new counter value.
func (s *Store) mutate(actions ...cartstate.Action) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range actions {
		s.state = cartstate.Reduce(s.state, a)
	}
	s.seq++
	s.persistLocked()
	return s.seq
}

// addLocal is mutate for AddLine, also returning the id the line ended up under.
func (s *Store) addLocal(line models.CartLine) (uint64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	s.state = cartstate.Reduce(prev, cartstate.AddLine{Line: line})
	s.seq++
	s.persistLocked()
	return s.seq, cartstate.AddedLineID(prev, s.state)
}

// dispatch applies bookkeeping actions.
func (s *Store) dispatch(actions ...cartstate.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range actions {
		s.state = cartstate.Reduce(s.state, a)
	}
}

func (s *Store) ticket() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// reconcile installs cart unless a newer local mutation happened after the
// request carrying ticket was issued.
func (s *Store) reconcile(ticket uint64, cart *models.ServerCart) bool {
	if cart == nil {
		return false
	}

	s.mu.Lock()
	if s.guard && ticket != s.seq {
		latest := s.seq
		s.mu.Unlock()

		s.logger.WithFields(map[string]interface{}{
			"ticket": ticket,
			"latest": latest,
		}).Debug("Dropping stale server snapshot")
		s.emit(Event{Type: EventStaleDropped, Ticket: ticket})
		return false
	}

	s.state = cartstate.Reduce(s.state, cartstate.ReplaceFromServer{CartID: cart.ID, Items: cart.Items})
	s.state = cartstate.Reduce(s.state, cartstate.SetError{})
	s.persistLocked()
	lines := len(s.state.Lines)
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"ticket":  ticket,
		"cart_id": cart.ID,
		"lines":   lines,
	}).Debug("Reconciled with server")
	s.emit(Event{Type: EventReconciled, Ticket: ticket})
	return true
}

// syncFailed surfaces err for authenticated callers only.
func (s *Store) syncFailed(op, itemID string, authed bool, err error) {
	syncErr := &models.SyncError{Op: op, ItemID: itemID, Err: err}

	logger := s.logger.WithError(err).WithField("op", op)
	if !authed {
		logger.Debug("Guest cart sync failed")
		return
	}

	logger.Warn("Cart sync failed")
	s.dispatch(cartstate.SetError{Err: syncErr})
	s.emit(Event{Type: EventSyncFailed, UniqueID: itemID, Error: syncErr})
}

func (s *Store) assignSession(sessionID string) {
	if sessionID == "" {
		return
	}

	s.mu.Lock()
	if s.state.SessionID == sessionID {
		s.mu.Unlock()
		return
	}
	s.state = cartstate.Reduce(s.state, cartstate.SetSession{SessionID: sessionID})
	s.mu.Unlock()

	s.remote.SetSessionID(sessionID)
	if err := s.local.Save(state.KeyGuestSession, sessionID); err != nil {
		s.logger.WithError(err).Warn("Failed to save guest session")
	}

	s.logger.WithField("session_id", sessionID).Debug("Guest session assigned")
	s.emit(Event{Type: EventSessionAssigned})
}

func (s *Store) discardSession() {
	s.dispatch(cartstate.SetSession{})
	s.remote.SetSessionID("")
	if err := s.local.Delete(state.KeyGuestSession); err != nil {
		s.logger.WithError(err).Warn("Failed to delete guest session")
	}
}

func (s *Store) clearGuestCache() {
	if err := s.local.Delete(state.KeyCartSnapshot); err != nil {
		s.logger.WithError(err).Warn("Failed to clear guest cart cache")
	}
}

func (s *Store) loadLocal() {
	var snap state.CartSnapshot
	if err := s.local.Load(state.KeyCartSnapshot, &snap); err != nil {
		if !errors.Is(err, state.ErrStateNotFound) {
			s.logger.WithError(err).Warn("Failed to read cart snapshot")
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = cartstate.Reduce(s.state, cartstate.LoadLocal{Lines: snap.Lines})
	if snap.CartID != "" {
		s.state.CartID = snap.CartID
	}
	s.seq++

	s.logger.WithField("lines", len(s.state.Lines)).Debug("Loaded local cart snapshot")
}

func (s *Store) persistLocked() {
	snap := state.CartSnapshot{
		Lines:   s.state.Lines,
		CartID:  s.state.CartID,
		SavedAt: time.Now(),
	}
	if snap.Lines == nil {
		snap.Lines = []models.CartLine{}
	}
	if err := s.local.Save(state.KeyCartSnapshot, snap); err != nil {
		s.logger.WithError(err).Warn("Failed to save cart snapshot")
	}
}

func (s *Store) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight++
	if s.inflight == 1 {
		s.state = cartstate.Reduce(s.state, cartstate.SetLoading{Loading: true})
	}
}

func (s *Store) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		s.inflight--
	}
	if s.inflight == 0 {
		s.state = cartstate.Reduce(s.state, cartstate.SetLoading{Loading: false})
	}
}
