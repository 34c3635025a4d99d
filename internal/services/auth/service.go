package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/TheMichaelB/cartsync/internal/events"
	"github.com/TheMichaelB/cartsync/internal/models"
	"github.com/TheMichaelB/cartsync/internal/state"
	"github.com/TheMichaelB/cartsync/internal/transport"
)

// DefaultTokenLifetime applies when the login response carries no expiry.
const DefaultTokenLifetime = 24 * time.Hour

const refreshWindow = 5 * time.Minute

// Hook runs after a login or logout transition.
type Hook func(ctx context.Context, user models.User)

// Service handles authentication operations.
type Service struct {
	transport transport.Transport
	store     state.Store
	logger    *events.Logger

	mu     sync.RWMutex
	token  *models.TokenInfo
	login  []Hook
	logout []Hook
}

// NewService creates an auth service. The login record is persisted in
// store under state.KeyAuthUser.
func NewService(transport transport.Transport, store state.Store, logger *events.Logger) *Service {
	return &Service{
		transport: transport,
		store:     store,
		logger:    logger.WithField("service", "auth"),
	}
}

// OnLogin registers a hook run after every successful login.
func (s *Service) OnLogin(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.login = append(s.login, h)
}

// OnLogout registers a hook run after logout.
func (s *Service) OnLogout(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logout = append(s.logout, h)
}

// Login authenticates and then runs the login hooks. Hook outcomes never
// affect the result.
func (s *Service) Login(ctx context.Context, email, password string) (*models.TokenInfo, error) {
	if email == "" || password == "" {
		return nil, &models.ValidationError{Field: "credentials", Message: "email and password required"}
	}

	s.logger.WithField("email", email).Info("Logging in")

	resp, err := s.transport.Call(ctx, http.MethodPost, "/auth/login", models.AuthRequest{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}

	info, err := decodeLogin(resp)
	if err != nil {
		return nil, err
	}
	if info.User.Email == "" {
		info.User.Email = email
	}

	s.mu.Lock()
	s.token = info
	hooks := append([]Hook(nil), s.login...)
	s.mu.Unlock()

	s.transport.SetToken(info.Token)

	if err := s.store.Save(state.KeyAuthUser, info); err != nil {
		s.logger.WithError(err).Warn("Failed to save login")
	}

	s.logger.WithField("customer_id", info.User.ID).Info("Login successful")

	ctx = events.WithCustomerID(ctx, info.User.ID)
	for _, h := range hooks {
		h(ctx, info.User)
	}

	return info, nil
}

// Logout clears authentication and runs the logout hooks.
func (s *Service) Logout(ctx context.Context) error {
	s.logger.Info("Logging out")

	s.mu.Lock()
	prev := s.token
	s.token = nil
	hooks := append([]Hook(nil), s.logout...)
	s.mu.Unlock()

	if prev != nil && !prev.IsExpired() {
		// Notify server
		if _, err := s.transport.Call(ctx, http.MethodPost, "/auth/logout", nil); err != nil {
			s.logger.WithError(err).Debug("Server logout failed")
		}
	}

	s.transport.SetToken("")

	if err := s.store.Delete(state.KeyAuthUser); err != nil {
		s.logger.WithError(err).Warn("Failed to remove saved login")
	}

	var user models.User
	if prev != nil {
		user = prev.User
	}
	for _, h := range hooks {
		h(ctx, user)
	}

	return nil
}

// Restore loads a saved, unexpired login. It reports whether one was found.
func (s *Service) Restore() bool {
	var info models.TokenInfo
	if err := s.store.Load(state.KeyAuthUser, &info); err != nil {
		if !errors.Is(err, state.ErrStateNotFound) {
			s.logger.WithError(err).Warn("Failed to read saved login")
		}
		return false
	}
	if info.Token == "" || info.IsExpired() {
		s.logger.Debug("Saved login expired")
		_ = s.store.Delete(state.KeyAuthUser)
		return false
	}

	s.mu.Lock()
	s.token = &info
	s.mu.Unlock()

	s.transport.SetToken(info.Token)
	s.logger.WithField("customer_id", info.User.ID).Debug("Restored login")
	return true
}

// IsAuthenticated reports whether a valid token is held.
func (s *Service) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != nil && !s.token.IsExpired()
}

// Token returns the current bearer token, or "".
func (s *Service) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil || s.token.IsExpired() {
		return ""
	}
	return s.token.Token
}

// CustomerID returns the authenticated customer's id, or "".
func (s *Service) CustomerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil || s.token.IsExpired() {
		return ""
	}
	return s.token.User.ID
}

// CurrentUser returns the authenticated user.
func (s *Service) CurrentUser() (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil || s.token.IsExpired() {
		return nil, models.ErrNotAuthenticated
	}
	u := s.token.User
	return &u, nil
}

// GetToken returns the current token info.
func (s *Service) GetToken() (*models.TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil || s.token.IsExpired() {
		return nil, models.ErrNotAuthenticated
	}
	info := *s.token
	return &info, nil
}

// RefreshToken exchanges the current token for a fresh one. The user is kept.
func (s *Service) RefreshToken(ctx context.Context) error {
	current, err := s.GetToken()
	if err != nil {
		return err
	}

	s.logger.Debug("Refreshing token")

	resp, err := s.transport.Call(ctx, http.MethodPost, "/auth/refresh", nil)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}

	info, err := decodeLogin(resp)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	if info.User.ID == "" {
		info.User = current.User
	}

	s.mu.Lock()
	s.token = info
	s.mu.Unlock()

	s.transport.SetToken(info.Token)
	if err := s.store.Save(state.KeyAuthUser, info); err != nil {
		s.logger.WithError(err).Warn("Failed to save refreshed login")
	}
	return nil
}

// EnsureAuthenticated refreshes a token that expires within the refresh window.
func (s *Service) EnsureAuthenticated(ctx context.Context) error {
	token, err := s.GetToken()
	if err != nil {
		return err
	}
	if time.Until(token.ExpiresAt) < refreshWindow {
		return s.RefreshToken(ctx)
	}
	return nil
}

// decodeLogin accepts {token,user}, {data:{token,user}} and snake_case expiry.
func decodeLogin(resp json.RawMessage) (*models.TokenInfo, error) {
	type wireUser struct {
		ID      string `json:"id"`
		MongoID string `json:"_id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
	}
	type wireLogin struct {
		Token      string    `json:"token"`
		ExpiresAt  string    `json:"expiresAt"`
		ExpiresAt2 string    `json:"expires_at"`
		User       *wireUser `json:"user"`
		Customer   *wireUser `json:"customer"`
	}

	var wire struct {
		wireLogin
		Data *wireLogin `json:"data"`
	}
	if err := json.Unmarshal(resp, &wire); err != nil {
		return nil, fmt.Errorf("parse login response: %w", err)
	}

	login := wire.wireLogin
	if login.Token == "" && wire.Data != nil {
		login = *wire.Data
	}
	if login.Token == "" {
		return nil, errors.New("invalid login response: missing token")
	}

	info := &models.TokenInfo{Token: login.Token}

	for _, raw := range []string{login.ExpiresAt, login.ExpiresAt2} {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			info.ExpiresAt = ts
			break
		}
	}
	if info.ExpiresAt.IsZero() {
		info.ExpiresAt = time.Now().Add(DefaultTokenLifetime)
	}

	u := login.User
	if u == nil {
		u = login.Customer
	}
	if u != nil {
		info.User = models.User{ID: u.ID, Email: u.Email, Name: u.Name}
		if info.User.ID == "" {
			info.User.ID = u.MongoID
		}
	}

	return info, nil
}
