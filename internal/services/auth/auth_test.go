package auth_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/cartsync/internal/events"
	"github.com/TheMichaelB/cartsync/internal/models"
	"github.com/TheMichaelB/cartsync/internal/services/auth"
	"github.com/TheMichaelB/cartsync/internal/state"
	"github.com/TheMichaelB/cartsync/internal/transport"
)

func newService() (*auth.Service, *transport.MockTransport, *state.MockStore) {
	var buf bytes.Buffer
	mock := transport.NewMockTransport()
	store := state.NewMockStore()
	return auth.NewService(mock, store, events.NewTestLogger(events.DebugLevel, "json", &buf)), mock, store
}

func loginBody(token string, expiry time.Time) map[string]any {
	return map[string]any{
		"success": true,
		"data": map[string]any{
			"token":     token,
			"expiresAt": expiry.Format(time.RFC3339),
			"user":      map[string]any{"_id": "cust-1", "email": "ada@example.com", "name": "Ada"},
		},
	}
}

func TestAuthService(t *testing.T) {
	service, mockTransport, store := newService()
	ctx := context.Background()

	t.Run("successful login", func(t *testing.T) {
		mockTransport.AddResponse(http.MethodPost, "/auth/login", loginBody("test-token-123", time.Now().Add(time.Hour)))

		info, err := service.Login(ctx, "ada@example.com", "password")
		require.NoError(t, err)
		assert.Equal(t, "test-token-123", info.Token)
		assert.Equal(t, "cust-1", info.User.ID)

		assert.True(t, service.IsAuthenticated())
		assert.Equal(t, "cust-1", service.CustomerID())
		assert.Equal(t, "test-token-123", mockTransport.GetToken())
		assert.Equal(t, models.AuthRequest{Email: "ada@example.com", Password: "password"},
			mockTransport.RequestsFor(http.MethodPost, "/auth/login")[0].Payload)
	})

	t.Run("login persisted", func(t *testing.T) {
		require.True(t, store.Has(state.KeyAuthUser))

		other := transport.NewMockTransport()
		restored := auth.NewService(other, store, events.NewNopLogger())
		require.True(t, restored.Restore())
		assert.Equal(t, "cust-1", restored.CustomerID())
		assert.Equal(t, "test-token-123", other.GetToken())
	})

	t.Run("token refresh", func(t *testing.T) {
		mockTransport.AddResponse(http.MethodPost, "/auth/refresh", map[string]any{
			"token":      "refreshed-token-456",
			"expires_at": time.Now().Add(48 * time.Hour).Format(time.RFC3339),
		})

		require.NoError(t, service.RefreshToken(ctx))

		token, err := service.GetToken()
		require.NoError(t, err)
		assert.Equal(t, "refreshed-token-456", token.Token)
		assert.Equal(t, "cust-1", token.User.ID, "user survives refresh")
	})

	t.Run("logout", func(t *testing.T) {
		require.NoError(t, service.Logout(ctx))

		_, err := service.GetToken()
		assert.ErrorIs(t, err, models.ErrNotAuthenticated)
		assert.False(t, service.IsAuthenticated())
		assert.Empty(t, service.CustomerID())
		assert.Empty(t, mockTransport.GetToken())
		assert.False(t, store.Has(state.KeyAuthUser))
		assert.Equal(t, 1, mockTransport.CallCount(http.MethodPost, "/auth/logout"))
	})
}

func TestLoginValidation(t *testing.T) {
	service, mockTransport, _ := newService()

	_, err := service.Login(context.Background(), "", "secret")
	var vErr *models.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.Empty(t, mockTransport.Requests)
}

func TestLoginResponseShapes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantID   string
		wantMail string
		defaultX bool
	}{
		{"plain", `{"token": "t", "expiresAt": "2099-01-01T00:00:00Z", "user": {"id": "u1", "email": "a@b.c"}}`, "u1", "a@b.c", false},
		{"customer key", `{"data": {"token": "t", "customer": {"_id": "u2"}}}`, "u2", "ada@example.com", true},
		{"token only", `{"token": "t"}`, "", "ada@example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, mockTransport, _ := newService()
			mockTransport.AddResponse(http.MethodPost, "/auth/login", tt.body)

			info, err := service.Login(context.Background(), "ada@example.com", "pw")
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, info.User.ID)
			assert.Equal(t, tt.wantMail, info.User.Email)
			if tt.defaultX {
				assert.WithinDuration(t, time.Now().Add(auth.DefaultTokenLifetime), info.ExpiresAt, time.Minute)
			}
		})
	}

	t.Run("missing token", func(t *testing.T) {
		service, mockTransport, _ := newService()
		mockTransport.AddResponse(http.MethodPost, "/auth/login", `{"success": true, "data": {}}`)

		_, err := service.Login(context.Background(), "ada@example.com", "pw")
		assert.ErrorContains(t, err, "missing token")
		assert.False(t, service.IsAuthenticated())
	})
}

func TestLoginFailure(t *testing.T) {
	service, mockTransport, store := newService()
	mockTransport.AddError(http.MethodPost, "/auth/login", &models.APIError{StatusCode: 401, Code: models.ErrCodeAuth, Message: "Invalid credentials"})

	called := false
	service.OnLogin(func(context.Context, models.User) { called = true })

	_, err := service.Login(context.Background(), "ada@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, models.IsUnauthorized(err))
	assert.False(t, called)
	assert.False(t, store.Has(state.KeyAuthUser))
}

func TestLoginHooks(t *testing.T) {
	service, mockTransport, _ := newService()
	mockTransport.AddResponse(http.MethodPost, "/auth/login", loginBody("tok", time.Now().Add(time.Hour)))

	var order []string
	var seen models.User
	service.OnLogin(func(ctx context.Context, user models.User) {
		order = append(order, "first")
		seen = user
		assert.Equal(t, "cust-1", events.GetCustomerID(ctx))
	})
	service.OnLogin(func(context.Context, models.User) {
		order = append(order, "second")
	})

	var loggedOut models.User
	service.OnLogout(func(_ context.Context, user models.User) { loggedOut = user })

	_, err := service.Login(context.Background(), "ada@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, "cust-1", seen.ID)

	require.NoError(t, service.Logout(context.Background()))
	assert.Equal(t, "cust-1", loggedOut.ID)
}

func TestLogoutServerFailureIgnored(t *testing.T) {
	service, mockTransport, _ := newService()
	mockTransport.AddResponse(http.MethodPost, "/auth/login", loginBody("tok", time.Now().Add(time.Hour)))
	mockTransport.AddError(http.MethodPost, "/auth/logout", errors.New("connection reset"))

	_, err := service.Login(context.Background(), "ada@example.com", "pw")
	require.NoError(t, err)

	assert.NoError(t, service.Logout(context.Background()))
	assert.False(t, service.IsAuthenticated())
}

func TestTokenExpiry(t *testing.T) {
	service, mockTransport, store := newService()

	mockTransport.AddResponse(http.MethodPost, "/auth/login", loginBody("expired-token", time.Now().Add(-time.Hour)))

	_, err := service.Login(context.Background(), "ada@example.com", "password")
	require.NoError(t, err)

	_, err = service.GetToken()
	assert.ErrorIs(t, err, models.ErrNotAuthenticated)
	assert.Empty(t, service.CustomerID())

	restored := auth.NewService(transport.NewMockTransport(), store, events.NewNopLogger())
	assert.False(t, restored.Restore())
	assert.False(t, store.Has(state.KeyAuthUser), "expired login is discarded")
}

func TestRestoreWithoutSavedLogin(t *testing.T) {
	service, _, _ := newService()
	assert.False(t, service.Restore())
	assert.False(t, service.IsAuthenticated())
}

func TestEnsureAuthenticated(t *testing.T) {
	service, mockTransport, _ := newService()
	ctx := context.Background()

	t.Run("no token", func(t *testing.T) {
		assert.ErrorIs(t, service.EnsureAuthenticated(ctx), models.ErrNotAuthenticated)
	})

	t.Run("valid token", func(t *testing.T) {
		mockTransport.AddResponse(http.MethodPost, "/auth/login", loginBody("valid-token", time.Now().Add(24*time.Hour)))
		_, err := service.Login(ctx, "ada@example.com", "password")
		require.NoError(t, err)

		assert.NoError(t, service.EnsureAuthenticated(ctx))
		assert.Zero(t, mockTransport.CallCount(http.MethodPost, "/auth/refresh"))
	})

	t.Run("token expiring soon", func(t *testing.T) {
		mockTransport.AddResponse(http.MethodPost, "/auth/login", loginBody("expiring-token", time.Now().Add(2*time.Minute)))
		_, err := service.Login(ctx, "ada@example.com", "password")
		require.NoError(t, err)

		mockTransport.AddResponse(http.MethodPost, "/auth/refresh", map[string]any{
			"token":     "refreshed-token",
			"expiresAt": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		})

		require.NoError(t, service.EnsureAuthenticated(ctx))

		token, err := service.GetToken()
		require.NoError(t, err)
		assert.Equal(t, "refreshed-token", token.Token)
	})
}
