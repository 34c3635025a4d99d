package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/TheMichaelB/cartsync/internal/events"
	"github.com/TheMichaelB/cartsync/internal/models"
)

// Store is the local persistent key/value store. Concurrent writers are not
// coordinated: the last Save for a key wins.
type Store interface {
	// Load decodes the value stored under key into out.
	Load(key string, out any) error

	// Save replaces the value stored under key.
	Save(key string, value any) error

	// Delete removes key. Missing keys are not an error.
	Delete(key string) error

	// List returns all stored keys.
	List() ([]string, error)

	// Migrate copies every key to target.
	Migrate(target Store) error

	// Close releases resources.
	Close() error
}

// Well-known keys.
const (
	KeyCartSnapshot = "cart-snapshot"
	KeyGuestSession = "guest-session-id"
	KeyAuthUser     = "auth-user"
)

// Errors
var (
	ErrStateNotFound = errors.New("state not found")
	ErrStateCorrupt  = errors.New("state file is corrupt")
	ErrInvalidKey    = errors.New("invalid state key")
)

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// CartSnapshot is the persisted cart line list.
type CartSnapshot struct {
	Lines   []models.CartLine `json:"lines"`
	CartID  string            `json:"cartId,omitempty"`
	SavedAt time.Time         `json:"savedAt"`
}

// record wraps a stored value with store metadata.
type record struct {
	SchemaVersion int             `json:"schema_version"`
	CreatedAt     time.Time       `json:"created_at"`
	Checksum      string          `json:"checksum,omitempty"`
	Data          json.RawMessage `json:"data"`
}

func validateKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// migrate copies every key from src to target as raw JSON.
func migrate(src, target Store, logger *events.Logger) error {
	keys, err := src.List()
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	logger.WithField("count", len(keys)).Info("Migrating state")

	for _, key := range keys {
		var raw json.RawMessage
		if err := src.Load(key, &raw); err != nil {
			logger.WithError(err).WithField("key", key).Error("Failed to load state")
			continue
		}

		if err := target.Save(key, raw); err != nil {
			return fmt.Errorf("save key %s: %w", key, err)
		}

		logger.WithField("key", key).Debug("Migrated state")
	}

	return nil
}
