package state

import (
	"sort"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/TheMichaelB/cartsync/internal/events"
)

// MockStore provides an in-memory implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	saves  map[string]int

	// Error injection
	SaveError error
	LoadError error
}

// NewMockStore creates a mock state store.
func NewMockStore() *MockStore {
	return &MockStore{
		values: make(map[string][]byte),
		saves:  make(map[string]int),
	}
}

// Load decodes a stored value.
func (m *MockStore) Load(key string, out any) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.LoadError != nil {
		return m.LoadError
	}

	data, ok := m.values[key]
	if !ok {
		return ErrStateNotFound
	}
	return json.Unmarshal(data, out)
}

// Save stores a copy of value.
func (m *MockStore) Save(key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveError != nil {
		return m.SaveError
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = data
	m.saves[key]++
	return nil
}

// Delete removes a key.
func (m *MockStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	return nil
}

// List returns all keys in sorted order.
func (m *MockStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.values))
	for key := range m.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Migrate copies all keys to target.
func (m *MockStore) Migrate(target Store) error {
	return migrate(m, target, events.NewNopLogger())
}

// Close closes the store (no-op for mock).
func (m *MockStore) Close() error {
	return nil
}

// Helper methods for testing

// Has reports whether key is stored.
func (m *MockStore) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.values[key]
	return ok
}

// SaveCount returns how many times key was saved.
func (m *MockStore) SaveCount(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves[key]
}

// Clear removes all values.
func (m *MockStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string][]byte)
	m.saves = make(map[string]int)
}
