// Package mock provides a mock GrantStore for failure injection in tests.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/oidc-grants/storage"
	"github.com/giantswarm/oidc-grants/storage/memory"
)

// GrantStore wraps an in-memory store. Any non-nil *Func field replaces the
// corresponding method, which lets tests simulate backend outages or races.
type GrantStore struct {
	inner *memory.Store

	StoreFunc           func(ctx context.Context, grant *storage.PersistedGrant) error
	GetFunc             func(ctx context.Context, key string) (*storage.PersistedGrant, error)
	GetAllFunc          func(ctx context.Context, subjectID string) ([]*storage.PersistedGrant, error)
	RemoveFunc          func(ctx context.Context, key string) error
	RemoveAllFunc       func(ctx context.Context, subjectID, clientID string) error
	RemoveAllByTypeFunc func(ctx context.Context, subjectID, clientID string, grantType storage.GrantType) error
	TakeFunc            func(ctx context.Context, key string) (*storage.PersistedGrant, error)

	mu         sync.Mutex
	callCounts map[string]int
}

var _ storage.GrantStore = (*GrantStore)(nil)

// NewGrantStore creates a mock grant store backed by a fresh in-memory store
func NewGrantStore() *GrantStore {
	return &GrantStore{
		inner:      memory.New(),
		callCounts: make(map[string]int),
	}
}

// Stop stops the backing store's cleanup goroutine
func (m *GrantStore) Stop() {
	m.inner.Stop()
}

// CallCount returns how often method was called
func (m *GrantStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[method]
}

func (m *GrantStore) record(method string) {
	m.mu.Lock()
	m.callCounts[method]++
	m.mu.Unlock()
}

// Store records the call and delegates
func (m *GrantStore) Store(ctx context.Context, grant *storage.PersistedGrant) error {
	m.record("Store")
	if m.StoreFunc != nil {
		return m.StoreFunc(ctx, grant)
	}
	return m.inner.Store(ctx, grant)
}

// Get records the call and delegates
func (m *GrantStore) Get(ctx context.Context, key string) (*storage.PersistedGrant, error) {
	m.record("Get")
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return m.inner.Get(ctx, key)
}

// GetAll records the call and delegates
func (m *GrantStore) GetAll(ctx context.Context, subjectID string) ([]*storage.PersistedGrant, error) {
	m.record("GetAll")
	if m.GetAllFunc != nil {
		return m.GetAllFunc(ctx, subjectID)
	}
	return m.inner.GetAll(ctx, subjectID)
}

// Remove records the call and delegates
func (m *GrantStore) Remove(ctx context.Context, key string) error {
	m.record("Remove")
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, key)
	}
	return m.inner.Remove(ctx, key)
}

// RemoveAll records the call and delegates
func (m *GrantStore) RemoveAll(ctx context.Context, subjectID, clientID string) error {
	m.record("RemoveAll")
	if m.RemoveAllFunc != nil {
		return m.RemoveAllFunc(ctx, subjectID, clientID)
	}
	return m.inner.RemoveAll(ctx, subjectID, clientID)
}

// RemoveAllByType records the call and delegates
func (m *GrantStore) RemoveAllByType(ctx context.Context, subjectID, clientID string, grantType storage.GrantType) error {
	m.record("RemoveAllByType")
	if m.RemoveAllByTypeFunc != nil {
		return m.RemoveAllByTypeFunc(ctx, subjectID, clientID, grantType)
	}
	return m.inner.RemoveAllByType(ctx, subjectID, clientID, grantType)
}

// Take records the call and delegates
func (m *GrantStore) Take(ctx context.Context, key string) (*storage.PersistedGrant, error) {
	m.record("Take")
	if m.TakeFunc != nil {
		return m.TakeFunc(ctx, key)
	}
	return m.inner.Take(ctx, key)
}
