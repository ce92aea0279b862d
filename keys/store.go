package keys

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists key material. Implementations must be safe for concurrent use.
type Store interface {
	// ListKeys returns every stored key, retired ones included
	ListKeys(ctx context.Context) ([]*Key, error)

	// AddKey stores a new key
	AddKey(ctx context.Context, key *Key) error

	// RetireKey marks the key as no longer signing
	RetireKey(ctx context.Context, kid string, at time.Time) error

	// DeleteKey removes the key entirely
	DeleteKey(ctx context.Context, kid string) error
}

// MemoryStore keeps keys in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*Key
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store holding keys.
func NewMemoryStore(keys ...*Key) *MemoryStore {
	s := &MemoryStore{keys: make(map[string]*Key, len(keys))}
	for _, k := range keys {
		s.keys[k.ID] = k
	}
	return s
}

// ListKeys returns copies of all keys, newest first.
func (s *MemoryStore) ListKeys(_ context.Context) ([]*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Key, 0, len(s.keys))
	for _, k := range s.keys {
		c := *k
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// AddKey stores key, replacing a key with the same id.
func (s *MemoryStore) AddKey(_ context.Context, key *Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *key
	s.keys[key.ID] = &c
	return nil
}

// RetireKey marks kid as retired at the given time.
func (s *MemoryStore) RetireKey(_ context.Context, kid string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[kid]
	if !ok {
		return ErrKeyNotFound
	}
	k.RetiredAt = at
	return nil
}

// DeleteKey removes kid. Deleting an unknown key is not an error.
func (s *MemoryStore) DeleteKey(_ context.Context, kid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, kid)
	return nil
}
