// Package static provides ClientStore and ScopeStore implementations over a
// fixed set of clients and scopes, loaded from code or from a YAML file.
package static

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/giantswarm/oidc-grants/storage"
)

// Store serves clients and scopes from memory. The set can be swapped
// atomically with Replace, which is how configuration reloads are applied.
type Store struct {
	mu      sync.RWMutex
	clients map[string]*storage.Client
	scopes  []*storage.Scope
	byName  map[string]*storage.Scope
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.ScopeStore  = (*Store)(nil)
)

// New creates a store over clients and scopes.
// Client ids and scope names must be non-empty and unique.
func New(clients []*storage.Client, scopes []*storage.Scope) (*Store, error) {
	s := &Store{}
	if err := s.Replace(clients, scopes); err != nil {
		return nil, err
	}
	return s, nil
}

// Replace swaps the served clients and scopes. On error the store is unchanged.
func (s *Store) Replace(clients []*storage.Client, scopes []*storage.Scope) error {
	clientMap := make(map[string]*storage.Client, len(clients))
	for _, c := range clients {
		if c == nil || c.ClientID == "" {
			return fmt.Errorf("client id is required")
		}
		if _, dup := clientMap[c.ClientID]; dup {
			return fmt.Errorf("duplicate client id %q", c.ClientID)
		}
		clientMap[c.ClientID] = cloneClient(c)
	}

	ordered := make([]*storage.Scope, 0, len(scopes))
	byName := make(map[string]*storage.Scope, len(scopes))
	for _, sc := range scopes {
		if sc == nil || sc.Name == "" {
			return fmt.Errorf("scope name is required")
		}
		if _, dup := byName[sc.Name]; dup {
			return fmt.Errorf("duplicate scope name %q", sc.Name)
		}
		c := cloneScope(sc)
		byName[c.Name] = c
		ordered = append(ordered, c)
	}

	s.mu.Lock()
	s.clients = clientMap
	s.scopes = ordered
	s.byName = byName
	s.mu.Unlock()
	return nil
}

// FindClientByID returns a copy of the client or storage.ErrClientNotFound
func (s *Store) FindClientByID(_ context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return cloneClient(c), nil
}

// FindScopesByName returns copies of the named scopes in request order. Unknown names are skipped.
func (s *Store) FindScopesByName(_ context.Context, names []string) ([]*storage.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.Scope, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if sc, ok := s.byName[name]; ok {
			out = append(out, cloneScope(sc))
		}
	}
	return out, nil
}

// GetScopes returns all scopes in configuration order, or only those shown in
// the discovery document when publicOnly is set.
func (s *Store) GetScopes(_ context.Context, publicOnly bool) ([]*storage.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.Scope, 0, len(s.scopes))
	for _, sc := range s.scopes {
		if publicOnly && !sc.ShowInDiscoveryDocument {
			continue
		}
		out = append(out, cloneScope(sc))
	}
	return out, nil
}

func cloneClient(c *storage.Client) *storage.Client {
	out := *c
	out.ClientSecrets = slices.Clone(c.ClientSecrets)
	out.AllowedGrantTypes = slices.Clone(c.AllowedGrantTypes)
	out.AllowedScopes = slices.Clone(c.AllowedScopes)
	out.RedirectURIs = slices.Clone(c.RedirectURIs)
	out.Claims = slices.Clone(c.Claims)
	return &out
}

func cloneScope(sc *storage.Scope) *storage.Scope {
	out := *sc
	out.Claims = slices.Clone(sc.Claims)
	out.ScopeSecrets = slices.Clone(sc.ScopeSecrets)
	return &out
}
