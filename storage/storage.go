// Package storage defines interfaces for persisting grants and for looking up
// clients and scopes. It supports various backend implementations including
// in-memory, Valkey, and static configuration files.
package storage

import (
	"context"
	"errors"
)

// Storage errors. Backends wrap these with fmt.Errorf("%w") so callers can use errors.Is.
var (
	// ErrGrantNotFound is returned when no grant is stored under a handle
	ErrGrantNotFound = errors.New("grant not found")

	// ErrClientNotFound is returned when a client lookup finds nothing
	ErrClientNotFound = errors.New("client not found")

	// ErrScopeNotFound is returned when a scope lookup finds nothing
	ErrScopeNotFound = errors.New("scope not found")

	// ErrInvalidGrant is returned when a grant fails structural validation before persistence
	ErrInvalidGrant = errors.New("invalid persisted grant")
)

// GrantStore persists opaque grants keyed by handle.
// All methods accept context.Context for tracing and cancellation.
//
// Implementations store and return grants verbatim. Expiry is enforced by the
// caller on read; backends may additionally expire entries as hygiene.
type GrantStore interface {
	// Store saves a grant, replacing any grant with the same key
	Store(ctx context.Context, grant *PersistedGrant) error

	// Get returns the grant stored under key or ErrGrantNotFound
	Get(ctx context.Context, key string) (*PersistedGrant, error)

	// GetAll returns every grant belonging to subjectID
	GetAll(ctx context.Context, subjectID string) ([]*PersistedGrant, error)

	// Remove deletes the grant stored under key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// RemoveAll deletes every grant of subjectID issued to clientID
	RemoveAll(ctx context.Context, subjectID, clientID string) error

	// RemoveAllByType deletes every grant of the given type of subjectID issued to clientID
	RemoveAllByType(ctx context.Context, subjectID, clientID string, grantType GrantType) error

	// Take atomically returns and deletes the grant stored under key.
	// Concurrent calls for the same key return the grant to at most one caller;
	// every other caller receives ErrGrantNotFound.
	// SECURITY: This is the linearization point for one-time redemption.
	Take(ctx context.Context, key string) (*PersistedGrant, error)
}

// ClientStore looks up registered clients.
type ClientStore interface {
	// FindClientByID returns the client or ErrClientNotFound
	FindClientByID(ctx context.Context, clientID string) (*Client, error)
}

// ScopeStore looks up scope definitions.
type ScopeStore interface {
	// FindScopesByName returns the scopes with the given names. Unknown names are skipped.
	FindScopesByName(ctx context.Context, names []string) ([]*Scope, error)

	// GetScopes returns all scopes, optionally only those flagged for publication
	GetScopes(ctx context.Context, publicOnly bool) ([]*Scope, error)
}
