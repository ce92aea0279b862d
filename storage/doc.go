// Package storage provides the data model and lookup contracts of the grant engine.
//
// The storage package defines the core storage interfaces used throughout the library:
//   - GrantStore: persists authorization codes, refresh tokens and reference tokens
//   - ClientStore: looks up registered OAuth clients
//   - ScopeStore: looks up identity and resource scopes
//
// This package also provides the shared models (Client, Scope, Claim, Token,
// RefreshToken, AuthorizationCode, PersistedGrant) and secret hashing helpers.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory GrantStore for development and testing
//   - storage/mock: Mock GrantStore for failure injection in unit tests
//   - storage/static: ClientStore and ScopeStore backed by fixed lists or a YAML file
//   - storage/valkey: Valkey/Redis-compatible distributed GrantStore for production
package storage
