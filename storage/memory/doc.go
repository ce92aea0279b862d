// Package memory provides an in-memory implementation of storage.GrantStore.
//
// Grants are kept in a map guarded by a sync.RWMutex, with a secondary index
// by subject for the bulk removal operations used by revocation. Take runs
// under the write lock, which makes authorization code redemption and one-time
// refresh token rotation linearizable per handle.
//
// Features:
//   - Thread-safe operations using sync.RWMutex
//   - Background sweep of expired grants (readers still enforce expiry)
//   - OpenTelemetry spans and storage metrics via SetInstrumentation
//
// For multi-instance deployments use the storage/valkey package instead.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	grantService := grants.New(store, grants.Config{})
package memory
