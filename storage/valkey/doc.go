// Package valkey provides a Valkey backend for grant persistence.
//
// Valkey is wire-compatible with Redis. Use this store when several
// grant engine instances must share authorization codes, refresh tokens and
// reference tokens, or when grants must survive restarts.
//
// # Key Schema
//
// All keys use a configurable prefix (default "oidc:"):
//
//	{prefix}grant:{key}                       -> JSON(storage.PersistedGrant) with TTL
//	{prefix}subject:{subjectID}               -> SET of grant keys
//	{prefix}subjectclient:{subjectID}:{clientID} -> SET of grant keys
//
// Grants expire natively through the key TTL. The index sets are pruned when
// they are read, so a member whose grant has expired is dropped lazily.
//
// # Atomic Take
//
// Take runs a Lua script that reads and deletes the grant in one step. When
// several requests redeem the same authorization code or one-time refresh
// token concurrently, exactly one of them receives the grant.
//
// # Usage
//
//	store, err := valkey.New(valkey.Config{
//		Address:   "localhost:6379",
//		KeyPrefix: "oidc:",
//	})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	svc := grants.NewService(store, grants.Config{})
package valkey
