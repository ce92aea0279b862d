// Package grants stores authorization codes, refresh tokens and reference
// tokens as persisted grants.
//
// Each grant is keyed by a random 256-bit handle, which is the only value
// handed to clients. Payloads are JSON and can be sealed with AES-256-GCM via
// security.Encryptor, using the handle as additional authenticated data so a
// payload copied under another handle does not decrypt.
//
// Lookups treat absent, expired and wrongly typed grants alike and return
// nil without an error. Infrastructure failures are returned wrapped so
// callers can surface them as server errors.
//
// Authorization codes and one-time refresh tokens are redeemed through
// TakeAuthorizationCode and TakeRefreshToken, which rely on the atomic
// storage.GrantStore.Take: under concurrent redemption exactly one caller
// receives the payload.
package grants
