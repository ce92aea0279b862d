// Package validation implements request and token validation for the token,
// introspection and revocation endpoints.
//
// Validators never panic and report protocol failures as result values
// carrying an OAuth error code. Infrastructure failures, such as an
// unreachable grant store, are returned as Go errors so callers can map them
// to server_error.
//
// The TokenRequestValidator dispatches on grant_type:
//
//	authorization_code  one-time redemption with redirect URI and PKCE checks
//	client_credentials  resource scopes only
//	password            delegated to a ResourceOwnerPasswordValidator
//	refresh_token       lookup, client binding and offline_access checks
//	anything else       delegated to the ExtensionGrantRegistry
//
// The TokenValidator accepts both self-contained JWTs and reference handles.
package validation
