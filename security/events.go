package security

// Event type constants for security audit logging.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when a token endpoint request mints tokens
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is redeemed
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a revocation removes grants
	EventTokenRevoked = "token_revoked"

	// EventTokenIntrospected is logged for every introspection request
	EventTokenIntrospected = "token_introspected"

	// Security violation events

	// EventGrantFailure is logged when a grant is rejected for a binding or subject reason
	EventGrantFailure = "grant_failure"

	// EventAuthorizationCodeReplay is logged when a consumed or unknown code is presented
	EventAuthorizationCodeReplay = "authorization_code_replay"

	// EventPKCEValidationFailed is logged when PKCE code_verifier validation fails
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventClientBindingMismatch is logged when a client presents a grant bound to another client
	EventClientBindingMismatch = "client_binding_mismatch"

	// EventAuthFailure is logged when client or scope authentication fails
	EventAuthFailure = "auth_failure"
)
