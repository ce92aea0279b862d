// Package oauth maps engine outcomes to OAuth 2.0 error responses and provides
// a reference net/http binding of the token, introspection and revocation
// endpoints.
package oauth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/oidc-grants/server"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeInvalidToken         = "invalid_token"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeUnsupportedTokenType = "unsupported_token_type"
	ErrorCodeInsufficientScope    = "insufficient_scope"
	ErrorCodeServerError          = "server_error"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common OAuth errors as reusable instances
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client or scope authentication failed
	ErrInvalidClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidToken indicates the access token is invalid or expired
	ErrInvalidToken = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrInsufficientScope indicates the access token lacks a required scope
	ErrInsufficientScope = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInsufficientScope, desc, http.StatusForbidden)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)

// FromError maps an error returned by the engine to its OAuth response.
// Infrastructure failures become server_error without leaking their text.
func FromError(err error) *OAuthError {
	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe
	}

	var pe *server.ProtocolError
	switch {
	case errors.As(err, &pe):
		status := http.StatusBadRequest
		if pe.Code == ErrorCodeInvalidClient {
			status = http.StatusUnauthorized
		}
		return NewOAuthError(pe.Code, pe.Description, status)
	case errors.Is(err, server.ErrMissingToken):
		return ErrInvalidRequest("token parameter is required")
	case errors.Is(err, server.ErrScopeUnauthorized):
		return ErrInvalidClient("")
	}
	return ErrServerError("")
}
