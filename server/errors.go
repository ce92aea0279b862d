package server

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingToken is returned by Introspect when the token parameter is absent
	ErrMissingToken = errors.New("token parameter is required")

	// ErrScopeUnauthorized is returned when a scope fails to authenticate
	ErrScopeUnauthorized = errors.New("scope authentication failed")
)

// ProtocolError is an OAuth2 error outcome. Description is empty unless the
// failing collaborator supplied one; the reason for a failure stays in the logs.
type ProtocolError struct {
	Code        string
	Description string
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func protocolError(code, description string) *ProtocolError {
	return &ProtocolError{Code: code, Description: description}
}
