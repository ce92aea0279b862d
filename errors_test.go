package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/giantswarm/oidc-grants/server"
)

func TestOAuthError_Error(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		description string
		want        string
	}{
		{
			name:        "simple error",
			code:        "invalid_request",
			description: "Missing required parameter",
			want:        "invalid_request: Missing required parameter",
		},
		{
			name:        "error with empty description",
			code:        "server_error",
			description: "",
			want:        "server_error: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &OAuthError{
				Code:        tt.code,
				Description: tt.description,
			}
			if got := e.Error(); got != tt.want {
				t.Errorf("OAuthError.Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewOAuthError(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		description string
		status      int
	}{
		{
			name:        "bad request",
			code:        ErrorCodeInvalidRequest,
			description: "Test error",
			status:      http.StatusBadRequest,
		},
		{
			name:        "unauthorized",
			code:        ErrorCodeInvalidClient,
			description: "Client authentication failed",
			status:      http.StatusUnauthorized,
		},
		{
			name:        "internal server error",
			code:        ErrorCodeServerError,
			description: "Something went wrong",
			status:      http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewOAuthError(tt.code, tt.description, tt.status)
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
			if err.Description != tt.description {
				t.Errorf("Description = %q, want %q", err.Description, tt.description)
			}
			if err.Status != tt.status {
				t.Errorf("Status = %d, want %d", err.Status, tt.status)
			}
		})
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
		wantDesc   string
	}{
		{
			name:       "protocol error",
			err:        &server.ProtocolError{Code: ErrorCodeInvalidGrant},
			wantCode:   ErrorCodeInvalidGrant,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "protocol error with description",
			err:        &server.ProtocolError{Code: ErrorCodeInvalidGrant, Description: "invalid_custom_credential"},
			wantCode:   ErrorCodeInvalidGrant,
			wantStatus: http.StatusBadRequest,
			wantDesc:   "invalid_custom_credential",
		},
		{
			name:       "invalid client",
			err:        &server.ProtocolError{Code: ErrorCodeInvalidClient},
			wantCode:   ErrorCodeInvalidClient,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrapped protocol error",
			err:        fmt.Errorf("revoke: %w", &server.ProtocolError{Code: ErrorCodeUnsupportedTokenType}),
			wantCode:   ErrorCodeUnsupportedTokenType,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing token",
			err:        server.ErrMissingToken,
			wantCode:   ErrorCodeInvalidRequest,
			wantStatus: http.StatusBadRequest,
			wantDesc:   "token parameter is required",
		},
		{
			name:       "scope unauthorized",
			err:        server.ErrScopeUnauthorized,
			wantCode:   ErrorCodeInvalidClient,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "oauth error passes through",
			err:        ErrInsufficientScope("api2"),
			wantCode:   ErrorCodeInsufficientScope,
			wantStatus: http.StatusForbidden,
			wantDesc:   "api2",
		},
		{
			name:       "infrastructure failure",
			err:        errors.New("dial tcp 10.0.0.1:6379: connection refused"),
			wantCode:   ErrorCodeServerError,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", got.Status, tt.wantStatus)
			}
			if got.Description != tt.wantDesc {
				t.Errorf("Description = %q, want %q", got.Description, tt.wantDesc)
			}
		})
	}
}
