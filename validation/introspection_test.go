package validation

import (
	"context"
	"testing"

	"github.com/giantswarm/oidc-grants/internal/testutil"
)

func TestIntrospectionRequestValidator(t *testing.T) {
	tests := []struct {
		name              string
		requireScopeMatch bool
		callerScope       string
		token             func(t *testing.T, f *fixture) string
		wantError         string
		wantActive        bool
		wantReason        IntrospectionFailureReason
	}{
		{
			name:        "missing token",
			callerScope: "api1",
			token:       func(*testing.T, *fixture) string { return "" },
			wantError:   ErrorInvalidRequest,
			wantReason:  IntrospectionFailureMissingToken,
		},
		{
			name:        "unknown token",
			callerScope: "api1",
			token:       func(*testing.T, *fixture) string { return "unknown" },
			wantReason:  IntrospectionFailureInvalidToken,
		},
		{
			name:        "active jwt",
			callerScope: "api1",
			token:       func(t *testing.T, f *fixture) string { return f.issueAccessToken(t, "client", nil, "api1") },
			wantActive:  true,
		},
		{
			name:        "active reference",
			callerScope: "api1",
			token: func(t *testing.T, f *fixture) string {
				return f.issueAccessToken(t, "roclient", testutil.SubjectClaims(testutil.TestSubject, testStart), "api1")
			},
			wantActive: true,
		},
		{
			name:        "other scope without scope match",
			callerScope: "api2",
			token:       func(t *testing.T, f *fixture) string { return f.issueAccessToken(t, "client", nil, "api1") },
			wantActive:  true,
		},
		{
			name:              "other scope with scope match",
			requireScopeMatch: true,
			callerScope:       "api2",
			token:             func(t *testing.T, f *fixture) string { return f.issueAccessToken(t, "client", nil, "api1") },
			wantReason:        IntrospectionFailureInvalidScope,
		},
		{
			name:              "matching scope with scope match",
			requireScopeMatch: true,
			callerScope:       "api1",
			token:             func(t *testing.T, f *fixture) string { return f.issueAccessToken(t, "client", nil, "api1") },
			wantActive:        true,
		},
		{
			name:              "unrestricted scope",
			requireScopeMatch: true,
			callerScope:       "unrestricted.api",
			token:             func(t *testing.T, f *fixture) string { return f.issueAccessToken(t, "client", nil, "api1") },
			wantActive:        true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			validator := NewIntrospectionRequestValidator(f.tokenVal, tt.requireScopeMatch, nil)
			scope := f.scopes(t, tt.callerScope)[0]

			raw := tt.token(t, f)
			result, err := validator.Validate(context.Background(), params("token", raw, "token_type_hint", "access_token"), scope)
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}

			if tt.wantError != "" {
				if !result.IsError || result.Error != tt.wantError {
					t.Fatalf("Validate() = %+v, want error %q", result, tt.wantError)
				}
			} else if result.IsError {
				t.Fatalf("Validate() unexpected error %q", result.Error)
			}

			if result.IsActive != tt.wantActive {
				t.Errorf("IsActive = %v, want %v", result.IsActive, tt.wantActive)
			}
			if result.Reason != tt.wantReason {
				t.Errorf("Reason = %s, want %s", result.Reason, tt.wantReason)
			}
			if tt.wantActive && len(result.Claims) == 0 {
				t.Error("active result has no claims")
			}
			if !tt.wantActive && len(result.Claims) != 0 {
				t.Error("inactive result leaks claims")
			}
			if tt.wantError == "" && result.TokenTypeHint != "access_token" {
				t.Errorf("TokenTypeHint = %q", result.TokenTypeHint)
			}
		})
	}
}
