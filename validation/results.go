package validation

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/giantswarm/oidc-grants/storage"
)

// ValidationResult is embedded in every validation result.
type ValidationResult struct {
	IsError          bool
	Error            string
	ErrorDescription string
}

// Failed returns an error result with code and an optional description.
func Failed(code, description string) ValidationResult {
	return ValidationResult{IsError: true, Error: code, ErrorDescription: description}
}

// LocalIdentityProvider is the idp claim of subjects authenticated by this server
const LocalIdentityProvider = "local"

// GrantValidationResult is the outcome of a password or extension grant validator.
type GrantValidationResult struct {
	ValidationResult

	// Subject holds the authenticated subject claims; nil for client-only results
	Subject []storage.Claim

	// CustomResponse is merged into the token response
	CustomResponse map[string]any
}

// NewGrantResult returns a successful result for subjectID authenticated
// with authMethod at now. Additional claims are appended to the subject.
func NewGrantResult(subjectID, authMethod string, now time.Time, claims ...storage.Claim) *GrantValidationResult {
	subject := []storage.Claim{
		storage.NewClaim(storage.ClaimSubject, subjectID),
		storage.NewClaim(storage.ClaimAuthMethod, authMethod),
		storage.NewClaim(storage.ClaimIdP, LocalIdentityProvider),
		storage.NewClaim(storage.ClaimAuthTime, strconv.FormatInt(now.Unix(), 10)),
	}
	return &GrantValidationResult{Subject: append(subject, claims...)}
}

// NewGrantError returns a failed result. code must be a token endpoint error code.
func NewGrantError(code, description string) *GrantValidationResult {
	return &GrantValidationResult{ValidationResult: Failed(code, description)}
}

// SubjectID returns the sub claim of the result subject or "".
func (r *GrantValidationResult) SubjectID() string {
	v, _ := storage.FindClaim(r.Subject, storage.ClaimSubject)
	return v
}

// ValidatedTokenRequest is the state the token response generator needs.
type ValidatedTokenRequest struct {
	Raw       url.Values
	Client    *storage.Client
	GrantType string

	// Scopes are the granted scopes
	Scopes []*storage.Scope

	// Subject holds the user claims; nil for client-only grants
	Subject []storage.Claim

	// authorization_code
	AuthorizationCode       *storage.AuthorizationCode
	AuthorizationCodeHandle string

	// refresh_token
	RefreshToken       *storage.RefreshToken
	RefreshTokenHandle string

	UserName       string
	CustomResponse map[string]any
}

// SubjectID returns the sub claim of the request subject or "".
func (r *ValidatedTokenRequest) SubjectID() string {
	v, _ := storage.FindClaim(r.Subject, storage.ClaimSubject)
	return v
}

// ScopeNames returns the names of the granted scopes.
func (r *ValidatedTokenRequest) ScopeNames() []string {
	names := make([]string, 0, len(r.Scopes))
	for _, s := range r.Scopes {
		names = append(names, s.Name)
	}
	return names
}

// TokenRequestValidationResult is the outcome of TokenRequestValidator.Validate.
type TokenRequestValidationResult struct {
	ValidationResult

	// Request is set on success
	Request *ValidatedTokenRequest
}

func tokenRequestError(code, description string) *TokenRequestValidationResult {
	return &TokenRequestValidationResult{ValidationResult: Failed(code, description)}
}

// TokenFailureReason classifies token validation failures.
type TokenFailureReason int

const (
	TokenFailureNone TokenFailureReason = iota
	TokenFailureInvalidToken
	TokenFailureExpired
	TokenFailureInvalidSignature
	TokenFailureWrongAudience
	TokenFailureNotYetValid
	TokenFailureInvalidIssuer
	TokenFailureInsufficientScope
	TokenFailureInvalidClient
)

// String returns a metric-friendly name of the reason.
func (r TokenFailureReason) String() string {
	switch r {
	case TokenFailureNone:
		return "none"
	case TokenFailureInvalidToken:
		return "invalid_token"
	case TokenFailureExpired:
		return "expired"
	case TokenFailureInvalidSignature:
		return "invalid_signature"
	case TokenFailureWrongAudience:
		return "wrong_audience"
	case TokenFailureNotYetValid:
		return "not_yet_valid"
	case TokenFailureInvalidIssuer:
		return "invalid_issuer"
	case TokenFailureInsufficientScope:
		return "insufficient_scope"
	case TokenFailureInvalidClient:
		return "invalid_client"
	}
	return fmt.Sprintf("TokenFailureReason(%d)", int(r))
}

// TokenValidationResult is the outcome of TokenValidator.
type TokenValidationResult struct {
	ValidationResult
	Reason TokenFailureReason

	// Claims of a valid token, including iss, aud, iat, nbf and exp
	Claims []storage.Claim

	// Client the token was issued to, when valid
	Client *storage.Client

	// ReferenceHandle is set when the token was a reference handle
	ReferenceHandle string
}

func tokenFailure(reason TokenFailureReason) *TokenValidationResult {
	code := ErrorInvalidToken
	if reason == TokenFailureInsufficientScope {
		code = ErrorInsufficientScope
	}
	return &TokenValidationResult{ValidationResult: Failed(code, ""), Reason: reason}
}

// Scopes returns the scope claim values of a valid token.
func (r *TokenValidationResult) Scopes() []string {
	return storage.ClaimValues(r.Claims, storage.ClaimScope)
}

// IntrospectionFailureReason classifies introspection request failures.
type IntrospectionFailureReason int

const (
	IntrospectionFailureNone IntrospectionFailureReason = iota
	IntrospectionFailureMissingToken
	IntrospectionFailureInvalidToken
	IntrospectionFailureInvalidScope
)

// String returns a metric-friendly name of the reason.
func (r IntrospectionFailureReason) String() string {
	switch r {
	case IntrospectionFailureNone:
		return "none"
	case IntrospectionFailureMissingToken:
		return "missing_token"
	case IntrospectionFailureInvalidToken:
		return "invalid_token"
	case IntrospectionFailureInvalidScope:
		return "invalid_scope"
	}
	return fmt.Sprintf("IntrospectionFailureReason(%d)", int(r))
}

// IntrospectionRequestValidationResult is the outcome of IntrospectionRequestValidator.
// Only a missing token is an error; an unusable token is a valid request
// about an inactive token.
type IntrospectionRequestValidationResult struct {
	ValidationResult
	Reason IntrospectionFailureReason

	IsActive bool
	Claims   []storage.Claim

	Token         string
	TokenTypeHint string
}

// TokenRevocationRequestValidationResult is the outcome of TokenRevocationRequestValidator.
type TokenRevocationRequestValidationResult struct {
	ValidationResult

	Token         string
	TokenTypeHint string
	Client        *storage.Client
}
