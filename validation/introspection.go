package validation

import (
	"context"
	"log/slog"
	"net/url"
	"slices"

	"github.com/giantswarm/oidc-grants/storage"
)

// IntrospectionRequestValidator validates RFC 7662 requests from an
// authenticated scope.
type IntrospectionRequestValidator struct {
	tokens *TokenValidator
	logger *slog.Logger

	// requireScopeMatch reports tokens that do not carry the calling scope as inactive
	requireScopeMatch bool
}

// NewIntrospectionRequestValidator creates an introspection request validator.
func NewIntrospectionRequestValidator(tokens *TokenValidator, requireScopeMatch bool, logger *slog.Logger) *IntrospectionRequestValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntrospectionRequestValidator{tokens: tokens, logger: logger, requireScopeMatch: requireScopeMatch}
}

// Validate validates the token parameter on behalf of scope.
func (v *IntrospectionRequestValidator) Validate(ctx context.Context, params url.Values, scope *storage.Scope) (*IntrospectionRequestValidationResult, error) {
	token := params.Get(ParamToken)
	if token == "" {
		v.logger.Debug("Introspection request without token", "scope", scope.Name)
		return &IntrospectionRequestValidationResult{
			ValidationResult: Failed(ErrorInvalidRequest, "missing token"),
			Reason:           IntrospectionFailureMissingToken,
		}, nil
	}

	result := &IntrospectionRequestValidationResult{
		Token:         token,
		TokenTypeHint: params.Get(ParamTokenHint),
	}

	validated, err := v.tokens.ValidateAccessToken(ctx, token, "")
	if err != nil {
		return nil, err
	}
	if validated.IsError {
		v.logger.Debug("Introspected token is not active",
			"scope", scope.Name,
			"reason", validated.Reason.String())
		result.Reason = IntrospectionFailureInvalidToken
		return result, nil
	}

	if v.requireScopeMatch && !scope.AllowUnrestrictedIntrospection && !slices.Contains(validated.Scopes(), scope.Name) {
		v.logger.Debug("Introspected token does not carry the calling scope", "scope", scope.Name)
		result.Reason = IntrospectionFailureInvalidScope
		return result, nil
	}

	result.IsActive = true
	result.Claims = validated.Claims
	return result, nil
}
