package validation

import (
	"net/url"

	"github.com/giantswarm/oidc-grants/storage"
)

// TokenRevocationRequestValidator validates RFC 7009 requests from an
// authenticated client.
type TokenRevocationRequestValidator struct {
	limits InputLengthRestrictions
}

// NewTokenRevocationRequestValidator creates a revocation request validator.
// Zero limits use the defaults.
func NewTokenRevocationRequestValidator(limits InputLengthRestrictions) *TokenRevocationRequestValidator {
	return &TokenRevocationRequestValidator{limits: limits.WithDefaults()}
}

// Validate checks the token and token_type_hint parameters.
func (v *TokenRevocationRequestValidator) Validate(params url.Values, client *storage.Client) *TokenRevocationRequestValidationResult {
	if client == nil {
		return &TokenRevocationRequestValidationResult{ValidationResult: Failed(ErrorInvalidClient, "")}
	}

	token := params.Get(ParamToken)
	if token == "" || len(token) > v.limits.Jwt {
		return &TokenRevocationRequestValidationResult{ValidationResult: Failed(ErrorInvalidRequest, "")}
	}

	hint := params.Get(ParamTokenHint)
	switch hint {
	case "", TokenTypeHintAccessToken, TokenTypeHintRefreshToken:
	default:
		return &TokenRevocationRequestValidationResult{ValidationResult: Failed(ErrorUnsupportedTokenType, "")}
	}

	return &TokenRevocationRequestValidationResult{
		Token:         token,
		TokenTypeHint: hint,
		Client:        client,
	}
}
