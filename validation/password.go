package validation

import (
	"context"
	"errors"
	"net/url"

	"github.com/giantswarm/oidc-grants/providers"
	"github.com/giantswarm/oidc-grants/security"
	"github.com/giantswarm/oidc-grants/storage"
)

// AuthMethodPassword is the amr value of password authenticated subjects
const AuthMethodPassword = "pwd"

// PasswordRequest carries the resource owner credentials of a password grant.
type PasswordRequest struct {
	UserName string
	Password string
	Client   *storage.Client
	Raw      url.Values
}

// ResourceOwnerPasswordValidator authenticates resource owner credentials.
type ResourceOwnerPasswordValidator interface {
	// ValidatePassword returns the grant outcome. Errors are reserved for
	// infrastructure failures.
	ValidatePassword(ctx context.Context, req *PasswordRequest) (*GrantValidationResult, error)
}

// CredentialPasswordValidator adapts a providers.CredentialVerifier.
type CredentialPasswordValidator struct {
	verifier providers.CredentialVerifier
	clock    security.Clock
}

var _ ResourceOwnerPasswordValidator = (*CredentialPasswordValidator)(nil)

// NewCredentialPasswordValidator creates a password validator over verifier.
func NewCredentialPasswordValidator(verifier providers.CredentialVerifier, clock security.Clock) *CredentialPasswordValidator {
	return &CredentialPasswordValidator{verifier: verifier, clock: clock}
}

// ValidatePassword verifies the credentials and returns the subject.
func (v *CredentialPasswordValidator) ValidatePassword(ctx context.Context, req *PasswordRequest) (*GrantValidationResult, error) {
	subjectID, err := v.verifier.VerifyCredentials(ctx, req.UserName, req.Password)
	if err != nil {
		if errors.Is(err, providers.ErrInvalidCredentials) {
			return NewGrantError(ErrorInvalidGrant, ""), nil
		}
		return nil, err
	}
	return NewGrantResult(subjectID, AuthMethodPassword, v.clock.Now()), nil
}
