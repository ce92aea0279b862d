// Package providers defines the profile collaborator consulted while issuing
// tokens and ships an in-memory user directory implementing it.
package providers

import (
	"context"
	"errors"

	"github.com/giantswarm/oidc-grants/storage"
)

// ErrInvalidCredentials is returned when a username and password do not match an active user
var ErrInvalidCredentials = errors.New("invalid username or password")

// Caller identifies why profile data is being requested.
type Caller string

const (
	// CallerAccessToken requests claims for an access token
	CallerAccessToken Caller = "access_token"
	// CallerIdentityToken requests claims for an identity token
	CallerIdentityToken Caller = "id_token"
)

// ProfileDataRequest describes the claims wanted for a subject.
type ProfileDataRequest struct {
	// SubjectID is the user the claims are about
	SubjectID string

	// Subject holds the claims captured at authentication time (sub, auth_time, idp, amr)
	Subject []storage.Claim

	// Client is the client the token is issued to
	Client *storage.Client

	// ClaimTypes lists the requested claim types. Ignored when AllClaims is set.
	ClaimTypes []string

	// AllClaims requests every claim the provider knows for the subject
	AllClaims bool

	Caller Caller
}

// ProfileService provides user claims and the active state of a subject.
// Implementations must be safe for concurrent use.
type ProfileService interface {
	// IsActive reports whether the subject may currently be issued tokens
	IsActive(ctx context.Context, subjectID string, client *storage.Client) (bool, error)

	// GetProfileData returns the subject's claims for the requested types
	GetProfileData(ctx context.Context, req ProfileDataRequest) ([]storage.Claim, error)
}

// CredentialVerifier authenticates a resource owner by username and password.
type CredentialVerifier interface {
	// VerifyCredentials returns the subject id or ErrInvalidCredentials
	VerifyCredentials(ctx context.Context, username, password string) (string, error)
}
