// Package token assembles claim sets and creates access, identity and
// refresh tokens.
package token

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"

	"github.com/giantswarm/oidc-grants/providers"
	"github.com/giantswarm/oidc-grants/storage"
)

// Request carries what the token endpoint validated and the token services need.
type Request struct {
	GrantType string

	// Subject holds the user claims; nil for client-only grants
	Subject []storage.Claim

	Client *storage.Client

	// Scopes are the granted scopes
	Scopes []*storage.Scope

	Nonce     string
	SessionID string

	// Raw holds the token request parameters
	Raw url.Values
}

// SubjectID returns the sub claim of the request subject or "".
func (r *Request) SubjectID() string {
	v, _ := storage.FindClaim(r.Subject, storage.ClaimSubject)
	return v
}

// ScopeNames returns the names of the granted scopes.
func (r *Request) ScopeNames() []string {
	names := make([]string, 0, len(r.Scopes))
	for _, s := range r.Scopes {
		names = append(names, s.Name)
	}
	return names
}

// protocolClaimTypes are never taken from profile data
var protocolClaimTypes = map[string]struct{}{
	storage.ClaimSubject:    {},
	storage.ClaimClientID:   {},
	storage.ClaimScope:      {},
	storage.ClaimIssuer:     {},
	storage.ClaimAudience:   {},
	storage.ClaimExpiration: {},
	storage.ClaimNotBefore:  {},
	storage.ClaimIssuedAt:   {},
	storage.ClaimJwtID:      {},
	storage.ClaimAuthTime:   {},
	storage.ClaimIdP:        {},
	storage.ClaimAuthMethod: {},
	storage.ClaimNonce:      {},
	storage.ClaimSessionID:  {},
	storage.ClaimAccessHash: {},
	storage.ClaimCodeHash:   {},
	storage.ClaimActive:     {},
}

// IsProtocolClaim reports whether claimType is reserved for the token engine.
func IsProtocolClaim(claimType string) bool {
	_, ok := protocolClaimTypes[claimType]
	return ok
}

// subjectClaimTypes are copied from the authenticated subject into every user token
var subjectClaimTypes = []string{
	storage.ClaimSubject,
	storage.ClaimAuthTime,
	storage.ClaimIdP,
	storage.ClaimAuthMethod,
}

// ClaimsService builds the claim sets of access and identity tokens.
type ClaimsService interface {
	GetAccessTokenClaims(ctx context.Context, req *Request) ([]storage.Claim, error)
	GetIdentityTokenClaims(ctx context.Context, req *Request, includeAllIdentityClaims bool) ([]storage.Claim, error)
}

// DefaultClaimsService resolves user claims through a providers.ProfileService.
type DefaultClaimsService struct {
	profile providers.ProfileService
	logger  *slog.Logger
}

var _ ClaimsService = (*DefaultClaimsService)(nil)

// NewClaimsService creates a claims service. A nil logger uses slog.Default().
func NewClaimsService(profile providers.ProfileService, logger *slog.Logger) *DefaultClaimsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultClaimsService{profile: profile, logger: logger}
}

// GetAccessTokenClaims returns client_id, client claims, one scope claim per
// granted scope and, for user tokens, the subject claims plus the profile
// claims declared by the granted resource scopes.
func (s *DefaultClaimsService) GetAccessTokenClaims(ctx context.Context, req *Request) ([]storage.Claim, error) {
	client := req.Client
	claims := []storage.Claim{storage.NewClaim(storage.ClaimClientID, client.ClientID)}

	for _, c := range client.Claims {
		if client.PrefixClientClaims {
			c.Type = storage.ClaimClientPrefix + c.Type
		}
		claims = append(claims, c)
	}

	for _, scope := range req.Scopes {
		claims = append(claims, storage.NewClaim(storage.ClaimScope, scope.Name))
	}

	if req.Subject == nil {
		return claims, nil
	}

	claims = append(claims, subjectClaims(req.Subject)...)

	var resourceScopes []*storage.Scope
	for _, scope := range req.Scopes {
		if scope.Type == storage.ScopeTypeResource {
			resourceScopes = append(resourceScopes, scope)
		}
	}

	profileClaims, err := s.profileClaims(ctx, req, resourceScopes, providers.CallerAccessToken, false)
	if err != nil {
		return nil, err
	}
	return append(claims, profileClaims...), nil
}

// GetIdentityTokenClaims returns the subject claims and, when
// includeAllIdentityClaims is set, the profile claims declared by the granted
// identity scopes.
func (s *DefaultClaimsService) GetIdentityTokenClaims(ctx context.Context, req *Request, includeAllIdentityClaims bool) ([]storage.Claim, error) {
	claims := subjectClaims(req.Subject)

	if !includeAllIdentityClaims {
		return claims, nil
	}

	var identityScopes []*storage.Scope
	for _, scope := range req.Scopes {
		if scope.Type == storage.ScopeTypeIdentity {
			identityScopes = append(identityScopes, scope)
		}
	}

	profileClaims, err := s.profileClaims(ctx, req, identityScopes, providers.CallerIdentityToken, true)
	if err != nil {
		return nil, err
	}
	return append(claims, profileClaims...), nil
}

// profileClaims asks the profile service for the claim types declared by scopes.
func (s *DefaultClaimsService) profileClaims(ctx context.Context, req *Request, scopes []*storage.Scope, caller providers.Caller, identity bool) ([]storage.Claim, error) {
	var claimTypes []string
	allClaims := false
	for _, scope := range scopes {
		if scope.IncludeAllClaimsForUser {
			allClaims = true
		}
		for _, t := range scope.Claims {
			if !slices.Contains(claimTypes, t) {
				claimTypes = append(claimTypes, t)
			}
		}
	}

	if !allClaims && len(claimTypes) == 0 {
		return nil, nil
	}

	profileReq := providers.ProfileDataRequest{
		SubjectID:  req.SubjectID(),
		Subject:    req.Subject,
		Client:     req.Client,
		ClaimTypes: claimTypes,
		AllClaims:  allClaims,
		Caller:     caller,
	}
	data, err := s.profile.GetProfileData(ctx, profileReq)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile data: %w", err)
	}

	out := make([]storage.Claim, 0, len(data))
	for _, c := range data {
		if IsProtocolClaim(c.Type) {
			s.logger.Debug("Dropping protocol claim from profile data",
				"claim_type", c.Type,
				"identity_token", identity)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func subjectClaims(subject []storage.Claim) []storage.Claim {
	var out []storage.Claim
	for _, c := range subject {
		if slices.Contains(subjectClaimTypes, c.Type) {
			out = append(out, c)
		}
	}
	return out
}
