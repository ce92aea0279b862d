package token

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/giantswarm/oidc-grants/grants"
	"github.com/giantswarm/oidc-grants/instrumentation"
	"github.com/giantswarm/oidc-grants/security"
	"github.com/giantswarm/oidc-grants/storage"
)

// ResourcesAudienceSuffix is appended to the issuer to form the access token audience
const ResourcesAudienceSuffix = "/resources"

// modelVersion is stamped on every token model
const modelVersion = 1

// IdentityTokenOptions tunes identity token creation.
type IdentityTokenOptions struct {
	// IncludeAllIdentityClaims adds the profile claims of the granted identity scopes
	IncludeAllIdentityClaims bool

	// AccessToken, when set, is bound through the at_hash claim
	AccessToken string
}

// Config configures a Service.
type Config struct {
	// Issuer is the iss of every token (required)
	Issuer string

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// Clock overrides time.Now in tests
	Clock security.Clock
}

// Service creates access and identity token models and turns them into their
// wire form, either a signed JWT or a reference handle.
type Service struct {
	claims   ClaimsService
	creation CreationService
	grants   *grants.Service
	issuer   string
	logger   *slog.Logger
	clock    security.Clock

	instrumentation *instrumentation.Instrumentation
}

// NewService creates a token service.
func NewService(claims ClaimsService, creation CreationService, grantSvc *grants.Service, cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		claims:   claims,
		creation: creation,
		grants:   grantSvc,
		issuer:   cfg.Issuer,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
	}
}

// SetInstrumentation enables token issuance metrics
func (s *Service) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
}

// Issuer returns the configured issuer.
func (s *Service) Issuer() string {
	return s.issuer
}

// CreateAccessToken builds the access token model for req.
func (s *Service) CreateAccessToken(ctx context.Context, req *Request) (*storage.Token, error) {
	claims, err := s.claims.GetAccessTokenClaims(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.Client.IncludeJwtID {
		claims = append(claims, storage.NewClaim(storage.ClaimJwtID, uuid.NewString()))
	}

	return &storage.Token{
		Type:            storage.TokenTypeAccessToken,
		Audience:        s.issuer + ResourcesAudienceSuffix,
		Issuer:          s.issuer,
		CreationTime:    s.clock.Now(),
		Lifetime:        req.Client.AccessTokenLifetime,
		ClientID:        req.Client.ClientID,
		AccessTokenType: req.Client.AccessTokenType,
		Claims:          claims,
		Version:         modelVersion,
	}, nil
}

// CreateIdentityToken builds the identity token model for req. The audience
// is the client id.
func (s *Service) CreateIdentityToken(ctx context.Context, req *Request, opts IdentityTokenOptions) (*storage.Token, error) {
	if req.Subject == nil {
		return nil, fmt.Errorf("identity token requires a subject")
	}

	claims, err := s.claims.GetIdentityTokenClaims(ctx, req, opts.IncludeAllIdentityClaims)
	if err != nil {
		return nil, err
	}

	if req.Nonce != "" {
		claims = append(claims, storage.NewClaim(storage.ClaimNonce, req.Nonce))
	}
	if req.SessionID != "" {
		claims = append(claims, storage.NewClaim(storage.ClaimSessionID, req.SessionID))
	}
	if opts.AccessToken != "" {
		claims = append(claims, storage.NewClaim(storage.ClaimAccessHash, HalfHash(opts.AccessToken)))
	}

	return &storage.Token{
		Type:            storage.TokenTypeIdentityToken,
		Audience:        req.Client.ClientID,
		Issuer:          s.issuer,
		CreationTime:    s.clock.Now(),
		Lifetime:        req.Client.IdentityTokenLifetime,
		ClientID:        req.Client.ClientID,
		AccessTokenType: storage.AccessTokenTypeJWT,
		Claims:          claims,
		Version:         modelVersion,
	}, nil
}

// CreateSecurityToken returns the wire form of token. Reference access tokens
// are persisted under a new handle, which is returned; everything else is
// signed as a JWT.
func (s *Service) CreateSecurityToken(ctx context.Context, token *storage.Token) (string, error) {
	format := "jwt"
	var (
		value string
		err   error
	)

	switch {
	case token.Type == storage.TokenTypeAccessToken && token.AccessTokenType == storage.AccessTokenTypeReference:
		format = "reference"
		value, err = s.grants.StoreReferenceToken(ctx, token)
		if err != nil {
			return "", fmt.Errorf("failed to store reference token: %w", err)
		}
	default:
		value, err = s.creation.CreateToken(ctx, token)
		if err != nil {
			return "", err
		}
	}

	s.logger.Debug("Created security token",
		"token_type", token.Type,
		"format", format,
		"client_id", token.ClientID)

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordTokenIssued(ctx, token.ClientID, token.Type, format)
	}
	return value, nil
}
