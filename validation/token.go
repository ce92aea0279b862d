package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/oidc-grants/grants"
	"github.com/giantswarm/oidc-grants/instrumentation"
	"github.com/giantswarm/oidc-grants/internal/util"
	"github.com/giantswarm/oidc-grants/keys"
	"github.com/giantswarm/oidc-grants/security"
	"github.com/giantswarm/oidc-grants/storage"
)

// resourcesAudienceSuffix is appended to the issuer to form the access token audience
const resourcesAudienceSuffix = "/resources"

// TokenValidatorConfig configures a TokenValidator.
type TokenValidatorConfig struct {
	// Issuer is the expected iss of self-contained tokens (required)
	Issuer string

	// ClockSkew is tolerated on exp and nbf (default: security.DefaultClockSkew)
	ClockSkew time.Duration

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// Clock overrides time.Now in tests
	Clock security.Clock

	// Limits bounds token lengths; zero fields use the defaults
	Limits InputLengthRestrictions
}

// TokenValidator validates access and identity tokens in JWT or reference form.
type TokenValidator struct {
	keys    keys.MaterialService
	grants  *grants.Service
	clients storage.ClientStore

	issuer    string
	clockSkew time.Duration
	logger    *slog.Logger
	clock     security.Clock
	limits    InputLengthRestrictions

	instrumentation *instrumentation.Instrumentation
}

// NewTokenValidator creates a token validator.
func NewTokenValidator(material keys.MaterialService, grantSvc *grants.Service, clients storage.ClientStore, cfg TokenValidatorConfig) *TokenValidator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = security.DefaultClockSkew
	}
	return &TokenValidator{
		keys:      material,
		grants:    grantSvc,
		clients:   clients,
		issuer:    util.NormalizeURL(cfg.Issuer),
		clockSkew: cfg.ClockSkew,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		limits:    cfg.Limits.WithDefaults(),
	}
}

// SetInstrumentation enables validation failure metrics
func (v *TokenValidator) SetInstrumentation(inst *instrumentation.Instrumentation) {
	v.instrumentation = inst
}

// IsJWT reports whether token has the shape of a compact JWS.
func IsJWT(token string) bool {
	return strings.Count(token, ".") == 2
}

// ValidateAccessToken validates a JWT or reference access token. A non-empty
// expectedScope must be among the token's scope claims.
func (v *TokenValidator) ValidateAccessToken(ctx context.Context, token, expectedScope string) (*TokenValidationResult, error) {
	var (
		result *TokenValidationResult
		err    error
	)

	switch {
	case token == "" || len(token) > v.limits.Jwt:
		result = tokenFailure(TokenFailureInvalidToken)
	case IsJWT(token):
		result, err = v.validateJWT(ctx, token, v.issuer+resourcesAudienceSuffix, true)
	default:
		result, err = v.validateReference(ctx, token)
	}
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return v.failed(ctx, "access_token", result), nil
	}

	result, err = v.validateClient(ctx, result)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return v.failed(ctx, "access_token", result), nil
	}

	if expectedScope != "" && !slices.Contains(result.Scopes(), expectedScope) {
		v.logger.Debug("Access token lacks expected scope", "scope", expectedScope)
		return v.failed(ctx, "access_token", tokenFailure(TokenFailureInsufficientScope)), nil
	}
	return result, nil
}

// ValidateIdentityToken validates an identity token issued to clientID. With
// an empty clientID the audience is taken from the token and must name a
// known client. validateLifetime false accepts expired tokens, as needed for
// id_token_hint.
func (v *TokenValidator) ValidateIdentityToken(ctx context.Context, token, clientID string, validateLifetime bool) (*TokenValidationResult, error) {
	if token == "" || len(token) > v.limits.Jwt || !IsJWT(token) {
		return v.failed(ctx, "id_token", tokenFailure(TokenFailureInvalidToken)), nil
	}

	if clientID == "" {
		clientID = unverifiedAudience(token)
		if clientID == "" {
			return v.failed(ctx, "id_token", tokenFailure(TokenFailureInvalidToken)), nil
		}
	}

	result, err := v.validateJWT(ctx, token, clientID, validateLifetime)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return v.failed(ctx, "id_token", result), nil
	}

	result, err = v.validateClient(ctx, result)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return v.failed(ctx, "id_token", result), nil
	}
	return result, nil
}

// validateJWT checks signature, issuer, audience and, optionally, lifetime.
func (v *TokenValidator) validateJWT(ctx context.Context, token, audience string, validateLifetime bool) (*TokenValidationResult, error) {
	var storeErr error
	keyFunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid")
		}
		key, err := v.keys.ValidationKey(ctx, kid)
		if err != nil {
			if !errors.Is(err, keys.ErrKeyNotFound) {
				storeErr = err
			}
			return nil, err
		}
		return key.PublicKey, nil
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, keyFunc,
		jwt.WithValidMethods([]string{keys.AlgorithmRS256}),
		jwt.WithJSONNumber(),
		jwt.WithoutClaimsValidation(),
	)
	if storeErr != nil {
		return nil, fmt.Errorf("failed to load validation key: %w", storeErr)
	}
	if err != nil {
		v.logger.Debug("JWT rejected", "error", err.Error())
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return tokenFailure(TokenFailureInvalidSignature), nil
		}
		return tokenFailure(TokenFailureInvalidToken), nil
	}

	if iss, _ := claims.GetIssuer(); util.NormalizeURL(iss) != v.issuer {
		return tokenFailure(TokenFailureInvalidIssuer), nil
	}

	aud, _ := claims.GetAudience()
	if !slices.Contains(aud, audience) {
		return tokenFailure(TokenFailureWrongAudience), nil
	}

	if validateLifetime {
		now := v.clock.Now()
		exp, err := claims.GetExpirationTime()
		if err != nil || exp == nil {
			return tokenFailure(TokenFailureInvalidToken), nil
		}
		if security.IsExpired(now, exp.Time, v.clockSkew) {
			return tokenFailure(TokenFailureExpired), nil
		}
		if nbf, err := claims.GetNotBefore(); err == nil && nbf != nil && security.IsNotYetValid(now, nbf.Time, v.clockSkew) {
			return tokenFailure(TokenFailureNotYetValid), nil
		}
	}

	return &TokenValidationResult{Claims: storage.ClaimsFromMap(claims)}, nil
}

// validateReference loads a reference access token.
func (v *TokenValidator) validateReference(ctx context.Context, handle string) (*TokenValidationResult, error) {
	if len(handle) > v.limits.TokenHandle {
		return tokenFailure(TokenFailureInvalidToken), nil
	}

	token, err := v.grants.GetReferenceToken(ctx, handle)
	if err != nil {
		return nil, err
	}
	if token == nil {
		v.logger.Debug("Reference token not found or expired",
			"handle_prefix", util.SafeTruncate(handle, handleLogLength))
		return tokenFailure(TokenFailureInvalidToken), nil
	}

	return &TokenValidationResult{
		Claims:          referenceClaims(token),
		ReferenceHandle: handle,
	}, nil
}

// referenceClaims rebuilds the claim set a JWT of token would carry.
func referenceClaims(token *storage.Token) []storage.Claim {
	claims := []storage.Claim{
		storage.NewClaim(storage.ClaimIssuer, token.Issuer),
		storage.NewClaim(storage.ClaimAudience, token.Audience),
		storage.NewClaim(storage.ClaimIssuedAt, strconv.FormatInt(token.CreationTime.Unix(), 10)),
		storage.NewClaim(storage.ClaimNotBefore, strconv.FormatInt(token.CreationTime.Unix(), 10)),
		storage.NewClaim(storage.ClaimExpiration, strconv.FormatInt(token.Expiration().Unix(), 10)),
		storage.NewClaim(storage.ClaimClientID, token.ClientID),
	}
	return append(claims, storage.WithoutClaims(token.Claims,
		storage.ClaimIssuer,
		storage.ClaimAudience,
		storage.ClaimIssuedAt,
		storage.ClaimNotBefore,
		storage.ClaimExpiration,
		storage.ClaimClientID,
	)...)
}

// validateClient requires the client named by the token to exist and be enabled.
// Identity tokens carry the client in aud rather than client_id.
func (v *TokenValidator) validateClient(ctx context.Context, result *TokenValidationResult) (*TokenValidationResult, error) {
	clientID, ok := storage.FindClaim(result.Claims, storage.ClaimClientID)
	if !ok {
		clientID, _ = storage.FindClaim(result.Claims, storage.ClaimAudience)
	}

	client, err := v.clients.FindClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			v.logger.Debug("Token client not found", "client_id", clientID)
			return tokenFailure(TokenFailureInvalidClient), nil
		}
		return nil, fmt.Errorf("failed to find client: %w", err)
	}
	if !client.Enabled {
		v.logger.Debug("Token client disabled", "client_id", clientID)
		return tokenFailure(TokenFailureInvalidClient), nil
	}

	result.Client = client
	return result, nil
}

func (v *TokenValidator) failed(ctx context.Context, kind string, result *TokenValidationResult) *TokenValidationResult {
	if v.instrumentation != nil {
		v.instrumentation.Metrics().RecordTokenValidation(ctx, kind, result.Reason.String())
	}
	return result
}

// unverifiedAudience returns the first aud of token without checking the signature.
func unverifiedAudience(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	aud, err := claims.GetAudience()
	if err != nil || len(aud) == 0 {
		return ""
	}
	return aud[0]
}
