package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/oidc-grants/grants"
	"github.com/giantswarm/oidc-grants/instrumentation"
	"github.com/giantswarm/oidc-grants/internal/util"
	"github.com/giantswarm/oidc-grants/security"
	"github.com/giantswarm/oidc-grants/storage"
	"github.com/giantswarm/oidc-grants/token"
	"github.com/giantswarm/oidc-grants/validation"
)

// TokenTypeBearer is the token_type of every token response
const TokenTypeBearer = "Bearer"

// TokenResponse is the token endpoint response. Custom holds extension grant
// fields; they never replace the standard members.
type TokenResponse struct {
	AccessToken   string
	TokenType     string
	ExpiresIn     int
	RefreshToken  string
	IdentityToken string
	Scope         string
	Custom        map[string]any
}

// MarshalJSON renders the RFC 6749 section 5.1 JSON object.
func (r *TokenResponse) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Custom)+6)
	for k, v := range r.Custom {
		out[k] = v
	}
	out["access_token"] = r.AccessToken
	out["token_type"] = r.TokenType
	out["expires_in"] = r.ExpiresIn
	if r.RefreshToken != "" {
		out["refresh_token"] = r.RefreshToken
	}
	if r.IdentityToken != "" {
		out["id_token"] = r.IdentityToken
	}
	if r.Scope != "" {
		out["scope"] = r.Scope
	}
	return json.Marshal(out)
}

// TokenResponseGenerator mints the tokens of a validated token request.
type TokenResponseGenerator struct {
	tokens        *token.Service
	refreshTokens *token.RefreshTokenService
	logger        *slog.Logger
	clock         security.Clock
	auditor       *security.Auditor
}

// NewTokenResponseGenerator creates a token response generator.
func NewTokenResponseGenerator(tokens *token.Service, refreshTokens *token.RefreshTokenService, logger *slog.Logger, clock security.Clock) *TokenResponseGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenResponseGenerator{
		tokens:        tokens,
		refreshTokens: refreshTokens,
		logger:        logger,
		clock:         clock,
	}
}

// SetAuditor sets the security auditor
func (g *TokenResponseGenerator) SetAuditor(a *security.Auditor) {
	g.auditor = a
}

// Process mints the response for req. A refresh token that was consumed by a
// concurrent request yields an invalid_grant ProtocolError.
func (g *TokenResponseGenerator) Process(ctx context.Context, req *validation.ValidatedTokenRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case validation.GrantTypeAuthorizationCode:
		return g.processAuthorizationCode(ctx, req)
	case validation.GrantTypeRefreshToken:
		return g.processRefreshToken(ctx, req)
	default:
		return g.processTokenRequest(ctx, req)
	}
}

func tokenRequest(req *validation.ValidatedTokenRequest) *token.Request {
	return &token.Request{
		GrantType: req.GrantType,
		Subject:   req.Subject,
		Client:    req.Client,
		Scopes:    req.Scopes,
		Raw:       req.Raw,
	}
}

func hasScope(scopes []*storage.Scope, name string) bool {
	return slices.ContainsFunc(scopes, func(s *storage.Scope) bool { return s.Name == name })
}

// processTokenRequest handles client_credentials, password and extension grants.
func (g *TokenResponseGenerator) processTokenRequest(ctx context.Context, req *validation.ValidatedTokenRequest) (*TokenResponse, error) {
	resp, at, err := g.accessTokenResponse(ctx, tokenRequest(req), req)
	if err != nil {
		return nil, err
	}

	if req.Subject != nil && hasScope(req.Scopes, storage.ScopeOfflineAccess) {
		resp.RefreshToken, err = g.refreshTokens.CreateRefreshToken(ctx, at, req.Client)
		if err != nil {
			return nil, fmt.Errorf("failed to create refresh token: %w", err)
		}
	}

	resp.Custom = req.CustomResponse
	return resp, nil
}

func (g *TokenResponseGenerator) processAuthorizationCode(ctx context.Context, req *validation.ValidatedTokenRequest) (*TokenResponse, error) {
	code := req.AuthorizationCode
	treq := tokenRequest(req)
	treq.Nonce = code.Nonce
	treq.SessionID = code.SessionID

	resp, at, err := g.accessTokenResponse(ctx, treq, req)
	if err != nil {
		return nil, err
	}

	if hasScope(req.Scopes, storage.ScopeOfflineAccess) {
		resp.RefreshToken, err = g.refreshTokens.CreateRefreshToken(ctx, at, req.Client)
		if err != nil {
			return nil, fmt.Errorf("failed to create refresh token: %w", err)
		}
	}

	if code.IsOpenID {
		idToken, err := g.tokens.CreateIdentityToken(ctx, treq, token.IdentityTokenOptions{
			IncludeAllIdentityClaims: req.Client.AlwaysIncludeUserClaimsInIdToken,
			AccessToken:              resp.AccessToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create identity token: %w", err)
		}
		resp.IdentityToken, err = g.tokens.CreateSecurityToken(ctx, idToken)
		if err != nil {
			return nil, fmt.Errorf("failed to sign identity token: %w", err)
		}
	}

	return resp, nil
}

// processRefreshToken mints a new access token from the stored snapshot, or
// from freshly issued claims when the client asks for it, then applies the
// client's refresh token policies. The refresh token is updated before the
// access token is persisted, so a lost one-time race leaves nothing behind.
func (g *TokenResponseGenerator) processRefreshToken(ctx context.Context, req *validation.ValidatedTokenRequest) (*TokenResponse, error) {
	client := req.Client
	rt := req.RefreshToken

	var at *storage.Token
	if client.UpdateAccessTokenClaimsOnRefresh {
		var err error
		at, err = g.tokens.CreateAccessToken(ctx, tokenRequest(req))
		if err != nil {
			return nil, fmt.Errorf("failed to create access token: %w", err)
		}
		rt.AccessToken = at
	} else {
		at = renewSnapshot(rt.AccessToken, client, g.clock.Now())
	}

	handle, err := g.refreshTokens.UpdateRefreshToken(ctx, req.RefreshTokenHandle, rt, client)
	if err != nil {
		if errors.Is(err, grants.ErrGrantConsumed) {
			g.logger.Debug("Refresh token consumed by a concurrent request",
				"client_id", client.ClientID,
				"handle_prefix", util.SafeTruncate(req.RefreshTokenHandle, 8))
			g.auditor.LogGrantFailure(rt.SubjectID(), client.ClientID, req.GrantType, "refresh_token_consumed")
			return nil, protocolError(validation.ErrorInvalidGrant, "")
		}
		return nil, fmt.Errorf("failed to update refresh token: %w", err)
	}

	raw, err := g.tokens.CreateSecurityToken(ctx, at)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	g.auditor.LogTokenRefreshed(rt.SubjectID(), client.ClientID, handle != req.RefreshTokenHandle)

	return &TokenResponse{
		AccessToken:  raw,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    at.Lifetime,
		RefreshToken: handle,
		Scope:        util.JoinScopes(at.Scopes()),
	}, nil
}

// renewSnapshot copies the access token stored with a refresh token and
// restarts its lifetime under the client's current settings.
func renewSnapshot(snapshot *storage.Token, client *storage.Client, now time.Time) *storage.Token {
	at := *snapshot
	at.CreationTime = now
	at.Lifetime = client.AccessTokenLifetime
	at.AccessTokenType = client.AccessTokenType
	at.Claims = storage.WithoutClaims(snapshot.Claims, storage.ClaimJwtID)
	if client.IncludeJwtID {
		at.Claims = append(at.Claims, storage.NewClaim(storage.ClaimJwtID, uuid.NewString()))
	}
	return &at
}

// accessTokenResponse creates and issues the access token of treq.
func (g *TokenResponseGenerator) accessTokenResponse(ctx context.Context, treq *token.Request, req *validation.ValidatedTokenRequest) (*TokenResponse, *storage.Token, error) {
	at, err := g.tokens.CreateAccessToken(ctx, treq)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create access token: %w", err)
	}
	raw, err := g.tokens.CreateSecurityToken(ctx, at)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	return &TokenResponse{
		AccessToken: raw,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   at.Lifetime,
		Scope:       util.JoinScopes(req.ScopeNames()),
	}, at, nil
}

// ============================================================
// Token endpoint
// ============================================================

// ProcessTokenRequest validates a token request from an authenticated client
// and mints the response. Protocol failures are returned as *ProtocolError;
// any other error is an infrastructure failure.
func (s *Server) ProcessTokenRequest(ctx context.Context, params url.Values, client *storage.Client) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "token_request")
	defer span.End()

	start := time.Now()
	grantType := params.Get(validation.ParamGrantType)
	outcome := "success"
	defer func() {
		if s.instrumentation != nil {
			durationMs := float64(time.Since(start).Microseconds()) / 1000
			s.instrumentation.Metrics().RecordTokenRequest(ctx, util.SafeTruncate(grantType, 64), outcome, durationMs)
		}
	}()

	clientID := ""
	if client != nil {
		clientID = client.ClientID
	}

	result, err := s.tokenRequests.ValidateWithError(ctx, params, client)
	if err != nil {
		outcome = validation.ErrorServerError
		s.Logger.Error("Token request validation failed", "client_id", clientID, "error", err)
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("token request validation failed: %w", err)
	}
	if result.IsError {
		outcome = result.Error
		instrumentation.SetSpanError(span, result.Error)
		return nil, protocolError(result.Error, result.ErrorDescription)
	}

	req := result.Request
	instrumentation.AddGrantAttributes(span, req.GrantType, clientID, req.SubjectID())

	resp, err := s.tokenResponses.Process(ctx, req)
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			outcome = pe.Code
			instrumentation.SetSpanError(span, pe.Code)
			return nil, pe
		}
		outcome = validation.ErrorServerError
		s.Logger.Error("Token response generation failed", "client_id", clientID, "grant_type", req.GrantType, "error", err)
		instrumentation.RecordError(span, err)
		return nil, err
	}

	s.Auditor.LogTokenIssued(req.SubjectID(), clientID, req.GrantType, req.ScopeNames())
	s.Logger.Info("Token issued",
		"client_id", clientID,
		"grant_type", req.GrantType,
		"refresh_token", resp.RefreshToken != "",
		"id_token", resp.IdentityToken != "")
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}
