package validation

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oidc-grants/grants"
	"github.com/giantswarm/oidc-grants/instrumentation"
	"github.com/giantswarm/oidc-grants/internal/util"
	"github.com/giantswarm/oidc-grants/providers"
	"github.com/giantswarm/oidc-grants/security"
	"github.com/giantswarm/oidc-grants/storage"
)

// handleLogLength is the number of handle characters included in logs
const handleLogLength = 8

// TokenRequestValidatorConfig configures a TokenRequestValidator.
type TokenRequestValidatorConfig struct {
	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// Clock overrides time.Now in tests
	Clock security.Clock

	// Limits bounds inbound parameters; zero fields use the defaults
	Limits InputLengthRestrictions

	// PasswordValidator enables the password grant when set
	PasswordValidator ResourceOwnerPasswordValidator

	// Extensions holds the extension grant validators
	Extensions *ExtensionGrantRegistry
}

// TokenRequestValidator validates token endpoint requests for an
// authenticated client.
type TokenRequestValidator struct {
	grants  *grants.Service
	scopes  storage.ScopeStore
	profile providers.ProfileService

	logger     *slog.Logger
	clock      security.Clock
	limits     InputLengthRestrictions
	password   ResourceOwnerPasswordValidator
	extensions *ExtensionGrantRegistry

	auditor         *security.Auditor
	instrumentation *instrumentation.Instrumentation
}

// NewTokenRequestValidator creates a token request validator.
func NewTokenRequestValidator(grantSvc *grants.Service, scopes storage.ScopeStore, profile providers.ProfileService, cfg TokenRequestValidatorConfig) *TokenRequestValidator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TokenRequestValidator{
		grants:     grantSvc,
		scopes:     scopes,
		profile:    profile,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
		limits:     cfg.Limits.WithDefaults(),
		password:   cfg.PasswordValidator,
		extensions: cfg.Extensions,
	}
}

// SetAuditor enables security audit events
func (v *TokenRequestValidator) SetAuditor(a *security.Auditor) {
	v.auditor = a
}

// SetInstrumentation enables security metrics
func (v *TokenRequestValidator) SetInstrumentation(inst *instrumentation.Instrumentation) {
	v.instrumentation = inst
}

// SetPasswordValidator enables the password grant. Call before serving requests.
func (v *TokenRequestValidator) SetPasswordValidator(p ResourceOwnerPasswordValidator) {
	v.password = p
}

// SetExtensions replaces the extension grant registry. Call before serving requests.
func (v *TokenRequestValidator) SetExtensions(r *ExtensionGrantRegistry) {
	v.extensions = r
}

// Validate validates a token request. Infrastructure failures become a
// server_error result; use ValidateWithError to receive them as errors.
func (v *TokenRequestValidator) Validate(ctx context.Context, params url.Values, client *storage.Client) *TokenRequestValidationResult {
	result, err := v.ValidateWithError(ctx, params, client)
	if err != nil {
		v.logger.Error("Token request validation failed", "error", err)
		return tokenRequestError(ErrorServerError, "")
	}
	return result
}

// ValidateWithError validates a token request. Protocol failures are results;
// the error is reserved for infrastructure failures.
func (v *TokenRequestValidator) ValidateWithError(ctx context.Context, params url.Values, client *storage.Client) (*TokenRequestValidationResult, error) {
	if client == nil || !client.Enabled {
		return tokenRequestError(ErrorInvalidClient, ""), nil
	}

	grantType := params.Get(ParamGrantType)
	if grantType == "" || len(grantType) > v.limits.GrantType {
		v.logger.Debug("Grant type missing or too long", "client_id", client.ClientID)
		return tokenRequestError(ErrorUnsupportedGrantType, ""), nil
	}

	req := &ValidatedTokenRequest{
		Raw:       params,
		Client:    client,
		GrantType: grantType,
	}

	switch grantType {
	case GrantTypeAuthorizationCode:
		return v.validateAuthorizationCode(ctx, req)
	case GrantTypeClientCredentials:
		return v.validateClientCredentials(ctx, req)
	case GrantTypePassword:
		return v.validatePassword(ctx, req)
	case GrantTypeRefreshToken:
		return v.validateRefreshToken(ctx, req)
	default:
		return v.validateExtensionGrant(ctx, req)
	}
}

// ============================================================
// authorization_code
// ============================================================

func (v *TokenRequestValidator) validateAuthorizationCode(ctx context.Context, req *ValidatedTokenRequest) (*TokenRequestValidationResult, error) {
	client := req.Client
	if !client.AllowsGrantType(GrantTypeAuthorizationCode) {
		return v.fail(req, ErrorUnauthorizedClient, "grant type not allowed for client")
	}

	handle := req.Raw.Get(ParamCode)
	if handle == "" || len(handle) > v.limits.AuthorizationCode {
		return v.fail(req, ErrorInvalidGrant, "authorization code missing or too long")
	}

	redirectURI := req.Raw.Get(ParamRedirectURI)
	if redirectURI == "" || len(redirectURI) > v.limits.RedirectURI {
		return v.fail(req, ErrorInvalidRequest, "redirect_uri missing or too long")
	}

	// SECURITY: Take is the only read of the code, so a second redemption,
	// concurrent or not, finds nothing.
	code, err := v.grants.TakeAuthorizationCode(ctx, handle)
	if err != nil {
		return nil, err
	}
	if code == nil {
		v.logger.Debug("Authorization code not found",
			"client_id", client.ClientID,
			"code_prefix", util.SafeTruncate(handle, handleLogLength))
		v.auditor.LogCodeReplay(client.ClientID)
		if v.instrumentation != nil {
			v.instrumentation.Metrics().RecordCodeReplayDetected(ctx)
		}
		return tokenRequestError(ErrorInvalidGrant, ""), nil
	}

	subjectID := code.SubjectID()
	if code.ClientID != client.ClientID {
		v.logger.Debug("Authorization code issued to another client",
			"client_id", client.ClientID,
			"bound_client_id", code.ClientID)
		v.auditor.LogClientMismatch(subjectID, client.ClientID, code.ClientID, GrantTypeAuthorizationCode)
		if v.instrumentation != nil {
			v.instrumentation.Metrics().RecordCrossClientAttempt(ctx, GrantTypeAuthorizationCode)
		}
		return tokenRequestError(ErrorInvalidGrant, ""), nil
	}

	if code.RedirectURI != redirectURI {
		return v.fail(req, ErrorInvalidGrant, "redirect_uri does not match")
	}

	if code.CodeChallenge != "" {
		if err := v.verifyPKCE(client, code, req.Raw.Get(ParamCodeVerifier)); err != nil {
			v.logger.Debug("PKCE validation failed", "client_id", client.ClientID, "reason", err.Error())
			v.auditor.LogInvalidPKCE(subjectID, client.ClientID, code.CodeChallengeMethod)
			if v.instrumentation != nil {
				v.instrumentation.Metrics().RecordPKCEValidationFailed(ctx, code.CodeChallengeMethod)
			}
			return tokenRequestError(ErrorInvalidGrant, ""), nil
		}
	} else if client.RequirePKCE {
		return v.fail(req, ErrorInvalidGrant, "client requires PKCE but code has no challenge")
	}

	scopes, ok, err := v.resolveScopes(ctx, client, code.RequestedScopes)
	if err != nil {
		return nil, err
	}
	if !ok {
		return v.fail(req, ErrorInvalidScope, "code scopes no longer allowed")
	}

	if res, err := v.checkActive(ctx, req, subjectID); res != nil || err != nil {
		return res, err
	}

	req.Subject = code.Subject
	req.Scopes = scopes
	req.AuthorizationCode = code
	req.AuthorizationCodeHandle = handle
	return success(req), nil
}

// verifyPKCE checks verifier against the challenge recorded in code.
func (v *TokenRequestValidator) verifyPKCE(client *storage.Client, code *storage.AuthorizationCode, verifier string) error {
	if verifier == "" {
		return fmt.Errorf("code_verifier is required")
	}
	if len(verifier) < v.limits.CodeVerifierMinLength || len(verifier) > v.limits.CodeVerifierMaxLength {
		return fmt.Errorf("code_verifier must be %d-%d characters", v.limits.CodeVerifierMinLength, v.limits.CodeVerifierMaxLength)
	}
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return fmt.Errorf("code_verifier contains invalid characters")
		}
	}

	var computed string
	switch code.CodeChallengeMethod {
	case PKCEMethodS256:
		computed = oauth2.S256ChallengeFromVerifier(verifier)
	case PKCEMethodPlain, "":
		if !client.AllowPlainTextPKCE {
			return fmt.Errorf("plain code_challenge_method is not allowed for this client")
		}
		computed = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method %q", code.CodeChallengeMethod)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(code.CodeChallenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}

// ============================================================
// client_credentials
// ============================================================

func (v *TokenRequestValidator) validateClientCredentials(ctx context.Context, req *ValidatedTokenRequest) (*TokenRequestValidationResult, error) {
	if !req.Client.AllowsGrantType(GrantTypeClientCredentials) {
		return v.fail(req, ErrorUnauthorizedClient, "grant type not allowed for client")
	}

	scopes, res, err := v.validateRequestedScopes(ctx, req, false)
	if res != nil || err != nil {
		return res, err
	}

	req.Scopes = scopes
	return success(req), nil
}

// ============================================================
// password
// ============================================================

func (v *TokenRequestValidator) validatePassword(ctx context.Context, req *ValidatedTokenRequest) (*TokenRequestValidationResult, error) {
	if v.password == nil {
		return v.fail(req, ErrorUnsupportedGrantType, "no password validator registered")
	}
	if !req.Client.AllowsGrantType(GrantTypePassword) {
		return v.fail(req, ErrorUnauthorizedClient, "grant type not allowed for client")
	}

	userName := req.Raw.Get(ParamUserName)
	password := req.Raw.Get(ParamPassword)
	if userName == "" || len(userName) > v.limits.UserName {
		return v.fail(req, ErrorInvalidGrant, "username missing or too long")
	}
	if password == "" || len(password) > v.limits.Password {
		return v.fail(req, ErrorInvalidGrant, "password missing or too long")
	}

	scopes, res, err := v.validateRequestedScopes(ctx, req, true)
	if res != nil || err != nil {
		return res, err
	}

	grant, err := v.password.ValidatePassword(ctx, &PasswordRequest{
		UserName: userName,
		Password: password,
		Client:   req.Client,
		Raw:      req.Raw,
	})
	if err != nil {
		return nil, fmt.Errorf("password validation failed: %w", err)
	}
	if grant.IsError {
		v.auditor.LogGrantFailure("", req.Client.ClientID, req.GrantType, grant.Error)
		return &TokenRequestValidationResult{ValidationResult: grant.ValidationResult}, nil
	}

	subjectID := grant.SubjectID()
	if subjectID == "" {
		return nil, fmt.Errorf("password validator returned a subject without sub claim")
	}
	if res, err := v.checkActive(ctx, req, subjectID); res != nil || err != nil {
		return res, err
	}

	req.Subject = grant.Subject
	req.Scopes = scopes
	req.UserName = userName
	req.CustomResponse = grant.CustomResponse
	return success(req), nil
}

// ============================================================
// refresh_token
// ============================================================

func (v *TokenRequestValidator) validateRefreshToken(ctx context.Context, req *ValidatedTokenRequest) (*TokenRequestValidationResult, error) {
	client := req.Client

	handle := req.Raw.Get(ParamRefreshToken)
	if handle == "" {
		return v.fail(req, ErrorInvalidRequest, "refresh_token missing")
	}
	if len(handle) > v.limits.RefreshToken {
		return v.fail(req, ErrorInvalidGrant, "refresh_token too long")
	}

	rt, err := v.grants.GetRefreshToken(ctx, handle)
	if err != nil {
		return nil, err
	}
	if rt == nil || rt.AccessToken == nil {
		v.logger.Debug("Refresh token not found or expired",
			"client_id", client.ClientID,
			"handle_prefix", util.SafeTruncate(handle, handleLogLength))
		return tokenRequestError(ErrorInvalidGrant, ""), nil
	}

	subjectID := rt.SubjectID()
	if rt.ClientID() != client.ClientID {
		v.logger.Debug("Refresh token issued to another client",
			"client_id", client.ClientID,
			"bound_client_id", rt.ClientID())
		v.auditor.LogClientMismatch(subjectID, client.ClientID, rt.ClientID(), GrantTypeRefreshToken)
		if v.instrumentation != nil {
			v.instrumentation.Metrics().RecordCrossClientAttempt(ctx, GrantTypeRefreshToken)
		}
		return tokenRequestError(ErrorInvalidGrant, ""), nil
	}

	if !client.AllowAccessToAllScopes && !client.AllowsScope(storage.ScopeOfflineAccess) {
		return v.fail(req, ErrorInvalidGrant, "client no longer allows offline_access")
	}

	if subjectID != "" {
		if res, err := v.checkActive(ctx, req, subjectID); res != nil || err != nil {
			return res, err
		}
	}

	// A scope parameter may not widen the original grant.
	raw := req.Raw.Get(ParamScope)
	if len(raw) > v.limits.Scope {
		return v.fail(req, ErrorInvalidScope, "scope too long")
	}
	if !util.ContainsAll(rt.Scopes(), util.ParseScopes(raw)) {
		return v.fail(req, ErrorInvalidScope, "scope exceeds the original grant")
	}

	scopes, err := v.scopes.FindScopesByName(ctx, rt.Scopes())
	if err != nil {
		return nil, fmt.Errorf("failed to find scopes: %w", err)
	}

	req.Subject = subjectClaims(rt.AccessToken.Claims)
	req.Scopes = scopes
	req.RefreshToken = rt
	req.RefreshTokenHandle = handle
	return success(req), nil
}

// subjectClaims extracts the authentication claims from an issued token.
func subjectClaims(claims []storage.Claim) []storage.Claim {
	var out []storage.Claim
	for _, c := range claims {
		switch c.Type {
		case storage.ClaimSubject, storage.ClaimAuthTime, storage.ClaimIdP, storage.ClaimAuthMethod:
			out = append(out, c)
		}
	}
	return out
}

// ============================================================
// extension grants
// ============================================================

func (v *TokenRequestValidator) validateExtensionGrant(ctx context.Context, req *ValidatedTokenRequest) (*TokenRequestValidationResult, error) {
	validator, ok := v.extensions.Lookup(req.GrantType)
	if !ok {
		return v.fail(req, ErrorUnsupportedGrantType, "no extension grant registered")
	}
	if !req.Client.AllowsGrantType(req.GrantType) {
		return v.fail(req, ErrorUnauthorizedClient, "grant type not allowed for client")
	}

	scopes, res, err := v.validateRequestedScopes(ctx, req, true)
	if res != nil || err != nil {
		return res, err
	}

	grant, err := validator.Validate(ctx, &ExtensionGrantRequest{
		Raw:    req.Raw,
		Client: req.Client,
		Scopes: scopes,
	})
	if err != nil {
		return nil, fmt.Errorf("extension grant %s failed: %w", req.GrantType, err)
	}
	if grant.IsError {
		v.auditor.LogGrantFailure("", req.Client.ClientID, req.GrantType, grant.Error)
		return &TokenRequestValidationResult{ValidationResult: grant.ValidationResult}, nil
	}

	if subjectID := grant.SubjectID(); subjectID != "" {
		if res, err := v.checkActive(ctx, req, subjectID); res != nil || err != nil {
			return res, err
		}
	}

	req.Subject = grant.Subject
	req.Scopes = scopes
	req.CustomResponse = grant.CustomResponse
	return success(req), nil
}

// ============================================================
// Shared checks
// ============================================================

// validateRequestedScopes validates the scope parameter against the client
// and the scope store. Without allowIdentity, identity scopes and
// offline_access are rejected. An omitted scope grants everything the client
// may request.
func (v *TokenRequestValidator) validateRequestedScopes(ctx context.Context, req *ValidatedTokenRequest, allowIdentity bool) ([]*storage.Scope, *TokenRequestValidationResult, error) {
	raw := req.Raw.Get(ParamScope)
	if len(raw) > v.limits.Scope {
		res, err := v.fail(req, ErrorInvalidScope, "scope too long")
		return nil, res, err
	}

	requested := util.ParseScopes(raw)
	if !allowIdentity {
		for _, name := range requested {
			if storage.IsIdentityScopeName(name) {
				res, err := v.fail(req, ErrorInvalidScope, "identity scope requested for client-only grant")
				return nil, res, err
			}
		}
	}

	if len(requested) == 0 {
		scopes, err := v.defaultScopes(ctx, req.Client, allowIdentity)
		if err != nil {
			return nil, nil, err
		}
		if len(scopes) == 0 {
			res, err := v.fail(req, ErrorInvalidScope, "client has no allowed scopes")
			return nil, res, err
		}
		return scopes, nil, nil
	}

	scopes, ok, err := v.resolveScopes(ctx, req.Client, requested)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		res, err := v.fail(req, ErrorInvalidScope, "requested scope not allowed")
		return nil, res, err
	}

	if !allowIdentity {
		for _, s := range scopes {
			if s.Type == storage.ScopeTypeIdentity {
				res, err := v.fail(req, ErrorInvalidScope, "identity scope requested for client-only grant")
				return nil, res, err
			}
		}
	}
	return scopes, nil, nil
}

// resolveScopes loads names from the scope store. ok is false when a name is
// not allowed for the client, unknown or disabled.
func (v *TokenRequestValidator) resolveScopes(ctx context.Context, client *storage.Client, names []string) ([]*storage.Scope, bool, error) {
	for _, name := range names {
		if !client.AllowAccessToAllScopes && !client.AllowsScope(name) {
			v.logger.Debug("Scope not allowed for client", "client_id", client.ClientID, "scope", name)
			return nil, false, nil
		}
	}

	scopes, err := v.scopes.FindScopesByName(ctx, names)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find scopes: %w", err)
	}
	if len(scopes) != len(names) {
		v.logger.Debug("Unknown scope requested", "client_id", client.ClientID, "scopes", names)
		return nil, false, nil
	}
	for _, s := range scopes {
		if !s.Enabled {
			v.logger.Debug("Disabled scope requested", "client_id", client.ClientID, "scope", s.Name)
			return nil, false, nil
		}
	}
	return scopes, true, nil
}

// defaultScopes returns every enabled scope the client may request.
func (v *TokenRequestValidator) defaultScopes(ctx context.Context, client *storage.Client, allowIdentity bool) ([]*storage.Scope, error) {
	var (
		candidates []*storage.Scope
		err        error
	)
	if client.AllowAccessToAllScopes {
		candidates, err = v.scopes.GetScopes(ctx, false)
	} else {
		candidates, err = v.scopes.FindScopesByName(ctx, client.AllowedScopes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find scopes: %w", err)
	}

	out := make([]*storage.Scope, 0, len(candidates))
	for _, s := range candidates {
		if !s.Enabled {
			continue
		}
		if !allowIdentity && (s.Type == storage.ScopeTypeIdentity || storage.IsIdentityScopeName(s.Name)) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// checkActive returns an invalid_grant result when subjectID is not active.
func (v *TokenRequestValidator) checkActive(ctx context.Context, req *ValidatedTokenRequest, subjectID string) (*TokenRequestValidationResult, error) {
	active, err := v.profile.IsActive(ctx, subjectID, req.Client)
	if err != nil {
		return nil, fmt.Errorf("failed to check subject status: %w", err)
	}
	if !active {
		v.auditor.LogGrantFailure(subjectID, req.Client.ClientID, req.GrantType, "subject_inactive")
		return v.fail(req, ErrorInvalidGrant, "subject is not active")
	}
	return nil, nil
}

// fail logs the detail server-side and returns a result carrying only the code.
func (v *TokenRequestValidator) fail(req *ValidatedTokenRequest, code, detail string) (*TokenRequestValidationResult, error) {
	v.logger.Debug("Token request rejected",
		"grant_type", req.GrantType,
		"client_id", req.Client.ClientID,
		"error", code,
		"reason", detail)
	return tokenRequestError(code, ""), nil
}

func success(req *ValidatedTokenRequest) *TokenRequestValidationResult {
	return &TokenRequestValidationResult{Request: req}
}
