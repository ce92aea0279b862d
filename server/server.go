package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-grants/grants"
	"github.com/giantswarm/oidc-grants/instrumentation"
	"github.com/giantswarm/oidc-grants/keys"
	"github.com/giantswarm/oidc-grants/providers"
	"github.com/giantswarm/oidc-grants/security"
	"github.com/giantswarm/oidc-grants/storage"
	"github.com/giantswarm/oidc-grants/token"
	"github.com/giantswarm/oidc-grants/validation"
)

// Server implements the token, introspection and revocation logic.
// It coordinates validators, token services and storage backends.
type Server struct {
	grants      *grants.Service
	clientStore storage.ClientStore
	scopeStore  storage.ScopeStore
	keys        keys.MaterialService
	profile     providers.ProfileService

	tokens                 *token.Service
	refreshTokens          *token.RefreshTokenService
	tokenRequests          *validation.TokenRequestValidator
	tokenValidator         *validation.TokenValidator
	introspectionRequests  *validation.IntrospectionRequestValidator
	revocationRequests     *validation.TokenRevocationRequestValidator
	tokenResponses         *TokenResponseGenerator
	introspectionResponses *IntrospectionResponseGenerator

	Auditor                  *security.Auditor
	SecurityEventRateLimiter *security.RateLimiter // Rate limiter for security event logging (DoS prevention)
	Logger                   *slog.Logger
	Config                   *Config

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// New creates a new token engine
func New(
	grantStore storage.GrantStore,
	clientStore storage.ClientStore,
	scopeStore storage.ScopeStore,
	keyMaterial keys.MaterialService,
	profile providers.ProfileService,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if grantStore == nil {
		return nil, fmt.Errorf("grant store is required")
	}
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if scopeStore == nil {
		return nil, fmt.Errorf("scope store is required")
	}
	if keyMaterial == nil {
		return nil, fmt.Errorf("key material service is required")
	}
	if profile == nil {
		return nil, fmt.Errorf("profile service is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	srv := &Server{
		clientStore: clientStore,
		scopeStore:  scopeStore,
		keys:        keyMaterial,
		profile:     profile,
		Config:      config,
		Logger:      logger,
	}

	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	clock := config.Clock
	limits := config.InputLengthRestrictions

	srv.grants = grants.NewService(grantStore, grants.Config{Logger: logger, Clock: clock})
	srv.tokens = token.NewService(
		token.NewClaimsService(profile, logger),
		token.NewCreationService(keyMaterial),
		srv.grants,
		token.Config{Issuer: config.Issuer, Logger: logger, Clock: clock},
	)
	srv.refreshTokens = token.NewRefreshTokenService(srv.grants, logger, clock)
	srv.tokenRequests = validation.NewTokenRequestValidator(srv.grants, scopeStore, profile, validation.TokenRequestValidatorConfig{
		Logger: logger,
		Clock:  clock,
		Limits: limits,
	})
	srv.tokenValidator = validation.NewTokenValidator(keyMaterial, srv.grants, clientStore, validation.TokenValidatorConfig{
		Issuer:    config.Issuer,
		ClockSkew: time.Duration(config.ClockSkewGracePeriod) * time.Second,
		Logger:    logger,
		Clock:     clock,
		Limits:    limits,
	})
	srv.introspectionRequests = validation.NewIntrospectionRequestValidator(srv.tokenValidator, config.RequireIntrospectionScopeMatch, logger)
	srv.revocationRequests = validation.NewTokenRevocationRequestValidator(limits)
	srv.tokenResponses = NewTokenResponseGenerator(srv.tokens, srv.refreshTokens, logger, clock)
	srv.introspectionResponses = NewIntrospectionResponseGenerator()

	if config.AuditEnabled {
		srv.SetAuditor(security.NewAuditor(logger, true))
	}
	if config.SecurityEventRateLimit > 0 {
		srv.SetSecurityEventRateLimiter(security.NewRateLimiter(config.SecurityEventRateLimit, config.SecurityEventBurst, logger))
	}

	return srv, nil
}

// SetEncryptor enables encryption at rest of grant payloads
func (s *Server) SetEncryptor(enc *security.Encryptor) {
	s.grants.SetEncryptor(enc)
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
	if aud != nil && s.SecurityEventRateLimiter != nil {
		aud.SetRateLimiter(s.SecurityEventRateLimiter)
	}
	s.tokenRequests.SetAuditor(aud)
	s.tokenResponses.SetAuditor(aud)
}

// SetSecurityEventRateLimiter sets the rate limiter for security event logging.
// This prevents DoS attacks via log flooding from repeated security events.
func (s *Server) SetSecurityEventRateLimiter(rl *security.RateLimiter) {
	s.SecurityEventRateLimiter = rl
	if s.Auditor != nil {
		s.Auditor.SetRateLimiter(rl)
	}
}

// SetInstrumentation enables metrics and tracing on the server and its services
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
	}
	s.tokens.SetInstrumentation(inst)
	s.refreshTokens.SetInstrumentation(inst)
	s.tokenRequests.SetInstrumentation(inst)
	s.tokenValidator.SetInstrumentation(inst)
}

// SetPasswordValidator enables the password grant
func (s *Server) SetPasswordValidator(v validation.ResourceOwnerPasswordValidator) {
	s.tokenRequests.SetPasswordValidator(v)
}

// SetExtensionGrants registers extension grant validators. Names must be
// unique and must not shadow a built-in grant type.
func (s *Server) SetExtensionGrants(validators ...validation.ExtensionGrantValidator) error {
	registry, err := validation.NewExtensionGrantRegistry(validators...)
	if err != nil {
		return err
	}
	s.tokenRequests.SetExtensions(registry)
	if len(validators) > 0 {
		s.Logger.Info("Extension grants registered", "grant_types", registry.GrantTypes())
	}
	return nil
}

// Grants returns the persisted-grant service, for grant management surfaces
func (s *Server) Grants() *grants.Service {
	return s.grants
}

// TokenValidator returns the validator used for introspection, for resource
// servers embedding the engine
func (s *Server) TokenValidator() *validation.TokenValidator {
	return s.tokenValidator
}

// startSpan starts a span under the server tracer. Without a tracer it
// returns a non-recording span so the caller's span is never ended here.
func (s *Server) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return s.tracer.Start(ctx, "server."+operation)
}

// Instrumentation returns the instrumentation set with SetInstrumentation, or nil
func (s *Server) Instrumentation() *instrumentation.Instrumentation {
	return s.instrumentation
}
