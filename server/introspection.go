package server

import (
	"context"
	"net/url"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oidc-grants/instrumentation"
	"github.com/giantswarm/oidc-grants/storage"
	"github.com/giantswarm/oidc-grants/validation"
)

// IntrospectionResponseGenerator renders RFC 7662 responses.
type IntrospectionResponseGenerator struct{}

// NewIntrospectionResponseGenerator creates an introspection response generator.
func NewIntrospectionResponseGenerator() *IntrospectionResponseGenerator {
	return &IntrospectionResponseGenerator{}
}

// Process renders the response for scope. An inactive token yields exactly
// {"active": false}. A scope without unrestricted introspection sees the scope
// claim replaced by its own name; every other claim is returned as issued.
func (g *IntrospectionResponseGenerator) Process(result *validation.IntrospectionRequestValidationResult, scope *storage.Scope) map[string]any {
	if !result.IsActive {
		return map[string]any{storage.ClaimActive: false}
	}

	var response map[string]any
	if scope.AllowUnrestrictedIntrospection {
		response = storage.ClaimsToMap(result.Claims)
	} else {
		response = storage.ClaimsToMap(storage.WithoutClaims(result.Claims, storage.ClaimScope))
		response[storage.ClaimScope] = []string{scope.Name}
	}
	response[storage.ClaimActive] = true
	return response
}

// Introspect answers an RFC 7662 request from an authenticated scope. A
// request without a token returns ErrMissingToken; a nil scope returns
// ErrScopeUnauthorized.
func (s *Server) Introspect(ctx context.Context, params url.Values, scope *storage.Scope) (map[string]any, error) {
	ctx, span := s.startSpan(ctx, "introspection")
	defer span.End()

	if scope == nil {
		instrumentation.SetSpanError(span, "unauthorized scope")
		return nil, ErrScopeUnauthorized
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrScope, scope.Name))

	result, err := s.introspectionRequests.Validate(ctx, params, scope)
	if err != nil {
		s.Logger.Error("Introspection failed", "scope", scope.Name, "error", err)
		instrumentation.RecordError(span, err)
		return nil, err
	}
	if result.Reason == validation.IntrospectionFailureMissingToken {
		instrumentation.SetSpanError(span, result.Reason.String())
		return nil, ErrMissingToken
	}

	response := s.introspectionResponses.Process(result, scope)

	clientID, _ := storage.FindClaim(result.Claims, storage.ClaimClientID)
	s.Auditor.LogIntrospection(scope.Name, clientID, result.IsActive)
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordIntrospection(ctx, scope.Name, result.IsActive)
	}
	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrActive, result.IsActive))
	instrumentation.SetSpanSuccess(span)
	return response, nil
}
