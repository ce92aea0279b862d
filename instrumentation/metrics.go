package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments of the grant engine
type Metrics struct {
	// Token endpoint
	TokenRequestsTotal   metric.Int64Counter
	TokenRequestDuration metric.Float64Histogram
	TokensIssued         metric.Int64Counter
	RefreshTokenRotated  metric.Int64Counter

	// Validation, introspection and revocation
	TokenValidations metric.Int64Counter
	Introspections   metric.Int64Counter
	Revocations      metric.Int64Counter

	// Security
	CodeReplayDetected   metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	CrossClientAttempts  metric.Int64Counter
	AuditEventsTotal     metric.Int64Counter

	// Storage
	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	StorageAuthorizationCodes metric.Int64ObservableGauge
	StorageRefreshTokens      metric.Int64ObservableGauge
	StorageReferenceTokens    metric.Int64ObservableGauge

	// Key material
	KeyRotations metric.Int64Counter

	// HTTP binding
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
}

// counterSpec describes one counter to create
type counterSpec struct {
	target      *metric.Int64Counter
	name        string
	description string
	unit        string
}

// newMetrics creates and registers all metric instruments
func newMetrics(serverMeter, storageMeter, securityMeter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	server := []counterSpec{
		{&m.TokenRequestsTotal, "oauth.token.requests.total", "Token requests by grant type and outcome", "{request}"},
		{&m.TokensIssued, "oauth.token.issued", "Security tokens issued", "{token}"},
		{&m.RefreshTokenRotated, "oauth.refresh_token.rotated", "Refresh token updates", "{refresh}"},
		{&m.TokenValidations, "oauth.token.validations", "Token validations by kind and result", "{validation}"},
		{&m.Introspections, "oauth.introspection.total", "Introspection requests by result", "{request}"},
		{&m.Revocations, "oauth.revocation.total", "Revocation requests by token type", "{request}"},
		{&m.KeyRotations, "oauth.keys.rotated", "Signing key rotations", "{rotation}"},
		{&m.HTTPRequestsTotal, "http.server.requests.total", "HTTP requests by endpoint and status", "{request}"},
	}
	security := []counterSpec{
		{&m.CodeReplayDetected, "oauth.code.replay_detected", "Authorization code redemption attempts on consumed codes", "{attempt}"},
		{&m.PKCEValidationFailed, "oauth.pkce.validation_failed", "PKCE verifier mismatches", "{failure}"},
		{&m.CrossClientAttempts, "oauth.cross_client.attempts", "Operations on grants bound to another client", "{attempt}"},
		{&m.AuditEventsTotal, "oauth.audit.events.total", "Security audit events", "{event}"},
	}
	storage := []counterSpec{
		{&m.StorageOperationTotal, "storage.operation.total", "Storage operations", "{operation}"},
	}

	groups := []struct {
		meter metric.Meter
		specs []counterSpec
	}{
		{serverMeter, server},
		{securityMeter, security},
		{storageMeter, storage},
	}

	for _, g := range groups {
		for _, spec := range g.specs {
			c, err := g.meter.Int64Counter(spec.name, metric.WithDescription(spec.description), metric.WithUnit(spec.unit))
			if err != nil {
				return nil, fmt.Errorf("failed to create %s counter: %w", spec.name, err)
			}
			*spec.target = c
		}
	}

	var err error
	m.TokenRequestDuration, err = serverMeter.Float64Histogram(
		"oauth.token.request.duration",
		metric.WithDescription("Token request processing duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.request.duration histogram: %w", err)
	}

	m.HTTPRequestDuration, err = serverMeter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.server.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageAuthorizationCodes, err = storageMeter.Int64ObservableGauge(
		"storage.grants.authorization_codes",
		metric.WithDescription("Authorization codes currently stored"),
		metric.WithUnit("{grant}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization code gauge: %w", err)
	}

	m.StorageRefreshTokens, err = storageMeter.Int64ObservableGauge(
		"storage.grants.refresh_tokens",
		metric.WithDescription("Refresh tokens currently stored"),
		metric.WithUnit("{grant}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh token gauge: %w", err)
	}

	m.StorageReferenceTokens, err = storageMeter.Int64ObservableGauge(
		"storage.grants.reference_tokens",
		metric.WithDescription("Reference access tokens currently stored"),
		metric.WithUnit("{grant}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reference token gauge: %w", err)
	}

	return m, nil
}

// RecordTokenRequest records a token endpoint request and its outcome.
// outcome is "success" or an OAuth error code.
func (m *Metrics) RecordTokenRequest(ctx context.Context, grantType, outcome string, durationMs float64) {
	m.TokenRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrGrantType, grantType),
		attribute.String(AttrResult, outcome),
	))
	m.TokenRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String(AttrGrantType, grantType),
	))
}

// RecordTokenIssued records an issued security token
func (m *Metrics) RecordTokenIssued(ctx context.Context, clientID, tokenType, format string) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrClientID, clientID),
		attribute.String(AttrTokenType, tokenType),
		attribute.String(AttrTokenFormat, format),
	))
}

// RecordRefreshTokenRotation records a refresh token update
func (m *Metrics) RecordRefreshTokenRotation(ctx context.Context, clientID string, rotated bool) {
	m.RefreshTokenRotated.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrClientID, clientID),
		attribute.Bool(AttrTokenRotated, rotated),
	))
}

// RecordTokenValidation records a token validation and its failure reason ("none" on success)
func (m *Metrics) RecordTokenValidation(ctx context.Context, kind, reason string) {
	m.TokenValidations.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrTokenType, kind),
		attribute.String(AttrResult, reason),
	))
}

// RecordIntrospection records an introspection request
func (m *Metrics) RecordIntrospection(ctx context.Context, scope string, active bool) {
	m.Introspections.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrScope, scope),
		attribute.Bool(AttrActive, active),
	))
}

// RecordRevocation records a revocation request
func (m *Metrics) RecordRevocation(ctx context.Context, clientID, tokenType string) {
	m.Revocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrClientID, clientID),
		attribute.String(AttrTokenType, tokenType),
	))
}

// RecordCodeReplayDetected records a redemption attempt on a consumed or unknown code
func (m *Metrics) RecordCodeReplayDetected(ctx context.Context) {
	m.CodeReplayDetected.Add(ctx, 1)
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrPKCEMethod, method),
	))
}

// RecordCrossClientAttempt records an operation on a grant bound to another client
func (m *Metrics) RecordCrossClientAttempt(ctx context.Context, operation string) {
	m.CrossClientAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrOperation, operation),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAuditEventType, eventType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageResult, result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String(AttrStorageOperation, operation),
	))
}

// RecordKeyRotation records a signing key rotation
func (m *Metrics) RecordKeyRotation(ctx context.Context, algorithm string) {
	m.KeyRotations.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrKeyAlgorithm, algorithm),
	))
}

// RecordHTTPRequest records an HTTP request served by the reference binding
func (m *Metrics) RecordHTTPRequest(ctx context.Context, endpoint, method string, status int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("method", method),
		attribute.Int("status", status),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationMs, attrs)
}
