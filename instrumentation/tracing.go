package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span and metric attribute keys
//
// SECURITY WARNING: Never record actual credential values (access tokens, refresh
// tokens, authorization codes, client secrets) in traces or metrics. Only record
// metadata such as grant types, token formats, and validation results.
const (
	AttrClientID     = "oauth.client_id"
	AttrSubjectID    = "oauth.subject_id"
	AttrScope        = "oauth.scope"
	AttrGrantType    = "oauth.grant_type"
	AttrPKCEMethod   = "oauth.pkce.method"
	AttrTokenType    = "oauth.token_type"   //nolint:gosec // token kind, not a token
	AttrTokenFormat  = "oauth.token_format" //nolint:gosec // jwt or reference
	AttrTokenRotated = "oauth.token.rotated"
	AttrActive       = "oauth.active"
	AttrResult       = "oauth.result"
	AttrError        = "oauth.error"
	AttrOperation    = "oauth.operation"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"
	AttrGrantKind        = "storage.grant_type"

	// Key material attributes
	AttrKeyID        = "keys.kid"
	AttrKeyAlgorithm = "keys.algorithm"

	// Security attributes
	AttrAuditEventType = "security.audit.event_type"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddGrantAttributes adds the common grant attributes to a span, skipping empty values (nil-safe)
func AddGrantAttributes(span trace.Span, grantType, clientID, subjectID string) {
	if grantType != "" {
		SetSpanAttributes(span, attribute.String(AttrGrantType, grantType))
	}
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if subjectID != "" {
		SetSpanAttributes(span, attribute.String(AttrSubjectID, subjectID))
	}
}
