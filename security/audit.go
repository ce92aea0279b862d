// Package security provides security features for the grant engine including
// payload encryption at rest, security event rate limiting, and audit logging.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	limiter *RateLimiter
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// SetRateLimiter throttles events per event type and client. Events over the limit are dropped.
func (a *Auditor) SetRateLimiter(rl *RateLimiter) {
	a.limiter = rl
}

// Event represents a security audit event
type Event struct {
	Type      string
	SubjectID string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with the subject id hashed
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	if a.limiter != nil && !a.limiter.Allow(event.Type+":"+event.ClientID) {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.SubjectID),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs when a token endpoint request succeeds
func (a *Auditor) LogTokenIssued(subjectID, clientID, grantType string, scopes []string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		SubjectID: subjectID,
		ClientID:  clientID,
		Details: map[string]any{
			"grant_type": grantType,
			"scopes":     scopes,
		},
	})
}

// LogTokenRefreshed logs when a refresh token is used
func (a *Auditor) LogTokenRefreshed(subjectID, clientID string, rotated bool) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		SubjectID: subjectID,
		ClientID:  clientID,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogTokenRevoked logs when a token is revoked
func (a *Auditor) LogTokenRevoked(subjectID, clientID, tokenType string) {
	a.LogEvent(Event{
		Type:      EventTokenRevoked,
		SubjectID: subjectID,
		ClientID:  clientID,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogGrantFailure logs a token request rejected for a reason that must stay server-side
func (a *Auditor) LogGrantFailure(subjectID, clientID, grantType, reason string) {
	a.LogEvent(Event{
		Type:      EventGrantFailure,
		SubjectID: subjectID,
		ClientID:  clientID,
		Details: map[string]any{
			"grant_type": grantType,
			"reason":     reason,
		},
	})
}

// LogCodeReplay logs a redemption attempt on an authorization code that no longer exists
func (a *Auditor) LogCodeReplay(clientID string) {
	a.LogEvent(Event{
		Type:     EventAuthorizationCodeReplay,
		ClientID: clientID,
	})
}

// LogInvalidPKCE logs a failed PKCE verification
func (a *Auditor) LogInvalidPKCE(subjectID, clientID, method string) {
	a.LogEvent(Event{
		Type:      EventPKCEValidationFailed,
		SubjectID: subjectID,
		ClientID:  clientID,
		Details: map[string]any{
			"method": method,
		},
	})
}

// LogClientMismatch logs an operation on a grant bound to a different client
func (a *Auditor) LogClientMismatch(subjectID, callingClientID, boundClientID, operation string) {
	a.LogEvent(Event{
		Type:      EventClientBindingMismatch,
		SubjectID: subjectID,
		ClientID:  callingClientID,
		Details: map[string]any{
			"bound_client_id": boundClientID,
			"operation":       operation,
		},
	})
}

// LogIntrospection logs an introspection request by a scope
func (a *Auditor) LogIntrospection(scopeName, clientID string, active bool) {
	a.LogEvent(Event{
		Type:     EventTokenIntrospected,
		ClientID: clientID,
		Details: map[string]any{
			"scope":  scopeName,
			"active": active,
		},
	})
}

// LogAuthFailure logs a client or scope authentication failure
func (a *Auditor) LogAuthFailure(principal, reason string) {
	a.LogEvent(Event{
		Type:     EventAuthFailure,
		ClientID: principal,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
