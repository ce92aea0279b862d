package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/giantswarm/oidc-grants/instrumentation"
	"github.com/giantswarm/oidc-grants/internal/util"
	"github.com/giantswarm/oidc-grants/storage"
	"github.com/giantswarm/oidc-grants/validation"
)

// Revoke processes an RFC 7009 revocation request from an authenticated
// client. Unknown tokens, self-contained tokens and tokens bound to another
// client all succeed without effect, so callers learn nothing about which handles exist.
// Revoking a refresh token also revokes every refresh and reference token of
// the same subject and client.
func (s *Server) Revoke(ctx context.Context, params url.Values, client *storage.Client) error {
	ctx, span := s.startSpan(ctx, "revocation")
	defer span.End()

	result := s.revocationRequests.Validate(params, client)
	if result.IsError {
		instrumentation.SetSpanError(span, result.Error)
		return protocolError(result.Error, result.ErrorDescription)
	}
	instrumentation.AddGrantAttributes(span, "", client.ClientID, "")

	var err error
	if result.TokenTypeHint == validation.TokenTypeHintRefreshToken {
		_, err = s.firstRevoked(ctx, result.Token, client, s.revokeRefreshToken, s.revokeAccessToken)
	} else {
		_, err = s.firstRevoked(ctx, result.Token, client, s.revokeAccessToken, s.revokeRefreshToken)
	}
	if err != nil {
		s.Logger.Error("Token revocation failed", "client_id", client.ClientID, "error", err)
		instrumentation.RecordError(span, err)
		return err
	}

	instrumentation.SetSpanSuccess(span)
	return nil
}

type revokeFunc func(ctx context.Context, handle string, client *storage.Client) (bool, error)

// firstRevoked tries each revoker in order and stops at the first that
// recognized the handle.
func (s *Server) firstRevoked(ctx context.Context, handle string, client *storage.Client, revokers ...revokeFunc) (bool, error) {
	for _, revoke := range revokers {
		found, err := revoke(ctx, handle, client)
		if err != nil || found {
			return found, err
		}
	}
	return false, nil
}

// revokeAccessToken removes a reference token. Self-contained tokens cannot
// be revoked.
func (s *Server) revokeAccessToken(ctx context.Context, handle string, client *storage.Client) (bool, error) {
	if validation.IsJWT(handle) {
		return false, nil
	}

	token, err := s.grants.GetReferenceToken(ctx, handle)
	if err != nil {
		return false, fmt.Errorf("failed to load reference token: %w", err)
	}
	if token == nil {
		return false, nil
	}

	owned, err := s.ownedBy(ctx, token.ClientID, client, token.SubjectID(), "revocation")
	switch {
	case errors.Is(err, errUnknownBoundClient):
		return false, nil
	case err != nil:
		return false, err
	case !owned:
		return true, nil
	}

	if err := s.grants.RemoveReferenceToken(ctx, handle); err != nil {
		return false, fmt.Errorf("failed to remove reference token: %w", err)
	}

	s.Logger.Info("Reference token revoked",
		"client_id", client.ClientID,
		"handle_prefix", util.SafeTruncate(handle, 8))
	s.Auditor.LogTokenRevoked(token.SubjectID(), client.ClientID, validation.TokenTypeHintAccessToken)
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordRevocation(ctx, client.ClientID, validation.TokenTypeHintAccessToken)
	}
	return true, nil
}

// revokeRefreshToken removes a refresh token and every refresh and reference
// token of the same subject and client.
func (s *Server) revokeRefreshToken(ctx context.Context, handle string, client *storage.Client) (bool, error) {
	rt, err := s.grants.GetRefreshToken(ctx, handle)
	if err != nil {
		return false, fmt.Errorf("failed to load refresh token: %w", err)
	}
	if rt == nil {
		return false, nil
	}

	subjectID := rt.SubjectID()
	owned, err := s.ownedBy(ctx, rt.ClientID(), client, subjectID, "revocation")
	switch {
	case errors.Is(err, errUnknownBoundClient):
		return false, nil
	case err != nil:
		return false, err
	case !owned:
		return true, nil
	}

	if err := s.grants.RemoveRefreshToken(ctx, handle); err != nil {
		return false, fmt.Errorf("failed to remove refresh token: %w", err)
	}
	if subjectID != "" {
		if err := s.grants.RemoveRefreshTokens(ctx, subjectID, client.ClientID); err != nil {
			return false, fmt.Errorf("failed to remove refresh tokens: %w", err)
		}
		if err := s.grants.RemoveReferenceTokens(ctx, subjectID, client.ClientID); err != nil {
			return false, fmt.Errorf("failed to remove reference tokens: %w", err)
		}
	}

	s.Logger.Info("Refresh token revoked",
		"client_id", client.ClientID,
		"handle_prefix", util.SafeTruncate(handle, 8),
		"cascade", subjectID != "")
	s.Auditor.LogTokenRevoked(subjectID, client.ClientID, validation.TokenTypeHintRefreshToken)
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordRevocation(ctx, client.ClientID, validation.TokenTypeHintRefreshToken)
	}
	return true, nil
}

// errUnknownBoundClient marks a grant whose client no longer exists.
var errUnknownBoundClient = errors.New("bound client not found")

// ownedBy reports whether the grant bound to boundClientID belongs to client.
// A mismatch is audited. A grant whose client is gone yields errUnknownBoundClient.
func (s *Server) ownedBy(ctx context.Context, boundClientID string, client *storage.Client, subjectID, operation string) (bool, error) {
	if _, err := s.clientStore.FindClientByID(ctx, boundClientID); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			s.Logger.Debug("Grant bound to unknown client", "bound_client_id", boundClientID)
			return false, errUnknownBoundClient
		}
		return false, fmt.Errorf("failed to find client: %w", err)
	}

	if boundClientID != client.ClientID {
		s.Logger.Warn("Client attempted to revoke a grant of another client",
			"client_id", client.ClientID,
			"bound_client_id", boundClientID)
		s.Auditor.LogClientMismatch(subjectID, client.ClientID, boundClientID, operation)
		if s.instrumentation != nil {
			s.instrumentation.Metrics().RecordCrossClientAttempt(ctx, operation)
		}
		return false, nil
	}
	return true, nil
}
