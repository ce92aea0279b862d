package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oidc-grants/internal/util"
	"github.com/giantswarm/oidc-grants/storage"
	"github.com/giantswarm/oidc-grants/validation"
)

// AuthenticateClient verifies a client secret. An unknown, disabled or
// mismatching client yields an invalid_client ProtocolError; all three take
// the same bcrypt path.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, secret string) (*storage.Client, error) {
	var candidates []storage.Secret
	client, err := s.clientStore.FindClientByID(ctx, clientID)
	switch {
	case errors.Is(err, storage.ErrClientNotFound):
		client = nil
	case err != nil:
		return nil, fmt.Errorf("failed to find client: %w", err)
	case client.Enabled:
		candidates = client.ClientSecrets
	}

	if !storage.VerifySecret(candidates, secret, s.Config.Clock.Now()) {
		reason := "invalid_secret"
		switch {
		case client == nil:
			reason = "unknown_client"
		case !client.Enabled:
			reason = "client_disabled"
		}
		s.Logger.Debug("Client authentication failed",
			"client_id", util.SafeTruncate(clientID, 64),
			"reason", reason)
		s.Auditor.LogAuthFailure(util.SafeTruncate(clientID, 64), reason)
		return nil, protocolError(validation.ErrorInvalidClient, "")
	}
	return client, nil
}

// AuthenticateScope verifies the secret of a scope calling the introspection
// endpoint. Failures yield ErrScopeUnauthorized.
func (s *Server) AuthenticateScope(ctx context.Context, name, secret string) (*storage.Scope, error) {
	var (
		scope      *storage.Scope
		candidates []storage.Secret
	)
	found, err := s.scopeStore.FindScopesByName(ctx, []string{name})
	if err != nil {
		return nil, fmt.Errorf("failed to find scope: %w", err)
	}
	if len(found) == 1 {
		scope = found[0]
		if scope.Enabled {
			candidates = scope.ScopeSecrets
		}
	}

	if !storage.VerifySecret(candidates, secret, s.Config.Clock.Now()) {
		reason := "invalid_secret"
		switch {
		case scope == nil:
			reason = "unknown_scope"
		case !scope.Enabled:
			reason = "scope_disabled"
		}
		s.Logger.Debug("Scope authentication failed",
			"scope", util.SafeTruncate(name, 64),
			"reason", reason)
		s.Auditor.LogAuthFailure(util.SafeTruncate(name, 64), reason)
		return nil, ErrScopeUnauthorized
	}
	return scope, nil
}
