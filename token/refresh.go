package token

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/giantswarm/oidc-grants/grants"
	"github.com/giantswarm/oidc-grants/instrumentation"
	"github.com/giantswarm/oidc-grants/internal/util"
	"github.com/giantswarm/oidc-grants/security"
	"github.com/giantswarm/oidc-grants/storage"
)

// handleLogLength is the number of handle characters included in logs
const handleLogLength = 8

// RefreshTokenService issues refresh tokens and applies the client's usage
// and expiration policies when they are used.
type RefreshTokenService struct {
	grants *grants.Service
	logger *slog.Logger
	clock  security.Clock

	instrumentation *instrumentation.Instrumentation
}

// NewRefreshTokenService creates a refresh token service.
func NewRefreshTokenService(grantSvc *grants.Service, logger *slog.Logger, clock security.Clock) *RefreshTokenService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshTokenService{grants: grantSvc, logger: logger, clock: clock}
}

// SetInstrumentation enables refresh rotation metrics
func (s *RefreshTokenService) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
}

// CreateRefreshToken persists a refresh token holding a snapshot of
// accessToken and returns its handle.
func (s *RefreshTokenService) CreateRefreshToken(ctx context.Context, accessToken *storage.Token, client *storage.Client) (string, error) {
	rt := &storage.RefreshToken{
		AccessToken:  accessToken,
		CreationTime: s.clock.Now(),
		Lifetime:     initialLifetime(client),
		Version:      modelVersion,
	}

	handle, err := s.grants.StoreRefreshToken(ctx, rt)
	if err != nil {
		return "", err
	}

	s.logger.Debug("Created refresh token",
		"client_id", client.ClientID,
		"lifetime", rt.Lifetime,
		"usage", client.RefreshTokenUsage.String(),
		"expiration", client.RefreshTokenExpiration.String())
	return handle, nil
}

// UpdateRefreshToken applies the client's policies to a used refresh token
// and returns the handle the client must use next.
//
// One-time tokens are taken atomically and re-stored under a new handle; a
// concurrent request that already took the handle makes this call fail with
// grants.ErrGrantConsumed. Reusable tokens are updated in place.
func (s *RefreshTokenService) UpdateRefreshToken(ctx context.Context, handle string, rt *storage.RefreshToken, client *storage.Client) (string, error) {
	switch client.RefreshTokenExpiration {
	case storage.TokenExpirationSliding:
		rt.Lifetime = slidingLifetime(s.clock.Now().Sub(rt.CreationTime).Seconds(), client)
	case storage.TokenExpirationAbsolute:
		// CreationTime and Lifetime stay, so the original deadline holds.
	default:
		return "", fmt.Errorf("unknown refresh token expiration %v", client.RefreshTokenExpiration)
	}

	switch client.RefreshTokenUsage {
	case storage.TokenUsageOneTimeOnly:
		if _, err := s.grants.TakeRefreshToken(ctx, handle); err != nil {
			return "", err
		}
		rt.Version++
		newHandle, err := s.grants.StoreRefreshToken(ctx, rt)
		if err != nil {
			return "", err
		}
		s.logger.Debug("Rotated refresh token",
			"client_id", client.ClientID,
			"old_prefix", util.SafeTruncate(handle, handleLogLength),
			"version", rt.Version)
		s.recordRotation(ctx, client.ClientID, true)
		return newHandle, nil

	case storage.TokenUsageReUse:
		if err := s.grants.UpdateRefreshToken(ctx, handle, rt); err != nil {
			return "", err
		}
		s.recordRotation(ctx, client.ClientID, false)
		return handle, nil
	}
	return "", fmt.Errorf("unknown refresh token usage %v", client.RefreshTokenUsage)
}

func (s *RefreshTokenService) recordRotation(ctx context.Context, clientID string, rotated bool) {
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordRefreshTokenRotation(ctx, clientID, rotated)
	}
}

// initialLifetime returns the lifetime of a new refresh token in seconds.
// Zero means no expiry.
func initialLifetime(client *storage.Client) int {
	if client.RefreshTokenExpiration == storage.TokenExpirationSliding {
		return slidingLifetime(0, client)
	}
	return client.AbsoluteRefreshTokenLifetime
}

// slidingLifetime extends a token of the given age by the sliding lifetime,
// capped by the absolute lifetime when one is set.
func slidingLifetime(ageSeconds float64, client *storage.Client) int {
	lifetime := int(ageSeconds) + client.SlidingRefreshTokenLifetime
	if client.AbsoluteRefreshTokenLifetime > 0 && lifetime > client.AbsoluteRefreshTokenLifetime {
		lifetime = client.AbsoluteRefreshTokenLifetime
	}
	return lifetime
}
