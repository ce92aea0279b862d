// Package grants provides typed access to authorization codes, refresh tokens
// and reference tokens persisted in a storage.GrantStore.
package grants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oidc-grants/internal/util"
	"github.com/giantswarm/oidc-grants/security"
	"github.com/giantswarm/oidc-grants/storage"
)

// ErrGrantConsumed is returned when a one-time grant was taken by a concurrent request
var ErrGrantConsumed = errors.New("grant already consumed")

// handleLogLength is the number of handle characters included in logs
const handleLogLength = 8

// Config configures a Service.
type Config struct {
	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// Encryptor seals payloads at rest. Nil or disabled stores plain JSON.
	Encryptor *security.Encryptor

	// Clock overrides time.Now in tests
	Clock security.Clock
}

// Service stores and loads typed grant payloads. Lookups return nil, nil for
// grants that are absent, expired or of another type, so callers never
// distinguish those cases on the wire.
type Service struct {
	store     storage.GrantStore
	logger    *slog.Logger
	encryptor *security.Encryptor
	clock     security.Clock
}

// NewService creates a grant service over store.
func NewService(store storage.GrantStore, cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Encryptor.IsEnabled() {
		cfg.Logger.Info("Grant payload encryption at rest enabled")
	}
	return &Service{
		store:     store,
		logger:    cfg.Logger,
		encryptor: cfg.Encryptor,
		clock:     cfg.Clock,
	}
}

// SetEncryptor replaces the payload encryptor. Grants sealed with another key
// can no longer be read.
func (s *Service) SetEncryptor(enc *security.Encryptor) {
	s.encryptor = enc
}

// NewHandle returns a new 256-bit random handle, base64url encoded.
func NewHandle() string {
	return oauth2.GenerateVerifier()
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// ============================================================
// Authorization codes
// ============================================================

// StoreAuthorizationCode persists code under a new handle and returns the handle.
func (s *Service) StoreAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (string, error) {
	handle := NewHandle()
	err := s.storeGrant(ctx, handle, storage.GrantTypeAuthorizationCode,
		code.SubjectID(), code.ClientID, code.CreationTime, code.Expiration(), code)
	if err != nil {
		return "", err
	}
	return handle, nil
}

// TakeAuthorizationCode atomically removes and returns the code. A code can
// be taken once; every later or concurrent call returns nil.
func (s *Service) TakeAuthorizationCode(ctx context.Context, handle string) (*storage.AuthorizationCode, error) {
	grant, err := s.takeGrant(ctx, handle, storage.GrantTypeAuthorizationCode)
	if err != nil || grant == nil {
		return nil, err
	}

	var code storage.AuthorizationCode
	ok, err := s.decode(grant, storage.GrantTypeAuthorizationCode, &code)
	if err != nil || !ok {
		return nil, err
	}
	return &code, nil
}

// ============================================================
// Refresh tokens
// ============================================================

// StoreRefreshToken persists token under a new handle and returns the handle.
func (s *Service) StoreRefreshToken(ctx context.Context, token *storage.RefreshToken) (string, error) {
	handle := NewHandle()
	if err := s.UpdateRefreshToken(ctx, handle, token); err != nil {
		return "", err
	}
	return handle, nil
}

// UpdateRefreshToken stores token under an existing handle.
func (s *Service) UpdateRefreshToken(ctx context.Context, handle string, token *storage.RefreshToken) error {
	return s.storeGrant(ctx, handle, storage.GrantTypeRefreshToken,
		token.SubjectID(), token.ClientID(), token.CreationTime, token.Expiration(), token)
}

// GetRefreshToken returns the refresh token stored under handle.
func (s *Service) GetRefreshToken(ctx context.Context, handle string) (*storage.RefreshToken, error) {
	var token storage.RefreshToken
	ok, err := s.getGrant(ctx, handle, storage.GrantTypeRefreshToken, &token)
	if err != nil || !ok {
		return nil, err
	}
	return &token, nil
}

// TakeRefreshToken atomically removes and returns the refresh token.
// It returns ErrGrantConsumed when the handle is gone.
func (s *Service) TakeRefreshToken(ctx context.Context, handle string) (*storage.RefreshToken, error) {
	grant, err := s.takeGrant(ctx, handle, storage.GrantTypeRefreshToken)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, ErrGrantConsumed
	}

	var token storage.RefreshToken
	ok, err := s.decode(grant, storage.GrantTypeRefreshToken, &token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrGrantConsumed
	}
	return &token, nil
}

// RemoveRefreshToken deletes the refresh token stored under handle.
func (s *Service) RemoveRefreshToken(ctx context.Context, handle string) error {
	return s.removeGrant(ctx, handle, storage.GrantTypeRefreshToken)
}

// RemoveRefreshTokens deletes every refresh token of subjectID issued to clientID.
func (s *Service) RemoveRefreshTokens(ctx context.Context, subjectID, clientID string) error {
	if err := s.store.RemoveAllByType(ctx, subjectID, clientID, storage.GrantTypeRefreshToken); err != nil {
		return fmt.Errorf("failed to remove refresh tokens: %w", err)
	}
	return nil
}

// ============================================================
// Reference tokens
// ============================================================

// StoreReferenceToken persists token under a new handle and returns the handle.
func (s *Service) StoreReferenceToken(ctx context.Context, token *storage.Token) (string, error) {
	handle := NewHandle()
	err := s.storeGrant(ctx, handle, storage.GrantTypeReferenceToken,
		token.SubjectID(), token.ClientID, token.CreationTime, token.Expiration(), token)
	if err != nil {
		return "", err
	}
	return handle, nil
}

// GetReferenceToken returns the access token stored under handle.
func (s *Service) GetReferenceToken(ctx context.Context, handle string) (*storage.Token, error) {
	var token storage.Token
	ok, err := s.getGrant(ctx, handle, storage.GrantTypeReferenceToken, &token)
	if err != nil || !ok {
		return nil, err
	}
	return &token, nil
}

// RemoveReferenceToken deletes the reference token stored under handle.
func (s *Service) RemoveReferenceToken(ctx context.Context, handle string) error {
	return s.removeGrant(ctx, handle, storage.GrantTypeReferenceToken)
}

// RemoveReferenceTokens deletes every reference token of subjectID issued to clientID.
func (s *Service) RemoveReferenceTokens(ctx context.Context, subjectID, clientID string) error {
	if err := s.store.RemoveAllByType(ctx, subjectID, clientID, storage.GrantTypeReferenceToken); err != nil {
		return fmt.Errorf("failed to remove reference tokens: %w", err)
	}
	return nil
}

// ============================================================
// Grant management
// ============================================================

// Summary describes a live grant without exposing its handle.
type Summary struct {
	ClientID     string
	Type         storage.GrantType
	Scopes       []string
	CreationTime time.Time
	Expiration   time.Time
}

// GetAllGrants lists the unexpired grants of subjectID.
func (s *Service) GetAllGrants(ctx context.Context, subjectID string) ([]Summary, error) {
	all, err := s.store.GetAll(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}

	now := s.clock.Now()
	out := make([]Summary, 0, len(all))
	for _, g := range all {
		if g.IsExpired(now) {
			continue
		}
		summary := Summary{
			ClientID:     g.ClientID,
			Type:         g.Type,
			CreationTime: g.CreationTime,
			Expiration:   g.Expiration,
		}
		scopes, err := s.scopesOf(g)
		if err != nil {
			s.logger.Warn("Skipping unreadable grant",
				"type", g.Type,
				"client_id", g.ClientID,
				"error", err)
			continue
		}
		summary.Scopes = scopes
		out = append(out, summary)
	}
	return out, nil
}

// RemoveAllGrants deletes every grant of subjectID issued to clientID.
func (s *Service) RemoveAllGrants(ctx context.Context, subjectID, clientID string) error {
	if err := s.store.RemoveAll(ctx, subjectID, clientID); err != nil {
		return fmt.Errorf("failed to remove grants: %w", err)
	}
	return nil
}

func (s *Service) scopesOf(g *storage.PersistedGrant) ([]string, error) {
	switch g.Type {
	case storage.GrantTypeAuthorizationCode:
		var code storage.AuthorizationCode
		if err := s.unseal(g, &code); err != nil {
			return nil, err
		}
		return code.RequestedScopes, nil
	case storage.GrantTypeRefreshToken:
		var token storage.RefreshToken
		if err := s.unseal(g, &token); err != nil {
			return nil, err
		}
		return token.Scopes(), nil
	case storage.GrantTypeReferenceToken:
		var token storage.Token
		if err := s.unseal(g, &token); err != nil {
			return nil, err
		}
		return token.Scopes(), nil
	}
	return nil, fmt.Errorf("unknown grant type %q", g.Type)
}

// ============================================================
// Helpers
// ============================================================

func (s *Service) storeGrant(ctx context.Context, handle string, grantType storage.GrantType, subjectID, clientID string, created, expires time.Time, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", grantType, err)
	}
	data, err = s.encryptor.Seal(data, []byte(handle))
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", grantType, err)
	}

	grant := &storage.PersistedGrant{
		Key:          handle,
		Type:         grantType,
		SubjectID:    subjectID,
		ClientID:     clientID,
		CreationTime: created,
		Expiration:   expires,
		Data:         data,
	}
	if err := s.store.Store(ctx, grant); err != nil {
		return fmt.Errorf("failed to store %s: %w", grantType, err)
	}
	return nil
}

// getGrant loads and decodes a grant into out. It reports false when the
// grant is absent, of another type or expired. Expired grants are removed.
func (s *Service) getGrant(ctx context.Context, handle string, grantType storage.GrantType, out any) (bool, error) {
	if handle == "" {
		return false, nil
	}
	grant, err := s.store.Get(ctx, handle)
	if err != nil {
		if errors.Is(err, storage.ErrGrantNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s: %w", grantType, err)
	}

	if grant.Type == grantType && grant.IsExpired(s.clock.Now()) {
		if err := s.store.Remove(ctx, handle); err != nil {
			s.logger.Warn("Failed to remove expired grant",
				"type", grantType,
				"key_prefix", util.SafeTruncate(handle, handleLogLength),
				"error", err)
		}
		return false, nil
	}
	return s.decode(grant, grantType, out)
}

// takeGrant atomically removes the grant under handle when it has grantType.
// Grants of another type are left untouched. It returns nil when nothing was taken.
func (s *Service) takeGrant(ctx context.Context, handle string, grantType storage.GrantType) (*storage.PersistedGrant, error) {
	if handle == "" {
		return nil, nil
	}
	existing, err := s.store.Get(ctx, handle)
	if err != nil {
		if errors.Is(err, storage.ErrGrantNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s: %w", grantType, err)
	}
	if existing.Type != grantType {
		return nil, nil
	}

	// Take is the linearization point; the Get above only guards the type.
	grant, err := s.store.Take(ctx, handle)
	if err != nil {
		if errors.Is(err, storage.ErrGrantNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to take %s: %w", grantType, err)
	}
	return grant, nil
}

// decode checks type and expiry then unseals the payload.
func (s *Service) decode(grant *storage.PersistedGrant, grantType storage.GrantType, out any) (bool, error) {
	if grant.Type != grantType {
		s.logger.Debug("Grant type mismatch",
			"want", grantType,
			"got", grant.Type,
			"key_prefix", util.SafeTruncate(grant.Key, handleLogLength))
		return false, nil
	}
	if grant.IsExpired(s.clock.Now()) {
		s.logger.Debug("Grant expired",
			"type", grantType,
			"key_prefix", util.SafeTruncate(grant.Key, handleLogLength))
		return false, nil
	}
	if err := s.unseal(grant, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) unseal(grant *storage.PersistedGrant, out any) error {
	data, err := s.encryptor.Open(grant.Data, []byte(grant.Key))
	if err != nil {
		return fmt.Errorf("failed to decrypt %s: %w", grant.Type, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", grant.Type, err)
	}
	return nil
}

func (s *Service) removeGrant(ctx context.Context, handle string, grantType storage.GrantType) error {
	grant, err := s.store.Get(ctx, handle)
	if err != nil {
		if errors.Is(err, storage.ErrGrantNotFound) {
			return nil
		}
		return fmt.Errorf("failed to get %s: %w", grantType, err)
	}
	if grant.Type != grantType {
		return nil
	}
	if err := s.store.Remove(ctx, handle); err != nil {
		return fmt.Errorf("failed to remove %s: %w", grantType, err)
	}
	return nil
}
