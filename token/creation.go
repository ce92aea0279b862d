package token

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/oidc-grants/keys"
	"github.com/giantswarm/oidc-grants/storage"
)

// CreationService serializes a token model into its signed form.
type CreationService interface {
	CreateToken(ctx context.Context, token *storage.Token) (string, error)
}

// DefaultTokenCreationService signs tokens as RS256 JWTs with the active key.
type DefaultTokenCreationService struct {
	keys keys.MaterialService
}

var _ CreationService = (*DefaultTokenCreationService)(nil)

// NewCreationService creates a JWT creation service.
func NewCreationService(material keys.MaterialService) *DefaultTokenCreationService {
	return &DefaultTokenCreationService{keys: material}
}

// CreateToken returns the compact JWT of token. The header carries the kid of
// the signing key; the payload carries iss, aud, iat, nbf and exp plus the
// token claims.
func (s *DefaultTokenCreationService) CreateToken(ctx context.Context, token *storage.Token) (string, error) {
	key, err := s.keys.SigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get signing key: %w", err)
	}

	claims := jwt.MapClaims(Payload(token))

	jwtToken := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	jwtToken.Header["kid"] = key.ID

	signed, err := jwtToken.SignedString(key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Payload returns the JSON payload of token with the standard claims set from
// the token model. Token claims of the same types are replaced.
func Payload(token *storage.Token) map[string]any {
	payload := storage.ClaimsToMap(storage.WithoutClaims(token.Claims,
		storage.ClaimIssuer,
		storage.ClaimAudience,
		storage.ClaimNotBefore,
		storage.ClaimExpiration,
	))

	payload[storage.ClaimIssuer] = token.Issuer
	if token.Audience != "" {
		payload[storage.ClaimAudience] = token.Audience
	}
	if _, ok := payload[storage.ClaimIssuedAt]; !ok {
		payload[storage.ClaimIssuedAt] = token.CreationTime.Unix()
	}
	payload[storage.ClaimNotBefore] = token.CreationTime.Unix()
	payload[storage.ClaimExpiration] = token.Expiration().Unix()
	return payload
}

// HalfHash computes the at_hash value of an RS256 identity token:
// the base64url encoded left half of the SHA-256 digest of value.
func HalfHash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
