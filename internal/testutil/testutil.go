package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/giantswarm/oidc-grants/storage"
)

// Fixture identifiers
const (
	TestIssuer       = "https://idsvr.test"
	TestSubject      = "818727"
	TestRedirectURI  = "https://client.test/callback"
	TestClientSecret = "secret"
	TestScopeSecret  = "secret"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.now = t
}

// GenerateRandomString generates a random base64url string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid S256 PKCE challenge and verifier pair.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = GenerateRandomString(50)
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}

// secret is hashed once; bcrypt is slow enough to matter across many tests
var secret = storage.MustHashSecret(TestClientSecret)

// Clients returns the standard test clients:
//   - client: client_credentials with api1 and api2, JWT access tokens
//   - client.reference: client_credentials with every scope, reference access tokens
//   - codeclient: authorization_code with PKCE, offline access, one-time refresh tokens
//   - roclient: password and refresh_token with reusable sliding refresh tokens
//   - customgrantclient: the "custom" extension grant
//   - disabled: a disabled client
func Clients() []*storage.Client {
	clients := []*storage.Client{
		{
			ClientID:          "client",
			ClientName:        "Client Credentials Client",
			Enabled:           true,
			ClientSecrets:     []storage.Secret{secret},
			AllowedGrantTypes: []string{"client_credentials"},
			AllowedScopes:     []string{"api1", "api2"},
			AccessTokenType:   storage.AccessTokenTypeJWT,
		},
		{
			ClientID:               "client.reference",
			ClientName:             "Reference Token Client",
			Enabled:                true,
			ClientSecrets:          []storage.Secret{secret},
			AllowedGrantTypes:      []string{"client_credentials"},
			AllowAccessToAllScopes: true,
			AccessTokenType:        storage.AccessTokenTypeReference,
		},
		{
			ClientID:               "codeclient",
			ClientName:             "Code Client",
			Enabled:                true,
			ClientSecrets:          []storage.Secret{secret},
			AllowedGrantTypes:      []string{"authorization_code", "refresh_token"},
			AllowedScopes:          []string{"openid", "profile", "email", "api1", "api2", "offline_access"},
			RedirectURIs:           []string{TestRedirectURI},
			RequirePKCE:            true,
			AccessTokenType:        storage.AccessTokenTypeJWT,
			RefreshTokenUsage:      storage.TokenUsageOneTimeOnly,
			RefreshTokenExpiration: storage.TokenExpirationAbsolute,
		},
		{
			ClientID:                     "roclient",
			ClientName:                   "Resource Owner Client",
			Enabled:                      true,
			ClientSecrets:                []storage.Secret{secret},
			AllowedGrantTypes:            []string{"password", "refresh_token"},
			AllowedScopes:                []string{"openid", "email", "api1", "api2", "offline_access"},
			AccessTokenType:              storage.AccessTokenTypeReference,
			RefreshTokenUsage:            storage.TokenUsageReUse,
			RefreshTokenExpiration:       storage.TokenExpirationSliding,
			SlidingRefreshTokenLifetime:  3600,
			AbsoluteRefreshTokenLifetime: 7200,
		},
		{
			ClientID:          "customgrantclient",
			ClientName:        "Custom Grant Client",
			Enabled:           true,
			ClientSecrets:     []storage.Secret{secret},
			AllowedGrantTypes: []string{"custom"},
			AllowedScopes:     []string{"api1", "offline_access"},
			AccessTokenType:   storage.AccessTokenTypeJWT,
		},
		{
			ClientID:          "disabled",
			ClientName:        "Disabled Client",
			Enabled:           false,
			ClientSecrets:     []storage.Secret{secret},
			AllowedGrantTypes: []string{"client_credentials"},
			AllowedScopes:     []string{"api1"},
		},
	}
	for _, c := range clients {
		c.ApplyDefaults()
	}
	return clients
}

// Scopes returns the standard test scopes: openid, profile, email, offline_access,
// api1 and api2 (scope secret "secret"), unrestricted.api (unrestricted introspection)
// and disabled.api.
func Scopes() []*storage.Scope {
	return []*storage.Scope{
		storage.OpenIDScope(),
		storage.ProfileScope(),
		storage.EmailScope(),
		storage.OfflineAccessScope(),
		{
			Name:         "api1",
			Type:         storage.ScopeTypeResource,
			Enabled:      true,
			Claims:       []string{"role"},
			ScopeSecrets: []storage.Secret{secret},
		},
		{
			Name:         "api2",
			Type:         storage.ScopeTypeResource,
			Enabled:      true,
			ScopeSecrets: []storage.Secret{secret},
		},
		{
			Name:                           "unrestricted.api",
			Type:                           storage.ScopeTypeResource,
			Enabled:                        true,
			ScopeSecrets:                   []storage.Secret{secret},
			AllowUnrestrictedIntrospection: true,
		},
		{
			Name:    "disabled.api",
			Type:    storage.ScopeTypeResource,
			Enabled: false,
		},
	}
}

// SubjectClaims returns the claims of an authenticated test user.
func SubjectClaims(subjectID string, authTime time.Time) []storage.Claim {
	return []storage.Claim{
		storage.NewClaim(storage.ClaimSubject, subjectID),
		storage.NewClaim(storage.ClaimAuthTime, fmt.Sprintf("%d", authTime.Unix())),
		storage.NewClaim(storage.ClaimIdP, "local"),
		storage.NewClaim(storage.ClaimAuthMethod, "pwd"),
	}
}
