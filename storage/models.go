package storage

import (
	"fmt"
	"slices"
	"time"
)

// GrantType identifies the kind of a persisted grant.
type GrantType string

// Persisted grant types
const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeRefreshToken      GrantType = "refresh_token"
	GrantTypeReferenceToken    GrantType = "reference_token"
)

// Valid reports whether t is one of the known persisted grant types.
func (t GrantType) Valid() bool {
	switch t {
	case GrantTypeAuthorizationCode, GrantTypeRefreshToken, GrantTypeReferenceToken:
		return true
	}
	return false
}

// PersistedGrant is an opaque grant record stored under a random handle.
type PersistedGrant struct {
	Key          string    `json:"key"`
	Type         GrantType `json:"type"`
	SubjectID    string    `json:"subject_id,omitempty"`
	ClientID     string    `json:"client_id"`
	CreationTime time.Time `json:"creation_time"`
	Expiration   time.Time `json:"expiration"`

	// Data is the serialized payload (JSON, optionally encrypted)
	Data []byte `json:"data"`
}

// Validate checks the fields every backend relies on for indexing.
func (g *PersistedGrant) Validate() error {
	if g == nil {
		return fmt.Errorf("%w: grant is nil", ErrInvalidGrant)
	}
	if g.Key == "" {
		return fmt.Errorf("%w: key is empty", ErrInvalidGrant)
	}
	if !g.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidGrant, g.Type)
	}
	if g.ClientID == "" {
		return fmt.Errorf("%w: client id is empty", ErrInvalidGrant)
	}
	return nil
}

// IsExpired reports whether the grant expired before now.
// A zero Expiration never expires.
func (g *PersistedGrant) IsExpired(now time.Time) bool {
	return !g.Expiration.IsZero() && now.After(g.Expiration)
}

// AccessTokenType selects how access tokens issued to a client are represented.
type AccessTokenType int

const (
	// AccessTokenTypeJWT issues self-contained signed JWTs
	AccessTokenTypeJWT AccessTokenType = iota
	// AccessTokenTypeReference issues opaque handles backed by a persisted grant
	AccessTokenTypeReference
)

// String returns the configuration name of the access token type.
func (t AccessTokenType) String() string {
	switch t {
	case AccessTokenTypeJWT:
		return "jwt"
	case AccessTokenTypeReference:
		return "reference"
	}
	return fmt.Sprintf("AccessTokenType(%d)", int(t))
}

// ParseAccessTokenType parses "jwt" or "reference". An empty string yields jwt.
func ParseAccessTokenType(s string) (AccessTokenType, error) {
	switch s {
	case "", "jwt":
		return AccessTokenTypeJWT, nil
	case "reference":
		return AccessTokenTypeReference, nil
	}
	return 0, fmt.Errorf("unknown access token type %q", s)
}

// TokenUsage selects whether a refresh token handle survives a refresh.
type TokenUsage int

const (
	// TokenUsageOneTimeOnly rotates the refresh token handle on every use
	TokenUsageOneTimeOnly TokenUsage = iota
	// TokenUsageReUse keeps the refresh token handle across refreshes
	TokenUsageReUse
)

// String returns the configuration name of the usage policy.
func (u TokenUsage) String() string {
	switch u {
	case TokenUsageOneTimeOnly:
		return "one_time"
	case TokenUsageReUse:
		return "reuse"
	}
	return fmt.Sprintf("TokenUsage(%d)", int(u))
}

// ParseTokenUsage parses "one_time" or "reuse". An empty string yields one_time.
func ParseTokenUsage(s string) (TokenUsage, error) {
	switch s {
	case "", "one_time":
		return TokenUsageOneTimeOnly, nil
	case "reuse":
		return TokenUsageReUse, nil
	}
	return 0, fmt.Errorf("unknown refresh token usage %q", s)
}

// TokenExpiration selects how a refresh token lifetime evolves when it is used.
type TokenExpiration int

const (
	// TokenExpirationAbsolute never extends the lifetime past the original deadline
	TokenExpirationAbsolute TokenExpiration = iota
	// TokenExpirationSliding extends the lifetime on every use, capped by the absolute lifetime
	TokenExpirationSliding
)

// String returns the configuration name of the expiration policy.
func (e TokenExpiration) String() string {
	switch e {
	case TokenExpirationAbsolute:
		return "absolute"
	case TokenExpirationSliding:
		return "sliding"
	}
	return fmt.Sprintf("TokenExpiration(%d)", int(e))
}

// ParseTokenExpiration parses "absolute" or "sliding". An empty string yields absolute.
func ParseTokenExpiration(s string) (TokenExpiration, error) {
	switch s {
	case "", "absolute":
		return TokenExpirationAbsolute, nil
	case "sliding":
		return TokenExpirationSliding, nil
	}
	return 0, fmt.Errorf("unknown refresh token expiration %q", s)
}

// Secret is a hashed shared secret with an optional expiry.
type Secret struct {
	// Value is the bcrypt hash of the secret
	Value       string
	Description string
	Expiration  time.Time
}

// Default client lifetimes in seconds
const (
	DefaultAccessTokenLifetime          = 3600
	DefaultIdentityTokenLifetime        = 300
	DefaultAuthorizationCodeLifetime    = 300
	DefaultAbsoluteRefreshTokenLifetime = 2592000
	DefaultSlidingRefreshTokenLifetime  = 1296000
)

// Client is a registered OAuth client. Clients are immutable during a request.
type Client struct {
	ClientID   string
	ClientName string
	Enabled    bool

	// ClientSecrets holds bcrypt hashes; any unexpired match authenticates the client
	ClientSecrets []Secret

	AllowedGrantTypes      []string
	AllowedScopes          []string
	AllowAccessToAllScopes bool
	RedirectURIs           []string

	// RequirePKCE rejects authorization codes issued without a code challenge
	RequirePKCE        bool
	AllowPlainTextPKCE bool

	AccessTokenType AccessTokenType
	IncludeJwtID    bool

	// AlwaysIncludeUserClaimsInIdToken puts identity scope claims into identity
	// tokens even when an access token is issued alongside
	AlwaysIncludeUserClaimsInIdToken bool

	// Lifetimes in seconds
	AccessTokenLifetime          int
	IdentityTokenLifetime        int
	AuthorizationCodeLifetime    int
	AbsoluteRefreshTokenLifetime int
	SlidingRefreshTokenLifetime  int

	RefreshTokenUsage                TokenUsage
	RefreshTokenExpiration           TokenExpiration
	UpdateAccessTokenClaimsOnRefresh bool

	// Claims are added to every access token issued to this client
	Claims             []Claim
	PrefixClientClaims bool
}

// AllowsGrantType reports whether the client may use grantType.
func (c *Client) AllowsGrantType(grantType string) bool {
	return slices.Contains(c.AllowedGrantTypes, grantType)
}

// AllowsScope reports whether name is in the client's allowed scopes.
// AllowAccessToAllScopes is not considered here.
func (c *Client) AllowsScope(name string) bool {
	return slices.Contains(c.AllowedScopes, name)
}

// AllowsRedirectURI reports whether uri exactly matches a registered redirect URI.
func (c *Client) AllowsRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// ApplyDefaults fills unset lifetimes with the package defaults.
func (c *Client) ApplyDefaults() {
	if c.AccessTokenLifetime <= 0 {
		c.AccessTokenLifetime = DefaultAccessTokenLifetime
	}
	if c.IdentityTokenLifetime <= 0 {
		c.IdentityTokenLifetime = DefaultIdentityTokenLifetime
	}
	if c.AuthorizationCodeLifetime <= 0 {
		c.AuthorizationCodeLifetime = DefaultAuthorizationCodeLifetime
	}
	if c.AbsoluteRefreshTokenLifetime < 0 {
		c.AbsoluteRefreshTokenLifetime = DefaultAbsoluteRefreshTokenLifetime
	}
	if c.SlidingRefreshTokenLifetime <= 0 {
		c.SlidingRefreshTokenLifetime = DefaultSlidingRefreshTokenLifetime
	}
}

// ScopeType distinguishes identity scopes from resource (API) scopes.
type ScopeType int

const (
	// ScopeTypeResource grants access to an API
	ScopeTypeResource ScopeType = iota
	// ScopeTypeIdentity grants identity claims about the user
	ScopeTypeIdentity
)

// String returns the configuration name of the scope type.
func (t ScopeType) String() string {
	switch t {
	case ScopeTypeResource:
		return "resource"
	case ScopeTypeIdentity:
		return "identity"
	}
	return fmt.Sprintf("ScopeType(%d)", int(t))
}

// ParseScopeType parses "resource" or "identity". An empty string yields resource.
func ParseScopeType(s string) (ScopeType, error) {
	switch s {
	case "", "resource":
		return ScopeTypeResource, nil
	case "identity":
		return ScopeTypeIdentity, nil
	}
	return 0, fmt.Errorf("unknown scope type %q", s)
}

// Well-known scope names
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeOfflineAccess = "offline_access"
)

// Scope is an identity or resource scope definition.
type Scope struct {
	Name        string
	DisplayName string
	Type        ScopeType
	Enabled     bool

	// ShowInDiscoveryDocument marks the scope as public
	ShowInDiscoveryDocument bool

	// Claims lists the user claim types included when this scope is granted
	Claims []string

	// ScopeSecrets authenticate the scope at the introspection endpoint
	ScopeSecrets []Secret

	// AllowUnrestrictedIntrospection lets this scope see every claim of an introspected token
	AllowUnrestrictedIntrospection bool

	// IncludeAllClaimsForUser emits every profile claim rather than only Claims
	IncludeAllClaimsForUser bool
}

// OpenIDScope returns the standard openid identity scope.
func OpenIDScope() *Scope {
	return &Scope{
		Name:                    ScopeOpenID,
		DisplayName:             "Your user identifier",
		Type:                    ScopeTypeIdentity,
		Enabled:                 true,
		ShowInDiscoveryDocument: true,
		Claims:                  []string{ClaimSubject},
	}
}

// ProfileScope returns the standard profile identity scope.
func ProfileScope() *Scope {
	return &Scope{
		Name:                    ScopeProfile,
		DisplayName:             "User profile",
		Type:                    ScopeTypeIdentity,
		Enabled:                 true,
		ShowInDiscoveryDocument: true,
		Claims: []string{
			"name", "family_name", "given_name", "middle_name", "nickname",
			"preferred_username", "profile", "picture", "website", "gender",
			"birthdate", "zoneinfo", "locale", "updated_at",
		},
	}
}

// EmailScope returns the standard email identity scope.
func EmailScope() *Scope {
	return &Scope{
		Name:                    ScopeEmail,
		DisplayName:             "Your email address",
		Type:                    ScopeTypeIdentity,
		Enabled:                 true,
		ShowInDiscoveryDocument: true,
		Claims:                  []string{"email", "email_verified"},
	}
}

// OfflineAccessScope returns the offline_access scope that enables refresh tokens.
func OfflineAccessScope() *Scope {
	return &Scope{
		Name:                    ScopeOfflineAccess,
		DisplayName:             "Offline access",
		Type:                    ScopeTypeResource,
		Enabled:                 true,
		ShowInDiscoveryDocument: true,
	}
}

// IsIdentityScopeName reports whether name is one of the standard identity scopes
// or offline_access, which client_credentials requests may not carry.
func IsIdentityScopeName(name string) bool {
	switch name {
	case ScopeOpenID, ScopeProfile, ScopeEmail, ScopeOfflineAccess:
		return true
	}
	return false
}
