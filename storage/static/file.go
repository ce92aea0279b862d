package static

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/oidc-grants/storage"
)

// File is the YAML layout read by LoadFile.
//
//	clients:
//	  - client_id: client
//	    secrets:
//	      - value: $2a$10$...   # bcrypt hash
//	    allowed_grant_types: [client_credentials]
//	    allowed_scopes: [api1]
//	    access_token_type: jwt
//	scopes:
//	  - name: api1
//	    type: resource
//	    claims: [role]
type File struct {
	Clients []ClientConfig `yaml:"clients"`
	Scopes  []ScopeConfig  `yaml:"scopes"`

	// StandardScopes adds openid, profile, email and offline_access unless
	// a scope of the same name is configured explicitly
	StandardScopes bool `yaml:"standard_scopes"`
}

// SecretConfig is a hashed secret entry.
type SecretConfig struct {
	Value       string    `yaml:"value"`
	Description string    `yaml:"description"`
	Expiration  time.Time `yaml:"expiration"`
}

// ClaimConfig is a client claim entry.
type ClaimConfig struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// ClientConfig is the YAML form of storage.Client. Omitted lifetimes use the
// storage defaults and an omitted enabled flag means enabled.
type ClientConfig struct {
	ClientID                         string         `yaml:"client_id"`
	ClientName                       string         `yaml:"client_name"`
	Enabled                          *bool          `yaml:"enabled"`
	Secrets                          []SecretConfig `yaml:"secrets"`
	AllowedGrantTypes                []string       `yaml:"allowed_grant_types"`
	AllowedScopes                    []string       `yaml:"allowed_scopes"`
	AllowAccessToAllScopes           bool           `yaml:"allow_access_to_all_scopes"`
	RedirectURIs                     []string       `yaml:"redirect_uris"`
	RequirePKCE                      bool           `yaml:"require_pkce"`
	AllowPlainTextPKCE               bool           `yaml:"allow_plain_text_pkce"`
	AccessTokenType                  string         `yaml:"access_token_type"`
	IncludeJwtID                     bool           `yaml:"include_jwt_id"`
	AlwaysIncludeUserClaimsInIdToken bool           `yaml:"always_include_user_claims_in_id_token"`
	AccessTokenLifetime              int            `yaml:"access_token_lifetime"`
	IdentityTokenLifetime            int            `yaml:"identity_token_lifetime"`
	AuthorizationCodeLifetime        int            `yaml:"authorization_code_lifetime"`
	AbsoluteRefreshTokenLifetime     *int           `yaml:"absolute_refresh_token_lifetime"`
	SlidingRefreshTokenLifetime      int            `yaml:"sliding_refresh_token_lifetime"`
	RefreshTokenUsage                string         `yaml:"refresh_token_usage"`
	RefreshTokenExpiration           string         `yaml:"refresh_token_expiration"`
	UpdateAccessTokenClaimsOnRefresh bool           `yaml:"update_access_token_claims_on_refresh"`
	Claims                           []ClaimConfig  `yaml:"claims"`
	PrefixClientClaims               bool           `yaml:"prefix_client_claims"`
}

// ScopeConfig is the YAML form of storage.Scope.
type ScopeConfig struct {
	Name                           string         `yaml:"name"`
	DisplayName                    string         `yaml:"display_name"`
	Type                           string         `yaml:"type"`
	Enabled                        *bool          `yaml:"enabled"`
	ShowInDiscoveryDocument        bool           `yaml:"show_in_discovery_document"`
	Claims                         []string       `yaml:"claims"`
	Secrets                        []SecretConfig `yaml:"secrets"`
	AllowUnrestrictedIntrospection bool           `yaml:"allow_unrestricted_introspection"`
	IncludeAllClaimsForUser        bool           `yaml:"include_all_claims_for_user"`
}

// LoadFile reads clients and scopes from a YAML file and builds a Store.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Store from YAML data in the File layout.
func Parse(data []byte) (*Store, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse client configuration: %w", err)
	}
	clients, scopes, err := f.Build()
	if err != nil {
		return nil, err
	}
	return New(clients, scopes)
}

// Build converts the file into storage models.
func (f *File) Build() ([]*storage.Client, []*storage.Scope, error) {
	clients := make([]*storage.Client, 0, len(f.Clients))
	for i := range f.Clients {
		c, err := f.Clients[i].toClient()
		if err != nil {
			return nil, nil, fmt.Errorf("client %q: %w", f.Clients[i].ClientID, err)
		}
		clients = append(clients, c)
	}

	scopes := make([]*storage.Scope, 0, len(f.Scopes)+4)
	configured := make(map[string]bool, len(f.Scopes))
	for i := range f.Scopes {
		sc, err := f.Scopes[i].toScope()
		if err != nil {
			return nil, nil, fmt.Errorf("scope %q: %w", f.Scopes[i].Name, err)
		}
		configured[sc.Name] = true
		scopes = append(scopes, sc)
	}

	if f.StandardScopes {
		for _, sc := range []*storage.Scope{
			storage.OpenIDScope(),
			storage.ProfileScope(),
			storage.EmailScope(),
			storage.OfflineAccessScope(),
		} {
			if !configured[sc.Name] {
				scopes = append(scopes, sc)
			}
		}
	}

	return clients, scopes, nil
}

func (c *ClientConfig) toClient() (*storage.Client, error) {
	accessTokenType, err := storage.ParseAccessTokenType(c.AccessTokenType)
	if err != nil {
		return nil, err
	}
	usage, err := storage.ParseTokenUsage(c.RefreshTokenUsage)
	if err != nil {
		return nil, err
	}
	expiration, err := storage.ParseTokenExpiration(c.RefreshTokenExpiration)
	if err != nil {
		return nil, err
	}
	secrets, err := toSecrets(c.Secrets)
	if err != nil {
		return nil, err
	}

	claims := make([]storage.Claim, 0, len(c.Claims))
	for _, cl := range c.Claims {
		claims = append(claims, storage.NewClaim(cl.Type, cl.Value))
	}

	absolute := storage.DefaultAbsoluteRefreshTokenLifetime
	if c.AbsoluteRefreshTokenLifetime != nil {
		absolute = *c.AbsoluteRefreshTokenLifetime
	}

	client := &storage.Client{
		ClientID:                         c.ClientID,
		ClientName:                       c.ClientName,
		Enabled:                          c.Enabled == nil || *c.Enabled,
		ClientSecrets:                    secrets,
		AllowedGrantTypes:                c.AllowedGrantTypes,
		AllowedScopes:                    c.AllowedScopes,
		AllowAccessToAllScopes:           c.AllowAccessToAllScopes,
		RedirectURIs:                     c.RedirectURIs,
		RequirePKCE:                      c.RequirePKCE,
		AllowPlainTextPKCE:               c.AllowPlainTextPKCE,
		AccessTokenType:                  accessTokenType,
		IncludeJwtID:                     c.IncludeJwtID,
		AlwaysIncludeUserClaimsInIdToken: c.AlwaysIncludeUserClaimsInIdToken,
		AccessTokenLifetime:              c.AccessTokenLifetime,
		IdentityTokenLifetime:            c.IdentityTokenLifetime,
		AuthorizationCodeLifetime:        c.AuthorizationCodeLifetime,
		AbsoluteRefreshTokenLifetime:     absolute,
		SlidingRefreshTokenLifetime:      c.SlidingRefreshTokenLifetime,
		RefreshTokenUsage:                usage,
		RefreshTokenExpiration:           expiration,
		UpdateAccessTokenClaimsOnRefresh: c.UpdateAccessTokenClaimsOnRefresh,
		Claims:                           claims,
		PrefixClientClaims:               c.PrefixClientClaims,
	}
	client.ApplyDefaults()
	return client, nil
}

func (s *ScopeConfig) toScope() (*storage.Scope, error) {
	scopeType, err := storage.ParseScopeType(s.Type)
	if err != nil {
		return nil, err
	}
	secrets, err := toSecrets(s.Secrets)
	if err != nil {
		return nil, err
	}
	return &storage.Scope{
		Name:                           s.Name,
		DisplayName:                    s.DisplayName,
		Type:                           scopeType,
		Enabled:                        s.Enabled == nil || *s.Enabled,
		ShowInDiscoveryDocument:        s.ShowInDiscoveryDocument,
		Claims:                         s.Claims,
		ScopeSecrets:                   secrets,
		AllowUnrestrictedIntrospection: s.AllowUnrestrictedIntrospection,
		IncludeAllClaimsForUser:        s.IncludeAllClaimsForUser,
	}, nil
}

// toSecrets rejects plaintext values so configuration files never carry raw secrets.
func toSecrets(in []SecretConfig) ([]storage.Secret, error) {
	out := make([]storage.Secret, 0, len(in))
	for i, s := range in {
		if _, err := bcrypt.Cost([]byte(s.Value)); err != nil {
			return nil, fmt.Errorf("secret %d is not a bcrypt hash: %w", i, err)
		}
		out = append(out, storage.Secret{
			Value:       s.Value,
			Description: s.Description,
			Expiration:  s.Expiration,
		})
	}
	return out, nil
}
