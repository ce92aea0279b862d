package static

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/giantswarm/oidc-grants/internal/testutil"
	"github.com/giantswarm/oidc-grants/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(testutil.Clients(), testutil.Scopes())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestNew_RejectsDuplicates(t *testing.T) {
	tests := []struct {
		name    string
		clients []*storage.Client
		scopes  []*storage.Scope
	}{
		{
			name:    "duplicate client",
			clients: []*storage.Client{{ClientID: "a"}, {ClientID: "a"}},
		},
		{
			name:    "empty client id",
			clients: []*storage.Client{{}},
		},
		{
			name:   "duplicate scope",
			scopes: []*storage.Scope{{Name: "api"}, {Name: "api"}},
		},
		{
			name:   "empty scope name",
			scopes: []*storage.Scope{{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.clients, tt.scopes); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}

func TestFindClientByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.FindClientByID(ctx, "client")
	if err != nil {
		t.Fatalf("FindClientByID() error = %v", err)
	}
	if c.ClientID != "client" {
		t.Errorf("ClientID = %q, want %q", c.ClientID, "client")
	}

	// Returned clients are copies
	c.AllowedScopes[0] = "mutated"
	again, _ := s.FindClientByID(ctx, "client")
	if again.AllowedScopes[0] != "api1" {
		t.Errorf("store was mutated through returned client: %v", again.AllowedScopes)
	}

	if _, err := s.FindClientByID(ctx, "unknown"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("FindClientByID(unknown) error = %v, want ErrClientNotFound", err)
	}
}

func TestFindScopesByName(t *testing.T) {
	s := newTestStore(t)

	scopes, err := s.FindScopesByName(context.Background(), []string{"api2", "unknown", "api1", "api2"})
	if err != nil {
		t.Fatalf("FindScopesByName() error = %v", err)
	}
	if len(scopes) != 2 {
		t.Fatalf("got %d scopes, want 2", len(scopes))
	}
	if scopes[0].Name != "api2" || scopes[1].Name != "api1" {
		t.Errorf("scopes = [%s %s], want [api2 api1]", scopes[0].Name, scopes[1].Name)
	}
}

func TestGetScopes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	all, err := s.GetScopes(ctx, false)
	if err != nil {
		t.Fatalf("GetScopes() error = %v", err)
	}
	if len(all) != len(testutil.Scopes()) {
		t.Errorf("GetScopes(false) = %d scopes, want %d", len(all), len(testutil.Scopes()))
	}

	public, err := s.GetScopes(ctx, true)
	if err != nil {
		t.Fatalf("GetScopes() error = %v", err)
	}
	// Only the four standard scopes are published
	if len(public) != 4 {
		t.Errorf("GetScopes(true) = %d scopes, want 4", len(public))
	}
}

func TestReplace_KeepsOldSetOnError(t *testing.T) {
	s := newTestStore(t)

	if err := s.Replace([]*storage.Client{{ClientID: "x"}, {ClientID: "x"}}, nil); err == nil {
		t.Fatal("Replace() expected error")
	}
	if _, err := s.FindClientByID(context.Background(), "client"); err != nil {
		t.Errorf("store changed after failed Replace: %v", err)
	}
}

const testFile = `
standard_scopes: true
clients:
  - client_id: svc
    client_name: Service
    secrets:
      - value: "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
    allowed_grant_types: [client_credentials]
    allowed_scopes: [api1]
    access_token_type: reference
    claims:
      - type: tenant
        value: acme
    prefix_client_claims: true
  - client_id: web
    enabled: false
    allowed_grant_types: [authorization_code, refresh_token]
    refresh_token_usage: reuse
    refresh_token_expiration: sliding
    absolute_refresh_token_lifetime: 0
scopes:
  - name: api1
    claims: [role]
    allow_unrestricted_introspection: true
  - name: openid
    type: identity
    display_name: Custom OpenID
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(testFile))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	ctx := context.Background()

	svc, err := s.FindClientByID(ctx, "svc")
	if err != nil {
		t.Fatalf("FindClientByID(svc) error = %v", err)
	}
	if !svc.Enabled {
		t.Error("svc should default to enabled")
	}
	if svc.AccessTokenType != storage.AccessTokenTypeReference {
		t.Errorf("AccessTokenType = %v, want reference", svc.AccessTokenType)
	}
	if svc.AccessTokenLifetime != storage.DefaultAccessTokenLifetime {
		t.Errorf("AccessTokenLifetime = %d, want default", svc.AccessTokenLifetime)
	}
	if svc.AbsoluteRefreshTokenLifetime != storage.DefaultAbsoluteRefreshTokenLifetime {
		t.Errorf("AbsoluteRefreshTokenLifetime = %d, want default", svc.AbsoluteRefreshTokenLifetime)
	}
	if len(svc.Claims) != 1 || svc.Claims[0].Type != "tenant" || !svc.PrefixClientClaims {
		t.Errorf("unexpected client claims: %+v", svc.Claims)
	}

	web, err := s.FindClientByID(ctx, "web")
	if err != nil {
		t.Fatalf("FindClientByID(web) error = %v", err)
	}
	if web.Enabled {
		t.Error("web should be disabled")
	}
	if web.RefreshTokenUsage != storage.TokenUsageReUse || web.RefreshTokenExpiration != storage.TokenExpirationSliding {
		t.Errorf("refresh policy = %v/%v, want reuse/sliding", web.RefreshTokenUsage, web.RefreshTokenExpiration)
	}
	if web.AbsoluteRefreshTokenLifetime != 0 {
		t.Errorf("explicit zero absolute lifetime was overridden: %d", web.AbsoluteRefreshTokenLifetime)
	}

	scopes, _ := s.FindScopesByName(ctx, []string{"openid", "profile", "offline_access"})
	if len(scopes) != 3 {
		t.Fatalf("got %d scopes, want 3", len(scopes))
	}
	if scopes[0].DisplayName != "Custom OpenID" {
		t.Errorf("configured openid scope should win over the standard one, got %q", scopes[0].DisplayName)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"invalid yaml", "clients: [\n"},
		{"plaintext secret", "clients:\n  - client_id: a\n    secrets:\n      - value: secret\n"},
		{"unknown token type", "clients:\n  - client_id: a\n    access_token_type: opaque\n"},
		{"unknown usage", "clients:\n  - client_id: a\n    refresh_token_usage: forever\n"},
		{"unknown scope type", "scopes:\n  - name: a\n    type: api\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("Parse() expected error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.yaml")
	if err := os.WriteFile(path, []byte(testFile), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if _, err := s.FindClientByID(context.Background(), "svc"); err != nil {
		t.Errorf("FindClientByID(svc) error = %v", err)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile(missing) expected error")
	}
}
