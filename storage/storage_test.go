package storage

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestPersistedGrant_Validate(t *testing.T) {
	tests := []struct {
		name    string
		grant   *PersistedGrant
		wantErr bool
	}{
		{
			name:    "nil grant",
			grant:   nil,
			wantErr: true,
		},
		{
			name:    "empty key",
			grant:   &PersistedGrant{Type: GrantTypeRefreshToken, ClientID: "c"},
			wantErr: true,
		},
		{
			name:    "unknown type",
			grant:   &PersistedGrant{Key: "k", Type: "device_code", ClientID: "c"},
			wantErr: true,
		},
		{
			name:    "missing client",
			grant:   &PersistedGrant{Key: "k", Type: GrantTypeReferenceToken},
			wantErr: true,
		},
		{
			name:    "valid",
			grant:   &PersistedGrant{Key: "k", Type: GrantTypeAuthorizationCode, ClientID: "c"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.grant.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidGrant) {
				t.Errorf("Validate() error = %v, want ErrInvalidGrant", err)
			}
		})
	}
}

func TestPersistedGrant_IsExpired(t *testing.T) {
	now := time.Now()

	g := &PersistedGrant{}
	if g.IsExpired(now) {
		t.Error("grant without expiration should never expire")
	}

	g.Expiration = now.Add(-time.Second)
	if !g.IsExpired(now) {
		t.Error("grant in the past should be expired")
	}

	g.Expiration = now.Add(time.Minute)
	if g.IsExpired(now) {
		t.Error("grant in the future should not be expired")
	}
}

func TestClaimsToMap(t *testing.T) {
	claims := []Claim{
		NewClaim(ClaimSubject, "alice"),
		NewClaim(ClaimScope, "api1"),
		NewClaim(ClaimScope, "api2"),
		NewClaim(ClaimAuthMethod, "pwd"),
		NewClaim(ClaimExpiration, "1700000000"),
		NewClaim(ClaimAudience, "https://issuer/resources"),
		NewClaim("role", "admin"),
		NewClaim("role", "ops"),
	}

	got := ClaimsToMap(claims)

	want := map[string]any{
		"sub":   "alice",
		"scope": []string{"api1", "api2"},
		"amr":   []string{"pwd"},
		"exp":   int64(1700000000),
		"aud":   "https://issuer/resources",
		"role":  []string{"admin", "ops"},
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("ClaimsToMap() = %#v, want %#v", got, want)
	}
}

func TestWithoutClaims(t *testing.T) {
	claims := []Claim{
		NewClaim(ClaimSubject, "alice"),
		NewClaim(ClaimScope, "api1"),
		NewClaim(ClaimScope, "api2"),
	}

	got := WithoutClaims(claims, ClaimScope)
	if len(got) != 1 || got[0].Type != ClaimSubject {
		t.Errorf("WithoutClaims() = %v, want only sub", got)
	}
	if len(claims) != 3 {
		t.Error("WithoutClaims() must not modify its input")
	}
}

func TestRefreshToken_Accessors(t *testing.T) {
	rt := &RefreshToken{}
	if rt.SubjectID() != "" || rt.ClientID() != "" || rt.Scopes() != nil {
		t.Error("refresh token without snapshot should report empty values")
	}

	rt.AccessToken = &Token{
		ClientID: "client1",
		Claims: []Claim{
			NewClaim(ClaimSubject, "bob"),
			NewClaim(ClaimScope, "api1"),
			NewClaim(ClaimScope, ScopeOfflineAccess),
		},
	}

	if got := rt.SubjectID(); got != "bob" {
		t.Errorf("SubjectID() = %q, want %q", got, "bob")
	}
	if got := rt.ClientID(); got != "client1" {
		t.Errorf("ClientID() = %q, want %q", got, "client1")
	}
	if got := rt.Scopes(); !reflect.DeepEqual(got, []string{"api1", ScopeOfflineAccess}) {
		t.Errorf("Scopes() = %v", got)
	}

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rt.CreationTime = created
	if !rt.Expiration().IsZero() {
		t.Errorf("Expiration() with zero lifetime = %v, want zero time", rt.Expiration())
	}
	rt.Lifetime = 60
	if want := created.Add(time.Minute); !rt.Expiration().Equal(want) {
		t.Errorf("Expiration() = %v, want %v", rt.Expiration(), want)
	}
}

func TestVerifySecret(t *testing.T) {
	now := time.Now()
	valid := MustHashSecret("secret")
	expired := MustHashSecret("old")
	expired.Expiration = now.Add(-time.Hour)

	tests := []struct {
		name      string
		secrets   []Secret
		plaintext string
		want      bool
	}{
		{"match", []Secret{valid}, "secret", true},
		{"mismatch", []Secret{valid}, "wrong", false},
		{"expired secret ignored", []Secret{expired}, "old", false},
		{"second secret matches", []Secret{expired, valid}, "secret", true},
		{"no secrets", nil, "secret", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySecret(tt.secrets, tt.plaintext, now); got != tt.want {
				t.Errorf("VerifySecret() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseEnums(t *testing.T) {
	if v, err := ParseAccessTokenType("reference"); err != nil || v != AccessTokenTypeReference {
		t.Errorf("ParseAccessTokenType(reference) = %v, %v", v, err)
	}
	if _, err := ParseAccessTokenType("opaque"); err == nil {
		t.Error("ParseAccessTokenType(opaque) should fail")
	}
	if v, err := ParseTokenUsage("reuse"); err != nil || v != TokenUsageReUse {
		t.Errorf("ParseTokenUsage(reuse) = %v, %v", v, err)
	}
	if v, err := ParseTokenExpiration("sliding"); err != nil || v != TokenExpirationSliding {
		t.Errorf("ParseTokenExpiration(sliding) = %v, %v", v, err)
	}
	if v, err := ParseScopeType("identity"); err != nil || v != ScopeTypeIdentity {
		t.Errorf("ParseScopeType(identity) = %v, %v", v, err)
	}
	if v, _ := ParseTokenUsage(""); v != TokenUsageOneTimeOnly {
		t.Errorf("ParseTokenUsage(\"\") = %v, want one_time", v)
	}
}

func TestClient_ApplyDefaults(t *testing.T) {
	c := &Client{}
	c.ApplyDefaults()

	if c.AccessTokenLifetime != DefaultAccessTokenLifetime {
		t.Errorf("AccessTokenLifetime = %d", c.AccessTokenLifetime)
	}
	if c.AuthorizationCodeLifetime != DefaultAuthorizationCodeLifetime {
		t.Errorf("AuthorizationCodeLifetime = %d", c.AuthorizationCodeLifetime)
	}
	if c.AbsoluteRefreshTokenLifetime != 0 {
		t.Errorf("AbsoluteRefreshTokenLifetime = %d, zero means unlimited and must be kept", c.AbsoluteRefreshTokenLifetime)
	}
}
