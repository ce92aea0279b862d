package validation

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/oidc-grants/grants"
	"github.com/giantswarm/oidc-grants/internal/testutil"
	"github.com/giantswarm/oidc-grants/keys"
	"github.com/giantswarm/oidc-grants/providers"
	"github.com/giantswarm/oidc-grants/providers/mock"
	"github.com/giantswarm/oidc-grants/storage"
	"github.com/giantswarm/oidc-grants/storage/memory"
	"github.com/giantswarm/oidc-grants/storage/static"
	"github.com/giantswarm/oidc-grants/token"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

var (
	keyOnce sync.Once
	testKey *keys.Key
	keyErr  error
)

func signingKey(t *testing.T) *keys.Key {
	t.Helper()
	keyOnce.Do(func() {
		testKey, keyErr = keys.GenerateKey(keys.DefaultKeySize, testStart)
	})
	if keyErr != nil {
		t.Fatalf("GenerateKey() error = %v", keyErr)
	}
	return testKey
}

type fixture struct {
	clock     *testutil.MockTime
	store     *memory.Store
	grants    *grants.Service
	static    *static.Store
	profile   *mock.ProfileService
	users     *providers.UserStore
	keyring   *keys.Keyring
	tokens    *token.Service
	validator *TokenRequestValidator
	tokenVal  *TokenValidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{clock: testutil.NewMockTime(testStart)}
	f.store = memory.New()
	t.Cleanup(f.store.Stop)
	f.grants = grants.NewService(f.store, grants.Config{Clock: f.clock.Now})

	var err error
	f.static, err = static.New(testutil.Clients(), testutil.Scopes())
	if err != nil {
		t.Fatalf("static.New() error = %v", err)
	}

	f.profile = mock.NewProfileService(storage.NewClaim("role", "admin"))

	hash, err := providers.HashPassword("bob")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	f.users, err = providers.NewUserStore(&providers.User{
		SubjectID:    "88421113",
		Username:     "bob",
		PasswordHash: hash,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("NewUserStore() error = %v", err)
	}

	f.keyring = keys.NewKeyring(keys.NewMemoryStore(signingKey(t)), keys.Config{Clock: f.clock.Now})
	claims := token.NewClaimsService(f.profile, nil)
	f.tokens = token.NewService(claims, token.NewCreationService(f.keyring), f.grants, token.Config{
		Issuer: testutil.TestIssuer,
		Clock:  f.clock.Now,
	})

	f.validator = NewTokenRequestValidator(f.grants, f.static, f.profile, TokenRequestValidatorConfig{
		Clock:             f.clock.Now,
		PasswordValidator: NewCredentialPasswordValidator(f.users, f.clock.Now),
	})
	f.tokenVal = NewTokenValidator(f.keyring, f.grants, f.static, TokenValidatorConfig{
		Issuer: testutil.TestIssuer,
		Clock:  f.clock.Now,
	})
	return f
}

func (f *fixture) client(t *testing.T, id string) *storage.Client {
	t.Helper()
	c, err := f.static.FindClientByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindClientByID(%q) error = %v", id, err)
	}
	return c
}

func (f *fixture) scopes(t *testing.T, names ...string) []*storage.Scope {
	t.Helper()
	scopes, err := f.static.FindScopesByName(context.Background(), names)
	if err != nil || len(scopes) != len(names) {
		t.Fatalf("FindScopesByName(%v) = %d scopes, error %v", names, len(scopes), err)
	}
	return scopes
}

// issueAccessToken returns the wire form of an access token for clientID.
func (f *fixture) issueAccessToken(t *testing.T, clientID string, subject []storage.Claim, scopeNames ...string) string {
	t.Helper()
	req := &token.Request{
		Subject: subject,
		Client:  f.client(t, clientID),
		Scopes:  f.scopes(t, scopeNames...),
	}
	at, err := f.tokens.CreateAccessToken(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateAccessToken() error = %v", err)
	}
	raw, err := f.tokens.CreateSecurityToken(context.Background(), at)
	if err != nil {
		t.Fatalf("CreateSecurityToken() error = %v", err)
	}
	return raw
}

func params(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return v
}

func scopeNames(scopes []*storage.Scope) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		out = append(out, s.Name)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// customGrant accepts requests carrying custom_credential.
type customGrant struct{}

func (customGrant) GrantType() string { return "custom" }

func (customGrant) Validate(_ context.Context, req *ExtensionGrantRequest) (*GrantValidationResult, error) {
	if req.Raw.Get("custom_credential") == "" {
		return NewGrantError(ErrorInvalidGrant, "invalid_custom_credential"), nil
	}
	result := NewGrantResult(testutil.TestSubject, "custom", testStart)
	result.CustomResponse = map[string]any{"custom_field": "custom"}
	return result, nil
}
