package server

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/oidc-grants/internal/testutil"
	"github.com/giantswarm/oidc-grants/keys"
	"github.com/giantswarm/oidc-grants/providers"
	"github.com/giantswarm/oidc-grants/providers/mock"
	"github.com/giantswarm/oidc-grants/storage"
	"github.com/giantswarm/oidc-grants/storage/memory"
	"github.com/giantswarm/oidc-grants/storage/static"
	"github.com/giantswarm/oidc-grants/validation"
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

type testServer struct {
	*Server
	clock  *testutil.MockTime
	store  *memory.Store
	static *static.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{clock: testutil.NewMockTime(testStart)}
	ts.store = memory.New()
	t.Cleanup(ts.store.Stop)

	var err error
	ts.static, err = static.New(testutil.Clients(), testutil.Scopes())
	if err != nil {
		t.Fatalf("static.New() error = %v", err)
	}

	keyring := keys.NewKeyring(keys.NewMemoryStore(signingKey(t)), keys.Config{Clock: ts.clock.Now})
	profile := mock.NewProfileService(storage.NewClaim("role", "admin"))

	ts.Server, err = New(ts.store, ts.static, ts.static, keyring, profile, &Config{
		Issuer: testutil.TestIssuer,
		Clock:  ts.clock.Now,
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	hash, err := providers.HashPassword("bob")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	users, err := providers.NewUserStore(&providers.User{
		SubjectID:    "88421113",
		Username:     "bob",
		PasswordHash: hash,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("NewUserStore() error = %v", err)
	}
	ts.SetPasswordValidator(validation.NewCredentialPasswordValidator(users, ts.clock.Now))

	if err := ts.SetExtensionGrants(customGrant{}); err != nil {
		t.Fatalf("SetExtensionGrants() error = %v", err)
	}
	return ts
}

func (ts *testServer) client(t *testing.T, id string) *storage.Client {
	t.Helper()
	c, err := ts.static.FindClientByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindClientByID(%q) error = %v", id, err)
	}
	return c
}

func (ts *testServer) scope(t *testing.T, name string) *storage.Scope {
	t.Helper()
	scopes, err := ts.static.FindScopesByName(context.Background(), []string{name})
	if err != nil || len(scopes) != 1 {
		t.Fatalf("FindScopesByName(%q) = %d scopes, error %v", name, len(scopes), err)
	}
	return scopes[0]
}

// token runs a token request and fails the test on any error.
func (ts *testServer) token(t *testing.T, clientID string, kv ...string) *TokenResponse {
	t.Helper()
	resp, err := ts.ProcessTokenRequest(context.Background(), params(kv...), ts.client(t, clientID))
	if err != nil {
		t.Fatalf("ProcessTokenRequest() error = %v", err)
	}
	return resp
}

// passwordGrant issues tokens to roclient for bob.
func (ts *testServer) passwordGrant(t *testing.T, scope string) *TokenResponse {
	t.Helper()
	return ts.token(t, "roclient",
		"grant_type", "password",
		"username", "bob",
		"password", "bob",
		"scope", scope)
}

// introspect calls Introspect as scopeName and fails the test on error.
func (ts *testServer) introspect(t *testing.T, scopeName, token string) map[string]any {
	t.Helper()
	resp, err := ts.Introspect(context.Background(), params("token", token), ts.scope(t, scopeName))
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	return resp
}

func params(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return v
}

func expectProtocolError(t *testing.T, err error, code string) {
	t.Helper()
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want ProtocolError %q", err, code)
	}
	if pe.Code != code {
		t.Fatalf("Code = %q, want %q", pe.Code, code)
	}
}

// customGrant accepts requests carrying custom_credential.
type customGrant struct{}

func (customGrant) GrantType() string { return "custom" }

func (customGrant) Validate(_ context.Context, req *validation.ExtensionGrantRequest) (*validation.GrantValidationResult, error) {
	if req.Raw.Get("custom_credential") == "" {
		return validation.NewGrantError(validation.ErrorInvalidGrant, "invalid_custom_credential"), nil
	}
	result := validation.NewGrantResult(testutil.TestSubject, "custom", testStart)
	result.CustomResponse = map[string]any{
		"custom_field": "custom",
		"access_token": "shadowed",
	}
	return result, nil
}
