package token

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidc-grants/grants"
	"github.com/giantswarm/oidc-grants/internal/testutil"
	"github.com/giantswarm/oidc-grants/keys"
	"github.com/giantswarm/oidc-grants/providers/mock"
	"github.com/giantswarm/oidc-grants/storage"
	"github.com/giantswarm/oidc-grants/storage/memory"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

var (
	keyOnce sync.Once
	testKey *keys.Key
	keyErr  error
)

// signingKey generates one RSA key for the whole package.
func signingKey(t *testing.T) *keys.Key {
	t.Helper()
	keyOnce.Do(func() {
		testKey, keyErr = keys.GenerateKey(keys.DefaultKeySize, testStart)
	})
	require.NoError(t, keyErr)
	return testKey
}

type fixture struct {
	clock    *testutil.MockTime
	store    *memory.Store
	grants   *grants.Service
	keyring  *keys.Keyring
	profile  *mock.ProfileService
	claims   *DefaultClaimsService
	creation *DefaultTokenCreationService
	tokens   *Service
	refresh  *RefreshTokenService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{clock: testutil.NewMockTime(testStart)}
	f.store = memory.New()
	t.Cleanup(f.store.Stop)

	f.grants = grants.NewService(f.store, grants.Config{Clock: f.clock.Now})
	f.keyring = keys.NewKeyring(keys.NewMemoryStore(signingKey(t)), keys.Config{Clock: f.clock.Now})
	f.profile = mock.NewProfileService(
		storage.NewClaim("name", "Bob Smith"),
		storage.NewClaim("email", "bob@example.com"),
		storage.NewClaim("role", "admin"),
		storage.NewClaim("role", "dev"),
		storage.NewClaim(storage.ClaimSubject, "spoofed"),
	)
	f.claims = NewClaimsService(f.profile, nil)
	f.creation = NewCreationService(f.keyring)
	f.tokens = NewService(f.claims, f.creation, f.grants, Config{
		Issuer: testutil.TestIssuer,
		Clock:  f.clock.Now,
	})
	f.refresh = NewRefreshTokenService(f.grants, nil, f.clock.Now)
	return f
}

func client(t *testing.T, id string) *storage.Client {
	t.Helper()
	for _, c := range testutil.Clients() {
		if c.ClientID == id {
			return c
		}
	}
	t.Fatalf("unknown test client %q", id)
	return nil
}

func scopes(t *testing.T, names ...string) []*storage.Scope {
	t.Helper()
	all := testutil.Scopes()
	out := make([]*storage.Scope, 0, len(names))
	for _, name := range names {
		found := false
		for _, s := range all {
			if s.Name == name {
				out = append(out, s)
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("unknown test scope %q", name)
		}
	}
	return out
}

func userRequest(t *testing.T, clientID string, scopeNames ...string) *Request {
	t.Helper()
	return &Request{
		GrantType: "authorization_code",
		Subject:   testutil.SubjectClaims(testutil.TestSubject, testStart),
		Client:    client(t, clientID),
		Scopes:    scopes(t, scopeNames...),
	}
}
