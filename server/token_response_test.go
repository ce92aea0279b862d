package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/giantswarm/oidc-grants/internal/testutil"
	"github.com/giantswarm/oidc-grants/storage"
	"github.com/giantswarm/oidc-grants/validation"
)

func TestProcessTokenRequest_ClientCredentials(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.token(t, "client", "grant_type", "client_credentials", "scope", "api1")

	if !validation.IsJWT(resp.AccessToken) {
		t.Errorf("AccessToken = %q, want a JWT", resp.AccessToken)
	}
	if resp.TokenType != TokenTypeBearer {
		t.Errorf("TokenType = %q, want %q", resp.TokenType, TokenTypeBearer)
	}
	if resp.ExpiresIn != storage.DefaultAccessTokenLifetime {
		t.Errorf("ExpiresIn = %d, want %d", resp.ExpiresIn, storage.DefaultAccessTokenLifetime)
	}
	if resp.Scope != "api1" {
		t.Errorf("Scope = %q, want api1", resp.Scope)
	}
	if resp.RefreshToken != "" || resp.IdentityToken != "" {
		t.Error("client_credentials must only issue an access token")
	}

	result, err := ts.TokenValidator().ValidateAccessToken(context.Background(), resp.AccessToken, "api1")
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("issued token does not validate: %v", result.Reason)
	}
}

func TestProcessTokenRequest_ReferenceToken(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.token(t, "client.reference", "grant_type", "client_credentials", "scope", "api1 api2")

	if validation.IsJWT(resp.AccessToken) {
		t.Fatalf("AccessToken = %q, want a reference handle", resp.AccessToken)
	}
	got := ts.introspect(t, "unrestricted.api", resp.AccessToken)
	if got["active"] != true {
		t.Fatalf("introspection = %v, want active", got)
	}
	if got["client_id"] != "client.reference" {
		t.Errorf("client_id = %v, want client.reference", got["client_id"])
	}
}

func TestProcessTokenRequest_ValidationFailure(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name     string
		clientID string
		params   []string
		wantCode string
	}{
		{
			name:     "unknown grant type",
			clientID: "client",
			params:   []string{"grant_type", "unknown"},
			wantCode: validation.ErrorUnsupportedGrantType,
		},
		{
			name:     "grant not allowed",
			clientID: "codeclient",
			params:   []string{"grant_type", "client_credentials"},
			wantCode: validation.ErrorUnauthorizedClient,
		},
		{
			name:     "unknown scope",
			clientID: "client",
			params:   []string{"grant_type", "client_credentials", "scope", "unknown"},
			wantCode: validation.ErrorInvalidScope,
		},
		{
			name:     "wrong password",
			clientID: "roclient",
			params:   []string{"grant_type", "password", "username", "bob", "password", "alice", "scope", "api1"},
			wantCode: validation.ErrorInvalidGrant,
		},
		{
			name:     "unknown refresh token",
			clientID: "roclient",
			params:   []string{"grant_type", "refresh_token", "refresh_token", "unknown"},
			wantCode: validation.ErrorInvalidGrant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ts.ProcessTokenRequest(context.Background(), params(tt.params...), ts.client(t, tt.clientID))
			if resp != nil {
				t.Error("failed request must not return a response")
			}
			expectProtocolError(t, err, tt.wantCode)
		})
	}
}

func storeCode(t *testing.T, ts *testServer, scopes ...string) (string, string) {
	t.Helper()
	challenge, verifier := testutil.GeneratePKCEPair()
	handle, err := ts.Grants().StoreAuthorizationCode(context.Background(), &storage.AuthorizationCode{
		ClientID:            "codeclient",
		Subject:             testutil.SubjectClaims(testutil.TestSubject, testStart),
		RedirectURI:         testutil.TestRedirectURI,
		RequestedScopes:     scopes,
		IsOpenID:            true,
		Nonce:               "nonce",
		CodeChallenge:       challenge,
		CodeChallengeMethod: validation.PKCEMethodS256,
		CreationTime:        testStart,
		Lifetime:            300,
	})
	if err != nil {
		t.Fatalf("StoreAuthorizationCode() error = %v", err)
	}
	return handle, verifier
}

func codeParams(handle, verifier string) []string {
	return []string{
		"grant_type", "authorization_code",
		"code", handle,
		"redirect_uri", testutil.TestRedirectURI,
		"code_verifier", verifier,
	}
}

func TestProcessTokenRequest_AuthorizationCode(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	handle, verifier := storeCode(t, ts, "openid", "api1", "offline_access")

	resp := ts.token(t, "codeclient", codeParams(handle, verifier)...)

	if resp.AccessToken == "" || resp.RefreshToken == "" || resp.IdentityToken == "" {
		t.Fatalf("response = %+v, want access, refresh and identity tokens", resp)
	}
	if resp.Scope != "openid api1 offline_access" {
		t.Errorf("Scope = %q, want %q", resp.Scope, "openid api1 offline_access")
	}

	idResult, err := ts.TokenValidator().ValidateIdentityToken(ctx, resp.IdentityToken, "codeclient", true)
	if err != nil {
		t.Fatalf("ValidateIdentityToken() error = %v", err)
	}
	if idResult.IsError {
		t.Fatalf("identity token does not validate: %v", idResult.Reason)
	}
	if nonce, _ := storage.FindClaim(idResult.Claims, storage.ClaimNonce); nonce != "nonce" {
		t.Errorf("nonce = %q, want nonce", nonce)
	}
	if _, ok := storage.FindClaim(idResult.Claims, storage.ClaimAccessHash); !ok {
		t.Error("identity token issued with an access token must carry at_hash")
	}

	// Codes are single use.
	_, err = ts.ProcessTokenRequest(ctx, params(codeParams(handle, verifier)...), ts.client(t, "codeclient"))
	expectProtocolError(t, err, validation.ErrorInvalidGrant)
}

func TestProcessTokenRequest_AuthorizationCodeWithoutOfflineAccess(t *testing.T) {
	ts := newTestServer(t)
	handle, verifier := storeCode(t, ts, "openid", "api1")

	resp := ts.token(t, "codeclient", codeParams(handle, verifier)...)

	if resp.RefreshToken != "" {
		t.Error("refresh token issued without offline_access")
	}
	if resp.IdentityToken == "" {
		t.Error("identity token missing for an openid request")
	}
}

func TestProcessTokenRequest_Password(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.passwordGrant(t, "api1 offline_access")

	if resp.RefreshToken == "" {
		t.Fatal("password grant with offline_access must issue a refresh token")
	}
	if resp.IdentityToken != "" {
		t.Error("password grant must not issue an identity token")
	}

	got := ts.introspect(t, "unrestricted.api", resp.AccessToken)
	if got["sub"] != "88421113" {
		t.Errorf("sub = %v, want 88421113", got["sub"])
	}
}

func TestProcessTokenRequest_ExtensionGrant(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.token(t, "customgrantclient",
		"grant_type", "custom",
		"custom_credential", "custom",
		"scope", "api1")

	if resp.Custom["custom_field"] != "custom" {
		t.Errorf("Custom = %v, want custom_field", resp.Custom)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if body["access_token"] != resp.AccessToken {
		t.Error("custom response fields must not replace access_token")
	}
	if body["custom_field"] != "custom" {
		t.Errorf("custom_field = %v, want custom", body["custom_field"])
	}
	if body["token_type"] != "Bearer" {
		t.Errorf("token_type = %v, want Bearer", body["token_type"])
	}
	if _, ok := body["refresh_token"]; ok {
		t.Error("refresh_token must be omitted when none was issued")
	}
}

func TestProcessTokenRequest_RefreshReUse(t *testing.T) {
	ts := newTestServer(t)
	first := ts.passwordGrant(t, "api1 offline_access")

	ts.clock.Advance(10 * time.Minute)
	resp := ts.token(t, "roclient", "grant_type", "refresh_token", "refresh_token", first.RefreshToken)

	if resp.RefreshToken != first.RefreshToken {
		t.Errorf("RefreshToken = %q, want the reusable handle %q", resp.RefreshToken, first.RefreshToken)
	}
	if resp.AccessToken == first.AccessToken {
		t.Error("refresh must issue a new access token")
	}
	if resp.Scope != "api1 offline_access" {
		t.Errorf("Scope = %q, want %q", resp.Scope, "api1 offline_access")
	}
	if got := ts.introspect(t, "api1", resp.AccessToken); got["active"] != true {
		t.Errorf("refreshed access token introspection = %v, want active", got)
	}
}

func TestProcessTokenRequest_RefreshRotation(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	handle, verifier := storeCode(t, ts, "openid", "api1", "offline_access")
	first := ts.token(t, "codeclient", codeParams(handle, verifier)...)

	resp := ts.token(t, "codeclient", "grant_type", "refresh_token", "refresh_token", first.RefreshToken)

	if resp.RefreshToken == first.RefreshToken {
		t.Fatal("one-time refresh token was not rotated")
	}
	if resp.IdentityToken != "" {
		t.Error("refresh must not issue an identity token")
	}

	_, err := ts.ProcessTokenRequest(ctx, params("grant_type", "refresh_token", "refresh_token", first.RefreshToken), ts.client(t, "codeclient"))
	expectProtocolError(t, err, validation.ErrorInvalidGrant)

	rt, err := ts.Grants().GetRefreshToken(ctx, resp.RefreshToken)
	if err != nil {
		t.Fatalf("GetRefreshToken() error = %v", err)
	}
	if rt == nil || rt.Version != 2 {
		t.Fatalf("rotated refresh token = %+v, want version 2", rt)
	}
}

func TestProcessTokenRequest_ConcurrentRefresh(t *testing.T) {
	ts := newTestServer(t)
	handle, verifier := storeCode(t, ts, "api1", "offline_access")
	first := ts.token(t, "codeclient", codeParams(handle, verifier)...)
	client := ts.client(t, "codeclient")

	const workers = 20
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		failures  atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ts.ProcessTokenRequest(context.Background(), params("grant_type", "refresh_token", "refresh_token", first.RefreshToken), client)
			var pe *ProtocolError
			switch {
			case err == nil:
				successes.Add(1)
			case errors.As(err, &pe) && pe.Code == validation.ErrorInvalidGrant:
				failures.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Errorf("successes = %d, want 1", successes.Load())
	}
	if failures.Load() != workers-1 {
		t.Errorf("invalid_grant failures = %d, want %d", failures.Load(), workers-1)
	}
}

func TestRenewSnapshot(t *testing.T) {
	snapshot := &storage.Token{
		Type:         storage.TokenTypeAccessToken,
		CreationTime: testStart,
		Lifetime:     60,
		ClientID:     "codeclient",
		Claims: []storage.Claim{
			storage.NewClaim(storage.ClaimSubject, "818727"),
			storage.NewClaim(storage.ClaimJwtID, "old"),
		},
	}
	client := &storage.Client{ClientID: "codeclient", AccessTokenLifetime: 600, IncludeJwtID: true}
	now := testStart.Add(time.Hour)

	at := renewSnapshot(snapshot, client, now)

	if !at.CreationTime.Equal(now) || at.Lifetime != 600 {
		t.Errorf("renewed token lifetime = %v/%d, want %v/600", at.CreationTime, at.Lifetime, now)
	}
	jtis := storage.ClaimValues(at.Claims, storage.ClaimJwtID)
	if len(jtis) != 1 || jtis[0] == "old" {
		t.Errorf("jti = %v, want one fresh value", jtis)
	}
	if snapshot.Lifetime != 60 || !snapshot.CreationTime.Equal(testStart) {
		t.Error("snapshot was modified")
	}
}

func TestProcessTokenRequest_LeavesCallerSpanOpen(t *testing.T) {
	ts := newTestServer(t)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, hostSpan := tp.Tracer("host").Start(context.Background(), "host.request")

	if _, err := ts.ProcessTokenRequest(ctx, params("grant_type", "client_credentials", "scope", "api1"), ts.client(t, "client")); err != nil {
		t.Fatalf("ProcessTokenRequest() error = %v", err)
	}
	_, err := ts.ProcessTokenRequest(ctx, params("grant_type", "client_credentials", "scope", "unknown"), ts.client(t, "client"))
	expectProtocolError(t, err, validation.ErrorInvalidScope)

	if ended := recorder.Ended(); len(ended) != 0 {
		t.Fatalf("caller span ended by the server: %q", ended[0].Name())
	}
	if !hostSpan.IsRecording() {
		t.Fatal("caller span is no longer recording")
	}

	hostSpan.End()
	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	if got := ended[0].Status().Code; got != codes.Unset {
		t.Errorf("caller span status = %v, want Unset", got)
	}
}
