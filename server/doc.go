// Package server coordinates the token and grant engine.
//
// A Server wires the request validators of the validation package to the
// token services of the token package and exposes the logical endpoints of
// an OAuth2 / OpenID Connect authorization server:
//   - ProcessTokenRequest for the token endpoint (authorization_code,
//     client_credentials, password, refresh_token and extension grants)
//   - Introspect for RFC 7662 token introspection by a resource scope
//   - Revoke for RFC 7009 token revocation by a client
//   - AuthenticateClient and AuthenticateScope as reference credential checks
//
// Transport is left to the caller: every operation takes the form parameters
// as url.Values and an already authenticated client or scope.
//
// Example usage:
//
//	store := memory.New()
//	keyring := keys.NewKeyring(keys.NewMemoryStore(key), keys.Config{})
//
//	srv, err := server.New(store, clients, scopes, keyring, profiles, &server.Config{
//	    Issuer: "https://idsvr.example.com",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := srv.ProcessTokenRequest(ctx, form, client)
package server
