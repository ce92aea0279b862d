package validation

// OAuth error codes. They mirror the constants of the root package, which
// cannot be imported from here.
const (
	ErrorInvalidRequest       = "invalid_request"
	ErrorInvalidClient        = "invalid_client"
	ErrorInvalidGrant         = "invalid_grant"
	ErrorInvalidScope         = "invalid_scope"
	ErrorUnauthorizedClient   = "unauthorized_client"
	ErrorUnsupportedGrantType = "unsupported_grant_type"
	ErrorUnsupportedTokenType = "unsupported_token_type"
	ErrorInvalidToken         = "invalid_token"
	ErrorInsufficientScope    = "insufficient_scope"
	ErrorServerError          = "server_error"
)

// Grant types handled by the TokenRequestValidator itself
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
	GrantTypeRefreshToken      = "refresh_token"
)

// Token type hints (RFC 7009)
const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)

// Token request parameters
const (
	ParamGrantType    = "grant_type"
	ParamCode         = "code"
	ParamRedirectURI  = "redirect_uri"
	ParamCodeVerifier = "code_verifier"
	ParamRefreshToken = "refresh_token"
	ParamUserName     = "username"
	ParamPassword     = "password"
	ParamScope        = "scope"
	ParamToken        = "token"
	ParamTokenHint    = "token_type_hint"
)

// PKCE methods (RFC 7636)
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)
