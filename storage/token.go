package storage

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"time"
)

// Protocol claim types
const (
	ClaimSubject      = "sub"
	ClaimClientID     = "client_id"
	ClaimScope        = "scope"
	ClaimIssuer       = "iss"
	ClaimAudience     = "aud"
	ClaimExpiration   = "exp"
	ClaimNotBefore    = "nbf"
	ClaimIssuedAt     = "iat"
	ClaimJwtID        = "jti"
	ClaimAuthTime     = "auth_time"
	ClaimIdP          = "idp"
	ClaimAuthMethod   = "amr"
	ClaimNonce        = "nonce"
	ClaimSessionID    = "sid"
	ClaimAccessHash   = "at_hash"
	ClaimCodeHash     = "c_hash"
	ClaimActive       = "active"
	ClaimClientPrefix = "client_"
)

// Token types
const (
	TokenTypeAccessToken   = "access_token"
	TokenTypeIdentityToken = "id_token"
)

// Claim is a single type/value pair. Multi-valued claims repeat the type.
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// NewClaim returns a Claim.
func NewClaim(claimType, value string) Claim {
	return Claim{Type: claimType, Value: value}
}

// FindClaim returns the first value of claimType and whether it was found.
func FindClaim(claims []Claim, claimType string) (string, bool) {
	for _, c := range claims {
		if c.Type == claimType {
			return c.Value, true
		}
	}
	return "", false
}

// ClaimValues returns all values of claimType in order.
func ClaimValues(claims []Claim, claimType string) []string {
	var values []string
	for _, c := range claims {
		if c.Type == claimType {
			values = append(values, c.Value)
		}
	}
	return values
}

// WithoutClaims returns a copy of claims without any entry whose type is in types.
func WithoutClaims(claims []Claim, types ...string) []Claim {
	out := make([]Claim, 0, len(claims))
	for _, c := range claims {
		if !slices.Contains(types, c.Type) {
			out = append(out, c)
		}
	}
	return out
}

// numericClaims are rendered as JSON numbers when projected to a map.
var numericClaims = []string{ClaimIssuedAt, ClaimNotBefore, ClaimExpiration, ClaimAuthTime}

// arrayClaims are always rendered as JSON arrays when projected to a map.
var arrayClaims = []string{ClaimScope, ClaimAuthMethod}

// ClaimsToMap projects claims into a JSON-ready map.
// Repeated types collapse into arrays; scope and amr are always arrays;
// iat, nbf, exp and auth_time become integers when they parse as such.
func ClaimsToMap(claims []Claim) map[string]any {
	grouped := make(map[string][]string)
	var order []string
	for _, c := range claims {
		if _, ok := grouped[c.Type]; !ok {
			order = append(order, c.Type)
		}
		grouped[c.Type] = append(grouped[c.Type], c.Value)
	}

	out := make(map[string]any, len(grouped))
	for _, t := range order {
		values := grouped[t]
		switch {
		case slices.Contains(arrayClaims, t):
			out[t] = values
		case len(values) > 1:
			out[t] = values
		case slices.Contains(numericClaims, t):
			if n, err := strconv.ParseInt(values[0], 10, 64); err == nil {
				out[t] = n
			} else {
				out[t] = values[0]
			}
		default:
			out[t] = values[0]
		}
	}
	return out
}

// ClaimsFromMap flattens a decoded JSON payload into claims, the inverse of
// ClaimsToMap. Arrays become repeated claims, integral numbers are rendered
// without a fraction and objects are kept as their JSON text. Types are
// emitted in sorted order.
func ClaimsFromMap(m map[string]any) []Claim {
	types := make([]string, 0, len(m))
	for t := range m {
		types = append(types, t)
	}
	sort.Strings(types)

	var out []Claim
	for _, t := range types {
		switch v := m[t].(type) {
		case []any:
			for _, item := range v {
				out = append(out, NewClaim(t, claimValue(item)))
			}
		case []string:
			for _, item := range v {
				out = append(out, NewClaim(t, item))
			}
		default:
			out = append(out, NewClaim(t, claimValue(v)))
		}
	}
	return out
}

func claimValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Token is the model of an access or identity token before it is serialized.
type Token struct {
	Type            string          `json:"type"`
	Audience        string          `json:"audience"`
	Issuer          string          `json:"issuer"`
	CreationTime    time.Time       `json:"creation_time"`
	Lifetime        int             `json:"lifetime"`
	ClientID        string          `json:"client_id"`
	AccessTokenType AccessTokenType `json:"access_token_type"`
	Claims          []Claim         `json:"claims"`
	Version         int             `json:"version"`
}

// SubjectID returns the sub claim or "" for client-only tokens.
func (t *Token) SubjectID() string {
	v, _ := FindClaim(t.Claims, ClaimSubject)
	return v
}

// Scopes returns the scope claim values.
func (t *Token) Scopes() []string {
	return ClaimValues(t.Claims, ClaimScope)
}

// Expiration returns the instant the token stops being valid.
func (t *Token) Expiration() time.Time {
	return t.CreationTime.Add(time.Duration(t.Lifetime) * time.Second)
}

// RefreshToken is the payload of a refresh_token grant.
type RefreshToken struct {
	// AccessToken is a snapshot of the access token issued with this refresh token
	AccessToken  *Token    `json:"access_token"`
	CreationTime time.Time `json:"creation_time"`

	// Lifetime in seconds from CreationTime
	Lifetime int `json:"lifetime"`
	Version  int `json:"version"`
}

// SubjectID returns the subject of the snapshot access token.
func (r *RefreshToken) SubjectID() string {
	if r.AccessToken == nil {
		return ""
	}
	return r.AccessToken.SubjectID()
}

// ClientID returns the client the refresh token was issued to.
func (r *RefreshToken) ClientID() string {
	if r.AccessToken == nil {
		return ""
	}
	return r.AccessToken.ClientID
}

// Scopes returns the scopes of the snapshot access token.
func (r *RefreshToken) Scopes() []string {
	if r.AccessToken == nil {
		return nil
	}
	return r.AccessToken.Scopes()
}

// Expiration returns the instant the refresh token stops being valid.
// A zero Lifetime never expires and yields the zero time.
func (r *RefreshToken) Expiration() time.Time {
	if r.Lifetime <= 0 {
		return time.Time{}
	}
	return r.CreationTime.Add(time.Duration(r.Lifetime) * time.Second)
}

// AuthorizationCode is the payload of an authorization_code grant.
type AuthorizationCode struct {
	ClientID string `json:"client_id"`

	// Subject carries the authenticated user claims (sub, auth_time, idp, amr)
	Subject []Claim `json:"subject"`

	RedirectURI     string   `json:"redirect_uri"`
	RequestedScopes []string `json:"requested_scopes"`
	IsOpenID        bool     `json:"is_openid"`
	Nonce           string   `json:"nonce,omitempty"`
	SessionID       string   `json:"session_id,omitempty"`

	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`

	CreationTime time.Time `json:"creation_time"`

	// Lifetime in seconds from CreationTime
	Lifetime int `json:"lifetime"`
}

// SubjectID returns the sub claim of the code's subject.
func (c *AuthorizationCode) SubjectID() string {
	v, _ := FindClaim(c.Subject, ClaimSubject)
	return v
}

// Expiration returns the instant the code stops being redeemable.
func (c *AuthorizationCode) Expiration() time.Time {
	return c.CreationTime.Add(time.Duration(c.Lifetime) * time.Second)
}
