package validation

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"github.com/giantswarm/oidc-grants/storage"
)

// ExtensionGrantRequest is handed to an extension grant validator after the
// client and the requested scopes were checked.
type ExtensionGrantRequest struct {
	Raw    url.Values
	Client *storage.Client
	Scopes []*storage.Scope
}

// ExtensionGrantValidator validates one custom grant type.
type ExtensionGrantValidator interface {
	// GrantType is the grant_type value the validator handles
	GrantType() string

	// Validate returns the grant outcome. Errors are reserved for
	// infrastructure failures.
	Validate(ctx context.Context, req *ExtensionGrantRequest) (*GrantValidationResult, error)
}

// ExtensionGrantRegistry maps grant type names to validators. It is built
// once and read-only afterwards.
type ExtensionGrantRegistry struct {
	validators map[string]ExtensionGrantValidator
}

// reservedGrantTypes cannot be overridden by extensions
var reservedGrantTypes = []string{
	GrantTypeAuthorizationCode,
	GrantTypeClientCredentials,
	GrantTypePassword,
	GrantTypeRefreshToken,
}

// NewExtensionGrantRegistry builds a registry. Empty, reserved and duplicate
// grant type names are rejected.
func NewExtensionGrantRegistry(validators ...ExtensionGrantValidator) (*ExtensionGrantRegistry, error) {
	r := &ExtensionGrantRegistry{validators: make(map[string]ExtensionGrantValidator, len(validators))}
	for _, v := range validators {
		if v == nil {
			return nil, fmt.Errorf("extension grant validator is nil")
		}
		name := v.GrantType()
		if name == "" {
			return nil, fmt.Errorf("extension grant validator has an empty grant type")
		}
		for _, reserved := range reservedGrantTypes {
			if name == reserved {
				return nil, fmt.Errorf("grant type %q is handled by the server and cannot be registered", name)
			}
		}
		if _, exists := r.validators[name]; exists {
			return nil, fmt.Errorf("duplicate extension grant type %q", name)
		}
		r.validators[name] = v
	}
	return r, nil
}

// Lookup returns the validator registered for grantType. A nil registry is empty.
func (r *ExtensionGrantRegistry) Lookup(grantType string) (ExtensionGrantValidator, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.validators[grantType]
	return v, ok
}

// GrantTypes returns the registered grant types in sorted order.
func (r *ExtensionGrantRegistry) GrantTypes() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.validators))
	for name := range r.validators {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
