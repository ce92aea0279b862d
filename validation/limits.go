package validation

// InputLengthRestrictions bounds every inbound parameter. Values over a limit
// are rejected before any store access.
type InputLengthRestrictions struct {
	GrantType         int `yaml:"grantType"`
	Scope             int `yaml:"scope"`
	RedirectURI       int `yaml:"redirectURI"`
	UserName          int `yaml:"userName"`
	Password          int `yaml:"password"`
	AuthorizationCode int `yaml:"authorizationCode"`
	RefreshToken      int `yaml:"refreshToken"`

	// TokenHandle bounds reference access token handles
	TokenHandle int `yaml:"tokenHandle"`

	// Jwt bounds self-contained tokens
	Jwt int `yaml:"jwt"`

	CodeVerifierMinLength int `yaml:"codeVerifierMinLength"`
	CodeVerifierMaxLength int `yaml:"codeVerifierMaxLength"`
}

// DefaultInputLengthRestrictions returns the default limits.
func DefaultInputLengthRestrictions() InputLengthRestrictions {
	return InputLengthRestrictions{
		GrantType:             100,
		Scope:                 300,
		RedirectURI:           400,
		UserName:              100,
		Password:              100,
		AuthorizationCode:     100,
		RefreshToken:          100,
		TokenHandle:           100,
		Jwt:                   51200,
		CodeVerifierMinLength: 43,
		CodeVerifierMaxLength: 128,
	}
}

// WithDefaults fills zero limits from DefaultInputLengthRestrictions.
func (l InputLengthRestrictions) WithDefaults() InputLengthRestrictions {
	d := DefaultInputLengthRestrictions()
	fill := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&l.GrantType, d.GrantType)
	fill(&l.Scope, d.Scope)
	fill(&l.RedirectURI, d.RedirectURI)
	fill(&l.UserName, d.UserName)
	fill(&l.Password, d.Password)
	fill(&l.AuthorizationCode, d.AuthorizationCode)
	fill(&l.RefreshToken, d.RefreshToken)
	fill(&l.TokenHandle, d.TokenHandle)
	fill(&l.Jwt, d.Jwt)
	fill(&l.CodeVerifierMinLength, d.CodeVerifierMinLength)
	fill(&l.CodeVerifierMaxLength, d.CodeVerifierMaxLength)
	return l
}
