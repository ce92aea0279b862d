package server

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/oidc-grants/security"
	"github.com/giantswarm/oidc-grants/validation"
)

// Config holds the token engine configuration
type Config struct {
	// Issuer is the iss value of issued tokens and the base of the
	// <issuer>/resources access token audience
	Issuer string `yaml:"issuer"`

	// ClockSkewGracePeriod is tolerated when checking exp and nbf of
	// self-contained tokens
	ClockSkewGracePeriod int64 `yaml:"clockSkewGracePeriod"` // seconds, default: 300 (5 minutes)

	// RequireIntrospectionScopeMatch reports tokens that do not carry the
	// calling scope as inactive. When false, a restricted scope sees any valid
	// token with the scope claim narrowed to its own name.
	// Default: false
	RequireIntrospectionScopeMatch bool `yaml:"requireIntrospectionScopeMatch"`

	// AllowInsecureHTTP allows a non-localhost http:// issuer (NOT RECOMMENDED)
	// Default: false
	AllowInsecureHTTP bool `yaml:"allowInsecureHTTP"`

	// InputLengthRestrictions bounds inbound parameters; zero fields use defaults
	InputLengthRestrictions validation.InputLengthRestrictions `yaml:"inputLengthRestrictions"`

	// AuditEnabled logs security audit events through the server logger
	// when no Auditor was set explicitly
	AuditEnabled bool `yaml:"auditEnabled"`

	// SecurityEventRateLimit bounds audit events per event type and client
	// (events per second, 0 disables limiting)
	SecurityEventRateLimit float64 `yaml:"securityEventRateLimit"`

	// SecurityEventBurst is the burst size of the security event limiter
	SecurityEventBurst int `yaml:"securityEventBurst"` // default: 10

	// Clock overrides time.Now in tests
	Clock security.Clock `yaml:"-"`
}

// LoadConfig reads a YAML configuration file. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML configuration document.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

// applySecureDefaults applies secure-by-default configuration values
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	config.InputLengthRestrictions = config.InputLengthRestrictions.WithDefaults()
	if config.SecurityEventBurst == 0 {
		config.SecurityEventBurst = 10
	}

	logSecurityWarnings(config, logger)
	return config
}

// maxClockSkew caps ClockSkewGracePeriod; larger values keep expired tokens usable
const maxClockSkew = 600

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = int64(security.DefaultClockSkew.Seconds())
	}
	if config.ClockSkewGracePeriod < 0 {
		config.ClockSkewGracePeriod = 0
	}
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.ClockSkewGracePeriod > maxClockSkew {
		logger.Warn("SECURITY WARNING: clock skew grace period capped",
			"configured", config.ClockSkewGracePeriod,
			"enforced_maximum", maxClockSkew,
			"risk", "expired tokens accepted long after exp")
		config.ClockSkewGracePeriod = maxClockSkew
	}
	limits := config.InputLengthRestrictions
	if limits.CodeVerifierMinLength < 43 {
		logger.Warn("SECURITY WARNING: code_verifier minimum below RFC 7636",
			"configured", limits.CodeVerifierMinLength,
			"recommendation", "Use at least 43 characters")
	}
	if config.AllowInsecureHTTP {
		logger.Warn("SECURITY WARNING: AllowInsecureHTTP is enabled",
			"risk", "Tokens and client secrets exposed to interception",
			"recommendation", "Serve the issuer over HTTPS")
	}
}
