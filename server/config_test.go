package server

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/giantswarm/oidc-grants/keys"
	"github.com/giantswarm/oidc-grants/providers/mock"
	"github.com/giantswarm/oidc-grants/storage/memory"
	"github.com/giantswarm/oidc-grants/storage/static"
	"github.com/giantswarm/oidc-grants/validation"
)

func TestParseConfig(t *testing.T) {
	data := []byte(`
issuer: https://idsvr.test
clockSkewGracePeriod: 120
requireIntrospectionScopeMatch: true
auditEnabled: true
securityEventRateLimit: 5
inputLengthRestrictions:
  scope: 500
`)

	config, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if config.Issuer != "https://idsvr.test" {
		t.Errorf("Issuer = %q", config.Issuer)
	}
	if config.ClockSkewGracePeriod != 120 {
		t.Errorf("ClockSkewGracePeriod = %d, want 120", config.ClockSkewGracePeriod)
	}
	if !config.RequireIntrospectionScopeMatch || !config.AuditEnabled {
		t.Error("boolean options were not decoded")
	}
	if config.SecurityEventRateLimit != 5 {
		t.Errorf("SecurityEventRateLimit = %v, want 5", config.SecurityEventRateLimit)
	}
	if config.InputLengthRestrictions.Scope != 500 {
		t.Errorf("InputLengthRestrictions.Scope = %d, want 500", config.InputLengthRestrictions.Scope)
	}
}

func TestParseConfig_UnknownField(t *testing.T) {
	if _, err := ParseConfig([]byte("issuer: https://idsvr.test\nissuerr: typo\n")); err == nil {
		t.Fatal("ParseConfig() accepted an unknown field")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("issuer: https://idsvr.test\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if config.Issuer != "https://idsvr.test" {
		t.Errorf("Issuer = %q", config.Issuer)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig() of a missing file succeeded")
	}
}

func TestApplySecureDefaults(t *testing.T) {
	tests := []struct {
		name     string
		skew     int64
		wantSkew int64
	}{
		{name: "default", skew: 0, wantSkew: 300},
		{name: "explicit", skew: 60, wantSkew: 60},
		{name: "negative", skew: -5, wantSkew: 0},
		{name: "capped", skew: 3600, wantSkew: maxClockSkew},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := applySecureDefaults(&Config{ClockSkewGracePeriod: tt.skew}, slog.Default())
			if config.ClockSkewGracePeriod != tt.wantSkew {
				t.Errorf("ClockSkewGracePeriod = %d, want %d", config.ClockSkewGracePeriod, tt.wantSkew)
			}
			if config.InputLengthRestrictions != validation.DefaultInputLengthRestrictions() {
				t.Errorf("InputLengthRestrictions = %+v, want defaults", config.InputLengthRestrictions)
			}
			if config.SecurityEventBurst != 10 {
				t.Errorf("SecurityEventBurst = %d, want 10", config.SecurityEventBurst)
			}
		})
	}
}

func TestNew_HTTPSEnforcement(t *testing.T) {
	tests := []struct {
		name      string
		issuer    string
		allowHTTP bool
		wantErr   string
	}{
		{name: "https", issuer: "https://idsvr.example.com"},
		{name: "http localhost", issuer: "http://localhost:5000"},
		{name: "http loopback ip", issuer: "http://127.0.0.1:5000"},
		{name: "http ipv6 loopback", issuer: "http://[::1]:5000"},
		{name: "http remote", issuer: "http://idsvr.example.com", wantErr: "must use HTTPS"},
		{name: "http remote allowed", issuer: "http://idsvr.example.com", allowHTTP: true},
		{name: "other scheme", issuer: "ftp://idsvr.example.com", wantErr: "scheme"},
		{name: "empty", issuer: "", wantErr: "issuer is required"},
	}

	store := memory.New()
	t.Cleanup(store.Stop)
	clients, err := static.New(nil, nil)
	if err != nil {
		t.Fatalf("static.New() error = %v", err)
	}
	keyring := keys.NewKeyring(keys.NewMemoryStore(signingKey(t)), keys.Config{})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(store, clients, clients, keyring, mock.NewProfileService(), &Config{
				Issuer:            tt.issuer,
				AllowInsecureHTTP: tt.allowHTTP,
			}, nil)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("New() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("New() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)
	clients, err := static.New(nil, nil)
	if err != nil {
		t.Fatalf("static.New() error = %v", err)
	}
	keyring := keys.NewKeyring(keys.NewMemoryStore(signingKey(t)), keys.Config{})
	config := &Config{Issuer: "https://idsvr.test"}

	if _, err := New(nil, clients, clients, keyring, mock.NewProfileService(), config, nil); err == nil {
		t.Error("New() without a grant store succeeded")
	}
	if _, err := New(store, nil, clients, keyring, mock.NewProfileService(), config, nil); err == nil {
		t.Error("New() without a client store succeeded")
	}
	if _, err := New(store, clients, clients, nil, mock.NewProfileService(), config, nil); err == nil {
		t.Error("New() without key material succeeded")
	}
	if _, err := New(store, clients, clients, keyring, nil, config, nil); err == nil {
		t.Error("New() without a profile service succeeded")
	}
}
