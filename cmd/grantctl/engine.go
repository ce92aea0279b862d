package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/oidc-grants/instrumentation"
	"github.com/giantswarm/oidc-grants/keys"
	"github.com/giantswarm/oidc-grants/security"
	"github.com/giantswarm/oidc-grants/server"
	"github.com/giantswarm/oidc-grants/storage"
	"github.com/giantswarm/oidc-grants/storage/memory"
	"github.com/giantswarm/oidc-grants/storage/static"
	"github.com/giantswarm/oidc-grants/storage/valkey"
	"github.com/giantswarm/oidc-grants/validation"
)

// engineOptions are the flags shared by commands that run the engine.
type engineOptions struct {
	configPath  string
	clientsPath string
	usersPath   string
	keyPath     string
	issuer      string

	valkeyAddr     string
	valkeyPassword string
	valkeyDB       int
	valkeyPrefix   string

	encryptionKey string
	telemetry     bool
}

func (o *engineOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "", "Engine configuration file (YAML)")
	f.StringVar(&o.clientsPath, "clients", "", "Clients and scopes file (YAML, required)")
	f.StringVar(&o.usersPath, "users", "", "Resource owners file (YAML); enables the password grant")
	f.StringVar(&o.keyPath, "signing-key", "", "RSA private key (PEM); an ephemeral key is generated when empty")
	f.StringVar(&o.issuer, "issuer", "", "Issuer URI, overrides the configuration file")
	f.StringVar(&o.valkeyAddr, "valkey-addr", "", "Valkey address for grant storage; in-memory storage when empty")
	f.StringVar(&o.valkeyPassword, "valkey-password", os.Getenv("GRANTCTL_VALKEY_PASSWORD"), "Valkey password (env GRANTCTL_VALKEY_PASSWORD)")
	f.IntVar(&o.valkeyDB, "valkey-db", 0, "Valkey database number")
	f.StringVar(&o.valkeyPrefix, "valkey-prefix", valkey.DefaultKeyPrefix, "Valkey key prefix")
	f.StringVar(&o.encryptionKey, "encryption-key", os.Getenv("GRANTCTL_ENCRYPTION_KEY"), "Base64 AES-256 key for grant payloads at rest (env GRANTCTL_ENCRYPTION_KEY)")
	f.BoolVar(&o.telemetry, "telemetry", false, "Enable OpenTelemetry metrics and tracing")
}

// engine is a fully wired token engine and the resources it owns.
type engine struct {
	server  *server.Server
	keyring *keys.Keyring
	inst    *instrumentation.Instrumentation
	closers []func()
}

func (e *engine) Close(ctx context.Context) {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	if e.inst != nil {
		_ = e.inst.Shutdown(ctx)
	}
}

func buildEngine(ctx context.Context, o *engineOptions, logger *slog.Logger) (*engine, error) {
	config := &server.Config{}
	if o.configPath != "" {
		var err error
		if config, err = server.LoadConfig(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.issuer != "" {
		config.Issuer = o.issuer
	}

	if o.clientsPath == "" {
		return nil, fmt.Errorf("--clients is required")
	}
	clients, err := static.LoadFile(o.clientsPath)
	if err != nil {
		return nil, err
	}

	users, err := loadUsers(o.usersPath)
	if err != nil {
		return nil, err
	}

	e := &engine{}
	ok := false
	defer func() {
		if !ok {
			e.Close(ctx)
		}
	}()

	e.inst, err = instrumentation.New(instrumentation.Config{
		ServiceName:    "grantctl",
		ServiceVersion: Version,
		Enabled:        o.telemetry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	grantStore, err := o.grantStore(logger, e)
	if err != nil {
		return nil, err
	}

	keyStore := keys.NewMemoryStore()
	if o.keyPath != "" {
		data, err := os.ReadFile(o.keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key: %w", err)
		}
		key, err := keys.ParsePrivateKeyPEM(data, time.Now())
		if err != nil {
			return nil, err
		}
		if err := keyStore.AddKey(ctx, key); err != nil {
			return nil, err
		}
	}
	e.keyring = keys.NewKeyring(keyStore, keys.Config{Logger: logger})
	e.keyring.SetInstrumentation(e.inst)
	if _, err := e.keyring.EnsureKey(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare signing key: %w", err)
	}

	e.server, err = server.New(grantStore, clients, clients, e.keyring, users, config, logger)
	if err != nil {
		return nil, err
	}
	e.server.SetInstrumentation(e.inst)
	if o.usersPath != "" {
		e.server.SetPasswordValidator(validation.NewCredentialPasswordValidator(users, config.Clock))
	}

	if o.encryptionKey != "" {
		raw, err := security.KeyFromBase64(o.encryptionKey)
		if err != nil {
			return nil, err
		}
		enc, err := security.NewEncryptor(raw)
		if err != nil {
			return nil, err
		}
		e.server.SetEncryptor(enc)
	}

	ok = true
	return e, nil
}

// grantStore opens Valkey when an address is configured and falls back to
// the in-memory store.
func (o *engineOptions) grantStore(logger *slog.Logger, e *engine) (storage.GrantStore, error) {
	if o.valkeyAddr == "" {
		store := memory.New()
		store.SetLogger(logger)
		store.SetInstrumentation(e.inst)
		e.closers = append(e.closers, store.Stop)
		return store, nil
	}

	store, err := valkey.New(valkey.Config{
		Address:   o.valkeyAddr,
		Password:  o.valkeyPassword,
		DB:        o.valkeyDB,
		KeyPrefix: o.valkeyPrefix,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	store.SetInstrumentation(e.inst)
	e.closers = append(e.closers, store.Close)
	return store, nil
}
