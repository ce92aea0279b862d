package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/giantswarm/oidc-grants/instrumentation"
	"github.com/giantswarm/oidc-grants/security"
)

const (
	// DefaultCacheTTL is how long the key set is served from cache before the store is read again
	DefaultCacheTTL = 30 * time.Second

	// DefaultReloadInterval is the minimum time between reloads forced by
	// unknown key ids
	DefaultReloadInterval = 5 * time.Second

	// DefaultRetention keeps retired keys available for verification. It must
	// exceed the longest access and identity token lifetime in use.
	DefaultRetention = 24 * time.Hour

	keySetCacheKey = "keyset"
)

// MaterialService provides the credential used to sign tokens and the keys
// accepted when validating them.
type MaterialService interface {
	// SigningKey returns the active signing key or ErrNoActiveKey
	SigningKey(ctx context.Context) (*Key, error)

	// ValidationKeys returns every key whose signatures are currently accepted
	ValidationKeys(ctx context.Context) ([]*Key, error)

	// ValidationKey returns the validation key with the given id or ErrKeyNotFound
	ValidationKey(ctx context.Context, kid string) (*Key, error)
}

// Config configures a Keyring.
type Config struct {
	// CacheTTL bounds how stale the cached key set may be (default: 30s)
	CacheTTL time.Duration

	// Retention is how long retired keys still verify (default: 24h)
	Retention time.Duration

	// ReloadInterval bounds how often an unknown key id may force a store
	// read before the cache expires (default: 5s)
	ReloadInterval time.Duration

	// KeySize is the RSA size of keys created by Rotate (default: 2048)
	KeySize int

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// Clock overrides time.Now in tests
	Clock security.Clock
}

// Keyring is a MaterialService over a Store. The key set is cached and
// concurrent reloads are collapsed into one store read.
type Keyring struct {
	store  Store
	cache  *gocache.Cache
	group  singleflight.Group
	reload *rate.Limiter
	logger *slog.Logger
	clock  security.Clock

	retention time.Duration
	keySize   int

	rotateMu        sync.Mutex
	instrumentation *instrumentation.Instrumentation
}

var _ MaterialService = (*Keyring)(nil)

// NewKeyring creates a keyring over store.
func NewKeyring(store Store, cfg Config) *Keyring {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = DefaultReloadInterval
	}
	if cfg.KeySize == 0 {
		cfg.KeySize = DefaultKeySize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Keyring{
		store:     store,
		cache:     gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		reload:    rate.NewLimiter(rate.Every(cfg.ReloadInterval), 1),
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		retention: cfg.Retention,
		keySize:   cfg.KeySize,
	}
}

// SetInstrumentation enables key rotation metrics
func (k *Keyring) SetInstrumentation(inst *instrumentation.Instrumentation) {
	k.instrumentation = inst
}

// SigningKey returns the newest key that can sign.
func (k *Keyring) SigningKey(ctx context.Context) (*Key, error) {
	keys, err := k.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if key.CanSign() {
			return key, nil
		}
	}
	return nil, ErrNoActiveKey
}

// ValidationKeys returns active keys plus retired keys still inside the retention window.
func (k *Keyring) ValidationKeys(ctx context.Context) ([]*Key, error) {
	keys, err := k.load(ctx)
	if err != nil {
		return nil, err
	}
	now := k.clock.Now()
	out := make([]*Key, 0, len(keys))
	for _, key := range keys {
		if k.verifies(key, now) {
			out = append(out, key)
		}
	}
	return out, nil
}

// ValidationKey looks up a validation key by id. An unknown id forces a
// reload so keys added by another instance are picked up before the cache
// expires. Forced reloads happen at most once per ReloadInterval.
func (k *Keyring) ValidationKey(ctx context.Context, kid string) (*Key, error) {
	key, err := k.findValidationKey(ctx, kid)
	if !errors.Is(err, ErrKeyNotFound) {
		return key, err
	}
	if !k.reload.AllowN(k.clock.Now(), 1) {
		return nil, ErrKeyNotFound
	}

	k.logger.Debug("Unknown key id, reloading key set")
	k.Invalidate()
	return k.findValidationKey(ctx, kid)
}

func (k *Keyring) findValidationKey(ctx context.Context, kid string) (*Key, error) {
	keys, err := k.ValidationKeys(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if key.ID == kid {
			return key, nil
		}
	}
	return nil, ErrKeyNotFound
}

// JWKS returns the public validation keys as a JWK set.
func (k *Keyring) JWKS(ctx context.Context) (*JSONWebKeySet, error) {
	keys, err := k.ValidationKeys(ctx)
	if err != nil {
		return nil, err
	}
	set := &JSONWebKeySet{Keys: make([]JSONWebKey, 0, len(keys))}
	for _, key := range keys {
		set.Keys = append(set.Keys, key.JWK())
	}
	return set, nil
}

// Rotate generates a new signing key, retires the previous ones and deletes
// retired keys whose retention has elapsed.
func (k *Keyring) Rotate(ctx context.Context) (*Key, error) {
	k.rotateMu.Lock()
	defer k.rotateMu.Unlock()

	now := k.clock.Now()
	key, err := GenerateKey(k.keySize, now)
	if err != nil {
		return nil, err
	}
	return key, k.install(ctx, key, now)
}

// AddSigningKey installs an externally provided key as the active signing key.
func (k *Keyring) AddSigningKey(ctx context.Context, key *Key) error {
	if !key.CanSign() {
		return fmt.Errorf("key %s cannot sign", key.ID)
	}

	k.rotateMu.Lock()
	defer k.rotateMu.Unlock()

	return k.install(ctx, key, k.clock.Now())
}

// EnsureKey returns the active signing key, creating one if none exists.
func (k *Keyring) EnsureKey(ctx context.Context) (*Key, error) {
	key, err := k.SigningKey(ctx)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrNoActiveKey) {
		return nil, err
	}

	k.logger.Info("No active signing key, generating one")
	return k.Rotate(ctx)
}

// Invalidate drops the cached key set.
func (k *Keyring) Invalidate() {
	k.cache.Delete(keySetCacheKey)
}

// install must be called with rotateMu held.
func (k *Keyring) install(ctx context.Context, key *Key, now time.Time) error {
	existing, err := k.store.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	if err := k.store.AddKey(ctx, key); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}

	retired, pruned := 0, 0
	for _, old := range existing {
		if old.ID == key.ID {
			continue
		}
		if old.CanSign() {
			if err := k.store.RetireKey(ctx, old.ID, now); err != nil {
				return fmt.Errorf("failed to retire key: %w", err)
			}
			retired++
			continue
		}
		if !k.verifies(old, now) {
			if err := k.store.DeleteKey(ctx, old.ID); err != nil {
				return fmt.Errorf("failed to delete key: %w", err)
			}
			pruned++
		}
	}

	k.Invalidate()

	k.logger.Info("Installed signing key",
		"kid", key.ID,
		"algorithm", key.Algorithm,
		"retired", retired,
		"pruned", pruned)

	if k.instrumentation != nil {
		k.instrumentation.Metrics().RecordKeyRotation(ctx, key.Algorithm)
	}
	return nil
}

// verifies reports whether signatures by key are accepted at now.
func (k *Keyring) verifies(key *Key, now time.Time) bool {
	return key.RetiredAt.IsZero() || now.Before(key.RetiredAt.Add(k.retention))
}

func (k *Keyring) load(ctx context.Context) ([]*Key, error) {
	if v, ok := k.cache.Get(keySetCacheKey); ok {
		return v.([]*Key), nil
	}

	v, err, _ := k.group.Do(keySetCacheKey, func() (any, error) {
		keys, err := k.store.ListKeys(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load keys: %w", err)
		}
		sort.SliceStable(keys, func(i, j int) bool {
			return keys[i].CreatedAt.After(keys[j].CreatedAt)
		})
		k.cache.SetDefault(keySetCacheKey, keys)
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*Key), nil
}
