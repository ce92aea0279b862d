// Package memory provides an in-memory implementation of the GrantStore interface.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-grants/instrumentation"
	"github.com/giantswarm/oidc-grants/internal/util"
	"github.com/giantswarm/oidc-grants/storage"
)

const (
	// keyLogLength is the number of characters to include when logging grant handles
	keyLogLength = 8

	// DefaultCleanupInterval is how often expired grants are swept
	DefaultCleanupInterval = time.Minute
)

// Store is an in-memory implementation of storage.GrantStore.
type Store struct {
	mu sync.RWMutex

	grants    map[string]*storage.PersistedGrant
	bySubject map[string]map[string]struct{} // subject id -> set of keys

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	codesCount     atomic.Int64
	refreshCount   atomic.Int64
	referenceCount atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
	logger          *slog.Logger
}

// Compile-time interface check
var _ storage.GrantStore = (*Store)(nil)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(DefaultCleanupInterval)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	s := &Store{
		grants:          make(map[string]*storage.PersistedGrant),
		bySubject:       make(map[string]map[string]struct{}),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterGrantCountCallbacks(
			s.codesCount.Load,
			s.refreshCount.Load,
			s.referenceCount.Load,
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// Len returns the number of stored grants, including expired ones not yet swept
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.grants)
}

// ============================================================
// GrantStore Implementation
// ============================================================

// Store saves a copy of the grant, replacing any grant with the same key
func (s *Store) Store(ctx context.Context, grant *storage.PersistedGrant) error {
	ctx, span := s.startStorageSpan(ctx, "store")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "store", err, startTime)
	}()

	if err = grant.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.grants[grant.Key]; ok {
		s.unindexLocked(old)
	}

	stored := cloneGrant(grant)
	s.grants[stored.Key] = stored
	if stored.SubjectID != "" {
		keys, ok := s.bySubject[stored.SubjectID]
		if !ok {
			keys = make(map[string]struct{})
			s.bySubject[stored.SubjectID] = keys
		}
		keys[stored.Key] = struct{}{}
	}
	s.counter(stored.Type).Add(1)

	s.logger.Debug("Stored grant",
		"type", stored.Type,
		"client_id", stored.ClientID,
		"key_prefix", util.SafeTruncate(stored.Key, keyLogLength))

	return nil
}

// Get returns a copy of the grant stored under key
func (s *Store) Get(ctx context.Context, key string) (*storage.PersistedGrant, error) {
	ctx, span := s.startStorageSpan(ctx, "get")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, ok := s.grants[key]
	if !ok {
		err = storage.ErrGrantNotFound
		return nil, err
	}
	return cloneGrant(grant), nil
}

// GetAll returns copies of every grant of subjectID
func (s *Store) GetAll(ctx context.Context, subjectID string) ([]*storage.PersistedGrant, error) {
	ctx, span := s.startStorageSpan(ctx, "get_all")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "get_all", nil, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.bySubject[subjectID]
	out := make([]*storage.PersistedGrant, 0, len(keys))
	for key := range keys {
		if grant, ok := s.grants[key]; ok {
			out = append(out, cloneGrant(grant))
		}
	}
	return out, nil
}

// Remove deletes the grant stored under key
func (s *Store) Remove(ctx context.Context, key string) error {
	ctx, span := s.startStorageSpan(ctx, "remove")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "remove", nil, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if grant, ok := s.grants[key]; ok {
		s.deleteLocked(grant)
		s.logger.Debug("Removed grant",
			"type", grant.Type,
			"key_prefix", util.SafeTruncate(key, keyLogLength))
	}
	return nil
}

// RemoveAll deletes every grant of subjectID issued to clientID
func (s *Store) RemoveAll(ctx context.Context, subjectID, clientID string) error {
	return s.removeMatching(ctx, "remove_all", subjectID, clientID, func(*storage.PersistedGrant) bool { return true })
}

// RemoveAllByType deletes every grant of grantType of subjectID issued to clientID
func (s *Store) RemoveAllByType(ctx context.Context, subjectID, clientID string, grantType storage.GrantType) error {
	return s.removeMatching(ctx, "remove_all_by_type", subjectID, clientID, func(g *storage.PersistedGrant) bool {
		return g.Type == grantType
	})
}

// Take atomically returns and deletes the grant stored under key.
// SECURITY: Runs under the write lock, so only one concurrent caller can observe the grant.
func (s *Store) Take(ctx context.Context, key string) (*storage.PersistedGrant, error) {
	ctx, span := s.startStorageSpan(ctx, "take")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "take", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[key]
	if !ok {
		err = storage.ErrGrantNotFound
		return nil, err
	}
	s.deleteLocked(grant)

	s.logger.Debug("Took grant",
		"type", grant.Type,
		"key_prefix", util.SafeTruncate(key, keyLogLength))

	return grant, nil
}

func (s *Store) removeMatching(ctx context.Context, operation, subjectID, clientID string, match func(*storage.PersistedGrant) bool) error {
	ctx, span := s.startStorageSpan(ctx, operation)
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, operation, nil, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.bySubject[subjectID] {
		grant, ok := s.grants[key]
		if !ok || grant.ClientID != clientID || !match(grant) {
			continue
		}
		s.deleteLocked(grant)
		removed++
	}

	if removed > 0 {
		s.logger.Debug("Removed grants",
			"operation", operation,
			"client_id", clientID,
			"count", removed)
	}
	return nil
}

// deleteLocked removes grant from all maps. Caller must hold the write lock.
func (s *Store) deleteLocked(grant *storage.PersistedGrant) {
	delete(s.grants, grant.Key)
	s.unindexLocked(grant)
}

// unindexLocked removes grant from the subject index and counters. Caller must hold the write lock.
func (s *Store) unindexLocked(grant *storage.PersistedGrant) {
	if keys, ok := s.bySubject[grant.SubjectID]; ok {
		delete(keys, grant.Key)
		if len(keys) == 0 {
			delete(s.bySubject, grant.SubjectID)
		}
	}
	s.counter(grant.Type).Add(-1)
}

func (s *Store) counter(t storage.GrantType) *atomic.Int64 {
	switch t {
	case storage.GrantTypeAuthorizationCode:
		return &s.codesCount
	case storage.GrantTypeRefreshToken:
		return &s.refreshCount
	default:
		return &s.referenceCount
	}
}

func cloneGrant(g *storage.PersistedGrant) *storage.PersistedGrant {
	c := *g
	c.Data = append([]byte(nil), g.Data...)
	return &c
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup sweeps expired grants. Readers enforce expiry themselves; this only reclaims memory.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0
	for _, grant := range s.grants {
		if grant.IsExpired(now) {
			s.deleteLocked(grant)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired grants", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
