package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/giantswarm/oidc-grants/instrumentation"
	"github.com/giantswarm/oidc-grants/storage"
)

const (
	testSubject = "test-subject"
	testClient  = "test-client"
)

func newGrant(key string, grantType storage.GrantType, subject, client string) *storage.PersistedGrant {
	now := time.Now()
	return &storage.PersistedGrant{
		Key:          key,
		Type:         grantType,
		SubjectID:    subject,
		ClientID:     client,
		CreationTime: now,
		Expiration:   now.Add(time.Hour),
		Data:         []byte(`{"v":1}`),
	}
}

func TestStore_StoreAndGet(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	grant := newGrant("key-1", storage.GrantTypeRefreshToken, testSubject, testClient)
	if err := store.Store(ctx, grant); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got, err := store.Get(ctx, "key-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ClientID != testClient || got.SubjectID != testSubject || string(got.Data) != `{"v":1}` {
		t.Errorf("Get() = %+v", got)
	}

	// Returned grants are copies
	got.Data[0] = 'X'
	again, _ := store.Get(ctx, "key-1")
	if string(again.Data) != `{"v":1}` {
		t.Error("mutating a returned grant must not change the stored grant")
	}
}

func TestStore_Store_Invalid(t *testing.T) {
	store := New()
	defer store.Stop()

	err := store.Store(context.Background(), &storage.PersistedGrant{Key: "k", Type: "bogus", ClientID: "c"})
	if !errors.Is(err, storage.ErrInvalidGrant) {
		t.Errorf("Store() error = %v, want ErrInvalidGrant", err)
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	store := New()
	defer store.Stop()

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrGrantNotFound) {
		t.Errorf("Get() error = %v, want ErrGrantNotFound", err)
	}
}

func TestStore_GetAll(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	_ = store.Store(ctx, newGrant("a", storage.GrantTypeRefreshToken, testSubject, testClient))
	_ = store.Store(ctx, newGrant("b", storage.GrantTypeReferenceToken, testSubject, "other-client"))
	_ = store.Store(ctx, newGrant("c", storage.GrantTypeRefreshToken, "someone-else", testClient))

	got, err := store.GetAll(ctx, testSubject)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("GetAll() returned %d grants, want 2", len(got))
	}
}

func TestStore_Remove(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	_ = store.Store(ctx, newGrant("a", storage.GrantTypeRefreshToken, testSubject, testClient))

	if err := store.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := store.Remove(ctx, "a"); err != nil {
		t.Errorf("removing a missing key should not fail, got %v", err)
	}
	if _, err := store.Get(ctx, "a"); !errors.Is(err, storage.ErrGrantNotFound) {
		t.Errorf("Get() after Remove() error = %v", err)
	}
	if all, _ := store.GetAll(ctx, testSubject); len(all) != 0 {
		t.Errorf("subject index still holds %d grants", len(all))
	}
}

func TestStore_RemoveAll(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	_ = store.Store(ctx, newGrant("a", storage.GrantTypeRefreshToken, testSubject, testClient))
	_ = store.Store(ctx, newGrant("b", storage.GrantTypeReferenceToken, testSubject, testClient))
	_ = store.Store(ctx, newGrant("c", storage.GrantTypeReferenceToken, testSubject, "other-client"))

	if err := store.RemoveAll(ctx, testSubject, testClient); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}

	all, _ := store.GetAll(ctx, testSubject)
	if len(all) != 1 || all[0].Key != "c" {
		t.Errorf("RemoveAll() left %v, want only the other client's grant", all)
	}
}

func TestStore_RemoveAllByType(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	_ = store.Store(ctx, newGrant("a", storage.GrantTypeRefreshToken, testSubject, testClient))
	_ = store.Store(ctx, newGrant("b", storage.GrantTypeReferenceToken, testSubject, testClient))

	if err := store.RemoveAllByType(ctx, testSubject, testClient, storage.GrantTypeRefreshToken); err != nil {
		t.Fatalf("RemoveAllByType() error = %v", err)
	}

	if _, err := store.Get(ctx, "a"); !errors.Is(err, storage.ErrGrantNotFound) {
		t.Error("refresh token should be removed")
	}
	if _, err := store.Get(ctx, "b"); err != nil {
		t.Error("reference token should survive")
	}
}

func TestStore_Take(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	_ = store.Store(ctx, newGrant("code", storage.GrantTypeAuthorizationCode, testSubject, testClient))

	got, err := store.Take(ctx, "code")
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if got.Key != "code" {
		t.Errorf("Take() key = %q", got.Key)
	}

	if _, err := store.Take(ctx, "code"); !errors.Is(err, storage.ErrGrantNotFound) {
		t.Errorf("second Take() error = %v, want ErrGrantNotFound", err)
	}
}

func TestStore_Take_Concurrent(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	_ = store.Store(ctx, newGrant("code", storage.GrantTypeAuthorizationCode, testSubject, testClient))

	const workers = 50
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := store.Take(ctx, "code"); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("Take() succeeded %d times, want exactly 1", got)
	}
}

func TestStore_Cleanup(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	expired := newGrant("old", storage.GrantTypeRefreshToken, testSubject, testClient)
	expired.Expiration = time.Now().Add(-time.Minute)
	_ = store.Store(ctx, expired)
	_ = store.Store(ctx, newGrant("fresh", storage.GrantTypeRefreshToken, testSubject, testClient))

	noExpiry := newGrant("forever", storage.GrantTypeReferenceToken, testSubject, testClient)
	noExpiry.Expiration = time.Time{}
	_ = store.Store(ctx, noExpiry)

	store.cleanup()

	if store.Len() != 2 {
		t.Errorf("Len() after cleanup = %d, want 2", store.Len())
	}
	if _, err := store.Get(ctx, "old"); !errors.Is(err, storage.ErrGrantNotFound) {
		t.Error("expired grant should be swept")
	}
}

func TestStore_Counters(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	inst, err := instrumentation.New(instrumentation.Config{Enabled: true})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	store.SetInstrumentation(inst)

	_ = store.Store(ctx, newGrant("a", storage.GrantTypeAuthorizationCode, testSubject, testClient))
	_ = store.Store(ctx, newGrant("b", storage.GrantTypeRefreshToken, testSubject, testClient))
	_ = store.Store(ctx, newGrant("b", storage.GrantTypeRefreshToken, testSubject, testClient)) // replace
	_ = store.Store(ctx, newGrant("c", storage.GrantTypeReferenceToken, testSubject, testClient))

	if got := store.refreshCount.Load(); got != 1 {
		t.Errorf("refresh counter = %d, want 1", got)
	}

	_, _ = store.Take(ctx, "a")
	if got := store.codesCount.Load(); got != 0 {
		t.Errorf("code counter = %d, want 0", got)
	}
	if got := store.referenceCount.Load(); got != 1 {
		t.Errorf("reference counter = %d, want 1", got)
	}
}

func TestStore_StopTwice(t *testing.T) {
	store := New()
	store.Stop()
	store.Stop()
}

func TestStore_UninstrumentedLeavesCallerSpanOpen(t *testing.T) {
	store := New()
	defer store.Stop()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("caller").Start(context.Background(), "caller")

	if err := store.Store(ctx, newGrant("key-1", storage.GrantTypeRefreshToken, testSubject, testClient)); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, storage.ErrGrantNotFound) {
		t.Fatalf("Get() error = %v, want ErrGrantNotFound", err)
	}
	if _, err := store.Take(ctx, "key-1"); err != nil {
		t.Fatalf("Take() error = %v", err)
	}

	if n := len(recorder.Ended()); n != 0 {
		t.Fatalf("store ended %d caller span(s)", n)
	}
	span.End()
}
