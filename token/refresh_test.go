package token

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidc-grants/grants"
	"github.com/giantswarm/oidc-grants/storage"
)

func issueRefresh(t *testing.T, f *fixture, c *storage.Client) (string, *storage.RefreshToken) {
	t.Helper()
	req := userRequest(t, c.ClientID, "api1", "offline_access")
	req.Client = c

	at, err := f.tokens.CreateAccessToken(context.Background(), req)
	require.NoError(t, err)

	handle, err := f.refresh.CreateRefreshToken(context.Background(), at, c)
	require.NoError(t, err)

	rt, err := f.grants.GetRefreshToken(context.Background(), handle)
	require.NoError(t, err)
	require.NotNil(t, rt)
	return handle, rt
}

func TestInitialLifetime(t *testing.T) {
	tests := []struct {
		name       string
		expiration storage.TokenExpiration
		absolute   int
		sliding    int
		expected   int
	}{
		{name: "absolute", expiration: storage.TokenExpirationAbsolute, absolute: 7200, sliding: 3600, expected: 7200},
		{name: "absolute without expiry", expiration: storage.TokenExpirationAbsolute, absolute: 0, sliding: 3600, expected: 0},
		{name: "sliding", expiration: storage.TokenExpirationSliding, absolute: 7200, sliding: 3600, expected: 3600},
		{name: "sliding capped", expiration: storage.TokenExpirationSliding, absolute: 1800, sliding: 3600, expected: 1800},
		{name: "sliding without cap", expiration: storage.TokenExpirationSliding, absolute: 0, sliding: 3600, expected: 3600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &storage.Client{
				RefreshTokenExpiration:       tt.expiration,
				AbsoluteRefreshTokenLifetime: tt.absolute,
				SlidingRefreshTokenLifetime:  tt.sliding,
			}
			assert.Equal(t, tt.expected, initialLifetime(c))
		})
	}
}

func TestCreateRefreshToken(t *testing.T) {
	f := newFixture(t)
	c := client(t, "roclient")

	handle, rt := issueRefresh(t, f, c)
	assert.Len(t, handle, 43)
	assert.Equal(t, 3600, rt.Lifetime)
	assert.Equal(t, testStart, rt.CreationTime)
	assert.Equal(t, "roclient", rt.ClientID())
	assert.Equal(t, []string{"api1", "offline_access"}, rt.Scopes())
}

func TestUpdateRefreshToken_SlidingReUse(t *testing.T) {
	f := newFixture(t)
	c := client(t, "roclient")
	handle, rt := issueRefresh(t, f, c)

	// 30 minutes in, the window slides to age + sliding
	f.clock.Advance(30 * time.Minute)
	next, err := f.refresh.UpdateRefreshToken(context.Background(), handle, rt, c)
	require.NoError(t, err)
	assert.Equal(t, handle, next)

	stored, err := f.grants.GetRefreshToken(context.Background(), handle)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1800+3600, stored.Lifetime)
	assert.Equal(t, testStart, stored.CreationTime)

	// 90 minutes in, the absolute lifetime caps the window
	f.clock.Advance(time.Hour)
	_, err = f.refresh.UpdateRefreshToken(context.Background(), handle, stored, c)
	require.NoError(t, err)

	stored, err = f.grants.GetRefreshToken(context.Background(), handle)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 7200, stored.Lifetime)
	assert.Equal(t, testStart.Add(2*time.Hour), stored.Expiration())
}

func TestUpdateRefreshToken_AbsoluteOneTime(t *testing.T) {
	f := newFixture(t)
	c := client(t, "codeclient")
	c.AbsoluteRefreshTokenLifetime = 7200
	handle, rt := issueRefresh(t, f, c)
	version := rt.Version

	f.clock.Advance(time.Hour)
	next, err := f.refresh.UpdateRefreshToken(context.Background(), handle, rt, c)
	require.NoError(t, err)
	assert.NotEqual(t, handle, next)

	old, err := f.grants.GetRefreshToken(context.Background(), handle)
	require.NoError(t, err)
	assert.Nil(t, old)

	rotated, err := f.grants.GetRefreshToken(context.Background(), next)
	require.NoError(t, err)
	require.NotNil(t, rotated)
	assert.Equal(t, 7200, rotated.Lifetime)
	assert.Equal(t, testStart, rotated.CreationTime)
	assert.Equal(t, version+1, rotated.Version)
}

func TestUpdateRefreshToken_OneTimeRace(t *testing.T) {
	f := newFixture(t)
	c := client(t, "codeclient")
	handle, rt := issueRefresh(t, f, c)

	const workers = 20
	var (
		wg       sync.WaitGroup
		wins     atomic.Int32
		consumed atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			copyRT := *rt
			_, err := f.refresh.UpdateRefreshToken(context.Background(), handle, &copyRT, c)
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, grants.ErrGrantConsumed):
				consumed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), consumed.Load())
}

func TestUpdateRefreshToken_NoExpiration(t *testing.T) {
	f := newFixture(t)
	c := client(t, "codeclient")
	c.AbsoluteRefreshTokenLifetime = 0
	handle, rt := issueRefresh(t, f, c)
	assert.Equal(t, 0, rt.Lifetime)

	f.clock.Advance(365 * 24 * time.Hour)
	next, err := f.refresh.UpdateRefreshToken(context.Background(), handle, rt, c)
	require.NoError(t, err)

	rotated, err := f.grants.GetRefreshToken(context.Background(), next)
	require.NoError(t, err)
	require.NotNil(t, rotated)
	assert.True(t, rotated.Expiration().IsZero())
}
