package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/layer-3/amper/adapters/store"
	"github.com/layer-3/amper/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStorePutGet(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokenStore(store.NewMemoryStore(), nil)

	_, err := tokens.Get(ctx, testScope)
	require.ErrorIs(t, err, core.ErrNotFound)

	token := core.NewStoredToken(testScope, testChallenge("lnbc1..."), testProof(), time.Hour, map[string]string{"tab": "1"})
	require.NoError(t, tokens.Put(ctx, token))

	got, err := tokens.Get(ctx, testScope)
	require.NoError(t, err)
	assert.Equal(t, token.ID, got.ID)
	assert.Equal(t, token.Authorization(), got.Authorization())
	assert.Equal(t, "1", got.Metadata["tab"])

	replacement := core.NewStoredToken(testScope, testChallenge("lnbc2..."), testProof(), 0, nil)
	require.NoError(t, tokens.Put(ctx, replacement))
	got, err = tokens.Get(ctx, testScope)
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, got.ID)
	assert.Nil(t, got.Metadata, "put replaces, never merges")
}

func TestTokenStoreRejectsBadTokens(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokenStore(store.NewMemoryStore(), nil)

	err := tokens.Put(ctx, core.StoredToken{Scope: "not a url"})
	assert.ErrorIs(t, err, core.ErrInvalidScope)

	past := time.Now().Add(-time.Minute)
	err = tokens.Put(ctx, core.StoredToken{Scope: testScope, ExpiresAt: &past})
	assert.Error(t, err)
}

func TestTokenStoreNeverReturnsExpired(t *testing.T) {
	ctx := context.Background()
	storage := store.NewMemoryStore()
	tokens := NewTokenStore(storage, nil)

	token := core.NewStoredToken(testScope, testChallenge("lnbc1..."), testProof(), time.Hour, nil)
	require.NoError(t, tokens.Put(ctx, token))

	tokens.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err := tokens.Get(ctx, testScope)
	require.ErrorIs(t, err, core.ErrNotFound)

	_, err = storage.Get(ctx, testScope)
	assert.ErrorIs(t, err, core.ErrNotFound, "expired entry is evicted")
}

func TestTokenStoreEvictionKeepsFreshWrite(t *testing.T) {
	ctx := context.Background()
	storage := store.NewMemoryStore()
	tokens := NewTokenStore(storage, nil)

	expired := time.Now().Add(-time.Minute)
	stale := core.StoredToken{ID: "stale", Scope: testScope, ExpiresAt: &expired}
	staleRaw, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, storage.Put(ctx, testScope, staleRaw, 0))

	// A fresh token lands between the read and the eviction.
	fresh := core.NewStoredToken(testScope, testChallenge("lnbc1..."), testProof(), 0, nil)
	require.NoError(t, tokens.Put(ctx, fresh))
	tokens.evict(ctx, testScope, staleRaw)

	got, err := tokens.Get(ctx, testScope)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, got.ID)
}

func TestTokenStoreDropsUnreadableEntries(t *testing.T) {
	ctx := context.Background()
	storage := store.NewMemoryStore()
	tokens := NewTokenStore(storage, nil)

	require.NoError(t, storage.Put(ctx, testScope, []byte("{not json"), 0))
	_, err := tokens.Get(ctx, testScope)
	require.ErrorIs(t, err, core.ErrNotFound)

	other := core.NewStoredToken("https://other.example/", testChallenge("lnbc1..."), testProof(), 0, nil)
	raw, err := json.Marshal(other)
	require.NoError(t, err)
	require.NoError(t, storage.Put(ctx, testScope, raw, 0))
	_, err = tokens.Get(ctx, testScope)
	require.ErrorIs(t, err, core.ErrNotFound, "entry stored under the wrong scope")
}

func TestTokenStoreHostFailure(t *testing.T) {
	ctx := context.Background()
	storage := newFlakyStorage()
	tokens := NewTokenStore(storage, nil)

	storage.failGet.Store(true)
	_, err := tokens.Get(ctx, testScope)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.ErrorIs(t, err, errHostDown)

	storage.failPut.Store(true)
	err = tokens.Put(ctx, core.NewStoredToken(testScope, testChallenge("lnbc1..."), testProof(), 0, nil))
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestTokenStoreInvalidateAndList(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokenStore(store.NewMemoryStore(), nil)

	scopes := []string{"https://b.example/x", "https://a.example/y", "https://c.example/"}
	for _, scope := range scopes {
		require.NoError(t, tokens.Put(ctx, core.NewStoredToken(scope, testChallenge("lnbc1..."), testProof(), time.Hour, nil)))
	}
	require.NoError(t, tokens.Invalidate(ctx, "https://c.example/"))
	require.NoError(t, tokens.Invalidate(ctx, "https://missing.example/"))

	list, err := tokens.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "https://a.example/y", list[0].Scope)
	assert.Equal(t, "https://b.example/x", list[1].Scope)

	tokens.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	list, err = tokens.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTokenStoreSupersede(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokenStore(store.NewMemoryStore(), nil)

	_, revoked, err := tokens.Supersede(ctx, testScope, "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
	assert.False(t, revoked)

	stale := core.NewStoredToken(testScope, testChallenge("lnbc1..."), testProof(), 0, nil)
	require.NoError(t, tokens.Put(ctx, stale))
	_, revoked, err = tokens.Supersede(ctx, testScope, stale.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
	assert.True(t, revoked)

	// A replacement survives a late rejection of the token it replaced.
	fresh := core.NewStoredToken(testScope, testChallenge("lnbc1next"), testProof(), 0, nil)
	require.NoError(t, tokens.Put(ctx, fresh))
	got, revoked, err := tokens.Supersede(ctx, testScope, stale.ID)
	require.NoError(t, err)
	assert.False(t, revoked)
	assert.Equal(t, fresh.ID, got.ID)

	cached, err := tokens.Get(ctx, testScope)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, cached.ID)
}
