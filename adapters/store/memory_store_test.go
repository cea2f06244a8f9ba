package store

import (
	"context"
	"testing"
	"time"

	"github.com/layer-3/amper/adapters/store/storetest"
	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.Storage {
		return NewMemoryStore()
	})
}

func TestMemoryStoreSweepsExpiredEntriesPeriodically(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore().(*MemoryStore)

	require.NoError(t, s.Put(ctx, "stale", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	// Expired entries are invisible before the sweep removes them.
	_, err := s.Get(ctx, "stale")
	require.ErrorIs(t, err, core.ErrNotFound)
	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	for i := 1; i < sweepInterval-1; i++ {
		require.NoError(t, s.Put(ctx, "fresh", []byte("v"), 0))
	}
	s.mu.RLock()
	_, ok := s.entries["stale"]
	s.mu.RUnlock()
	assert.True(t, ok, "single writes do not scan the map")

	require.NoError(t, s.Put(ctx, "fresh", []byte("v"), 0))
	s.mu.RLock()
	_, ok = s.entries["stale"]
	writes := s.writes
	s.mu.RUnlock()
	assert.False(t, ok)
	assert.Zero(t, writes)
}

func TestMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore().(*MemoryStore)
	require.NoError(t, s.Put(ctx, "a", []byte("v"), 0))

	s.Clear()

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
