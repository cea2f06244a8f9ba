// Package storetest provides a conformance suite for ports.Storage
// implementations.
package storetest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh storage for one subtest.
type Factory func(t *testing.T) ports.Storage

// Run exercises the Storage contract against stores produced by newStore.
// Keys are randomised so backends shared between runs (Redis) do not collide.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	key := func(name string) string {
		return "https://" + uuid.NewString() + ".example/" + name
	}

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, key("missing"))
		require.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		s := newStore(t)
		k := key("a")
		require.NoError(t, s.Put(ctx, k, []byte(`{"id":"1"}`), 0))

		got, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"id":"1"}`), got)
	})

	t.Run("put replaces", func(t *testing.T) {
		s := newStore(t)
		k := key("a")
		require.NoError(t, s.Put(ctx, k, []byte("old"), 0))
		require.NoError(t, s.Put(ctx, k, []byte("new"), 0))

		got, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), got)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		k := key("a")
		require.NoError(t, s.Put(ctx, k, []byte("v"), 0))
		require.NoError(t, s.Delete(ctx, k))

		_, err := s.Get(ctx, k)
		require.ErrorIs(t, err, core.ErrNotFound)
		require.NoError(t, s.Delete(ctx, k), "deleting a missing key is not an error")
	})

	t.Run("compare and delete", func(t *testing.T) {
		s := newStore(t)
		k := key("a")
		require.NoError(t, s.Put(ctx, k, []byte("current"), 0))

		deleted, err := s.CompareAndDelete(ctx, k, []byte("stale"))
		require.NoError(t, err)
		assert.False(t, deleted)
		_, err = s.Get(ctx, k)
		require.NoError(t, err)

		deleted, err = s.CompareAndDelete(ctx, k, []byte("current"))
		require.NoError(t, err)
		assert.True(t, deleted)
		_, err = s.Get(ctx, k)
		require.ErrorIs(t, err, core.ErrNotFound)

		deleted, err = s.CompareAndDelete(ctx, k, []byte("current"))
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("ttl expiry", func(t *testing.T) {
		s := newStore(t)
		k := key("short")
		require.NoError(t, s.Put(ctx, k, []byte("v"), 100*time.Millisecond))

		_, err := s.Get(ctx, k)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			_, err := s.Get(ctx, k)
			return err != nil
		}, 3*time.Second, 25*time.Millisecond)

		_, err = s.Get(ctx, k)
		require.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("keys", func(t *testing.T) {
		s := newStore(t)
		a, b := key("a"), key("b")
		require.NoError(t, s.Put(ctx, a, []byte("1"), 0))
		require.NoError(t, s.Put(ctx, b, []byte("2"), 0))

		keys, err := s.Keys(ctx)
		require.NoError(t, err)
		assert.Subset(t, keys, []string{a, b})

		require.NoError(t, s.Delete(ctx, a))
		keys, err = s.Keys(ctx)
		require.NoError(t, err)
		assert.NotContains(t, keys, a)
		assert.Contains(t, keys, b)
	})

	t.Run("writes are atomic", func(t *testing.T) {
		s := newStore(t)
		k := key("contended")
		values := [][]byte{bytes.Repeat([]byte("A"), 4096), bytes.Repeat([]byte("B"), 4096)}
		require.NoError(t, s.Put(ctx, k, values[0], 0))

		var wg sync.WaitGroup
		errs := make(chan error, 64)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					if err := s.Put(ctx, k, values[(w+i)%2], 0); err != nil {
						errs <- err
						return
					}
				}
			}(w)
		}
		for r := 0; r < 4; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					got, err := s.Get(ctx, k)
					if err != nil {
						errs <- err
						return
					}
					if !bytes.Equal(got, values[0]) && !bytes.Equal(got, values[1]) {
						errs <- fmt.Errorf("torn read of %d bytes", len(got))
						return
					}
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}
	})

	t.Run("returned values are not aliased", func(t *testing.T) {
		s := newStore(t)
		k := key("alias")
		value := []byte("original")
		require.NoError(t, s.Put(ctx, k, value, 0))
		value[0] = 'X'

		got, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, []byte("original"), got)

		got[0] = 'Y'
		again, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, []byte("original"), again)
	})
}
