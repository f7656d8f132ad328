package ripple

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settings struct {
	Theme string `json:"theme"`
	Size  int    `json:"size"`
}

func TestPersist(t *testing.T) {
	ctx := context.Background()

	t.Run("loads a typed value", func(t *testing.T) {
		r := New()
		backend := NewMemoryBackend()
		require.NoError(t, backend.Set(ctx, "_app_settings", []byte(`{"theme":"dark","size":14}`)))

		st := NewStorage(r, backend, WithStoragePrefix("app"))

		cell, err := NewNamedState(r, "settings", settings{Theme: "light", Size: 12})
		require.NoError(t, err)
		require.NoError(t, Persist(ctx, st, cell, ""))

		assert.Equal(t, settings{Theme: "dark", Size: 14}, cell.Value())
		assert.Equal(t, settings{Theme: "light", Size: 12}, cell.Previous())
	})

	t.Run("seeds and writes back", func(t *testing.T) {
		r := New()
		backend := NewMemoryBackend()
		st := NewStorage(r, backend)

		count := NewState(r, 5)
		require.NoError(t, Persist(ctx, st, count, "count"))

		raw, err := backend.Get(ctx, st.Key("count"))
		require.NoError(t, err)
		assert.Equal(t, "5", string(raw))

		require.NoError(t, count.Set(6))

		var stored int
		require.NoError(t, st.Get(ctx, "count", &stored))
		assert.Equal(t, 6, stored)
	})

	t.Run("derived values can be persisted too", func(t *testing.T) {
		r := New()
		backend := NewMemoryBackend()
		st := NewStorage(r, backend)

		count := NewState(r, 1)
		require.NoError(t, Persist(ctx, st, count, "count"))

		doubled, err := NewNamedComputed(r, "doubled", func() (int, error) {
			return count.Read() * 2, nil
		})
		require.NoError(t, err)
		require.NoError(t, st.Persist(ctx, doubled.cell(), "", nil))

		require.NoError(t, count.Set(4))

		var stored int
		require.NoError(t, st.Get(ctx, "doubled", &stored))
		assert.Equal(t, 8, stored)
	})

	t.Run("unnamed cells need a key", func(t *testing.T) {
		r := New()
		st := NewStorage(r, NewMemoryBackend())

		count := NewState(r, 0)
		assert.ErrorIs(t, Persist(ctx, st, count, ""), ErrNoStorageKey)
	})
}
