package ripple

import (
	"context"
	"encoding/json"

	"github.com/AnatoleLucet/ripple/internal/storage"
)

type (
	Storage        = storage.Storage
	StorageBackend = storage.Backend
	StorageOption  = storage.Option
)

var (
	ErrStorageNotFound = storage.ErrNotFound
	ErrNoStorageKey    = storage.ErrNoKey

	WithStoragePrefix = storage.WithPrefix
	WithStorageAsync  = storage.WithAsync
	NewMemoryBackend  = storage.NewMemoryBackend
	OpenSQLiteBackend = storage.OpenSQLite
	NewS3Backend      = storage.NewS3Backend
)

// NewStorage binds backend to r. Commits of persisted cells are written back to it.
func NewStorage(r *Runtime, backend StorageBackend, opts ...StorageOption) *Storage {
	return storage.New(r.rt, backend, opts...)
}

// Persist loads cell from st, or seeds st with the cell's value when nothing is stored yet.
// An empty key falls back to the cell name.
func Persist[T any](ctx context.Context, st *Storage, cell *State[T], key string) error {
	return st.Persist(ctx, cell.state, key, func(raw []byte) (any, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	})
}
