package storage

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AnatoleLucet/ripple/internal"
	"github.com/AnatoleLucet/ripple/internal/observability"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("prefixes and normalizes keys", func(t *testing.T) {
		st := New(internal.NewRuntime(), NewMemoryBackend(), WithPrefix("app"))

		assert.Equal(t, "_app_count", st.Key("count"))
		// decomposed e + combining acute becomes the precomposed form
		assert.Equal(t, "_app_caf\u00e9", st.Key("cafe\u0301"))
	})

	t.Run("round trips JSON values", func(t *testing.T) {
		backend := NewMemoryBackend()
		st := New(internal.NewRuntime(), backend)

		require.NoError(t, st.Set(ctx, "user", map[string]any{"name": "ada"}))

		var out map[string]string
		require.NoError(t, st.Get(ctx, "user", &out))
		assert.Equal(t, map[string]string{"name": "ada"}, out)
		assert.Equal(t, []string{"_ripple_user"}, backend.Keys())

		require.NoError(t, st.Remove(ctx, "user"))
		assert.ErrorIs(t, st.Get(ctx, "user", &out), ErrNotFound)
	})

	t.Run("persist seeds an empty backend with the current value", func(t *testing.T) {
		rt := internal.NewRuntime()
		backend := NewMemoryBackend()
		st := New(rt, backend)

		count, err := rt.NewState("count", 3)
		require.NoError(t, err)
		require.NoError(t, st.Persist(ctx, count, "", nil))

		raw, err := backend.Get(ctx, "_ripple_count")
		require.NoError(t, err)
		assert.Equal(t, "3", string(raw))
	})

	t.Run("persist ingests the stored value", func(t *testing.T) {
		rt := internal.NewRuntime()
		backend := NewMemoryBackend()
		require.NoError(t, backend.Set(ctx, "_ripple_count", []byte("42")))
		st := New(rt, backend)

		count, err := rt.NewState("count", 0)
		require.NoError(t, err)
		require.NoError(t, st.Persist(ctx, count, "", nil))

		assert.Equal(t, float64(42), count.Value())
		assert.Equal(t, 0, count.Previous())
	})

	t.Run("commits are written back", func(t *testing.T) {
		rt := internal.NewRuntime()
		backend := NewMemoryBackend()
		st := New(rt, backend)

		count, err := rt.NewState("", 1)
		require.NoError(t, err)
		require.NoError(t, st.Persist(ctx, count, "counter", nil))

		require.NoError(t, rt.Ingest(count, 7))

		raw, err := backend.Get(ctx, "_ripple_counter")
		require.NoError(t, err)
		assert.Equal(t, "7", string(raw))

		st.Forget(count)
		require.NoError(t, rt.Ingest(count, 8))

		raw, err = backend.Get(ctx, "_ripple_counter")
		require.NoError(t, err)
		assert.Equal(t, "7", string(raw))
	})

	t.Run("requires a key or a name", func(t *testing.T) {
		rt := internal.NewRuntime()
		st := New(rt, NewMemoryBackend())

		anon, err := rt.NewState("", 1)
		require.NoError(t, err)
		assert.ErrorIs(t, st.Persist(ctx, anon, "", nil), ErrNoKey)
	})

	t.Run("async loads deliver through ingest", func(t *testing.T) {
		rt := internal.NewRuntime()
		backend := NewMemoryBackend()
		require.NoError(t, backend.Set(ctx, "_ripple_name", []byte(`"stored"`)))

		rec := &observability.RecordingObserver{}
		st := New(rt, backend, WithAsync(true), WithObserver(rec))

		name, err := rt.NewState("name", "initial")
		require.NoError(t, err)

		log := []string{}
		var mu sync.Mutex
		_, err = rt.Subscribe(func() {
			mu.Lock()
			defer mu.Unlock()
			log = append(log, "changed")
		}, name)
		require.NoError(t, err)

		require.NoError(t, st.Persist(ctx, name, "", nil))
		st.Wait()
		rt.Flush()

		assert.Equal(t, "stored", name.Value())
		assert.Equal(t, []string{"changed"}, log)
		assert.Len(t, rec.Events(observability.EventStorageLoad), 1)
	})

	t.Run("typed decoder", func(t *testing.T) {
		rt := internal.NewRuntime()
		backend := NewMemoryBackend()
		require.NoError(t, backend.Set(ctx, "_ripple_n", []byte("5")))
		st := New(rt, backend)

		n, err := rt.NewState("n", 0)
		require.NoError(t, err)

		err = st.Persist(ctx, n, "", func(raw []byte) (any, error) {
			return len(raw) * 10, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 10, n.Value())
	})
}

// slowBackend stalls writes of one value so later writes could overtake it.
type slowBackend struct {
	*MemoryBackend
	slow  string
	delay time.Duration
}

func (b *slowBackend) Set(ctx context.Context, key string, value []byte) error {
	if string(value) == b.slow {
		time.Sleep(b.delay)
	}
	return b.MemoryBackend.Set(ctx, key, value)
}

func TestAsyncWriteBack(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps commit order with a slow backend", func(t *testing.T) {
		rt := internal.NewRuntime()
		backend := &slowBackend{MemoryBackend: NewMemoryBackend(), slow: "1", delay: 50 * time.Millisecond}
		st := New(rt, backend, WithAsync(true))

		count, err := rt.NewState("count", 0)
		require.NoError(t, err)
		require.NoError(t, st.Persist(ctx, count, "", nil))
		st.Wait()

		require.NoError(t, rt.Ingest(count, 1))
		require.NoError(t, rt.Ingest(count, 2))
		st.Wait()

		var stored int
		require.NoError(t, st.Get(ctx, "count", &stored))
		assert.Equal(t, 2, count.Value())
		assert.Equal(t, 2, stored)
	})

	t.Run("writes of several cells all land", func(t *testing.T) {
		rt := internal.NewRuntime()
		backend := &slowBackend{MemoryBackend: NewMemoryBackend(), slow: `"a1"`, delay: 20 * time.Millisecond}
		st := New(rt, backend, WithAsync(true))

		a, err := rt.NewState("a", "a0")
		require.NoError(t, err)
		b, err := rt.NewState("b", "b0")
		require.NoError(t, err)
		require.NoError(t, st.Persist(ctx, a, "", nil))
		require.NoError(t, st.Persist(ctx, b, "", nil))
		st.Wait()

		require.NoError(t, rt.Ingest(a, "a1"))
		require.NoError(t, rt.Ingest(b, "b1"))
		require.NoError(t, rt.Ingest(a, "a2"))
		st.Wait()

		var gotA, gotB string
		require.NoError(t, st.Get(ctx, "a", &gotA))
		require.NoError(t, st.Get(ctx, "b", &gotB))
		assert.Equal(t, "a2", gotA)
		assert.Equal(t, "b1", gotB)
	})
}

func TestSQLiteBackend(t *testing.T) {
	ctx := context.Background()

	backend, err := OpenSQLite(filepath.Join(t.TempDir(), "ripple.db"))
	require.NoError(t, err)
	defer backend.Close()

	_, err = backend.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, backend.Set(ctx, "k", []byte("1")))
	require.NoError(t, backend.Set(ctx, "k", []byte("2")))

	got, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got)

	require.NoError(t, backend.Remove(ctx, "k"))
	_, err = backend.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	t.Run("backs a persisted cell", func(t *testing.T) {
		rt := internal.NewRuntime()
		st := New(rt, backend, WithPrefix("sql"))

		count, err := rt.NewState("count", 1)
		require.NoError(t, err)
		require.NoError(t, st.Persist(ctx, count, "", nil))
		require.NoError(t, rt.Ingest(count, 9))

		var stored int
		require.NoError(t, st.Get(ctx, "count", &stored))
		assert.Equal(t, 9, stored)
	})
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(v))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = v
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Backend(t *testing.T) {
	ctx := context.Background()
	client := &fakeS3{objects: make(map[string][]byte)}
	backend := NewS3Backend(client, "bucket", "state/")

	_, err := backend.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, backend.Set(ctx, "k", []byte(`{"a":1}`)))
	assert.Contains(t, client.objects, "bucket/state/k")

	got, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got))

	require.NoError(t, backend.Remove(ctx, "k"))
	assert.NotContains(t, client.objects, "bucket/state/k")
}
