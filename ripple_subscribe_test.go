package ripple

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe(t *testing.T) {
	t.Run("notifies on flush only", func(t *testing.T) {
		log := []string{}
		r := New()

		count := NewState(r, 0)
		_, err := r.Subscribe(func() { log = append(log, "notified") }, count)
		require.NoError(t, err)

		require.NoError(t, count.Set(1))
		assert.Empty(t, log)
		assert.Equal(t, 1, r.Pending())

		r.Flush()
		assert.Equal(t, []string{"notified"}, log)
		assert.Equal(t, 0, r.Pending())
	})

	t.Run("flush is idempotent", func(t *testing.T) {
		log := []string{}
		r := New()

		count := NewState(r, 0)
		r.Subscribe(func() { log = append(log, "notified") }, count)

		count.Set(1)
		r.Flush()
		r.Flush()

		assert.Equal(t, []string{"notified"}, log)
	})

	t.Run("flush without commits", func(t *testing.T) {
		log := []string{}
		r := New()

		count := NewState(r, 0)
		r.Subscribe(func() { log = append(log, "notified") }, count)

		r.Flush()
		assert.Empty(t, log)
	})

	t.Run("one notification for several commits", func(t *testing.T) {
		log := []string{}
		r := New()

		a := NewState(r, 0)
		b := NewState(r, 0)
		r.Subscribe(func() { log = append(log, "notified") }, a, b)

		a.Set(1)
		b.Set(2)
		a.Set(3)
		r.Flush()

		assert.Equal(t, []string{"notified"}, log)
	})

	t.Run("subscribers are notified in registration order", func(t *testing.T) {
		log := []string{}
		r := New()

		count := NewState(r, 0)
		r.Subscribe(func() { log = append(log, "first") }, count)
		r.Subscribe(func() { log = append(log, "second") }, count)

		count.Set(1)
		r.Flush()

		assert.Equal(t, []string{"first", "second"}, log)
	})

	t.Run("unsubscribe", func(t *testing.T) {
		log := []string{}
		r := New()

		count := NewState(r, 0)
		sub, err := r.Subscribe(func() { log = append(log, "notified") }, count)
		require.NoError(t, err)

		sub.Unsubscribe()
		assert.Empty(t, r.Internal().Subscribers(count.cell()))

		count.Set(1)
		r.Flush()
		assert.Empty(t, log)

		// unsubscribing twice is a no-op
		r.Unsubscribe(sub)
	})

	t.Run("rejects cells of another runtime", func(t *testing.T) {
		r1 := New()
		r2 := New()

		count := NewState(r1, 0)
		_, err := r2.Subscribe(func() {}, count)
		assert.ErrorIs(t, err, ErrForeignCell)
	})

	t.Run("isolates panicking subscribers", func(t *testing.T) {
		log := []string{}
		errs := []error{}
		r := New(WithErrorHandler(func(err error) { errs = append(errs, err) }))

		count := NewState(r, 0)
		r.Subscribe(func() { panic("boom") }, count)
		r.Subscribe(func() { log = append(log, "still notified") }, count)

		count.Set(1)
		r.Flush()

		assert.Equal(t, []string{"still notified"}, log)
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], ErrNotifyPanic)
		assert.ErrorContains(t, errs[0], "boom")
	})

	t.Run("ingest during flush is drained after it", func(t *testing.T) {
		log := []string{}
		r := New()

		a := NewState(r, 0)
		b := NewState(r, 0)

		r.Subscribe(func() {
			require.NoError(t, b.Set(a.Value()*2))
			log = append(log, fmt.Sprintf("a notified, b=%d", b.Value()))
		}, a)
		r.Subscribe(func() { log = append(log, "b notified") }, b)

		a.Set(1)
		r.Flush()

		assert.Equal(t, 2, b.Value())
		assert.Equal(t, 1, r.Pending())
		assert.Equal(t, []string{"a notified, b=0"}, log)

		r.Flush()
		assert.Equal(t, []string{"a notified, b=0", "b notified"}, log)
	})

	t.Run("auto flush", func(t *testing.T) {
		log := []string{}
		r := New(WithAutoFlush(true))

		a := NewState(r, 0)
		b := NewState(r, 0)

		r.Subscribe(func() { b.Set(a.Value() * 2) }, a)
		r.Subscribe(func() { log = append(log, fmt.Sprintf("b=%d", b.Value())) }, b)

		require.NoError(t, a.Set(1))

		assert.Equal(t, []string{"b=2"}, log)
		assert.Equal(t, 0, r.Pending())
	})

	t.Run("auto flush waits for the batch", func(t *testing.T) {
		log := []string{}
		r := New(WithAutoFlush(true))

		a := NewState(r, 0)
		r.Subscribe(func() { log = append(log, fmt.Sprintf("a=%d", a.Value())) }, a)

		r.Batch(func() {
			a.Set(1)
			a.Set(2)
		})

		assert.Equal(t, []string{"a=2"}, log)
	})
}

func TestSubscribeComponent(t *testing.T) {
	type update struct {
		handle  any
		changes map[string]any
	}

	t.Run("receives only the changed keys", func(t *testing.T) {
		updates := []update{}
		r := New()

		a := NewState(r, 1)
		b := NewState(r, 2)

		_, err := r.SubscribeComponent("view", map[string]Cell{"a": a, "b": b},
			WithKeyDiff(),
			WithUpdate(func(handle any, changes map[string]any) {
				updates = append(updates, update{handle, changes})
			}),
		)
		require.NoError(t, err)

		a.Set(10)
		r.Flush()

		assert.Equal(t, []update{
			{"view", map[string]any{"a": 10}},
		}, updates)
	})

	t.Run("batched commits arrive together", func(t *testing.T) {
		updates := []update{}
		r := New()

		a := NewState(r, 1)
		b := NewState(r, 2)

		r.SubscribeComponent("view", map[string]Cell{"a": a, "b": b},
			WithKeyDiff(),
			WithUpdate(func(handle any, changes map[string]any) {
				updates = append(updates, update{handle, changes})
			}),
		)

		a.Set(10)
		b.Set(20)
		r.Flush()

		assert.Equal(t, []update{
			{"view", map[string]any{"a": 10, "b": 20}},
		}, updates)

		// changed keys do not leak into the next flush
		b.Set(30)
		r.Flush()

		assert.Equal(t, map[string]any{"b": 30}, updates[1].changes)
	})

	t.Run("one cell under several keys", func(t *testing.T) {
		updates := []update{}
		r := New()

		a := NewState(r, 1)

		r.SubscribeComponent("view", map[string]Cell{"x": a, "y": a},
			WithKeyDiff(),
			WithUpdate(func(handle any, changes map[string]any) {
				updates = append(updates, update{handle, changes})
			}),
		)

		a.Set(5)
		r.Flush()

		assert.Equal(t, []update{
			{"view", map[string]any{"x": 5, "y": 5}},
		}, updates)
	})

	t.Run("without key diff", func(t *testing.T) {
		updates := []update{}
		r := New()

		a := NewState(r, 1)

		r.SubscribeComponent("view", map[string]Cell{"a": a},
			WithUpdate(func(handle any, changes map[string]any) {
				updates = append(updates, update{handle, changes})
			}),
		)

		a.Set(5)
		r.Flush()

		assert.Equal(t, []update{
			{"view", map[string]any{}},
		}, updates)
	})

	t.Run("falls back to the runtime update function", func(t *testing.T) {
		updates := []update{}
		r := New(WithUpdateFunc(func(handle any, changes map[string]any) {
			updates = append(updates, update{handle, changes})
		}))

		a := NewState(r, 1)
		_, err := r.SubscribeComponent(42, map[string]Cell{"a": a}, WithKeyDiff())
		require.NoError(t, err)

		a.Set(2)
		r.Flush()

		assert.Equal(t, []update{
			{42, map[string]any{"a": 2}},
		}, updates)
	})

	t.Run("requires an update function", func(t *testing.T) {
		r := New()

		a := NewState(r, 1)
		_, err := r.SubscribeComponent("view", map[string]Cell{"a": a})
		assert.ErrorIs(t, err, ErrNoUpdateFunc)
	})

	t.Run("disposed cells drop their keys", func(t *testing.T) {
		updates := []update{}
		r := New()

		a := NewState(r, 1)
		b := NewState(r, 2)

		sub, err := r.SubscribeComponent("view", map[string]Cell{"a": a, "b": b},
			WithKeyDiff(),
			WithUpdate(func(handle any, changes map[string]any) {
				updates = append(updates, update{handle, changes})
			}),
		)
		require.NoError(t, err)

		b.Set(3)
		b.Dispose()
		a.Set(4)
		r.Flush()

		assert.Equal(t, []string{"a"}, sub.Keys())
		assert.Equal(t, []update{
			{"view", map[string]any{"a": 4}},
		}, updates)
	})
}
