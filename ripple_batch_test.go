package ripple

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch(t *testing.T) {
	t.Run("defers draining until the batch ends", func(t *testing.T) {
		log := []string{}
		r := New()

		count := NewState(r, 0)
		NewComputed(r, func() int {
			log = append(log, fmt.Sprintf("changed %d", count.Read()))
			return count.Read()
		})

		err := r.Batch(func() {
			count.Set(10)
			count.Set(20)

			log = append(log, fmt.Sprintf("inside %d", count.Value()))
		})
		require.NoError(t, err)

		assert.Equal(t, 20, count.Value())
		assert.Equal(t, []string{
			"changed 0",
			"inside 0",
			"changed 10",
			"changed 20",
		}, log)
	})

	t.Run("notifies once for several writes", func(t *testing.T) {
		log := []string{}
		r := New()

		a := NewState(r, 0)
		b := NewState(r, 0)

		_, err := r.Subscribe(func() {
			log = append(log, fmt.Sprintf("notified a=%d b=%d", a.Value(), b.Value()))
		}, a, b)
		require.NoError(t, err)

		require.NoError(t, r.Batch(func() {
			a.Set(1)
			b.Set(2)
			a.Set(3)
		}))
		r.Flush()

		assert.Equal(t, []string{"notified a=3 b=2"}, log)
	})

	t.Run("nested batches", func(t *testing.T) {
		log := []string{}
		r := New()

		count := NewState(r, 0)
		NewComputed(r, func() int {
			log = append(log, fmt.Sprintf("changed %d", count.Read()))
			return count.Read()
		})

		r.Batch(func() {
			count.Set(1)

			r.Batch(func() {
				count.Set(2)
			})

			log = append(log, "inner done")
		})

		assert.Equal(t, []string{
			"changed 0",
			"inner done",
			"changed 1",
			"changed 2",
		}, log)
	})

	t.Run("explicit drain inside a batch is deferred", func(t *testing.T) {
		r := New()

		count := NewState(r, 0)

		r.Batch(func() {
			count.Set(1)
			require.NoError(t, r.Drain())
			assert.Equal(t, 0, count.Value())
		})

		assert.Equal(t, 1, count.Value())
	})
}
