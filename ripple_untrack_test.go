package ripple

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntrack(t *testing.T) {
	t.Run("reads without tracking", func(t *testing.T) {
		log := []string{}
		r := New()

		count := NewState(r, 0)
		other := NewState(r, 0)
		sum := NewComputed(r, func() int {
			log = append(log, "computing")
			return other.Read() + Untrack(r, count.Read)
		})

		require.NoError(t, count.Set(10))
		assert.Equal(t, 0, sum.Value())

		require.NoError(t, other.Set(1))
		assert.Equal(t, 11, sum.Value())

		assert.Equal(t, []string{"computing", "computing"}, log)
	})

	t.Run("outside of a computation", func(t *testing.T) {
		r := New()

		count := NewState(r, 5)
		assert.Equal(t, 5, Untrack(r, count.Read))
	})
}
