package internal

import (
	"sync"
	"sync/atomic"
)

// reentrantMutex serializes runtime operations across goroutines while letting
// the holding goroutine re-enter (recompute functions reading cells, subscribers
// ingesting during a flush).
type reentrantMutex struct {
	mu     sync.Mutex
	holder atomic.Int64
	depth  int
}

func (m *reentrantMutex) Lock() {
	gid := currentGID()
	if m.holder.Load() == gid {
		m.depth++
		return
	}

	m.mu.Lock()
	m.holder.Store(gid)
	m.depth = 1
}

func (m *reentrantMutex) Unlock() {
	if !m.Held() {
		panic("ripple: runtime lock released by a goroutine that does not hold it")
	}

	m.depth--
	if m.depth == 0 {
		m.holder.Store(0)
		m.mu.Unlock()
	}
}

// Held reports whether the calling goroutine holds the lock.
func (m *reentrantMutex) Held() bool {
	return m.holder.Load() == currentGID()
}
