package internal

import "slices"

// CellID is the runtime-local handle of a cell. Graph edges hold handles, never
// pointers, so a disposed cell cannot be reached through a stale edge.
type CellID uint64

// idSet is a small insertion-ordered set.
type idSet[T comparable] []T

func (s *idSet[T]) add(id T) bool {
	if slices.Contains(*s, id) {
		return false
	}
	*s = append(*s, id)
	return true
}

func (s *idSet[T]) remove(id T) bool {
	if index := slices.Index(*s, id); index != -1 {
		*s = slices.Delete(*s, index, index+1)
		return true
	}
	return false
}

func (s idSet[T]) has(id T) bool {
	return slices.Contains(s, id)
}

// DependencyNode is a cell's slice of the dependency graph.
type DependencyNode struct {
	// derived cells that read this cell during their last recomputation
	dependents idSet[CellID]

	// cells this cell read during its own last recomputation (derived cells only)
	dynamic idSet[CellID]

	subscribers idSet[SubscriptionID]
}

// relink re-establishes the edges of c from the reads of its last recomputation.
// Dependents and dynamic dependencies stay inverses of each other.
func (r *Runtime) relink(c *Computed, reads []CellID) {
	for _, id := range c.node.dynamic {
		if dep, ok := r.cells[id]; ok {
			dep.state().node.dependents.remove(c.id)
		}
	}
	c.node.dynamic = nil

	height := 0
	for _, id := range reads {
		dep, ok := r.cells[id]
		if !ok || id == c.id {
			continue
		}

		c.node.dynamic.add(id)
		dep.state().node.dependents.add(c.id)

		if h := dep.state().height + 1; h > height {
			height = h
		}
	}
	c.height = height
}

// unlink removes every edge and subscription that references s.
func (r *Runtime) unlink(s *State) {
	for _, id := range s.node.dynamic {
		if dep, ok := r.cells[id]; ok {
			dep.state().node.dependents.remove(s.id)
		}
	}

	for _, id := range s.node.dependents {
		if sub, ok := r.cells[id]; ok {
			sub.state().node.dynamic.remove(s.id)
		}
	}

	for _, id := range s.node.subscribers {
		if sub, ok := r.subs[id]; ok {
			sub.base().detach(s.id)
		}
	}

	s.node = DependencyNode{}
}

// Dependents returns the handles of the derived cells that read c last time they recomputed.
func (r *Runtime) Dependents(c Cell) []CellID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(c.state().node.dependents)
}

// Dependencies returns the handles c read during its last recomputation.
func (r *Runtime) Dependencies(c Cell) []CellID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(c.state().node.dynamic)
}
