package internal

// Computed is a cell whose value is produced by a recomputation function.
type Computed struct {
	*State

	compute func() (any, error)
}

// NewComputed registers a derived cell and evaluates it once to discover its dependencies.
// A failing first evaluation returns the error and registers nothing.
func (r *Runtime) NewComputed(name string, compute func() (any, error)) (*Computed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.newState(name, nil)
	if err != nil {
		return nil, err
	}

	c := &Computed{
		State:   s,
		compute: compute,
	}

	// the cell must be in the registry so relink can resolve its handle
	r.cells[c.id] = c

	value, reads, err := r.recompute(c)
	if err != nil {
		delete(r.cells, c.id)
		return nil, &RecomputeError{Cell: c.label(), Err: err}
	}

	c.value = value
	c.next = r.copy(value)
	r.relink(c, reads)
	r.register(c)

	return c, nil
}

// Recompute evaluates the computation without committing its result.
func (c *Computed) Recompute() (any, error) {
	r := c.runtime
	r.mu.Lock()
	defer r.mu.Unlock()

	value, _, err := r.recompute(c)
	return value, err
}

func (c *Computed) label() string {
	if c.name != "" {
		return c.name
	}
	return "#" + itoa(uint64(c.id))
}

// recompute runs the computation with dependency tracking, turning panics into errors.
func (r *Runtime) recompute(c *Computed) (value any, reads []CellID, err error) {
	defer func() {
		if p := recover(); p != nil {
			value, reads, err = nil, nil, panicError(p)
		}
	}()

	reads = r.tracker.RunWithComputation(c.id, func() {
		value, err = c.compute()
	})

	if err != nil {
		return nil, nil, err
	}
	return value, reads, nil
}
