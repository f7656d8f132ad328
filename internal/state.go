package internal

// Cell is implemented by *State and *Computed.
type Cell interface {
	ID() CellID
	Name() string
	Runtime() *Runtime

	Read() any
	Value() any

	state() *State
}

// State is a directly mutable cell.
type State struct {
	id      CellID
	name    string
	runtime *Runtime

	value    any
	previous any // copy of value taken right before the last commit
	next     any // copy of the value just committed

	// distance from the furthest plain state cell, used by topological ordering
	height int

	disposed bool
	node     DependencyNode
}

func (r *Runtime) newState(name string, initial any) (*State, error) {
	if name != "" {
		if _, taken := r.names[name]; taken {
			return nil, ErrDuplicateName
		}
	}

	r.lastID++
	s := &State{
		id:      r.lastID,
		name:    name,
		runtime: r,
		value:   initial,
		next:    r.copy(initial),
	}

	return s, nil
}

// NewState registers a state cell holding initial.
func (r *Runtime) NewState(name string, initial any) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.newState(name, initial)
	if err != nil {
		return nil, err
	}
	r.register(s)

	return s, nil
}

func (s *State) ID() CellID        { return s.id }
func (s *State) Name() string      { return s.name }
func (s *State) Runtime() *Runtime { return s.runtime }
func (s *State) state() *State     { return s }

// Read returns the committed value, tracking the dependency if a derived cell is recomputing.
func (s *State) Read() any {
	r := s.runtime
	r.mu.Lock()
	defer r.mu.Unlock()

	if !s.disposed {
		r.tracker.Track(s.id)
	}

	return s.value
}

// Value returns the committed value without tracking.
func (s *State) Value() any {
	s.runtime.mu.Lock()
	defer s.runtime.mu.Unlock()
	return s.value
}

// Previous returns the copy of the value taken right before the last commit.
func (s *State) Previous() any {
	s.runtime.mu.Lock()
	defer s.runtime.mu.Unlock()
	return s.previous
}

// Next returns the copy of the value taken right after the last commit.
func (s *State) Next() any {
	s.runtime.mu.Lock()
	defer s.runtime.mu.Unlock()
	return s.next
}

// Disposed reports whether the cell was removed from its runtime.
func (s *State) Disposed() bool {
	s.runtime.mu.Lock()
	defer s.runtime.mu.Unlock()
	return s.disposed
}

// Dispose removes the cell from its runtime.
func (s *State) Dispose() {
	s.runtime.Dispose(s)
}
