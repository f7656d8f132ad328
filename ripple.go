// Package ripple is a reactive state-propagation runtime. State cells hold
// values, computed cells derive theirs from other cells, and subscribers are
// notified in batches when Flush is called.
package ripple

import "github.com/AnatoleLucet/ripple/internal"

func as[T any](v any) T {
	if v == nil {
		var zero T
		return zero
	}

	return v.(T)
}

// Runtime owns cells and subscriptions. Every cell is created from an explicit runtime.
type Runtime struct {
	rt *internal.Runtime
}

// New creates a runtime.
func New(opts ...Option) *Runtime {
	return &Runtime{internal.NewRuntime(opts...)}
}

// ID identifies the runtime in logs and events.
func (r *Runtime) ID() string { return r.rt.ID() }

// Flush notifies every subscriber of the cells committed since the last flush, once each.
func (r *Runtime) Flush() { r.rt.Flush() }

// Drain runs any jobs still queued, e.g. after a Flush whose subscribers wrote to cells.
func (r *Runtime) Drain() error { return r.rt.Drain() }

// Pending returns how many commits are waiting for the next Flush.
func (r *Runtime) Pending() int { return r.rt.Pending() }

// Batch delays draining until fn returns, so every write inside propagates in one go.
func (r *Runtime) Batch(fn func()) error { return r.rt.Batch(fn) }

// OnCleanup registers fn on the owner currently running, if any.
func (r *Runtime) OnCleanup(fn func()) { r.rt.OnCleanup(fn) }

// Lookup returns the cell registered under name.
func (r *Runtime) Lookup(name string) (Cell, bool) {
	c, ok := r.rt.Lookup(name)
	if !ok {
		return nil, false
	}
	return anyCell{c}, true
}

// Internal exposes the untyped runtime.
func (r *Runtime) Internal() *internal.Runtime { return r.rt }

// Untrack runs fn without tracking the cells it reads as dependencies.
func Untrack[T any](r *Runtime, fn func() T) T {
	var result T
	r.rt.Untrack(func() { result = fn() })
	return result
}

// Cell is implemented by *State[T] and *Computed[T].
type Cell interface {
	Name() string
	cell() internal.Cell
}

type anyCell struct{ c internal.Cell }

func (a anyCell) Name() string        { return a.c.Name() }
func (a anyCell) cell() internal.Cell { return a.c }

type State[T any] struct {
	state *internal.State
}

// NewState creates an unnamed state cell.
func NewState[T any](r *Runtime, initial T) *State[T] {
	s, err := r.rt.NewState("", initial)
	if err != nil {
		// unnamed cells cannot collide
		panic(err)
	}
	return &State[T]{s}
}

// NewNamedState creates a state cell addressable by name. Names are unique per runtime.
func NewNamedState[T any](r *Runtime, name string, initial T) (*State[T], error) {
	s, err := r.rt.NewState(name, initial)
	if err != nil {
		return nil, err
	}
	return &State[T]{s}, nil
}

// Read the committed value, tracking the dependency if a computed cell is recomputing.
func (s *State[T]) Read() T { return as[T](s.state.Read()) }

// Value returns the committed value without tracking.
func (s *State[T]) Value() T { return as[T](s.state.Value()) }

// Previous returns a copy of the value as it was before the last commit.
func (s *State[T]) Previous() T { return as[T](s.state.Previous()) }

// Next returns a copy of the value committed last.
func (s *State[T]) Next() T { return as[T](s.state.Next()) }

// Set ingests v. Outside a batch or drain, the write and its cascade are committed before Set returns.
func (s *State[T]) Set(v T) error { return s.state.Runtime().Ingest(s.state, v) }

// Update sets the result of fn applied to the committed value.
func (s *State[T]) Update(fn func(T) T) error { return s.Set(fn(s.Value())) }

func (s *State[T]) Name() string        { return s.state.Name() }
func (s *State[T]) Disposed() bool      { return s.state.Disposed() }
func (s *State[T]) Dispose()            { s.state.Dispose() }
func (s *State[T]) cell() internal.Cell { return s.state }

type Computed[T any] struct {
	computed *internal.Computed
}

// NewComputed creates a cell derived from the cells fn reads. fn runs once right away.
func NewComputed[T any](r *Runtime, fn func() T) *Computed[T] {
	c, err := r.rt.NewComputed("", func() (any, error) {
		return fn(), nil
	})
	if err != nil {
		panic(err)
	}
	return &Computed[T]{c}
}

// NewNamedComputed creates a named derived cell whose computation may fail.
// A failure on the first evaluation is returned and nothing is registered;
// later failures keep the last committed value and go to the runtime's error handler.
func NewNamedComputed[T any](r *Runtime, name string, fn func() (T, error)) (*Computed[T], error) {
	c, err := r.rt.NewComputed(name, func() (any, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return &Computed[T]{c}, nil
}

// Read the committed value, tracking the dependency if another computed cell is recomputing.
func (c *Computed[T]) Read() T { return as[T](c.computed.Read()) }

func (c *Computed[T]) Value() T    { return as[T](c.computed.Value()) }
func (c *Computed[T]) Previous() T { return as[T](c.computed.Previous()) }
func (c *Computed[T]) Next() T     { return as[T](c.computed.Next()) }

func (c *Computed[T]) Name() string        { return c.computed.Name() }
func (c *Computed[T]) Disposed() bool      { return c.computed.Disposed() }
func (c *Computed[T]) Dispose()            { c.computed.Dispose() }
func (c *Computed[T]) cell() internal.Cell { return c.computed }

type Owner struct {
	owner *internal.Owner
}

// NewOwner creates an owner, nested under the owner currently running if any.
// Cells and subscriptions created while it runs are disposed with it.
func (r *Runtime) NewOwner() *Owner {
	return &Owner{r.rt.NewOwner()}
}

// Run a function within the context of this owner.
func (o *Owner) Run(fn func() error) error { return o.owner.Run(fn) }

// Dispose this owner and all its children.
func (o *Owner) Dispose() { o.owner.Dispose() }

// Add a cleanup function to be called when the owner is disposed.
func (o *Owner) OnCleanup(fn func()) { o.owner.OnCleanup(fn) }

// Add a function to be called when a panic occurs within this owner.
// If no error listener is registered, the panic will propagate as usual.
func (o *Owner) OnError(fn func(any)) { o.owner.OnError(fn) }
