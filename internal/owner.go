package internal

import (
	"iter"
	"slices"
)

// Owner groups the cells and subscriptions created while it runs so they can be
// disposed together.
type Owner struct {
	runtime *Runtime

	cells []CellID
	subs  []SubscriptionID

	// cleanup functions to be called when the owner is disposed
	cleanups []func()

	// panic error handlers
	catchers []func(any)

	disposed bool

	parent       *Owner
	prevSibling  *Owner
	nextSibling  *Owner
	childrenHead *Owner
}

// NewOwner creates an owner, nested under the owner currently running if any.
func (r *Runtime) NewOwner() *Owner {
	r.mu.Lock()
	defer r.mu.Unlock()

	o := &Owner{
		runtime:  r,
		cleanups: make([]func(), 0),
	}

	if parent := r.tracker.CurrentOwner(); parent != nil {
		parent.AddChild(o)
	}

	return o
}

// Run calls fn with o as the current owner. A panic is handed to the OnError
// handlers, or re-raised when there are none.
func (o *Owner) Run(fn func() error) (err error) {
	r := o.runtime
	r.mu.Lock()
	defer r.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			if len(o.catchers) == 0 {
				panic(p)
			}

			for _, catcher := range o.catchers {
				catcher(p)
			}
			err = panicError(p)
		}
	}()

	r.tracker.RunWithOwner(o, func() {
		err = fn()
	})

	return err
}

func (parent *Owner) AddChild(child *Owner) {
	child.parent = parent
	child.prevSibling = nil
	child.nextSibling = parent.childrenHead

	if parent.childrenHead != nil {
		parent.childrenHead.prevSibling = child
	}

	parent.childrenHead = child
}

func (n *Owner) Children() iter.Seq[*Owner] {
	return func(yield func(*Owner) bool) {
		child := n.childrenHead

		for child != nil {
			if !yield(child) {
				return
			}

			child = child.nextSibling
		}
	}
}

// Dispose disposes the children, then every subscription and cell created under
// the owner, then runs the cleanups.
func (n *Owner) Dispose() {
	r := n.runtime
	r.mu.Lock()
	defer r.mu.Unlock()

	n.dispose()
}

func (n *Owner) dispose() {
	n.DisposeChildren()

	for _, id := range n.subs {
		if sub, ok := n.runtime.subs[id]; ok {
			n.runtime.unsubscribe(sub)
		}
	}
	n.subs = nil

	// dependents first so sweeping a cell never revisits one already gone
	for _, id := range slices.Backward(n.cells) {
		if cell, ok := n.runtime.cells[id]; ok {
			n.runtime.dispose(cell.state())
		}
	}
	n.cells = nil

	for i := 0; i < len(n.cleanups); i++ {
		n.cleanups[i]()
	}
	n.cleanups = nil
	n.disposed = true
}

func (n *Owner) DisposeChildren() {
	for child := range n.Children() {
		child.dispose()
	}
	n.childrenHead = nil
}

func (n *Owner) OnCleanup(fn func()) {
	n.cleanups = append(n.cleanups, fn)
}

func (n *Owner) OnError(fn func(any)) {
	n.catchers = append(n.catchers, fn)
}

// OnCleanup registers fn on the owner currently running, if any.
func (r *Runtime) OnCleanup(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner := r.tracker.CurrentOwner(); owner != nil {
		owner.OnCleanup(fn)
	}
}
