package internal

import (
	"errors"
	"slices"
	"sort"
)

// ErrNoUpdateFunc is returned when a component subscriber has no update function to call.
var ErrNoUpdateFunc = errors.New("ripple: component subscription without update function")

// SubscriptionID is the runtime-local handle of a subscription.
type SubscriptionID uint64

// Subscription is an observer bound to one or more cells. The variants are
// *CallbackSubscription and *ComponentSubscription.
type Subscription interface {
	ID() SubscriptionID
	Keys() []string

	base() *subscriptionBase
	kind() string
	notify(changes map[string]any)
}

type subscriptionBase struct {
	id      SubscriptionID
	runtime *Runtime

	keys  []string          // local keys in registration order
	cells map[string]CellID // local key -> tracked cell

	keyDiff     bool
	changedKeys []string // accumulated during one flush, cleared after it

	disposed bool
}

func (b *subscriptionBase) ID() SubscriptionID { return b.id }

// Keys returns the local keys still bound to a cell.
func (b *subscriptionBase) Keys() []string { return slices.Clone(b.keys) }

func (b *subscriptionBase) base() *subscriptionBase { return b }

// markChanged appends every local key mapped to cell. Unmapped cells are skipped.
func (b *subscriptionBase) markChanged(cell CellID) {
	for _, key := range b.keys {
		if b.cells[key] == cell && !slices.Contains(b.changedKeys, key) {
			b.changedKeys = append(b.changedKeys, key)
		}
	}
}

// detach forgets every local key mapped to cell.
func (b *subscriptionBase) detach(cell CellID) {
	b.keys = slices.DeleteFunc(b.keys, func(key string) bool {
		if b.cells[key] == cell {
			delete(b.cells, key)
			return true
		}
		return false
	})
	b.changedKeys = slices.DeleteFunc(b.changedKeys, func(key string) bool {
		_, ok := b.cells[key]
		return !ok
	})
}

// CallbackSubscription calls a function with no arguments.
type CallbackSubscription struct {
	subscriptionBase

	callback func()
}

func (s *CallbackSubscription) kind() string { return "callback" }

func (s *CallbackSubscription) notify(map[string]any) {
	s.callback()
}

// ComponentSubscription hands the changed key/value pairs and an opaque handle to an update function.
type ComponentSubscription struct {
	subscriptionBase

	handle any
	update UpdateFunc
}

func (s *ComponentSubscription) kind() string { return "component" }

func (s *ComponentSubscription) Handle() any { return s.handle }

func (s *ComponentSubscription) notify(changes map[string]any) {
	s.update(s.handle, changes)
}

// Subscribe registers callback on cells. It is called once per Flush in which any of them committed.
func (r *Runtime) Subscribe(callback func(), cells ...Cell) (*CallbackSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mapped := make(map[string]Cell, len(cells))
	keys := make([]string, 0, len(cells))
	for _, cell := range cells {
		key := cellKey(cell)
		if _, dup := mapped[key]; dup {
			continue
		}
		mapped[key] = cell
		keys = append(keys, key)
	}

	sub := &CallbackSubscription{callback: callback}
	if err := r.attach(&sub.subscriptionBase, keys, mapped, false); err != nil {
		return nil, err
	}
	r.subs[sub.id] = sub

	return sub, nil
}

// SubscribeComponent registers a component observer tracking cells under local keys.
// With keyDiff, the update function receives only the keys whose cell committed.
// A nil update falls back to the runtime's default update function.
func (r *Runtime) SubscribeComponent(handle any, cells map[string]Cell, keyDiff bool, update UpdateFunc) (*ComponentSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if update == nil {
		update = r.opts.update
	}
	if update == nil {
		return nil, ErrNoUpdateFunc
	}

	keys := make([]string, 0, len(cells))
	for key := range cells {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	sub := &ComponentSubscription{handle: handle, update: update}
	if err := r.attach(&sub.subscriptionBase, keys, cells, keyDiff); err != nil {
		return nil, err
	}
	r.subs[sub.id] = sub

	return sub, nil
}

func (r *Runtime) attach(b *subscriptionBase, keys []string, cells map[string]Cell, keyDiff bool) error {
	for _, key := range keys {
		if _, err := r.own(cells[key]); err != nil {
			return err
		}
	}

	r.lastSubID++
	b.id = r.lastSubID
	b.runtime = r
	b.keys = keys
	b.keyDiff = keyDiff
	b.cells = make(map[string]CellID, len(keys))

	for _, key := range keys {
		s := cells[key].state()
		b.cells[key] = s.id
		s.node.subscribers.add(b.id)
	}

	if owner := r.tracker.CurrentOwner(); owner != nil {
		owner.subs = append(owner.subs, b.id)
	}

	return nil
}

// Unsubscribe removes sub from every cell it was registered on.
func (r *Runtime) Unsubscribe(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unsubscribe(sub)
}

func (r *Runtime) unsubscribe(sub Subscription) {
	b := sub.base()
	if b.disposed || b.runtime != r {
		return
	}

	for _, cell := range b.cells {
		if c, ok := r.cells[cell]; ok {
			c.state().node.subscribers.remove(b.id)
		}
	}

	delete(r.subs, b.id)
	b.disposed = true
	b.changedKeys = nil
}

// Subscribers returns the handles of the subscriptions registered on c.
func (r *Runtime) Subscribers(c Cell) []SubscriptionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(c.state().node.subscribers)
}

func cellKey(c Cell) string {
	if c == nil {
		return ""
	}
	if name := c.Name(); name != "" {
		return name
	}
	return "#" + itoa(uint64(c.ID()))
}
