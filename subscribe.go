package ripple

import "github.com/AnatoleLucet/ripple/internal"

// Subscription is a registered observer. Unsubscribe it when it is no longer needed.
type Subscription struct {
	runtime *Runtime
	sub     internal.Subscription
}

// Keys returns the local keys still bound to a live cell.
func (s *Subscription) Keys() []string { return s.sub.Keys() }

// Unsubscribe removes the subscription from every cell it observes.
func (s *Subscription) Unsubscribe() { s.runtime.rt.Unsubscribe(s.sub) }

// Subscribe calls fn once per Flush in which any of cells committed.
// Cells are keyed by name, so unnamed cells are keyed "#<id>".
func (r *Runtime) Subscribe(fn func(), cells ...Cell) (*Subscription, error) {
	raw := make([]internal.Cell, len(cells))
	for i, c := range cells {
		raw[i] = unwrap(c)
	}

	sub, err := r.rt.Subscribe(fn, raw...)
	if err != nil {
		return nil, err
	}
	return &Subscription{r, sub}, nil
}

type subscribeConfig struct {
	keyDiff bool
	update  UpdateFunc
}

type SubscribeOption func(*subscribeConfig)

// WithKeyDiff hands the update function only the keys whose cell committed.
// Without it the update function receives an empty map.
func WithKeyDiff() SubscribeOption {
	return func(c *subscribeConfig) { c.keyDiff = true }
}

// WithUpdate overrides the runtime's default update function for one subscription.
func WithUpdate(fn UpdateFunc) SubscribeOption {
	return func(c *subscribeConfig) { c.update = fn }
}

// SubscribeComponent registers a component observer. handle is passed back
// untouched to the update function along with the changed key/value pairs.
func (r *Runtime) SubscribeComponent(handle any, cells map[string]Cell, opts ...SubscribeOption) (*Subscription, error) {
	var cfg subscribeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	raw := make(map[string]internal.Cell, len(cells))
	for key, c := range cells {
		raw[key] = unwrap(c)
	}

	sub, err := r.rt.SubscribeComponent(handle, raw, cfg.keyDiff, cfg.update)
	if err != nil {
		return nil, err
	}
	return &Subscription{r, sub}, nil
}

// Unsubscribe removes sub from every cell it observes.
func (r *Runtime) Unsubscribe(sub *Subscription) {
	if sub != nil {
		r.rt.Unsubscribe(sub.sub)
	}
}

func unwrap(c Cell) internal.Cell {
	if c == nil {
		return nil
	}
	return c.cell()
}
