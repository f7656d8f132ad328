package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/AnatoleLucet/ripple/internal"
	"github.com/AnatoleLucet/ripple/internal/config"
	"github.com/AnatoleLucet/ripple/internal/storage"
)

// Env is a runtime populated with the cells of a scenario.
type Env struct {
	Runtime *internal.Runtime
	Storage *storage.Storage

	subs map[string]internal.Subscription

	mu    sync.Mutex
	trace []string
}

// Result is the outcome of running a scenario.
type Result struct {
	Trace  []string
	Values map[string]any
}

// String renders the trace one event per line.
func (r *Result) String() string {
	return strings.Join(r.Trace, "\n") + "\n"
}

// Build creates a runtime and the scenario's cells. opts are applied after the
// scenario's runtime section.
func Build(sc *Scenario, opts ...internal.Option) (*Env, error) {
	cfg := config.DefaultConfig()
	cfg.Merge(&config.Config{Runtime: sc.Runtime})

	base, err := cfg.RuntimeOptions(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}

	env := &Env{subs: make(map[string]internal.Subscription)}

	base = append(base,
		internal.WithErrorHandler(func(err error) { env.record("  error %v", err) }),
		internal.WithUpdateFunc(func(handle any, changes map[string]any) {
			env.record("  update %v %s", handle, format(changes))
		}),
	)
	env.Runtime = internal.NewRuntime(append(base, opts...)...)
	env.Runtime.OnCommit(func(c internal.Cell) {
		env.record("  commit %s %s -> %s", c.Name(), format(previous(c)), format(c.Value()))
	})

	if sc.Storage != nil {
		env.Storage = storage.New(env.Runtime, storage.NewMemoryBackend(), storage.WithPrefix(prefixOr(sc.Storage.Prefix)))
		keys := make([]string, 0, len(sc.Storage.Seed))
		for key := range sc.Storage.Seed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if err := env.Storage.Set(context.Background(), key, sc.Storage.Seed[key]); err != nil {
				return nil, err
			}
		}
	}

	for _, spec := range sc.Cells {
		if err := env.addCell(spec); err != nil {
			return nil, err
		}
	}

	return env, nil
}

func (env *Env) addCell(spec CellSpec) error {
	rt := env.Runtime

	if !spec.Derived() {
		s, err := rt.NewState(spec.Name, spec.Value)
		if err != nil {
			return fmt.Errorf("cell %q: %w", spec.Name, err)
		}
		env.record("cell %s = %s", spec.Name, format(s.Value()))

		if spec.Persist {
			env.record("persist %s", spec.Name)
			if err := env.Storage.Persist(context.Background(), s, "", nil); err != nil {
				return fmt.Errorf("cell %q: %w", spec.Name, err)
			}
		}
		return nil
	}

	derive, err := compileDerive(spec.Name, spec.Imports, spec.Derive)
	if err != nil {
		return err
	}

	get := func(name string) any {
		c, ok := rt.Lookup(name)
		if !ok {
			panic(fmt.Sprintf("unknown cell %q", name))
		}
		return c.Read()
	}

	c, err := rt.NewComputed(spec.Name, func() (any, error) {
		return derive(get)
	})
	if err != nil {
		return fmt.Errorf("cell %q: %w", spec.Name, err)
	}
	env.record("derive %s = %s", spec.Name, format(c.Value()))

	return nil
}

// Subscribe registers the scenario's subscribers. Notifications are traced.
func (env *Env) Subscribe(specs []SubscriberSpec) error {
	for _, spec := range specs {
		if err := env.subscribe(spec); err != nil {
			return fmt.Errorf("subscriber %q: %w", spec.Name, err)
		}
	}
	return nil
}

func (env *Env) subscribe(spec SubscriberSpec) error {
	rt := env.Runtime

	if spec.Kind == "component" {
		cells := make(map[string]internal.Cell, len(spec.Keys))
		for key, name := range spec.Keys {
			c, err := env.lookup(name)
			if err != nil {
				return err
			}
			cells[key] = c
		}

		sub, err := rt.SubscribeComponent(spec.Name, cells, spec.KeyDiff, nil)
		if err != nil {
			return err
		}
		env.subs[spec.Name] = sub
		return nil
	}

	cells := make([]internal.Cell, 0, len(spec.Cells))
	for _, name := range spec.Cells {
		c, err := env.lookup(name)
		if err != nil {
			return err
		}
		cells = append(cells, c)
	}

	name := spec.Name
	sub, err := rt.Subscribe(func() { env.record("  notify %s", name) }, cells...)
	if err != nil {
		return err
	}
	env.subs[spec.Name] = sub
	return nil
}

// Apply runs steps in order. Failures are traced and do not stop the run.
func (env *Env) Apply(steps []Step) {
	for _, st := range steps {
		env.apply(st)
	}
}

func (env *Env) apply(st Step) {
	rt := env.Runtime

	switch {
	case st.Ingest != nil:
		env.record("> ingest %s %s", st.Ingest.Cell, format(st.Ingest.Value))
		c, err := env.lookup(st.Ingest.Cell)
		if err == nil {
			err = rt.Ingest(c, st.Ingest.Value)
		}
		if err != nil {
			env.record("  error %v", err)
		}

	case st.Flush:
		env.record("> flush")
		rt.Flush()

	case st.Drain:
		env.record("> drain")
		if err := rt.Drain(); err != nil {
			env.record("  error %v", err)
		}

	case st.Batch != nil:
		env.record("> batch")
		err := rt.Batch(func() {
			for _, inner := range st.Batch {
				env.apply(inner)
			}
		})
		env.record("> end batch")
		if err != nil {
			env.record("  error %v", err)
		}

	case st.Dispose != "":
		env.record("> dispose %s", st.Dispose)
		c, err := env.lookup(st.Dispose)
		if err != nil {
			env.record("  error %v", err)
			return
		}
		rt.Dispose(c)

	case st.Unsubscribe != "":
		env.record("> unsubscribe %s", st.Unsubscribe)
		sub, ok := env.subs[st.Unsubscribe]
		if !ok {
			env.record("  error unknown subscriber %q", st.Unsubscribe)
			return
		}
		rt.Unsubscribe(sub)
		delete(env.subs, st.Unsubscribe)
	}
}

// Trace returns the events recorded so far.
func (env *Env) Trace() []string {
	env.mu.Lock()
	defer env.mu.Unlock()
	return append([]string(nil), env.trace...)
}

// Values returns the committed value of every live named cell.
func (env *Env) Values() map[string]any {
	values := make(map[string]any)
	for _, c := range env.Runtime.Cells() {
		if c.Name() != "" {
			values[c.Name()] = c.Value()
		}
	}
	return values
}

func (env *Env) lookup(name string) (internal.Cell, error) {
	c, ok := env.Runtime.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown cell %q", name)
	}
	return c, nil
}

func (env *Env) record(msg string, args ...any) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.trace = append(env.trace, fmt.Sprintf(msg, args...))
}

// Run builds the scenario, registers its subscribers and applies its steps.
func Run(sc *Scenario, opts ...internal.Option) (*Result, error) {
	env, err := Build(sc, opts...)
	if err != nil {
		return nil, err
	}
	if err := env.Subscribe(sc.Subscribers); err != nil {
		return nil, err
	}

	env.Apply(sc.Steps)
	if env.Storage != nil {
		env.Storage.Wait()
	}

	return &Result{Trace: env.Trace(), Values: env.Values()}, nil
}

func previous(c internal.Cell) any {
	if p, ok := c.(interface{ Previous() any }); ok {
		return p.Previous()
	}
	return nil
}

func format(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func prefixOr(prefix string) string {
	if prefix == "" {
		return storage.DefaultPrefix
	}
	return prefix
}
