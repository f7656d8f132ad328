// Package storage persists cell values in a key-value backend.
//
// Values are stored as JSON under "_<prefix>_<key>". Loaded values reach the
// runtime exclusively through Ingest, so a backend may answer on any goroutine.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AnatoleLucet/ripple/internal"
	"github.com/AnatoleLucet/ripple/internal/observability"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrNotFound is returned by a Backend when the key holds no value.
	ErrNotFound = errors.New("ripple: storage key not found")

	// ErrNoKey is returned by Persist when neither a key nor a cell name is available.
	ErrNoKey = errors.New("ripple: no storage key for cell")
)

const DefaultPrefix = "ripple"

// Backend is the key-value store values are persisted to.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Decoder turns a stored JSON document into the value ingested into a cell.
type Decoder func(raw []byte) (any, error)

type Options struct {
	Prefix string

	// Async loads persisted values on a separate goroutine and writes commits back off the drain.
	Async bool

	Logger   *slog.Logger
	Observer observability.Observer
}

type Option func(*Options)

func WithPrefix(prefix string) Option {
	return func(o *Options) { o.Prefix = prefix }
}

func WithAsync(async bool) Option {
	return func(o *Options) { o.Async = async }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

func WithObserver(observer observability.Observer) Option {
	return func(o *Options) { o.Observer = observer }
}

type write struct {
	key   string
	value any
}

// Storage binds a Backend to a runtime.
type Storage struct {
	runtime *internal.Runtime
	backend Backend
	opts    Options

	mu        sync.Mutex
	persisted map[internal.CellID]string
	writes    []write // async commits waiting for the writer
	writing   bool

	pending sync.WaitGroup
}

// New creates a Storage and registers the write-back hook on rt.
func New(rt *internal.Runtime, backend Backend, opts ...Option) *Storage {
	o := Options{Prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Observer == nil {
		o.Observer = observability.NoOpObserver{}
	}

	s := &Storage{
		runtime:   rt,
		backend:   backend,
		opts:      o,
		persisted: make(map[internal.CellID]string),
	}
	rt.OnCommit(s.writeBack)

	return s
}

// Key returns the backend key for key.
func (s *Storage) Key(key string) string {
	return "_" + s.opts.Prefix + "_" + norm.NFC.String(key)
}

// Get decodes the value stored under key into out.
func (s *Storage) Get(ctx context.Context, key string, out any) error {
	raw, err := s.backend.Get(ctx, s.Key(key))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

// Set stores v under key.
func (s *Storage) Set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.backend.Set(ctx, s.Key(key), raw)
}

func (s *Storage) Remove(ctx context.Context, key string) error {
	return s.backend.Remove(ctx, s.Key(key))
}

// Persist binds cell to key. When the backend has no value the cell's current
// value is stored; otherwise the stored value is ingested into the cell. Every
// later commit of the cell is written back. An empty key falls back to the cell name.
func (s *Storage) Persist(ctx context.Context, cell internal.Cell, key string, decode Decoder) error {
	if key == "" {
		key = cell.Name()
	}
	if key == "" {
		return ErrNoKey
	}

	s.mu.Lock()
	s.persisted[cell.ID()] = key
	s.mu.Unlock()

	if !s.opts.Async {
		return s.load(ctx, cell, key, decode)
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.load(context.WithoutCancel(ctx), cell, key, decode); err != nil {
			s.opts.Logger.Error("async load failed", "key", key, "error", err)
		}
	}()

	return nil
}

// Forget stops writing commits of cell back to the backend.
func (s *Storage) Forget(cell internal.Cell) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.persisted, cell.ID())
}

// Wait blocks until every async load and write started so far has finished.
func (s *Storage) Wait() {
	s.pending.Wait()
}

func (s *Storage) load(ctx context.Context, cell internal.Cell, key string, decode Decoder) error {
	raw, err := s.backend.Get(ctx, s.Key(key))
	if errors.Is(err, ErrNotFound) {
		s.emit(ctx, observability.LevelVerbose, key, "seeded")
		return s.Set(ctx, key, cell.Value())
	}
	if err != nil {
		return fmt.Errorf("load %q: %w", key, err)
	}

	if decode == nil {
		decode = decodeAny
	}
	value, err := decode(raw)
	if err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}

	s.emit(ctx, observability.LevelVerbose, key, "loaded")
	return s.runtime.Ingest(cell, value)
}

func (s *Storage) writeBack(cell internal.Cell) {
	s.mu.Lock()
	key, ok := s.persisted[cell.ID()]
	s.mu.Unlock()
	if !ok {
		return
	}

	w := write{key: key, value: cell.Value()}
	if !s.opts.Async {
		s.save(w)
		return
	}

	// one writer at a time keeps the backend in commit order
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes = append(s.writes, w)
	if !s.writing {
		s.writing = true
		s.pending.Add(1)
		go s.writeLoop()
	}
}

func (s *Storage) writeLoop() {
	defer s.pending.Done()

	for {
		s.mu.Lock()
		if len(s.writes) == 0 {
			s.writing = false
			s.mu.Unlock()
			return
		}
		w := s.writes[0]
		s.writes[0] = write{}
		s.writes = s.writes[1:]
		s.mu.Unlock()

		s.save(w)
	}
}

func (s *Storage) save(w write) {
	if err := s.Set(context.Background(), w.key, w.value); err != nil {
		s.opts.Logger.Error("write back failed", "key", w.key, "error", err)
		s.opts.Observer.OnEvent(context.Background(), observability.NewEvent(
			observability.EventStorageSave, observability.LevelError, "ripple.storage",
			map[string]any{"key": w.key, "error": err.Error()},
		))
	}
}

func (s *Storage) emit(ctx context.Context, level observability.Level, key, outcome string) {
	s.opts.Observer.OnEvent(ctx, observability.NewEvent(
		observability.EventStorageLoad, level, "ripple.storage",
		map[string]any{"key": key, "outcome": outcome},
	))
}

func decodeAny(raw []byte) (any, error) {
	var v any
	err := json.Unmarshal(raw, &v)
	return v, err
}
