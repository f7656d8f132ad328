package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/AnatoleLucet/ripple/internal/observability"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const source = "ripple.runtime"

// Runtime owns a set of cells, drains the jobs ingested into them and batches
// the resulting notifications.
type Runtime struct {
	mu reentrantMutex

	id   string
	opts options

	cells  map[CellID]Cell
	names  map[string]CellID
	lastID CellID

	subs      map[SubscriptionID]Subscription
	lastSubID SubscriptionID

	queue     *JobQueue
	current   *Job
	completed []*Job

	heap      *PriorityHeap // nil unless OrderTopological
	tracker   *Tracker
	batcher   *Batcher
	scheduler *Scheduler

	hooks    []func(Cell)
	flushing bool
}

func NewRuntime(opts ...Option) *Runtime {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r := &Runtime{
		id:   uuid.NewString(),
		opts: o,

		cells: make(map[CellID]Cell),
		names: make(map[string]CellID),
		subs:  make(map[SubscriptionID]Subscription),

		queue:     NewJobQueue(),
		tracker:   NewTracker(),
		batcher:   NewBatcher(),
		scheduler: NewScheduler(o.maxDrainJobs),
	}

	if o.order == OrderTopological {
		r.heap = NewHeap()
	}

	return r
}

// ID identifies the runtime instance in logs and events.
func (r *Runtime) ID() string {
	return r.id
}

func (r *Runtime) Order() Order {
	return r.opts.order
}

func (r *Runtime) register(c Cell) {
	s := c.state()
	r.cells[s.id] = c
	if s.name != "" {
		r.names[s.name] = s.id
	}

	if owner := r.tracker.CurrentOwner(); owner != nil {
		owner.cells = append(owner.cells, s.id)
	}
}

// own checks the precondition every entrypoint shares: the cell belongs to this runtime and is alive.
func (r *Runtime) own(c Cell) (*State, error) {
	if c == nil || c.Runtime() != r {
		return nil, ErrForeignCell
	}

	s := c.state()
	if s.disposed {
		return nil, ErrCellDisposed
	}

	return s, nil
}

// Lookup returns the live cell registered under name.
func (r *Runtime) Lookup(name string) (Cell, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.names[name]
	if !ok {
		return nil, false
	}
	c, ok := r.cells[id]
	return c, ok
}

// Cells returns the live cells in creation order.
func (r *Runtime) Cells() []Cell {
	r.mu.Lock()
	defer r.mu.Unlock()

	cells := make([]Cell, 0, len(r.cells))
	for _, c := range r.cells {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].ID() < cells[j].ID() })

	return cells
}

// OnCommit registers a hook called after every committed job.
func (r *Runtime) OnCommit(hook func(Cell)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hooks = append(r.hooks, hook)
}

// Ingest queues value for cell and, unless a drain, batch or flush is already
// running, drains the queue before returning.
func (r *Runtime) Ingest(cell Cell, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.own(cell)
	if err != nil {
		return err
	}

	r.enqueue(&Job{cell: s.id, value: value})

	if r.batcher.IsBatching() || r.flushing {
		return nil
	}

	return r.settle()
}

// Drain runs every queued job. It is a no-op when nothing is queued.
func (r *Runtime) Drain() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.batcher.IsBatching() || r.flushing {
		return nil
	}

	return r.settle()
}

// Pending returns the number of committed jobs waiting for the next Flush.
func (r *Runtime) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed)
}

// settle drains and, with AutoFlush, flushes.
func (r *Runtime) settle() error {
	err := r.drain()
	if !r.opts.autoFlush || r.scheduler.Running() {
		return err
	}

	// subscribers may ingest while notified; keep flushing until they settle
	for round := 0; ; round++ {
		r.flush()
		if r.queue.Len() == 0 {
			return err
		}
		if r.opts.maxDrainJobs > 0 && round >= r.opts.maxDrainJobs {
			dropped := r.queue.Len()
			r.queue.Clear()
			return errors.Join(err, fmt.Errorf("%w: %d jobs ingested by subscribers dropped", ErrDrainBudget, dropped))
		}
		err = errors.Join(err, r.drain())
	}
}

func (r *Runtime) enqueue(job *Job) {
	r.queue.Enqueue(job)
	r.opts.metrics.QueueDepth(r.queue.Len())
}

// drain pops jobs until the queue is empty. When a drain is already active the
// call returns at once and the active drain reaches the queued jobs.
func (r *Runtime) drain() error {
	var err error
	r.scheduler.Run(func() {
		err = r.runQueue()
	})
	return err
}

func (r *Runtime) runQueue() error {
	wave := uuid.Must(uuid.NewV7()).String()
	ctx, span := r.opts.tracer.Start(context.Background(), "ripple.drain")
	defer span.End()
	start := time.Now()

	committed := 0
	for {
		job, ok := r.queue.Dequeue()
		if !ok {
			if r.heap != nil && r.scheduleNext(ctx) {
				continue
			}
			break
		}

		if !r.scheduler.Spend() {
			dropped := 1 + r.queue.Len()
			r.queue.Clear()
			if r.heap != nil {
				dropped += r.heap.Len()
				r.heap.Clear()
			}

			err := fmt.Errorf("%w: %d jobs committed, %d dropped", ErrDrainBudget, committed, dropped)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.opts.logger.Error("drain budget exceeded", "runtime", r.id, "wave", wave, "committed", committed, "dropped", dropped)
			r.emit(ctx, observability.EventDrainBudget, observability.LevelError, map[string]any{
				"wave":      wave,
				"committed": committed,
				"dropped":   dropped,
			})
			r.opts.metrics.QueueDepth(0)
			return err
		}

		if r.perform(ctx, job) {
			committed++
		}
	}

	elapsed := time.Since(start)
	r.opts.logger.Debug("drain complete", "runtime", r.id, "wave", wave, "committed", committed, "duration", elapsed)
	span.SetAttributes(attribute.Int("ripple.committed", committed), attribute.String("ripple.wave", wave))
	r.opts.metrics.QueueDepth(0)
	r.opts.metrics.Drained(elapsed)
	r.emit(ctx, observability.EventDrainComplete, observability.LevelVerbose, map[string]any{
		"wave":      wave,
		"committed": committed,
		"duration":  elapsed,
	})

	return nil
}

// perform commits one job and propagates it. It reports whether the job was committed.
func (r *Runtime) perform(ctx context.Context, job *Job) bool {
	cell, ok := r.cells[job.cell]
	if !ok {
		r.drop(ctx, job, "disposed")
		return false
	}
	s := cell.state()

	if r.opts.skipUnchanged && reflect.DeepEqual(s.value, job.value) {
		if c, ok := cell.(*Computed); ok && job.tracked {
			r.relink(c, job.reads)
		}
		r.drop(ctx, job, "unchanged")
		return false
	}

	r.current = job

	s.previous = r.copy(s.value)
	s.value = job.value
	s.next = r.copy(job.value)

	r.sideEffects(ctx, cell, job)

	r.completed = append(r.completed, job)
	r.current = nil

	for _, hook := range r.hooks {
		if err := runHook(hook, cell); err != nil {
			r.report(ctx, err)
		}
	}

	r.opts.logger.Debug("job committed", "runtime", r.id, "cell", cellKey(cell))
	r.opts.metrics.JobCommitted()
	r.emit(ctx, observability.EventJobCommit, observability.LevelVerbose, map[string]any{
		"cell":     cellKey(cell),
		"previous": s.previous,
		"value":    s.value,
	})

	return true
}

// sideEffects rebuilds the committed cell's dynamic dependencies and re-derives its dependents.
func (r *Runtime) sideEffects(ctx context.Context, cell Cell, job *Job) {
	if c, ok := cell.(*Computed); ok && job.tracked {
		r.relink(c, job.reads)
	}

	dependents := append([]CellID(nil), cell.state().node.dependents...)
	for _, id := range dependents {
		c, ok := r.cells[id].(*Computed)
		if !ok {
			continue
		}

		if r.heap != nil {
			r.heap.Insert(c)
			continue
		}

		r.propagateTo(ctx, c)
	}
}

// scheduleNext recomputes the lowest derived cell waiting in the heap.
func (r *Runtime) scheduleNext(ctx context.Context) bool {
	for c := r.heap.Pop(); c != nil; c = r.heap.Pop() {
		if r.propagateTo(ctx, c) {
			return true
		}
	}
	return false
}

// propagateTo recomputes c and ingests the result. A failure is isolated to c.
func (r *Runtime) propagateTo(ctx context.Context, c *Computed) bool {
	value, reads, err := r.recompute(c)
	r.opts.metrics.Recomputed(err)

	if err != nil {
		r.report(ctx, &RecomputeError{Cell: c.label(), Err: err})
		return false
	}
	if r.heap != nil && r.deferred(c, reads) {
		return false
	}

	r.enqueue(&Job{cell: c.id, value: value, reads: reads, tracked: true})
	return true
}

// deferred moves c back into the heap, above its deepest read, when it read a
// cell at or above its own height. That read may still change in this wave, so
// the evaluation is discarded and c recomputes once the read has settled.
func (r *Runtime) deferred(c *Computed, reads []CellID) bool {
	height := 0
	for _, id := range reads {
		if dep, ok := r.cells[id]; ok {
			if h := dep.state().height + 1; h > height {
				height = h
			}
		}
	}
	if height <= c.height {
		return false
	}

	c.height = height
	r.heap.Insert(c)
	r.opts.metrics.JobDropped("reordered")
	return true
}

// Current returns the job being committed, if any.
func (r *Runtime) Current() *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Dispose removes cell from the runtime, sweeping every edge, subscription
// mapping, queued job and heap entry that references it.
func (r *Runtime) Dispose(cell Cell) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.own(cell)
	if err != nil {
		return
	}
	r.dispose(s)
}

func (r *Runtime) dispose(s *State) {
	if s.disposed {
		return
	}

	if c, ok := r.cells[s.id].(*Computed); ok && r.heap != nil {
		r.heap.Remove(c)
	}
	if n := r.queue.RemoveCell(s.id); n > 0 {
		r.opts.metrics.JobDropped("disposed")
	}

	r.unlink(s)

	delete(r.cells, s.id)
	if s.name != "" && r.names[s.name] == s.id {
		delete(r.names, s.name)
	}
	s.disposed = true
}

func (r *Runtime) copy(v any) any {
	out, err := r.opts.copier(v)
	if err != nil {
		r.opts.logger.Warn("copy failed, keeping reference", "runtime", r.id, "error", err)
		return v
	}
	return out
}

func (r *Runtime) drop(ctx context.Context, job *Job, reason string) {
	level := slog.LevelDebug
	if reason == "disposed" {
		level = slog.LevelWarn
	}
	r.opts.logger.Log(ctx, level, "job dropped", "runtime", r.id, "cell", job.cell, "reason", reason)

	r.opts.metrics.JobDropped(reason)
	r.emit(ctx, observability.EventJobDropped, observability.LevelVerbose, map[string]any{
		"cell":   job.cell,
		"reason": reason,
	})
}

func runHook(hook func(Cell), cell Cell) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: cell %q: %w", ErrHookPanic, cellKey(cell), panicError(p))
		}
	}()

	hook(cell)
	return nil
}

// report logs an isolated failure and hands it to the error handler.
func (r *Runtime) report(ctx context.Context, err error) {
	typ := observability.EventNotifyError
	var recomputeErr *RecomputeError
	switch {
	case errors.As(err, &recomputeErr):
		typ = observability.EventRecomputeError
	case errors.Is(err, ErrHookPanic):
		typ = observability.EventHookError
	}

	r.opts.logger.Error(string(typ), "runtime", r.id, "error", err)
	r.emit(ctx, typ, observability.LevelError, map[string]any{"error": err.Error()})

	if r.opts.onError != nil {
		r.opts.onError(err)
	}
}

func (r *Runtime) emit(ctx context.Context, typ observability.EventType, level observability.Level, data map[string]any) {
	data["runtime"] = r.id
	r.opts.observer.OnEvent(ctx, observability.NewEvent(typ, level, source, data))
}
