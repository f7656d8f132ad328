package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/AnatoleLucet/ripple/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Flush notifies every subscriber of the cells committed since the last flush,
// each exactly once, then forgets those commits.
func (r *Runtime) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flush()

	// subscribers may have ingested while being notified
	if !r.batcher.IsBatching() && r.queue.Len() > 0 {
		if err := r.drain(); err != nil {
			r.report(context.Background(), err)
		}
	}
}

func (r *Runtime) flush() {
	if r.flushing {
		return
	}
	r.flushing = true
	defer func() { r.flushing = false }()

	ctx, span := r.opts.tracer.Start(context.Background(), "ripple.flush")
	defer span.End()
	start := time.Now()

	completed := r.completed
	r.completed = nil

	var notify []Subscription
	seen := make(map[SubscriptionID]bool)

	for _, job := range completed {
		cell, ok := r.cells[job.cell]
		if !ok {
			continue
		}

		for _, id := range cell.state().node.subscribers {
			sub, ok := r.subs[id]
			if !ok {
				continue
			}

			if b := sub.base(); b.keyDiff {
				b.markChanged(job.cell)
			}

			if !seen[id] {
				seen[id] = true
				notify = append(notify, sub)
			}
		}
	}

	failures := 0
	for _, sub := range notify {
		b := sub.base()
		if !b.disposed {
			if err := r.notify(sub, r.assemble(b)); err != nil {
				failures++
				span.RecordError(err)
				r.report(ctx, err)
			}
		}
		b.changedKeys = b.changedKeys[:0]
	}

	span.SetAttributes(
		attribute.Int("ripple.jobs", len(completed)),
		attribute.Int("ripple.notified", len(notify)),
	)
	if failures > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d subscribers failed", failures))
	}

	r.opts.metrics.Flushed(time.Since(start))
	r.emit(ctx, observability.EventFlush, observability.LevelVerbose, map[string]any{
		"jobs":     len(completed),
		"notified": len(notify),
		"failed":   failures,
	})
}

// assemble maps each changed local key to the current value of its cell.
func (r *Runtime) assemble(b *subscriptionBase) map[string]any {
	changes := make(map[string]any, len(b.changedKeys))
	for _, key := range b.changedKeys {
		if cell, ok := r.cells[b.cells[key]]; ok {
			changes[key] = cell.state().value
		}
	}
	return changes
}

func (r *Runtime) notify(sub Subscription, changes map[string]any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: subscription %d: %w", ErrNotifyPanic, sub.ID(), panicError(p))
		}
	}()

	sub.notify(changes)
	r.opts.metrics.Notified(sub.kind())

	return nil
}
