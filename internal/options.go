package internal

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/AnatoleLucet/ripple/internal/observability"
	"github.com/mitchellh/copystructure"
	"go.opentelemetry.io/otel/trace"
)

// Order selects how dependents of a committed cell are scheduled.
type Order int

const (
	// OrderFIFO recomputes dependents as soon as their dependency commits and
	// queues the results behind the jobs already waiting. A derived cell reachable
	// through several paths recomputes once per path.
	OrderFIFO Order = iota

	// OrderTopological defers dependents into a height-ordered heap so a derived
	// cell commits at most once per wave, after every cell it depends on. A cell
	// whose reads moved deeper during the wave is evaluated again at its new height
	// and only that evaluation commits.
	OrderTopological
)

func (o Order) String() string {
	switch o {
	case OrderTopological:
		return "topological"
	default:
		return "fifo"
	}
}

// ParseOrder parses "fifo" or "topological".
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fifo":
		return OrderFIFO, nil
	case "topological", "topo":
		return OrderTopological, nil
	default:
		return OrderFIFO, fmt.Errorf("unknown propagation order %q", s)
	}
}

// DefaultMaxDrainJobs bounds a single drain when no budget is configured.
const DefaultMaxDrainJobs = 10000

// Copier produces the snapshots stored as a cell's previous and next values.
type Copier func(v any) (any, error)

// UpdateFunc is the framework hook called for component subscribers.
type UpdateFunc func(handle any, changes map[string]any)

// ErrorHandler receives errors the runtime isolates instead of returning.
type ErrorHandler func(err error)

type options struct {
	order         Order
	autoFlush     bool
	skipUnchanged bool
	maxDrainJobs  int

	copier  Copier
	update  UpdateFunc
	onError ErrorHandler

	logger   *slog.Logger
	observer observability.Observer
	metrics  *observability.Metrics
	tracer   trace.Tracer
}

// Option configures a Runtime.
type Option func(*options)

func defaultOptions() options {
	return options{
		order:        OrderFIFO,
		maxDrainJobs: DefaultMaxDrainJobs,
		copier:       DeepCopy,
		logger:       slog.Default(),
		observer:     observability.NoOpObserver{},
		tracer:       observability.DefaultTracer(),
	}
}

// WithOrder sets the propagation order.
func WithOrder(order Order) Option {
	return func(o *options) { o.order = order }
}

// WithAutoFlush makes every outermost drain end with a Flush.
func WithAutoFlush(enabled bool) Option {
	return func(o *options) { o.autoFlush = enabled }
}

// WithSkipUnchanged drops jobs whose value deep-equals the committed value.
func WithSkipUnchanged(enabled bool) Option {
	return func(o *options) { o.skipUnchanged = enabled }
}

// WithMaxDrainJobs bounds how many jobs one drain may commit. Zero or less disables the bound.
func WithMaxDrainJobs(n int) Option {
	return func(o *options) { o.maxDrainJobs = n }
}

// WithCopier replaces the deep copy used for previous/next snapshots.
func WithCopier(copier Copier) Option {
	return func(o *options) {
		if copier != nil {
			o.copier = copier
		}
	}
}

// WithUpdateFunc sets the default update function for component subscribers.
func WithUpdateFunc(update UpdateFunc) Option {
	return func(o *options) { o.update = update }
}

// WithErrorHandler receives recompute and notification failures.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(o *options) { o.onError = handler }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver sets the event observer.
func WithObserver(observer observability.Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithMetrics enables Prometheus collectors.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithTracer sets the OpenTelemetry tracer used for drain and flush spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// DeepCopy is the default Copier.
func DeepCopy(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return copystructure.Copy(v)
}
