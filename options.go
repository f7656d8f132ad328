package ripple

import "github.com/AnatoleLucet/ripple/internal"

type (
	Option       = internal.Option
	Order        = internal.Order
	Copier       = internal.Copier
	UpdateFunc   = internal.UpdateFunc
	ErrorHandler = internal.ErrorHandler
)

const (
	OrderFIFO        = internal.OrderFIFO
	OrderTopological = internal.OrderTopological

	DefaultMaxDrainJobs = internal.DefaultMaxDrainJobs
)

var (
	WithOrder         = internal.WithOrder
	WithAutoFlush     = internal.WithAutoFlush
	WithSkipUnchanged = internal.WithSkipUnchanged
	WithMaxDrainJobs  = internal.WithMaxDrainJobs
	WithCopier        = internal.WithCopier
	WithUpdateFunc    = internal.WithUpdateFunc
	WithErrorHandler  = internal.WithErrorHandler
	WithLogger        = internal.WithLogger
	WithObserver      = internal.WithObserver
	WithMetrics       = internal.WithMetrics
	WithTracer        = internal.WithTracer
	ParseOrder        = internal.ParseOrder
	DeepCopy          = internal.DeepCopy
)

var (
	ErrForeignCell   = internal.ErrForeignCell
	ErrCellDisposed  = internal.ErrCellDisposed
	ErrDuplicateName = internal.ErrDuplicateName
	ErrRecompute     = internal.ErrRecompute
	ErrDrainBudget   = internal.ErrDrainBudget
	ErrNotifyPanic   = internal.ErrNotifyPanic
	ErrHookPanic     = internal.ErrHookPanic
	ErrNoUpdateFunc  = internal.ErrNoUpdateFunc
)

type RecomputeError = internal.RecomputeError
