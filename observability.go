package ripple

import "github.com/AnatoleLucet/ripple/internal/observability"

type (
	Observer          = observability.Observer
	Event             = observability.Event
	EventType         = observability.EventType
	Level             = observability.Level
	SlogObserver      = observability.SlogObserver
	MultiObserver     = observability.MultiObserver
	RecordingObserver = observability.RecordingObserver
	NoOpObserver      = observability.NoOpObserver

	Metrics       = observability.Metrics
	MetricsConfig = observability.MetricsConfig
	MetricsOption = observability.MetricsOption
)

const (
	LevelVerbose = observability.LevelVerbose
	LevelInfo    = observability.LevelInfo
	LevelWarning = observability.LevelWarning
	LevelError   = observability.LevelError

	EventJobCommit      = observability.EventJobCommit
	EventJobDropped     = observability.EventJobDropped
	EventRecomputeError = observability.EventRecomputeError
	EventDrainComplete  = observability.EventDrainComplete
	EventDrainBudget    = observability.EventDrainBudget
	EventFlush          = observability.EventFlush
	EventNotifyError    = observability.EventNotifyError
	EventHookError      = observability.EventHookError
	EventStorageLoad    = observability.EventStorageLoad
	EventStorageSave    = observability.EventStorageSave
)

var (
	NewEvent         = observability.NewEvent
	NewSlogObserver  = observability.NewSlogObserver
	NewMultiObserver = observability.NewMultiObserver

	// NewMetrics registers the runtime collectors; pass the result to WithMetrics.
	NewMetrics             = observability.NewMetrics
	WithMetricsNamespace   = observability.WithNamespace
	WithMetricsSubsystem   = observability.WithSubsystem
	WithMetricsConstLabels = observability.WithConstLabels
	WithMetricsBuckets     = observability.WithBuckets
	WithMetricsRegistry    = observability.WithRegistry
)
