// Package observability carries the runtime's events to logs, metrics and traces.
// Level values follow OpenTelemetry SeverityNumbers so events map onto OTel log
// records without translation.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// Level represents event severity aligned with OTel SeverityNumber ranges.
type Level int

const (
	LevelVerbose Level = 5  // OTel DEBUG (5-8)
	LevelInfo    Level = 9  // OTel INFO (9-12)
	LevelWarning Level = 13 // OTel WARN (13-16)
	LevelError   Level = 17 // OTel ERROR (17-20)
)

// String returns the OTel severity text for the level.
func (l Level) String() string {
	switch {
	case l <= 4:
		return "TRACE"
	case l <= 8:
		return "DEBUG"
	case l <= 12:
		return "INFO"
	case l <= 16:
		return "WARN"
	case l <= 20:
		return "ERROR"
	default:
		return "FATAL"
	}
}

// SlogLevel maps this level to the corresponding slog.Level.
func (l Level) SlogLevel() slog.Level {
	switch {
	case l <= 8:
		return slog.LevelDebug
	case l <= 12:
		return slog.LevelInfo
	case l <= 16:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// EventType identifies the kind of event, e.g. "runtime.job.commit".
type EventType string

const (
	EventJobCommit      EventType = "runtime.job.commit"
	EventJobDropped     EventType = "runtime.job.dropped"
	EventRecomputeError EventType = "runtime.recompute.failed"
	EventDrainComplete  EventType = "runtime.drain.complete"
	EventDrainBudget    EventType = "runtime.drain.budget"
	EventFlush          EventType = "runtime.flush"
	EventNotifyError    EventType = "runtime.notify.failed"
	EventHookError      EventType = "runtime.hook.failed"
	EventStorageLoad    EventType = "storage.load"
	EventStorageSave    EventType = "storage.save.failed"
)

// Event is emitted by the runtime and its collaborators.
type Event struct {
	Type      EventType
	Level     Level
	Timestamp time.Time
	Source    string
	Data      map[string]any
}

// Observer receives events for logging, tracing, or metrics.
type Observer interface {
	OnEvent(ctx context.Context, event Event)
}

// NewEvent stamps an event with the current time.
func NewEvent(typ EventType, level Level, source string, data map[string]any) Event {
	return Event{
		Type:      typ,
		Level:     level,
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	}
}
