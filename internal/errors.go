package internal

import (
	"errors"
	"fmt"
)

var (
	// ErrForeignCell is returned when a cell created by another runtime is handed to this one.
	ErrForeignCell = errors.New("ripple: cell does not belong to this runtime")

	// ErrCellDisposed is returned when ingesting into a cell that was disposed.
	ErrCellDisposed = errors.New("ripple: cell disposed")

	// ErrDuplicateName is returned when two cells of the same runtime share a non-empty name.
	ErrDuplicateName = errors.New("ripple: duplicate cell name")

	// ErrRecompute is the sentinel wrapped by every RecomputeError.
	ErrRecompute = errors.New("ripple: recompute failed")

	// ErrDrainBudget is returned when a single drain commits more jobs than allowed,
	// which almost always means two derived cells depend on each other.
	ErrDrainBudget = errors.New("ripple: drain budget exceeded")

	// ErrNotifyPanic wraps a panic raised by a subscriber during Flush.
	ErrNotifyPanic = errors.New("ripple: subscriber panicked")

	// ErrHookPanic wraps a panic raised by a commit hook.
	ErrHookPanic = errors.New("ripple: commit hook panicked")
)

// RecomputeError reports a derived cell whose computation failed.
// The cell keeps its last committed value.
type RecomputeError struct {
	Cell string
	Err  error
}

func (e *RecomputeError) Error() string {
	return fmt.Sprintf("ripple: recompute %q: %v", e.Cell, e.Err)
}

func (e *RecomputeError) Unwrap() []error {
	return []error{ErrRecompute, e.Err}
}

// panicError turns a recovered value into an error.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
