package internal

import "strconv"

type Tracker struct {
	tracking bool

	currentOwner *Owner         // for lifecycle/cleanup tracking
	current      *trackingFrame // for reactive dependency tracking
}

// trackingFrame collects the reads of one recomputation.
type trackingFrame struct {
	cell  CellID
	reads idSet[CellID]
}

func NewTracker() *Tracker {
	return &Tracker{
		tracking: true,
	}
}

func (t *Tracker) RunWithOwner(owner *Owner, fn func()) {
	prev := t.currentOwner
	t.currentOwner = owner
	defer func() { t.currentOwner = prev }()

	fn()
}

// RunWithComputation runs fn as the recomputation of cell and returns the cells it read.
func (t *Tracker) RunWithComputation(cell CellID, fn func()) []CellID {
	frame := &trackingFrame{cell: cell}

	prev := t.current
	prevTracking := t.tracking
	t.current = frame
	t.tracking = true

	defer func() {
		t.current = prev
		t.tracking = prevTracking
	}()

	fn()

	return frame.reads
}

func (t *Tracker) RunUntracked(fn func()) {
	prev := t.tracking
	t.tracking = false
	defer func() { t.tracking = prev }()

	fn()
}

func (t *Tracker) Track(cell CellID) {
	if t.ShouldTrack() && t.current.cell != cell {
		t.current.reads.add(cell)
	}
}

func (t *Tracker) ShouldTrack() bool {
	return t.current != nil && t.tracking
}

func (t *Tracker) CurrentOwner() *Owner {
	return t.currentOwner
}

// Untrack runs fn without recording any read as a dependency.
func (r *Runtime) Untrack(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.RunUntracked(fn)
}

func itoa(n uint64) string {
	return strconv.FormatUint(n, 10)
}
