package internal

type Scheduler struct {
	// incremented each time a drain finishes, identifies propagation waves
	clock int

	// set while a drain is active; ingests that see it only enqueue
	running bool

	// jobs a single drain may commit, <= 0 means unbounded
	budget int
	spent  int
}

func NewScheduler(budget int) *Scheduler {
	return &Scheduler{
		budget: budget,
	}
}

// Run executes fn as a drain unless one is already active.
func (s *Scheduler) Run(fn func()) bool {
	if s.running {
		return false
	}

	s.running = true
	s.spent = 0
	defer func() {
		s.clock++
		s.running = false
	}()

	fn()

	return true
}

// Spend charges one job to the active drain and reports whether the budget allows it.
func (s *Scheduler) Spend() bool {
	s.spent++
	return s.budget <= 0 || s.spent <= s.budget
}

func (s *Scheduler) Running() bool {
	return s.running
}

func (s *Scheduler) Time() int {
	return s.clock
}
