package internal

type Batcher struct {
	// each nested batch increases the depth by 1
	// if depth > 0, ingested jobs wait in the queue until the outermost batch is complete
	depth int
}

func NewBatcher() *Batcher {
	return &Batcher{
		depth: 0,
	}
}

func (b *Batcher) IsBatching() bool {
	return b.depth > 0
}

func (b *Batcher) Batch(fn, onComplete func()) {
	b.depth++
	defer func() {
		b.depth--
		if b.depth == 0 && onComplete != nil {
			onComplete()
		}
	}()

	fn()
}

// Batch runs fn with draining suspended, then drains every job it ingested at once.
func (r *Runtime) Batch(fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	r.batcher.Batch(fn, func() {
		err = r.settle()
	})

	return err
}
