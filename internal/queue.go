package internal

// Job is one pending or in-flight mutation of a cell.
type Job struct {
	cell  CellID
	value any

	// reads and tracked are set when the job was produced by a recomputation;
	// committing it re-establishes the cell's dependency edges.
	reads   []CellID
	tracked bool
}

func (j *Job) Cell() CellID { return j.cell }
func (j *Job) Value() any   { return j.value }

// JobQueue is the FIFO of pending jobs.
type JobQueue struct {
	jobs []*Job
	head int
}

func NewJobQueue() *JobQueue {
	return &JobQueue{
		jobs: make([]*Job, 0, 16),
	}
}

func (q *JobQueue) Enqueue(job *Job) {
	q.jobs = append(q.jobs, job)
}

func (q *JobQueue) Dequeue() (*Job, bool) {
	if q.head >= len(q.jobs) {
		q.Clear()
		return nil, false
	}

	job := q.jobs[q.head]
	q.jobs[q.head] = nil
	q.head++

	return job, true
}

func (q *JobQueue) Len() int {
	return len(q.jobs) - q.head
}

func (q *JobQueue) Clear() {
	q.jobs = q.jobs[:0]
	q.head = 0
}

// RemoveCell drops every pending job targeting cell and returns how many were dropped.
func (q *JobQueue) RemoveCell(cell CellID) int {
	kept := q.jobs[:q.head]
	dropped := 0

	for _, job := range q.jobs[q.head:] {
		if job.cell == cell {
			dropped++
			continue
		}
		kept = append(kept, job)
	}

	clear(q.jobs[len(kept):])
	q.jobs = kept

	return dropped
}
