package cleanup

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue used when no Redis server is configured.
// Jobs do not survive a restart.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   []Job
	delayed []Job
	pending map[string]struct{}
	notify  chan struct{}
	closed  bool

	now func() time.Time
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		pending: make(map[string]struct{}),
		notify:  make(chan struct{}, 1),
		now:     time.Now,
	}
}

var _ Queue = (*MemoryQueue)(nil)

func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Enqueue adds jobs that are not already pending.
func (q *MemoryQueue) Enqueue(ctx context.Context, jobs ...Job) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrQueueClosed
	}

	added := 0
	for _, job := range jobs {
		if _, ok := q.pending[job.ID]; ok {
			continue
		}
		q.pending[job.ID] = struct{}{}
		q.ready = append(q.ready, job)
		added++
	}
	if added > 0 {
		q.wake()
	}
	return added, nil
}

// Dequeue returns the oldest due job.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		job, wait, err := q.next()
		if err != nil {
			return Job{}, err
		}
		if wait == 0 {
			return job, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Job{}, ctx.Err()
		case <-q.notify:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// next pops a due job, or reports how long to wait for one.
func (q *MemoryQueue) next() (Job, time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Job{}, 0, ErrQueueClosed
	}

	now := q.now()
	wait := time.Minute
	kept := q.delayed[:0]
	for _, job := range q.delayed {
		if !job.NotBefore.After(now) {
			q.ready = append(q.ready, job)
			continue
		}
		if d := job.NotBefore.Sub(now); d < wait {
			wait = d
		}
		kept = append(kept, job)
	}
	q.delayed = kept

	if len(q.ready) > 0 {
		job := q.ready[0]
		q.ready = q.ready[1:]
		return job, 0, nil
	}
	return Job{}, wait, nil
}

// Retry re-adds job once delay has passed.
func (q *MemoryQueue) Retry(ctx context.Context, job Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	job.NotBefore = q.now().Add(delay)
	q.delayed = append(q.delayed, job)
	q.wake()
	return nil
}

// Complete forgets job.
func (q *MemoryQueue) Complete(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, job.ID)
	return nil
}

// Len returns the number of pending jobs.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close wakes blocked consumers with ErrQueueClosed.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.notify)
	}
	return nil
}
