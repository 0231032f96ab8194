package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/campusops/edugate/internal/domain"
)

// MemoryStore keeps whole queues in process memory. Same ordering
// semantics as the redis store: higher priority first, FIFO within
// equal priority.
type MemoryStore struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	jobs   map[string]*memJob
	seq    int64
}

type memQueue struct {
	waiting []waitItem
	delayed []delayItem
	active  map[string]bool
	paused  bool
}

type waitItem struct {
	jobID    string
	priority int
	seq      int64
}

type delayItem struct {
	jobID   string
	readyAt time.Time
}

type memJob struct {
	job      *domain.Job
	expireAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queues: make(map[string]*memQueue),
		jobs:   make(map[string]*memJob),
	}
}

func (s *MemoryStore) queue(name string) *memQueue {
	q, ok := s.queues[name]
	if !ok {
		q = &memQueue{active: make(map[string]bool)}
		s.queues[name] = q
	}
	return q
}

func (s *MemoryStore) Ensure(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue(name)
	return nil
}

func (s *MemoryStore) Drop(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[name]; !ok {
		return ErrUnknownQueue
	}
	delete(s.queues, name)
	return nil
}

func (s *MemoryStore) Enqueue(_ context.Context, queue string, job *domain.Job, opts EnqueueOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue(queue)
	s.seq++

	mj := &memJob{job: job}
	if opts.JobTTL > 0 {
		mj.expireAt = time.Now().Add(opts.JobTTL)
	}
	s.jobs[job.ID] = mj

	if opts.Delay > 0 {
		q.delayed = append(q.delayed, delayItem{jobID: job.ID, readyAt: time.Now().Add(opts.Delay)})
		return nil
	}
	q.waiting = append(q.waiting, waitItem{jobID: job.ID, priority: opts.Priority, seq: s.seq})
	sortWaiting(q.waiting)
	return nil
}

func sortWaiting(items []waitItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].priority != items[j].priority {
			return items[i].priority > items[j].priority
		}
		return items[i].seq < items[j].seq
	})
}

func (s *MemoryStore) Dequeue(_ context.Context, queue, workerID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[queue]
	if !ok {
		return nil, ErrUnknownQueue
	}
	if q.paused {
		return nil, nil
	}
	s.promoteLocked(q)
	for len(q.waiting) > 0 {
		item := q.waiting[0]
		q.waiting = q.waiting[1:]
		mj, ok := s.jobs[item.jobID]
		if !ok || (!mj.expireAt.IsZero() && time.Now().After(mj.expireAt)) {
			delete(s.jobs, item.jobID)
			continue
		}
		q.active[item.jobID] = true
		mj.job.WorkerID = workerID
		return mj.job, nil
	}
	return nil, nil
}

func (s *MemoryStore) promoteLocked(q *memQueue) {
	now := time.Now()
	remaining := q.delayed[:0]
	for _, d := range q.delayed {
		if d.readyAt.After(now) {
			remaining = append(remaining, d)
			continue
		}
		mj, ok := s.jobs[d.jobID]
		if !ok {
			continue
		}
		s.seq++
		prio := 0
		if mj.job != nil {
			prio = jobPriority(mj.job)
		}
		q.waiting = append(q.waiting, waitItem{jobID: d.jobID, priority: prio, seq: s.seq})
	}
	q.delayed = remaining
	sortWaiting(q.waiting)
}

// jobPriority recovers the priority a delayed job re-enters with. The
// enqueue-time priority equals the owning queue's priority, which the
// job does not carry; retries re-enter at neutral priority so fresh
// work is not starved behind a failing job.
func jobPriority(_ *domain.Job) int { return 0 }

func (s *MemoryStore) Ack(_ context.Context, queue string, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[queue]; ok {
		delete(q.active, job.ID)
	}
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, queue string, job *domain.Job, policy RetryPolicy) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[queue]
	if !ok {
		return true, ErrUnknownQueue
	}
	delete(q.active, job.ID)
	job.Attempts++
	if mj, ok := s.jobs[job.ID]; ok {
		mj.job = job
	}
	if policy.MaxAttempts > 0 && job.Attempts >= policy.MaxAttempts {
		return true, nil
	}
	q.delayed = append(q.delayed, delayItem{
		jobID:   job.ID,
		readyAt: time.Now().Add(backoffDelay(policy.RetryDelay, job.Attempts)),
	})
	return false, nil
}

func (s *MemoryStore) Counts(_ context.Context, queue string) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[queue]
	if !ok {
		return Counts{}, ErrUnknownQueue
	}
	c := Counts{
		Active:  int64(len(q.active)),
		Delayed: int64(len(q.delayed)),
	}
	if q.paused {
		c.Paused = int64(len(q.waiting))
	} else {
		c.Waiting = int64(len(q.waiting))
	}
	return c, nil
}

func (s *MemoryStore) Pause(_ context.Context, queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[queue]
	if !ok {
		return ErrUnknownQueue
	}
	q.paused = true
	return nil
}

func (s *MemoryStore) Resume(_ context.Context, queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[queue]
	if !ok {
		return ErrUnknownQueue
	}
	q.paused = false
	return nil
}

func (s *MemoryStore) Paused(_ context.Context, queue string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[queue]
	if !ok {
		return false, ErrUnknownQueue
	}
	return q.paused, nil
}

func (s *MemoryStore) Job(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mj, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	if !mj.expireAt.IsZero() && time.Now().After(mj.expireAt) {
		delete(s.jobs, jobID)
		return nil, nil
	}
	return mj.job, nil
}
