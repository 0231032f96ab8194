package queue

import (
	"context"
	"errors"
	"time"

	"github.com/campusops/edugate/internal/domain"
)

// ErrUnknownQueue is returned for operations on a queue the store has
// never seen.
var ErrUnknownQueue = errors.New("unknown queue")

// Counts is the live load of one queue as reported by the broker.
type Counts struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Paused  int64 `json:"paused"`
}

// Load is the router's scalar: everything not yet finished.
func (c Counts) Load() int64 {
	return c.Waiting + c.Active + c.Delayed + c.Paused
}

// EnqueueOptions carries the per-job scheduling knobs derived from the
// queue definition at admission time.
type EnqueueOptions struct {
	Priority int
	Delay    time.Duration
	JobTTL   time.Duration
}

// RetryPolicy caps attempts and seeds the exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// Store is the broker side of the queue manager: priority-FIFO waiting
// sets, delayed retry scheduling, active tracking, pause flags, and
// durable job payloads. Implemented on redis in production and in
// memory for tests and brokerless deployments.
type Store interface {
	// Ensure creates the structures for a queue; idempotent.
	Ensure(ctx context.Context, name string) error
	// Drop removes a queue and everything waiting in it.
	Drop(ctx context.Context, name string) error

	Enqueue(ctx context.Context, queue string, job *domain.Job, opts EnqueueOptions) error
	// Dequeue claims the highest-priority ready job for a worker, or
	// returns nil when nothing is ready. Promotes due delayed jobs.
	Dequeue(ctx context.Context, queue, workerID string) (*domain.Job, error)
	// Ack releases a finished job from the active set.
	Ack(ctx context.Context, queue string, job *domain.Job) error
	// Fail counts one attempt. When attempts remain it reschedules with
	// exponential backoff and reports terminal=false.
	Fail(ctx context.Context, queue string, job *domain.Job, policy RetryPolicy) (terminal bool, err error)

	Counts(ctx context.Context, queue string) (Counts, error)
	Pause(ctx context.Context, queue string) error
	Resume(ctx context.Context, queue string) error
	Paused(ctx context.Context, queue string) (bool, error)

	// Job returns the stored payload of a live job, or nil when expired
	// or unknown.
	Job(ctx context.Context, jobID string) (*domain.Job, error)
}

// backoffDelay doubles the seed per prior attempt: d, 2d, 4d, ...
func backoffDelay(seed time.Duration, attempt int) time.Duration {
	if seed <= 0 {
		return 0
	}
	d := seed
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return d
}
