package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusops/edugate/internal/domain"
)

func testJob(id string) *domain.Job {
	return &domain.Job{ID: id, Verb: "GET", NormalizedPath: "/courses", CreatedAt: domain.NowMillis()}
}

func TestMemoryStorePriorityOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Ensure(ctx, "standard"))

	require.NoError(t, s.Enqueue(ctx, "standard", testJob("low-1"), EnqueueOptions{Priority: 1}))
	require.NoError(t, s.Enqueue(ctx, "standard", testJob("high"), EnqueueOptions{Priority: 10}))
	require.NoError(t, s.Enqueue(ctx, "standard", testJob("low-2"), EnqueueOptions{Priority: 1}))

	var order []string
	for {
		job, err := s.Dequeue(ctx, "standard", "w1")
		require.NoError(t, err)
		if job == nil {
			break
		}
		order = append(order, job.ID)
	}
	require.Equal(t, []string{"high", "low-1", "low-2"}, order)
}

func TestMemoryStoreDelayedPromotion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Ensure(ctx, "q"))

	require.NoError(t, s.Enqueue(ctx, "q", testJob("later"), EnqueueOptions{Delay: 20 * time.Millisecond}))

	job, err := s.Dequeue(ctx, "q", "w1")
	require.NoError(t, err)
	require.Nil(t, job, "delayed job must not be claimable before ready")

	time.Sleep(30 * time.Millisecond)
	job, err = s.Dequeue(ctx, "q", "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "later", job.ID)
	require.Equal(t, "w1", job.WorkerID)
}

func TestMemoryStoreFailRetriesUntilTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Ensure(ctx, "q"))

	job := testJob("flaky")
	require.NoError(t, s.Enqueue(ctx, "q", job, EnqueueOptions{}))

	policy := RetryPolicy{MaxAttempts: 3, RetryDelay: time.Millisecond}

	claimed, err := s.Dequeue(ctx, "q", "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	terminal, err := s.Fail(ctx, "q", claimed, policy)
	require.NoError(t, err)
	require.False(t, terminal)
	require.Equal(t, 1, claimed.Attempts)

	time.Sleep(10 * time.Millisecond)
	claimed, err = s.Dequeue(ctx, "q", "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	terminal, err = s.Fail(ctx, "q", claimed, policy)
	require.NoError(t, err)
	require.False(t, terminal)

	time.Sleep(15 * time.Millisecond)
	claimed, err = s.Dequeue(ctx, "q", "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	terminal, err = s.Fail(ctx, "q", claimed, policy)
	require.NoError(t, err)
	require.True(t, terminal, "third failure exhausts the attempt budget")
	require.Equal(t, 3, claimed.Attempts)
}

func TestMemoryStorePauseBlocksDequeue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Ensure(ctx, "q"))
	require.NoError(t, s.Enqueue(ctx, "q", testJob("waiting"), EnqueueOptions{}))

	require.NoError(t, s.Pause(ctx, "q"))
	job, err := s.Dequeue(ctx, "q", "w1")
	require.NoError(t, err)
	require.Nil(t, job)

	counts, err := s.Counts(ctx, "q")
	require.NoError(t, err)
	require.EqualValues(t, 1, counts.Paused)
	require.EqualValues(t, 0, counts.Waiting)

	require.NoError(t, s.Resume(ctx, "q"))
	job, err = s.Dequeue(ctx, "q", "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestMemoryStoreJobTTLExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Ensure(ctx, "q"))
	require.NoError(t, s.Enqueue(ctx, "q", testJob("short"), EnqueueOptions{JobTTL: 10 * time.Millisecond}))

	time.Sleep(20 * time.Millisecond)
	job, err := s.Dequeue(ctx, "q", "w1")
	require.NoError(t, err)
	require.Nil(t, job, "expired payloads are skipped")

	stored, err := s.Job(ctx, "short")
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestMemoryStoreDropUnknownQueue(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	require.ErrorIs(t, s.Drop(context.Background(), "nope"), ErrUnknownQueue)
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	t.Parallel()
	require.Equal(t, time.Second, backoffDelay(time.Second, 1))
	require.Equal(t, 2*time.Second, backoffDelay(time.Second, 2))
	require.Equal(t, 4*time.Second, backoffDelay(time.Second, 3))
	require.Equal(t, 5*time.Minute, backoffDelay(time.Minute, 10))
	require.Equal(t, time.Duration(0), backoffDelay(0, 3))
}
