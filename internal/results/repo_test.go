package results

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	redisclient "github.com/campusops/edugate/internal/clients/redis"
	"github.com/campusops/edugate/internal/domain"
	"github.com/campusops/edugate/internal/platform/logger"
)

func record(id, queue string, failed bool) *domain.JobResultRecord {
	rec := &domain.JobResultRecord{
		JobID:      id,
		QueueName:  queue,
		Verb:       "GET",
		URL:        "/courses",
		Status:     domain.StatusCompleted,
		Success:    true,
		FinishedAt: domain.NowMillis(),
	}
	if failed {
		rec.Status = domain.StatusFailed
		rec.Success = false
		rec.Error = &domain.JobError{Type: domain.ErrorKindTimeout, Message: "job timed out"}
	}
	return rec
}

func TestRepoSaveAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewRepo(logger.NewNop(), redisclient.NewMemory())

	require.NoError(t, repo.Save(ctx, record("j1", "standard", false)))

	got, err := repo.Get(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "j1", got.JobID)
	require.True(t, got.Success)

	missing, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRepoHistorySplitsByOutcome(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewRepo(logger.NewNop(), redisclient.NewMemory())

	require.NoError(t, repo.Save(ctx, record("ok-1", "standard", false)))
	require.NoError(t, repo.Save(ctx, record("bad-1", "standard", true)))
	require.NoError(t, repo.Save(ctx, record("ok-2", "critical", false)))

	completed, err := repo.History(ctx, false, 10, "")
	require.NoError(t, err)
	require.Len(t, completed, 2)
	// Newest first.
	require.Equal(t, "ok-2", completed[0].JobID)

	failed, err := repo.History(ctx, true, 10, "")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "bad-1", failed[0].JobID)
	require.Equal(t, domain.ErrorKindTimeout, failed[0].Error.Type)
}

func TestRepoHistoryQueueFilter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewRepo(logger.NewNop(), redisclient.NewMemory())

	require.NoError(t, repo.Save(ctx, record("a", "standard", false)))
	require.NoError(t, repo.Save(ctx, record("b", "critical", false)))
	require.NoError(t, repo.Save(ctx, record("c", "standard", false)))

	got, err := repo.History(ctx, false, 10, "standard")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, rec := range got {
		require.Equal(t, "standard", rec.QueueName)
	}
}

func TestRepoHistoryBounded(t *testing.T) {
	t.Setenv("QUEUE_RESULT_HISTORY_LIMIT", "5")
	ctx := context.Background()
	repo := NewRepo(logger.NewNop(), redisclient.NewMemory())

	for i := 0; i < 12; i++ {
		require.NoError(t, repo.Save(ctx, record(fmt.Sprintf("j-%d", i), "standard", false)))
	}

	total, err := repo.HistoryLen(ctx, false)
	require.NoError(t, err)
	require.EqualValues(t, 5, total, "history list is trimmed to the cap")

	got, err := repo.History(ctx, false, 10, "")
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Equal(t, "j-11", got[0].JobID)
}
