package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campusops/edugate/internal/platform/logger"
)

func TestExecuteRunsOnce(t *testing.T) {
	t.Parallel()
	s := NewMemory(logger.NewNop())
	defer s.Stop()
	ctx := context.Background()

	var calls atomic.Int32
	fn := func(context.Context) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`{"jobId":"j1"}`), nil
	}

	first, err := s.Execute(ctx, "k", fn)
	require.NoError(t, err)
	require.True(t, first.IsNew)

	second, err := s.Execute(ctx, "k", fn)
	require.NoError(t, err)
	require.False(t, second.IsNew)
	require.JSONEq(t, string(first.Payload), string(second.Payload))
	require.EqualValues(t, 1, calls.Load())
}

func TestExecuteConcurrentCallersShareResult(t *testing.T) {
	t.Parallel()
	s := NewMemory(logger.NewNop())
	defer s.Stop()
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (json.RawMessage, error) {
		calls.Add(1)
		<-release
		return json.RawMessage(`{"ok":true}`), nil
	}

	const n = 8
	var wg sync.WaitGroup
	outcomes := make([]Outcome, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = s.Execute(ctx, "shared", fn)
		}(i)
	}
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, calls.Load())
	newCount := 0
	for _, out := range outcomes {
		require.JSONEq(t, `{"ok":true}`, string(out.Payload))
		if out.IsNew {
			newCount++
		}
	}
	require.Equal(t, 1, newCount, "exactly one caller executes")
}

func TestExecuteFailureDoesNotPoisonKey(t *testing.T) {
	t.Parallel()
	s := NewMemory(logger.NewNop())
	defer s.Stop()
	ctx := context.Background()

	boom := errors.New("downstream down")
	_, err := s.Execute(ctx, "k", func(context.Context) (json.RawMessage, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	out, err := s.Execute(ctx, "k", func(context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{"retry":true}`), nil
	})
	require.NoError(t, err)
	require.True(t, out.IsNew, "a failed execution releases the key")
}
