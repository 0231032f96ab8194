package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	redisclient "github.com/campusops/edugate/internal/clients/redis"
	"github.com/campusops/edugate/internal/platform/logger"
)

type recordingObserver struct {
	created []string
	updated []string
	removed []string
	concur  []bool
}

func (o *recordingObserver) OnQueueCreated(def Definition) { o.created = append(o.created, def.Name) }
func (o *recordingObserver) OnQueueUpdated(def Definition, concurrencyChanged bool) {
	o.updated = append(o.updated, def.Name)
	o.concur = append(o.concur, concurrencyChanged)
}
func (o *recordingObserver) OnQueueRemoved(name string) { o.removed = append(o.removed, name) }

func seedConfig() SystemConfig {
	return SystemConfig{
		Queues: []Definition{
			{Name: "critical", Priority: 10, TimeoutSeconds: 30, Attempts: 3, Concurrency: 5, Workers: 2, Enabled: true},
			{Name: "standard", Priority: 5, TimeoutSeconds: 60, Attempts: 3, Concurrency: 3, Workers: 2, Enabled: true},
		},
		DefaultQueue:     "standard",
		JobTTLSeconds:    3600,
		PollingTimeoutMS: 30000,
	}
}

func newTestRegistry(t *testing.T) (*Registry, redisclient.KV) {
	t.Helper()
	kv := redisclient.NewMemory()
	reg, err := NewRegistry(logger.NewNop(), kv, NewMemoryStore(), seedConfig())
	require.NoError(t, err)
	return reg, kv
}

func TestRegistryCreateAndGet(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	obs := &recordingObserver{}
	reg.Subscribe(obs)

	def := Definition{Name: "reports", Priority: 2, TimeoutSeconds: 120, Attempts: 2, Concurrency: 1, Workers: 1, Enabled: true}
	require.NoError(t, reg.Create(ctx, def))
	require.ErrorIs(t, reg.Create(ctx, def), ErrQueueExists)

	got, ok := reg.Get("reports")
	require.True(t, ok)
	require.Equal(t, 2, got.Priority)
	require.Equal(t, []string{"reports"}, obs.created)
}

func TestRegistryRemoveProtectsDefault(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.ErrorIs(t, reg.Remove(ctx, "standard"), ErrDefaultQueue)
	require.ErrorIs(t, reg.Remove(ctx, "missing"), ErrQueueMissing)
	require.NoError(t, reg.Remove(ctx, "critical"))

	_, ok := reg.Get("critical")
	require.False(t, ok)
}

func TestRegistryUpdateFlagsConcurrencyChange(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	obs := &recordingObserver{}
	reg.Subscribe(obs)

	five := 5
	_, err := reg.Update(ctx, "standard", Patch{Concurrency: &five})
	require.NoError(t, err)

	label := "renamed"
	_, err = reg.Update(ctx, "standard", Patch{Label: &label})
	require.NoError(t, err)

	require.Equal(t, []bool{true, false}, obs.concur)
}

func TestRegistryPersistsAndReloadsConfig(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := redisclient.NewMemory()

	reg1, err := NewRegistry(logger.NewNop(), kv, NewMemoryStore(), seedConfig())
	require.NoError(t, err)

	def := Definition{Name: "exports", Priority: 1, TimeoutSeconds: 300, Attempts: 1, Concurrency: 1, Workers: 1, Enabled: true}
	require.NoError(t, reg1.Create(ctx, def))

	// A second instance against the same KV sees the persisted config,
	// not its own seed.
	reg2, err := NewRegistry(logger.NewNop(), kv, NewMemoryStore(), seedConfig())
	require.NoError(t, err)
	_, ok := reg2.Get("exports")
	require.True(t, ok)
}

func TestRegistrySetWorkers(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)

	updated, err := reg.SetWorkers(context.Background(), "critical", 4)
	require.NoError(t, err)
	require.Equal(t, 4, updated.Workers)
}
