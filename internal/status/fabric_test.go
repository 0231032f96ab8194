package status

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campusops/edugate/internal/domain"
	"github.com/campusops/edugate/internal/platform/logger"
)

type fakeSubscriber struct {
	mu      sync.Mutex
	got     []domain.JobStatusUpdate
	sendErr error
}

func (s *fakeSubscriber) Send(u domain.JobStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.got = append(s.got, u)
	return nil
}

func (s *fakeSubscriber) updates() []domain.JobStatusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.JobStatusUpdate(nil), s.got...)
}

func TestFabricMonotonicUpdates(t *testing.T) {
	t.Parallel()
	f := NewFabric(logger.NewNop())
	defer f.Stop()

	require.True(t, f.Update(domain.JobStatusUpdate{JobID: "j1", Status: domain.StatusProcessing, Timestamp: 200}))
	require.False(t, f.Update(domain.JobStatusUpdate{JobID: "j1", Status: domain.StatusQueued, Timestamp: 100}),
		"older timestamp must not overwrite")

	u, ok := f.GetStatus("j1")
	require.True(t, ok)
	require.Equal(t, domain.StatusProcessing, u.Status)
}

func TestFabricFanOutToSubscribers(t *testing.T) {
	t.Parallel()
	f := NewFabric(logger.NewNop())
	defer f.Stop()

	sub := &fakeSubscriber{}
	f.Subscribe(sub, "j1")

	f.MarkQueued("j1", "standard")
	f.MarkProcessing("j1", "standard")
	f.MarkQueued("j2", "standard") // not subscribed

	got := sub.updates()
	require.Len(t, got, 2)
	require.Equal(t, domain.StatusQueued, got[0].Status)
	require.Equal(t, domain.StatusProcessing, got[1].Status)
}

func TestFabricDropsFailingSubscriber(t *testing.T) {
	t.Parallel()
	f := NewFabric(logger.NewNop())
	defer f.Stop()

	bad := &fakeSubscriber{sendErr: errors.New("gone")}
	good := &fakeSubscriber{}
	f.Subscribe(bad, "j1")
	f.Subscribe(good, "j1")

	f.MarkQueued("j1", "standard")
	require.Len(t, good.updates(), 1)

	// The failing subscriber was dropped; further updates skip it
	// without error.
	f.MarkCompleted("j1", "standard")
	require.Len(t, good.updates(), 2)
	require.Equal(t, 1, f.GetStatistics().Subscribers)
}

func TestFabricUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	f := NewFabric(logger.NewNop())
	defer f.Stop()

	sub := &fakeSubscriber{}
	f.Subscribe(sub, "j1")
	f.MarkQueued("j1", "standard")
	f.Unsubscribe(sub, "j1")
	f.MarkCompleted("j1", "standard")

	require.Len(t, sub.updates(), 1)
}

func TestFabricStatistics(t *testing.T) {
	t.Parallel()
	f := NewFabric(logger.NewNop())
	defer f.Stop()

	f.Update(domain.JobStatusUpdate{JobID: "a", Status: domain.StatusQueued, Timestamp: 10})
	f.Update(domain.JobStatusUpdate{JobID: "b", Status: domain.StatusQueued, Timestamp: 20})
	f.Update(domain.JobStatusUpdate{JobID: "c", Status: domain.StatusCompleted, Timestamp: 30})

	stats := f.GetStatistics()
	require.Equal(t, 3, stats.TotalJobs)
	require.Equal(t, 2, stats.ByStatus[domain.StatusQueued])
	require.Equal(t, 1, stats.ByStatus[domain.StatusCompleted])
	require.EqualValues(t, 10, stats.OldestTimestamp)
}
