package status

import (
	"sync"
	"time"

	"github.com/campusops/edugate/internal/domain"
	"github.com/campusops/edugate/internal/platform/logger"
)

// Subscriber receives push updates for job ids it registered interest
// in. A Send error marks the subscriber disconnected and drops all its
// bindings.
type Subscriber interface {
	Send(update domain.JobStatusUpdate) error
}

// Statistics summarizes the fabric for the push stats query.
type Statistics struct {
	TotalJobs       int                      `json:"totalJobs"`
	ByStatus        map[domain.JobStatus]int `json:"byStatus"`
	OldestTimestamp int64                    `json:"oldestTimestamp,omitempty"`
	Subscribers     int                      `json:"subscribers"`
}

type binding struct {
	jobIDs   map[string]bool
	lastSeen time.Time
}

// Fabric is the authoritative in-memory job status store plus the
// subscriber fan-out. Updates are monotonic by timestamp per job id;
// stale writes are discarded.
type Fabric struct {
	log *logger.Logger

	mu       sync.Mutex
	statuses map[string]domain.JobStatusUpdate
	subs     map[Subscriber]*binding
	byJob    map[string]map[Subscriber]bool

	stop chan struct{}
	once sync.Once
}

const (
	statusMaxAge  = time.Hour
	handleMaxIdle = 5 * time.Minute
	sweepInterval = 5 * time.Minute
)

func NewFabric(log *logger.Logger) *Fabric {
	return &Fabric{
		log:      log.With("component", "StatusFabric"),
		statuses: make(map[string]domain.JobStatusUpdate),
		subs:     make(map[Subscriber]*binding),
		byJob:    make(map[string]map[Subscriber]bool),
		stop:     make(chan struct{}),
	}
}

// Update applies a status change and fans it out. Returns false when
// the update is stale (older timestamp than the current one).
func (f *Fabric) Update(u domain.JobStatusUpdate) bool {
	if u.Timestamp == 0 {
		u.Timestamp = domain.NowMillis()
	}

	f.mu.Lock()
	if cur, ok := f.statuses[u.JobID]; ok && cur.Timestamp > u.Timestamp {
		f.mu.Unlock()
		return false
	}
	f.statuses[u.JobID] = u
	targets := make([]Subscriber, 0, len(f.byJob[u.JobID]))
	for s := range f.byJob[u.JobID] {
		targets = append(targets, s)
	}
	f.mu.Unlock()

	for _, s := range targets {
		if err := s.Send(u); err != nil {
			f.log.Debug("Subscriber send failed; dropping", "job_id", u.JobID, "error", err)
			f.Drop(s)
		}
	}
	return true
}

func (f *Fabric) MarkQueued(jobID, queueName string) {
	f.Update(domain.JobStatusUpdate{JobID: jobID, Status: domain.StatusQueued, QueueName: queueName})
}

func (f *Fabric) MarkProcessing(jobID, queueName string) {
	f.Update(domain.JobStatusUpdate{JobID: jobID, Status: domain.StatusProcessing, QueueName: queueName})
}

func (f *Fabric) MarkProgress(jobID, queueName string, progress int, etaMillis *int64) {
	f.Update(domain.JobStatusUpdate{
		JobID: jobID, Status: domain.StatusProgress, QueueName: queueName,
		Progress: &progress, EstimatedTimeRemaining: etaMillis,
	})
}

func (f *Fabric) MarkCompleted(jobID, queueName string) {
	f.Update(domain.JobStatusUpdate{JobID: jobID, Status: domain.StatusCompleted, QueueName: queueName})
}

func (f *Fabric) MarkFailed(jobID, queueName string) {
	f.Update(domain.JobStatusUpdate{JobID: jobID, Status: domain.StatusFailed, QueueName: queueName})
}

// GetStatus returns the latest update for a job id.
func (f *Fabric) GetStatus(jobID string) (domain.JobStatusUpdate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.statuses[jobID]
	return u, ok
}

func (f *Fabric) GetStatistics() Statistics {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := Statistics{
		TotalJobs:   len(f.statuses),
		ByStatus:    make(map[domain.JobStatus]int),
		Subscribers: len(f.subs),
	}
	for _, u := range f.statuses {
		stats.ByStatus[u.Status]++
		if stats.OldestTimestamp == 0 || u.Timestamp < stats.OldestTimestamp {
			stats.OldestTimestamp = u.Timestamp
		}
	}
	return stats
}

// Subscribe binds a handle to a job id.
func (f *Fabric) Subscribe(s Subscriber, jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.subs[s]
	if !ok {
		b = &binding{jobIDs: make(map[string]bool)}
		f.subs[s] = b
	}
	b.jobIDs[jobID] = true
	b.lastSeen = time.Now()
	if f.byJob[jobID] == nil {
		f.byJob[jobID] = make(map[Subscriber]bool)
	}
	f.byJob[jobID][s] = true
}

func (f *Fabric) Unsubscribe(s Subscriber, jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.subs[s]; ok {
		delete(b.jobIDs, jobID)
		b.lastSeen = time.Now()
	}
	if m, ok := f.byJob[jobID]; ok {
		delete(m, s)
		if len(m) == 0 {
			delete(f.byJob, jobID)
		}
	}
}

// Touch refreshes a handle's liveness (pings, stats queries).
func (f *Fabric) Touch(s Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.subs[s]; ok {
		b.lastSeen = time.Now()
	}
}

// Drop removes a handle and every binding it holds.
func (f *Fabric) Drop(s Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropLocked(s)
}

func (f *Fabric) dropLocked(s Subscriber) {
	b, ok := f.subs[s]
	if !ok {
		return
	}
	for jobID := range b.jobIDs {
		if m, ok := f.byJob[jobID]; ok {
			delete(m, s)
			if len(m) == 0 {
				delete(f.byJob, jobID)
			}
		}
	}
	delete(f.subs, s)
}

// StartHousekeeping sweeps every five minutes: status entries older
// than one hour and handles idle longer than five minutes are dropped.
func (f *Fabric) StartHousekeeping() {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-f.stop:
				return
			case <-ticker.C:
				f.sweep()
			}
		}
	}()
}

func (f *Fabric) sweep() {
	cutoff := domain.NowMillis() - statusMaxAge.Milliseconds()
	idleCutoff := time.Now().Add(-handleMaxIdle)

	f.mu.Lock()
	removedStatuses := 0
	for id, u := range f.statuses {
		if u.Timestamp < cutoff {
			delete(f.statuses, id)
			removedStatuses++
		}
	}
	var stale []Subscriber
	for s, b := range f.subs {
		if b.lastSeen.Before(idleCutoff) {
			stale = append(stale, s)
		}
	}
	for _, s := range stale {
		f.dropLocked(s)
	}
	f.mu.Unlock()

	if removedStatuses > 0 || len(stale) > 0 {
		f.log.Debug("Status housekeeping", "statuses_removed", removedStatuses, "handles_dropped", len(stale))
	}
}

func (f *Fabric) Stop() {
	f.once.Do(func() { close(f.stop) })
}
