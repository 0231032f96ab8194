package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/campusops/edugate/internal/platform/envutil"
	"github.com/campusops/edugate/internal/platform/logger"
	"github.com/campusops/edugate/internal/queue"
	"github.com/campusops/edugate/internal/results"
	"github.com/campusops/edugate/internal/status"
)

// WorkerState is the lifecycle of a single worker.
type WorkerState string

const (
	StateActive  WorkerState = "active"
	StatePaused  WorkerState = "paused"
	StateStopped WorkerState = "stopped"
)

// WorkerStatus is the externally visible shape of one worker.
type WorkerStatus struct {
	ID          string      `json:"id"`
	Queue       string      `json:"queue"`
	State       WorkerState `json:"state"`
	Concurrency int         `json:"concurrency"`
	Processed   int64       `json:"processed"`
	Failed      int64       `json:"failed"`
}

// Worker polls one queue and runs jobs through the processor with the
// queue's configured concurrency.
type Worker struct {
	id          string
	queueName   string
	concurrency int

	pool   *Pool
	cancel context.CancelFunc
	wg     sync.WaitGroup

	paused    atomic.Bool
	stopped   atomic.Bool
	processed atomic.Int64
	failed    atomic.Int64
}

func (w *Worker) status() WorkerStatus {
	state := StateActive
	switch {
	case w.stopped.Load():
		state = StateStopped
	case w.paused.Load():
		state = StatePaused
	}
	return WorkerStatus{
		ID:          w.id,
		Queue:       w.queueName,
		State:       state,
		Concurrency: w.concurrency,
		Processed:   w.processed.Load(),
		Failed:      w.failed.Load(),
	}
}

func (w *Worker) start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.pool.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.paused.Load() {
				continue
			}
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	p := w.pool
	job, err := p.store.Dequeue(ctx, w.queueName, w.id)
	if err != nil {
		p.log.Warn("Dequeue failed", "worker", w.id, "error", err)
		return
	}
	if job == nil {
		return
	}

	def, ok := p.registry.Get(w.queueName)
	if !ok {
		// Queue vanished between claim and lookup; the job stays acked
		// out of a queue that no longer exists.
		p.log.Warn("Queue definition gone, discarding job", "worker", w.id, "job_id", job.ID)
		_ = p.store.Ack(ctx, w.queueName, job)
		return
	}

	if def.ProcessingDelayMS > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(def.ProcessingDelayMS) * time.Millisecond):
		}
	}

	rec, perr := p.processor.Process(ctx, job, def)
	if perr == nil {
		w.processed.Add(1)
		if err := p.store.Ack(ctx, w.queueName, job); err != nil {
			p.log.Warn("Ack failed", "worker", w.id, "job_id", job.ID, "error", err)
		}
		return
	}

	policy := queue.RetryPolicy{
		MaxAttempts: def.Attempts,
		RetryDelay:  time.Duration(def.RetryDelayMS) * time.Millisecond,
	}
	terminal, ferr := p.store.Fail(ctx, w.queueName, job, policy)
	if ferr != nil {
		p.log.Error("Recording job failure failed", "worker", w.id, "job_id", job.ID, "error", ferr)
		terminal = true
	}
	if terminal {
		w.failed.Add(1)
		if err := p.results.Save(ctx, rec); err != nil {
			p.log.Error("Persisting failed result failed", "job_id", job.ID, "error", err)
		}
		p.fabric.MarkFailed(job.ID, w.queueName)
		p.log.Warn("Job failed terminally", "job_id", job.ID, "queue", w.queueName, "attempts", job.Attempts, "error", perr)
		return
	}
	p.fabric.MarkQueued(job.ID, w.queueName)
	p.log.Info("Job rescheduled for retry", "job_id", job.ID, "queue", w.queueName, "attempts", job.Attempts)
}

func (w *Worker) stopAndWait() {
	w.stopped.Store(true)
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Pool owns one worker group per queue and keeps group sizes in step
// with the registry. It implements queue.Observer so registry mutations
// on this or a sibling instance reconcile the groups.
type Pool struct {
	log       *logger.Logger
	registry  *queue.Registry
	store     queue.Store
	processor *Processor
	results   *results.Repo
	fabric    *status.Fabric

	strategy     string
	maxPerQueue  int
	pollInterval time.Duration

	mu      sync.Mutex
	groups  map[string][]*Worker
	nextNum map[string]int

	ctx    context.Context
	cancel context.CancelFunc
}

func NewPool(log *logger.Logger, reg *queue.Registry, proc *Processor, res *results.Repo, fab *status.Fabric) *Pool {
	maxPerQueue := envutil.Int("WORKER_MAX_PER_QUEUE", 10)
	if maxPerQueue < 1 {
		maxPerQueue = 1
	}
	return &Pool{
		log:          log.With("component", "WorkerPool"),
		registry:     reg,
		store:        reg.Store(),
		processor:    proc,
		results:      res,
		fabric:       fab,
		strategy:     envutil.Str("WORKER_STRATEGY", "poll"),
		maxPerQueue:  maxPerQueue,
		pollInterval: envutil.Dur("WORKER_POLL_INTERVAL", time.Second),
		groups:       make(map[string][]*Worker),
		nextNum:      make(map[string]int),
	}
}

// Start spins up the configured workers for every registered queue and
// hooks the pool into registry mutations.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.registry.Subscribe(p)
	for _, def := range p.registry.List() {
		p.ensureWorkers(def)
	}
	p.log.Info("Worker pool started", "strategy", p.strategy, "max_per_queue", p.maxPerQueue)
}

// ensureWorkers grows or shrinks a queue's group to its configured
// worker count, capped by the pool limit.
func (p *Pool) ensureWorkers(def queue.Definition) {
	target := def.Workers
	if target > p.maxPerQueue {
		target = p.maxPerQueue
	}
	if target < 0 {
		target = 0
	}
	if !def.Enabled {
		target = 0
	}

	p.mu.Lock()
	group := p.groups[def.Name]
	var retired []*Worker
	for len(group) > target {
		retired = append(retired, group[len(group)-1])
		group = group[:len(group)-1]
	}
	for len(group) < target {
		group = append(group, p.spawnLocked(def))
	}
	p.groups[def.Name] = group
	p.mu.Unlock()

	for _, w := range retired {
		w.stopAndWait()
		p.log.Info("Worker removed", "worker", w.id)
	}
}

func (p *Pool) spawnLocked(def queue.Definition) *Worker {
	p.nextNum[def.Name]++
	concurrency := def.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	w := &Worker{
		id:          fmt.Sprintf("%s-%s-%d", def.Name, p.strategy, p.nextNum[def.Name]),
		queueName:   def.Name,
		concurrency: concurrency,
		pool:        p,
	}
	w.start(p.ctx)
	p.log.Info("Worker started", "worker", w.id, "concurrency", concurrency)
	return w
}

// AddWorker adds one worker to a queue's group, persisting the new
// count through the registry so siblings follow.
func (p *Pool) AddWorker(ctx context.Context, name string) (WorkerStatus, error) {
	def, ok := p.registry.Get(name)
	if !ok {
		return WorkerStatus{}, fmt.Errorf("%w: %s", queue.ErrQueueMissing, name)
	}
	if p.countFor(name) >= p.maxPerQueue {
		return WorkerStatus{}, fmt.Errorf("queue %s already at worker limit %d", name, p.maxPerQueue)
	}
	if _, err := p.registry.SetWorkers(ctx, name, def.Workers+1); err != nil {
		return WorkerStatus{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	group := p.groups[name]
	if len(group) == 0 {
		return WorkerStatus{}, fmt.Errorf("no worker spawned for %s", name)
	}
	return group[len(group)-1].status(), nil
}

// RemoveWorker retires the most recently added worker of a queue.
func (p *Pool) RemoveWorker(ctx context.Context, name string) error {
	def, ok := p.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", queue.ErrQueueMissing, name)
	}
	if def.Workers <= 0 || p.countFor(name) == 0 {
		return fmt.Errorf("queue %s has no workers to remove", name)
	}
	_, err := p.registry.SetWorkers(ctx, name, def.Workers-1)
	return err
}

func (p *Pool) countFor(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.groups[name])
}

// PauseQueue flips the broker pause flag and idles the local workers.
func (p *Pool) PauseQueue(ctx context.Context, name string) error {
	if _, ok := p.registry.Get(name); !ok {
		return fmt.Errorf("%w: %s", queue.ErrQueueMissing, name)
	}
	if err := p.store.Pause(ctx, name); err != nil {
		return err
	}
	p.setPaused(name, true)
	p.log.Info("Queue paused", "queue", name)
	return nil
}

func (p *Pool) ResumeQueue(ctx context.Context, name string) error {
	if _, ok := p.registry.Get(name); !ok {
		return fmt.Errorf("%w: %s", queue.ErrQueueMissing, name)
	}
	if err := p.store.Resume(ctx, name); err != nil {
		return err
	}
	p.setPaused(name, false)
	p.log.Info("Queue resumed", "queue", name)
	return nil
}

func (p *Pool) PauseAll(ctx context.Context) error {
	var firstErr error
	for _, def := range p.registry.List() {
		if err := p.PauseQueue(ctx, def.Name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Pool) ResumeAll(ctx context.Context) error {
	var firstErr error
	for _, def := range p.registry.List() {
		if err := p.ResumeQueue(ctx, def.Name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Pool) setPaused(name string, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.groups[name] {
		w.paused.Store(paused)
	}
}

// Status reports every worker grouped by queue, in stable order.
func (p *Pool) Status() map[string][]WorkerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string][]WorkerStatus, len(p.groups))
	names := make([]string, 0, len(p.groups))
	for name := range p.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		statuses := make([]WorkerStatus, 0, len(p.groups[name]))
		for _, w := range p.groups[name] {
			statuses = append(statuses, w.status())
		}
		out[name] = statuses
	}
	return out
}

// OnQueueCreated implements queue.Observer.
func (p *Pool) OnQueueCreated(def queue.Definition) {
	p.ensureWorkers(def)
}

// OnQueueUpdated implements queue.Observer. A concurrency change
// cannot be applied to running workers, so the group is torn down and
// rebuilt; other changes just resize the group.
func (p *Pool) OnQueueUpdated(def queue.Definition, concurrencyChanged bool) {
	if concurrencyChanged {
		p.teardown(def.Name)
	}
	p.ensureWorkers(def)
}

// OnQueueRemoved implements queue.Observer.
func (p *Pool) OnQueueRemoved(name string) {
	p.teardown(name)
	p.mu.Lock()
	delete(p.nextNum, name)
	p.mu.Unlock()
}

func (p *Pool) teardown(name string) {
	p.mu.Lock()
	group := p.groups[name]
	delete(p.groups, name)
	p.mu.Unlock()
	for _, w := range group {
		w.stopAndWait()
	}
}

// Close stops every worker and waits for in-flight jobs.
func (p *Pool) Close() {
	p.mu.Lock()
	var all []*Worker
	for name, group := range p.groups {
		all = append(all, group...)
		delete(p.groups, name)
	}
	p.mu.Unlock()
	for _, w := range all {
		w.stopAndWait()
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.log.Info("Worker pool stopped")
}
