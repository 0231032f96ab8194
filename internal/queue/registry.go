package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/campusops/edugate/internal/clients/redis"
	"github.com/campusops/edugate/internal/platform/envutil"
	"github.com/campusops/edugate/internal/platform/logger"
)

var (
	ErrQueueExists  = errors.New("queue already exists")
	ErrQueueMissing = errors.New("queue not found")
	ErrDefaultQueue = errors.New("default queue cannot be removed")
)

// Observer receives registry mutations so dependents (the worker pool)
// can reconcile without reaching into the registry.
type Observer interface {
	OnQueueCreated(def Definition)
	OnQueueUpdated(def Definition, concurrencyChanged bool)
	OnQueueRemoved(name string)
}

// ChangeEvent is published on the config channel after every mutation.
type ChangeEvent struct {
	Type      string `json:"type"`
	QueueName string `json:"queueName"`
	Timestamp int64  `json:"timestamp"`
	Origin    string `json:"origin"`
}

// Patch is a partial queue definition update; nil fields are untouched.
type Patch struct {
	Label             *string   `json:"label,omitempty"`
	Priority          *int      `json:"priority,omitempty"`
	TimeoutSeconds    *int      `json:"timeoutSeconds,omitempty"`
	Attempts          *int      `json:"attempts,omitempty"`
	RetryDelayMS      *int      `json:"retryDelayMs,omitempty"`
	Concurrency       *int      `json:"concurrency,omitempty"`
	Workers           *int      `json:"workers,omitempty"`
	URLPatterns       *[]string `json:"urlPatterns,omitempty"`
	ProcessingDelayMS *int      `json:"processingDelayMs,omitempty"`
	KeepCompleted     *int      `json:"keepCompleted,omitempty"`
	KeepFailed        *int      `json:"keepFailed,omitempty"`
	Enabled           *bool     `json:"enabled,omitempty"`
}

// Registry owns the live queue configuration: the in-memory copy is
// authoritative, every mutation persists the full config to the KV
// store and publishes a change event so sibling instances reload.
type Registry struct {
	log     *logger.Logger
	kv      redisclient.KV
	store   Store
	channel string
	key     string

	// origin distinguishes our own change events from siblings'.
	origin string

	mu        sync.RWMutex
	cfg       SystemConfig
	observers []Observer

	cancelSub func()
}

func NewRegistry(log *logger.Logger, kv redisclient.KV, store Store, seed SystemConfig) (*Registry, error) {
	if log == nil || kv == nil || store == nil {
		return nil, fmt.Errorf("logger, kv and store required")
	}
	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}

	r := &Registry{
		log:     log.With("component", "QueueRegistry"),
		kv:      kv,
		store:   store,
		key:     envutil.Str("QUEUE_CONFIG_KEY", DefaultConfigKey),
		channel: envutil.Str("QUEUE_CONFIG_CHANNEL", DefaultConfigChannel),
		origin:  uuid.NewString(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// A previously persisted config wins over the seed.
	if stored, err := r.loadStored(ctx); err == nil && stored != nil {
		r.cfg = *stored
		r.log.Info("Loaded queue config from storage", "queues", len(stored.Queues))
	} else {
		r.cfg = seed
		if err := r.persistLocked(ctx); err != nil {
			r.log.Warn("Persisting seed queue config failed", "error", err)
		}
	}

	for _, def := range r.cfg.Queues {
		if err := store.Ensure(ctx, def.Name); err != nil {
			return nil, fmt.Errorf("ensure queue %s: %w", def.Name, err)
		}
	}
	return r, nil
}

// Subscribe registers an observer for queue mutations.
func (r *Registry) Subscribe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Registry) Store() Store { return r.store }

func (r *Registry) DefaultQueueName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.DefaultQueue
}

func (r *Registry) JobTTL() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ttl := r.cfg.JobTTLSeconds
	if ttl < 60 {
		ttl = 60
	}
	return time.Duration(ttl) * time.Second
}

func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def := r.cfg.Find(name); def != nil {
		return *def, true
	}
	return Definition{}, false
}

func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, len(r.cfg.Queues))
	copy(out, r.cfg.Queues)
	return out
}

func (r *Registry) Config() SystemConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg := r.cfg
	cfg.Queues = make([]Definition, len(r.cfg.Queues))
	copy(cfg.Queues, r.cfg.Queues)
	return cfg
}

func (r *Registry) Create(ctx context.Context, def Definition) error {
	def.Normalize()
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.cfg.Find(def.Name) != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrQueueExists, def.Name)
	}
	if err := r.store.Ensure(ctx, def.Name); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("ensure queue %s: %w", def.Name, err)
	}
	r.cfg.Queues = append(r.cfg.Queues, def)
	if err := r.persistLocked(ctx); err != nil {
		r.log.Error("Persisting queue config failed", "queue", def.Name, "error", err)
	}
	observers := r.snapshotObserversLocked()
	r.mu.Unlock()

	r.publish(ctx, "created", def.Name)
	for _, o := range observers {
		o.OnQueueCreated(def)
	}
	r.log.Info("Queue created", "queue", def.Name, "workers", def.Workers)
	return nil
}

func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	if r.cfg.Find(name) == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrQueueMissing, name)
	}
	if name == r.cfg.DefaultQueue {
		r.mu.Unlock()
		return ErrDefaultQueue
	}
	if err := r.store.Drop(ctx, name); err != nil && !errors.Is(err, ErrUnknownQueue) {
		r.mu.Unlock()
		return fmt.Errorf("drop queue %s: %w", name, err)
	}
	queues := r.cfg.Queues[:0]
	for _, q := range r.cfg.Queues {
		if q.Name != name {
			queues = append(queues, q)
		}
	}
	r.cfg.Queues = queues
	if err := r.persistLocked(ctx); err != nil {
		r.log.Error("Persisting queue config failed", "queue", name, "error", err)
	}
	observers := r.snapshotObserversLocked()
	r.mu.Unlock()

	r.publish(ctx, "removed", name)
	for _, o := range observers {
		o.OnQueueRemoved(name)
	}
	r.log.Info("Queue removed", "queue", name)
	return nil
}

func (r *Registry) Update(ctx context.Context, name string, patch Patch) (Definition, error) {
	r.mu.Lock()
	def := r.cfg.Find(name)
	if def == nil {
		r.mu.Unlock()
		return Definition{}, fmt.Errorf("%w: %s", ErrQueueMissing, name)
	}

	concurrencyChanged := patch.Concurrency != nil && *patch.Concurrency != def.Concurrency
	applyPatch(def, patch)
	def.Normalize()
	if err := def.Validate(); err != nil {
		r.mu.Unlock()
		return Definition{}, err
	}
	updated := *def
	if err := r.persistLocked(ctx); err != nil {
		r.log.Error("Persisting queue config failed", "queue", name, "error", err)
	}
	observers := r.snapshotObserversLocked()
	r.mu.Unlock()

	r.publish(ctx, "updated", name)
	for _, o := range observers {
		o.OnQueueUpdated(updated, concurrencyChanged)
	}
	r.log.Info("Queue updated", "queue", name, "concurrency_changed", concurrencyChanged)
	return updated, nil
}

func (r *Registry) SetWorkers(ctx context.Context, name string, n int) (Definition, error) {
	return r.Update(ctx, name, Patch{Workers: &n})
}

func (r *Registry) SetConcurrency(ctx context.Context, name string, k int) (Definition, error) {
	return r.Update(ctx, name, Patch{Concurrency: &k})
}

func applyPatch(def *Definition, p Patch) {
	if p.Label != nil {
		def.Label = *p.Label
	}
	if p.Priority != nil {
		def.Priority = *p.Priority
	}
	if p.TimeoutSeconds != nil {
		def.TimeoutSeconds = *p.TimeoutSeconds
	}
	if p.Attempts != nil {
		def.Attempts = *p.Attempts
	}
	if p.RetryDelayMS != nil {
		def.RetryDelayMS = *p.RetryDelayMS
	}
	if p.Concurrency != nil {
		def.Concurrency = *p.Concurrency
	}
	if p.Workers != nil {
		def.Workers = *p.Workers
	}
	if p.URLPatterns != nil {
		def.URLPatterns = append([]string(nil), (*p.URLPatterns)...)
	}
	if p.ProcessingDelayMS != nil {
		def.ProcessingDelayMS = *p.ProcessingDelayMS
	}
	if p.KeepCompleted != nil {
		def.KeepCompleted = *p.KeepCompleted
	}
	if p.KeepFailed != nil {
		def.KeepFailed = *p.KeepFailed
	}
	if p.Enabled != nil {
		def.Enabled = *p.Enabled
	}
}

func (r *Registry) snapshotObserversLocked() []Observer {
	return append([]Observer(nil), r.observers...)
}

func (r *Registry) loadStored(ctx context.Context) (*SystemConfig, error) {
	raw, err := r.kv.Get(ctx, r.key)
	if err != nil {
		if errors.Is(err, redisclient.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var cfg SystemConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("decode stored queue config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("stored queue config: %w", err)
	}
	return &cfg, nil
}

func (r *Registry) persistLocked(ctx context.Context) error {
	raw, err := json.Marshal(r.cfg)
	if err != nil {
		return err
	}
	return r.kv.SetEx(ctx, r.key, string(raw), 0)
}

func (r *Registry) publish(ctx context.Context, kind, queueName string) {
	ev := ChangeEvent{
		Type:      kind,
		QueueName: queueName,
		Timestamp: time.Now().UnixMilli(),
		Origin:    r.origin,
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := r.kv.Publish(ctx, r.channel, string(raw)); err != nil {
		r.log.Warn("Publishing config change event failed", "error", err)
	}
}

// StartEventLoop reloads from storage whenever a sibling instance
// publishes a change event. Our own events are skipped by origin.
func (r *Registry) StartEventLoop(ctx context.Context) error {
	msgs, cancel, err := r.kv.Subscribe(ctx, r.channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.cancelSub = cancel

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-msgs:
				if !ok {
					return
				}
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(raw), &ev); err != nil {
					r.log.Warn("Bad config change event", "error", err)
					continue
				}
				if ev.Origin == r.origin {
					continue
				}
				r.reload(ctx, ev)
			}
		}
	}()
	return nil
}

// reload swaps the in-memory config for the stored one and tells
// observers about every queue that appeared, changed or vanished.
func (r *Registry) reload(ctx context.Context, ev ChangeEvent) {
	stored, err := r.loadStored(ctx)
	if err != nil || stored == nil {
		r.log.Warn("Reloading queue config after change event failed", "error", err)
		return
	}

	r.mu.Lock()
	old := r.cfg
	r.cfg = *stored
	observers := r.snapshotObserversLocked()
	r.mu.Unlock()

	oldByName := make(map[string]Definition, len(old.Queues))
	for _, q := range old.Queues {
		oldByName[q.Name] = q
	}
	for _, q := range stored.Queues {
		prev, existed := oldByName[q.Name]
		delete(oldByName, q.Name)
		if !existed {
			_ = r.store.Ensure(ctx, q.Name)
			for _, o := range observers {
				o.OnQueueCreated(q)
			}
			continue
		}
		if reflect.DeepEqual(prev, q) {
			continue
		}
		for _, o := range observers {
			o.OnQueueUpdated(q, prev.Concurrency != q.Concurrency)
		}
	}
	for name := range oldByName {
		for _, o := range observers {
			o.OnQueueRemoved(name)
		}
	}
	r.log.Info("Queue config reloaded from change event", "type", ev.Type, "queue", ev.QueueName)
}

func (r *Registry) Close() {
	if r.cancelSub != nil {
		r.cancelSub()
	}
}
