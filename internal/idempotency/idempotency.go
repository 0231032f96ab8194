package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/campusops/edugate/internal/platform/logger"
)

// Outcome is the result of an idempotent execution. IsNew is true for
// the caller whose invocation actually ran.
type Outcome struct {
	Payload json.RawMessage `json:"payload"`
	IsNew   bool            `json:"isNew"`
}

// Service guarantees at-most-one concurrent execution per key and
// serves completed results without re-execution for the retention
// window. Process-local today; the interface leaves room for a
// KV-backed implementation across instances.
type Service interface {
	Execute(ctx context.Context, key string, fn func(context.Context) (json.RawMessage, error)) (Outcome, error)
	Stop()
}

const defaultRetention = time.Hour

type entry struct {
	done    chan struct{}
	payload json.RawMessage
	err     error
	expires time.Time
}

type memoryService struct {
	log       *logger.Logger
	retention time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	stop chan struct{}
	once sync.Once
}

func NewMemory(log *logger.Logger) Service {
	s := &memoryService{
		log:       log.With("component", "Idempotency"),
		retention: defaultRetention,
		entries:   make(map[string]*entry),
		stop:      make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *memoryService) Execute(ctx context.Context, key string, fn func(context.Context) (json.RawMessage, error)) (Outcome, error) {
	s.mu.Lock()
	e, exists := s.entries[key]
	if exists && !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(s.entries, key)
		exists = false
	}
	if !exists {
		e = &entry{done: make(chan struct{})}
		s.entries[key] = e
		s.mu.Unlock()

		payload, err := fn(ctx)
		s.mu.Lock()
		e.payload, e.err = payload, err
		if err != nil {
			// Failed executions do not poison the key; the next caller
			// retries.
			delete(s.entries, key)
		} else {
			e.expires = time.Now().Add(s.retention)
		}
		close(e.done)
		s.mu.Unlock()
		return Outcome{Payload: payload, IsNew: true}, err
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-e.done:
	}
	return Outcome{Payload: e.payload, IsNew: false}, e.err
}

func (s *memoryService) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for k, e := range s.entries {
				select {
				case <-e.done:
					if !e.expires.IsZero() && now.After(e.expires) {
						delete(s.entries, k)
					}
				default:
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *memoryService) Stop() {
	s.once.Do(func() { close(s.stop) })
}
