package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNoResponder means no downstream service listens on the subject.
var ErrNoResponder = errors.New("no responder on subject")

// Bus is the message-bus capability the gateway consumes: request-reply
// against hierarchical subjects owned by the domain microservices, and
// fire-and-forget publishes for completion events.
type Bus interface {
	Request(ctx context.Context, subject string, payload []byte) ([]byte, error)
	Publish(ctx context.Context, subject string, payload []byte) error
	Connected() bool
	Close() error
}

// Handler answers one subject on the in-memory bus.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Memory is an in-process Bus for tests and for running the gateway
// without a broker. Subjects register exact or "prefix.*" handlers.
type Memory struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	// published records fire-and-forget publishes for assertions.
	published []PublishedMsg
}

type PublishedMsg struct {
	Subject string
	Payload []byte
}

func NewMemory() *Memory {
	return &Memory{handlers: make(map[string]Handler)}
}

// Handle registers a handler for an exact subject or a "prefix.*"
// pattern that matches any deeper subject.
func (m *Memory) Handle(subject string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[subject] = h
}

func (m *Memory) Request(ctx context.Context, subject string, payload []byte) ([]byte, error) {
	m.mu.RLock()
	h, ok := m.handlers[subject]
	if !ok {
		for pattern, cand := range m.handlers {
			if prefix, found := strings.CutSuffix(pattern, ".*"); found && strings.HasPrefix(subject, prefix+".") {
				h, ok = cand, true
				break
			}
		}
	}
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoResponder, subject)
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := h(ctx, payload)
		done <- result{data, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.data, r.err
	}
}

func (m *Memory) Publish(_ context.Context, subject string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, PublishedMsg{Subject: subject, Payload: payload})
	return nil
}

// Published returns a copy of everything published so far.
func (m *Memory) Published() []PublishedMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedMsg(nil), m.published...)
}

func (m *Memory) Connected() bool { return true }
func (m *Memory) Close() error    { return nil }
