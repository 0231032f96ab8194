package queue

import (
	"context"
	"math"

	"github.com/campusops/edugate/internal/platform/logger"
	"github.com/campusops/edugate/internal/platform/urlx"
)

// Router picks the queue for a URL: among enabled definitions whose
// patterns match, the one with the lowest live load wins; ties break on
// higher priority, then on declaration order. Pattern overlap is a
// load-balancing knob, not a conflict.
type Router struct {
	log      *logger.Logger
	registry *Registry
}

func NewRouter(log *logger.Logger, registry *Registry) *Router {
	return &Router{
		log:      log.With("component", "QueueRouter"),
		registry: registry,
	}
}

type candidate struct {
	name     string
	priority int
	load     int64
	order    int
}

// ChooseQueue resolves a URL to a queue name. Always returns a name;
// the default queue absorbs anything unmatched.
func (r *Router) ChooseQueue(ctx context.Context, url string) string {
	path := urlx.NormalizePath(url)
	defs := r.registry.List()

	var matches []candidate
	for i, def := range defs {
		if !def.Enabled {
			continue
		}
		for _, pattern := range def.URLPatterns {
			if urlx.MatchPattern(pattern, path) {
				matches = append(matches, candidate{
					name:     def.Name,
					priority: def.Priority,
					load:     r.loadOf(ctx, def.Name),
					order:    i,
				})
				break
			}
		}
	}

	switch len(matches) {
	case 0:
		return r.registry.DefaultQueueName()
	case 1:
		return matches[0].name
	}

	best := matches[0]
	for _, c := range matches[1:] {
		if c.load < best.load ||
			(c.load == best.load && c.priority > best.priority) {
			best = c
		}
	}
	return best.name
}

// loadOf reads the live counts; a failing queue reports infinite load
// so it never steals traffic.
func (r *Router) loadOf(ctx context.Context, name string) int64 {
	counts, err := r.registry.Store().Counts(ctx, name)
	if err != nil {
		r.log.Warn("Queue load lookup failed", "queue", name, "error", err)
		return math.MaxInt64
	}
	return counts.Load()
}
