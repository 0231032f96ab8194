package cache

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/projectdiscovery/gcache"

	"github.com/campusops/edugate/internal/platform/logger"
)

// Entry is one cached response with its bookkeeping.
type Entry struct {
	Value        json.RawMessage `json:"value"`
	ExpiresAt    int64           `json:"expiresAt"`
	CreatedAt    int64           `json:"createdAt"`
	LastAccessed int64           `json:"lastAccessed"`
	AccessCount  int64           `json:"accessCount"`
	Size         int64           `json:"size"`
}

// Metrics is the cache's observable state.
type Metrics struct {
	Hits            int64   `json:"hits"`
	Misses          int64   `json:"misses"`
	HitRate         float64 `json:"hitRate"`
	Size            int     `json:"size"`
	MaxSize         int     `json:"maxSize"`
	MemoryUsage     int64   `json:"memoryUsageBytes"`
	AvgResponseTime float64 `json:"avgResponseTimeMs"`
	TotalOperations int64   `json:"totalOperations"`
	Evictions       int64   `json:"evictions"`
	LastCleanup     int64   `json:"lastCleanup,omitempty"`
}

// sensitiveFields never reach the cache; they are stripped from stored
// objects at every nesting level.
var sensitiveFields = map[string]bool{
	"token":    true,
	"password": true,
	"jwt":      true,
}

// ResponseCache is a single-process LRU with per-entry TTL over a
// gcache core. Read and write failures never fail the caller's job.
type ResponseCache struct {
	log     *logger.Logger
	policy  Policy
	maxSize int

	lru gcache.Cache[string, *Entry]

	mu          sync.Mutex
	hits        int64
	misses      int64
	evictions   int64
	memoryUsage int64
	lastCleanup int64

	// bounded sliding window of observed response times
	respTimes []float64

	stop chan struct{}
	once sync.Once
}

const respTimeWindow = 256

func New(log *logger.Logger, policy Policy, maxSize int) *ResponseCache {
	if maxSize < 1 {
		maxSize = 1000
	}
	c := &ResponseCache{
		log:     log.With("component", "ResponseCache"),
		policy:  policy,
		maxSize: maxSize,
		stop:    make(chan struct{}),
	}
	c.lru = gcache.New[string, *Entry](maxSize).
		LRU().
		EvictedFunc(func(_ string, e *Entry) {
			c.mu.Lock()
			c.evictions++
			if e != nil {
				c.memoryUsage -= e.Size
			}
			c.mu.Unlock()
		}).
		Build()
	return c
}

func (c *ResponseCache) Policy() Policy { return c.policy }

// Get returns a live entry or nil. Access time and count update on
// every hit.
func (c *ResponseCache) Get(key string) *Entry {
	e, err := c.lru.GetIFPresent(key)
	now := time.Now().UnixMilli()
	if err != nil || e == nil || e.ExpiresAt <= now {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil
	}
	c.mu.Lock()
	c.hits++
	e.LastAccessed = now
	e.AccessCount++
	c.mu.Unlock()
	return e
}

// Set stores a value with the given TTL, stripping sensitive fields
// and stamping the stored object as cached. Failures are logged and
// swallowed.
func (c *ResponseCache) Set(key string, value json.RawMessage, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := time.Now().UnixMilli()
	stored := redactAndStamp(value, now)
	e := &Entry{
		Value:        stored,
		ExpiresAt:    now + ttl.Milliseconds(),
		CreatedAt:    now,
		LastAccessed: now,
		Size:         int64(len(stored)),
	}
	if err := c.lru.SetWithExpire(key, e, ttl); err != nil {
		c.log.Warn("Cache write failed", "key", key, "error", err)
		return
	}
	c.mu.Lock()
	c.memoryUsage += e.Size
	c.mu.Unlock()
}

// ObserveResponseTime feeds the bounded average-response-time window.
func (c *ResponseCache) ObserveResponseTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.respTimes = append(c.respTimes, float64(d.Milliseconds()))
	if len(c.respTimes) > respTimeWindow {
		c.respTimes = c.respTimes[len(c.respTimes)-respTimeWindow:]
	}
}

// StartCleanup runs the periodic expiry sweep until Stop.
func (c *ResponseCache) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.Cleanup()
			}
		}
	}()
}

// Cleanup drops expired entries and stamps the pass. Expiry is judged
// on the entry's own clock; lookups would hide entries the core has
// already written off, so the sweep walks the raw contents.
func (c *ResponseCache) Cleanup() int {
	now := time.Now().UnixMilli()
	removed := 0
	for key, e := range c.lru.GetALL(false) {
		if e == nil || e.ExpiresAt > now {
			continue
		}
		// Remove routes through the eviction hook, which keeps the
		// eviction counter and memory accounting straight.
		c.lru.Remove(key)
		removed++
	}
	c.mu.Lock()
	c.lastCleanup = now
	c.mu.Unlock()
	if removed > 0 {
		c.log.Debug("Cache cleanup pass", "removed", removed)
	}
	return removed
}

// Clear empties the cache without touching hit/miss counters.
func (c *ResponseCache) Clear() {
	c.lru.Purge()
	c.mu.Lock()
	c.memoryUsage = 0
	c.mu.Unlock()
}

// Reset empties the cache and zeroes every counter.
func (c *ResponseCache) Reset() {
	c.lru.Purge()
	c.mu.Lock()
	c.hits, c.misses, c.evictions, c.memoryUsage, c.lastCleanup = 0, 0, 0, 0, 0
	c.respTimes = nil
	c.mu.Unlock()
}

func (c *ResponseCache) Stop() {
	c.once.Do(func() { close(c.stop) })
}

func (c *ResponseCache) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := Metrics{
		Hits:            c.hits,
		Misses:          c.misses,
		Size:            c.lru.Len(false),
		MaxSize:         c.maxSize,
		MemoryUsage:     c.memoryUsage,
		TotalOperations: c.hits + c.misses,
		Evictions:       c.evictions,
		LastCleanup:     c.lastCleanup,
	}
	if m.TotalOperations > 0 {
		m.HitRate = float64(m.Hits) / float64(m.TotalOperations)
	}
	if n := len(c.respTimes); n > 0 {
		var sum float64
		for _, v := range c.respTimes {
			sum += v
		}
		m.AvgResponseTime = sum / float64(n)
	}
	if m.MemoryUsage < 0 {
		m.MemoryUsage = 0
	}
	return m
}

// redactAndStamp strips sensitive fields recursively and adds the
// _cache marker. A payload that is not a JSON object passes through
// untouched.
func redactAndStamp(raw json.RawMessage, now int64) json.RawMessage {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	redactMap(obj)
	obj["_cache"] = map[string]any{"cached": true, "timestamp": now}
	out, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return out
}

func redactMap(m map[string]any) {
	for k, v := range m {
		if sensitiveFields[strings.ToLower(k)] {
			delete(m, k)
			continue
		}
		switch child := v.(type) {
		case map[string]any:
			redactMap(child)
		case []any:
			for _, item := range child {
				if cm, ok := item.(map[string]any); ok {
					redactMap(cm)
				}
			}
		}
	}
}
