package intercept

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/campusops/edugate/internal/clients/bus"
	"github.com/campusops/edugate/internal/domain"
	"github.com/campusops/edugate/internal/http/middleware"
	"github.com/campusops/edugate/internal/http/response"
	"github.com/campusops/edugate/internal/idempotency"
	"github.com/campusops/edugate/internal/platform/envutil"
	"github.com/campusops/edugate/internal/platform/logger"
	"github.com/campusops/edugate/internal/platform/urlx"
	"github.com/campusops/edugate/internal/queue"
	"github.com/campusops/edugate/internal/routing"
	"github.com/campusops/edugate/internal/status"
)

// internalHeader marks gateway-internal traffic; it is stripped before
// a request is frozen into a job so replays cannot spoof it.
const internalHeader = "x-internal-request"

const idempotencyHeader = "x-idempotency-key"

// Accepted is the 202 envelope returned for every intercepted request.
type Accepted struct {
	JobID          string        `json:"jobId"`
	Status         string        `json:"status"`
	QueueType      string        `json:"queueType"`
	CheckStatusURL string        `json:"checkStatusUrl"`
	EstimatedTime  int64         `json:"estimatedTime"`
	Metadata       AcceptedMeta  `json:"metadata"`
	Idempotency    *AcceptedIdem `json:"idempotency,omitempty"`
	Timestamp      int64         `json:"timestamp"`
}

type AcceptedMeta struct {
	Priority       int `json:"priority"`
	TimeoutSeconds int `json:"timeout"`
	RetryCount     int `json:"retryCount"`
}

// AcceptedIdem tells the caller whether its submission created the job
// or joined an earlier one under the same idempotency key.
type AcceptedIdem struct {
	Key   string `json:"key"`
	IsNew bool   `json:"isNew"`
}

// Pipeline is the gin middleware that converts inbound requests into
// queued jobs. It can be disabled at runtime, in which case requests
// are dispatched synchronously over the bus instead of being queued.
type Pipeline struct {
	log      *logger.Logger
	table    *routing.Table
	router   *queue.Router
	registry *queue.Registry
	store    queue.Store
	bus      bus.Bus
	fabric   *status.Fabric
	idem     idempotency.Service

	enabled atomic.Bool

	mu         sync.RWMutex
	exclusions map[string]bool
}

func NewPipeline(
	log *logger.Logger,
	table *routing.Table,
	router *queue.Router,
	registry *queue.Registry,
	b bus.Bus,
	fabric *status.Fabric,
	idem idempotency.Service,
) *Pipeline {
	p := &Pipeline{
		log:        log.With("component", "InterceptPipeline"),
		table:      table,
		router:     router,
		registry:   registry,
		store:      registry.Store(),
		bus:        b,
		fabric:     fabric,
		idem:       idem,
		exclusions: make(map[string]bool),
	}
	p.enabled.Store(envutil.Bool("QUEUE_ENABLED", true) && envutil.Bool("QUEUE_SYSTEM_ENABLED", true))
	for _, prefix := range defaultExclusions() {
		p.exclusions[prefix] = true
	}
	for _, prefix := range envutil.List("QUEUE_EXCLUSIONS") {
		if norm := urlx.NormalizePath(prefix); norm != "/" {
			p.exclusions[norm] = true
		}
	}
	return p
}

// defaultExclusions keeps the gateway's own surfaces out of the queue.
func defaultExclusions() []string {
	return []string{
		"/queues",
		"/queue-control",
		"/admin",
		"/health",
		"/healthcheck",
		"/metrics",
		"/ws",
		"/jobs",
	}
}

func (p *Pipeline) Enabled() bool { return p.enabled.Load() }

func (p *Pipeline) SetEnabled(v bool) {
	p.enabled.Store(v)
	p.log.Info("Queue interception toggled", "enabled", v)
}

// Toggle flips the interception switch and returns the new state.
func (p *Pipeline) Toggle() bool {
	for {
		cur := p.enabled.Load()
		if p.enabled.CompareAndSwap(cur, !cur) {
			p.log.Info("Queue interception toggled", "enabled", !cur)
			return !cur
		}
	}
}

func (p *Pipeline) Exclusions() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.exclusions))
	for prefix := range p.exclusions {
		out = append(out, prefix)
	}
	sort.Strings(out)
	return out
}

func (p *Pipeline) AddExclusion(prefix string) {
	norm := urlx.NormalizePath(prefix)
	if norm == "/" {
		return
	}
	p.mu.Lock()
	p.exclusions[norm] = true
	p.mu.Unlock()
}

func (p *Pipeline) RemoveExclusion(prefix string) bool {
	norm := urlx.NormalizePath(prefix)
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.exclusions[norm] {
		return false
	}
	delete(p.exclusions, norm)
	return true
}

func (p *Pipeline) excluded(path string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for prefix := range p.exclusions {
		if urlx.HasPrefixSegment(path, prefix) {
			return true
		}
	}
	return false
}

// Middleware intercepts routable requests and answers 202 with a job
// handle. Requests with no routing rule fall through to local handlers.
func (p *Pipeline) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := urlx.NormalizePath(c.Request.URL.Path)
		if p.excluded(path) {
			c.Next()
			return
		}

		job, err := p.buildJob(c, path)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "bad_request", err)
			c.Abort()
			return
		}

		res, err := p.table.Resolve(job)
		if err != nil {
			// A resolution miss, incomplete or not, means "no async
			// routing": the request passes through untouched.
			var missing *routing.MissingFieldError
			switch {
			case errors.Is(err, routing.ErrNoRoute):
				c.Next()
			case errors.As(err, &missing):
				p.log.Info("Routing resolution incomplete, passing through",
					"path", path, "verb", job.Verb, "error", err)
				c.Next()
			default:
				response.RespondError(c, http.StatusInternalServerError, "routing_failed", err)
				c.Abort()
			}
			return
		}
		job.Subject = res.Subject
		job.Payload = res.Payload

		if !p.enabled.Load() {
			p.dispatchSync(c, job)
			return
		}

		if key := job.Header(idempotencyHeader); key != "" && p.idem != nil {
			p.admitIdempotent(c, job, key)
			return
		}
		p.admit(c, job)
	}
}

// admitIdempotent makes duplicate submissions under one key share a
// single job; latecomers get the original 202 envelope back.
func (p *Pipeline) admitIdempotent(c *gin.Context, job *domain.Job, key string) {
	outcome, err := p.idem.Execute(c.Request.Context(), key, func(ctx context.Context) (json.RawMessage, error) {
		accepted, err := p.enqueue(ctx, job)
		if err != nil {
			return nil, err
		}
		return json.Marshal(accepted)
	})
	if err != nil {
		p.dispatchSync(c, job)
		return
	}
	var accepted Accepted
	if err := json.Unmarshal(outcome.Payload, &accepted); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "idempotency_decode", err)
		c.Abort()
		return
	}
	// The stored envelope is shared; the idempotency block is per caller.
	accepted.Idempotency = &AcceptedIdem{Key: key, IsNew: outcome.IsNew}
	response.RespondAccepted(c, accepted)
	c.Abort()
}

func (p *Pipeline) admit(c *gin.Context, job *domain.Job) {
	accepted, err := p.enqueue(c.Request.Context(), job)
	if err != nil {
		p.log.Warn("Enqueue failed, dispatching synchronously", "job_id", job.ID, "error", err)
		p.dispatchSync(c, job)
		return
	}
	response.RespondAccepted(c, accepted)
	c.Abort()
}

func (p *Pipeline) enqueue(ctx context.Context, job *domain.Job) (*Accepted, error) {
	queueName := p.router.ChooseQueue(ctx, job.NormalizedPath)
	def, ok := p.registry.Get(queueName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrQueueMissing, queueName)
	}
	job.QueueName = queueName

	opts := queue.EnqueueOptions{
		Priority: def.Priority,
		JobTTL:   p.registry.JobTTL(),
	}
	if err := p.store.Enqueue(ctx, queueName, job, opts); err != nil {
		return nil, err
	}
	p.fabric.MarkQueued(job.ID, queueName)

	counts, err := p.store.Counts(ctx, queueName)
	if err != nil {
		counts = queue.Counts{}
	}
	p.log.Info("Request queued",
		"job_id", job.ID, "queue", queueName, "verb", job.Verb, "path", job.NormalizedPath)

	return &Accepted{
		JobID:          job.ID,
		Status:         string(domain.StatusQueued),
		QueueType:      queueName,
		CheckStatusURL: fmt.Sprintf("/queues/job/%s/status", job.ID),
		EstimatedTime:  estimateMillis(counts, def),
		Metadata: AcceptedMeta{
			Priority:       def.Priority,
			TimeoutSeconds: def.TimeoutSeconds,
			RetryCount:     0,
		},
		Timestamp: domain.NowMillis(),
	}, nil
}

// dispatchSync is the fail-open path: the request still reaches its
// downstream service over the bus, just without queueing.
func (p *Pipeline) dispatchSync(c *gin.Context, job *domain.Job) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), envutil.Dur("QUEUE_SYNC_TIMEOUT", 30*time.Second))
	defer cancel()

	data, err := p.bus.Request(ctx, job.Subject, job.Payload)
	if err != nil {
		if errors.Is(err, bus.ErrNoResponder) {
			response.RespondError(c, http.StatusServiceUnavailable, "no_responder", err)
		} else if errors.Is(err, context.DeadlineExceeded) {
			response.RespondError(c, http.StatusGatewayTimeout, "upstream_timeout", err)
		} else {
			response.RespondError(c, http.StatusBadGateway, "upstream_failed", err)
		}
		c.Abort()
		return
	}
	c.Data(http.StatusOK, "application/json", data)
	c.Abort()
}

// estimateMillis is a rough wait estimate: jobs ahead of this one times
// the queue's per-job pacing, floored at half a second per job.
func estimateMillis(counts queue.Counts, def queue.Definition) int64 {
	perJob := int64(def.ProcessingDelayMS)
	if perJob < 500 {
		perJob = 500
	}
	ahead := counts.Waiting + counts.Delayed
	if ahead < 1 {
		ahead = 1
	}
	workers := int64(def.Workers * def.Concurrency)
	if workers < 1 {
		workers = 1
	}
	return (ahead*perJob + workers - 1) / workers
}

func (p *Pipeline) buildJob(c *gin.Context, path string) (*domain.Job, error) {
	job := &domain.Job{
		ID:             newJobID(),
		Verb:           strings.ToUpper(c.Request.Method),
		NormalizedPath: path,
		RawURL:         c.Request.URL.RequestURI(),
		QueryParams:    c.Request.URL.Query(),
		Headers:        flattenHeaders(c.Request.Header),
		ClientIP:       c.ClientIP(),
		CreatedAt:      domain.NowMillis(),
	}

	if writeVerb(job.Verb) && c.Request.Body != nil {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		if len(raw) > 0 {
			if !json.Valid(raw) {
				return nil, fmt.Errorf("request body is not valid JSON")
			}
			job.Body = raw
		}
	}

	attachAuth(c, job)
	return job, nil
}

// writeVerb reports whether the request body is captured. Read verbs
// (GET, DELETE) omit it.
func writeVerb(verb string) bool {
	switch verb {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// flattenHeaders lower-cases keys, joins multi-values and strips the
// internal marker.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, vals := range h {
		key := strings.ToLower(name)
		if key == internalHeader {
			continue
		}
		out[key] = strings.Join(vals, ", ")
	}
	return out
}

// attachAuth captures the caller's identity. The auth middleware runs
// first in the chain; when it populated the request context, that is
// the source of truth. Otherwise the bearer token is decoded without
// verification; the downstream service owns validation. Best effort: a
// malformed token just leaves the job anonymous.
func attachAuth(c *gin.Context, job *domain.Job) {
	if v, ok := c.Get(middleware.UserIDKey); ok {
		if id, ok := v.(string); ok && id != "" {
			job.UserID = id
		}
	}
	if v, ok := c.Get(middleware.ClaimsKey); ok {
		if claims, ok := v.(map[string]any); ok {
			if job.Context == nil {
				job.Context = make(map[string]any, 1)
			}
			job.Context["auth"] = claims
		}
	}
	if job.UserID != "" {
		return
	}

	auth := job.Header("authorization")
	if auth == "" {
		return
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(parts[1]), claims); err != nil {
		return
	}
	for _, field := range []string{"sub", "userId", "id"} {
		if v, ok := claims[field].(string); ok && v != "" {
			job.UserID = v
			break
		}
	}
	if job.Context == nil {
		job.Context = make(map[string]any, 1)
	}
	job.Context["auth"] = map[string]any(claims)
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// newJobID yields a sortable timestamp prefix plus a random suffix:
// yyyymmddHHMMSS + 6 base36 chars.
func newJobID() string {
	var b strings.Builder
	b.WriteString(time.Now().Format("20060102150405"))
	for i := 0; i < 6; i++ {
		b.WriteByte(base36[rand.Intn(len(base36))])
	}
	return b.String()
}
