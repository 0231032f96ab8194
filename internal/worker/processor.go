package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/campusops/edugate/internal/cache"
	"github.com/campusops/edugate/internal/clients/bus"
	"github.com/campusops/edugate/internal/domain"
	"github.com/campusops/edugate/internal/platform/logger"
	"github.com/campusops/edugate/internal/queue"
	"github.com/campusops/edugate/internal/results"
	"github.com/campusops/edugate/internal/status"
)

// echoSubject is a reserved subject answered locally, for smoke tests
// that must not depend on any downstream service.
const echoSubject = "queue.test"

// Processor runs one dequeued job end to end: cache lookup, bus
// dispatch under the queue timeout, result persistence and status
// updates. The retry decision stays with the worker; Process returns
// the built record and the dispatch error.
type Processor struct {
	log     *logger.Logger
	bus     bus.Bus
	cache   *cache.ResponseCache
	results *results.Repo
	fabric  *status.Fabric
}

func NewProcessor(log *logger.Logger, b bus.Bus, c *cache.ResponseCache, r *results.Repo, f *status.Fabric) *Processor {
	return &Processor{
		log:     log.With("component", "JobProcessor"),
		bus:     b,
		cache:   c,
		results: r,
		fabric:  f,
	}
}

// Process executes the job. On success the completed record is already
// persisted and broadcast. On failure the returned record is built but
// unsaved; the worker persists it only when the failure is terminal.
func (p *Processor) Process(ctx context.Context, job *domain.Job, def queue.Definition) (*domain.JobResultRecord, error) {
	timeout := time.Duration(def.TimeoutSeconds) * time.Second
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}

	p.fabric.MarkProcessing(job.ID, job.QueueName)
	processedAt := domain.NowMillis()

	admits := p.cache.Policy().Admits(job.Verb, job.NormalizedPath)
	key := ""
	var ttl time.Duration
	if admits {
		key = cache.Key(job)
		ttl = p.cache.Policy().TTLFor(job.NormalizedPath)
		if entry := p.cache.Get(key); entry != nil {
			rec := p.buildRecord(job, entry.Value, domain.CacheMeta{Hit: true, Key: key, TTL: int64(ttl.Seconds())})
			rec.ProcessedAt = processedAt
			p.persistCompleted(ctx, job, rec)
			return rec, nil
		}
	}

	started := time.Now()
	result, err := p.dispatch(ctx, job, timeout)
	p.cache.ObserveResponseTime(time.Since(started))

	if err != nil {
		rec := p.buildRecord(job, nil, domain.CacheMeta{Hit: false, Key: key})
		rec.ProcessedAt = processedAt
		rec.Status = domain.StatusFailed
		rec.Success = false
		rec.Error = classify(err, result)
		if rec.Error.StatusCode > 0 {
			rec.StatusCode = rec.Error.StatusCode
		}
		return rec, err
	}

	meta := domain.CacheMeta{Hit: false, Key: key}
	if admits {
		// Fire-and-forget: a cache write failure never fails the job.
		p.cache.Set(key, result, ttl)
		meta.TTL = int64(ttl.Seconds())
	}

	rec := p.buildRecord(job, result, meta)
	rec.ProcessedAt = processedAt
	p.persistCompleted(ctx, job, rec)
	p.publishCompletion(ctx, job, result)
	return rec, nil
}

func (p *Processor) dispatch(ctx context.Context, job *domain.Job, timeout time.Duration) (json.RawMessage, error) {
	if job.Subject == echoSubject {
		echo := map[string]any{
			"success":     true,
			"echo":        json.RawMessage(job.Payload),
			"jobId":       job.ID,
			"processedAt": domain.NowMillis(),
		}
		raw, err := json.Marshal(echo)
		return raw, err
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	data, err := p.bus.Request(dctx, job.Subject, job.Payload)
	if err != nil {
		return nil, err
	}

	// A structured bus-level error is still a failed dispatch.
	if kind, msg, code := busError(data); kind != "" {
		return data, &downstreamError{kind: kind, message: msg, statusCode: code}
	}
	return data, nil
}

func (p *Processor) persistCompleted(ctx context.Context, job *domain.Job, rec *domain.JobResultRecord) {
	if err := p.results.Save(ctx, rec); err != nil {
		// The status update still reaches subscribers; polling may miss
		// the record until the broker state catches up.
		p.log.Error("Result persistence failed", "job_id", job.ID, "error", err)
	}
	p.fabric.MarkCompleted(job.ID, job.QueueName)
}

// publishCompletion emits the completion event subject for listeners
// downstream of the gateway.
func (p *Processor) publishCompletion(ctx context.Context, job *domain.Job, result json.RawMessage) {
	subject := job.Subject + ".completed"
	if err := p.bus.Publish(ctx, subject, result); err != nil {
		p.log.Debug("Completion publish failed", "subject", subject, "error", err)
	}
}

func (p *Processor) buildRecord(job *domain.Job, result json.RawMessage, cacheMeta domain.CacheMeta) *domain.JobResultRecord {
	rec := &domain.JobResultRecord{
		JobID:       job.ID,
		QueueName:   job.QueueName,
		Verb:        job.Verb,
		URL:         job.RawURL,
		Status:      domain.StatusCompleted,
		Success:     true,
		RequestBody: job.Body,
		Query:       job.QueryParams,
		Cache:       cacheMeta,
		Attempts:    job.Attempts,
		FinishedAt:  domain.NowMillis(),
		WorkerID:    job.WorkerID,
		Result:      result,
	}
	if code := resultStatusCode(result); code > 0 {
		rec.StatusCode = code
	} else if result != nil {
		rec.StatusCode = 200
	}
	return rec
}

type downstreamError struct {
	kind       domain.ErrorKind
	message    string
	statusCode int
}

func (e *downstreamError) Error() string {
	return fmt.Sprintf("downstream error (%s): %s", e.kind, e.message)
}

// classify maps a dispatch failure onto the record taxonomy.
func classify(err error, result json.RawMessage) *domain.JobError {
	var de *downstreamError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.JobError{Type: domain.ErrorKindTimeout, Message: "job timed out"}
	case errors.As(err, &de):
		return &domain.JobError{Type: de.kind, Message: de.message, StatusCode: de.statusCode}
	case errors.Is(err, bus.ErrNoResponder):
		return &domain.JobError{Type: domain.ErrorKindException, Message: err.Error()}
	case err != nil:
		if code := resultStatusCode(result); code >= 400 {
			return &domain.JobError{Type: domain.ErrorKindHTTP, Message: err.Error(), StatusCode: code}
		}
		return &domain.JobError{Type: domain.ErrorKindException, Message: err.Error()}
	default:
		return &domain.JobError{Type: domain.ErrorKindUnknown, Message: "unknown failure"}
	}
}

// busError recognizes the peer's structured error shape:
// {"error": {"message": ..., "statusCode": ...}} or a non-2xx
// statusCode at the top level.
func busError(data []byte) (domain.ErrorKind, string, int) {
	var probe struct {
		Error *struct {
			Message    string `json:"message"`
			StatusCode int    `json:"statusCode"`
		} `json:"error"`
		StatusCode int `json:"statusCode"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", "", 0
	}
	if probe.Error != nil {
		kind := domain.ErrorKindException
		if probe.Error.StatusCode > 0 {
			kind = domain.ErrorKindHTTP
		}
		return kind, probe.Error.Message, probe.Error.StatusCode
	}
	if probe.StatusCode >= 400 {
		return domain.ErrorKindHTTP, "downstream returned error status", probe.StatusCode
	}
	return "", "", 0
}

func resultStatusCode(result json.RawMessage) int {
	if len(result) == 0 {
		return 0
	}
	var probe struct {
		StatusCode int `json:"statusCode"`
	}
	if err := json.Unmarshal(result, &probe); err != nil {
		return 0
	}
	return probe.StatusCode
}
