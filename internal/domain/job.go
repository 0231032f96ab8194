package domain

import (
	"encoding/json"
	"time"
)

// Status values a job moves through. Transitions are monotonic by
// timestamp; a stale update never overwrites a newer one.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusProgress   JobStatus = "progress"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// ErrorKind classifies terminal job failures for the result record.
type ErrorKind string

const (
	ErrorKindTimeout   ErrorKind = "timeout"
	ErrorKindHTTP      ErrorKind = "http"
	ErrorKindException ErrorKind = "exception"
	ErrorKindUnknown   ErrorKind = "unknown"
)

// Job is a captured HTTP request frozen as a message with routing
// metadata. Subject and Payload are attached exactly once by the
// interception pipeline, immediately before enqueue; after that the
// identity fields are immutable.
type Job struct {
	ID             string              `json:"id"`
	Verb           string              `json:"verb"`
	NormalizedPath string              `json:"normalizedPath"`
	RawURL         string              `json:"rawUrl"`
	Body           json.RawMessage     `json:"body,omitempty"`
	QueryParams    map[string][]string `json:"queryParams,omitempty"`
	RouteParams    map[string]string   `json:"routeParams,omitempty"`
	Headers        map[string]string   `json:"headers,omitempty"`
	UserID         string              `json:"userId,omitempty"`
	ClientIP       string              `json:"clientIp,omitempty"`
	CreatedAt      int64               `json:"createdAt"`
	Context        map[string]any      `json:"context,omitempty"`

	Subject string          `json:"subject,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	Attempts  int    `json:"attempts"`
	QueueName string `json:"queueName,omitempty"`
	WorkerID  string `json:"workerId,omitempty"`
}

// Query returns the first value for a query key, or "".
func (j *Job) Query(key string) string {
	vals := j.QueryParams[key]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Header returns a header by its lower-cased key, or "".
func (j *Job) Header(name string) string {
	return j.Headers[name]
}

// JobError is the structured error carried by failed result records.
type JobError struct {
	Type       ErrorKind `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"statusCode,omitempty"`
	Stack      string    `json:"stack,omitempty"`
}

// CacheMeta records whether the job was answered from the response cache.
type CacheMeta struct {
	Hit bool   `json:"hit"`
	Key string `json:"key,omitempty"`
	TTL int64  `json:"ttlSeconds,omitempty"`
}

// JobResultRecord is the durable outcome of one admitted job. Persisted
// under job:result:{id} with a TTL and pushed onto the rolling history
// lists.
type JobResultRecord struct {
	JobID       string              `json:"jobId"`
	QueueName   string              `json:"queueName"`
	Verb        string              `json:"verb"`
	URL         string              `json:"url"`
	Status      JobStatus           `json:"status"`
	Success     bool                `json:"success"`
	StatusCode  int                 `json:"statusCode,omitempty"`
	Headers     map[string]string   `json:"headers,omitempty"`
	RequestBody json.RawMessage     `json:"requestBody,omitempty"`
	Query       map[string][]string `json:"query,omitempty"`
	Cache       CacheMeta           `json:"cache"`
	Error       *JobError           `json:"error,omitempty"`
	Attempts    int                 `json:"attempts"`
	ProcessedAt int64               `json:"processedAt,omitempty"`
	FinishedAt  int64               `json:"finishedAt"`
	WorkerID    string              `json:"workerId,omitempty"`
	Result      json.RawMessage     `json:"result,omitempty"`
}

// JobStatusUpdate is the unit of truth in the status fabric and the
// payload fanned out to push subscribers.
type JobStatusUpdate struct {
	JobID                  string    `json:"jobId"`
	Status                 JobStatus `json:"status"`
	Progress               *int      `json:"progress,omitempty"`
	EstimatedTimeRemaining *int64    `json:"estimatedTimeRemaining,omitempty"`
	QueueName              string    `json:"queueName,omitempty"`
	Timestamp              int64     `json:"timestamp"`
}

// NowMillis is the single clock used for job timestamps.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
