package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisclient "github.com/campusops/edugate/internal/clients/redis"
	"github.com/campusops/edugate/internal/domain"
	"github.com/campusops/edugate/internal/platform/envutil"
	"github.com/campusops/edugate/internal/platform/logger"
)

const (
	resultKeyPrefix     = "job:result:"
	historyCompletedKey = "jobs:history:completed"
	historyFailedKey    = "jobs:history:failed"
)

// Repo persists one JobResultRecord per admitted job under a bounded
// TTL, plus rolling newest-first history lists trimmed to a cap.
type Repo struct {
	log          *logger.Logger
	kv           redisclient.KV
	resultTTL    time.Duration
	historyLimit int64
}

func NewRepo(log *logger.Logger, kv redisclient.KV) *Repo {
	ttlSeconds := envutil.Int("QUEUE_RESULT_TTL", 86400)
	if ttlSeconds < 60 {
		ttlSeconds = 60
	}
	limit := envutil.Int("QUEUE_RESULT_HISTORY_LIMIT", 100)
	if limit < 1 {
		limit = 1
	}
	return &Repo{
		log:          log.With("component", "ResultRepo"),
		kv:           kv,
		resultTTL:    time.Duration(ttlSeconds) * time.Second,
		historyLimit: int64(limit),
	}
}

// Save writes the per-job record and appends it to the matching
// history list. List append failure is logged, not surfaced; the
// per-job record is the durable contract.
func (r *Repo) Save(ctx context.Context, rec *domain.JobResultRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", rec.JobID, err)
	}
	if err := r.kv.SetEx(ctx, resultKeyPrefix+rec.JobID, string(raw), r.resultTTL); err != nil {
		return fmt.Errorf("persist result %s: %w", rec.JobID, err)
	}

	key := historyCompletedKey
	if rec.Status == domain.StatusFailed {
		key = historyFailedKey
	}
	if err := r.kv.LPush(ctx, key, string(raw)); err != nil {
		r.log.Error("History push failed", "job_id", rec.JobID, "error", err)
		return nil
	}
	if err := r.kv.LTrim(ctx, key, 0, r.historyLimit-1); err != nil {
		r.log.Error("History trim failed", "job_id", rec.JobID, "error", err)
	}
	return nil
}

// Get returns the persisted record for a job, or nil when expired or
// never written.
func (r *Repo) Get(ctx context.Context, jobID string) (*domain.JobResultRecord, error) {
	raw, err := r.kv.Get(ctx, resultKeyPrefix+jobID)
	if err != nil {
		if errors.Is(err, redisclient.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var rec domain.JobResultRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", jobID, err)
	}
	return &rec, nil
}

// History lists the newest-first records, optionally filtered by queue
// name. limit is assumed pre-clamped by the caller.
func (r *Repo) History(ctx context.Context, failed bool, limit int64, queueName string) ([]domain.JobResultRecord, error) {
	key := historyCompletedKey
	if failed {
		key = historyFailedKey
	}
	// Over-read when filtering so the queue filter still fills the page.
	stop := limit - 1
	if queueName != "" {
		stop = r.historyLimit - 1
	}
	raws, err := r.kv.LRange(ctx, key, 0, stop)
	if err != nil {
		return nil, err
	}
	out := make([]domain.JobResultRecord, 0, limit)
	for _, raw := range raws {
		var rec domain.JobResultRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			r.log.Warn("Skipping undecodable history record", "error", err)
			continue
		}
		if queueName != "" && rec.QueueName != queueName {
			continue
		}
		out = append(out, rec)
		if int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

// HistoryLen reports the current length of a history list.
func (r *Repo) HistoryLen(ctx context.Context, failed bool) (int64, error) {
	key := historyCompletedKey
	if failed {
		key = historyFailedKey
	}
	return r.kv.LLen(ctx, key)
}
