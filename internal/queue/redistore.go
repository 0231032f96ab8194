package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/campusops/edugate/internal/domain"
	"github.com/campusops/edugate/internal/platform/logger"
)

// RedisStore lays queues out as one waiting zset (score encodes
// priority then arrival order), one delayed zset (score = ready-at
// epoch ms), one active set and one pause flag per queue, plus a
// TTL-bounded JSON payload per job.
type RedisStore struct {
	log *logger.Logger
	rdb *goredis.Client
}

const knownQueuesKey = "queues:known"

// claimScript pops the best waiting job and marks it active in one
// round trip, so two workers can never claim the same job.
var claimScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 1 then
  return false
end
local popped = redis.call('ZPOPMIN', KEYS[1], 1)
if #popped == 0 then
  return false
end
redis.call('SADD', KEYS[2], popped[1])
return popped[1]
`)

func NewRedisStore(log *logger.Logger, rdb *goredis.Client) (*RedisStore, error) {
	if log == nil || rdb == nil {
		return nil, fmt.Errorf("logger and redis client required")
	}
	return &RedisStore{log: log.With("component", "QueueStore"), rdb: rdb}, nil
}

func waitKey(q string) string    { return "queue:" + q + ":wait" }
func delayedKey(q string) string { return "queue:" + q + ":delayed" }
func activeKey(q string) string  { return "queue:" + q + ":active" }
func pausedKey(q string) string  { return "queue:" + q + ":paused" }
func seqKey(q string) string     { return "queue:" + q + ":seq" }
func jobKey(id string) string    { return "job:data:" + id }

// waitScore orders by priority descending, then arrival order. seq
// stays far below 1e12 for any realistic deployment, so the two terms
// never collide.
func waitScore(priority int, seq int64) float64 {
	return float64(-priority)*1e12 + float64(seq)
}

func (s *RedisStore) Ensure(ctx context.Context, name string) error {
	return s.rdb.SAdd(ctx, knownQueuesKey, name).Err()
}

func (s *RedisStore) Drop(ctx context.Context, name string) error {
	removed, err := s.rdb.SRem(ctx, knownQueuesKey, name).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrUnknownQueue
	}
	return s.rdb.Del(ctx, waitKey(name), delayedKey(name), activeKey(name), pausedKey(name), seqKey(name)).Err()
}

func (s *RedisStore) Enqueue(ctx context.Context, queue string, job *domain.Job, opts EnqueueOptions) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	ttl := opts.JobTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := s.rdb.Set(ctx, jobKey(job.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}

	if opts.Delay > 0 {
		readyAt := time.Now().Add(opts.Delay).UnixMilli()
		return s.rdb.ZAdd(ctx, delayedKey(queue), goredis.Z{Score: float64(readyAt), Member: job.ID}).Err()
	}

	seq, err := s.rdb.Incr(ctx, seqKey(queue)).Result()
	if err != nil {
		return err
	}
	return s.rdb.ZAdd(ctx, waitKey(queue), goredis.Z{
		Score:  waitScore(opts.Priority, seq),
		Member: job.ID,
	}).Err()
}

func (s *RedisStore) Dequeue(ctx context.Context, queue, workerID string) (*domain.Job, error) {
	if err := s.promote(ctx, queue); err != nil {
		s.log.Warn("Delayed promotion failed", "queue", queue, "error", err)
	}

	res, err := claimScript.Run(ctx, s.rdb,
		[]string{waitKey(queue), activeKey(queue), pausedKey(queue)},
	).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	jobID, ok := res.(string)
	if !ok || jobID == "" {
		return nil, nil
	}

	job, err := s.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		// Payload expired while waiting; release the claim.
		_ = s.rdb.SRem(ctx, activeKey(queue), jobID).Err()
		return nil, nil
	}
	job.WorkerID = workerID
	return job, nil
}

// promote moves due delayed jobs back onto the waiting zset. Retries
// re-enter at neutral priority so fresh work is not starved behind a
// failing job.
func (s *RedisStore) promote(ctx context.Context, queue string) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := s.rdb.ZRangeByScore(ctx, delayedKey(queue), &goredis.ZRangeBy{
		Min: "-inf", Max: now, Count: 64,
	}).Result()
	if err != nil || len(due) == 0 {
		return err
	}
	for _, id := range due {
		removed, err := s.rdb.ZRem(ctx, delayedKey(queue), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another instance promoted it first
		}
		seq, err := s.rdb.Incr(ctx, seqKey(queue)).Result()
		if err != nil {
			return err
		}
		if err := s.rdb.ZAdd(ctx, waitKey(queue), goredis.Z{
			Score:  waitScore(0, seq),
			Member: id,
		}).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) Ack(ctx context.Context, queue string, job *domain.Job) error {
	return s.rdb.SRem(ctx, activeKey(queue), job.ID).Err()
}

func (s *RedisStore) Fail(ctx context.Context, queue string, job *domain.Job, policy RetryPolicy) (bool, error) {
	if err := s.rdb.SRem(ctx, activeKey(queue), job.ID).Err(); err != nil {
		return false, err
	}
	job.Attempts++
	raw, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	if err := s.rdb.Set(ctx, jobKey(job.ID), raw, goredis.KeepTTL).Err(); err != nil {
		s.log.Warn("Persisting attempt count failed", "job_id", job.ID, "error", err)
	}
	if policy.MaxAttempts > 0 && job.Attempts >= policy.MaxAttempts {
		return true, nil
	}
	readyAt := time.Now().Add(backoffDelay(policy.RetryDelay, job.Attempts)).UnixMilli()
	err = s.rdb.ZAdd(ctx, delayedKey(queue), goredis.Z{Score: float64(readyAt), Member: job.ID}).Err()
	return false, err
}

func (s *RedisStore) Counts(ctx context.Context, queue string) (Counts, error) {
	pipe := s.rdb.Pipeline()
	waiting := pipe.ZCard(ctx, waitKey(queue))
	active := pipe.SCard(ctx, activeKey(queue))
	delayed := pipe.ZCard(ctx, delayedKey(queue))
	paused := pipe.Exists(ctx, pausedKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, err
	}
	c := Counts{
		Active:  active.Val(),
		Delayed: delayed.Val(),
	}
	if paused.Val() > 0 {
		c.Paused = waiting.Val()
	} else {
		c.Waiting = waiting.Val()
	}
	return c, nil
}

func (s *RedisStore) Pause(ctx context.Context, queue string) error {
	return s.rdb.Set(ctx, pausedKey(queue), "1", 0).Err()
}

func (s *RedisStore) Resume(ctx context.Context, queue string) error {
	return s.rdb.Del(ctx, pausedKey(queue)).Err()
}

func (s *RedisStore) Paused(ctx context.Context, queue string) (bool, error) {
	n, err := s.rdb.Exists(ctx, pausedKey(queue)).Result()
	return n > 0, err
}

func (s *RedisStore) Job(ctx context.Context, jobID string) (*domain.Job, error) {
	raw, err := s.rdb.Get(ctx, jobKey(jobID)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &job, nil
}
