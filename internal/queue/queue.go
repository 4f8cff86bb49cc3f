package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultPopTimeout = 5 * time.Second
	moverInterval     = time.Second
	moverBatch        = 100

	retryInitialDelay = 10 * time.Second
	retryMaxDelay     = 5 * time.Minute
)

// Queue is a Redis-backed priority queue: one list per band, a sorted set
// for delayed retries, and a dead list for jobs that exhausted their
// attempts. Jobs survive process crashes.
type Queue struct {
	rdb         *redis.Client
	prefix      string
	maxAttempts int
	popTimeout  time.Duration
	log         zerolog.Logger
}

// New builds a queue over an existing Redis client.
func New(rdb *redis.Client, prefix string, maxAttempts int, log zerolog.Logger) *Queue {
	if prefix == "" {
		prefix = "caminando"
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Queue{
		rdb:         rdb,
		prefix:      prefix,
		maxAttempts: maxAttempts,
		popTimeout:  defaultPopTimeout,
		log:         log.With().Str("component", "queue").Logger(),
	}
}

func (q *Queue) bandKey(b Band) string { return q.prefix + ":q:" + b.String() }
func (q *Queue) retryKey() string      { return q.prefix + ":retry" }
func (q *Queue) deadKey() string       { return q.prefix + ":dead" }

// Enqueue pushes a job onto its band's list.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.bandKey(job.Band()), raw).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Action, err)
	}
	q.log.Debug().
		Str("job_id", job.ID).
		Str("store", string(job.Store)).
		Str("action", string(job.Action)).
		Str("band", job.Band().String()).
		Msg("job enqueued")
	return nil
}

// Dequeue blocks up to a few seconds for the next job, draining the
// discovery band before the extraction band (BRPOP honors key order).
// Returns (nil, nil) when nothing is ready.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	res, err := q.rdb.BRPop(ctx, q.popTimeout, q.bandKey(BandDiscovery), q.bandKey(BandExtraction)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	// BRPOP returns [key, value].
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("malformed job payload: %w", err)
	}
	return &job, nil
}

// Retry schedules a failed job for another attempt with exponential
// backoff, or parks it on the dead list once attempts are exhausted.
// Returns true when the job will run again.
func (q *Queue) Retry(ctx context.Context, job Job, cause error) (bool, error) {
	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}

	if job.Attempts >= q.maxAttempts {
		return false, q.Bury(ctx, job)
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}

	delay := retryDelay(job.Attempts)
	readyAt := time.Now().Add(delay)
	if err := q.rdb.ZAdd(ctx, q.retryKey(), redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: raw,
	}).Err(); err != nil {
		return false, fmt.Errorf("schedule retry: %w", err)
	}

	q.log.Warn().
		Str("job_id", job.ID).
		Str("store", string(job.Store)).
		Str("action", string(job.Action)).
		Str("category", job.ExternalID).
		Int("attempt", job.Attempts).
		Dur("delay", delay).
		Err(cause).
		Msg("job scheduled for retry")
	return true, nil
}

// Bury moves a job to the dead list with enough context for manual replay.
func (q *Queue) Bury(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.deadKey(), raw).Err(); err != nil {
		return fmt.Errorf("bury job: %w", err)
	}
	q.log.Error().
		Str("job_id", job.ID).
		Str("store", string(job.Store)).
		Str("action", string(job.Action)).
		Str("category", job.ExternalID).
		Str("url", job.URL).
		Str("last_error", job.LastError).
		Msg("job dead-lettered")
	return nil
}

// retryDelay walks the exponential backoff curve to the given attempt.
func retryDelay(attempt int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = retryInitialDelay
	eb.MaxInterval = retryMaxDelay
	eb.RandomizationFactor = 0.2
	eb.Reset()

	d := eb.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	if d == backoff.Stop || d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d
}

// RunRetryMover promotes due retries back onto their band lists until ctx
// is canceled.
func (q *Queue) RunRetryMover(ctx context.Context) {
	ticker := time.NewTicker(moverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.promoteDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
				q.log.Error().Err(err).Msg("retry promotion failed")
			}
		}
	}
}

func (q *Queue) promoteDue(ctx context.Context) error {
	now := time.Now().UnixMilli()
	members, err := q.rdb.ZRangeByScore(ctx, q.retryKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now),
		Count: moverBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("scan retries: %w", err)
	}

	for _, raw := range members {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.log.Error().Err(err).Msg("dropping malformed retry payload")
			q.rdb.ZRem(ctx, q.retryKey(), raw)
			continue
		}

		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, q.retryKey(), raw)
		pipe.LPush(ctx, q.bandKey(job.Band()), raw)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("promote retry: %w", err)
		}
	}
	return nil
}

// DeadJobs returns up to limit dead-lettered jobs, newest first.
func (q *Queue) DeadJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	raws, err := q.rdb.LRange(ctx, q.deadKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead jobs: %w", err)
	}

	jobs := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ReplayDead re-enqueues every dead job with a reset attempt count.
func (q *Queue) ReplayDead(ctx context.Context) (int, error) {
	n := 0
	for {
		raw, err := q.rdb.RPop(ctx, q.deadKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return n, nil
			}
			return n, fmt.Errorf("pop dead job: %w", err)
		}

		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.log.Error().Err(err).Msg("dropping malformed dead payload")
			continue
		}
		job.Attempts = 0
		job.LastError = ""
		if err := q.Enqueue(ctx, job); err != nil {
			return n, err
		}
		n++
	}
}

// Depths reports the queue length per band plus retry and dead counts.
func (q *Queue) Depths(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, 4)
	for _, b := range []Band{BandDiscovery, BandExtraction} {
		n, err := q.rdb.LLen(ctx, q.bandKey(b)).Result()
		if err != nil {
			return nil, fmt.Errorf("queue depth %s: %w", b, err)
		}
		out[b.String()] = n
	}

	n, err := q.rdb.ZCard(ctx, q.retryKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("retry depth: %w", err)
	}
	out["retry"] = n

	n, err = q.rdb.LLen(ctx, q.deadKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("dead depth: %w", err)
	}
	out["dead"] = n

	return out, nil
}
