package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	logger "github.com/sirupsen/logrus"
)

// removeScript drops both the due entry and the payload so that a poller which
// already claimed the job finds no payload and skips it.
var removeScript = redis.NewScript(`
local z = redis.call('ZREM', KEYS[1], ARGV[1])
local h = redis.call('HDEL', KEYS[2], ARGV[1])
if z + h > 0 then return 1 end
return 0
`)

// rescheduleScript re-arms a cron job only while its payload still exists.
var rescheduleScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
  redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
  return 1
end
return 0
`)

// RedisQueue keeps jobs in Redis: one sorted set per kind scored by due time in
// milliseconds, and one hash per kind holding the payloads. A due job is
// claimed with ZREM so that only one poller across all processes fires it.
type RedisQueue struct {
	dispatcher

	client redis.UniversalClient
	prefix string
	batch  int64
	now    func() time.Time
}

func NewRedisQueue(client redis.UniversalClient, prefix string, pollInterval time.Duration) *RedisQueue {
	if prefix == "" {
		prefix = "trigger-executor"
	}
	return &RedisQueue{
		dispatcher: newDispatcher("redis", pollInterval),
		client:     client,
		prefix:     prefix,
		batch:      100,
		now:        time.Now,
	}
}

func (q *RedisQueue) dueKey(kind JobKind) string {
	return fmt.Sprintf("%s:due:%s", q.prefix, kind)
}

func (q *RedisQueue) jobsKey(kind JobKind) string {
	return fmt.Sprintf("%s:jobs:%s", q.prefix, kind)
}

func (q *RedisQueue) ScheduleOneTime(ctx context.Context, schedulerID uint, userAddress string, at time.Time) (JobHandle, error) {
	job := Job{
		Key:         JobKey(schedulerID),
		Kind:        JobKindOneTime,
		SchedulerID: schedulerID,
		UserAddress: userAddress,
		DueAt:       at,
	}
	if err := q.put(ctx, job); err != nil {
		return JobHandle{}, err
	}
	return JobHandle{Key: job.Key, NextRun: at}, nil
}

func (q *RedisQueue) ScheduleCron(ctx context.Context, schedulerID uint, userAddress, expression, timezone string) (JobHandle, error) {
	next, err := NextFire(expression, timezone, q.now())
	if err != nil {
		return JobHandle{}, err
	}

	job := Job{
		Key:            JobKey(schedulerID),
		Kind:           JobKindCron,
		SchedulerID:    schedulerID,
		UserAddress:    userAddress,
		CronExpression: expression,
		Timezone:       timezone,
		DueAt:          next,
	}
	if err := q.put(ctx, job); err != nil {
		return JobHandle{}, err
	}
	return JobHandle{Key: job.Key, NextRun: job.DueAt}, nil
}

// put stores job, replacing any job of either kind under the same key.
func (q *RedisQueue) put(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.Key, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, kind := range jobKinds {
			if kind == job.Kind {
				continue
			}
			pipe.ZRem(ctx, q.dueKey(kind), job.Key)
			pipe.HDel(ctx, q.jobsKey(kind), job.Key)
		}
		pipe.HSet(ctx, q.jobsKey(job.Kind), job.Key, payload)
		pipe.ZAdd(ctx, q.dueKey(job.Kind), redis.Z{Score: score(job.DueAt), Member: job.Key})
		return nil
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "scheduling",
			"backend":   "redis",
			"job_key":   job.Key,
		}).WithError(err).Error("Failed to store job")
		return fmt.Errorf("store job %s: %w", job.Key, err)
	}
	return nil
}

func (q *RedisQueue) Cancel(ctx context.Context, schedulerID uint) (bool, error) {
	return q.remove(ctx, schedulerID, JobKindOneTime)
}

func (q *RedisQueue) Stop(ctx context.Context, schedulerID uint) (bool, error) {
	return q.remove(ctx, schedulerID, JobKindCron)
}

func (q *RedisQueue) remove(ctx context.Context, schedulerID uint, kind JobKind) (bool, error) {
	n, err := removeScript.Run(ctx, q.client,
		[]string{q.dueKey(kind), q.jobsKey(kind)},
		JobKey(schedulerID),
	).Int()
	if err != nil {
		return false, fmt.Errorf("remove %s job %s: %w", kind, JobKey(schedulerID), err)
	}
	return n == 1, nil
}

func (q *RedisQueue) Run(ctx context.Context) error {
	return q.run(ctx, q.due)
}

// due claims every due job across kinds. Jobs already claimed are returned
// even when err is non-nil, since their due entries are gone.
func (q *RedisQueue) due(ctx context.Context, now time.Time) ([]Job, error) {
	var (
		jobs []Job
		errs []error
	)
	for _, kind := range jobKinds {
		claimed, err := q.claimDue(ctx, kind, now)
		jobs = append(jobs, claimed...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return jobs, errors.Join(errs...)
}

// claimDue claims one batch of due jobs of kind. A failure on one key is
// logged and the rest of the batch is still claimed.
func (q *RedisQueue) claimDue(ctx context.Context, kind JobKind, now time.Time) ([]Job, error) {
	keys, err := q.client.ZRangeByScore(ctx, q.dueKey(kind), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: q.batch,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list due %s jobs: %w", kind, err)
	}

	var errs []error
	jobs := make([]Job, 0, len(keys))
	for _, key := range keys {
		job, ok, err := q.claim(ctx, kind, key, now)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"component": "scheduling",
				"backend":   "redis",
				"kind":      kind,
				"job_key":   key,
			}).WithError(err).Error("Failed to claim due job")
			errs = append(errs, err)
		}
		if ok {
			jobs = append(jobs, job)
		}
	}

	return jobs, errors.Join(errs...)
}

// claim takes one due key. ok reports whether the job must be delivered; a
// job whose due entry was removed is delivered even if err is set.
func (q *RedisQueue) claim(ctx context.Context, kind JobKind, key string, now time.Time) (Job, bool, error) {
	removed, err := q.client.ZRem(ctx, q.dueKey(kind), key).Result()
	if err != nil {
		return Job{}, false, fmt.Errorf("claim job %s: %w", key, err)
	}
	if removed != 1 {
		// another poller won
		return Job{}, false, nil
	}

	payload, err := q.client.HGet(ctx, q.jobsKey(kind), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		// the due entry is gone; put it back so the job is not lost
		if zerr := q.client.ZAdd(ctx, q.dueKey(kind), redis.Z{Score: score(now), Member: key}).Err(); zerr != nil {
			err = errors.Join(err, zerr)
		}
		return Job{}, false, fmt.Errorf("load job %s: %w", key, err)
	}

	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		q.client.HDel(ctx, q.jobsKey(kind), key)
		return Job{}, false, fmt.Errorf("drop undecodable job %s: %w", key, err)
	}

	if kind != JobKindCron {
		q.client.HDel(ctx, q.jobsKey(kind), key)
		return job, true, nil
	}

	err = q.rearm(ctx, job, now)
	if errors.Is(err, ErrNeverFires) {
		q.client.HDel(ctx, q.jobsKey(kind), key)
		return Job{}, false, err
	}
	return job, true, err
}

func (q *RedisQueue) rearm(ctx context.Context, job Job, now time.Time) error {
	next, err := NextFire(job.CronExpression, job.Timezone, now)
	if err != nil {
		return fmt.Errorf("rearm job %s: %w", job.Key, err)
	}

	armed := job
	armed.DueAt = next
	payload, err := json.Marshal(armed)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.Key, err)
	}

	err = rescheduleScript.Run(ctx, q.client,
		[]string{q.jobsKey(JobKindCron), q.dueKey(JobKindCron)},
		job.Key, score(next), payload,
	).Err()
	if err != nil {
		return fmt.Errorf("rearm job %s: %w", job.Key, err)
	}
	return nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
