package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client, "test", time.Second), mr
}

func TestRedisQueueOneTimeIsClaimedOnce(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestRedisQueue(t)
	other := NewRedisQueue(q.client, "test", time.Second)

	rec := &recorder{}
	q.RegisterProcessor(JobKindOneTime, rec.process)
	other.RegisterProcessor(JobKindOneTime, rec.process)

	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	_, err := q.ScheduleOneTime(ctx, 11, "0xabc", at)
	require.NoError(t, err)

	n, err := q.fireDue(ctx, q.due, at.Add(-time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = q.fireDue(ctx, q.due, at)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = other.fireDue(ctx, other.due, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n, "a claimed job must not fire on another poller")

	require.Equal(t, 1, rec.count())
	assert.Equal(t, uint(11), rec.jobs[0].SchedulerID)
	assert.True(t, rec.jobs[0].DueAt.Equal(at))
}

func TestRedisQueueCancelRemovesPendingJob(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestRedisQueue(t)
	rec := &recorder{}
	q.RegisterProcessor(JobKindOneTime, rec.process)

	at := time.Now().Add(time.Minute)
	_, err := q.ScheduleOneTime(ctx, 5, "0xabc", at)
	require.NoError(t, err)

	cancelled, err := q.Cancel(ctx, 5)
	require.NoError(t, err)
	assert.True(t, cancelled)

	cancelled, err = q.Cancel(ctx, 5)
	require.NoError(t, err)
	assert.False(t, cancelled)

	_, err = q.fireDue(ctx, q.due, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, rec.count())
	assert.False(t, mr.Exists("test:due:one-time"))
}

func TestRedisQueueCronRearmsUntilStopped(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestRedisQueue(t)
	start := time.Date(2025, 1, 1, 12, 0, 30, 0, time.UTC)
	q.now = func() time.Time { return start }

	rec := &recorder{}
	q.RegisterProcessor(JobKindCron, rec.process)

	handle, err := q.ScheduleCron(ctx, 9, "0xabc", "*/5 * * * *", "UTC")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 12, 5, 0, 0, time.UTC), handle.NextRun)

	first := time.Date(2025, 1, 1, 12, 5, 0, 0, time.UTC)
	n, err := q.fireDue(ctx, q.due, first)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	score, err := mr.ZScore("test:due:cron", "scheduler:9")
	require.NoError(t, err)
	assert.Equal(t, float64(time.Date(2025, 1, 1, 12, 10, 0, 0, time.UTC).UnixMilli()), score)

	n, err = q.fireDue(ctx, q.due, first.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stopped, err := q.Stop(ctx, 9)
	require.NoError(t, err)
	assert.True(t, stopped)

	n, err = q.fireDue(ctx, q.due, first.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, rec.count())
}

func TestRedisQueueStopAfterClaimPreventsRearm(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestRedisQueue(t)
	start := time.Date(2025, 1, 1, 12, 0, 30, 0, time.UTC)
	q.now = func() time.Time { return start }

	_, err := q.ScheduleCron(ctx, 4, "0xabc", "* * * * *", "UTC")
	require.NoError(t, err)

	// simulate a poller that claimed the job right before Stop ran
	removed, err := q.client.ZRem(ctx, q.dueKey(JobKindCron), JobKey(4)).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	stopped, err := q.Stop(ctx, 4)
	require.NoError(t, err)
	assert.True(t, stopped)

	job := Job{Key: JobKey(4), Kind: JobKindCron, SchedulerID: 4, CronExpression: "* * * * *", Timezone: "UTC"}
	require.NoError(t, q.rearm(ctx, job, start.Add(time.Minute)))

	assert.False(t, mr.Exists("test:due:cron"), "stopped job must not be re-armed")
}

func TestRedisQueueScheduleReplacesOtherKind(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestRedisQueue(t)

	_, err := q.ScheduleCron(ctx, 2, "0xabc", "0 * * * *", "UTC")
	require.NoError(t, err)
	_, err = q.ScheduleOneTime(ctx, 2, "0xabc", time.Now().Add(time.Hour))
	require.NoError(t, err)

	assert.False(t, mr.Exists("test:due:cron"))
	assert.True(t, mr.Exists("test:due:one-time"))
}

func TestRedisQueueScheduleCronRejectsExpressionThatNeverFires(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestRedisQueue(t)

	_, err := q.ScheduleCron(ctx, 3, "0xabc", "0 0 30 2 *", "UTC")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNeverFires))
	assert.False(t, mr.Exists("test:due:cron"))
	assert.False(t, mr.Exists("test:jobs:cron"))
}

func TestRedisQueueBadJobDoesNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestRedisQueue(t)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	rec := &recorder{}
	q.RegisterProcessor(JobKindOneTime, rec.process)
	q.RegisterProcessor(JobKindCron, rec.process)

	inject := func(job Job) {
		t.Helper()
		payload, err := json.Marshal(job)
		require.NoError(t, err)
		require.NoError(t, q.client.HSet(ctx, q.jobsKey(job.Kind), job.Key, payload).Err())
		require.NoError(t, q.client.ZAdd(ctx, q.dueKey(job.Kind), redis.Z{Score: score(job.DueAt), Member: job.Key}).Err())
	}

	// stored before validation existed; sorts first in the cron batch
	inject(Job{Key: JobKey(1), Kind: JobKindCron, SchedulerID: 1, CronExpression: "0 0 30 2 *", Timezone: "UTC", DueAt: now.Add(-2 * time.Minute)})
	inject(Job{Key: JobKey(2), Kind: JobKindCron, SchedulerID: 2, CronExpression: "* * * * *", Timezone: "UTC", DueAt: now.Add(-time.Minute)})
	inject(Job{Key: JobKey(3), Kind: JobKindOneTime, SchedulerID: 3, DueAt: now.Add(-time.Minute)})

	n, err := q.fireDue(ctx, q.due, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNeverFires))
	assert.Equal(t, 2, n)

	var fired []uint
	for _, job := range rec.jobs {
		fired = append(fired, job.SchedulerID)
	}
	assert.ElementsMatch(t, []uint{2, 3}, fired)

	assert.False(t, mr.Exists("test:jobs:one-time"))
	members, err := mr.ZMembers("test:due:cron")
	require.NoError(t, err)
	assert.Equal(t, []string{JobKey(2)}, members, "only the valid cron job is re-armed")
	fields, err := mr.HKeys("test:jobs:cron")
	require.NoError(t, err)
	assert.Equal(t, []string{JobKey(2)}, fields)

	// the bad job is gone for good
	n, err = q.fireDue(ctx, q.due, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
