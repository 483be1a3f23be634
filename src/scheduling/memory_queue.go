package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	logger "github.com/sirupsen/logrus"
)

type memoryEntry struct {
	job      Job
	schedule cron.Schedule
}

// MemoryQueue keeps jobs in process memory. Jobs are lost on restart and
// SchedulerManager.Restore re-registers them from the store.
type MemoryQueue struct {
	dispatcher

	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryQueue(pollInterval time.Duration) *MemoryQueue {
	return &MemoryQueue{
		dispatcher: newDispatcher("memory", pollInterval),
		entries:    make(map[string]*memoryEntry),
		now:        time.Now,
	}
}

func (q *MemoryQueue) ScheduleOneTime(_ context.Context, schedulerID uint, userAddress string, at time.Time) (JobHandle, error) {
	job := Job{
		Key:         JobKey(schedulerID),
		Kind:        JobKindOneTime,
		SchedulerID: schedulerID,
		UserAddress: userAddress,
		DueAt:       at,
	}

	q.mu.Lock()
	q.entries[job.Key] = &memoryEntry{job: job}
	q.mu.Unlock()

	return JobHandle{Key: job.Key, NextRun: at}, nil
}

func (q *MemoryQueue) ScheduleCron(_ context.Context, schedulerID uint, userAddress, expression, timezone string) (JobHandle, error) {
	schedule, err := ParseCron(expression, timezone)
	if err != nil {
		return JobHandle{}, err
	}
	next := schedule.Next(q.now())
	if next.IsZero() {
		return JobHandle{}, fmt.Errorf("%w: %q", ErrNeverFires, expression)
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

	q.mu.Lock()
	q.entries[job.Key] = &memoryEntry{job: job, schedule: schedule}
	q.mu.Unlock()

	return JobHandle{Key: job.Key, NextRun: job.DueAt}, nil
}

func (q *MemoryQueue) Cancel(_ context.Context, schedulerID uint) (bool, error) {
	return q.remove(schedulerID, JobKindOneTime), nil
}

func (q *MemoryQueue) Stop(_ context.Context, schedulerID uint) (bool, error) {
	return q.remove(schedulerID, JobKindCron), nil
}

func (q *MemoryQueue) remove(schedulerID uint, kind JobKind) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := JobKey(schedulerID)
	entry, ok := q.entries[key]
	if !ok || entry.job.Kind != kind {
		return false
	}
	delete(q.entries, key)
	return true
}

func (q *MemoryQueue) Run(ctx context.Context) error {
	return q.run(ctx, q.due)
}

// Scheduled returns the pending job of a scheduler, if any.
func (q *MemoryQueue) Scheduled(schedulerID uint) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[JobKey(schedulerID)]
	if !ok {
		return Job{}, false
	}
	return entry.job, true
}

func (q *MemoryQueue) due(_ context.Context, now time.Time) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var jobs []Job
	for key, entry := range q.entries {
		if entry.job.DueAt.After(now) {
			continue
		}
		jobs = append(jobs, entry.job)

		if entry.job.Kind == JobKindCron {
			if next := entry.schedule.Next(now); !next.IsZero() {
				entry.job.DueAt = next
				continue
			}
			logger.WithFields(map[string]interface{}{
				"component": "scheduling",
				"backend":   "memory",
				"job_key":   key,
			}).Warn("Cron job has no further fire time, removing it")
		}
		delete(q.entries, key)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].DueAt.Before(jobs[j].DueAt) })
	return jobs, nil
}
