package scheduling

import (
	"context"
	"fmt"
	"time"
)

// JobKind is the category of a job. Each category has its own consumer.
type JobKind string

const (
	JobKindOneTime JobKind = "one-time"
	JobKindCron    JobKind = "cron"
)

var jobKinds = []JobKind{JobKindOneTime, JobKindCron}

// Job is the payload handed to a Processor when a schedule fires.
type Job struct {
	Key            string    `json:"key"`
	Kind           JobKind   `json:"kind"`
	SchedulerID    uint      `json:"scheduler_id"`
	UserAddress    string    `json:"user_address"`
	CronExpression string    `json:"cron_expression,omitempty"`
	Timezone       string    `json:"timezone,omitempty"`
	DueAt          time.Time `json:"due_at"`
}

// JobHandle identifies a scheduled job and its next fire time.
type JobHandle struct {
	Key     string
	NextRun time.Time
}

// Processor handles a fired job. Errors are logged and never retried.
type Processor func(ctx context.Context, job Job) error

// Queue is a delayed and recurring job queue keyed by scheduler id.
// Scheduling an id that already has a job replaces it.
type Queue interface {
	ScheduleOneTime(ctx context.Context, schedulerID uint, userAddress string, at time.Time) (JobHandle, error)
	ScheduleCron(ctx context.Context, schedulerID uint, userAddress, expression, timezone string) (JobHandle, error)
	// Cancel removes a pending one-time job. It reports whether a job was removed.
	Cancel(ctx context.Context, schedulerID uint) (bool, error)
	// Stop removes a recurring job. It reports whether a job was removed.
	Stop(ctx context.Context, schedulerID uint) (bool, error)
	RegisterProcessor(kind JobKind, processor Processor)
	// Run polls for due jobs and feeds them to the processors until ctx is done.
	Run(ctx context.Context) error
}

// JobKey is the stable key of the job driving a scheduler.
func JobKey(schedulerID uint) string {
	return fmt.Sprintf("scheduler:%d", schedulerID)
}
