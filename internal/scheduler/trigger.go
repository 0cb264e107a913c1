package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard five-field expressions, an optional
// leading seconds field, and @-descriptors. Schedules evaluate in UTC.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Trigger computes firing instants for a job.
type Trigger interface {
	// Next returns the first instant strictly after t at which the
	// trigger fires, or the zero time when it never fires again.
	Next(t time.Time) time.Time

	// Description is a short form for logs and audit records.
	Description() string
}

// CronTrigger fires on a recurring schedule.
type CronTrigger struct {
	expr     string
	schedule cron.Schedule
}

// ParseCron validates the expression and builds the trigger.
func ParseCron(expr string) (*CronTrigger, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return &CronTrigger{expr: expr, schedule: schedule}, nil
}

func (c *CronTrigger) Next(t time.Time) time.Time {
	return c.schedule.Next(t.UTC())
}

func (c *CronTrigger) Description() string {
	return fmt.Sprintf("cron(%s)", c.expr)
}

// OneTimeTrigger fires exactly once at an absolute instant.
type OneTimeTrigger struct {
	At time.Time
}

func (o OneTimeTrigger) Next(t time.Time) time.Time {
	if t.Before(o.At) {
		return o.At
	}
	return time.Time{}
}

func (o OneTimeTrigger) Description() string {
	return fmt.Sprintf("at(%s)", o.At.UTC().Format(time.RFC3339))
}

// triggerFor rebuilds the job's trigger from its persisted fields.
func triggerFor(job *Job) (Trigger, error) {
	switch {
	case job.CronExpr != "":
		return ParseCron(job.CronExpr)
	case job.RunAt != nil:
		return OneTimeTrigger{At: job.RunAt.UTC()}, nil
	default:
		return nil, fmt.Errorf("job %s: no trigger", job.ID)
	}
}
