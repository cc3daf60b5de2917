package maintenance

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// CalculateNextRun calculates the next run time for a schedule
func CalculateNextRun(schedule Schedule) (int64, error) {
	switch schedule.Kind {
	case ScheduleKindAt:
		return calculateAtSchedule(schedule)
	case ScheduleKindEvery:
		return calculateEverySchedule(schedule)
	case ScheduleKindCron:
		return calculateCronSchedule(schedule)
	default:
		return 0, fmt.Errorf("unknown schedule kind: %s", schedule.Kind)
	}
}

func calculateAtSchedule(schedule Schedule) (int64, error) {
	if schedule.At == "" {
		return 0, fmt.Errorf("'at' schedule requires 'at' field")
	}

	t, err := time.Parse(time.RFC3339, schedule.At)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp: %w", err)
	}

	return t.UnixMilli(), nil
}

func calculateEverySchedule(schedule Schedule) (int64, error) {
	if schedule.EveryMs <= 0 {
		return 0, fmt.Errorf("'every' schedule requires positive 'everyMs' value")
	}

	now := time.Now().UnixMilli()

	// Without anchor: next run is now + interval
	if schedule.AnchorMs == nil {
		return now + schedule.EveryMs, nil
	}

	// With anchor: next aligned time after now
	anchor := *schedule.AnchorMs
	elapsed := now - anchor
	if elapsed < 0 {
		return anchor, nil
	}

	periods := elapsed / schedule.EveryMs
	return anchor + (periods+1)*schedule.EveryMs, nil
}

func calculateCronSchedule(schedule Schedule) (int64, error) {
	if schedule.Expr == "" {
		return 0, fmt.Errorf("'cron' schedule requires 'expr' field")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule.Expr)
	if err != nil {
		return 0, fmt.Errorf("invalid cron expression: %w", err)
	}

	now := time.Now()
	if schedule.TZ != "" {
		loc, err := time.LoadLocation(schedule.TZ)
		if err != nil {
			return 0, fmt.Errorf("invalid timezone: %w", err)
		}
		now = now.In(loc)
	}

	return sched.Next(now).UnixMilli(), nil
}
