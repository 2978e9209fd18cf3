package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is the runtime-evaluated form of a job's NormalizedSchedule,
// used to compute fire times.
type Schedule struct {
	Kind     ScheduleKind
	CronExpr string
	Every    time.Duration
	At       time.Time
	Timezone string
}

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// NewSchedule converts a normalized (wire-format) schedule into the
// runtime-evaluated Schedule used by the scheduler loop.
func NewSchedule(n NormalizedSchedule) (Schedule, error) {
	sched := Schedule{
		Kind:     n.Kind,
		CronExpr: strings.TrimSpace(n.Expr),
		Timezone: strings.TrimSpace(n.Tz),
	}
	switch n.Kind {
	case ScheduleAt:
		if n.AtMs == 0 {
			return Schedule{}, fmt.Errorf("at schedule missing timestamp")
		}
		sched.At = time.UnixMilli(n.AtMs).UTC()
		return sched, nil
	case ScheduleEvery:
		if n.EveryMs <= 0 {
			return Schedule{}, fmt.Errorf("every schedule missing duration")
		}
		sched.Every = time.Duration(n.EveryMs) * time.Millisecond
		return sched, nil
	case ScheduleCron:
		if sched.CronExpr == "" {
			return Schedule{}, fmt.Errorf("cron schedule missing expression")
		}
		if _, err := cronParser.Parse(sched.CronExpr); err != nil {
			return Schedule{}, fmt.Errorf("invalid cron expression: %w", err)
		}
		return sched, nil
	default:
		return Schedule{}, fmt.Errorf("unknown schedule kind: %q", n.Kind)
	}
}

// Next returns the next run time for the schedule after the given time.
func (s Schedule) Next(now time.Time) (time.Time, bool, error) {
	switch s.Kind {
	case "at":
		if s.At.IsZero() {
			return time.Time{}, false, fmt.Errorf("at schedule missing timestamp")
		}
		if now.After(s.At) {
			return time.Time{}, false, nil
		}
		return s.At, true, nil
	case "every":
		if s.Every <= 0 {
			return time.Time{}, false, fmt.Errorf("every schedule missing duration")
		}
		return now.Add(s.Every), true, nil
	case "cron":
		if s.CronExpr == "" {
			return time.Time{}, false, fmt.Errorf("cron schedule missing expression")
		}
		loc := now.Location()
		if s.Timezone != "" {
			if tz, err := time.LoadLocation(s.Timezone); err == nil {
				loc = tz
			}
		}
		schedule, err := cronParser.Parse(s.CronExpr)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse cron expression: %w", err)
		}
		next := schedule.Next(now.In(loc))
		return next, !next.IsZero(), nil
	default:
		return time.Time{}, false, fmt.Errorf("unknown schedule kind")
	}
}

