package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes when a recurring command line runs next.
type Schedule interface {
	Next(from time.Time) time.Time
}

type interval time.Duration

// Every runs at a fixed interval.
func Every(d time.Duration) Schedule {
	return interval(d)
}

func (d interval) Next(from time.Time) time.Time {
	return from.Add(time.Duration(d))
}

func (d interval) String() string {
	return "@every " + time.Duration(d).String()
}

type daily struct {
	hour, minute int
}

// Daily runs once a day at hour:minute UTC.
func Daily(hour, minute int) Schedule {
	return daily{hour: hour, minute: minute}
}

func (s daily) Next(from time.Time) time.Time {
	from = from.UTC()
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, time.UTC)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

type weekly struct {
	day          time.Weekday
	hour, minute int
}

// Weekly runs once a week on day at hour:minute UTC.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return weekly{day: day, hour: hour, minute: minute}
}

func (s weekly) Next(from time.Time) time.Time {
	from = from.UTC()
	days := (int(s.day) - int(from.Weekday()) + 7) % 7
	next := time.Date(from.Year(), from.Month(), from.Day()+days, s.hour, s.minute, 0, 0, time.UTC)
	if !next.After(from) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type cronSpec struct {
	cron.Schedule
	expr string
}

func (s cronSpec) String() string { return s.expr }

// Cron parses a five-field cron expression or a descriptor such as @hourly.
// It panics on an invalid expression; use ParseSpec for untrusted input.
func Cron(expr string) Schedule {
	s, err := parseCron(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func parseCron(expr string) (Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	return cronSpec{Schedule: s, expr: expr}, nil
}

// ParseSpec parses a schedule written in configuration: "@every <duration>",
// a cron descriptor, or a five-field cron expression.
func ParseSpec(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if rest, ok := strings.CutPrefix(spec, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("schedule: invalid interval %q: %w", rest, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("schedule: interval must be positive, got %s", d)
		}
		return Every(d), nil
	}
	return parseCron(spec)
}
