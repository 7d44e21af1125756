package poller

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Cadence decides when the next cycle starts, given the time the previous
// one finished. Both interval and cron cadences are fixed-delay: a slow cycle
// pushes the next one back instead of overlapping it.
type Cadence struct {
	sched cron.Schedule
	loc   *time.Location
	desc  string
}

func (c Cadence) Next(finished time.Time) time.Time {
	if c.loc != nil {
		finished = finished.In(c.loc)
	}
	return c.sched.Next(finished)
}

func (c Cadence) String() string { return c.desc }

var (
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
)

// EveryCadence runs a cycle every d after the previous one finished.
func EveryCadence(d time.Duration) Cadence {
	return Cadence{sched: cron.Every(d), desc: "every " + d.String()}
}

// NewCadence builds the cadence from the poller config. A non-empty schedule
// wins over interval.
//
// Supported schedule forms:
//   - cron: "*/5 * * * *", "0 */2 * * * *", "@hourly", "@every 90s"
//   - duration: "90s", "2m"
//   - HH:MM interval: "00:02" (2 minutes)
//
// "cron:" and "every:" prefixes force the interpretation.
func NewCadence(interval time.Duration, schedule string, loc *time.Location) (Cadence, error) {
	s := strings.TrimSpace(schedule)
	if s == "" {
		if interval <= 0 {
			return Cadence{}, fmt.Errorf("interval must be > 0")
		}
		return EveryCadence(interval), nil
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return cronCadence(strings.TrimSpace(s[len("cron:"):]), loc)
	case strings.HasPrefix(low, "every:"):
		d, err := parseInterval(strings.TrimSpace(s[len("every:"):]))
		if err != nil {
			return Cadence{}, err
		}
		return EveryCadence(d), nil
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return cronCadence(s, loc)
	}

	d, err := parseInterval(s)
	if err != nil {
		return Cadence{}, fmt.Errorf("invalid schedule %q (use cron like '*/2 * * * *', HH:MM like '00:02', or duration like '90s')", schedule)
	}
	return EveryCadence(d), nil
}

func cronCadence(expr string, loc *time.Location) (Cadence, error) {
	if expr == "" {
		return Cadence{}, fmt.Errorf("cron schedule required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Cadence{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Cadence{sched: sched, loc: loc, desc: "cron " + expr}, nil
}

func parseInterval(v string) (time.Duration, error) {
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, fmt.Errorf("interval must be > 0")
		}
		return d, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
