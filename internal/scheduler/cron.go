package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// sixFieldParser parses the sec/min/hour/dom/mon/dow portion of a
// <schedule> resource's 7-field expression; the trailing year field is
// handled separately since robfig/cron has no year concept.
var sixFieldParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronSchedule is the 7-field (sec min hour dom mon dow year) schedule
// string spec.md §3's <schedule> resource and §4.6's cron-like task family
// use. year may be "*" (every year) or a literal 4-digit year.
type CronSchedule struct {
	expr  string
	sched cron.Schedule
	year  string
}

// ParseCronSchedule parses a 7-field schedule string.
func ParseCronSchedule(expr string) (*CronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 7 {
		return nil, fmt.Errorf("schedule expression %q: expected 7 fields (sec min hour dom mon dow year), got %d", expr, len(fields))
	}
	sched, err := sixFieldParser.Parse(strings.Join(fields[:6], " "))
	if err != nil {
		return nil, fmt.Errorf("schedule expression %q: %w", expr, err)
	}
	return &CronSchedule{expr: expr, sched: sched, year: fields[6]}, nil
}

// Next returns the next fire time strictly after t whose year also matches.
// A schedule whose year never recurs (a literal year already passed)
// returns the zero Time after a bounded number of candidate checks.
func (c *CronSchedule) Next(t time.Time) time.Time {
	candidate := t
	for i := 0; i < 200; i++ {
		candidate = c.sched.Next(candidate)
		if c.yearMatches(candidate) {
			return candidate
		}
	}
	return time.Time{}
}

func (c *CronSchedule) yearMatches(t time.Time) bool {
	if c.year == "*" {
		return true
	}
	y, err := strconv.Atoi(c.year)
	if err != nil {
		return true
	}
	return t.Year() == y
}

// ActiveAt reports whether now falls within the one-minute window a cron
// tick covers, i.e. the schedule "fires" for the minute containing now.
// A <schedule> resource expresses when its owner is active at minute
// granularity, the resolution the 7-field expression itself offers.
// Nothing in the notification paths calls ActiveAt: notifications are not
// gated by <schedule> resources.
func (c *CronSchedule) ActiveAt(now time.Time) bool {
	windowStart := now.Add(-time.Minute)
	next := c.Next(windowStart)
	if next.IsZero() {
		return false
	}
	return !next.After(now)
}
