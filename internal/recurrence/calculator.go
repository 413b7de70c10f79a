// Package recurrence turns a declarative RecurrenceRule into candidate dates.
//
// The calculator scans forward from the start date one step at a time and
// stops at the first of: the effective end date, the effective occurrence
// limit, or the scan-step cap. The step size depends on the pattern:
//
//   - weekly / bi-weekly: one day
//   - monthly: one day until a match, then Interval months
//   - quarterly: one day until a match, then Interval quarters
//   - custom: Interval weeks, every step is a match
//
// Monthly and quarterly jumps use time.AddDate, so a jump from the 31st into
// a shorter month normalizes into the following month and the day scan then
// resumes from there. Quarterly matches the last month of each calendar
// quarter (March, June, September, December).
package recurrence

import (
	"log/slog"
	"time"

	"alcyxob/coaching-app/internal/domain"
	"alcyxob/coaching-app/internal/logger"
)

// DefaultMaxScanSteps bounds the scan loop when no explicit cap is configured.
const DefaultMaxScanSteps = 365

// Options lets callers tighten the rule's own bounds. A value that would
// loosen the rule (a later end date, a larger limit) is ignored.
type Options struct {
	EndDate        *time.Time
	MaxOccurrences *int
}

// Result is the ordered list of candidate dates.
// Truncated is set when the scan cap stopped the loop before an end
// condition was met; the list may then be incomplete.
type Result struct {
	Dates     []time.Time
	Truncated bool
}

// Calculator is stateless apart from its configuration and safe for
// concurrent use.
type Calculator struct {
	maxScanSteps int
	log          *slog.Logger
}

func NewCalculator(maxScanSteps int, log *slog.Logger) *Calculator {
	if maxScanSteps <= 0 {
		maxScanSteps = DefaultMaxScanSteps
	}
	return &Calculator{
		maxScanSteps: maxScanSteps,
		log:          logger.OrDefault(log).With(slog.String("component", "recurrence")),
	}
}

// MaxScanSteps returns the configured scan cap.
func (c *Calculator) MaxScanSteps() int {
	return c.maxScanSteps
}

// Occurrences computes candidate dates for rule starting at start.
// Unknown patterns yield an empty result and a warning.
func (c *Calculator) Occurrences(rule domain.RecurrenceRule, start time.Time, opts Options) Result {
	if !rule.Pattern.IsKnown() {
		c.log.Warn("unknown recurrence pattern, no occurrences produced", slog.String("pattern", string(rule.Pattern)))
		return Result{Dates: []time.Time{}}
	}

	endDate := earliest(rule.EndDate, opts.EndDate)
	limit := smallest(rule.MaxOccurrences, opts.MaxOccurrences)
	interval := rule.EffectiveInterval()

	targetDay := start.Day()
	if rule.DayOfMonth != nil {
		targetDay = *rule.DayOfMonth
	}
	weekdays := make(map[time.Weekday]struct{}, len(rule.DaysOfWeek))
	for _, d := range rule.DaysOfWeek {
		weekdays[time.Weekday(d)] = struct{}{}
	}

	dates := make([]time.Time, 0)
	current := start
	steps := 0
	for {
		if endDate != nil && current.After(*endDate) {
			return Result{Dates: dates}
		}
		if limit != nil && len(dates) >= *limit {
			return Result{Dates: dates}
		}
		if steps >= c.maxScanSteps {
			return Result{Dates: dates, Truncated: true}
		}
		steps++

		matched := false
		switch rule.Pattern {
		case domain.PatternWeekly:
			matched = matchesWeekday(current, start, weekdays)
		case domain.PatternBiWeekly:
			matched = matchesWeekday(current, start, weekdays) && weeksBetween(start, current)%(interval*2) == 0
		case domain.PatternMonthly:
			matched = current.Day() == targetDay
		case domain.PatternQuarterly:
			matched = isQuarterEndMonth(current.Month()) && current.Day() == targetDay
		case domain.PatternCustom:
			matched = true
		}

		if matched {
			dates = append(dates, current)
		}
		current = advance(rule.Pattern, current, interval, matched)
	}
}

func advance(p domain.RecurrencePattern, current time.Time, interval int, matched bool) time.Time {
	switch p {
	case domain.PatternMonthly:
		if matched {
			return current.AddDate(0, interval, 0)
		}
	case domain.PatternQuarterly:
		if matched {
			return current.AddDate(0, 3*interval, 0)
		}
	case domain.PatternCustom:
		return current.AddDate(0, 0, 7*interval)
	}
	return current.AddDate(0, 0, 1)
}

func matchesWeekday(day, start time.Time, weekdays map[time.Weekday]struct{}) bool {
	if len(weekdays) == 0 {
		return day.Weekday() == start.Weekday()
	}
	_, ok := weekdays[day.Weekday()]
	return ok
}

// weeksBetween counts whole weeks from start to day, using calendar days so
// DST shifts in the reference zone do not skew the count.
func weeksBetween(start, day time.Time) int {
	sy, sm, sd := start.Date()
	dy, dm, dd := day.Date()
	a := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	b := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours()/24) / 7
}

func isQuarterEndMonth(m time.Month) bool {
	return (int(m)-1)%3 == 2
}

func earliest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Before(*a):
		return b
	}
	return a
}

func smallest(a, b *int) *int {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *b < *a:
		return b
	}
	return a
}
