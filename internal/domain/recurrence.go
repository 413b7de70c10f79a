package domain

import "time"

// RecurrencePattern enumerates the supported recurrence shapes.
type RecurrencePattern string

const (
	PatternWeekly    RecurrencePattern = "weekly"
	PatternBiWeekly  RecurrencePattern = "bi-weekly"
	PatternMonthly   RecurrencePattern = "monthly"
	PatternQuarterly RecurrencePattern = "quarterly"
	PatternCustom    RecurrencePattern = "custom"
)

// IsKnown reports whether p is one of the enumerated patterns.
func (p RecurrencePattern) IsKnown() bool {
	switch p {
	case PatternWeekly, PatternBiWeekly, PatternMonthly, PatternQuarterly, PatternCustom:
		return true
	}
	return false
}

// RecurrenceRule describes how a recurring template repeats.
// EndDate and MaxOccurrences may both be set; whichever is reached first wins.
// With neither set the rule is unbounded and only the scan cap stops it.
type RecurrenceRule struct {
	Pattern        RecurrencePattern `bson:"pattern" json:"pattern"`
	Interval       int               `bson:"interval" json:"interval"`                                 // Meaning depends on Pattern
	DaysOfWeek     []int             `bson:"daysOfWeek,omitempty" json:"daysOfWeek,omitempty"`         // 0=Sunday .. 6=Saturday
	DayOfMonth     *int              `bson:"dayOfMonth,omitempty" json:"dayOfMonth,omitempty"`         // 1-31
	EndDate        *time.Time        `bson:"endDate,omitempty" json:"endDate,omitempty"`
	MaxOccurrences *int              `bson:"maxOccurrences,omitempty" json:"maxOccurrences,omitempty"`
}

// EffectiveInterval returns Interval, treating non-positive values as 1.
func (r RecurrenceRule) EffectiveInterval() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}
