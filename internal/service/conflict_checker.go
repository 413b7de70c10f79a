package service

import (
	"alcyxob/coaching-app/internal/repository"
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const conflictReasonSameDay = "client already has a session scheduled on this date"

// DateConflict explains why a candidate date was excluded.
type DateConflict struct {
	Date                 time.Time          `json:"date"`
	ConflictingSessionID primitive.ObjectID `json:"conflictingSessionId"`
	Reason               string             `json:"reason"`
}

// ConflictReport partitions candidate dates. Every input date lands in
// exactly one of AvailableDates or Conflicts, order preserved.
type ConflictReport struct {
	AvailableDates []time.Time
	Conflicts      []DateConflict
}

// ConflictChecker tests candidate dates against the client's existing schedule.
type ConflictChecker struct {
	sessions repository.SessionRepository
}

func NewConflictChecker(sessions repository.SessionRepository) *ConflictChecker {
	return &ConflictChecker{sessions: sessions}
}

// Check looks up each date's calendar day. A store error aborts the whole
// check; there is no partial result.
func (c *ConflictChecker) Check(ctx context.Context, clientID primitive.ObjectID, dates []time.Time) (*ConflictReport, error) {
	const op = "service.ConflictChecker.Check"

	report := &ConflictReport{
		AvailableDates: make([]time.Time, 0, len(dates)),
		Conflicts:      make([]DateConflict, 0),
	}

	for _, d := range dates {
		from, to := dayBounds(d)
		existing, err := c.sessions.FindActiveByClientBetween(ctx, clientID, from, to)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if len(existing) == 0 {
			report.AvailableDates = append(report.AvailableDates, d)
			continue
		}
		report.Conflicts = append(report.Conflicts, DateConflict{
			Date:                 d,
			ConflictingSessionID: existing[0].ID,
			Reason:               conflictReasonSameDay,
		})
	}
	return report, nil
}

// ConflictDates returns just the dates of the conflicts.
func (r *ConflictReport) ConflictDates() []time.Time {
	out := make([]time.Time, len(r.Conflicts))
	for i, c := range r.Conflicts {
		out[i] = c.Date
	}
	return out
}

func dayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
