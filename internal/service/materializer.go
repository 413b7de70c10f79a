package service

import (
	"alcyxob/coaching-app/internal/domain"
	"alcyxob/coaching-app/internal/logger"
	"alcyxob/coaching-app/internal/repository"
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MaterializeRequest describes one series of sessions to create.
type MaterializeRequest struct {
	Template           *domain.SessionTemplate
	CoachID            primitive.ObjectID
	ClientID           primitive.ObjectID
	Dates              []time.Time
	Config             domain.AppliedCustomizations
	ParentRecurrenceID string
	BatchID            string
}

// Occurrence is the outcome for a single date. Session is nil when the
// session write failed, in which case Err holds the cause.
type Occurrence struct {
	Date            time.Time
	Sequence        int
	Session         *domain.CoachingSession
	Record          *domain.TemplateSessionRecord
	Err             error
	TrackingPending bool
}

// SessionMaterializer turns available dates into stored coaching sessions.
type SessionMaterializer struct {
	sessions repository.SessionRepository
	tracker  *GenerationTracker
	now      func() time.Time
	log      *slog.Logger
}

func NewSessionMaterializer(sessions repository.SessionRepository, tracker *GenerationTracker, log *slog.Logger) *SessionMaterializer {
	return &SessionMaterializer{
		sessions: sessions,
		tracker:  tracker,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.OrDefault(log),
	}
}

// Materialize creates one session per date, in order. A failed date is
// recorded and skipped; the rest of the series still runs. If ctx ends
// between dates, the occurrences done so far are returned with ctx.Err().
func (m *SessionMaterializer) Materialize(ctx context.Context, req MaterializeRequest) ([]Occurrence, error) {
	out := make([]Occurrence, 0, len(req.Dates))

	for i, date := range req.Dates {
		if err := ctx.Err(); err != nil {
			m.log.Warn("generation interrupted",
				slog.String("parent_recurrence_id", req.ParentRecurrenceID),
				slog.Int("done", i),
				slog.Int("total", len(req.Dates)))
			return out, err
		}

		meta := OccurrenceMeta{
			Template:           req.Template,
			CoachID:            req.CoachID,
			ClientID:           req.ClientID,
			ScheduledFor:       date,
			Config:             req.Config,
			Sequence:           i + 1,
			ParentRecurrenceID: req.ParentRecurrenceID,
			BatchID:            req.BatchID,
		}
		out = append(out, m.materializeOne(ctx, meta))
	}
	return out, nil
}

func (m *SessionMaterializer) materializeOne(ctx context.Context, meta OccurrenceMeta) Occurrence {
	now := m.now()
	session := &domain.CoachingSession{
		CoachID:   meta.CoachID,
		ClientID:  meta.ClientID,
		Date:      meta.ScheduledFor,
		Duration:  meta.Config.Duration,
		Status:    domain.SessionPending,
		Notes:     meta.Config.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	occ := Occurrence{Date: meta.ScheduledFor, Sequence: meta.Sequence}

	id, err := m.sessions.Create(ctx, session)
	if err != nil {
		m.log.Error("failed to create session",
			slog.String("client_id", meta.ClientID.Hex()),
			slog.Time("date", meta.ScheduledFor),
			slog.Int("sequence", meta.Sequence),
			logger.Err(err))
		occ.Err = err
		occ.Record, occ.TrackingPending = m.tracker.RecordFailed(ctx, meta, err)
		return occ
	}

	session.ID = id
	occ.Session = session
	occ.Record, occ.TrackingPending = m.tracker.RecordGenerated(ctx, meta, session)
	return occ
}
