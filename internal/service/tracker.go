package service

import (
	"alcyxob/coaching-app/internal/domain"
	"alcyxob/coaching-app/internal/logger"
	"alcyxob/coaching-app/internal/outbox"
	"alcyxob/coaching-app/internal/repository"
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OccurrenceMeta carries everything the tracker needs to describe one
// occurrence of a generation run.
type OccurrenceMeta struct {
	Template           *domain.SessionTemplate
	CoachID            primitive.ObjectID
	ClientID           primitive.ObjectID
	ScheduledFor       time.Time
	Config             domain.AppliedCustomizations
	Sequence           int
	ParentRecurrenceID string
	BatchID            string
}

// GenerationTracker records generation outcomes and maintains template usage.
type GenerationTracker struct {
	records   repository.GenerationRecordRepository
	templates repository.TemplateRepository
	outbox    outbox.Queue
	now       func() time.Time
	log       *slog.Logger
}

// NewGenerationTracker builds a tracker. queue may be nil, in which case a
// failed record write is only logged.
func NewGenerationTracker(
	records repository.GenerationRecordRepository,
	templates repository.TemplateRepository,
	queue outbox.Queue,
	log *slog.Logger,
) *GenerationTracker {
	return &GenerationTracker{
		records:   records,
		templates: templates,
		outbox:    queue,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.OrDefault(log),
	}
}

// RecordGenerated stores a generated record for session and bumps the
// template's usage counter. The returned bool is true when the record could
// not be written and was queued for retry instead.
func (t *GenerationTracker) RecordGenerated(ctx context.Context, meta OccurrenceMeta, session *domain.CoachingSession) (*domain.TemplateSessionRecord, bool) {
	now := t.now()
	rec := t.newRecord(meta, now)
	rec.SessionID = session.ID
	_ = rec.Transition(domain.GenerationGenerated, now)

	pending := t.store(ctx, rec)

	if err := t.templates.IncrementUsage(ctx, meta.Template.ID, now); err != nil {
		t.log.Warn("failed to update template usage",
			slog.String("template_id", meta.Template.ID.Hex()), logger.Err(err))
	}
	return rec, pending
}

// RecordFailed stores a failed record carrying cause.
func (t *GenerationTracker) RecordFailed(ctx context.Context, meta OccurrenceMeta, cause error) (*domain.TemplateSessionRecord, bool) {
	now := t.now()
	rec := t.newRecord(meta, now)
	_ = rec.Transition(domain.GenerationFailed, now)
	rec.Errors = []string{cause.Error()}

	return rec, t.store(ctx, rec)
}

func (t *GenerationTracker) newRecord(meta OccurrenceMeta, now time.Time) *domain.TemplateSessionRecord {
	seq := meta.Sequence
	return &domain.TemplateSessionRecord{
		ID:                    primitive.NewObjectID(),
		TemplateID:            meta.Template.ID,
		CoachID:               meta.CoachID,
		ClientID:              meta.ClientID,
		ScheduledFor:          meta.ScheduledFor,
		GenerationStatus:      domain.GenerationPending,
		TemplateSnapshot:      meta.Template.Snapshot(),
		AppliedCustomizations: meta.Config,
		IsFromRecurrence:      true,
		RecurrenceSequence:    &seq,
		ParentRecurrenceID:    meta.ParentRecurrenceID,
		BatchID:               meta.BatchID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// store writes rec and falls back to the outbox. Reports whether the record
// is still pending persistence.
func (t *GenerationTracker) store(ctx context.Context, rec *domain.TemplateSessionRecord) bool {
	_, err := t.records.Create(ctx, rec)
	if err == nil {
		return false
	}
	t.log.Error("failed to store generation record",
		slog.String("record_id", rec.ID.Hex()),
		slog.String("status", string(rec.GenerationStatus)),
		logger.Err(err))

	if t.outbox == nil {
		return true
	}
	if err := t.outbox.Enqueue(context.WithoutCancel(ctx), rec); err != nil {
		t.log.Error("failed to queue generation record for retry",
			slog.String("record_id", rec.ID.Hex()), logger.Err(err))
	}
	return true
}

// ByTemplate lists every record generated from templateID.
func (t *GenerationTracker) ByTemplate(ctx context.Context, templateID primitive.ObjectID) ([]domain.TemplateSessionRecord, error) {
	return t.records.GetByTemplateID(ctx, templateID)
}

// BySeries lists the records of one recurring generation run.
func (t *GenerationTracker) BySeries(ctx context.Context, parentRecurrenceID string) ([]domain.TemplateSessionRecord, error) {
	return t.records.GetByParentRecurrenceID(ctx, parentRecurrenceID)
}

// ByBatch lists the records of one bulk generation.
func (t *GenerationTracker) ByBatch(ctx context.Context, batchID string) ([]domain.TemplateSessionRecord, error) {
	return t.records.GetByBatchID(ctx, batchID)
}

// UsageStats aggregates record outcomes and adds the template's own counter.
func (t *GenerationTracker) UsageStats(ctx context.Context, tmpl *domain.SessionTemplate) (*domain.TemplateUsageStats, error) {
	const op = "service.GenerationTracker.UsageStats"

	stats, err := t.records.UsageStats(ctx, tmpl.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	stats.TemplateID = tmpl.ID
	stats.UsageCount = tmpl.UsageCount
	stats.TemplateLastUsed = tmpl.LastUsedAt
	return stats, nil
}
