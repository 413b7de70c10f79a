package service

import (
	"alcyxob/coaching-app/internal/calendar"
	"alcyxob/coaching-app/internal/domain"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BatchReport points at an exported bulk generation report.
type BatchReport struct {
	BatchID     string    `json:"batchId"`
	ObjectKey   string    `json:"objectKey"`
	DownloadURL string    `json:"downloadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
	RecordCount int       `json:"recordCount"`
}

// batchReportDocument is the JSON body stored for a batch.
type batchReportDocument struct {
	BatchID    string                         `json:"batchId"`
	ExportedAt time.Time                      `json:"exportedAt"`
	Generated  int                            `json:"generated"`
	Failed     int                            `json:"failed"`
	Cancelled  int                            `json:"cancelled"`
	Pending    int                            `json:"pending"`
	Clients    int                            `json:"clients"`
	Records    []domain.TemplateSessionRecord `json:"records"`
}

// BatchReportKey is the object key of a batch's report.
func BatchReportKey(batchID string) string {
	return "reports/batches/" + batchID + ".json"
}

// RecordsByTemplate lists a template's records. The owner sees every
// record; a coach using a public template sees only their own.
func (s *generationService) RecordsByTemplate(ctx context.Context, coachID, templateID primitive.ObjectID) ([]domain.TemplateSessionRecord, error) {
	const op = "service.GenerationService.RecordsByTemplate"

	tmpl, err := s.accessibleTemplate(ctx, templateID, coachID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	records, err := s.tracker.ByTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tmpl.CoachID == coachID {
		return records, nil
	}
	return ownedBy(records, coachID), nil
}

func (s *generationService) RecordsBySeries(ctx context.Context, coachID primitive.ObjectID, parentRecurrenceID string) ([]domain.TemplateSessionRecord, error) {
	const op = "service.GenerationService.RecordsBySeries"

	if parentRecurrenceID == "" {
		return nil, fmt.Errorf("%w: series id is required", ErrInvalidRequest)
	}
	records, err := s.tracker.BySeries(ctx, parentRecurrenceID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	records = ownedBy(records, coachID)
	if len(records) == 0 {
		return nil, ErrSeriesNotFound
	}
	return records, nil
}

func (s *generationService) RecordsByBatch(ctx context.Context, coachID primitive.ObjectID, batchID string) ([]domain.TemplateSessionRecord, error) {
	const op = "service.GenerationService.RecordsByBatch"

	if batchID == "" {
		return nil, fmt.Errorf("%w: batch id is required", ErrInvalidRequest)
	}
	records, err := s.tracker.ByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	records = ownedBy(records, coachID)
	if len(records) == 0 {
		return nil, ErrBatchNotFound
	}
	return records, nil
}

// UsageStats is restricted to the template owner.
func (s *generationService) UsageStats(ctx context.Context, coachID, templateID primitive.ObjectID) (*domain.TemplateUsageStats, error) {
	const op = "service.GenerationService.UsageStats"

	tmpl, err := s.accessibleTemplate(ctx, templateID, coachID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tmpl.CoachID != coachID {
		return nil, fmt.Errorf("%s: %w", op, ErrTemplateAccessDenied)
	}
	return s.tracker.UsageStats(ctx, tmpl)
}

// SeriesCalendar renders a series as an iCalendar document.
func (s *generationService) SeriesCalendar(ctx context.Context, coachID primitive.ObjectID, parentRecurrenceID string) ([]byte, error) {
	records, err := s.RecordsBySeries(ctx, coachID, parentRecurrenceID)
	if err != nil {
		return nil, err
	}
	return []byte(calendar.SeriesToICS(records[0].TemplateSnapshot.Name, records, s.now())), nil
}

// ExportBatchReport uploads a JSON summary of the batch and returns a
// time-limited download link.
func (s *generationService) ExportBatchReport(ctx context.Context, coachID primitive.ObjectID, batchID string) (*BatchReport, error) {
	const op = "service.GenerationService.ExportBatchReport"

	if s.storage == nil {
		return nil, ErrStorageUnavailable
	}
	records, err := s.RecordsByBatch(ctx, coachID, batchID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	doc := batchReportDocument{BatchID: batchID, ExportedAt: now, Records: records}
	clients := make(map[primitive.ObjectID]struct{})
	for _, r := range records {
		clients[r.ClientID] = struct{}{}
		switch r.GenerationStatus {
		case domain.GenerationGenerated:
			doc.Generated++
		case domain.GenerationFailed:
			doc.Failed++
		case domain.GenerationCancelled:
			doc.Cancelled++
		default:
			doc.Pending++
		}
	}
	doc.Clients = len(clients)

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	key := BatchReportKey(batchID)
	if err := s.storage.PutObject(ctx, key, "application/json", body); err != nil {
		return nil, fmt.Errorf("%s: upload: %w", op, err)
	}
	url, err := s.storage.GeneratePresignedDownloadURL(ctx, key, s.opts.ReportURLExpiry)
	if err != nil {
		return nil, fmt.Errorf("%s: presign: %w", op, err)
	}

	s.log.Info("batch report exported",
		slog.String("batch_id", batchID),
		slog.String("key", key),
		slog.Int("records", len(records)))

	return &BatchReport{
		BatchID:     batchID,
		ObjectKey:   key,
		DownloadURL: url,
		ExpiresAt:   now.Add(s.opts.ReportURLExpiry),
		RecordCount: len(records),
	}, nil
}

func ownedBy(records []domain.TemplateSessionRecord, coachID primitive.ObjectID) []domain.TemplateSessionRecord {
	out := make([]domain.TemplateSessionRecord, 0, len(records))
	for _, r := range records {
		if r.CoachID == coachID {
			out = append(out, r)
		}
	}
	return out
}
