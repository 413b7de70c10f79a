package service

import (
	"alcyxob/coaching-app/internal/domain"
	"alcyxob/coaching-app/internal/lock"
	"alcyxob/coaching-app/internal/logger"
	"alcyxob/coaching-app/internal/outbox"
	"alcyxob/coaching-app/internal/recurrence"
	"alcyxob/coaching-app/internal/repository"
	"alcyxob/coaching-app/internal/storage"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrTemplateNotFound     = errors.New("session template not found")
	ErrTemplateInactive     = errors.New("session template is not active")
	ErrTemplateNotRecurring = errors.New("session template has no recurrence pattern")
	ErrTemplateAccessDenied = errors.New("access denied to this session template")
	ErrInvalidTemplate      = errors.New("session template is invalid")
	ErrGenerationInProgress = errors.New("a generation for this template and client is already running")
	ErrInvalidRequest       = errors.New("invalid generation request")
	ErrSeriesNotFound       = errors.New("recurring series not found")
	ErrBatchNotFound        = errors.New("generation batch not found")
	ErrStorageUnavailable   = errors.New("report storage is not configured")
)

const (
	DefaultGenerationTimeout = 30 * time.Second
	DefaultLockTTL           = time.Minute
	DefaultBulkConcurrency   = 4
)

// PreviewRequest asks for the candidate dates of a template's recurrence.
type PreviewRequest struct {
	TemplateID     primitive.ObjectID
	CoachID        primitive.ObjectID
	StartDate      time.Time
	EndDate        *time.Time
	MaxOccurrences *int
}

type PreviewResult struct {
	Dates     []time.Time
	Truncated bool
}

// GenerateRequest asks for sessions to be materialized for one client.
// ApplyClientCustomization defaults to true when nil.
type GenerateRequest struct {
	TemplateID               primitive.ObjectID
	CoachID                  primitive.ObjectID
	ClientID                 primitive.ObjectID
	StartDate                time.Time
	EndDate                  *time.Time
	MaxOccurrences           *int
	Customizations           *domain.SessionCustomization
	ApplyClientCustomization *bool
}

// GeneratedSession pairs a created session with its record.
type GeneratedSession struct {
	Session         domain.CoachingSession
	RecordID        primitive.ObjectID
	Sequence        int
	TrackingPending bool
}

// FailedOccurrence is an available date whose session could not be created.
type FailedOccurrence struct {
	Date     time.Time
	Sequence int
	RecordID primitive.ObjectID
	Errors   []string
}

// GenerateResult summarizes one generation run. Success is false only when
// at least one date was attempted and every attempt failed.
type GenerateResult struct {
	Success            bool
	Message            string
	ParentRecurrenceID string
	BatchID            string
	GeneratedSessions  []GeneratedSession
	SkippedDates       []time.Time
	Conflicts          []DateConflict
	Failures           []FailedOccurrence
	TotalGenerated     int
	Truncated          bool
	Interrupted        bool
}

// GenerationService previews and generates recurring sessions from templates.
type GenerationService interface {
	Preview(ctx context.Context, req PreviewRequest) (*PreviewResult, error)
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	BulkGenerate(ctx context.Context, req BulkGenerateRequest) (*BulkGenerateResult, error)

	RecordsByTemplate(ctx context.Context, coachID, templateID primitive.ObjectID) ([]domain.TemplateSessionRecord, error)
	RecordsBySeries(ctx context.Context, coachID primitive.ObjectID, parentRecurrenceID string) ([]domain.TemplateSessionRecord, error)
	RecordsByBatch(ctx context.Context, coachID primitive.ObjectID, batchID string) ([]domain.TemplateSessionRecord, error)
	UsageStats(ctx context.Context, coachID, templateID primitive.ObjectID) (*domain.TemplateUsageStats, error)
	SeriesCalendar(ctx context.Context, coachID primitive.ObjectID, parentRecurrenceID string) ([]byte, error)
	ExportBatchReport(ctx context.Context, coachID primitive.ObjectID, batchID string) (*BatchReport, error)
}

// GenerationDeps groups the collaborators of the generation service.
// Locker, Outbox and Storage are optional.
type GenerationDeps struct {
	Templates  repository.TemplateRepository
	Sessions   repository.SessionRepository
	Records    repository.GenerationRecordRepository
	Calculator *recurrence.Calculator
	Locker     lock.Locker
	Outbox     outbox.Queue
	Storage    storage.FileStorage
	Logger     *slog.Logger
}

// GenerationOptions tunes the generation service. Zero values fall back to
// the package defaults.
type GenerationOptions struct {
	Timeout         time.Duration
	LockTTL         time.Duration
	BulkConcurrency int
	ReportURLExpiry time.Duration
}

type generationService struct {
	templates    repository.TemplateRepository
	calculator   *recurrence.Calculator
	conflicts    *ConflictChecker
	materializer *SessionMaterializer
	tracker      *GenerationTracker
	locker       lock.Locker
	storage      storage.FileStorage
	opts         GenerationOptions
	newID        func() string
	now          func() time.Time
	log          *slog.Logger
}

// NewGenerationService wires the calculator, conflict checker, materializer
// and tracker into one service.
func NewGenerationService(deps GenerationDeps, opts GenerationOptions) GenerationService {
	log := logger.OrDefault(deps.Logger)

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultGenerationTimeout
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.BulkConcurrency <= 0 {
		opts.BulkConcurrency = DefaultBulkConcurrency
	}
	if opts.ReportURLExpiry <= 0 {
		opts.ReportURLExpiry = storage.DefaultPresignedURLExpiry
	}

	calc := deps.Calculator
	if calc == nil {
		calc = recurrence.NewCalculator(recurrence.DefaultMaxScanSteps, log)
	}

	tracker := NewGenerationTracker(deps.Records, deps.Templates, deps.Outbox, log)
	return &generationService{
		templates:    deps.Templates,
		calculator:   calc,
		conflicts:    NewConflictChecker(deps.Sessions),
		materializer: NewSessionMaterializer(deps.Sessions, tracker, log),
		tracker:      tracker,
		locker:       deps.Locker,
		storage:      deps.Storage,
		opts:         opts,
		newID:        uuid.NewString,
		now:          func() time.Time { return time.Now().UTC() },
		log:          log,
	}
}

// Preview returns the dates Generate would consider, with no side effects.
func (s *generationService) Preview(ctx context.Context, req PreviewRequest) (*PreviewResult, error) {
	const op = "service.GenerationService.Preview"

	if err := validateWindow(req.TemplateID, req.CoachID, req.StartDate, req.EndDate, req.MaxOccurrences); err != nil {
		return nil, err
	}

	tmpl, err := s.recurringTemplate(ctx, req.TemplateID, req.CoachID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res := s.calculator.Occurrences(*tmpl.Recurrence, req.StartDate, recurrence.Options{
		EndDate:        req.EndDate,
		MaxOccurrences: req.MaxOccurrences,
	})
	return &PreviewResult{Dates: res.Dates, Truncated: res.Truncated}, nil
}

// Generate materializes sessions for every non-conflicting occurrence.
func (s *generationService) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	return s.generate(ctx, req, "")
}

func (s *generationService) generate(ctx context.Context, req GenerateRequest, batchID string) (*GenerateResult, error) {
	const op = "service.GenerationService.Generate"

	if err := validateWindow(req.TemplateID, req.CoachID, req.StartDate, req.EndDate, req.MaxOccurrences); err != nil {
		return nil, err
	}
	if req.ClientID.IsZero() {
		return nil, fmt.Errorf("%w: clientId is required", ErrInvalidRequest)
	}
	if c := req.Customizations; c != nil && c.Duration != nil &&
		(*c.Duration < domain.MinSessionDuration || *c.Duration > domain.MaxSessionDuration) {
		return nil, fmt.Errorf("%w: duration must be between %d and %d minutes",
			ErrInvalidRequest, domain.MinSessionDuration, domain.MaxSessionDuration)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	tmpl, err := s.recurringTemplate(ctx, req.TemplateID, req.CoachID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !tmpl.IsActive {
		return nil, fmt.Errorf("%s: %w", op, ErrTemplateInactive)
	}

	log := s.log.With(
		slog.String("op", op),
		slog.String("template_id", tmpl.ID.Hex()),
		slog.String("client_id", req.ClientID.Hex()),
	)

	unlock, err := s.acquire(ctx, tmpl.ID, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	candidates := s.calculator.Occurrences(*tmpl.Recurrence, req.StartDate, recurrence.Options{
		EndDate:        req.EndDate,
		MaxOccurrences: req.MaxOccurrences,
	})

	report, err := s.conflicts.Check(ctx, req.ClientID, candidates.Dates)
	if err != nil {
		log.Error("conflict check failed", logger.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	applyClient := req.ApplyClientCustomization == nil || *req.ApplyClientCustomization
	config := ResolveCustomization(tmpl, req.ClientID, req.Customizations, applyClient)

	result := &GenerateResult{
		ParentRecurrenceID: s.newID(),
		BatchID:            batchID,
		GeneratedSessions:  make([]GeneratedSession, 0, len(report.AvailableDates)),
		SkippedDates:       report.ConflictDates(),
		Conflicts:          report.Conflicts,
		Failures:           make([]FailedOccurrence, 0),
		Truncated:          candidates.Truncated,
	}

	occurrences, matErr := s.materializer.Materialize(ctx, MaterializeRequest{
		Template:           tmpl,
		CoachID:            req.CoachID,
		ClientID:           req.ClientID,
		Dates:              report.AvailableDates,
		Config:             config,
		ParentRecurrenceID: result.ParentRecurrenceID,
		BatchID:            batchID,
	})

	for _, occ := range occurrences {
		if occ.Session == nil {
			f := FailedOccurrence{Date: occ.Date, Sequence: occ.Sequence, Errors: []string{occ.Err.Error()}}
			if occ.Record != nil {
				f.RecordID = occ.Record.ID
			}
			result.Failures = append(result.Failures, f)
			continue
		}
		result.GeneratedSessions = append(result.GeneratedSessions, GeneratedSession{
			Session:         *occ.Session,
			RecordID:        occ.Record.ID,
			Sequence:        occ.Sequence,
			TrackingPending: occ.TrackingPending,
		})
	}
	result.TotalGenerated = len(result.GeneratedSessions)
	result.Success = len(occurrences) == 0 || result.TotalGenerated > 0
	result.Interrupted = matErr != nil
	result.Message = summarize(len(candidates.Dates), result)

	log.Info("generation finished",
		slog.String("parent_recurrence_id", result.ParentRecurrenceID),
		slog.Int("candidates", len(candidates.Dates)),
		slog.Int("generated", result.TotalGenerated),
		slog.Int("skipped", len(result.SkippedDates)),
		slog.Int("failed", len(result.Failures)),
		slog.Bool("truncated", result.Truncated),
	)

	if matErr != nil {
		return result, fmt.Errorf("%s: %w", op, matErr)
	}
	return result, nil
}

// acquire takes the per template/client generation lock. The returned func
// releases it and is always safe to call.
func (s *generationService) acquire(ctx context.Context, templateID, clientID primitive.ObjectID) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	key := GenerationLockKey(templateID, clientID)
	ok, err := s.locker.Lock(ctx, key, s.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrGenerationInProgress
	}
	return func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
			s.log.Warn("failed to release generation lock", slog.String("key", key), logger.Err(err))
		}
	}, nil
}

// GenerationLockKey names the lock serializing generations for one pair.
func GenerationLockKey(templateID, clientID primitive.ObjectID) string {
	return "generation:" + templateID.Hex() + ":" + clientID.Hex()
}

// recurringTemplate loads a template the coach may use and checks it can
// drive a recurring generation.
func (s *generationService) recurringTemplate(ctx context.Context, templateID, coachID primitive.ObjectID) (*domain.SessionTemplate, error) {
	tmpl, err := s.accessibleTemplate(ctx, templateID, coachID)
	if err != nil {
		return nil, err
	}
	if !tmpl.IsRecurring || tmpl.Recurrence == nil {
		return nil, ErrTemplateNotRecurring
	}
	if err := tmpl.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	return tmpl, nil
}

func (s *generationService) accessibleTemplate(ctx context.Context, templateID, coachID primitive.ObjectID) (*domain.SessionTemplate, error) {
	tmpl, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	if tmpl.CoachID != coachID && !tmpl.IsPublic {
		return nil, ErrTemplateAccessDenied
	}
	return tmpl, nil
}

func validateWindow(templateID, coachID primitive.ObjectID, start time.Time, end *time.Time, limit *int) error {
	switch {
	case templateID.IsZero():
		return fmt.Errorf("%w: templateId is required", ErrInvalidRequest)
	case coachID.IsZero():
		return fmt.Errorf("%w: coachId is required", ErrInvalidRequest)
	case start.IsZero():
		return fmt.Errorf("%w: startDate is required", ErrInvalidRequest)
	case end != nil && end.Before(start):
		return fmt.Errorf("%w: endDate is before startDate", ErrInvalidRequest)
	case limit != nil && *limit <= 0:
		return fmt.Errorf("%w: maxOccurrences must be positive", ErrInvalidRequest)
	}
	return nil
}

func summarize(candidates int, r *GenerateResult) string {
	switch {
	case candidates == 0:
		return "No occurrences matched the recurrence pattern in the requested window"
	case len(r.SkippedDates) == candidates:
		return fmt.Sprintf("No sessions generated: all %d dates conflict with existing sessions", candidates)
	case r.Interrupted:
		return fmt.Sprintf("Generation interrupted after %d sessions", r.TotalGenerated)
	case !r.Success:
		return fmt.Sprintf("Failed to generate any of %d sessions", len(r.Failures))
	}
	return fmt.Sprintf("Generated %d sessions (%d skipped due to conflicts, %d failed)",
		r.TotalGenerated, len(r.SkippedDates), len(r.Failures))
}
