package service

import (
	"alcyxob/coaching-app/internal/domain"
	"alcyxob/coaching-app/internal/repository"
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type stubTemplates struct {
	mu        sync.Mutex
	templates map[primitive.ObjectID]*domain.SessionTemplate
	usage     map[primitive.ObjectID]int
	getErr    error
}

func newStubTemplates(tmpls ...*domain.SessionTemplate) *stubTemplates {
	s := &stubTemplates{
		templates: make(map[primitive.ObjectID]*domain.SessionTemplate),
		usage:     make(map[primitive.ObjectID]int),
	}
	for _, t := range tmpls {
		s.templates[t.ID] = t
	}
	return s
}

func (s *stubTemplates) GetByID(_ context.Context, id primitive.ObjectID) (*domain.SessionTemplate, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	t, ok := s.templates[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *stubTemplates) IncrementUsage(_ context.Context, id primitive.ObjectID, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[id]++
	return nil
}

// stubSessions fails the Nth Create call (1-based) when listed in failOn.
type stubSessions struct {
	mu       sync.Mutex
	existing []domain.CoachingSession
	created  []domain.CoachingSession
	calls    int
	failOn   map[int]error
	findErr  error
}

func (s *stubSessions) Create(_ context.Context, session *domain.CoachingSession) (primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err, ok := s.failOn[s.calls]; ok {
		return primitive.NilObjectID, err
	}
	id := primitive.NewObjectID()
	cp := *session
	cp.ID = id
	s.created = append(s.created, cp)
	return id, nil
}

func (s *stubSessions) FindActiveByClientBetween(_ context.Context, clientID primitive.ObjectID, from, to time.Time) ([]domain.CoachingSession, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CoachingSession
	for _, e := range s.existing {
		if e.ClientID == clientID && e.Status != domain.SessionCancelled && !e.Date.Before(from) && e.Date.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *stubSessions) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

type stubRecords struct {
	mu        sync.Mutex
	records   []domain.TemplateSessionRecord
	createErr error
}

func (s *stubRecords) Create(_ context.Context, rec *domain.TemplateSessionRecord) (primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return primitive.NilObjectID, s.createErr
	}
	for _, r := range s.records {
		if r.ID == rec.ID {
			return primitive.NilObjectID, repository.ErrDuplicate
		}
	}
	if rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	s.records = append(s.records, *rec)
	return rec.ID, nil
}

func (s *stubRecords) filter(keep func(domain.TemplateSessionRecord) bool) []domain.TemplateSessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TemplateSessionRecord, 0)
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *stubRecords) GetByTemplateID(_ context.Context, id primitive.ObjectID) ([]domain.TemplateSessionRecord, error) {
	return s.filter(func(r domain.TemplateSessionRecord) bool { return r.TemplateID == id }), nil
}

func (s *stubRecords) GetByParentRecurrenceID(_ context.Context, id string) ([]domain.TemplateSessionRecord, error) {
	return s.filter(func(r domain.TemplateSessionRecord) bool { return r.ParentRecurrenceID == id }), nil
}

func (s *stubRecords) GetByBatchID(_ context.Context, id string) ([]domain.TemplateSessionRecord, error) {
	return s.filter(func(r domain.TemplateSessionRecord) bool { return r.BatchID == id }), nil
}

func (s *stubRecords) UsageStats(_ context.Context, id primitive.ObjectID) (*domain.TemplateUsageStats, error) {
	stats := &domain.TemplateUsageStats{TemplateID: id}
	for _, r := range s.filter(func(r domain.TemplateSessionRecord) bool { return r.TemplateID == id }) {
		stats.TotalRecords++
		switch r.GenerationStatus {
		case domain.GenerationGenerated:
			stats.Generated++
		case domain.GenerationFailed:
			stats.Failed++
		}
		if r.IsFromRecurrence {
			stats.FromRecurrence++
		}
	}
	return stats, nil
}

func (s *stubRecords) all() []domain.TemplateSessionRecord {
	return s.filter(func(domain.TemplateSessionRecord) bool { return true })
}

type stubLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *stubLocker) Lock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *stubLocker) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

type stubQueue struct {
	mu    sync.Mutex
	items []*domain.TemplateSessionRecord
}

func (q *stubQueue) Enqueue(_ context.Context, rec *domain.TemplateSessionRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *rec
	q.items = append(q.items, &cp)
	return nil
}

func (q *stubQueue) Dequeue(context.Context) (*domain.TemplateSessionRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil
	}
	rec := q.items[0]
	q.items = q.items[1:]
	return rec, nil
}

func (q *stubQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

type stubStorage struct {
	objects map[string][]byte
	types   map[string]string
}

func (s *stubStorage) PutObject(_ context.Context, key, contentType string, body []byte) error {
	if s.objects == nil {
		s.objects = make(map[string][]byte)
		s.types = make(map[string]string)
	}
	s.objects[key] = body
	s.types[key] = contentType
	return nil
}

func (s *stubStorage) GeneratePresignedDownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.example/" + key + "?sig=test", nil
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func boolPtr(v bool) *bool { return &v }

// weeklyTemplate recurs every Monday, five times.
func weeklyTemplate(coachID primitive.ObjectID) *domain.SessionTemplate {
	return &domain.SessionTemplate{
		ID:              primitive.NewObjectID(),
		CoachID:         coachID,
		Name:            "Weekly check-in",
		DefaultDuration: 60,
		Structure: []domain.StructureComponent{
			{ID: "c1", Type: domain.ComponentCheckIn, Title: "Check-in", EstimatedDuration: 10},
		},
		Objectives:  []string{"Review progress"},
		IsRecurring: true,
		Recurrence: &domain.RecurrenceRule{
			Pattern:        domain.PatternWeekly,
			Interval:       1,
			DaysOfWeek:     []int{1},
			MaxOccurrences: intPtr(5),
		},
		IsActive: true,
		Version:  1,
	}
}

// monday is 2024-01-01 10:00 UTC.
var monday = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
