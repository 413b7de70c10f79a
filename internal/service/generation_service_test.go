package service

import (
	"alcyxob/coaching-app/internal/domain"
	"alcyxob/coaching-app/internal/logger"
	"alcyxob/coaching-app/internal/recurrence"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fixture struct {
	svc       GenerationService
	templates *stubTemplates
	sessions  *stubSessions
	records   *stubRecords
	locker    *stubLocker
	queue     *stubQueue
	storage   *stubStorage
	coachID   primitive.ObjectID
	clientID  primitive.ObjectID
	tmpl      *domain.SessionTemplate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		sessions: &stubSessions{},
		records:  &stubRecords{},
		locker:   &stubLocker{},
		queue:    &stubQueue{},
		storage:  &stubStorage{},
		coachID:  primitive.NewObjectID(),
		clientID: primitive.NewObjectID(),
	}
	f.tmpl = weeklyTemplate(f.coachID)
	f.templates = newStubTemplates(f.tmpl)
	f.svc = NewGenerationService(GenerationDeps{
		Templates:  f.templates,
		Sessions:   f.sessions,
		Records:    f.records,
		Calculator: recurrence.NewCalculator(recurrence.DefaultMaxScanSteps, logger.Discard()),
		Locker:     f.locker,
		Outbox:     f.queue,
		Storage:    f.storage,
		Logger:     logger.Discard(),
	}, GenerationOptions{})
	return f
}

func (f *fixture) generateRequest() GenerateRequest {
	return GenerateRequest{
		TemplateID: f.tmpl.ID,
		CoachID:    f.coachID,
		ClientID:   f.clientID,
		StartDate:  monday,
	}
}

func TestPreviewHasNoSideEffects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := PreviewRequest{TemplateID: f.tmpl.ID, CoachID: f.coachID, StartDate: monday}
	first, err := f.svc.Preview(context.Background(), req)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	second, err := f.svc.Preview(context.Background(), req)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}

	if len(first.Dates) != 5 || len(second.Dates) != 5 {
		t.Fatalf("expected 5 dates, got %d and %d", len(first.Dates), len(second.Dates))
	}
	for i := range first.Dates {
		if !first.Dates[i].Equal(second.Dates[i]) {
			t.Errorf("preview not repeatable at %d", i)
		}
	}
	if f.sessions.calls != 0 || len(f.records.all()) != 0 || f.templates.usage[f.tmpl.ID] != 0 {
		t.Errorf("preview must not write anything")
	}
}

func TestPreviewOptionsOnlyTighten(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.svc.Preview(context.Background(), PreviewRequest{
		TemplateID: f.tmpl.ID, CoachID: f.coachID, StartDate: monday, MaxOccurrences: intPtr(50),
	})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(res.Dates) != 5 {
		t.Errorf("request limit loosened the rule: %d dates", len(res.Dates))
	}

	res, err = f.svc.Preview(context.Background(), PreviewRequest{
		TemplateID: f.tmpl.ID, CoachID: f.coachID, StartDate: monday, MaxOccurrences: intPtr(2),
	})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(res.Dates) != 2 {
		t.Errorf("expected 2 dates, got %d", len(res.Dates))
	}
}

func TestGenerateLinksSeries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.svc.Generate(context.Background(), f.generateRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !res.Success || res.TotalGenerated != 5 || len(res.GeneratedSessions) != 5 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.ParentRecurrenceID == "" {
		t.Fatal("missing parent recurrence id")
	}

	records, err := f.svc.RecordsBySeries(context.Background(), f.coachID, res.ParentRecurrenceID)
	if err != nil {
		t.Fatalf("records by series: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	for i, rec := range records {
		if *rec.RecurrenceSequence != i+1 {
			t.Errorf("record %d sequence = %d", i, *rec.RecurrenceSequence)
		}
		if rec.SessionID != res.GeneratedSessions[i].Session.ID {
			t.Errorf("record %d not linked to its session", i)
		}
		if !rec.ScheduledFor.Equal(monday.AddDate(0, 0, 7*i)) {
			t.Errorf("record %d scheduled for %v", i, rec.ScheduledFor)
		}
	}
	if f.templates.usage[f.tmpl.ID] != 5 {
		t.Errorf("usage = %d, want 5", f.templates.usage[f.tmpl.ID])
	}
	if len(f.locker.held) != 0 {
		t.Errorf("lock not released: %v", f.locker.held)
	}
}

func TestGenerateSkipsConflicts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	blocking := primitive.NewObjectID()
	f.sessions.existing = []domain.CoachingSession{
		{ID: blocking, ClientID: f.clientID, Date: monday.AddDate(0, 0, 7), Status: domain.SessionPending},
	}

	res, err := f.svc.Generate(context.Background(), f.generateRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.TotalGenerated != 4 || len(res.SkippedDates) != 1 || len(res.Conflicts) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.SkippedDates[0].Equal(monday.AddDate(0, 0, 7)) || res.Conflicts[0].ConflictingSessionID != blocking {
		t.Errorf("wrong conflict reported: %+v", res.Conflicts[0])
	}
	for _, s := range res.GeneratedSessions {
		if s.Session.Date.Equal(monday.AddDate(0, 0, 7)) {
			t.Errorf("session generated on a conflicting date")
		}
	}
}

func TestGenerateAllConflicting(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.sessions.existing = append(f.sessions.existing, domain.CoachingSession{
			ID: primitive.NewObjectID(), ClientID: f.clientID, Date: monday.AddDate(0, 0, 7*i), Status: domain.SessionCompleted,
		})
	}

	res, err := f.svc.Generate(context.Background(), f.generateRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !res.Success || res.TotalGenerated != 0 || len(res.SkippedDates) != 5 {
		t.Errorf("unexpected result %+v", res)
	}
	if !strings.Contains(res.Message, "conflict") {
		t.Errorf("message = %q", res.Message)
	}
}

func TestGenerateReportsFailureWhenEverythingFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	boom := errors.New("insert failed")
	f.sessions.failOn = map[int]error{1: boom, 2: boom, 3: boom, 4: boom, 5: boom}

	res, err := f.svc.Generate(context.Background(), f.generateRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Success || len(res.Failures) != 5 || res.TotalGenerated != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Failures[0].Errors[0] != boom.Error() {
		t.Errorf("failure cause lost: %+v", res.Failures[0])
	}
}

func TestGenerateAppliesCustomizations(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.tmpl.Customizations = []domain.TemplateCustomization{{
		ClientID:             f.clientID,
		SessionCustomization: domain.SessionCustomization{Duration: intPtr(90)},
	}}

	req := f.generateRequest()
	req.MaxOccurrences = intPtr(1)
	res, err := f.svc.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := res.GeneratedSessions[0].Session.Duration; got != 90 {
		t.Errorf("client customization not applied: %d", got)
	}

	req.ApplyClientCustomization = boolPtr(false)
	req.StartDate = monday.AddDate(0, 1, 0)
	res, err = f.svc.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := res.GeneratedSessions[0].Session.Duration; got != 60 {
		t.Errorf("client customization should be skipped: %d", got)
	}
}

func TestGenerateRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(f *fixture, req *GenerateRequest)
		want   error
	}{
		{"unknown template", func(_ *fixture, req *GenerateRequest) { req.TemplateID = primitive.NewObjectID() }, ErrTemplateNotFound},
		{"other coach", func(_ *fixture, req *GenerateRequest) { req.CoachID = primitive.NewObjectID() }, ErrTemplateAccessDenied},
		{"inactive", func(f *fixture, _ *GenerateRequest) { f.tmpl.IsActive = false }, ErrTemplateInactive},
		{"not recurring", func(f *fixture, _ *GenerateRequest) { f.tmpl.IsRecurring = false }, ErrTemplateNotRecurring},
		{"invalid template", func(f *fixture, _ *GenerateRequest) { f.tmpl.DefaultDuration = 5 }, ErrInvalidTemplate},
		{"missing client", func(_ *fixture, req *GenerateRequest) { req.ClientID = primitive.NilObjectID }, ErrInvalidRequest},
		{"end before start", func(_ *fixture, req *GenerateRequest) {
			end := monday.AddDate(0, 0, -1)
			req.EndDate = &end
		}, ErrInvalidRequest},
		{"duration out of range", func(_ *fixture, req *GenerateRequest) {
			req.Customizations = &domain.SessionCustomization{Duration: intPtr(600)}
		}, ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.generateRequest()
			tt.mutate(f, &req)

			_, err := f.svc.Generate(context.Background(), req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if f.sessions.calls != 0 {
				t.Errorf("no session should be created")
			}
		})
	}
}

func TestGeneratePublicTemplateForOtherCoach(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.tmpl.IsPublic = true

	req := f.generateRequest()
	req.CoachID = primitive.NewObjectID()
	res, err := f.svc.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.GeneratedSessions[0].Session.CoachID != req.CoachID {
		t.Errorf("session should belong to the requesting coach")
	}
}

func TestGenerateRefusesWhileLocked(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	key := GenerationLockKey(f.tmpl.ID, f.clientID)
	if ok, _ := f.locker.Lock(context.Background(), key, time.Minute); !ok {
		t.Fatal("could not take lock")
	}

	_, err := f.svc.Generate(context.Background(), f.generateRequest())
	if !errors.Is(err, ErrGenerationInProgress) {
		t.Fatalf("expected ErrGenerationInProgress, got %v", err)
	}
	if f.sessions.calls != 0 {
		t.Errorf("no session should be created")
	}
}

func TestBulkGenerateSharesBatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	other := primitive.NewObjectID()

	res, err := f.svc.BulkGenerate(context.Background(), BulkGenerateRequest{
		TemplateID: f.tmpl.ID,
		CoachID:    f.coachID,
		ClientIDs:  []primitive.ObjectID{f.clientID, other, f.clientID},
		StartDate:  monday,
	})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.BatchID == "" || len(res.Outcomes) != 2 || res.TotalGenerated != 10 || res.FailedClients != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Outcomes[0].Result.ParentRecurrenceID == res.Outcomes[1].Result.ParentRecurrenceID {
		t.Errorf("each client needs its own series")
	}

	records, err := f.svc.RecordsByBatch(context.Background(), f.coachID, res.BatchID)
	if err != nil {
		t.Fatalf("records by batch: %v", err)
	}
	if len(records) != 10 {
		t.Errorf("expected 10 batch records, got %d", len(records))
	}
}

func TestBulkGenerateIsolatesClientFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	busy := primitive.NewObjectID()
	if ok, _ := f.locker.Lock(context.Background(), GenerationLockKey(f.tmpl.ID, busy), time.Minute); !ok {
		t.Fatal("could not take lock")
	}

	res, err := f.svc.BulkGenerate(context.Background(), BulkGenerateRequest{
		TemplateID: f.tmpl.ID,
		CoachID:    f.coachID,
		ClientIDs:  []primitive.ObjectID{f.clientID, busy},
		StartDate:  monday,
	})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.FailedClients != 1 || res.TotalGenerated != 5 {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Outcomes[1].Error == "" || res.Outcomes[1].Result != nil {
		t.Errorf("locked client should report an error: %+v", res.Outcomes[1])
	}
}

func TestRecordsNotVisibleToOtherCoaches(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.svc.Generate(context.Background(), f.generateRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	_, err = f.svc.RecordsBySeries(context.Background(), primitive.NewObjectID(), res.ParentRecurrenceID)
	if !errors.Is(err, ErrSeriesNotFound) {
		t.Errorf("expected ErrSeriesNotFound, got %v", err)
	}
	_, err = f.svc.UsageStats(context.Background(), primitive.NewObjectID(), f.tmpl.ID)
	if !errors.Is(err, ErrTemplateAccessDenied) {
		t.Errorf("expected ErrTemplateAccessDenied, got %v", err)
	}
}

func TestUsageStats(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sessions.failOn = map[int]error{3: errors.New("insert failed")}
	lastUsed := monday.Add(-time.Hour)
	f.tmpl.UsageCount = 7
	f.tmpl.LastUsedAt = &lastUsed

	if _, err := f.svc.Generate(context.Background(), f.generateRequest()); err != nil {
		t.Fatalf("generate: %v", err)
	}

	stats, err := f.svc.UsageStats(context.Background(), f.coachID, f.tmpl.ID)
	if err != nil {
		t.Fatalf("usage stats: %v", err)
	}
	if stats.TotalRecords != 5 || stats.Generated != 4 || stats.Failed != 1 || stats.FromRecurrence != 5 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.UsageCount != 7 || stats.TemplateLastUsed == nil {
		t.Errorf("template counters missing: %+v", stats)
	}
}

func TestSeriesCalendar(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.svc.Generate(context.Background(), f.generateRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	body, err := f.svc.SeriesCalendar(context.Background(), f.coachID, res.ParentRecurrenceID)
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	if n := strings.Count(string(body), "BEGIN:VEVENT"); n != 5 {
		t.Errorf("expected 5 events, got %d", n)
	}
}

func TestExportBatchReport(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	bulk, err := f.svc.BulkGenerate(context.Background(), BulkGenerateRequest{
		TemplateID: f.tmpl.ID,
		CoachID:    f.coachID,
		ClientIDs:  []primitive.ObjectID{f.clientID},
		StartDate:  monday,
	})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}

	report, err := f.svc.ExportBatchReport(context.Background(), f.coachID, bulk.BatchID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if report.ObjectKey != BatchReportKey(bulk.BatchID) || report.RecordCount != 5 {
		t.Errorf("unexpected report %+v", report)
	}
	if !strings.HasPrefix(report.DownloadURL, "https://") {
		t.Errorf("unexpected url %q", report.DownloadURL)
	}

	var doc batchReportDocument
	if err := json.Unmarshal(f.storage.objects[report.ObjectKey], &doc); err != nil {
		t.Fatalf("stored report is not JSON: %v", err)
	}
	if doc.Generated != 5 || doc.Clients != 1 || f.storage.types[report.ObjectKey] != "application/json" {
		t.Errorf("unexpected stored report %+v", doc)
	}

	if _, err := f.svc.ExportBatchReport(context.Background(), f.coachID, "missing"); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("expected ErrBatchNotFound, got %v", err)
	}
}
