package service

import (
	"alcyxob/coaching-app/internal/domain"
	"alcyxob/coaching-app/internal/logger"
	"alcyxob/coaching-app/internal/outbox"
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newMaterializerFixture(sessions *stubSessions, records *stubRecords, queue *stubQueue) (*SessionMaterializer, *stubTemplates) {
	templates := newStubTemplates()
	var q outbox.Queue
	if queue != nil {
		q = queue
	}
	tracker := NewGenerationTracker(records, templates, q, logger.Discard())
	return NewSessionMaterializer(sessions, tracker, logger.Discard()), templates
}

func TestMaterializeContinuesPastFailure(t *testing.T) {
	t.Parallel()

	coachID, clientID := primitive.NewObjectID(), primitive.NewObjectID()
	tmpl := weeklyTemplate(coachID)
	sessions := &stubSessions{failOn: map[int]error{2: errors.New("write conflict")}}
	records := &stubRecords{}
	m, templates := newMaterializerFixture(sessions, records, &stubQueue{})

	dates := []time.Time{monday, monday.AddDate(0, 0, 7), monday.AddDate(0, 0, 14)}
	occs, err := m.Materialize(context.Background(), MaterializeRequest{
		Template:           tmpl,
		CoachID:            coachID,
		ClientID:           clientID,
		Dates:              dates,
		Config:             domain.AppliedCustomizations{Duration: 45, Notes: "bring journal"},
		ParentRecurrenceID: "series-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(occs) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(occs))
	}

	if occs[1].Session != nil || occs[1].Err == nil {
		t.Errorf("second occurrence should have failed: %+v", occs[1])
	}
	if occs[0].Session == nil || occs[2].Session == nil {
		t.Fatalf("first and third occurrences should succeed")
	}
	if sessions.createdCount() != 2 {
		t.Errorf("expected 2 stored sessions, got %d", sessions.createdCount())
	}
	for _, s := range sessions.created {
		if s.Status != domain.SessionPending || s.Duration != 45 || s.Notes != "bring journal" {
			t.Errorf("unexpected stored session %+v", s)
		}
	}

	stored := records.all()
	if len(stored) != 3 {
		t.Fatalf("expected 3 records, got %d", len(stored))
	}
	for i, rec := range stored {
		if rec.RecurrenceSequence == nil || *rec.RecurrenceSequence != i+1 {
			t.Errorf("record %d has sequence %v", i, rec.RecurrenceSequence)
		}
		if rec.ParentRecurrenceID != "series-1" || !rec.IsFromRecurrence {
			t.Errorf("record %d not linked to series: %+v", i, rec)
		}
		if rec.TemplateSnapshot.Name != tmpl.Name {
			t.Errorf("record %d missing snapshot", i)
		}
	}
	if stored[1].GenerationStatus != domain.GenerationFailed || len(stored[1].Errors) != 1 || !stored[1].SessionID.IsZero() {
		t.Errorf("unexpected failed record %+v", stored[1])
	}
	if stored[0].GenerationStatus != domain.GenerationGenerated || stored[0].SessionID != occs[0].Session.ID || stored[0].GeneratedAt == nil {
		t.Errorf("unexpected generated record %+v", stored[0])
	}

	if templates.usage[tmpl.ID] != 2 {
		t.Errorf("usage incremented %d times, want 2", templates.usage[tmpl.ID])
	}
}

func TestMaterializeStopsWhenContextEnds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sessions := &stubSessions{}
	m, _ := newMaterializerFixture(sessions, &stubRecords{}, nil)

	occs, err := m.Materialize(ctx, MaterializeRequest{
		Template: weeklyTemplate(primitive.NewObjectID()),
		ClientID: primitive.NewObjectID(),
		Dates:    []time.Time{monday, monday.AddDate(0, 0, 7)},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(occs) != 0 || sessions.createdCount() != 0 {
		t.Errorf("nothing should be created after cancellation")
	}
}

func TestTrackerQueuesRecordWhenStoreFails(t *testing.T) {
	t.Parallel()

	queue := &stubQueue{}
	records := &stubRecords{createErr: errors.New("record store down")}
	m, templates := newMaterializerFixture(&stubSessions{}, records, queue)
	tmpl := weeklyTemplate(primitive.NewObjectID())

	occs, err := m.Materialize(context.Background(), MaterializeRequest{
		Template: tmpl,
		ClientID: primitive.NewObjectID(),
		Dates:    []time.Time{monday},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if occs[0].Session == nil {
		t.Fatalf("session should still be created")
	}
	if !occs[0].TrackingPending {
		t.Errorf("occurrence should be flagged as tracking pending")
	}
	if len(queue.items) != 1 || queue.items[0].ID != occs[0].Record.ID {
		t.Errorf("record not queued for retry: %+v", queue.items)
	}
	if queue.items[0].GenerationStatus != domain.GenerationGenerated {
		t.Errorf("queued record status = %s", queue.items[0].GenerationStatus)
	}
	if templates.usage[tmpl.ID] != 1 {
		t.Errorf("usage should still be incremented")
	}
}
