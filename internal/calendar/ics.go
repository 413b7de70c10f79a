// Package calendar renders generated session series as iCalendar feeds so
// coaches can subscribe to them in ordinary calendar clients.
package calendar

import (
	"alcyxob/coaching-app/internal/domain"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

const productID = "-//coaching-app//session series//EN"

// EventUID is the stable iCalendar UID of a generated session.
func EventUID(rec domain.TemplateSessionRecord) string {
	return rec.SessionID.Hex() + "@coaching-app"
}

// SeriesToICS builds a VCALENDAR with one VEVENT per generated session.
// Failed and cancelled occurrences have no session and are left out.
func SeriesToICS(name string, records []domain.TemplateSessionRecord, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	sorted := make([]domain.TemplateSessionRecord, 0, len(records))
	for _, rec := range records {
		if rec.GenerationStatus == domain.GenerationGenerated && !rec.SessionID.IsZero() {
			sorted = append(sorted, rec)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ScheduledFor.Before(sorted[j].ScheduledFor)
	})

	for _, rec := range sorted {
		ev := cal.AddEvent(EventUID(rec))
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(rec.ScheduledFor)
		ev.SetEndAt(rec.ScheduledFor.Add(time.Duration(rec.AppliedCustomizations.Duration) * time.Minute))
		ev.SetSummary(rec.TemplateSnapshot.Name)
		if desc := describe(rec); desc != "" {
			ev.SetDescription(desc)
		}
		ev.SetStatus(ical.ObjectStatusConfirmed)
	}

	return cal.Serialize()
}

func describe(rec domain.TemplateSessionRecord) string {
	var b strings.Builder
	for _, o := range rec.AppliedCustomizations.Objectives {
		b.WriteString("- ")
		b.WriteString(o)
		b.WriteString("\n")
	}
	if rec.AppliedCustomizations.Notes != "" {
		b.WriteString(rec.AppliedCustomizations.Notes)
	}
	return strings.TrimSpace(b.String())
}
