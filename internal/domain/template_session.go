package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GenerationStatus is the outcome of materializing one occurrence.
type GenerationStatus string

const (
	GenerationPending   GenerationStatus = "pending"
	GenerationGenerated GenerationStatus = "generated"
	GenerationFailed    GenerationStatus = "failed"
	GenerationCancelled GenerationStatus = "cancelled"
)

// TemplateSnapshot is the template content captured at generation time.
type TemplateSnapshot struct {
	Name            string               `bson:"name" json:"name"`
	Version         int                  `bson:"version" json:"version"`
	Structure       []StructureComponent `bson:"structure" json:"structure"`
	Objectives      []string             `bson:"objectives,omitempty" json:"objectives,omitempty"`
	DefaultDuration int                  `bson:"defaultDuration" json:"defaultDuration"`
}

// AppliedCustomizations is the effective configuration after merging template
// defaults, client overrides and request overrides.
type AppliedCustomizations struct {
	Duration     int                    `bson:"duration" json:"duration"`
	Structure    []StructureComponent   `bson:"structure" json:"structure"`
	Objectives   []string               `bson:"objectives,omitempty" json:"objectives,omitempty"`
	Notes        string                 `bson:"notes,omitempty" json:"notes,omitempty"`
	CustomFields map[string]interface{} `bson:"customFields,omitempty" json:"customFields,omitempty"`
}

// TemplateSessionRecord tracks how a session was generated from a template.
// SessionID is nil for occurrences whose session write failed.
type TemplateSessionRecord struct {
	ID                    primitive.ObjectID    `bson:"_id,omitempty" json:"id"`
	SessionID             primitive.ObjectID    `bson:"sessionId,omitempty" json:"sessionId,omitempty"`
	TemplateID            primitive.ObjectID    `bson:"templateId" json:"templateId"`
	CoachID               primitive.ObjectID    `bson:"coachId" json:"coachId"`
	ClientID              primitive.ObjectID    `bson:"clientId" json:"clientId"`
	ScheduledFor          time.Time             `bson:"scheduledFor" json:"scheduledFor"`
	GenerationStatus      GenerationStatus      `bson:"generationStatus" json:"generationStatus"`
	TemplateSnapshot      TemplateSnapshot      `bson:"templateSnapshot" json:"templateSnapshot"`
	AppliedCustomizations AppliedCustomizations `bson:"appliedCustomizations" json:"appliedCustomizations"`
	IsFromRecurrence      bool                  `bson:"isFromRecurrence" json:"isFromRecurrence"`
	RecurrenceSequence    *int                  `bson:"recurrenceSequence,omitempty" json:"recurrenceSequence,omitempty"` // 1-based
	ParentRecurrenceID    string                `bson:"parentRecurrenceId,omitempty" json:"parentRecurrenceId,omitempty"`
	BatchID               string                `bson:"batchId,omitempty" json:"batchId,omitempty"`
	Errors                []string              `bson:"errors,omitempty" json:"errors,omitempty"`
	GeneratedAt           *time.Time            `bson:"generatedAt,omitempty" json:"generatedAt,omitempty"`
	CreatedAt             time.Time             `bson:"createdAt" json:"createdAt"`
	UpdatedAt             time.Time             `bson:"updatedAt" json:"updatedAt"`
}

// CanTransition reports whether from -> to is an allowed status change.
// failed and cancelled are terminal; generated may only become cancelled.
func CanTransition(from, to GenerationStatus) bool {
	switch from {
	case GenerationPending:
		return to == GenerationGenerated || to == GenerationFailed || to == GenerationCancelled
	case GenerationGenerated:
		return to == GenerationCancelled
	}
	return false
}

// Transition moves the record to status to, or returns ErrInvalidTransition.
func (r *TemplateSessionRecord) Transition(to GenerationStatus, at time.Time) error {
	if !CanTransition(r.GenerationStatus, to) {
		return ErrInvalidTransition
	}
	r.GenerationStatus = to
	r.UpdatedAt = at
	if to == GenerationGenerated {
		r.GeneratedAt = &at
	}
	return nil
}

// TemplateUsageStats aggregates generation outcomes for one template.
type TemplateUsageStats struct {
	TemplateID       primitive.ObjectID `json:"templateId"`
	UsageCount       int                `json:"usageCount"`
	TotalRecords     int                `json:"totalRecords"`
	Pending          int                `json:"pending"`
	Generated        int                `json:"generated"`
	Failed           int                `json:"failed"`
	Cancelled        int                `json:"cancelled"`
	FromRecurrence   int                `json:"fromRecurrence"`
	LastGeneratedAt  *time.Time         `json:"lastGeneratedAt,omitempty"`
	TemplateLastUsed *time.Time         `json:"templateLastUsed,omitempty"`
}
