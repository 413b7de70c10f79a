package domain

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MinSessionDuration = 15  // minutes
	MaxSessionDuration = 480 // minutes
)

// ComponentType classifies a block inside a session structure.
type ComponentType string

const (
	ComponentCheckIn     ComponentType = "check-in"
	ComponentGoalReview  ComponentType = "goal-review"
	ComponentDiscussion  ComponentType = "discussion"
	ComponentExercise    ComponentType = "exercise"
	ComponentReflection  ComponentType = "reflection"
	ComponentActionItems ComponentType = "action-items"
	ComponentCustom      ComponentType = "custom"
)

// StructureComponent is one ordered block of a session agenda.
type StructureComponent struct {
	ID                string        `bson:"id" json:"id"`
	Type              ComponentType `bson:"type" json:"type"`
	Title             string        `bson:"title" json:"title"`
	EstimatedDuration int           `bson:"estimatedDuration" json:"estimatedDuration"` // minutes
	Required          bool          `bson:"required" json:"required"`
	Prompts           []string      `bson:"prompts,omitempty" json:"prompts,omitempty"`
}

// SessionCustomization holds optional overrides of template defaults.
// Nil / empty fields mean "not overridden".
type SessionCustomization struct {
	Duration     *int                   `bson:"duration,omitempty" json:"duration,omitempty"`
	Structure    []StructureComponent   `bson:"structure,omitempty" json:"structure,omitempty"`
	Objectives   []string               `bson:"objectives,omitempty" json:"objectives,omitempty"`
	Notes        *string                `bson:"notes,omitempty" json:"notes,omitempty"`
	CustomFields map[string]interface{} `bson:"customFields,omitempty" json:"customFields,omitempty"`
}

// TemplateCustomization is a per-client override stored on the template.
type TemplateCustomization struct {
	ClientID             primitive.ObjectID `bson:"clientId" json:"clientId"`
	SessionCustomization `bson:",inline"`
	UpdatedAt            time.Time `bson:"updatedAt" json:"updatedAt"`
}

// SessionTemplate is a reusable session blueprint owned by a coach.
// This service only reads templates; editing happens elsewhere.
type SessionTemplate struct {
	ID              primitive.ObjectID      `bson:"_id,omitempty" json:"id"`
	CoachID         primitive.ObjectID      `bson:"coachId" json:"coachId"`
	Name            string                  `bson:"name" json:"name"`
	Description     string                  `bson:"description,omitempty" json:"description,omitempty"`
	DefaultDuration int                     `bson:"defaultDuration" json:"defaultDuration"` // minutes
	Structure       []StructureComponent    `bson:"structure" json:"structure"`
	Objectives      []string                `bson:"objectives,omitempty" json:"objectives,omitempty"`
	DefaultNotes    string                  `bson:"defaultNotes,omitempty" json:"defaultNotes,omitempty"`
	IsRecurring     bool                    `bson:"isRecurring" json:"isRecurring"`
	Recurrence      *RecurrenceRule         `bson:"recurrencePattern,omitempty" json:"recurrencePattern,omitempty"`
	IsActive        bool                    `bson:"isActive" json:"isActive"`
	IsPublic        bool                    `bson:"isPublic" json:"isPublic"`
	UsageCount      int                     `bson:"usageCount" json:"usageCount"`
	LastUsedAt      *time.Time              `bson:"lastUsed,omitempty" json:"lastUsed,omitempty"`
	Version         int                     `bson:"version" json:"version"`
	Customizations  []TemplateCustomization `bson:"customizations,omitempty" json:"customizations,omitempty"`
	CreatedAt       time.Time               `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time               `bson:"updatedAt" json:"updatedAt"`
}

// CustomizationFor returns the client's override, or nil when none exists.
func (t *SessionTemplate) CustomizationFor(clientID primitive.ObjectID) *TemplateCustomization {
	for i := range t.Customizations {
		if t.Customizations[i].ClientID == clientID {
			return &t.Customizations[i]
		}
	}
	return nil
}

// TotalStructureDuration sums the estimated durations of all components.
func (t *SessionTemplate) TotalStructureDuration() int {
	total := 0
	for _, c := range t.Structure {
		total += c.EstimatedDuration
	}
	return total
}

// Snapshot copies the generation-relevant template content. Slices are cloned
// so later edits to the template cannot leak into stored snapshots.
func (t *SessionTemplate) Snapshot() TemplateSnapshot {
	return TemplateSnapshot{
		Name:            t.Name,
		Version:         t.Version,
		Structure:       CloneStructure(t.Structure),
		Objectives:      append([]string(nil), t.Objectives...),
		DefaultDuration: t.DefaultDuration,
	}
}

// Validate checks the invariants a template must satisfy before it is saved
// or used for generation.
func (t *SessionTemplate) Validate() error {
	vErr := &ValidationError{}

	if t.Name == "" {
		vErr.Add("name", "name is required")
	}
	if t.DefaultDuration < MinSessionDuration || t.DefaultDuration > MaxSessionDuration {
		vErr.Add("defaultDuration", fmt.Sprintf("must be between %d and %d minutes", MinSessionDuration, MaxSessionDuration))
	}

	seen := make(map[string]struct{}, len(t.Structure))
	for _, c := range t.Structure {
		if c.ID == "" {
			vErr.Add("structure", "component id is required")
			continue
		}
		if _, dup := seen[c.ID]; dup {
			vErr.Add("structure", fmt.Sprintf("duplicate component id %q", c.ID))
		}
		seen[c.ID] = struct{}{}
	}
	if t.TotalStructureDuration() > MaxSessionDuration {
		vErr.Add("structure", fmt.Sprintf("total component duration exceeds %d minutes", MaxSessionDuration))
	}

	if t.IsRecurring {
		if t.Recurrence == nil {
			vErr.Add("recurrencePattern", "recurring templates require a recurrence pattern")
		} else {
			validateRule(*t.Recurrence, vErr)
		}
	}

	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

func validateRule(r RecurrenceRule, vErr *ValidationError) {
	if r.Interval < 1 {
		vErr.Add("recurrencePattern.interval", "interval must be a positive integer")
	}
	for _, d := range r.DaysOfWeek {
		if d < 0 || d > 6 {
			vErr.Add("recurrencePattern.daysOfWeek", "weekdays must be between 0 (Sunday) and 6 (Saturday)")
			break
		}
	}
	if r.DayOfMonth != nil && (*r.DayOfMonth < 1 || *r.DayOfMonth > 31) {
		vErr.Add("recurrencePattern.dayOfMonth", "day of month must be between 1 and 31")
	}
	if r.MaxOccurrences != nil && *r.MaxOccurrences < 1 {
		vErr.Add("recurrencePattern.maxOccurrences", "max occurrences must be positive")
	}
}

// CloneStructure deep-copies a component list.
func CloneStructure(in []StructureComponent) []StructureComponent {
	if in == nil {
		return nil
	}
	out := make([]StructureComponent, len(in))
	for i, c := range in {
		c.Prompts = append([]string(nil), c.Prompts...)
		out[i] = c
	}
	return out
}
