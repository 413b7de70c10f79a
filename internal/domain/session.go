package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SessionStatus tracks the lifecycle of a booked coaching session.
type SessionStatus string

const (
	SessionPending     SessionStatus = "pending"
	SessionInProgress  SessionStatus = "in-progress"
	SessionCompleted   SessionStatus = "completed"
	SessionCancelled   SessionStatus = "cancelled"
	SessionRescheduled SessionStatus = "rescheduled"
)

// CoachingSession is a concrete, bookable session between a coach and a client.
type CoachingSession struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CoachID   primitive.ObjectID `bson:"coachId" json:"coachId"`
	ClientID  primitive.ObjectID `bson:"clientId" json:"clientId"`
	Date      time.Time          `bson:"date" json:"date"`
	Duration  int                `bson:"duration" json:"duration"` // minutes
	Status    SessionStatus      `bson:"status" json:"status"`
	Notes     string             `bson:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}
