package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role distinguishes coaches from their clients.
type Role string

const (
	RoleCoach  Role = "coach"
	RoleClient Role = "client"
)

// User is an account holder, either a Coach or a Client.
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name         string             `bson:"name" json:"name"`
	Email        string             `bson:"email" json:"email"`    // Unique
	PasswordHash string             `bson:"passwordHash" json:"-"` // Never exposed
	Role         Role               `bson:"role" json:"role"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt" json:"updatedAt"`

	// --- Coach-specific ---
	ClientIDs []primitive.ObjectID `bson:"clientIds,omitempty" json:"clientIds,omitempty"`

	// --- Client-specific ---
	CoachID *primitive.ObjectID `bson:"coachId,omitempty" json:"coachId,omitempty"`
}

func (u *User) IsCoach() bool {
	return u.Role == RoleCoach
}

func (u *User) IsClient() bool {
	return u.Role == RoleClient
}
