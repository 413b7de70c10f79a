package repository

import (
	"alcyxob/coaching-app/internal/domain"
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Error constants for repository layer
var (
	ErrNotFound     = RepositoryError("not found")
	ErrUpdateFailed = RepositoryError("update failed")
	ErrDuplicate    = RepositoryError("duplicate key")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// UserRepository defines the interface for interacting with user data.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (primitive.ObjectID, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error)
}

// TemplateRepository gives read access to session templates plus the usage
// counter update performed after each successful generation.
type TemplateRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.SessionTemplate, error)
	IncrementUsage(ctx context.Context, id primitive.ObjectID, usedAt time.Time) error
}

// SessionRepository creates coaching sessions and answers schedule queries
// used for conflict detection.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.CoachingSession) (primitive.ObjectID, error)
	// FindActiveByClientBetween returns non-cancelled sessions of the client
	// whose date falls in [from, to).
	FindActiveByClientBetween(ctx context.Context, clientID primitive.ObjectID, from, to time.Time) ([]domain.CoachingSession, error)
}

// GenerationRecordRepository stores TemplateSessionRecords.
type GenerationRecordRepository interface {
	Create(ctx context.Context, record *domain.TemplateSessionRecord) (primitive.ObjectID, error)
	GetByTemplateID(ctx context.Context, templateID primitive.ObjectID) ([]domain.TemplateSessionRecord, error)
	GetByParentRecurrenceID(ctx context.Context, parentID string) ([]domain.TemplateSessionRecord, error)
	GetByBatchID(ctx context.Context, batchID string) ([]domain.TemplateSessionRecord, error)
	UsageStats(ctx context.Context, templateID primitive.ObjectID) (*domain.TemplateUsageStats, error)
}
