package mongo

import (
	"alcyxob/coaching-app/internal/domain"
	"alcyxob/coaching-app/internal/repository"
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const sessionCollectionName = "coaching_sessions"

// mongoSessionRepository implements repository.SessionRepository
type mongoSessionRepository struct {
	collection *mongo.Collection
}

// NewMongoSessionRepository creates a new CoachingSession repository.
func NewMongoSessionRepository(db *mongo.Database) repository.SessionRepository {
	return &mongoSessionRepository{
		collection: db.Collection(sessionCollectionName),
	}
}

// Create inserts a new coaching session.
func (r *mongoSessionRepository) Create(ctx context.Context, session *domain.CoachingSession) (primitive.ObjectID, error) {
	if session.CoachID == primitive.NilObjectID || session.ClientID == primitive.NilObjectID || session.Date.IsZero() {
		return primitive.NilObjectID, errors.New("session requires coachId, clientId and date")
	}
	session.ID = primitive.NewObjectID()
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = domain.SessionPending
	}

	result, err := r.collection.InsertOne(ctx, session)
	if err != nil {
		return primitive.NilObjectID, err
	}
	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted session ID")
	}
	return insertedID, nil
}

// FindActiveByClientBetween returns the client's non-cancelled sessions in [from, to).
func (r *mongoSessionRepository) FindActiveByClientBetween(ctx context.Context, clientID primitive.ObjectID, from, to time.Time) ([]domain.CoachingSession, error) {
	var sessions []domain.CoachingSession
	filter := bson.M{
		"clientId": clientID,
		"date":     bson.M{"$gte": from, "$lt": to},
		"status":   bson.M{"$ne": domain.SessionCancelled},
	}
	findOptions := options.Find().SetSort(bson.D{{Key: "date", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	if err = cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	if err = cursor.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// EnsureSessionIndexes creates necessary indexes. Call during startup.
func EnsureSessionIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			// Conflict lookups: client's sessions in a date window
			Keys:    bson.D{{Key: "clientId", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "coachId", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index(),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
