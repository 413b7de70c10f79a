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

const templateCollectionName = "session_templates"

// mongoTemplateRepository implements repository.TemplateRepository.
type mongoTemplateRepository struct {
	collection *mongo.Collection
}

// NewMongoTemplateRepository creates a Template repository backed by MongoDB.
func NewMongoTemplateRepository(db *mongo.Database) repository.TemplateRepository {
	return &mongoTemplateRepository{
		collection: db.Collection(templateCollectionName),
	}
}

// GetByID retrieves a template, including its per-client customizations.
func (r *mongoTemplateRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.SessionTemplate, error) {
	var tmpl domain.SessionTemplate
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&tmpl)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &tmpl, nil
}

// IncrementUsage bumps the usage counter and stamps lastUsed atomically.
func (r *mongoTemplateRepository) IncrementUsage(ctx context.Context, id primitive.ObjectID, usedAt time.Time) error {
	update := bson.M{
		"$inc": bson.M{"usageCount": 1},
		"$set": bson.M{"lastUsed": usedAt.UTC()},
	}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// EnsureTemplateIndexes creates necessary indexes. Call during startup.
func EnsureTemplateIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			// Coach's template library, most used first
			Keys:    bson.D{{Key: "coachId", Value: 1}, {Key: "usageCount", Value: -1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "isPublic", Value: 1}, {Key: "isActive", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "customizations.clientId", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
