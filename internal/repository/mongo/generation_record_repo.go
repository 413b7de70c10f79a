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

const generationRecordCollectionName = "template_sessions"

// mongoGenerationRecordRepository implements repository.GenerationRecordRepository
type mongoGenerationRecordRepository struct {
	collection *mongo.Collection
}

// NewMongoGenerationRecordRepository creates a TemplateSessionRecord repository backed by MongoDB.
func NewMongoGenerationRecordRepository(db *mongo.Database) repository.GenerationRecordRepository {
	return &mongoGenerationRecordRepository{
		collection: db.Collection(generationRecordCollectionName),
	}
}

// Create inserts a generation record. Records carrying an ID (replayed from
// the outbox) keep it, so a retried insert of the same record is detected as
// a duplicate instead of producing a second copy.
func (r *mongoGenerationRecordRepository) Create(ctx context.Context, record *domain.TemplateSessionRecord) (primitive.ObjectID, error) {
	if record.TemplateID == primitive.NilObjectID || record.ClientID == primitive.NilObjectID {
		return primitive.NilObjectID, errors.New("generation record requires templateId and clientId")
	}
	if record.ID == primitive.NilObjectID {
		record.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	if record.GenerationStatus == "" {
		record.GenerationStatus = domain.GenerationPending
	}

	result, err := r.collection.InsertOne(ctx, record)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return record.ID, repository.ErrDuplicate
		}
		return primitive.NilObjectID, err
	}
	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted generation record ID")
	}
	return insertedID, nil
}

// GetByTemplateID lists records for a template, newest first.
func (r *mongoGenerationRecordRepository) GetByTemplateID(ctx context.Context, templateID primitive.ObjectID) ([]domain.TemplateSessionRecord, error) {
	return r.find(ctx, bson.M{"templateId": templateID}, bson.D{{Key: "createdAt", Value: -1}})
}

// GetByParentRecurrenceID lists the siblings of a series in sequence order.
func (r *mongoGenerationRecordRepository) GetByParentRecurrenceID(ctx context.Context, parentID string) ([]domain.TemplateSessionRecord, error) {
	return r.find(ctx, bson.M{"parentRecurrenceId": parentID}, bson.D{{Key: "recurrenceSequence", Value: 1}})
}

// GetByBatchID lists every record produced under a batch.
func (r *mongoGenerationRecordRepository) GetByBatchID(ctx context.Context, batchID string) ([]domain.TemplateSessionRecord, error) {
	return r.find(ctx, bson.M{"batchId": batchID}, bson.D{{Key: "clientId", Value: 1}, {Key: "recurrenceSequence", Value: 1}})
}

func (r *mongoGenerationRecordRepository) find(ctx context.Context, filter bson.M, sort bson.D) ([]domain.TemplateSessionRecord, error) {
	var records []domain.TemplateSessionRecord
	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	if err = cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	if err = cursor.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

type usageStatsRow struct {
	Total           int        `bson:"total"`
	Pending         int        `bson:"pending"`
	Generated       int        `bson:"generated"`
	Failed          int        `bson:"failed"`
	Cancelled       int        `bson:"cancelled"`
	FromRecurrence  int        `bson:"fromRecurrence"`
	LastGeneratedAt *time.Time `bson:"lastGeneratedAt"`
}

func countStatus(status domain.GenerationStatus) bson.M {
	return bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$generationStatus", status}}, 1, 0}}}
}

// UsageStats rolls up record counts per status for a template.
func (r *mongoGenerationRecordRepository) UsageStats(ctx context.Context, templateID primitive.ObjectID) (*domain.TemplateUsageStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"templateId": templateID}}},
		{{Key: "$group", Value: bson.M{
			"_id":             nil,
			"total":           bson.M{"$sum": 1},
			"pending":         countStatus(domain.GenerationPending),
			"generated":       countStatus(domain.GenerationGenerated),
			"failed":          countStatus(domain.GenerationFailed),
			"cancelled":       countStatus(domain.GenerationCancelled),
			"fromRecurrence":  bson.M{"$sum": bson.M{"$cond": bson.A{"$isFromRecurrence", 1, 0}}},
			"lastGeneratedAt": bson.M{"$max": "$generatedAt"},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []usageStatsRow
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	stats := &domain.TemplateUsageStats{TemplateID: templateID}
	if len(rows) == 0 {
		return stats, nil
	}
	row := rows[0]
	stats.TotalRecords = row.Total
	stats.Pending = row.Pending
	stats.Generated = row.Generated
	stats.Failed = row.Failed
	stats.Cancelled = row.Cancelled
	stats.FromRecurrence = row.FromRecurrence
	stats.LastGeneratedAt = row.LastGeneratedAt
	return stats, nil
}

// EnsureGenerationRecordIndexes creates necessary indexes. Call during startup.
func EnsureGenerationRecordIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "templateId", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "parentRecurrenceId", Value: 1}, {Key: "recurrenceSequence", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "batchId", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		{
			// One tracking record per session; failed occurrences have no session
			Keys: bson.D{{Key: "sessionId", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{
				"sessionId": bson.M{"$exists": true},
			}),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
