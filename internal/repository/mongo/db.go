package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second
)

// ConnectDB connects to uri and verifies the primary answers a ping.
func ConnectDB(uri string) (*mongo.Client, error) {
	const op = "mongo.ConnectDB"

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), pingTimeout)
	defer pingCancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = DisconnectDB(client)
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}
	return client, nil
}

func DisconnectDB(client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes of every collection this service owns.
// It stops at the first failure.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	steps := []struct {
		collection string
		ensure     func(context.Context, *mongo.Collection) error
	}{
		{userCollectionName, EnsureUserIndexes},
		{templateCollectionName, EnsureTemplateIndexes},
		{sessionCollectionName, EnsureSessionIndexes},
		{generationRecordCollectionName, EnsureGenerationRecordIndexes},
	}
	for _, s := range steps {
		if err := s.ensure(ctx, db.Collection(s.collection)); err != nil {
			return fmt.Errorf("ensure indexes on %s: %w", s.collection, err)
		}
	}
	return nil
}
