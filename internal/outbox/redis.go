// Package outbox holds generation records whose write failed after their
// session was created, until a retry stores them.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"alcyxob/coaching-app/internal/domain"

	"github.com/redis/go-redis/v9"
)

const DefaultKey = "outbox:template_sessions"

// Queue is a FIFO of pending TemplateSessionRecords.
// Dequeue returns (nil, nil) when the queue is empty.
type Queue interface {
	Enqueue(ctx context.Context, record *domain.TemplateSessionRecord) error
	Dequeue(ctx context.Context) (*domain.TemplateSessionRecord, error)
	Len(ctx context.Context) (int64, error)
}

type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, record *domain.TemplateSessionRecord) error {
	const op = "outbox.RedisQueue.Enqueue"

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*domain.TemplateSessionRecord, error) {
	const op = "outbox.RedisQueue.Dequeue"

	payload, err := q.client.LPop(ctx, q.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var record domain.TemplateSessionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("%s: unmarshal: %w", op, err)
	}
	return &record, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	const op = "outbox.RedisQueue.Len"

	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
