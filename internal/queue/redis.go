package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rejestr/bulkio/internal/config"
)

const readyKey = "bulkio:jobs:ready"

// RedisQueue is a Redis-list backed job queue. Job ids are pushed to the
// tail and popped from the head, so jobs run in submission order.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.RedisConfig) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisQueue{client: client}
}

// NewRedisQueueWithClient wraps an existing client, used in tests.
func NewRedisQueueWithClient(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// Ping verifies connectivity on startup.
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.client.RPush(ctx, readyKey, jobID).Err()
}

// Dequeue pops the next job id, or "" when the queue is empty.
func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	id, err := q.client.LPop(ctx, readyKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// Remove drops a queued id that has not been consumed yet.
func (q *RedisQueue) Remove(ctx context.Context, jobID string) error {
	return q.client.LRem(ctx, readyKey, 0, jobID).Err()
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, readyKey).Result()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
