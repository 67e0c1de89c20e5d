package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps each queue in a Redis list.
type RedisQueue struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisQueue creates a RedisQueue. List keys are "<prefix>:queue:<name>".
func NewRedisQueue(client redis.UniversalClient, prefix string) *RedisQueue {
	return &RedisQueue{client: client, prefix: prefix}
}

func (q *RedisQueue) key(name string) string {
	if q.prefix == "" {
		return "queue:" + name
	}
	return q.prefix + ":queue:" + name
}

// Enqueue implements Enqueuer.
func (q *RedisQueue) Enqueue(ctx context.Context, queue string, msg Message) error {
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if msg.JobType == "" {
		return fmt.Errorf("message job type is required")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
	}
	if err := q.client.LPush(ctx, q.key(queue), payload).Err(); err != nil {
		return fmt.Errorf("failed to push message to queue %s: %w", queue, err)
	}
	return nil
}

// Dequeue implements Queue.
func (q *RedisQueue) Dequeue(ctx context.Context, queues []string, timeout time.Duration) (*Delivery, error) {
	if len(queues) == 0 {
		return nil, fmt.Errorf("at least one queue is required")
	}
	keys := make([]string, len(queues))
	names := make(map[string]string, len(queues))
	for i, name := range queues {
		keys[i] = q.key(name)
		names[keys[i]] = name
	}

	res, err := q.client.BRPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPOP replies with [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of %d elements", len(res))
	}

	name := names[res[0]]

	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil || msg.JobType == "" {
		return nil, fmt.Errorf("%w on queue %s: %q", ErrMalformedMessage, name, truncate(res[1], 200))
	}
	return &Delivery{Queue: name, Message: msg}, nil
}

// Len returns the number of waiting messages on queue.
func (q *RedisQueue) Len(ctx context.Context, queue string) (int64, error) {
	return q.client.LLen(ctx, q.key(queue)).Result()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
