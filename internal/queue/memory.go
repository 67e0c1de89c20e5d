package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for single instance runs and tests.
type MemoryQueue struct {
	mu     sync.Mutex
	lists  map[string][]Message
	signal chan struct{}
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{lists: map[string][]Message{}, signal: make(chan struct{})}
}

// Enqueue implements Enqueuer.
func (q *MemoryQueue) Enqueue(_ context.Context, queue string, msg Message) error {
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if msg.JobType == "" {
		return fmt.Errorf("message job type is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lists[queue] = append(q.lists[queue], msg)
	close(q.signal)
	q.signal = make(chan struct{})
	return nil
}

// Dequeue implements Queue.
func (q *MemoryQueue) Dequeue(ctx context.Context, queues []string, timeout time.Duration) (*Delivery, error) {
	if len(queues) == 0 {
		return nil, fmt.Errorf("at least one queue is required")
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		for _, name := range queues {
			if list := q.lists[name]; len(list) > 0 {
				msg := list[0]
				q.lists[name] = list[1:]
				q.mu.Unlock()
				return &Delivery{Queue: name, Message: msg}, nil
			}
		}
		signal := q.signal
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-signal:
		}
	}
}

// Pending returns the messages waiting on queue.
func (q *MemoryQueue) Pending(queue string) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.lists[queue]...)
}
