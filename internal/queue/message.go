// Package queue carries job messages between the trigger and the workers.
//
// Messages are JSON documents pushed onto named Redis lists (LPUSH) and
// popped by workers with a blocking BRPOP, so each list is FIFO.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedMessage is returned by Dequeue for payloads that are not a
// Message. The payload is already removed from the queue.
var ErrMalformedMessage = errors.New("malformed queue message")

// Message asks a worker to run one job.
type Message struct {
	ID         string         `json:"id"`
	JobType    string         `json:"job_type"`
	ScheduleID *int64         `json:"schedule_id,omitempty"`
	ShopID     *int64         `json:"shop_id,omitempty"`
	Keys       []string       `json:"keys,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// NewMessage creates a message for jobType with a fresh id.
func NewMessage(jobType string) Message {
	return Message{
		ID:         uuid.NewString(),
		JobType:    jobType,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Enqueuer publishes messages.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue string, msg Message) error
}

// Queue publishes and consumes messages.
type Queue interface {
	Enqueuer

	// Dequeue blocks up to timeout for a message on any of queues. It
	// returns a nil message when the timeout passes.
	Dequeue(ctx context.Context, queues []string, timeout time.Duration) (*Delivery, error)
}

// Delivery is a message together with the queue it came from.
type Delivery struct {
	Queue   string
	Message Message
}
