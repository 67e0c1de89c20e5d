package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultDequeueTimeout = 5 * time.Second
	errorPause            = time.Second
)

// Handler runs the job of a message.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Pool runs workers that pull messages from queues and hand them to a Handler.
type Pool struct {
	queue          Queue
	handler        Handler
	concurrency    map[string]int
	dequeueTimeout time.Duration
	jobTimeout     time.Duration
	logger         *slog.Logger
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithDequeueTimeout sets how long one dequeue blocks.
func WithDequeueTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.dequeueTimeout = d
		}
	}
}

// WithJobTimeout bounds each handler call. Zero means no bound.
func WithJobTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		p.jobTimeout = d
	}
}

// WithPoolLogger sets the pool logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// NewPool creates a Pool running concurrency[name] workers for each queue.
func NewPool(queue Queue, handler Handler, concurrency map[string]int, opts ...PoolOption) (*Pool, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if len(concurrency) == 0 {
		return nil, fmt.Errorf("at least one queue must be configured")
	}
	for name, n := range concurrency {
		if name == "" || n < 1 {
			return nil, fmt.Errorf("invalid worker count %d for queue %q", n, name)
		}
	}

	p := &Pool{
		queue:          queue,
		handler:        handler,
		concurrency:    concurrency,
		dequeueTimeout: defaultDequeueTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run starts the workers and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for name, n := range p.concurrency {
		for i := range n {
			g.Go(func() error {
				p.work(ctx, name, i)
				return nil
			})
		}
	}
	p.logger.InfoContext(ctx, "Worker pool started", "queues", p.concurrency)
	err := g.Wait()
	p.logger.InfoContext(ctx, "Worker pool stopped")
	return err
}

func (p *Pool) work(ctx context.Context, queue string, worker int) {
	logger := p.logger.With("queue", queue, "worker", worker)
	for ctx.Err() == nil {
		delivery, err := p.queue.Dequeue(ctx, []string{queue}, p.dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrMalformedMessage) {
				logger.WarnContext(ctx, "Dropping malformed message", "error", err)
				continue
			}
			logger.ErrorContext(ctx, "Failed to dequeue message", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorPause):
			}
			continue
		}
		if delivery == nil {
			continue
		}
		p.process(ctx, logger, delivery.Message)
	}
}

func (p *Pool) process(ctx context.Context, logger *slog.Logger, msg Message) {
	jobCtx := ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Job handler panicked",
				"job_type", msg.JobType,
				"message_id", msg.ID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()

	start := time.Now()
	if err := p.handler.Handle(jobCtx, msg); err != nil {
		logger.ErrorContext(ctx, "Job failed",
			"job_type", msg.JobType,
			"message_id", msg.ID,
			"duration", time.Since(start),
			"error", err)
		return
	}
	logger.DebugContext(ctx, "Job handled",
		"job_type", msg.JobType,
		"message_id", msg.ID,
		"duration", time.Since(start))
}
