package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/storepilot/sync-orchestrator/internal/lock"
	"github.com/storepilot/sync-orchestrator/internal/otel"
	"github.com/storepilot/sync-orchestrator/internal/queue"
	"github.com/storepilot/sync-orchestrator/internal/schedule"
	"github.com/storepilot/sync-orchestrator/internal/status"
	"github.com/storepilot/sync-orchestrator/internal/telemetry"
)

const (
	// DefaultLockTTL is used for handlers that do not ask for their own TTL.
	// It exceeds the default worker job timeout.
	DefaultLockTTL = 35 * time.Minute

	statusUpdateTimeout = 10 * time.Second
)

// Request is one job run as seen by a Handler. Options are already merged
// and sanitized.
type Request struct {
	JobType    string
	MessageID  string
	ScheduleID *int64
	ShopID     *int64
	Keys       []string
	Options    map[string]any
}

// Handler runs one job type.
type Handler interface {
	JobType() string

	// Run does the work and returns the message recorded on the schedule.
	Run(ctx context.Context, req Request) (string, error)
}

// LockKeyer is implemented by handlers that lock on something finer than
// the job type. An empty key falls back to the default.
type LockKeyer interface {
	LockKey(req Request) string
}

// LockTTLer is implemented by handlers that need a longer lock TTL.
type LockTTLer interface {
	LockTTL() time.Duration
}

// Plan is what Run would do with a message.
type Plan struct {
	Request Request
	LockKey string
	LockTTL time.Duration

	// Skip explains why the message would not run. Empty when it would.
	Skip string
}

// Runner turns queue messages into guarded job runs: it resolves options,
// takes the job lock, records the run on the schedule and calls the handler.
type Runner struct {
	catalog   *schedule.Catalog
	schedules schedule.Store
	recorder  status.Recorder
	locks     *lock.Manager
	handlers  map[string]Handler

	defaultTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *telemetry.JobMetrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithDefaultLockTTL sets the lock TTL of handlers without their own.
func WithDefaultLockTTL(ttl time.Duration) Option {
	return func(r *Runner) {
		if ttl > 0 {
			r.defaultTTL = ttl
		}
	}
}

// WithClock overrides the time recorded on schedules.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithTracer enables a span per run.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

// WithMetrics sets the job metrics.
func WithMetrics(metrics *telemetry.JobMetrics) Option {
	return func(r *Runner) {
		r.metrics = metrics
	}
}

// NewRunner creates a Runner with no handlers registered.
func NewRunner(
	catalog *schedule.Catalog,
	schedules schedule.Store,
	recorder status.Recorder,
	locks *lock.Manager,
	opts ...Option,
) (*Runner, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if schedules == nil {
		return nil, fmt.Errorf("schedule store is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("status recorder is required")
	}
	if locks == nil {
		return nil, fmt.Errorf("lock manager is required")
	}

	r := &Runner{
		catalog:    catalog,
		schedules:  schedules,
		recorder:   recorder,
		locks:      locks,
		handlers:   map[string]Handler{},
		defaultTTL: DefaultLockTTL,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Register adds handlers. Their job types must be in the catalog.
func (r *Runner) Register(handlers ...Handler) error {
	for _, h := range handlers {
		jobType := h.JobType()
		if !r.catalog.Contains(jobType) {
			return fmt.Errorf("%w: %s", schedule.ErrUnknownJobType, jobType)
		}
		if _, exists := r.handlers[jobType]; exists {
			return fmt.Errorf("handler for %s is already registered", jobType)
		}
		r.handlers[jobType] = h
	}
	return nil
}

// Handle implements queue.Handler.
func (r *Runner) Handle(ctx context.Context, msg queue.Message) error {
	return r.Run(ctx, msg)
}

// Plan resolves msg without running it.
func (r *Runner) Plan(ctx context.Context, msg queue.Message) (*Plan, error) {
	handler, ok := r.handlers[msg.JobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", schedule.ErrUnknownJobType, msg.JobType)
	}
	def, err := r.catalog.Definition(msg.JobType)
	if err != nil {
		return nil, err
	}

	req := Request{
		JobType:    msg.JobType,
		MessageID:  msg.ID,
		ScheduleID: msg.ScheduleID,
		ShopID:     msg.ShopID,
		Keys:       msg.Keys,
	}
	plan := &Plan{}

	var stored map[string]any
	if msg.ScheduleID != nil {
		sched, err := r.schedules.Get(ctx, *msg.ScheduleID)
		if err != nil {
			return nil, fmt.Errorf("failed to load schedule %d: %w", *msg.ScheduleID, err)
		}
		if sched.JobType != msg.JobType {
			return nil, fmt.Errorf("schedule %d runs %s, not %s", sched.ID, sched.JobType, msg.JobType)
		}
		if !sched.Enabled {
			plan.Skip = "schedule is disabled"
		}
		if req.ShopID == nil {
			req.ShopID = sched.ShopID
		}
		stored = sched.Options
	}
	if def.SupportsShopScope && req.ShopID == nil {
		return nil, fmt.Errorf("job type %s requires a shop", msg.JobType)
	}

	req.Options = r.catalog.ResolveOptions(msg.JobType, stored, msg.Options)
	plan.Request = req
	plan.LockKey = r.lockKey(handler, req)
	plan.LockTTL = r.defaultTTL
	if t, ok := handler.(LockTTLer); ok && t.LockTTL() > 0 {
		plan.LockTTL = t.LockTTL()
	}
	return plan, nil
}

func (r *Runner) lockKey(h Handler, req Request) string {
	if k, ok := h.(LockKeyer); ok {
		if key := k.LockKey(req); key != "" {
			return key
		}
	}
	if req.ShopID != nil {
		return lock.ShopKey(req.JobType, *req.ShopID)
	}
	return lock.ClassKey(req.JobType)
}

// Run executes msg. A run skipped because its lock is held returns nil;
// errors of the run itself are recorded on the schedule and returned.
func (r *Runner) Run(ctx context.Context, msg queue.Message) (err error) {
	plan, err := r.Plan(ctx, msg)
	if err != nil {
		return err
	}
	req := plan.Request
	logger := r.logger.With("job_type", req.JobType, "message_id", req.MessageID)
	if req.ShopID != nil {
		logger = logger.With("shop_id", *req.ShopID)
	}
	if plan.Skip != "" {
		logger.InfoContext(ctx, "Skipping job", "reason", plan.Skip)
		return nil
	}

	ctx, span := otel.StartSpan(ctx, r.tracer, "jobs.Runner.Run",
		trace.WithAttributes(
			otel.AttrJobType.String(req.JobType),
			otel.AttrLockKey.String(plan.LockKey),
		))
	defer func() {
		otel.RecordError(span, err)
		span.End()
	}()

	start := r.now()
	err = r.locks.WithLock(ctx, plan.LockKey, plan.LockTTL, func(ctx context.Context) error {
		return r.execute(ctx, logger, r.handlers[req.JobType], req)
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		logger.InfoContext(ctx, "Skipping job, another run holds the lock", "lock_key", plan.LockKey)
		r.metrics.RecordLockSkip(ctx, req.JobType)
		return nil
	}
	r.metrics.RecordJobDuration(ctx, req.JobType, r.now().Sub(start), err == nil)
	return err
}

// execute runs the handler between the running and final status updates.
// The final status defaults to failed so that a panic is recorded too.
func (r *Runner) execute(ctx context.Context, logger *slog.Logger, h Handler, req Request) error {
	startedAt := r.now()
	if req.ScheduleID != nil {
		if err := r.recorder.MarkRunning(ctx, *req.ScheduleID, startedAt); err != nil {
			logger.ErrorContext(ctx, "Failed to mark schedule running",
				"schedule_id", *req.ScheduleID,
				"error", err)
		}
	}

	succeeded := false
	message := "Běh úlohy byl neočekávaně přerušen."
	defer func() {
		r.finish(ctx, logger, req, succeeded, message)
	}()

	logger.InfoContext(ctx, "Starting job", "keys", len(req.Keys))
	result, err := h.Run(ctx, req)
	if err != nil {
		message = err.Error()
		return err
	}

	succeeded, message = true, result
	logger.InfoContext(ctx, "Job completed",
		"duration", r.now().Sub(startedAt),
		"message", result)
	return nil
}

func (r *Runner) finish(ctx context.Context, logger *slog.Logger, req Request, succeeded bool, message string) {
	if req.ScheduleID == nil {
		return
	}
	// The run context may be cancelled by a timeout; the outcome is still recorded.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusUpdateTimeout)
	defer cancel()

	endedAt := r.now()
	var err error
	if succeeded {
		err = r.recorder.MarkCompleted(ctx, *req.ScheduleID, endedAt, message)
	} else {
		err = r.recorder.MarkFailed(ctx, *req.ScheduleID, endedAt, message)
	}
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record job outcome",
			"schedule_id", *req.ScheduleID,
			"succeeded", succeeded,
			"error", err)
	}
}
