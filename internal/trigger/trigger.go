// Package trigger fires enabled job schedules on their cron expressions by
// enqueuing a message per firing. It keeps no run state of its own: the job
// lock decides whether a fired run actually executes.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/storepilot/sync-orchestrator/internal/queue"
	"github.com/storepilot/sync-orchestrator/internal/schedule"
)

const (
	// DefaultReloadInterval is how often schedules are re-read from the store.
	DefaultReloadInterval = time.Minute

	reloadJitter   = 5 * time.Second
	enqueueTimeout = 10 * time.Second
)

type entry struct {
	id          cron.EntryID
	fingerprint string
}

// Trigger turns enabled JobSchedule rows into queue messages.
type Trigger struct {
	store          schedule.Store
	catalog        *schedule.Catalog
	enqueuer       queue.Enqueuer
	reloadInterval time.Duration
	logger         *slog.Logger
	reaper         LockReaper

	cron *cron.Cron

	mu      sync.Mutex
	entries map[int64]entry
	baseCtx context.Context

	cancelFunc context.CancelFunc
	done       chan struct{}
}

// LockReaper deletes expired job locks.
type LockReaper interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Option configures a Trigger.
type Option func(*Trigger)

// WithReloadInterval sets how often schedules are re-read.
func WithReloadInterval(d time.Duration) Option {
	return func(t *Trigger) {
		if d > 0 {
			t.reloadInterval = d
		}
	}
}

// WithLogger sets the trigger logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trigger) {
		t.logger = logger
	}
}

// WithLockReaper purges expired job locks on every reload.
func WithLockReaper(r LockReaper) Option {
	return func(t *Trigger) {
		t.reaper = r
	}
}

// New creates a Trigger. Nothing is scheduled until Reload or Start.
func New(store schedule.Store, catalog *schedule.Catalog, enqueuer queue.Enqueuer, opts ...Option) (*Trigger, error) {
	if store == nil {
		return nil, fmt.Errorf("schedule store is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if enqueuer == nil {
		return nil, fmt.Errorf("enqueuer is required")
	}

	t := &Trigger{
		store:          store,
		catalog:        catalog,
		enqueuer:       enqueuer,
		reloadInterval: DefaultReloadInterval,
		logger:         slog.Default(),
		entries:        map[int64]entry{},
		baseCtx:        context.Background(),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.cron = cron.New(
		cron.WithParser(schedule.Parser),
		cron.WithChain(cron.Recover(cronLogger{t.logger})),
	)
	return t, nil
}

// Start schedules the enabled rows and fires them until ctx is cancelled or
// Stop is called. It re-reads the schedules every reload interval.
func (t *Trigger) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancelFunc = cancel
	t.baseCtx = runCtx
	t.mu.Unlock()
	defer close(t.done)

	if _, err := t.Reload(runCtx); err != nil {
		t.logger.ErrorContext(ctx, "Failed to load job schedules", "error", err)
	}
	t.cron.Start()
	t.logger.InfoContext(ctx, "Cron trigger started", "reload_interval", t.reloadInterval)

	ticker := time.NewTicker(t.nextReload())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := t.Reload(runCtx); err != nil {
				t.logger.ErrorContext(ctx, "Failed to reload job schedules", "error", err)
			}
			ticker.Reset(t.nextReload())
		case <-runCtx.Done():
			stopped := t.cron.Stop()
			<-stopped.Done()
			t.logger.InfoContext(ctx, "Cron trigger stopped")
			return nil
		}
	}
}

// Stop stops a started trigger and waits for it to finish.
func (t *Trigger) Stop() error {
	t.mu.Lock()
	cancel := t.cancelFunc
	t.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-t.done
	return nil
}

// nextReload spreads reloads of several instances apart.
func (t *Trigger) nextReload() time.Duration {
	jitter := min(reloadJitter, t.reloadInterval/2)
	if jitter <= 0 {
		return t.reloadInterval
	}
	//nolint:gosec // G404: jitter does not need a secure source
	return t.reloadInterval - jitter + time.Duration(rand.Int64N(int64(2*jitter)))
}

// Reload syncs the cron entries with the enabled schedules and returns the
// number of scheduled rows. Invalid rows are logged and left out.
func (t *Trigger) Reload(ctx context.Context) (int, error) {
	schedules, err := t.store.ListEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list enabled schedules: %w", err)
	}

	wanted := make(map[int64]schedule.JobSchedule, len(schedules))
	for _, s := range schedules {
		if err := s.Validate(t.catalog); err != nil {
			t.logger.WarnContext(ctx, "Ignoring invalid job schedule",
				"schedule_id", s.ID,
				"job_type", s.JobType,
				"error", err)
			continue
		}
		wanted[s.ID] = s
	}

	if t.reaper != nil {
		if _, err := t.reaper.PurgeExpired(ctx); err != nil {
			t.logger.WarnContext(ctx, "Failed to purge expired job locks", "error", err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for id, e := range t.entries {
		s, ok := wanted[id]
		if ok && fingerprint(s) == e.fingerprint {
			continue
		}
		t.cron.Remove(e.id)
		delete(t.entries, id)
		t.logger.DebugContext(ctx, "Job schedule unscheduled", "schedule_id", id)
	}

	for id, s := range wanted {
		if _, ok := t.entries[id]; ok {
			continue
		}
		sched, err := schedule.ParseSchedule(s.CronExpression, s.Timezone)
		if err != nil {
			t.logger.WarnContext(ctx, "Ignoring invalid job schedule", "schedule_id", id, "error", err)
			continue
		}
		entryID := t.cron.Schedule(sched, cron.FuncJob(func() {
			if err := t.Fire(t.context(), s); err != nil {
				t.logger.Error("Failed to enqueue scheduled job",
					"schedule_id", s.ID,
					"job_type", s.JobType,
					"error", err)
			}
		}))
		t.entries[id] = entry{id: entryID, fingerprint: fingerprint(s)}
		t.logger.DebugContext(ctx, "Job schedule scheduled",
			"schedule_id", id,
			"job_type", s.JobType,
			"cron", s.CronExpression,
			"timezone", s.Timezone)
	}
	return len(t.entries), nil
}

func (t *Trigger) context() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baseCtx
}

// Fire enqueues one run of s on the queue named by its options.
func (t *Trigger) Fire(ctx context.Context, s schedule.JobSchedule) error {
	ctx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()

	opts := t.catalog.ResolveOptions(s.JobType, s.Options)
	queueName := schedule.StringValue(opts, schedule.OptQueue, schedule.QueueSync)

	msg := queue.NewMessage(s.JobType)
	msg.ScheduleID = &s.ID
	msg.ShopID = s.ShopID
	if err := t.enqueuer.Enqueue(ctx, queueName, msg); err != nil {
		return err
	}
	t.logger.InfoContext(ctx, "Scheduled job enqueued",
		"schedule_id", s.ID,
		"job_type", s.JobType,
		"queue", queueName,
		"message_id", msg.ID)
	return nil
}

// ScheduledIDs returns the ids of the scheduled rows in ascending order.
func (t *Trigger) ScheduledIDs() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int64, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// fingerprint changes whenever a row must be rescheduled. fmt prints maps
// with sorted keys, so equal options give equal fingerprints.
func fingerprint(s schedule.JobSchedule) string {
	shop := "-"
	if s.ShopID != nil {
		shop = strconv.FormatInt(*s.ShopID, 10)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%v", s.JobType, s.CronExpression, s.Timezone, shop, s.Options)
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
