package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/storepilot/sync-orchestrator/internal/lock"
	"github.com/storepilot/sync-orchestrator/internal/queue"
	"github.com/storepilot/sync-orchestrator/internal/schedule"
	"github.com/storepilot/sync-orchestrator/internal/status"
	"github.com/storepilot/sync-orchestrator/internal/status/mocks"
)

type fakeHandler struct {
	jobType string
	run     func(ctx context.Context, req Request) (string, error)

	mu    sync.Mutex
	calls []Request
}

func (h *fakeHandler) JobType() string { return h.jobType }

func (h *fakeHandler) Run(ctx context.Context, req Request) (string, error) {
	h.mu.Lock()
	h.calls = append(h.calls, req)
	h.mu.Unlock()
	if h.run == nil {
		return "ok", nil
	}
	return h.run(ctx, req)
}

func (h *fakeHandler) Calls() []Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Request(nil), h.calls...)
}

func int64Ptr(v int64) *int64 { return &v }

type runnerFixture struct {
	schedules *schedule.MemoryStore
	recorder  *status.MemoryRecorder
	lockStore *lock.MemoryStore
	runner    *Runner
}

func newRunnerFixture(t *testing.T, handlers ...Handler) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		schedules: schedule.NewMemoryStore(),
		recorder:  status.NewMemoryRecorder(),
		lockStore: lock.NewMemoryStore(),
	}
	runner, err := NewRunner(schedule.DefaultCatalog(), f.schedules, f.recorder, lock.NewManager(f.lockStore))
	require.NoError(t, err)
	require.NoError(t, runner.Register(handlers...))
	f.runner = runner
	return f
}

func scheduledMessage(jobType string, scheduleID int64) queue.Message {
	msg := queue.NewMessage(jobType)
	msg.ScheduleID = int64Ptr(scheduleID)
	return msg
}

func TestRunnerRecordsCompletedRun(t *testing.T) {
	t.Parallel()

	h := &fakeHandler{jobType: schedule.JobOrdersRefreshStatuses}
	f := newRunnerFixture(t, h)
	f.schedules.Put(schedule.JobSchedule{
		ID: 1, JobType: schedule.JobOrdersRefreshStatuses, ShopID: int64Ptr(3), Enabled: true,
		CronExpression: "0 * * * *", Timezone: schedule.DefaultTimezone,
		Options: map[string]any{schedule.OptLookbackHours: 99999, schedule.OptPageSize: 20},
	})

	msg := scheduledMessage(schedule.JobOrdersRefreshStatuses, 1)
	msg.Options = map[string]any{schedule.OptPageSize: 30}
	require.NoError(t, f.runner.Run(context.Background(), msg))

	calls := h.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(3), *calls[0].ShopID)
	assert.Equal(t, 720, calls[0].Options[schedule.OptLookbackHours])
	assert.Equal(t, 30, calls[0].Options[schedule.OptPageSize])
	assert.Equal(t, schedule.QueueSync, calls[0].Options[schedule.OptQueue])

	run, ok := f.recorder.Get(1)
	require.True(t, ok)
	assert.Equal(t, status.RunStatusCompleted, run.Status)
	assert.Equal(t, "ok", run.Message)
	assert.NotNil(t, run.StartedAt)
	assert.NotNil(t, run.EndedAt)
	assert.False(t, f.lockStore.Held(lock.ShopKey(schedule.JobOrdersRefreshStatuses, 3), time.Now()))
}

func TestRunnerRecordsFailedRun(t *testing.T) {
	t.Parallel()

	boom := errors.New("remote list failed")
	h := &fakeHandler{
		jobType: schedule.JobCustomersRecalculate,
		run:     func(context.Context, Request) (string, error) { return "", boom },
	}
	f := newRunnerFixture(t, h)
	f.schedules.Put(schedule.JobSchedule{ID: 2, JobType: schedule.JobCustomersRecalculate, Enabled: true})

	err := f.runner.Run(context.Background(), scheduledMessage(schedule.JobCustomersRecalculate, 2))
	require.ErrorIs(t, err, boom)

	run, ok := f.recorder.Get(2)
	require.True(t, ok)
	assert.Equal(t, status.RunStatusFailed, run.Status)
	assert.Equal(t, "remote list failed", run.Message)
	assert.False(t, f.lockStore.Held(lock.ClassKey(schedule.JobCustomersRecalculate), time.Now()))
}

func TestRunnerRecordsPanicAsFailure(t *testing.T) {
	t.Parallel()

	h := &fakeHandler{
		jobType: schedule.JobVariantsRecalculate,
		run:     func(context.Context, Request) (string, error) { panic("nil map") },
	}
	f := newRunnerFixture(t, h)
	f.schedules.Put(schedule.JobSchedule{ID: 5, JobType: schedule.JobVariantsRecalculate, Enabled: true})

	assert.Panics(t, func() {
		_ = f.runner.Run(context.Background(), scheduledMessage(schedule.JobVariantsRecalculate, 5))
	})

	run, ok := f.recorder.Get(5)
	require.True(t, ok)
	assert.Equal(t, status.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.Message)
	assert.False(t, f.lockStore.Held(lock.ClassKey(schedule.JobVariantsRecalculate), time.Now()))
}

func TestRunnerSkipsWhenLockIsHeld(t *testing.T) {
	t.Parallel()

	h := &fakeHandler{jobType: schedule.JobCustomersApplyTagRules}
	f := newRunnerFixture(t, h)
	f.schedules.Put(schedule.JobSchedule{ID: 7, JobType: schedule.JobCustomersApplyTagRules, Enabled: true})

	other := lock.NewManager(f.lockStore)
	ok, err := other.Acquire(context.Background(), lock.ClassKey(schedule.JobCustomersApplyTagRules), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.runner.Run(context.Background(), scheduledMessage(schedule.JobCustomersApplyTagRules, 7)))
	assert.Empty(t, h.Calls())
	_, recorded := f.recorder.Get(7)
	assert.False(t, recorded)
	assert.True(t, f.lockStore.Held(lock.ClassKey(schedule.JobCustomersApplyTagRules), time.Now()))
}

func TestRunnerSerializesConcurrentRuns(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	h := &fakeHandler{
		jobType: schedule.JobVariantsRecalculate,
		run: func(context.Context, Request) (string, error) {
			close(started)
			<-release
			return "done", nil
		},
	}
	f := newRunnerFixture(t, h)

	errCh := make(chan error, 1)
	go func() { errCh <- f.runner.Run(context.Background(), queue.NewMessage(schedule.JobVariantsRecalculate)) }()
	<-started

	require.NoError(t, f.runner.Run(context.Background(), queue.NewMessage(schedule.JobVariantsRecalculate)))
	close(release)
	require.NoError(t, <-errCh)
	assert.Len(t, h.Calls(), 1)
}

func TestRunnerRejectsInvalidMessages(t *testing.T) {
	t.Parallel()

	h := &fakeHandler{jobType: schedule.JobOrdersSyncIncremental}
	f := newRunnerFixture(t, h)
	f.schedules.Put(schedule.JobSchedule{ID: 1, JobType: schedule.JobCustomersRecalculate, Enabled: true})
	ctx := context.Background()

	err := f.runner.Run(ctx, queue.NewMessage("orders.unknown"))
	require.ErrorIs(t, err, schedule.ErrUnknownJobType)

	err = f.runner.Run(ctx, queue.NewMessage(schedule.JobOrdersSyncIncremental))
	require.ErrorContains(t, err, "requires a shop")

	err = f.runner.Run(ctx, scheduledMessage(schedule.JobOrdersSyncIncremental, 1))
	require.ErrorContains(t, err, "runs customers.recalculate_metrics")

	err = f.runner.Run(ctx, scheduledMessage(schedule.JobOrdersSyncIncremental, 99))
	require.ErrorIs(t, err, schedule.ErrScheduleNotFound)

	assert.Empty(t, h.Calls())
}

func TestRunnerSkipsDisabledSchedule(t *testing.T) {
	t.Parallel()

	h := &fakeHandler{jobType: schedule.JobCustomersRecalculate}
	f := newRunnerFixture(t, h)
	f.schedules.Put(schedule.JobSchedule{ID: 4, JobType: schedule.JobCustomersRecalculate, Enabled: false})

	require.NoError(t, f.runner.Run(context.Background(), scheduledMessage(schedule.JobCustomersRecalculate, 4)))
	assert.Empty(t, h.Calls())

	plan, err := f.runner.Plan(context.Background(), scheduledMessage(schedule.JobCustomersRecalculate, 4))
	require.NoError(t, err)
	assert.NotEmpty(t, plan.Skip)
}

func TestRunnerPlanLockKeys(t *testing.T) {
	t.Parallel()

	f := newRunnerFixture(t,
		&fakeHandler{jobType: schedule.JobOrdersSyncIncremental},
		&fakeHandler{jobType: schedule.JobCustomersRecalculate})

	tests := []struct {
		name    string
		jobType string
		shopID  *int64
		keys    []string
		want    string
	}{
		{
			name:    "shop scoped",
			jobType: schedule.JobOrdersSyncIncremental,
			shopID:  int64Ptr(9),
			want:    "job:orders.sync_incremental:shop:9",
		},
		{
			name:    "job class",
			jobType: schedule.JobCustomersRecalculate,
			want:    "job:customers.recalculate_metrics",
		},
		{
			name:    "keys without a keyed handler",
			jobType: schedule.JobCustomersRecalculate,
			keys:    []string{"c-1"},
			want:    "job:customers.recalculate_metrics",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := queue.NewMessage(tt.jobType)
			msg.ShopID = tt.shopID
			msg.Keys = tt.keys
			plan, err := f.runner.Plan(context.Background(), msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan.LockKey)
			assert.Equal(t, DefaultLockTTL, plan.LockTTL)
		})
	}
}

func TestRunnerPlanUsesHandlerLockPolicy(t *testing.T) {
	t.Parallel()

	tags := &TagRulesHandler{}
	partitions := &PartitionHandler{}
	f := newRunnerFixture(t, tags, partitions)
	ctx := context.Background()

	plan, err := f.runner.Plan(ctx, queue.NewMessage(schedule.JobCustomersApplyTagRules))
	require.NoError(t, err)
	assert.Equal(t, lock.ClassKey(schedule.JobCustomersApplyTagRules), plan.LockKey)

	keyed := queue.NewMessage(schedule.JobCustomersApplyTagRules)
	keyed.Keys = []string{"c-2", "c-1"}
	plan, err = f.runner.Plan(ctx, keyed)
	require.NoError(t, err)
	assert.Equal(t, lock.BatchKey(schedule.JobCustomersApplyTagRules, []string{"c-1", "c-2"}), plan.LockKey)

	plan, err = f.runner.Plan(ctx, queue.NewMessage(schedule.JobOrderItemsMaintainParts))
	require.NoError(t, err)
	assert.Equal(t, PartitionLockTTL, plan.LockTTL)
	assert.Equal(t, 2, plan.Request.Options[schedule.OptHorizonQuarters])
	assert.Equal(t, 12, plan.Request.Options[schedule.OptRetentionQuarters])
}

func TestRunnerRegister(t *testing.T) {
	t.Parallel()

	f := newRunnerFixture(t)
	require.ErrorIs(t, f.runner.Register(&fakeHandler{jobType: "nope"}), schedule.ErrUnknownJobType)
	require.NoError(t, f.runner.Register(&fakeHandler{jobType: schedule.JobCustomersRecalculate}))
	require.Error(t, f.runner.Register(&fakeHandler{jobType: schedule.JobCustomersRecalculate}))

	_, err := NewRunner(nil, f.schedules, f.recorder, lock.NewManager(f.lockStore))
	require.Error(t, err)
	_, err = NewRunner(schedule.DefaultCatalog(), f.schedules, nil, lock.NewManager(f.lockStore))
	require.Error(t, err)
}

func TestRunnerCompletesWhenStatusUpdatesFail(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	recorder := mocks.NewMockRecorder(ctrl)
	recorder.EXPECT().MarkRunning(gomock.Any(), int64(8), gomock.Any()).Return(errors.New("db down"))
	recorder.EXPECT().MarkCompleted(gomock.Any(), int64(8), gomock.Any(), "ok").Return(errors.New("db down"))

	schedules := schedule.NewMemoryStore(schedule.JobSchedule{
		ID: 8, JobType: schedule.JobCustomersRecalculate, Enabled: true,
	})
	runner, err := NewRunner(schedule.DefaultCatalog(), schedules, recorder, lock.NewManager(lock.NewMemoryStore()))
	require.NoError(t, err)
	h := &fakeHandler{jobType: schedule.JobCustomersRecalculate}
	require.NoError(t, runner.Register(h))

	require.NoError(t, runner.Handle(context.Background(), scheduledMessage(schedule.JobCustomersRecalculate, 8)))
	assert.Len(t, h.Calls(), 1)
}
