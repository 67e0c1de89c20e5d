package trigger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storepilot/sync-orchestrator/internal/lock"
	"github.com/storepilot/sync-orchestrator/internal/queue"
	"github.com/storepilot/sync-orchestrator/internal/schedule"
)

func int64Ptr(v int64) *int64 { return &v }

func newTestTrigger(t *testing.T, store schedule.Store, q queue.Enqueuer) *Trigger {
	t.Helper()
	tr, err := New(store, schedule.DefaultCatalog(), q, WithReloadInterval(50*time.Millisecond))
	require.NoError(t, err)
	return tr
}

func TestReloadTracksEnabledValidSchedules(t *testing.T) {
	t.Parallel()

	store := schedule.NewMemoryStore(
		schedule.JobSchedule{
			ID: 1, JobType: schedule.JobOrdersSyncIncremental, ShopID: int64Ptr(3), Enabled: true,
			CronExpression: "*/15 * * * *", Timezone: schedule.DefaultTimezone,
		},
		schedule.JobSchedule{
			ID: 2, JobType: schedule.JobCustomersRecalculate, Enabled: true,
			CronExpression: "not a cron", Timezone: schedule.DefaultTimezone,
		},
		schedule.JobSchedule{
			ID: 3, JobType: schedule.JobVariantsRecalculate, Enabled: false,
			CronExpression: "0 3 * * *", Timezone: schedule.DefaultTimezone,
		},
		schedule.JobSchedule{
			ID: 4, JobType: schedule.JobOrdersSyncIncremental, Enabled: true,
			CronExpression: "*/15 * * * *", Timezone: schedule.DefaultTimezone,
		},
	)
	tr := newTestTrigger(t, store, queue.NewMemoryQueue())
	ctx := context.Background()

	n, err := tr.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, tr.ScheduledIDs())

	store.Put(schedule.JobSchedule{
		ID: 3, JobType: schedule.JobVariantsRecalculate, Enabled: true,
		CronExpression: "0 3 * * *", Timezone: "UTC",
	})
	first := tr.entries[1].id
	n, err = tr.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 3}, tr.ScheduledIDs())
	assert.Equal(t, first, tr.entries[1].id)

	store.Put(schedule.JobSchedule{
		ID: 1, JobType: schedule.JobOrdersSyncIncremental, ShopID: int64Ptr(3), Enabled: true,
		CronExpression: "*/5 * * * *", Timezone: schedule.DefaultTimezone,
	})
	_, err = tr.Reload(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, tr.entries[1].id)

	store.Put(schedule.JobSchedule{ID: 3, JobType: schedule.JobVariantsRecalculate, Enabled: false})
	_, err = tr.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, tr.ScheduledIDs())
}

type countingReaper struct {
	calls atomic.Int32
	err   error
}

func (r *countingReaper) PurgeExpired(context.Context) (int64, error) {
	r.calls.Add(1)
	return 0, r.err
}

func TestReloadPurgesExpiredLocks(t *testing.T) {
	t.Parallel()

	store := lock.NewMemoryStore()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	locks := lock.NewManager(store, lock.WithClock(func() time.Time { return clock }))
	ok, err := locks.Acquire(context.Background(), "job:stale", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	clock = clock.Add(time.Hour)

	tr, err := New(schedule.NewMemoryStore(), schedule.DefaultCatalog(), queue.NewMemoryQueue(),
		WithLockReaper(locks))
	require.NoError(t, err)
	_, err = tr.Reload(context.Background())
	require.NoError(t, err)
	assert.Zero(t, store.Len())

	failing := &countingReaper{err: errors.New("connection refused")}
	tr, err = New(schedule.NewMemoryStore(), schedule.DefaultCatalog(), queue.NewMemoryQueue(),
		WithLockReaper(failing))
	require.NoError(t, err)
	_, err = tr.Reload(context.Background())
	require.NoError(t, err, "a failed purge does not fail the reload")
	assert.Equal(t, int32(1), failing.calls.Load())
}

func TestFireUsesScheduleQueue(t *testing.T) {
	t.Parallel()

	q := queue.NewMemoryQueue()
	tr := newTestTrigger(t, schedule.NewMemoryStore(), q)
	ctx := context.Background()

	s := schedule.JobSchedule{
		ID: 9, JobType: schedule.JobOrdersSyncIncremental, ShopID: int64Ptr(3), Enabled: true,
		Options: map[string]any{schedule.OptQueue: "priority"},
	}
	require.NoError(t, tr.Fire(ctx, s))
	require.NoError(t, tr.Fire(ctx, schedule.JobSchedule{ID: 10, JobType: schedule.JobOrderItemsMaintainParts}))

	pending := q.Pending("priority")
	require.Len(t, pending, 1)
	assert.Equal(t, schedule.JobOrdersSyncIncremental, pending[0].JobType)
	assert.Equal(t, int64(9), *pending[0].ScheduleID)
	assert.Equal(t, int64(3), *pending[0].ShopID)
	assert.Nil(t, pending[0].Options)

	maintenance := q.Pending(schedule.QueueMaintenance)
	require.Len(t, maintenance, 1)
	assert.Nil(t, maintenance[0].ShopID)
}

func TestStartFiresAndStops(t *testing.T) {
	t.Parallel()

	q := queue.NewMemoryQueue()
	store := schedule.NewMemoryStore(schedule.JobSchedule{
		ID: 1, JobType: schedule.JobCustomersRecalculate, Enabled: true,
		CronExpression: "@every 1s", Timezone: "UTC",
	})
	tr := newTestTrigger(t, store, q)

	errCh := make(chan error, 1)
	go func() { errCh <- tr.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		return len(q.Pending(schedule.QueueMetrics)) > 0
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(tr.ScheduledIDs()) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, tr.Stop())
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("trigger did not stop")
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	q := queue.NewMemoryQueue()
	store := schedule.NewMemoryStore()
	_, err := New(nil, schedule.DefaultCatalog(), q)
	require.Error(t, err)
	_, err = New(store, nil, q)
	require.Error(t, err)
	_, err = New(store, schedule.DefaultCatalog(), nil)
	require.Error(t, err)

	tr, err := New(store, schedule.DefaultCatalog(), q)
	require.NoError(t, err)
	require.NoError(t, tr.Stop())
}
