package partition

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	mu         sync.Mutex
	partitions map[string][2]time.Time
	failCreate map[string]error
	failDrop   map[string]error
}

func newFakeCatalog(existing ...string) *fakeCatalog {
	c := &fakeCatalog{
		partitions: map[string][2]time.Time{},
		failCreate: map[string]error{},
		failDrop:   map[string]error{},
	}
	for _, name := range existing {
		c.partitions[name] = [2]time.Time{}
	}
	return c
}

func (c *fakeCatalog) Exists(_ context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.partitions[name]
	return ok, nil
}

func (c *fakeCatalog) Create(_ context.Context, _, name string, from, to time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failCreate[name]; err != nil {
		return err
	}
	c.partitions[name] = [2]time.Time{from, to}
	return nil
}

func (c *fakeCatalog) Drop(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failDrop[name]; err != nil {
		return err
	}
	delete(c.partitions, name)
	return nil
}

func (c *fakeCatalog) ListChildren(context.Context, string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.partitions)), nil
}

func clockAt(t time.Time) Option {
	return WithClock(func() time.Time { return t })
}

func TestEnsureFuturePartitionsCoversHorizon(t *testing.T) {
	t.Parallel()

	dates := []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2025, 11, 15, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 23, 0, 0, 0, time.FixedZone("CET", -3600)),
	}

	for _, now := range dates {
		t.Run(now.String(), func(t *testing.T) {
			t.Parallel()

			catalog := newFakeCatalog()
			m, err := NewMaintainer(catalog, clockAt(now))
			require.NoError(t, err)

			report, err := m.EnsureFuturePartitions(context.Background(), 2)
			require.NoError(t, err)
			require.NoError(t, report.Err())
			require.Len(t, report.Created, 3)

			ranges := slices.Collect(maps.Values(catalog.partitions))
			slices.SortFunc(ranges, func(a, b [2]time.Time) int { return a[0].Compare(b[0]) })

			// Contiguous from the current quarter through two more.
			assert.False(t, ranges[0][0].After(now))
			for i := 1; i < len(ranges); i++ {
				assert.Equal(t, ranges[i-1][1], ranges[i][0])
			}
			end := QuarterOf(now).Add(2).To()
			assert.Equal(t, end, ranges[len(ranges)-1][1])
			// Two whole quarters are at least 181 days.
			assert.GreaterOrEqual(t, end.Sub(now), 181*24*time.Hour)
		})
	}
}

func TestEnsureFuturePartitionsSkipsExisting(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)
	catalog := newFakeCatalog("order_items_2025q2")
	m, err := NewMaintainer(catalog, clockAt(now))
	require.NoError(t, err)

	report, err := m.EnsureFuturePartitions(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"order_items_2025q2"}, report.Existing)
	assert.Equal(t, []string{"order_items_2025q3"}, report.Created)

	again, err := m.EnsureFuturePartitions(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Len(t, again.Existing, 2)
}

func TestEnsureFuturePartitionsContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)
	catalog := newFakeCatalog()
	boom := errors.New("relation overlaps default partition rows")
	catalog.failCreate["order_items_2025q3"] = boom

	m, err := NewMaintainer(catalog, clockAt(now))
	require.NoError(t, err)

	report, err := m.EnsureFuturePartitions(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"order_items_2025q2", "order_items_2025q4"}, report.Created)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, OperationCreate, report.Failures[0].Operation)
	assert.Equal(t, "order_items_2025q3", report.Failures[0].Partition)
	assert.ErrorIs(t, report.Err(), boom)
}

func TestPruneOldPartitions(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC) // 2025q3
	catalog := newFakeCatalog(
		"order_items_default",
		"order_items_2024q1",
		"order_items_2024q2",
		"order_items_2024q3",
		"order_items_2024q4",
		"order_items_2025q3",
		"other_table_2020q1",
	)
	boom := errors.New("lock timeout")
	catalog.failDrop["order_items_2024q1"] = boom

	m, err := NewMaintainer(catalog, clockAt(now))
	require.NoError(t, err)

	// Retention of 4 quarters keeps 2024q3 onwards.
	report, err := m.PruneOldPartitions(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"order_items_2024q2"}, report.Dropped)
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0], boom)

	children, err := catalog.ListChildren(context.Background(), DefaultTable)
	require.NoError(t, err)
	assert.Contains(t, children, "order_items_default")
	assert.Contains(t, children, "order_items_2024q3")
	assert.Contains(t, children, "other_table_2020q1")
}

func TestMaintainerRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	_, err := NewMaintainer(nil)
	require.Error(t, err)
	_, err = NewMaintainer(newFakeCatalog(), WithTable(""))
	require.Error(t, err)

	m, err := NewMaintainer(newFakeCatalog())
	require.NoError(t, err)
	_, err = m.EnsureFuturePartitions(context.Background(), -1)
	require.Error(t, err)
	_, err = m.PruneOldPartitions(context.Background(), 0)
	require.Error(t, err)
}

func TestReportMerge(t *testing.T) {
	t.Parallel()

	r := &Report{Created: []string{"a"}}
	r.Merge(&Report{Dropped: []string{"b"}, Failures: []*OperationError{{Operation: OperationDrop, Partition: "c", Err: fmt.Errorf("x")}}})
	r.Merge(nil)
	assert.Equal(t, []string{"a"}, r.Created)
	assert.Equal(t, []string{"b"}, r.Dropped)
	assert.EqualError(t, r.Err(), "failed to drop partition c: x")
}
