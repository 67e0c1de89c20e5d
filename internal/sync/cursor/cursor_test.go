package cursor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTimeIsOrderPreserving(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(time.Microsecond),
		base.Add(900 * time.Millisecond),
		base.Add(time.Second),
		base.In(time.FixedZone("CET", 3600)).Add(time.Hour),
	}
	for i := 1; i < len(times); i++ {
		assert.Less(t, FormatTime(times[i-1]), FormatTime(times[i]))
	}

	parsed, err := ParseTime(FormatTime(times[2]))
	require.NoError(t, err)
	assert.True(t, times[2].Equal(parsed))

	_, err = ParseTime("2025-01-02")
	require.Error(t, err)
}

func TestMemoryStoreAdvanceIsMonotonic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, 1, "orders")
	require.ErrorIs(t, err, ErrNotFound)

	t1 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	steps := []struct {
		value     time.Time
		wantMoved bool
		wantValue time.Time
	}{
		{value: t1, wantMoved: true, wantValue: t1},
		{value: t1.Add(time.Hour), wantMoved: true, wantValue: t1.Add(time.Hour)},
		{value: t1.Add(time.Hour), wantMoved: false, wantValue: t1.Add(time.Hour)},
		{value: t1.Add(-time.Hour), wantMoved: false, wantValue: t1.Add(time.Hour)},
		{value: t1.Add(2 * time.Hour), wantMoved: true, wantValue: t1.Add(2 * time.Hour)},
	}

	for _, step := range steps {
		moved, err := store.Advance(ctx, 1, "orders", FormatTime(step.value), map[string]any{"page": 1})
		require.NoError(t, err)
		assert.Equal(t, step.wantMoved, moved)

		c, err := store.Get(ctx, 1, "orders")
		require.NoError(t, err)
		got, err := c.Time()
		require.NoError(t, err)
		assert.True(t, step.wantValue.Equal(got), "want %s got %s", step.wantValue, got)
	}

	// Streams are independent per shop and key.
	_, err = store.Get(ctx, 2, "orders")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, 1, "orders.refresh")
	require.ErrorIs(t, err, ErrNotFound)
}
