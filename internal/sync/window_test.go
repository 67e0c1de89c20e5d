package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIncrementalWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		last     time.Time
		overlap  time.Duration
		lookback time.Duration
		want     Window
	}{
		{
			name: "first run uses default lookback",
			want: Window{From: now.Add(-30 * 24 * time.Hour), To: now},
		},
		{
			name:     "first run with custom lookback",
			lookback: 2 * time.Hour,
			want:     Window{From: now.Add(-2 * time.Hour), To: now},
		},
		{
			name:    "resume with overlap",
			last:    now.Add(-time.Hour),
			overlap: 10 * time.Minute,
			want:    Window{From: now.Add(-70 * time.Minute), To: now},
		},
		{
			name:    "negative overlap is ignored",
			last:    now.Add(-time.Hour),
			overlap: -time.Hour,
			want:    Window{From: now.Add(-time.Hour), To: now},
		},
		{
			name: "cursor in the future is clamped",
			last: now.Add(time.Hour),
			want: Window{From: now, To: now},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IncrementalWindow(tt.last, now, tt.overlap, tt.lookback))
		})
	}
}

func TestRefreshWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, Window{From: now.Add(-48 * time.Hour), To: now}, RefreshWindow(now, 48))
	assert.Equal(t, Window{From: now.Add(-time.Hour), To: now}, RefreshWindow(now, 0))
}
