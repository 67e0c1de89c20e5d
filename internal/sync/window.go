package sync

import "time"

// DefaultInitialLookback is how far back the first incremental run reaches.
const DefaultInitialLookback = 30 * 24 * time.Hour

// Window is a change-time range. A zero bound is open.
type Window struct {
	From time.Time
	To   time.Time
}

// IncrementalWindow returns the window of the next incremental run: from
// last minus overlap up to now. A zero last means no run has completed yet
// and the window starts initialLookback before now.
func IncrementalWindow(last, now time.Time, overlap, initialLookback time.Duration) Window {
	if initialLookback <= 0 {
		initialLookback = DefaultInitialLookback
	}
	if last.IsZero() {
		return Window{From: now.Add(-initialLookback), To: now}
	}

	from := last.Add(-max(overlap, 0))
	if from.After(now) {
		from = now
	}
	return Window{From: from, To: now}
}

// RefreshWindow returns the last lookbackHours hours before now.
func RefreshWindow(now time.Time, lookbackHours int) Window {
	return Window{From: now.Add(-time.Duration(max(lookbackHours, 1)) * time.Hour), To: now}
}
