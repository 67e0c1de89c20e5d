package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/storepilot/sync-orchestrator/internal/db"
)

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks -source=recorder.go Recorder

// Recorder persists the outcome of job runs
type Recorder interface {
	// MarkRunning records that a run of the schedule started
	MarkRunning(ctx context.Context, scheduleID int64, startedAt time.Time) error

	// MarkCompleted records a successful run with a human readable message
	MarkCompleted(ctx context.Context, scheduleID int64, endedAt time.Time, message string) error

	// MarkFailed records a failed run with the failure message
	MarkFailed(ctx context.Context, scheduleID int64, endedAt time.Time, message string) error
}

type dbRecorder struct {
	db db.DBTX
}

// NewDBRecorder creates a Recorder that updates the job_schedules table
func NewDBRecorder(conn db.DBTX) Recorder {
	return &dbRecorder{db: conn}
}

func (r *dbRecorder) MarkRunning(ctx context.Context, scheduleID int64, startedAt time.Time) error {
	_, err := r.db.Exec(ctx, `
UPDATE job_schedules
SET last_run_status = $2, last_run_started_at = $3, last_run_ended_at = NULL,
    last_run_message = NULL, updated_at = $3
WHERE id = $1`, scheduleID, string(RunStatusRunning), startedAt)
	if err != nil {
		return fmt.Errorf("failed to mark schedule %d running: %w", scheduleID, err)
	}
	return nil
}

func (r *dbRecorder) MarkCompleted(ctx context.Context, scheduleID int64, endedAt time.Time, message string) error {
	return r.finish(ctx, scheduleID, RunStatusCompleted, endedAt, message)
}

func (r *dbRecorder) MarkFailed(ctx context.Context, scheduleID int64, endedAt time.Time, message string) error {
	return r.finish(ctx, scheduleID, RunStatusFailed, endedAt, message)
}

func (r *dbRecorder) finish(
	ctx context.Context, scheduleID int64, runStatus RunStatus, endedAt time.Time, message string,
) error {
	_, err := r.db.Exec(ctx, `
UPDATE job_schedules
SET last_run_status = $2, last_run_ended_at = $3, last_run_message = $4, updated_at = $3
WHERE id = $1`, scheduleID, string(runStatus), endedAt, truncateMessage(message))
	if err != nil {
		return fmt.Errorf("failed to mark schedule %d %s: %w", scheduleID, runStatus, err)
	}
	return nil
}

// MemoryRecorder keeps run states in memory. It is used by dry runs.
type MemoryRecorder struct {
	mu       sync.Mutex
	runs     map[int64]Run
	observer func(scheduleID int64, run Run)
}

// MemoryRecorderOption configures a MemoryRecorder
type MemoryRecorderOption func(*MemoryRecorder)

// WithRunObserver calls fn after every state change, outside the recorder lock
func WithRunObserver(fn func(scheduleID int64, run Run)) MemoryRecorderOption {
	return func(m *MemoryRecorder) {
		m.observer = fn
	}
}

// NewMemoryRecorder creates an empty MemoryRecorder
func NewMemoryRecorder(opts ...MemoryRecorderOption) *MemoryRecorder {
	m := &MemoryRecorder{runs: map[int64]Run{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MarkRunning implements Recorder
func (m *MemoryRecorder) MarkRunning(_ context.Context, scheduleID int64, startedAt time.Time) error {
	m.mu.Lock()
	run := Run{Status: RunStatusRunning, StartedAt: &startedAt}
	m.runs[scheduleID] = run
	m.mu.Unlock()

	m.notify(scheduleID, run)
	return nil
}

// MarkCompleted implements Recorder
func (m *MemoryRecorder) MarkCompleted(_ context.Context, scheduleID int64, endedAt time.Time, message string) error {
	m.finish(scheduleID, RunStatusCompleted, endedAt, message)
	return nil
}

// MarkFailed implements Recorder
func (m *MemoryRecorder) MarkFailed(_ context.Context, scheduleID int64, endedAt time.Time, message string) error {
	m.finish(scheduleID, RunStatusFailed, endedAt, message)
	return nil
}

func (m *MemoryRecorder) finish(scheduleID int64, runStatus RunStatus, endedAt time.Time, message string) {
	m.mu.Lock()
	run := m.runs[scheduleID]
	run.Status = runStatus
	run.EndedAt = &endedAt
	run.Message = truncateMessage(message)
	m.runs[scheduleID] = run
	m.mu.Unlock()

	m.notify(scheduleID, run)
}

func (m *MemoryRecorder) notify(scheduleID int64, run Run) {
	if m.observer != nil {
		m.observer(scheduleID, run)
	}
}

// Get returns the recorded run of a schedule
func (m *MemoryRecorder) Get(scheduleID int64) (Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[scheduleID]
	return run, ok
}
