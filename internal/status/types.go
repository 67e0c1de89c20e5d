// Package status records the outcome of scheduled job runs on job_schedules.
package status

import "time"

// RunStatus is the last_run_status of a job schedule
type RunStatus string

const (
	// RunStatusIdle means the schedule has never run
	RunStatusIdle RunStatus = "idle"

	// RunStatusRunning means a run is currently in progress
	RunStatusRunning RunStatus = "running"

	// RunStatusCompleted means the last run finished successfully
	RunStatusCompleted RunStatus = "completed"

	// RunStatusFailed means the last run failed
	RunStatusFailed RunStatus = "failed"
)

// Valid reports whether s is one of the known statuses
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusIdle, RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return true
	default:
		return false
	}
}

// Run is the recorded state of the most recent run of a schedule
type Run struct {
	Status    RunStatus
	StartedAt *time.Time
	EndedAt   *time.Time
	Message   string
}

// maxMessageLength bounds last_run_message so a huge error cannot bloat the row
const maxMessageLength = 2000

func truncateMessage(msg string) string {
	runes := []rune(msg)
	if len(runes) <= maxMessageLength {
		return msg
	}
	return string(runes[:maxMessageLength-1]) + "…"
}
