package schedule

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/storepilot/sync-orchestrator/internal/db"
	"github.com/storepilot/sync-orchestrator/internal/status"
)

// ErrScheduleNotFound is returned when a schedule row does not exist.
var ErrScheduleNotFound = errors.New("schedule not found")

// JobSchedule is one row of job_schedules.
type JobSchedule struct {
	ID               int64
	JobType          string
	ShopID           *int64
	Enabled          bool
	CronExpression   string
	Timezone         string
	Options          map[string]any
	LastRunStatus    status.RunStatus
	LastRunStartedAt *time.Time
	LastRunEndedAt   *time.Time
	LastRunMessage   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate checks the row against the catalog: the job type must be known,
// shop scope must match the definition and the cron/timezone must parse.
func (s *JobSchedule) Validate(c *Catalog) error {
	def, err := c.Definition(s.JobType)
	if err != nil {
		return err
	}
	if s.ShopID != nil && !def.SupportsShopScope {
		return fmt.Errorf("job type %s does not support a shop scope", s.JobType)
	}
	if s.ShopID == nil && def.SupportsShopScope {
		return fmt.Errorf("job type %s requires a shop", s.JobType)
	}
	if err := ValidateCron(s.CronExpression, s.Timezone); err != nil {
		return err
	}
	if errs := c.ValidateOptions(s.JobType, s.Options); len(errs) > 0 {
		return fmt.Errorf("invalid options: %v", errs)
	}
	return nil
}

// Store reads job schedules.
type Store interface {
	// Get returns the schedule with the given id or ErrScheduleNotFound.
	Get(ctx context.Context, id int64) (*JobSchedule, error)

	// List returns all schedules ordered by id.
	List(ctx context.Context) ([]JobSchedule, error)

	// ListEnabled returns enabled schedules ordered by id.
	ListEnabled(ctx context.Context) ([]JobSchedule, error)
}

type dbStore struct {
	db db.DBTX
}

// NewDBStore creates a Store backed by the job_schedules table.
func NewDBStore(conn db.DBTX) Store {
	return &dbStore{db: conn}
}

const selectSchedules = `
SELECT id, job_type, shop_id, enabled, cron_expression, timezone, options,
       last_run_status, last_run_started_at, last_run_ended_at,
       COALESCE(last_run_message, ''), created_at, updated_at
FROM job_schedules`

func (s *dbStore) Get(ctx context.Context, id int64) (*JobSchedule, error) {
	rows, err := s.db.Query(ctx, selectSchedules+` WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule %d: %w", id, err)
	}
	schedules, err := collectSchedules(rows)
	if err != nil {
		return nil, err
	}
	if len(schedules) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrScheduleNotFound, id)
	}
	return &schedules[0], nil
}

func (s *dbStore) List(ctx context.Context) ([]JobSchedule, error) {
	rows, err := s.db.Query(ctx, selectSchedules+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return collectSchedules(rows)
}

func (s *dbStore) ListEnabled(ctx context.Context) ([]JobSchedule, error) {
	rows, err := s.db.Query(ctx, selectSchedules+` WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled schedules: %w", err)
	}
	return collectSchedules(rows)
}

func collectSchedules(rows pgx.Rows) ([]JobSchedule, error) {
	schedules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (JobSchedule, error) {
		var (
			s         JobSchedule
			runStatus string
		)
		err := row.Scan(
			&s.ID, &s.JobType, &s.ShopID, &s.Enabled, &s.CronExpression, &s.Timezone, &s.Options,
			&runStatus, &s.LastRunStartedAt, &s.LastRunEndedAt,
			&s.LastRunMessage, &s.CreatedAt, &s.UpdatedAt,
		)
		s.LastRunStatus = status.RunStatus(runStatus)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan schedules: %w", err)
	}
	return schedules, nil
}

// MemoryStore is an in-process Store used by dry runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	schedules map[int64]JobSchedule
}

// NewMemoryStore creates a MemoryStore holding the given schedules.
func NewMemoryStore(schedules ...JobSchedule) *MemoryStore {
	m := &MemoryStore{schedules: make(map[int64]JobSchedule, len(schedules))}
	for _, s := range schedules {
		m.schedules[s.ID] = s
	}
	return m
}

// Put inserts or replaces a schedule.
func (m *MemoryStore) Put(s JobSchedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id int64) (*JobSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrScheduleNotFound, id)
	}
	return &s, nil
}

// ApplyRun copies a recorded run onto the last_run fields of schedule id.
// Unknown ids are ignored.
func (m *MemoryStore) ApplyRun(id int64, run status.Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return
	}
	s.LastRunStatus = run.Status
	s.LastRunStartedAt = run.StartedAt
	s.LastRunEndedAt = run.EndedAt
	s.LastRunMessage = run.Message
	m.schedules[id] = s
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]JobSchedule, error) {
	return m.filter(func(JobSchedule) bool { return true }), nil
}

// ListEnabled implements Store.
func (m *MemoryStore) ListEnabled(_ context.Context) ([]JobSchedule, error) {
	return m.filter(func(s JobSchedule) bool { return s.Enabled }), nil
}

func (m *MemoryStore) filter(keep func(JobSchedule) bool) []JobSchedule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]JobSchedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		if keep(s) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b JobSchedule) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
