// Package service provides the read and trigger operations exposed by the
// orchestrator's HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storepilot/sync-orchestrator/internal/schedule"
	"github.com/storepilot/sync-orchestrator/internal/status"
)

var (
	// ErrScheduleDisabled is returned when a disabled schedule is run by hand
	ErrScheduleDisabled = errors.New("schedule is disabled")
	// ErrInvalidSchedule is returned when a schedule fails catalog validation
	ErrInvalidSchedule = errors.New("invalid schedule")
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=service.go OrchestratorService

// OrchestratorService defines the operations behind the HTTP API
type OrchestratorService interface {
	// CheckReadiness reports whether every backing store is reachable
	CheckReadiness(ctx context.Context) error

	// ListJobDefinitions returns the job catalog prepared for display
	ListJobDefinitions() []schedule.ResolvedDefinition

	// ListSchedules returns every schedule with its effective options
	ListSchedules(ctx context.Context) ([]ScheduleView, error)

	// GetSchedule returns one schedule or schedule.ErrScheduleNotFound
	GetSchedule(ctx context.Context, id int64) (*ScheduleView, error)

	// RunSchedule enqueues an immediate run of an enabled schedule
	RunSchedule(ctx context.Context, id int64) error
}

// Firer enqueues one run of a schedule
type Firer interface {
	Fire(ctx context.Context, s schedule.JobSchedule) error
}

// ReadinessCheck probes one dependency
type ReadinessCheck func(ctx context.Context) error

// ScheduleView is a schedule row as returned by the API
type ScheduleView struct {
	ID               int64            `json:"id"`
	JobType          string           `json:"job_type"`
	Label            string           `json:"label"`
	ShopID           *int64           `json:"shop_id,omitempty"`
	Enabled          bool             `json:"enabled"`
	CronExpression   string           `json:"cron_expression"`
	Timezone         string           `json:"timezone"`
	Options          map[string]any   `json:"options"`
	LastRunStatus    status.RunStatus `json:"last_run_status"`
	LastRunStartedAt *time.Time       `json:"last_run_started_at,omitempty"`
	LastRunEndedAt   *time.Time       `json:"last_run_ended_at,omitempty"`
	LastRunMessage   string           `json:"last_run_message,omitempty"`
	ValidationError  string           `json:"validation_error,omitempty"`
}

type orchestratorService struct {
	catalog   *schedule.Catalog
	schedules schedule.Store
	firer     Firer
	checks    map[string]ReadinessCheck
}

// Option configures the service
type Option func(*orchestratorService)

// WithReadinessCheck adds a named dependency probe to CheckReadiness
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(s *orchestratorService) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

// NewService creates the OrchestratorService
func NewService(
	catalog *schedule.Catalog,
	schedules schedule.Store,
	firer Firer,
	opts ...Option,
) (OrchestratorService, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if schedules == nil {
		return nil, fmt.Errorf("schedule store is required")
	}
	if firer == nil {
		return nil, fmt.Errorf("firer is required")
	}

	s := &orchestratorService{
		catalog:   catalog,
		schedules: schedules,
		firer:     firer,
		checks:    map[string]ReadinessCheck{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *orchestratorService) CheckReadiness(ctx context.Context) error {
	var errs []error
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *orchestratorService) ListJobDefinitions() []schedule.ResolvedDefinition {
	return s.catalog.List()
}

func (s *orchestratorService) ListSchedules(ctx context.Context) ([]ScheduleView, error) {
	rows, err := s.schedules.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	views := make([]ScheduleView, 0, len(rows))
	for i := range rows {
		views = append(views, s.view(&rows[i]))
	}
	return views, nil
}

func (s *orchestratorService) GetSchedule(ctx context.Context, id int64) (*ScheduleView, error) {
	row, err := s.schedules.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	view := s.view(row)
	return &view, nil
}

func (s *orchestratorService) RunSchedule(ctx context.Context, id int64) error {
	row, err := s.schedules.Get(ctx, id)
	if err != nil {
		return err
	}
	if !row.Enabled {
		return ErrScheduleDisabled
	}
	if err := row.Validate(s.catalog); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}
	return s.firer.Fire(ctx, *row)
}

func (s *orchestratorService) view(row *schedule.JobSchedule) ScheduleView {
	v := ScheduleView{
		ID:               row.ID,
		JobType:          row.JobType,
		ShopID:           row.ShopID,
		Enabled:          row.Enabled,
		CronExpression:   row.CronExpression,
		Timezone:         row.Timezone,
		Options:          s.catalog.ResolveOptions(row.JobType, row.Options),
		LastRunStatus:    row.LastRunStatus,
		LastRunStartedAt: row.LastRunStartedAt,
		LastRunEndedAt:   row.LastRunEndedAt,
		LastRunMessage:   row.LastRunMessage,
	}
	if v.LastRunStatus == "" {
		v.LastRunStatus = status.RunStatusIdle
	}
	if def, err := s.catalog.Definition(row.JobType); err == nil {
		v.Label = def.Label
	}
	if err := row.Validate(s.catalog); err != nil {
		v.ValidationError = err.Error()
	}
	return v
}
