// Package schedule holds the catalog of recurring job types, their option
// policies and the persisted job_schedules rows.
package schedule

import (
	"errors"
	"fmt"
	"maps"
	"sync"
)

// ErrUnknownJobType is returned when a job type is not registered in the catalog.
var ErrUnknownJobType = errors.New("unknown job type")

// Frequency is the default recurrence of a job type.
type Frequency string

const (
	// FrequencyEveryMinutes runs every IntervalMinutes minutes
	FrequencyEveryMinutes Frequency = "every_minutes"
	// FrequencyHourly runs once an hour
	FrequencyHourly Frequency = "hourly"
	// FrequencyDaily runs once a day
	FrequencyDaily Frequency = "daily"
	// FrequencyCustom uses an arbitrary cron expression
	FrequencyCustom Frequency = "custom"
)

// Label returns the Czech label shown in the dashboard.
func (f Frequency) Label(intervalMinutes int) string {
	switch f {
	case FrequencyEveryMinutes:
		return fmt.Sprintf("Každých %d minut", intervalMinutes)
	case FrequencyHourly:
		return "Každou hodinu"
	case FrequencyDaily:
		return "Denně"
	default:
		return "Vlastní"
	}
}

// Definition is the static, code-defined description of a job type.
type Definition struct {
	JobType           string
	Label             string
	Description       string
	DefaultFrequency  Frequency
	IntervalMinutes   int
	DefaultCron       string
	DefaultTimezone   string
	SupportsShopScope bool
	Policy            OptionPolicy
}

// DefaultOptions returns the default option map derived from the policy.
func (d Definition) DefaultOptions() map[string]any {
	opts := make(map[string]any, len(d.Policy))
	for _, rule := range d.Policy {
		opts[rule.Key()] = rule.Default()
	}
	return opts
}

// ResolvedDefinition is a definition prepared for display.
type ResolvedDefinition struct {
	JobType           string           `json:"job_type"`
	Label             string           `json:"label"`
	Description       string           `json:"description"`
	DefaultFrequency  Frequency        `json:"default_frequency"`
	FrequencyLabel    string           `json:"frequency_label"`
	DefaultCron       string           `json:"default_cron"`
	DefaultTimezone   string           `json:"default_timezone"`
	SupportsShopScope bool             `json:"supports_shop_scope"`
	DefaultOptions    map[string]any   `json:"default_options"`
	Options           []ResolvedOption `json:"options"`
}

// Catalog maps job types to their definitions. It is safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	order []string
}

// NewCatalog creates a catalog from the given definitions.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for _, def := range defs {
		if err := c.Register(def); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds a job type. Registering the same job type twice is an error.
func (c *Catalog) Register(def Definition) error {
	if def.JobType == "" {
		return fmt.Errorf("job type is required")
	}
	if def.DefaultCron != "" {
		if err := ValidateCron(def.DefaultCron, def.DefaultTimezone); err != nil {
			return fmt.Errorf("job type %s: %w", def.JobType, err)
		}
	}

	seen := make(map[string]bool, len(def.Policy))
	for _, rule := range def.Policy {
		if seen[rule.Key()] {
			return fmt.Errorf("job type %s: duplicate option %q", def.JobType, rule.Key())
		}
		seen[rule.Key()] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.defs[def.JobType]; exists {
		return fmt.Errorf("job type %s is already registered", def.JobType)
	}
	c.defs[def.JobType] = def
	c.order = append(c.order, def.JobType)
	return nil
}

// Keys returns all job types in registration order.
func (c *Catalog) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Contains reports whether jobType is registered.
func (c *Catalog) Contains(jobType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.defs[jobType]
	return ok
}

// Definition returns the definition of jobType or ErrUnknownJobType.
func (c *Catalog) Definition(jobType string) (Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[jobType]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	return def, nil
}

// DefaultOptions returns the default options of jobType, or nil when unknown.
func (c *Catalog) DefaultOptions(jobType string) map[string]any {
	def, err := c.Definition(jobType)
	if err != nil {
		return nil
	}
	return def.DefaultOptions()
}

// List returns every definition with labels resolved for display.
func (c *Catalog) List() []ResolvedDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ResolvedDefinition, 0, len(c.order))
	for _, key := range c.order {
		def := c.defs[key]
		options := make([]ResolvedOption, 0, len(def.Policy))
		for _, rule := range def.Policy {
			options = append(options, rule.Describe())
		}
		out = append(out, ResolvedDefinition{
			JobType:           def.JobType,
			Label:             def.Label,
			Description:       def.Description,
			DefaultFrequency:  def.DefaultFrequency,
			FrequencyLabel:    def.DefaultFrequency.Label(def.IntervalMinutes),
			DefaultCron:       def.DefaultCron,
			DefaultTimezone:   def.DefaultTimezone,
			SupportsShopScope: def.SupportsShopScope,
			DefaultOptions:    def.DefaultOptions(),
			Options:           options,
		})
	}
	return out
}

// ValidateOptions returns a map of option key to error message. The map is
// empty when every supplied option is acceptable. Unknown job types and
// unknown keys are never reported.
func (c *Catalog) ValidateOptions(jobType string, raw map[string]any) map[string]string {
	errs := map[string]string{}

	def, err := c.Definition(jobType)
	if err != nil {
		return errs
	}

	for _, rule := range def.Policy {
		value, ok := raw[rule.Key()]
		if !ok || isBlank(value) {
			continue
		}
		if msg := rule.Validate(value); msg != "" {
			errs[rule.Key()] = msg
		}
	}
	return errs
}

// SanitizeOptions normalizes raw options. Known job types keep only their
// declared options, clamped and defaulted; unknown job types keep the
// supplied options as they are. The result is nil when it would be empty.
func (c *Catalog) SanitizeOptions(jobType string, raw map[string]any) map[string]any {
	def, err := c.Definition(jobType)
	if err != nil {
		if len(raw) == 0 {
			return nil
		}
		return maps.Clone(raw)
	}

	out := make(map[string]any, len(def.Policy))
	for _, rule := range def.Policy {
		value, ok := raw[rule.Key()]
		present := ok && !isBlank(value)
		out[rule.Key()] = rule.Sanitize(value, present)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ResolveOptions layers option maps left to right (later maps win) and
// sanitizes the result. Catalog defaults apply to anything still missing.
func (c *Catalog) ResolveOptions(jobType string, layers ...map[string]any) map[string]any {
	merged := map[string]any{}
	for _, layer := range layers {
		for k, v := range layer {
			if isBlank(v) {
				continue
			}
			merged[k] = v
		}
	}
	return c.SanitizeOptions(jobType, merged)
}
