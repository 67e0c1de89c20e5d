package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser parses five-field cron expressions and descriptors such as @daily.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCron checks a cron expression and an IANA timezone name.
// An empty timezone means UTC.
func ValidateCron(expr, timezone string) error {
	if strings.TrimSpace(expr) == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	if strings.HasPrefix(expr, "CRON_TZ=") || strings.HasPrefix(expr, "TZ=") {
		return fmt.Errorf("cron expression %q must not embed a timezone, use the timezone column", expr)
	}
	if _, err := Parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if _, err := LoadLocation(timezone); err != nil {
		return err
	}
	return nil
}

// LoadLocation resolves a timezone name, treating "" as UTC.
func LoadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return loc, nil
}

// ParseSchedule parses expr in the given timezone.
func ParseSchedule(expr, timezone string) (cron.Schedule, error) {
	if err := ValidateCron(expr, timezone); err != nil {
		return nil, err
	}
	tz := timezone
	if tz == "" {
		tz = "UTC"
	}
	return Parser.Parse("CRON_TZ=" + tz + " " + expr)
}
