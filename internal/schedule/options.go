package schedule

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	msgNotInteger = "Hodnota musí být celé číslo."
	msgNotString  = "Hodnota musí být text."
	msgNotBool    = "Hodnota musí být ano/ne."
	msgTooLong    = "Hodnota může mít nejvýše %d znaků."
)

// OptionRule validates and normalizes a single option of a job type.
type OptionRule interface {
	// Key is the option name as stored in job_schedules.options.
	Key() string

	// Default is the value used when the option is missing or blank.
	Default() any

	// Describe returns a human readable constraint for the dashboard.
	Describe() ResolvedOption

	// Validate returns a field error message, or "" when the value is acceptable.
	// Validate is only called for values that are present and not blank.
	Validate(value any) string

	// Sanitize always returns a usable value. present is false when the
	// option is missing or blank.
	Sanitize(value any, present bool) any
}

// OptionPolicy is the ordered list of option rules of one job type.
type OptionPolicy []OptionRule

// ResolvedOption describes an option for the dashboard.
type ResolvedOption struct {
	Key        string `json:"key"`
	Label      string `json:"label"`
	Default    any    `json:"default"`
	Constraint string `json:"constraint,omitempty"`
}

// IntOption is an integer option with an inclusive [Min, Max] range.
type IntOption struct {
	Name  string
	Label string
	Min   int
	Max   int
	Value int

	// RangeSubject completes "Povolený rozsah <subject> je <min> až <max>."
	RangeSubject string
}

// Key implements OptionRule.
func (o IntOption) Key() string { return o.Name }

// Default implements OptionRule.
func (o IntOption) Default() any { return o.Value }

// Describe implements OptionRule.
func (o IntOption) Describe() ResolvedOption {
	return ResolvedOption{
		Key:        o.Name,
		Label:      o.Label,
		Default:    o.Value,
		Constraint: fmt.Sprintf("%d až %d", o.Min, o.Max),
	}
}

// Validate implements OptionRule.
func (o IntOption) Validate(value any) string {
	n, ok := toInt(value)
	if !ok {
		return msgNotInteger
	}
	if n < o.Min || n > o.Max {
		return o.rangeMessage()
	}
	return ""
}

// Sanitize implements OptionRule.
func (o IntOption) Sanitize(value any, present bool) any {
	if !present {
		return o.Value
	}
	n, ok := toInt(value)
	if !ok {
		return o.Value
	}
	return min(max(n, o.Min), o.Max)
}

func (o IntOption) rangeMessage() string {
	return fmt.Sprintf("Povolený rozsah %s je %d až %d.", o.RangeSubject, o.Min, o.Max)
}

// StringOption is a trimmed string option that falls back to its default when blank.
type StringOption struct {
	Name      string
	Label     string
	Value     string
	MaxLength int
}

// Key implements OptionRule.
func (o StringOption) Key() string { return o.Name }

// Default implements OptionRule.
func (o StringOption) Default() any { return o.Value }

// Describe implements OptionRule.
func (o StringOption) Describe() ResolvedOption {
	desc := ResolvedOption{Key: o.Name, Label: o.Label, Default: o.Value}
	if o.MaxLength > 0 {
		desc.Constraint = fmt.Sprintf("nejvýše %d znaků", o.MaxLength)
	}
	return desc
}

// Validate implements OptionRule.
func (o StringOption) Validate(value any) string {
	s, ok := value.(string)
	if !ok {
		return msgNotString
	}
	if o.MaxLength > 0 && len([]rune(strings.TrimSpace(s))) > o.MaxLength {
		return fmt.Sprintf(msgTooLong, o.MaxLength)
	}
	return ""
}

// Sanitize implements OptionRule.
func (o StringOption) Sanitize(value any, present bool) any {
	if !present {
		return o.Value
	}
	s, ok := value.(string)
	if !ok {
		return o.Value
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return o.Value
	}
	if o.MaxLength > 0 {
		if runes := []rune(s); len(runes) > o.MaxLength {
			s = string(runes[:o.MaxLength])
		}
	}
	return s
}

// BoolOption is a boolean flag option.
type BoolOption struct {
	Name  string
	Label string
	Value bool
}

// Key implements OptionRule.
func (o BoolOption) Key() string { return o.Name }

// Default implements OptionRule.
func (o BoolOption) Default() any { return o.Value }

// Describe implements OptionRule.
func (o BoolOption) Describe() ResolvedOption {
	return ResolvedOption{Key: o.Name, Label: o.Label, Default: o.Value, Constraint: "ano/ne"}
}

// Validate implements OptionRule.
func (BoolOption) Validate(value any) string {
	if _, ok := toBool(value); !ok {
		return msgNotBool
	}
	return ""
}

// Sanitize implements OptionRule.
func (o BoolOption) Sanitize(value any, present bool) any {
	if !present {
		return o.Value
	}
	b, ok := toBool(value)
	if !ok {
		return o.Value
	}
	return b
}

// isBlank reports whether an option value counts as missing.
func isBlank(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func toBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		if n, ok := toInt(value); ok && (n == 0 || n == 1) {
			return n == 1, true
		}
		return false, false
	}
}

// IntValue reads an integer option, returning fallback when absent or invalid.
func IntValue(opts map[string]any, key string, fallback int) int {
	if n, ok := toInt(opts[key]); ok {
		return n
	}
	return fallback
}

// StringValue reads a string option, returning fallback when absent or blank.
func StringValue(opts map[string]any, key, fallback string) string {
	if s, ok := opts[key].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return fallback
}

// BoolValue reads a boolean option, returning fallback when absent or invalid.
func BoolValue(opts map[string]any, key string, fallback bool) bool {
	if b, ok := toBool(opts[key]); ok {
		return b
	}
	return fallback
}
