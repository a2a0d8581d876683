package domain

import (
	"time"
)

// PacingRule is one row of the global/per-plan rule tables consulted in auto
// timing mode. Higher Priority wins; PlanID empty means the global default.
// Delay and break bounds are ranges, never single values, so thresholds can
// be re-drawn per cycle instead of settling into a fixed cadence.
type PacingRule struct {
	ID     string `json:"id" db:"id"`
	PlanID string `json:"plan_id,omitempty" db:"plan_id"`

	MinDelaySeconds int `json:"min_delay_seconds" db:"min_delay_seconds"`
	MaxDelaySeconds int `json:"max_delay_seconds" db:"max_delay_seconds"`

	EnableBreaks     bool `json:"enable_breaks" db:"enable_breaks"`
	MinMessagesBreak int  `json:"min_messages_before_break" db:"min_messages_before_break"`
	MaxMessagesBreak int  `json:"max_messages_before_break" db:"max_messages_before_break"`
	MinBreakMinutes  int  `json:"min_break_minutes" db:"min_break_minutes"`
	MaxBreakMinutes  int  `json:"max_break_minutes" db:"max_break_minutes"`

	Priority int `json:"priority" db:"priority"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PacingSettings are per-owner advanced overrides. They outrank plan rules
// and the global default.
type PacingSettings struct {
	OwnerID string `json:"owner_id" db:"owner_id"`

	MinDelaySeconds int `json:"min_delay_seconds" db:"min_delay_seconds"`
	MaxDelaySeconds int `json:"max_delay_seconds" db:"max_delay_seconds"`

	EnableBreaks     bool `json:"enable_breaks" db:"enable_breaks"`
	MinMessagesBreak int  `json:"min_messages_before_break" db:"min_messages_before_break"`
	MaxMessagesBreak int  `json:"max_messages_before_break" db:"max_messages_before_break"`
	MinBreakMinutes  int  `json:"min_break_minutes" db:"min_break_minutes"`
	MaxBreakMinutes  int  `json:"max_break_minutes" db:"max_break_minutes"`

	UseDecimalRandomization bool `json:"use_decimal_randomization" db:"use_decimal_randomization"`
	DecimalPrecision        int  `json:"decimal_precision" db:"decimal_precision"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
