// Package budget tracks spend against configured limits and keeps the
// durable cost ledger behind them.
package budget

import (
	"fmt"
	"math"
	"time"
)

// Period is the rolling window a budget applies to.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
)

// Valid reports whether the period is one of the supported windows.
func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodMonthly, PeriodYearly:
		return true
	}
	return false
}

// WindowStart returns the beginning of the period's current window in UTC.
// Windows align to calendar boundaries, not rolling offsets.
func (p Period) WindowStart(now time.Time) time.Time {
	now = now.UTC()
	switch p {
	case PeriodDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	case PeriodYearly:
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// Budget is a spend limit over one period. UserID and ProjectID optionally
// scope the budget to one caller; when both are empty the budget is global.
type Budget struct {
	Period Period  `json:"period" yaml:"period"`
	Limit  float64 `json:"limit" yaml:"limit"`
	// WarningThreshold is the used fraction at which the budget enters the
	// warning state, e.g. 0.8 for 80 percent.
	WarningThreshold float64 `json:"warning_threshold" yaml:"warning_threshold"`
	UserID           string  `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	ProjectID        string  `json:"project_id,omitempty" yaml:"project_id,omitempty"`
}

// Scoped reports whether the budget is limited to one caller identity.
func (b Budget) Scoped() bool {
	return b.UserID != "" || b.ProjectID != ""
}

// Validate checks the budget configuration.
func (b Budget) Validate() error {
	if !b.Period.Valid() {
		return fmt.Errorf("invalid budget period %q", b.Period)
	}
	if b.Limit < 0 {
		return fmt.Errorf("budget limit must not be negative, got %v", b.Limit)
	}
	if b.WarningThreshold < 0 || b.WarningThreshold > 1 {
		return fmt.Errorf("warning threshold must be in [0,1], got %v", b.WarningThreshold)
	}
	return nil
}

// Status is a point-in-time evaluation of one budget.
type Status struct {
	Period      Period    `json:"period"`
	UserID      string    `json:"user_id,omitempty"`
	ProjectID   string    `json:"project_id,omitempty"`
	Limit       float64   `json:"limit"`
	Used        float64   `json:"used"`
	Remaining   float64   `json:"remaining"`
	PercentUsed float64   `json:"percent_used"`
	IsWarning   bool      `json:"is_warning"`
	IsExhausted bool      `json:"is_exhausted"`
	WindowStart time.Time `json:"window_start"`
}

// evaluate derives a status from a budget and the spend inside its window.
// A zero-limit budget means unlimited and never exhausts.
func evaluate(b Budget, used float64, windowStart time.Time) Status {
	st := Status{
		Period:      b.Period,
		UserID:      b.UserID,
		ProjectID:   b.ProjectID,
		Limit:       b.Limit,
		Used:        used,
		WindowStart: windowStart,
	}
	if b.Limit <= 0 {
		st.Limit = math.Inf(1)
		st.Remaining = math.Inf(1)
		return st
	}
	st.Remaining = b.Limit - used
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	st.PercentUsed = used / b.Limit
	st.IsExhausted = used >= b.Limit
	st.IsWarning = b.WarningThreshold > 0 && st.PercentUsed >= b.WarningThreshold
	return st
}
