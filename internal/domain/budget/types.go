// Package budget contains per-tenant AI-spending budget types and the store
// port that persists them.
package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// DegradeMode governs behavior when a tenant's monthly budget is exhausted.
type DegradeMode string

const (
	// DegradeStrictRules skips AI and relies on the rule engine alone.
	DegradeStrictRules DegradeMode = "strict_rules"
	// DegradeLinkBlocks skips AI for non-established users; new users with
	// links are handled by rules.
	DegradeLinkBlocks DegradeMode = "link_blocks"
	// DegradeDisableAI always skips AI regardless of remaining budget.
	DegradeDisableAI DegradeMode = "disable_ai"
)

// Valid reports whether the mode is one of the recognized degrade modes.
func (m DegradeMode) Valid() bool {
	switch m {
	case DegradeStrictRules, DegradeLinkBlocks, DegradeDisableAI:
		return true
	}
	return false
}

// Snapshot is a point-in-time view of a tenant's budget.
type Snapshot struct {
	TenantID     string
	MonthlyLimit decimal.Decimal
	TotalSpent   decimal.Decimal
	DegradeMode  DegradeMode
	// ResetDate is the first of the next month (UTC).
	ResetDate time.Time
	// IsExhausted is derived: TotalSpent >= MonthlyLimit.
	IsExhausted bool
}

// Remaining returns the unspent budget, never negative.
func (s Snapshot) Remaining() decimal.Decimal {
	r := s.MonthlyLimit.Sub(s.TotalSpent)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Usage is a single AI spending event to record against a tenant.
type Usage struct {
	Tokens    int
	Cost      decimal.Decimal
	Model     string
	Operation string
}

// Check is the outcome of a budget admission check.
type Check struct {
	Allowed         bool
	Reason          string
	DegradeMode     DegradeMode
	RemainingBudget decimal.Decimal
}

// MessageContext carries the per-message signals degrade modes condition on.
// IsNewUser is the inverse of the "established user" input signal supplied
// by the ingress collaborator.
type MessageContext struct {
	HasLinks      bool
	IsNewUser     bool
	MessageLength int
}

// ProcessingStrategy tells the worker how to process a message with respect
// to the AI stage.
type ProcessingStrategy struct {
	UseAI       bool
	UseFastPath bool
	Reason      string
}

// NextResetDate returns the first day of the month after t, at midnight UTC.
func NextResetDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
