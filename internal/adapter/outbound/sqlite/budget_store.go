package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmcelik/aegis-moderation/internal/domain/budget"
)

// BudgetStore persists tenant budgets locally. Deployments that delegate
// budgets to the external service use the httpapi adapter instead; this one
// serves self-contained installs. Monthly resets happen lazily on read.
type BudgetStore struct {
	db *DB
}

// NewBudgetStore creates the store over an open database.
func NewBudgetStore(db *DB) *BudgetStore {
	return &BudgetStore{db: db}
}

var _ budget.Store = (*BudgetStore)(nil)

// Configure sets or replaces a tenant's budget.
func (s *BudgetStore) Configure(ctx context.Context, snap budget.Snapshot) error {
	if snap.ResetDate.IsZero() {
		snap.ResetDate = budget.NextResetDate(time.Now())
	}
	if !snap.DegradeMode.Valid() {
		snap.DegradeMode = budget.DegradeStrictRules
	}
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO tenant_budgets (tenant_id, monthly_limit, total_spent, degrade_mode, reset_date)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   monthly_limit = excluded.monthly_limit,
		   total_spent   = excluded.total_spent,
		   degrade_mode  = excluded.degrade_mode,
		   reset_date    = excluded.reset_date`,
		snap.TenantID, snap.MonthlyLimit.String(), snap.TotalSpent.String(),
		string(snap.DegradeMode), snap.ResetDate.UnixMilli())
	if err != nil {
		return fmt.Errorf("budget configure: %w", err)
	}
	return nil
}

// Fetch returns the tenant's snapshot, rolling the month over when the
// reset date has passed.
func (s *BudgetStore) Fetch(ctx context.Context, tenantID string) (budget.Snapshot, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT tenant_id, monthly_limit, total_spent, degrade_mode, reset_date
		 FROM tenant_budgets WHERE tenant_id = ?`, tenantID)

	var (
		snap      budget.Snapshot
		limit     string
		spent     string
		mode      string
		resetDate int64
	)
	err := row.Scan(&snap.TenantID, &limit, &spent, &mode, &resetDate)
	if errors.Is(err, sql.ErrNoRows) {
		return budget.Snapshot{}, budget.ErrNotFound
	}
	if err != nil {
		return budget.Snapshot{}, fmt.Errorf("budget fetch: %w", err)
	}

	if snap.MonthlyLimit, err = decimal.NewFromString(limit); err != nil {
		return budget.Snapshot{}, fmt.Errorf("budget fetch: limit %q: %w", limit, err)
	}
	if snap.TotalSpent, err = decimal.NewFromString(spent); err != nil {
		return budget.Snapshot{}, fmt.Errorf("budget fetch: spent %q: %w", spent, err)
	}
	snap.DegradeMode = budget.DegradeMode(mode)
	snap.ResetDate = time.UnixMilli(resetDate).UTC()

	now := time.Now().UTC()
	if !now.Before(snap.ResetDate) {
		snap.TotalSpent = decimal.Zero
		snap.ResetDate = budget.NextResetDate(now)
		if _, err := s.db.db.ExecContext(ctx,
			`UPDATE tenant_budgets SET total_spent = '0', reset_date = ? WHERE tenant_id = ?`,
			snap.ResetDate.UnixMilli(), tenantID); err != nil {
			return budget.Snapshot{}, fmt.Errorf("budget reset: %w", err)
		}
	}

	snap.IsExhausted = snap.TotalSpent.GreaterThanOrEqual(snap.MonthlyLimit)
	return snap, nil
}

// Record adds a usage event to the tenant's spend.
func (s *BudgetStore) Record(ctx context.Context, tenantID string, usage budget.Usage) error {
	snap, err := s.Fetch(ctx, tenantID)
	if err != nil {
		return err
	}
	newSpent := snap.TotalSpent.Add(usage.Cost)
	_, err = s.db.db.ExecContext(ctx,
		`UPDATE tenant_budgets SET total_spent = ? WHERE tenant_id = ?`,
		newSpent.String(), tenantID)
	if err != nil {
		return fmt.Errorf("budget record: %w", err)
	}
	return nil
}
