package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmcelik/aegis-moderation/internal/domain/budget"
)

// BudgetStore keeps tenant budgets in memory. Spend recorded through it
// rolls onto the snapshot immediately, so exhaustion is visible to the next
// Fetch. Monthly resets happen lazily on read.
type BudgetStore struct {
	mu      sync.RWMutex
	budgets map[string]*budget.Snapshot
}

// NewBudgetStore creates an empty store.
func NewBudgetStore() *BudgetStore {
	return &BudgetStore{budgets: make(map[string]*budget.Snapshot)}
}

var _ budget.Store = (*BudgetStore)(nil)

// Configure sets or replaces a tenant's budget.
func (s *BudgetStore) Configure(snap budget.Snapshot) {
	if snap.ResetDate.IsZero() {
		snap.ResetDate = budget.NextResetDate(time.Now())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := snap
	s.budgets[snap.TenantID] = &stored
}

// Fetch returns the tenant's snapshot, rolling the month over when the
// reset date has passed.
func (s *BudgetStore) Fetch(_ context.Context, tenantID string) (budget.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.budgets[tenantID]
	if !ok {
		return budget.Snapshot{}, budget.ErrNotFound
	}
	now := time.Now().UTC()
	if !snap.ResetDate.IsZero() && !now.Before(snap.ResetDate) {
		snap.TotalSpent = decimal.Zero
		snap.ResetDate = budget.NextResetDate(now)
		snap.IsExhausted = false
	}
	out := *snap
	return out, nil
}

// Record adds a usage event to the tenant's spend.
func (s *BudgetStore) Record(_ context.Context, tenantID string, usage budget.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.budgets[tenantID]
	if !ok {
		return budget.ErrNotFound
	}
	snap.TotalSpent = snap.TotalSpent.Add(usage.Cost)
	snap.IsExhausted = snap.TotalSpent.GreaterThanOrEqual(snap.MonthlyLimit)
	return nil
}
