package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmcelik/aegis-moderation/internal/domain/budget"
)

func TestBudgetStore_FetchUnknownTenant(t *testing.T) {
	s := NewBudgetStore()
	if _, err := s.Fetch(context.Background(), "ghost"); !errors.Is(err, budget.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBudgetStore_RecordRollsOntoSnapshot(t *testing.T) {
	s := NewBudgetStore()
	ctx := context.Background()
	s.Configure(budget.Snapshot{
		TenantID:     "t1",
		MonthlyLimit: decimal.NewFromFloat(1.0),
		DegradeMode:  budget.DegradeStrictRules,
	})

	if err := s.Record(ctx, "t1", budget.Usage{Cost: decimal.NewFromFloat(0.4)}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	snap, err := s.Fetch(ctx, "t1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !snap.TotalSpent.Equal(decimal.NewFromFloat(0.4)) || snap.IsExhausted {
		t.Errorf("spent=%s exhausted=%v", snap.TotalSpent, snap.IsExhausted)
	}

	s.Record(ctx, "t1", budget.Usage{Cost: decimal.NewFromFloat(0.6)})
	snap, _ = s.Fetch(ctx, "t1")
	if !snap.IsExhausted {
		t.Error("spend at the limit should mark the budget exhausted")
	}
	if !snap.Remaining().IsZero() {
		t.Errorf("remaining = %s, want 0", snap.Remaining())
	}
}

func TestBudgetStore_RecordUnknownTenant(t *testing.T) {
	s := NewBudgetStore()
	err := s.Record(context.Background(), "ghost", budget.Usage{Cost: decimal.NewFromFloat(0.1)})
	if !errors.Is(err, budget.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBudgetStore_LazyMonthlyReset(t *testing.T) {
	s := NewBudgetStore()
	ctx := context.Background()
	s.Configure(budget.Snapshot{
		TenantID:     "t1",
		MonthlyLimit: decimal.NewFromFloat(1.0),
		TotalSpent:   decimal.NewFromFloat(1.5),
		IsExhausted:  true,
		// Reset date already in the past, the next Fetch rolls the month.
		ResetDate: time.Now().UTC().Add(-time.Hour),
	})

	snap, err := s.Fetch(ctx, "t1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !snap.TotalSpent.IsZero() || snap.IsExhausted {
		t.Errorf("after rollover: spent=%s exhausted=%v", snap.TotalSpent, snap.IsExhausted)
	}
	if want := budget.NextResetDate(time.Now()); !snap.ResetDate.Equal(want) {
		t.Errorf("reset date = %v, want %v", snap.ResetDate, want)
	}
}

func TestBudgetStore_ConfigureDefaultsResetDate(t *testing.T) {
	s := NewBudgetStore()
	s.Configure(budget.Snapshot{
		TenantID:     "t1",
		MonthlyLimit: decimal.NewFromFloat(5),
	})
	snap, _ := s.Fetch(context.Background(), "t1")
	if snap.ResetDate.IsZero() {
		t.Error("configure should default a zero reset date to the next month boundary")
	}
}
