package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmcelik/aegis-moderation/internal/domain/budget"
)

// fakeBudgetStore serves a fixed snapshot and counts fetches.
type fakeBudgetStore struct {
	mu       sync.Mutex
	snap     budget.Snapshot
	fetchErr error
	fetches  int
	recorded []budget.Usage
}

func (f *fakeBudgetStore) Fetch(_ context.Context, _ string) (budget.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return budget.Snapshot{}, f.fetchErr
	}
	return f.snap, nil
}

func (f *fakeBudgetStore) Record(_ context.Context, _ string, u budget.Usage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, u)
	return nil
}

func healthySnapshot(mode budget.DegradeMode) budget.Snapshot {
	return budget.Snapshot{
		TenantID:     "t1",
		MonthlyLimit: decimal.NewFromInt(100),
		TotalSpent:   decimal.NewFromInt(10),
		DegradeMode:  mode,
		ResetDate:    budget.NextResetDate(time.Now()),
	}
}

func exhaustedSnapshot(mode budget.DegradeMode) budget.Snapshot {
	s := healthySnapshot(mode)
	s.TotalSpent = decimal.NewFromInt(100)
	s.IsExhausted = true
	return s
}

func TestBudgetEnforcer_StrategyBudgetAvailable(t *testing.T) {
	store := &fakeBudgetStore{snap: healthySnapshot(budget.DegradeStrictRules)}
	e := NewBudgetEnforcer(store, time.Minute, testLogger())

	s := e.GetProcessingStrategy(context.Background(), "t1", budget.MessageContext{})
	if !s.UseAI {
		t.Error("UseAI = false, want true")
	}
	if s.Reason != "Budget available" {
		t.Errorf("Reason = %q, want %q", s.Reason, "Budget available")
	}
}

func TestBudgetEnforcer_StrategyDisableAIWins(t *testing.T) {
	// disable_ai applies even with budget remaining.
	store := &fakeBudgetStore{snap: healthySnapshot(budget.DegradeDisableAI)}
	e := NewBudgetEnforcer(store, time.Minute, testLogger())

	s := e.GetProcessingStrategy(context.Background(), "t1", budget.MessageContext{})
	if s.UseAI {
		t.Error("UseAI = true under disable_ai")
	}
	if s.Reason != "degrade mode: disable_ai" {
		t.Errorf("Reason = %q, want %q", s.Reason, "degrade mode: disable_ai")
	}
}

func TestBudgetEnforcer_StrategyExhausted(t *testing.T) {
	cases := []struct {
		name      string
		mode      budget.DegradeMode
		isNewUser bool
		wantAI    bool
		wantWhy   string
	}{
		{"strict rules", budget.DegradeStrictRules, false, false, "degrade mode: strict_rules"},
		{"link blocks, established user keeps AI", budget.DegradeLinkBlocks, false, true, "Budget exhausted but user is established"},
		{"link blocks, new user degrades", budget.DegradeLinkBlocks, true, false, "degrade mode: link_blocks"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeBudgetStore{snap: exhaustedSnapshot(tc.mode)}
			e := NewBudgetEnforcer(store, time.Minute, testLogger())

			s := e.GetProcessingStrategy(context.Background(), "t1", budget.MessageContext{IsNewUser: tc.isNewUser})
			if s.UseAI != tc.wantAI {
				t.Errorf("UseAI = %v, want %v", s.UseAI, tc.wantAI)
			}
			if s.Reason != tc.wantWhy {
				t.Errorf("Reason = %q, want %q", s.Reason, tc.wantWhy)
			}
		})
	}
}

func TestBudgetEnforcer_FailsOpenOnStoreError(t *testing.T) {
	store := &fakeBudgetStore{fetchErr: errors.New("budget service down")}
	e := NewBudgetEnforcer(store, time.Minute, testLogger())

	s := e.GetProcessingStrategy(context.Background(), "t1", budget.MessageContext{})
	if !s.UseAI {
		t.Error("store error must fail open")
	}

	check := e.CheckBudget(context.Background(), "t1")
	if !check.Allowed {
		t.Error("CheckBudget must fail open on store error")
	}
}

func TestBudgetEnforcer_CheckBudget(t *testing.T) {
	store := &fakeBudgetStore{snap: healthySnapshot(budget.DegradeStrictRules)}
	e := NewBudgetEnforcer(store, time.Minute, testLogger())

	check := e.CheckBudget(context.Background(), "t1")
	if !check.Allowed {
		t.Error("want allowed with budget remaining")
	}
	if !check.RemainingBudget.Equal(decimal.NewFromInt(90)) {
		t.Errorf("RemainingBudget = %s, want 90", check.RemainingBudget)
	}

	store.mu.Lock()
	store.snap = exhaustedSnapshot(budget.DegradeStrictRules)
	store.mu.Unlock()
	e.ClearCache("t1")

	check = e.CheckBudget(context.Background(), "t1")
	if check.Allowed {
		t.Error("want denied when exhausted")
	}
	if check.Reason != "monthly budget exhausted" {
		t.Errorf("Reason = %q", check.Reason)
	}
}

func TestBudgetEnforcer_SnapshotCaching(t *testing.T) {
	store := &fakeBudgetStore{snap: healthySnapshot(budget.DegradeStrictRules)}
	e := NewBudgetEnforcer(store, time.Minute, testLogger())

	ctx := context.Background()
	e.CheckBudget(ctx, "t1")
	e.CheckBudget(ctx, "t1")
	e.CheckBudget(ctx, "t1")

	store.mu.Lock()
	fetches := store.fetches
	store.mu.Unlock()
	if fetches != 1 {
		t.Errorf("fetches = %d, want 1 (snapshot cached within TTL)", fetches)
	}

	stats := e.GetCacheStats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("cache stats = %+v, want 2 hits / 1 miss", stats)
	}
}

func TestBudgetEnforcer_RecordUsageInvalidates(t *testing.T) {
	store := &fakeBudgetStore{snap: healthySnapshot(budget.DegradeStrictRules)}
	e := NewBudgetEnforcer(store, time.Minute, testLogger())

	ctx := context.Background()
	e.CheckBudget(ctx, "t1")
	if err := e.RecordUsage(ctx, "t1", budget.Usage{Cost: decimal.NewFromFloat(0.01)}); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	e.CheckBudget(ctx, "t1")

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.fetches != 2 {
		t.Errorf("fetches = %d, want 2 (RecordUsage invalidates the snapshot)", store.fetches)
	}
	if len(store.recorded) != 1 {
		t.Errorf("recorded %d usage events, want 1", len(store.recorded))
	}
}

func TestBudgetEnforcer_ShouldApplyDegradeMode(t *testing.T) {
	e := NewBudgetEnforcer(&fakeBudgetStore{}, time.Minute, testLogger())

	if !e.ShouldApplyDegradeMode(budget.DegradeDisableAI, budget.MessageContext{}) {
		t.Error("disable_ai should always apply")
	}
	if !e.ShouldApplyDegradeMode(budget.DegradeStrictRules, budget.MessageContext{}) {
		t.Error("strict_rules should always apply")
	}
	if e.ShouldApplyDegradeMode(budget.DegradeLinkBlocks, budget.MessageContext{IsNewUser: false}) {
		t.Error("link_blocks should not apply to established users")
	}
	if !e.ShouldApplyDegradeMode(budget.DegradeLinkBlocks, budget.MessageContext{IsNewUser: true}) {
		t.Error("link_blocks should apply to new users")
	}
}
