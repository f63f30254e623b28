package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hmcelik/aegis-moderation/internal/domain/budget"
)

// defaultSnapshotTTL bounds how stale a cached budget snapshot may be.
const defaultSnapshotTTL = 30 * time.Second

// cachedSnapshot pairs a budget snapshot with its fetch time.
type cachedSnapshot struct {
	snap      budget.Snapshot
	fetchedAt time.Time
}

// BudgetCacheStats reports the state of the snapshot cache.
type BudgetCacheStats struct {
	Entries int
	Hits    int64
	Misses  int64
}

// BudgetEnforcer admits or downgrades AI usage per tenant in real time.
// Snapshots are cached per tenant with a short TTL; RecordUsage invalidates
// the tenant's entry. On store errors the enforcer fails open: a message is
// never blocked because the budget service is unavailable.
type BudgetEnforcer struct {
	store  budget.Store
	logger *slog.Logger
	ttl    time.Duration

	mu     sync.Mutex
	cache  map[string]cachedSnapshot
	hits   int64
	misses int64
}

// NewBudgetEnforcer creates an enforcer over the given store.
// A non-positive snapshotTTL uses the default.
func NewBudgetEnforcer(store budget.Store, snapshotTTL time.Duration, logger *slog.Logger) *BudgetEnforcer {
	if snapshotTTL <= 0 {
		snapshotTTL = defaultSnapshotTTL
	}
	return &BudgetEnforcer{
		store:  store,
		logger: logger,
		ttl:    snapshotTTL,
		cache:  make(map[string]cachedSnapshot),
	}
}

// CheckBudget reports whether the tenant may spend on AI right now.
// Store errors and missing budgets fail open.
func (e *BudgetEnforcer) CheckBudget(ctx context.Context, tenantID string) budget.Check {
	snap, err := e.snapshot(ctx, tenantID)
	if err != nil {
		e.logger.Warn("budget store unavailable, failing open",
			"tenant_id", tenantID, "error", err)
		return budget.Check{Allowed: true, Reason: "budget unavailable, failing open"}
	}

	if exhausted(snap) {
		return budget.Check{
			Allowed:         false,
			Reason:          "monthly budget exhausted",
			DegradeMode:     snap.DegradeMode,
			RemainingBudget: snap.Remaining(),
		}
	}
	return budget.Check{
		Allowed:         true,
		DegradeMode:     snap.DegradeMode,
		RemainingBudget: snap.Remaining(),
	}
}

// RecordUsage appends a usage event and invalidates the tenant's snapshot so
// the next check observes the new spend.
func (e *BudgetEnforcer) RecordUsage(ctx context.Context, tenantID string, usage budget.Usage) error {
	if err := e.store.Record(ctx, tenantID, usage); err != nil {
		return fmt.Errorf("record usage for tenant %s: %w", tenantID, err)
	}
	e.invalidate(tenantID)
	return nil
}

// ShouldApplyDegradeMode reports whether the degrade behavior applies to a
// message with the given context once the budget is exhausted.
func (e *BudgetEnforcer) ShouldApplyDegradeMode(mode budget.DegradeMode, mctx budget.MessageContext) bool {
	switch mode {
	case budget.DegradeDisableAI, budget.DegradeStrictRules:
		return true
	case budget.DegradeLinkBlocks:
		// Established users keep AI; only new users degrade.
		return mctx.IsNewUser
	default:
		return false
	}
}

// GetProcessingStrategy decides whether the worker uses AI for this message.
func (e *BudgetEnforcer) GetProcessingStrategy(ctx context.Context, tenantID string, mctx budget.MessageContext) budget.ProcessingStrategy {
	snap, err := e.snapshot(ctx, tenantID)
	if err != nil {
		e.logger.Warn("budget store unavailable, failing open",
			"tenant_id", tenantID, "error", err)
		return budget.ProcessingStrategy{UseAI: true, UseFastPath: true, Reason: "Budget available"}
	}

	if snap.DegradeMode == budget.DegradeDisableAI {
		return budget.ProcessingStrategy{
			UseAI:       false,
			UseFastPath: true,
			Reason:      "degrade mode: " + string(budget.DegradeDisableAI),
		}
	}

	if !exhausted(snap) {
		return budget.ProcessingStrategy{UseAI: true, UseFastPath: true, Reason: "Budget available"}
	}

	if snap.DegradeMode == budget.DegradeLinkBlocks && !mctx.IsNewUser {
		return budget.ProcessingStrategy{
			UseAI:       true,
			UseFastPath: true,
			Reason:      "Budget exhausted but user is established",
		}
	}

	return budget.ProcessingStrategy{
		UseAI:       false,
		UseFastPath: true,
		Reason:      "degrade mode: " + string(snap.DegradeMode),
	}
}

// ClearCache drops the snapshot for one tenant, or all snapshots when
// tenantID is empty.
func (e *BudgetEnforcer) ClearCache(tenantID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tenantID == "" {
		e.cache = make(map[string]cachedSnapshot)
		return
	}
	delete(e.cache, tenantID)
}

// GetCacheStats returns snapshot-cache occupancy and hit counters.
func (e *BudgetEnforcer) GetCacheStats() BudgetCacheStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return BudgetCacheStats{Entries: len(e.cache), Hits: e.hits, Misses: e.misses}
}

// snapshot returns a fresh-enough snapshot, fetching through the store on
// cache miss or expiry.
func (e *BudgetEnforcer) snapshot(ctx context.Context, tenantID string) (budget.Snapshot, error) {
	now := time.Now()

	e.mu.Lock()
	if c, ok := e.cache[tenantID]; ok && now.Sub(c.fetchedAt) < e.ttl {
		e.hits++
		e.mu.Unlock()
		return c.snap, nil
	}
	e.misses++
	e.mu.Unlock()

	snap, err := e.store.Fetch(ctx, tenantID)
	if err != nil {
		return budget.Snapshot{}, err
	}

	e.mu.Lock()
	e.cache[tenantID] = cachedSnapshot{snap: snap, fetchedAt: now}
	e.mu.Unlock()
	return snap, nil
}

func (e *BudgetEnforcer) invalidate(tenantID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, tenantID)
}

// exhausted derives the spent state from the snapshot.
func exhausted(s budget.Snapshot) bool {
	return s.IsExhausted || s.TotalSpent.GreaterThanOrEqual(s.MonthlyLimit)
}
