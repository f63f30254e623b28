package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmcelik/aegis-moderation/internal/domain/rollup"
)

func record(tenantID string, ts time.Time, aiUsed, cacheHit bool, ms float64) rollup.ProcessingRecord {
	r := rollup.ProcessingRecord{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		Timestamp:        ts,
		CacheHit:         cacheHit,
		ProcessingTimeMs: ms,
		Verdict:          "allow",
	}
	if aiUsed {
		r.AIUsed = true
		r.Tokens = 120
		r.AICost = decimal.NewFromFloat(0.002)
		r.Model = "gpt-4o-mini"
	}
	return r
}

func TestUsageStore_ActiveTenants(t *testing.T) {
	s := NewUsageStore()
	ctx := context.Background()
	day := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)

	s.Append(ctx, record("beta", day.Add(2*time.Hour), false, false, 10))
	s.Append(ctx, record("alpha", day.Add(3*time.Hour), false, false, 10))
	s.Append(ctx, record("alpha", day.Add(4*time.Hour), false, false, 10))
	// Outside the window.
	s.Append(ctx, record("gamma", day.Add(-time.Minute), false, false, 10))
	s.Append(ctx, record("gamma", day.Add(24*time.Hour), false, false, 10))

	tenants, err := s.ActiveTenants(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ActiveTenants: %v", err)
	}
	if len(tenants) != 2 || tenants[0] != "alpha" || tenants[1] != "beta" {
		t.Errorf("tenants = %v, want [alpha beta]", tenants)
	}
}

func TestUsageStore_Aggregate(t *testing.T) {
	s := NewUsageStore()
	ctx := context.Background()
	day := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)

	s.Append(ctx, record("t1", day.Add(time.Hour), true, false, 120))
	s.Append(ctx, record("t1", day.Add(2*time.Hour), false, true, 4))
	s.Append(ctx, record("other", day.Add(time.Hour), true, false, 50))
	s.Append(ctx, record("t1", day.Add(25*time.Hour), true, false, 50))

	row, err := s.Aggregate(ctx, "t1", day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if row.MessagesProcessed != 2 || row.AICallsMade != 1 {
		t.Errorf("messages=%d aiCalls=%d", row.MessagesProcessed, row.AICallsMade)
	}
	if !row.AICost.Equal(decimal.NewFromFloat(0.002)) {
		t.Errorf("aiCost = %s", row.AICost)
	}
	if row.CacheHits != 1 || row.CacheMisses != 1 {
		t.Errorf("hits=%d misses=%d", row.CacheHits, row.CacheMisses)
	}
	if row.AvgProcessingMs != 62 {
		t.Errorf("avg ms = %v, want 62", row.AvgProcessingMs)
	}
}

func TestUsageStore_AggregateEmpty(t *testing.T) {
	s := NewUsageStore()
	row, err := s.Aggregate(context.Background(), "t1", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if row.MessagesProcessed != 0 || row.AvgProcessingMs != 0 || !row.AICost.IsZero() {
		t.Errorf("empty aggregate = %+v", row)
	}
}

func TestUsageStore_DeleteOlderThan(t *testing.T) {
	s := NewUsageStore()
	ctx := context.Background()
	now := time.Now().UTC()

	s.Append(ctx, record("t1", now.Add(-72*time.Hour), false, false, 1))
	s.Append(ctx, record("t1", now.Add(-48*time.Hour), false, false, 1))
	s.Append(ctx, record("t1", now, false, false, 1))

	removed, err := s.DeleteOlderThan(ctx, now.Add(-60*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	tenants, _ := s.ActiveTenants(ctx, now.Add(-96*time.Hour), now.Add(time.Hour))
	if len(tenants) != 1 {
		t.Errorf("surviving tenants = %v", tenants)
	}
	row, _ := s.Aggregate(ctx, "t1", now.Add(-96*time.Hour), now.Add(time.Hour))
	if row.MessagesProcessed != 2 {
		t.Errorf("surviving records = %d, want 2", row.MessagesProcessed)
	}
}

func TestRollupStore_UpsertReplaces(t *testing.T) {
	s := NewRollupStore()
	ctx := context.Background()

	s.Upsert(ctx, rollup.DailyRollup{TenantID: "t1", Date: "2026-08-25", MessagesProcessed: 5, AICost: decimal.Zero})
	s.Upsert(ctx, rollup.DailyRollup{TenantID: "t1", Date: "2026-08-25", MessagesProcessed: 9, AICost: decimal.Zero})

	rows, err := s.List(ctx, "t1", "2026-08-25", "2026-08-25")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 1 || rows[0].MessagesProcessed != 9 {
		t.Errorf("rows = %+v", rows)
	}
}

func TestRollupStore_ListRange(t *testing.T) {
	s := NewRollupStore()
	ctx := context.Background()
	for _, date := range []string{"2026-08-23", "2026-08-24", "2026-08-25", "2026-08-26"} {
		s.Upsert(ctx, rollup.DailyRollup{TenantID: "t1", Date: date, AICost: decimal.Zero})
	}
	s.Upsert(ctx, rollup.DailyRollup{TenantID: "other", Date: "2026-08-24", AICost: decimal.Zero})

	rows, err := s.List(ctx, "t1", "2026-08-24", "2026-08-25")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 || rows[0].Date != "2026-08-24" || rows[1].Date != "2026-08-25" {
		t.Errorf("rows = %+v", rows)
	}
}
