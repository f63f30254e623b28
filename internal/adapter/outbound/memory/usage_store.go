package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmcelik/aegis-moderation/internal/domain/rollup"
)

// UsageStore keeps raw processing records in memory. Records are append-only
// until the retention cleanup removes them.
type UsageStore struct {
	mu      sync.RWMutex
	records []rollup.ProcessingRecord
}

// NewUsageStore creates an empty store.
func NewUsageStore() *UsageStore {
	return &UsageStore{}
}

var _ rollup.UsageStore = (*UsageStore)(nil)

// Append stores one raw record.
func (s *UsageStore) Append(_ context.Context, rec rollup.ProcessingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// ActiveTenants returns tenants with at least one record in [from, to).
func (s *UsageStore) ActiveTenants(_ context.Context, from, to time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, r := range s.records {
		if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			seen[r.TenantID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// Aggregate computes day totals for one tenant over [from, to).
func (s *UsageStore) Aggregate(_ context.Context, tenantID string, from, to time.Time) (rollup.DailyRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := rollup.DailyRollup{TenantID: tenantID, AICost: decimal.Zero}
	var totalMs float64
	for _, r := range s.records {
		if r.TenantID != tenantID || r.Timestamp.Before(from) || !r.Timestamp.Before(to) {
			continue
		}
		row.MessagesProcessed++
		totalMs += r.ProcessingTimeMs
		if r.AIUsed {
			row.AICallsMade++
			row.AICost = row.AICost.Add(r.AICost)
		}
		if r.CacheHit {
			row.CacheHits++
		} else {
			row.CacheMisses++
		}
	}
	if row.MessagesProcessed > 0 {
		row.AvgProcessingMs = totalMs / float64(row.MessagesProcessed)
	}
	return row, nil
}

// DeleteOlderThan removes raw records older than the cutoff.
func (s *UsageStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	var removed int64
	for _, r := range s.records {
		if r.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return removed, nil
}

// RollupStore keeps aggregated rows in memory, keyed (tenant, date).
type RollupStore struct {
	mu   sync.RWMutex
	rows map[string]rollup.DailyRollup
}

// NewRollupStore creates an empty store.
func NewRollupStore() *RollupStore {
	return &RollupStore{rows: make(map[string]rollup.DailyRollup)}
}

var _ rollup.RollupStore = (*RollupStore)(nil)

func rollupKey(tenantID, date string) string {
	return tenantID + "|" + date
}

// Upsert inserts or replaces the row for (TenantID, Date).
func (s *RollupStore) Upsert(_ context.Context, r rollup.DailyRollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rollupKey(r.TenantID, r.Date)] = r
	return nil
}

// List returns a tenant's rows with startDate <= Date <= endDate, ascending.
func (s *RollupStore) List(_ context.Context, tenantID, startDate, endDate string) ([]rollup.DailyRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []rollup.DailyRollup
	for _, r := range s.rows {
		if r.TenantID == tenantID && r.Date >= startDate && r.Date <= endDate {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}
