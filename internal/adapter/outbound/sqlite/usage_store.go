package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmcelik/aegis-moderation/internal/domain/rollup"
)

// UsageStore persists raw per-message processing records. Aggregation is
// pushed into SQL so the rollup pass never loads a day of rows into memory.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates the store over an open database.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

var _ rollup.UsageStore = (*UsageStore)(nil)

// Append stores one raw record.
func (s *UsageStore) Append(ctx context.Context, rec rollup.ProcessingRecord) error {
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO usage_records (id, tenant_id, ts, ai_used, tokens, ai_cost, model, operation, cache_hit, processing_time_ms, verdict)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TenantID, rec.Timestamp.UnixMilli(), boolToInt(rec.AIUsed),
		rec.Tokens, rec.AICost.String(), rec.Model, rec.Operation,
		boolToInt(rec.CacheHit), rec.ProcessingTimeMs, rec.Verdict)
	if err != nil {
		return fmt.Errorf("usage append: %w", err)
	}
	return nil
}

// ActiveTenants returns tenants with at least one record in [from, to).
func (s *UsageStore) ActiveTenants(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT DISTINCT tenant_id FROM usage_records WHERE ts >= ? AND ts < ? ORDER BY tenant_id`,
		from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("usage active tenants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("usage active tenants: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Aggregate computes the day totals for one tenant over [from, to).
// Cost is summed in Go: decimal strings do not add in SQL.
func (s *UsageStore) Aggregate(ctx context.Context, tenantID string, from, to time.Time) (rollup.DailyRollup, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(ai_used), 0),
		        COALESCE(SUM(cache_hit), 0),
		        COALESCE(SUM(1 - cache_hit), 0),
		        COALESCE(AVG(processing_time_ms), 0)
		 FROM usage_records WHERE tenant_id = ? AND ts >= ? AND ts < ?`,
		tenantID, from.UnixMilli(), to.UnixMilli())

	out := rollup.DailyRollup{TenantID: tenantID, AICost: decimal.Zero}
	if err := row.Scan(&out.MessagesProcessed, &out.AICallsMade,
		&out.CacheHits, &out.CacheMisses, &out.AvgProcessingMs); err != nil {
		return rollup.DailyRollup{}, fmt.Errorf("usage aggregate: %w", err)
	}

	costs, err := s.db.db.QueryContext(ctx,
		`SELECT ai_cost FROM usage_records WHERE tenant_id = ? AND ts >= ? AND ts < ? AND ai_used = 1`,
		tenantID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return rollup.DailyRollup{}, fmt.Errorf("usage aggregate: %w", err)
	}
	defer costs.Close()
	for costs.Next() {
		var c string
		if err := costs.Scan(&c); err != nil {
			return rollup.DailyRollup{}, fmt.Errorf("usage aggregate: %w", err)
		}
		d, err := decimal.NewFromString(c)
		if err != nil {
			return rollup.DailyRollup{}, fmt.Errorf("usage aggregate: cost %q: %w", c, err)
		}
		out.AICost = out.AICost.Add(d)
	}
	return out, costs.Err()
}

// DeleteOlderThan removes raw records older than the cutoff.
func (s *UsageStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.db.ExecContext(ctx,
		`DELETE FROM usage_records WHERE ts < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("usage cleanup: %w", err)
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// RollupStore persists the aggregated per-(tenant, date) rows.
type RollupStore struct {
	db *DB
}

// NewRollupStore creates the store over an open database.
func NewRollupStore(db *DB) *RollupStore {
	return &RollupStore{db: db}
}

var _ rollup.RollupStore = (*RollupStore)(nil)

// Upsert inserts or replaces the row keyed by (TenantID, Date).
func (s *RollupStore) Upsert(ctx context.Context, r rollup.DailyRollup) error {
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO daily_rollups (tenant_id, date, messages_processed, ai_calls_made, ai_cost, cache_hits, cache_misses, avg_processing_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, date) DO UPDATE SET
		   messages_processed = excluded.messages_processed,
		   ai_calls_made      = excluded.ai_calls_made,
		   ai_cost            = excluded.ai_cost,
		   cache_hits         = excluded.cache_hits,
		   cache_misses       = excluded.cache_misses,
		   avg_processing_ms  = excluded.avg_processing_ms`,
		r.TenantID, r.Date, r.MessagesProcessed, r.AICallsMade,
		r.AICost.String(), r.CacheHits, r.CacheMisses, r.AvgProcessingMs)
	if err != nil {
		return fmt.Errorf("rollup upsert: %w", err)
	}
	return nil
}

// List returns a tenant's rollups with startDate <= Date <= endDate,
// ascending by date.
func (s *RollupStore) List(ctx context.Context, tenantID, startDate, endDate string) ([]rollup.DailyRollup, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT tenant_id, date, messages_processed, ai_calls_made, ai_cost, cache_hits, cache_misses, avg_processing_ms
		 FROM daily_rollups WHERE tenant_id = ? AND date >= ? AND date <= ?
		 ORDER BY date ASC`,
		tenantID, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("rollup list: %w", err)
	}
	defer rows.Close()

	var out []rollup.DailyRollup
	for rows.Next() {
		var r rollup.DailyRollup
		var cost string
		if err := rows.Scan(&r.TenantID, &r.Date, &r.MessagesProcessed, &r.AICallsMade,
			&cost, &r.CacheHits, &r.CacheMisses, &r.AvgProcessingMs); err != nil {
			return nil, fmt.Errorf("rollup list: %w", err)
		}
		r.AICost, err = decimal.NewFromString(cost)
		if err != nil {
			return nil, fmt.Errorf("rollup list: cost %q: %w", cost, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
