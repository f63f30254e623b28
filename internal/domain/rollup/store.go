package rollup

import (
	"context"
	"time"
)

// UsageStore persists raw per-message processing records and serves the
// aggregation queries the rollup pass needs.
type UsageStore interface {
	// Append stores one raw processing record.
	Append(ctx context.Context, rec ProcessingRecord) error

	// ActiveTenants returns tenants with at least one record in [from, to).
	ActiveTenants(ctx context.Context, from, to time.Time) ([]string, error)

	// Aggregate computes the day totals for one tenant over [from, to).
	Aggregate(ctx context.Context, tenantID string, from, to time.Time) (DailyRollup, error)

	// DeleteOlderThan removes raw records older than the cutoff, returning
	// how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RollupStore persists the per-(tenant, date) aggregated rows.
type RollupStore interface {
	// Upsert inserts or replaces the row keyed by (TenantID, Date).
	Upsert(ctx context.Context, r DailyRollup) error

	// List returns rollups for a tenant with startDate <= Date <= endDate,
	// ordered by Date ascending. Dates use DateLayout.
	List(ctx context.Context, tenantID, startDate, endDate string) ([]DailyRollup, error)
}
