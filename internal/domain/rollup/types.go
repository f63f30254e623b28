// Package rollup contains daily usage-aggregation types and the store ports
// the rollup task reads from and writes to.
package rollup

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO calendar-date form used for rollup keys.
// Calendar-aware arithmetic on these strings avoids UTC/local drift.
const DateLayout = "2006-01-02"

// ProcessingRecord is one raw per-message metric row appended by the worker.
type ProcessingRecord struct {
	ID               string
	TenantID         string
	Timestamp        time.Time
	AIUsed           bool
	Tokens           int
	AICost           decimal.Decimal
	Model            string
	Operation        string
	CacheHit         bool
	ProcessingTimeMs float64
	Verdict          string
}

// DailyRollup is one aggregated row per (tenant, date).
type DailyRollup struct {
	TenantID string
	// Date is the ISO date (DateLayout) the row aggregates.
	Date              string
	MessagesProcessed int64
	AICallsMade       int64
	AICost            decimal.Decimal
	CacheHits         int64
	CacheMisses       int64
	AvgProcessingMs   float64
}

// Aggregated summarizes rollups over a date range.
type Aggregated struct {
	TotalMessages   int64
	TotalAICalls    int64
	TotalCost       decimal.Decimal
	CacheHitRate    float64
	AvgProcessingMs float64
}

// HitRate computes hits/(hits+misses) with a zero denominator yielding 0.
func HitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
