package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/hmcelik/aegis-moderation/internal/domain/rollup"
)

// defaultRollupSchedule runs the daily pass shortly after midnight UTC so
// the previous calendar day is complete.
const defaultRollupSchedule = "10 0 * * *"

// RollupService aggregates raw per-message usage records into one row per
// (tenant, day) and serves range queries over the aggregated rows.
type RollupService struct {
	usage   rollup.UsageStore
	rollups rollup.RollupStore
	logger  *slog.Logger

	cronMu sync.Mutex
	sched  *cron.Cron
}

// NewRollupService creates the service. The cron scheduler does not run
// until Start.
func NewRollupService(usage rollup.UsageStore, rollups rollup.RollupStore, logger *slog.Logger) *RollupService {
	return &RollupService{
		usage:   usage,
		rollups: rollups,
		logger:  logger,
	}
}

// PerformDailyRollup aggregates usage for the calendar day before
// targetDate, per active tenant. A zero targetDate means "today", i.e. the
// pass rolls up yesterday. Per-tenant failures are logged and the pass
// continues; the error reports only how many tenants failed.
func (s *RollupService) PerformDailyRollup(ctx context.Context, targetDate time.Time) error {
	if targetDate.IsZero() {
		targetDate = time.Now().UTC()
	}
	day := targetDate.UTC().AddDate(0, 0, -1)
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	dateKey := from.Format(rollup.DateLayout)

	tenants, err := s.usage.ActiveTenants(ctx, from, to)
	if err != nil {
		return fmt.Errorf("list active tenants for %s: %w", dateKey, err)
	}
	if len(tenants) == 0 {
		s.logger.Debug("rollup pass found no activity", "date", dateKey)
		return nil
	}

	failures := 0
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		row, err := s.usage.Aggregate(ctx, tenantID, from, to)
		if err != nil {
			failures++
			s.logger.Error("rollup aggregation failed",
				"tenant_id", tenantID, "date", dateKey, "error", err)
			continue
		}
		if row.MessagesProcessed == 0 {
			continue
		}
		row.TenantID = tenantID
		row.Date = dateKey
		if err := s.rollups.Upsert(ctx, row); err != nil {
			failures++
			s.logger.Error("rollup upsert failed",
				"tenant_id", tenantID, "date", dateKey, "error", err)
			continue
		}
	}

	s.logger.Info("daily rollup pass complete",
		"date", dateKey,
		"tenants", len(tenants),
		"failures", failures)
	if failures > 0 {
		return fmt.Errorf("rollup for %s: %d of %d tenants failed", dateKey, failures, len(tenants))
	}
	return nil
}

// GetDailyRollups returns aggregated rows for a tenant over an inclusive
// ISO-date range, ascending by date.
func (s *RollupService) GetDailyRollups(ctx context.Context, tenantID, startDate, endDate string) ([]rollup.DailyRollup, error) {
	if _, err := time.Parse(rollup.DateLayout, startDate); err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", startDate, err)
	}
	if _, err := time.Parse(rollup.DateLayout, endDate); err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", endDate, err)
	}
	return s.rollups.List(ctx, tenantID, startDate, endDate)
}

// GetAggregatedMetrics summarizes a tenant's rollups over a date range.
func (s *RollupService) GetAggregatedMetrics(ctx context.Context, tenantID, startDate, endDate string) (rollup.Aggregated, error) {
	rows, err := s.GetDailyRollups(ctx, tenantID, startDate, endDate)
	if err != nil {
		return rollup.Aggregated{}, err
	}

	agg := rollup.Aggregated{TotalCost: decimal.Zero}
	var hits, misses int64
	var weightedMs float64
	for _, r := range rows {
		agg.TotalMessages += r.MessagesProcessed
		agg.TotalAICalls += r.AICallsMade
		agg.TotalCost = agg.TotalCost.Add(r.AICost)
		hits += r.CacheHits
		misses += r.CacheMisses
		weightedMs += r.AvgProcessingMs * float64(r.MessagesProcessed)
	}
	agg.CacheHitRate = rollup.HitRate(hits, misses)
	if agg.TotalMessages > 0 {
		agg.AvgProcessingMs = weightedMs / float64(agg.TotalMessages)
	}
	return agg, nil
}

// CleanupOldMetrics removes raw usage records older than retentionDays.
// Rollup rows are kept; they are the durable record.
func (s *RollupService) CleanupOldMetrics(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, fmt.Errorf("retentionDays must be >= 1, got %d", retentionDays)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	n, err := s.usage.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("usage cleanup: %w", err)
	}
	if n > 0 {
		s.logger.Info("usage cleanup", "removed", n, "cutoff", cutoff.Format(rollup.DateLayout))
	}
	return n, nil
}

// Start schedules the daily pass. An empty schedule uses the default
// (00:10 UTC). Returns an error for an unparsable cron expression.
func (s *RollupService) Start(schedule string) error {
	if schedule == "" {
		schedule = defaultRollupSchedule
	}
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.sched != nil {
		return fmt.Errorf("rollup scheduler already started")
	}

	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.PerformDailyRollup(ctx, time.Time{}); err != nil {
			s.logger.Error("scheduled rollup failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid rollup schedule %q: %w", schedule, err)
	}
	c.Start()
	s.sched = c
	s.logger.Info("rollup scheduler started", "schedule", schedule)
	return nil
}

// Stop halts the scheduler and waits for a running pass to finish.
func (s *RollupService) Stop() {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.sched == nil {
		return
	}
	<-s.sched.Stop().Done()
	s.sched = nil
}
