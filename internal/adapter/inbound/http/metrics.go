// Package http serves the observability surface: Prometheus metrics,
// health, and a JSON stats snapshot. The admin REST API proper lives in the
// control-plane service, not here.
package http

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hmcelik/aegis-moderation/internal/adapter/outbound/telegram"
	"github.com/hmcelik/aegis-moderation/internal/service"
)

// Sources bundles the snapshot accessors the collector scrapes. Nil fields
// are skipped, so partial wirings (tests, rules-only mode) still export.
type Sources struct {
	Queue    *service.ShardManager
	Worker   *service.ModerationWorker
	Cache    *service.VerdictCache
	Outbox   *service.OutboxManager
	Platform *telegram.Client
}

// Collector exports the moderation core's counters at scrape time. The
// services own their counters; this adapter only reads snapshots, so no
// service ever imports the metrics stack.
type Collector struct {
	sources Sources

	processedDesc  *prometheus.Desc
	queueDesc      *prometheus.Desc
	shardDepthDesc *prometheus.Desc
	deadLetterDesc *prometheus.Desc
	cacheDesc      *prometheus.Desc
	cacheSizeDesc  *prometheus.Desc
	aiCallsDesc    *prometheus.Desc
	outboxDesc     *prometheus.Desc
	platformDesc   *prometheus.Desc
	circuitDesc    *prometheus.Desc
}

// NewCollector creates the collector. Register it with a prometheus
// Registerer.
func NewCollector(sources Sources) *Collector {
	return &Collector{
		sources: sources,
		processedDesc: prometheus.NewDesc(
			"aegis_messages_processed_total",
			"Messages processed by the verdict pipeline",
			[]string{"verdict"}, nil),
		queueDesc: prometheus.NewDesc(
			"aegis_queue_jobs",
			"Queue occupancy by state",
			[]string{"state"}, nil),
		shardDepthDesc: prometheus.NewDesc(
			"aegis_shard_depth",
			"Ready-queue depth per shard",
			[]string{"shard"}, nil),
		deadLetterDesc: prometheus.NewDesc(
			"aegis_dead_letters_total",
			"Jobs routed to the dead-letter list",
			nil, nil),
		cacheDesc: prometheus.NewDesc(
			"aegis_verdict_cache_events_total",
			"Verdict cache hits, misses, and evictions",
			[]string{"event"}, nil),
		cacheSizeDesc: prometheus.NewDesc(
			"aegis_verdict_cache_entries",
			"Entries currently in the verdict cache",
			nil, nil),
		aiCallsDesc: prometheus.NewDesc(
			"aegis_ai_calls_total",
			"AI scoring calls made",
			nil, nil),
		outboxDesc: prometheus.NewDesc(
			"aegis_outbox_entries",
			"Outbox entries by status",
			[]string{"status"}, nil),
		platformDesc: prometheus.NewDesc(
			"aegis_platform_calls_total",
			"Bot API calls by outcome",
			[]string{"outcome"}, nil),
		circuitDesc: prometheus.NewDesc(
			"aegis_platform_circuit_open",
			"1 when the platform circuit breaker is open",
			nil, nil),
	}
}

var _ prometheus.Collector = (*Collector)(nil)

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.processedDesc
	ch <- c.queueDesc
	ch <- c.shardDepthDesc
	ch <- c.deadLetterDesc
	ch <- c.cacheDesc
	ch <- c.cacheSizeDesc
	ch <- c.aiCallsDesc
	ch <- c.outboxDesc
	ch <- c.platformDesc
	ch <- c.circuitDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if q := c.sources.Queue; q != nil {
		stats := q.GetQueueStats()
		ch <- prometheus.MustNewConstMetric(c.queueDesc, prometheus.GaugeValue, float64(stats.Waiting), "waiting")
		ch <- prometheus.MustNewConstMetric(c.queueDesc, prometheus.GaugeValue, float64(stats.Active), "active")
		ch <- prometheus.MustNewConstMetric(c.queueDesc, prometheus.GaugeValue, float64(stats.Completed), "completed")
		ch <- prometheus.MustNewConstMetric(c.queueDesc, prometheus.GaugeValue, float64(stats.Failed), "failed")
		for i, depth := range q.ShardDepths() {
			ch <- prometheus.MustNewConstMetric(c.shardDepthDesc, prometheus.GaugeValue, float64(depth), strconv.Itoa(i))
		}
		ch <- prometheus.MustNewConstMetric(c.deadLetterDesc, prometheus.CounterValue, float64(len(q.DeadLetters())))
	}

	if w := c.sources.Worker; w != nil {
		m := w.GetMetrics()
		ch <- prometheus.MustNewConstMetric(c.processedDesc, prometheus.CounterValue, float64(m.Blocked), "block")
		ch <- prometheus.MustNewConstMetric(c.processedDesc, prometheus.CounterValue, float64(m.Reviewed), "review")
		ch <- prometheus.MustNewConstMetric(c.processedDesc, prometheus.CounterValue, float64(m.Allowed), "allow")
		ch <- prometheus.MustNewConstMetric(c.aiCallsDesc, prometheus.CounterValue, float64(m.AICalls))
	}

	if vc := c.sources.Cache; vc != nil {
		m := vc.GetMetrics()
		ch <- prometheus.MustNewConstMetric(c.cacheDesc, prometheus.CounterValue, float64(m.HitCount), "hit")
		ch <- prometheus.MustNewConstMetric(c.cacheDesc, prometheus.CounterValue, float64(m.MissCount), "miss")
		ch <- prometheus.MustNewConstMetric(c.cacheDesc, prometheus.CounterValue, float64(m.EvictedCount), "eviction")
		ch <- prometheus.MustNewConstMetric(c.cacheSizeDesc, prometheus.GaugeValue, float64(m.TotalEntries))
	}

	if om := c.sources.Outbox; om != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		m, err := om.GetMetrics(ctx)
		cancel()
		if err == nil {
			ch <- outboxMetric(c.outboxDesc, m.Pending, "pending")
			ch <- outboxMetric(c.outboxDesc, m.Processing, "processing")
			ch <- outboxMetric(c.outboxDesc, m.Completed, "completed")
			ch <- outboxMetric(c.outboxDesc, m.Failed, "failed")
		}
	}

	if p := c.sources.Platform; p != nil {
		m := p.GetMetrics()
		ch <- prometheus.MustNewConstMetric(c.platformDesc, prometheus.CounterValue, float64(m.TotalCalls-m.ErrorCount), "ok")
		ch <- prometheus.MustNewConstMetric(c.platformDesc, prometheus.CounterValue, float64(m.ErrorCount), "error")
		open := 0.0
		if m.CircuitState == telegram.BreakerOpen {
			open = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.circuitDesc, prometheus.GaugeValue, open)
	}
}

func outboxMetric(desc *prometheus.Desc, v int64, status string) prometheus.Metric {
	return prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(v), status)
}

// queueStatsDTO is the JSON shape of queue stats in /stats.
type queueStatsDTO struct {
	Waiting     int64 `json:"waiting"`
	Active      int64 `json:"active"`
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
	ShardDepths []int `json:"shardDepths,omitempty"`
	DeadLetters int   `json:"deadLetters"`
}

func queueStats(q *service.ShardManager) queueStatsDTO {
	var dto queueStatsDTO
	if q == nil {
		return dto
	}
	s := q.GetQueueStats()
	dto.Waiting = s.Waiting
	dto.Active = s.Active
	dto.Completed = s.Completed
	dto.Failed = s.Failed
	dto.ShardDepths = q.ShardDepths()
	dto.DeadLetters = len(q.DeadLetters())
	return dto
}
