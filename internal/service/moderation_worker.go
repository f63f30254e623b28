package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hmcelik/aegis-moderation/internal/domain/budget"
	"github.com/hmcelik/aegis-moderation/internal/domain/content"
	"github.com/hmcelik/aegis-moderation/internal/domain/outbox"
	"github.com/hmcelik/aegis-moderation/internal/domain/policy"
	"github.com/hmcelik/aegis-moderation/internal/domain/queue"
	"github.com/hmcelik/aegis-moderation/internal/domain/rollup"
	"github.com/hmcelik/aegis-moderation/internal/port/outbound"
)

// defaultWarnText is sent when neither the group policy nor the caller
// supplies one.
const defaultWarnText = "Your message was removed for violating the group rules."

// WorkerMetrics is a point-in-time snapshot of pipeline counters.
type WorkerMetrics struct {
	Processed    int64
	CacheHits    int64
	AICalls      int64
	Blocked      int64
	Reviewed     int64
	Allowed      int64
	AvgLatencyMs float64
}

// ModerationWorker runs the verdict pipeline for one message job:
// normalize, evaluate rules, consult the verdict cache, optionally score
// with AI under budget control, then emit enforcement actions through the
// outbox. It implements JobProcessor for the shard manager.
type ModerationWorker struct {
	engine *policy.Engine
	// tenantEngines overrides the default engine per tenant; set at wiring
	// time, read-only afterwards.
	tenantEngines map[string]*policy.Engine
	cache         *VerdictCache
	budgets       *BudgetEnforcer
	ai            outbound.AIClient
	outbox        *OutboxManager
	usage         rollup.UsageStore
	strikes       *StrikeCounter
	policies      policy.GroupPolicySource
	logger        *slog.Logger

	cacheTTL time.Duration

	processed atomic.Int64
	cacheHits atomic.Int64
	aiCalls   atomic.Int64
	blocked   atomic.Int64
	reviewed  atomic.Int64
	allowed   atomic.Int64

	latencyMu  sync.Mutex
	latencySum float64
}

// NewModerationWorker wires the pipeline. The AI client may be nil; the
// worker then behaves as if every strategy said fast path.
func NewModerationWorker(
	engine *policy.Engine,
	cache *VerdictCache,
	budgets *BudgetEnforcer,
	ai outbound.AIClient,
	om *OutboxManager,
	usage rollup.UsageStore,
	strikes *StrikeCounter,
	policies policy.GroupPolicySource,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *ModerationWorker {
	if policies == nil {
		policies = policy.StaticGroupPolicies{Default: policy.DefaultGroupPolicy()}
	}
	return &ModerationWorker{
		engine:   engine,
		cache:    cache,
		budgets:  budgets,
		ai:       ai,
		outbox:   om,
		usage:    usage,
		strikes:  strikes,
		policies: policies,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

var _ JobProcessor = (*ModerationWorker)(nil)

// SetTenantEngine installs a tenant-specific rule engine. Call during
// wiring, before Process runs.
func (w *ModerationWorker) SetTenantEngine(tenantID string, engine *policy.Engine) {
	if w.tenantEngines == nil {
		w.tenantEngines = make(map[string]*policy.Engine)
	}
	w.tenantEngines[tenantID] = engine
}

// engineFor returns the tenant's engine, or the default.
func (w *ModerationWorker) engineFor(tenantID string) *policy.Engine {
	if e, ok := w.tenantEngines[tenantID]; ok {
		return e
	}
	return w.engine
}

// Process runs the pipeline for one job. Errors before action emission fail
// the job so the queue can retry it; action emission is delegated to the
// outbox and never fails the job.
func (w *ModerationWorker) Process(ctx context.Context, job queue.MessageJob) error {
	start := time.Now()

	nc := content.Normalize(job.Content)

	engine := w.engineFor(job.TenantID)
	verdict := engine.EvaluateContent(nc)

	cacheHit := false
	aiUsed := false
	var usageRecord budget.Usage

	if cached, ok := w.cache.Get(nc); ok {
		verdict = cached
		cacheHit = true
		w.cacheHits.Add(1)
	} else {
		strategy := w.budgets.GetProcessingStrategy(ctx, job.TenantID, budget.MessageContext{
			HasLinks:      nc.HasLinks(),
			IsNewUser:     !job.UserEstablished,
			MessageLength: len(nc.NormalizedText),
		})

		if strategy.UseAI && w.ai != nil {
			score, err := w.ai.Score(ctx, nc)
			if err != nil {
				return fmt.Errorf("ai scoring: %w", err)
			}
			aiUsed = true
			w.aiCalls.Add(1)
			verdict = mergeAIScore(verdict, score, engine.Thresholds())
			usageRecord = budget.Usage{
				Tokens:    score.Tokens,
				Cost:      score.Cost,
				Model:     score.Model,
				Operation: "moderation_score",
			}
			if err := w.budgets.RecordUsage(ctx, job.TenantID, usageRecord); err != nil {
				// Spend tracking must not drop a computed verdict.
				w.logger.Error("usage recording failed",
					"tenant_id", job.TenantID,
					"job_id", job.ID(),
					"error", err)
			}
		}

		w.cache.Set(nc, verdict, w.cacheTTL)
	}

	w.emitActions(ctx, job, verdict)
	w.recordProcessing(ctx, job, verdict, cacheHit, aiUsed, usageRecord, time.Since(start))

	w.logger.Debug("message processed",
		"job_id", job.ID(),
		"tenant_id", job.TenantID,
		"verdict", verdict.Verdict,
		"score", verdict.TotalScore(),
		"cache_hit", cacheHit,
		"ai_used", aiUsed,
		"duration_ms", float64(time.Since(start).Microseconds())/1000.0)
	return nil
}

// mergeAIScore folds the model's spam probability into the rule verdict as
// a synthetic rule weighted floor(100 * score), then recomputes the verdict
// against the engine's thresholds.
func mergeAIScore(v policy.PolicyVerdict, score outbound.AIScore, thresholds policy.Thresholds) policy.PolicyVerdict {
	weight := math.Floor(100 * score.SpamScore)
	if weight <= 0 {
		return v
	}
	if v.Scores == nil {
		v.Scores = make(map[string]float64, 1)
	}
	v.Scores[policy.RuleIDAISpam] = weight
	v.RulesMatched = append(v.RulesMatched, policy.RuleNameAISpam)

	v.Verdict = thresholds.VerdictFor(v.TotalScore())
	v.Reason = fmt.Sprintf("score %.0f (ai %.2f)", v.TotalScore(), score.SpamScore)
	v.Confidence = score.SpamScore
	return v
}

// emitActions maps the verdict to outbox entries. Failures here are logged,
// never returned: the outbox owns delivery from this point.
func (w *ModerationWorker) emitActions(ctx context.Context, job queue.MessageJob, v policy.PolicyVerdict) {
	gp := w.policies.PolicyFor(job.ChatID)

	switch v.Verdict {
	case policy.VerdictBlock:
		w.blocked.Add(1)
		w.createAction(ctx, job, outbox.ActionDelete, map[string]any{
			"reason": v.Reason,
		})
		if gp.WarnOnBlock {
			w.createAction(ctx, job, outbox.ActionWarn, map[string]any{
				"user_id": job.UserID,
				"text":    warnText(gp),
			})
		}
		w.strikes.Increment(job.ChatID, job.UserID)

	case policy.VerdictReview:
		w.reviewed.Add(1)
		if gp.WarnOnReview {
			w.createAction(ctx, job, outbox.ActionWarn, map[string]any{
				"user_id":   job.UserID,
				"text":      warnText(gp),
				"ephemeral": true,
			})
		}
		if gp.StrikeOnReview {
			w.strikes.Increment(job.ChatID, job.UserID)
		}

	case policy.VerdictAllow:
		w.allowed.Add(1)
	}
	w.processed.Add(1)
}

func warnText(gp policy.GroupPolicy) string {
	if gp.WarnText != "" {
		return gp.WarnText
	}
	return defaultWarnText
}

func (w *ModerationWorker) createAction(ctx context.Context, job queue.MessageJob, t outbox.ActionType, payload map[string]any) {
	if _, _, err := w.outbox.CreateAction(ctx, job.ChatID, job.MessageID, t, payload); err != nil {
		w.logger.Error("outbox create failed",
			"job_id", job.ID(),
			"action", t,
			"error", err)
	}
}

// recordProcessing appends the raw usage row the daily rollup aggregates.
func (w *ModerationWorker) recordProcessing(ctx context.Context, job queue.MessageJob, v policy.PolicyVerdict, cacheHit, aiUsed bool, u budget.Usage, elapsed time.Duration) {
	ms := float64(elapsed.Microseconds()) / 1000.0
	w.latencyMu.Lock()
	w.latencySum += ms
	w.latencyMu.Unlock()

	if w.usage == nil {
		return
	}
	rec := rollup.ProcessingRecord{
		ID:               uuid.NewString(),
		TenantID:         job.TenantID,
		Timestamp:        time.Now().UTC(),
		AIUsed:           aiUsed,
		Tokens:           u.Tokens,
		AICost:           u.Cost,
		Model:            u.Model,
		Operation:        u.Operation,
		CacheHit:         cacheHit,
		ProcessingTimeMs: ms,
		Verdict:          string(v.Verdict),
	}
	if err := w.usage.Append(ctx, rec); err != nil {
		w.logger.Error("usage append failed",
			"job_id", job.ID(),
			"tenant_id", job.TenantID,
			"error", err)
	}
}

// GetMetrics returns a snapshot of the pipeline counters.
func (w *ModerationWorker) GetMetrics() WorkerMetrics {
	processed := w.processed.Load()
	w.latencyMu.Lock()
	sum := w.latencySum
	w.latencyMu.Unlock()
	var avg float64
	if processed > 0 {
		avg = sum / float64(processed)
	}
	return WorkerMetrics{
		Processed:    processed,
		CacheHits:    w.cacheHits.Load(),
		AICalls:      w.aiCalls.Load(),
		Blocked:      w.blocked.Load(),
		Reviewed:     w.reviewed.Load(),
		Allowed:      w.allowed.Load(),
		AvgLatencyMs: avg,
	}
}
