package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmcelik/aegis-moderation/internal/adapter/outbound/memory"
	"github.com/hmcelik/aegis-moderation/internal/domain/budget"
	"github.com/hmcelik/aegis-moderation/internal/domain/content"
	"github.com/hmcelik/aegis-moderation/internal/domain/outbox"
	"github.com/hmcelik/aegis-moderation/internal/domain/policy"
	"github.com/hmcelik/aegis-moderation/internal/domain/queue"
	"github.com/hmcelik/aegis-moderation/internal/port/outbound"
)

// fakeAI returns a fixed score or error and counts invocations.
type fakeAI struct {
	score outbound.AIScore
	err   error
	calls atomic.Int64
}

func (f *fakeAI) Score(_ context.Context, _ content.NormalizedContent) (outbound.AIScore, error) {
	f.calls.Add(1)
	if f.err != nil {
		return outbound.AIScore{}, f.err
	}
	return f.score, nil
}

type workerFixture struct {
	worker      *ModerationWorker
	cache       *VerdictCache
	outboxStore *memory.OutboxStore
	budgetStore *memory.BudgetStore
	usage       *memory.UsageStore
	strikes     *StrikeCounter
	platform    *fakePlatform
}

func newWorkerFixture(t *testing.T, ai outbound.AIClient) *workerFixture {
	t.Helper()
	logger := testLogger()

	engine := policy.NewEngine(policy.DefaultThresholds())
	for _, r := range policy.DefaultRules() {
		if err := engine.AddRule(r); err != nil {
			t.Fatalf("AddRule: %v", err)
		}
	}

	cache := NewVerdictCache(VerdictCacheConfig{TTL: time.Minute, MaxEntries: 100, CleanupInterval: time.Hour}, logger)
	t.Cleanup(cache.Destroy)

	budgetStore := memory.NewBudgetStore()
	budgetStore.Configure(budget.Snapshot{
		TenantID:     "t1",
		MonthlyLimit: decimal.NewFromInt(100),
		DegradeMode:  budget.DegradeStrictRules,
	})

	platform := &fakePlatform{}
	outboxStore := memory.NewOutboxStore()
	om := NewOutboxManager(outboxStore, platform, OutboxManagerConfig{}, logger)

	usage := memory.NewUsageStore()
	strikes := NewStrikeCounter()

	worker := NewModerationWorker(
		engine,
		cache,
		NewBudgetEnforcer(budgetStore, time.Minute, logger),
		ai,
		om,
		usage,
		strikes,
		nil,
		time.Minute,
		logger,
	)
	return &workerFixture{
		worker:      worker,
		cache:       cache,
		outboxStore: outboxStore,
		budgetStore: budgetStore,
		usage:       usage,
		strikes:     strikes,
		platform:    platform,
	}
}

func testJob(content string) queue.MessageJob {
	return queue.MessageJob{
		ChatID:    -100,
		MessageID: "55",
		UserID:    9,
		TenantID:  "t1",
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestModerationWorker_BlockEmitsDeleteWarnStrike(t *testing.T) {
	f := newWorkerFixture(t, nil)
	ctx := context.Background()

	if err := f.worker.Process(ctx, testJob("buy cheap viagra now")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if _, err := f.outboxStore.Get(ctx, "-100:55:delete"); err != nil {
		t.Errorf("delete entry missing: %v", err)
	}
	warn, err := f.outboxStore.Get(ctx, "-100:55:warn")
	if err != nil {
		t.Fatalf("warn entry missing: %v", err)
	}
	if warn.Payload["user_id"] != int64(9) {
		t.Errorf("warn user_id = %v", warn.Payload["user_id"])
	}
	if warn.Payload["text"] == "" {
		t.Error("warn text empty")
	}

	if got := f.strikes.Count(-100, 9); got != 1 {
		t.Errorf("strikes = %d, want 1", got)
	}

	m := f.worker.GetMetrics()
	if m.Blocked != 1 || m.Processed != 1 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestModerationWorker_ReviewEmitsEphemeralWarn(t *testing.T) {
	f := newWorkerFixture(t, nil)
	ctx := context.Background()

	// Three links trip the link-flood rule (50), inside the review band.
	if err := f.worker.Process(ctx, testJob("http://a.example http://b.example http://c.example")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if _, err := f.outboxStore.Get(ctx, "-100:55:delete"); !errors.Is(err, outbox.ErrNotFound) {
		t.Error("review must not delete the message")
	}
	warn, err := f.outboxStore.Get(ctx, "-100:55:warn")
	if err != nil {
		t.Fatalf("warn entry missing: %v", err)
	}
	if warn.Payload["ephemeral"] != true {
		t.Errorf("ephemeral = %v, want true", warn.Payload["ephemeral"])
	}

	// Default group policy does not strike on review.
	if got := f.strikes.Count(-100, 9); got != 0 {
		t.Errorf("strikes = %d, want 0", got)
	}
	if m := f.worker.GetMetrics(); m.Reviewed != 1 {
		t.Errorf("Reviewed = %d, want 1", m.Reviewed)
	}
}

func TestModerationWorker_AllowEmitsNothing(t *testing.T) {
	f := newWorkerFixture(t, nil)
	ctx := context.Background()

	if err := f.worker.Process(ctx, testJob("good morning everyone")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	counts, _ := f.outboxStore.Counts(ctx)
	if counts.Total != 0 {
		t.Errorf("outbox entries = %d, want 0", counts.Total)
	}
	if m := f.worker.GetMetrics(); m.Allowed != 1 {
		t.Errorf("Allowed = %d, want 1", m.Allowed)
	}
}

func TestModerationWorker_CacheHitSkipsAI(t *testing.T) {
	ai := &fakeAI{score: outbound.AIScore{SpamScore: 0.1, Tokens: 10, Cost: decimal.NewFromFloat(0.001), Model: "m"}}
	f := newWorkerFixture(t, ai)
	ctx := context.Background()

	if err := f.worker.Process(ctx, testJob("hello friends")); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	job2 := testJob("hello friends")
	job2.MessageID = "56"
	if err := f.worker.Process(ctx, job2); err != nil {
		t.Fatalf("second Process: %v", err)
	}

	if got := ai.calls.Load(); got != 1 {
		t.Errorf("AI calls = %d, want 1 (second message served from cache)", got)
	}
	m := f.worker.GetMetrics()
	if m.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", m.CacheHits)
	}
	if m.AICalls != 1 {
		t.Errorf("AICalls = %d, want 1", m.AICalls)
	}
}

func TestModerationWorker_AIScoreEscalatesVerdict(t *testing.T) {
	ai := &fakeAI{score: outbound.AIScore{SpamScore: 0.93, Tokens: 42, Cost: decimal.NewFromFloat(0.002), Model: "scorer-v1"}}
	f := newWorkerFixture(t, ai)
	ctx := context.Background()

	// Rules alone allow this text; the AI score pushes it over the block
	// threshold (floor(100 * 0.93) = 93).
	if err := f.worker.Process(ctx, testJob("totally innocent looking text")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if _, err := f.outboxStore.Get(ctx, "-100:55:delete"); err != nil {
		t.Errorf("expected delete action from AI-escalated block: %v", err)
	}

	// AI spend rolled onto the tenant's budget.
	snap, err := f.budgetStore.Fetch(ctx, "t1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !snap.TotalSpent.Equal(decimal.NewFromFloat(0.002)) {
		t.Errorf("TotalSpent = %s, want 0.002", snap.TotalSpent)
	}
}

func TestModerationWorker_AIErrorFailsJob(t *testing.T) {
	ai := &fakeAI{err: errors.New("scorer unavailable")}
	f := newWorkerFixture(t, ai)

	if err := f.worker.Process(context.Background(), testJob("hello")); err == nil {
		t.Error("expected AI scoring failure to fail the job for queue retry")
	}
}

func TestModerationWorker_ExhaustedBudgetSkipsAI(t *testing.T) {
	ai := &fakeAI{score: outbound.AIScore{SpamScore: 0.99}}
	f := newWorkerFixture(t, ai)

	f.budgetStore.Configure(budget.Snapshot{
		TenantID:     "t1",
		MonthlyLimit: decimal.NewFromInt(100),
		TotalSpent:   decimal.NewFromInt(100),
		DegradeMode:  budget.DegradeStrictRules,
		IsExhausted:  true,
	})

	if err := f.worker.Process(context.Background(), testJob("hello there")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := ai.calls.Load(); got != 0 {
		t.Errorf("AI calls = %d, want 0 under an exhausted budget", got)
	}
}

func TestModerationWorker_RecordsUsage(t *testing.T) {
	f := newWorkerFixture(t, nil)
	ctx := context.Background()

	if err := f.worker.Process(ctx, testJob("spam spam spam")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	day := time.Now().UTC()
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	row, err := f.usage.Aggregate(ctx, "t1", from, from.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if row.MessagesProcessed != 1 {
		t.Errorf("MessagesProcessed = %d, want 1", row.MessagesProcessed)
	}
	if row.CacheMisses != 1 {
		t.Errorf("CacheMisses = %d, want 1", row.CacheMisses)
	}
}

func TestModerationWorker_TenantEngineOverride(t *testing.T) {
	f := newWorkerFixture(t, nil)

	// Tenant t2 runs a single custom rule and no defaults.
	custom := policy.NewEngine(policy.DefaultThresholds())
	if err := custom.AddRule(policy.Rule{
		ID:     "no-greetings",
		Name:   "No Greetings",
		Weight: 100,
		Match: func(nc content.NormalizedContent) bool {
			return nc.NormalizedText == "good morning everyone"
		},
	}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	f.worker.SetTenantEngine("t2", custom)

	ctx := context.Background()
	job := testJob("good morning everyone")
	job.TenantID = "t2"
	if err := f.worker.Process(ctx, job); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if _, err := f.outboxStore.Get(ctx, "-100:55:delete"); err != nil {
		t.Errorf("tenant rule should have blocked the message: %v", err)
	}
}

func TestMergeAIScore(t *testing.T) {
	th := policy.DefaultThresholds()

	merged := mergeAIScore(policy.PolicyVerdict{
		Verdict: policy.VerdictAllow,
		Scores:  map[string]float64{},
	}, outbound.AIScore{SpamScore: 0.45}, th)
	if merged.Scores[policy.RuleIDAISpam] != 45 {
		t.Errorf("ai weight = %v, want 45 (floor of 100 * 0.45)", merged.Scores[policy.RuleIDAISpam])
	}
	if merged.Verdict != policy.VerdictReview {
		t.Errorf("Verdict = %s, want review", merged.Verdict)
	}
	if merged.Confidence != 0.45 {
		t.Errorf("Confidence = %v, want 0.45", merged.Confidence)
	}

	// A zero score leaves the verdict untouched.
	unchanged := mergeAIScore(policy.PolicyVerdict{
		Verdict: policy.VerdictAllow,
		Scores:  map[string]float64{},
	}, outbound.AIScore{SpamScore: 0}, th)
	if len(unchanged.Scores) != 0 {
		t.Errorf("zero score mutated the verdict: %+v", unchanged)
	}

	// Rules plus AI accumulate: 30 (caps) + 60 (ai) blocks.
	withRules := policy.PolicyVerdict{
		Verdict:      policy.VerdictAllow,
		Scores:       map[string]float64{policy.RuleIDExcessiveCaps: 30},
		RulesMatched: []string{"Excessive Caps"},
	}
	merged = mergeAIScore(withRules, outbound.AIScore{SpamScore: 0.6}, th)
	if merged.Verdict != policy.VerdictBlock {
		t.Errorf("Verdict = %s, want block at 90 total", merged.Verdict)
	}
	if len(merged.RulesMatched) != 2 || merged.RulesMatched[1] != policy.RuleNameAISpam {
		t.Errorf("RulesMatched = %v", merged.RulesMatched)
	}
}
