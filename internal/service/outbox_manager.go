package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hmcelik/aegis-moderation/internal/domain/outbox"
	"github.com/hmcelik/aegis-moderation/internal/port/outbound"
)

const (
	defaultOutboxMaxRetries   = 3
	defaultDispatchInterval   = 1 * time.Second
	defaultDispatchMaxBackoff = 30 * time.Second
	dispatchBaseBackoff       = 250 * time.Millisecond
)

// OutboxManagerConfig tunes the action outbox.
type OutboxManagerConfig struct {
	// MaxRetries is the per-entry retry budget before the entry fails
	// terminally.
	MaxRetries int
	// DispatchInterval is the idle sweep interval of the background
	// dispatcher.
	DispatchInterval time.Duration
	// RetryBaseBackoff is the delay before an entry's first re-dispatch.
	// Each further retry doubles it, jittered, up to DispatchMaxBackoff.
	RetryBaseBackoff time.Duration
	// DispatchMaxBackoff caps both the dispatcher's error backoff and the
	// per-entry retry backoff.
	DispatchMaxBackoff time.Duration
}

func (c *OutboxManagerConfig) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultOutboxMaxRetries
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = defaultDispatchInterval
	}
	if c.RetryBaseBackoff <= 0 {
		c.RetryBaseBackoff = dispatchBaseBackoff
	}
	if c.DispatchMaxBackoff <= 0 {
		c.DispatchMaxBackoff = defaultDispatchMaxBackoff
	}
}

// ActionResult reports the outcome of processing one outbox entry.
type ActionResult struct {
	Success bool
	// Retried is true when the entry went back to pending for another try.
	Retried bool
	Error   string
}

// OutboxManager turns verdicts into durable, exactly-once-ish enforcement
// actions. Every action is recorded before dispatch; dispatch is retried
// with backoff; a failed dispatch never loses the entry.
type OutboxManager struct {
	store    outbox.Store
	platform outbound.PlatformClient
	logger   *slog.Logger
	cfg      OutboxManagerConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewOutboxManager creates the manager. The dispatcher does not run until
// StartDispatcher.
func NewOutboxManager(store outbox.Store, platform outbound.PlatformClient, cfg OutboxManagerConfig, logger *slog.Logger) *OutboxManager {
	cfg.applyDefaults()
	return &OutboxManager{
		store:    store,
		platform: platform,
		logger:   logger,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
}

// CreateAction records an enforcement action in the outbox. Creation is
// idempotent on (chatId, messageId, actionType): a duplicate returns the
// existing entry's ID without touching its state. The returned bool is true
// when a new entry was created.
func (m *OutboxManager) CreateAction(ctx context.Context, chatID int64, messageID string, actionType outbox.ActionType, payload map[string]any) (string, bool, error) {
	if !actionType.Valid() {
		return "", false, fmt.Errorf("%w: %q", outbox.ErrInvalidAction, actionType)
	}
	entry := outbox.Entry{
		ID:         outbox.EntryID(chatID, messageID, actionType),
		ChatID:     chatID,
		MessageID:  messageID,
		ActionType: actionType,
		Payload:    payload,
		Status:     outbox.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	stored, existed, err := m.store.Create(ctx, entry)
	if err != nil {
		return "", false, fmt.Errorf("create outbox entry: %w", err)
	}
	if existed {
		m.logger.Debug("outbox entry already exists", "id", stored.ID, "status", stored.Status)
	}
	return stored.ID, !existed, nil
}

// ProcessAction executes one outbox entry against the platform.
//
// A completed entry short-circuits to success without another platform
// call. An entry whose retry budget is already spent is failed terminally
// with the canonical error message. A circuit-open fast failure releases
// the entry back to pending without consuming a retry; any other dispatch
// error consumes one.
func (m *OutboxManager) ProcessAction(ctx context.Context, id string) (ActionResult, error) {
	entry, err := m.store.Get(ctx, id)
	if err != nil {
		return ActionResult{}, err
	}

	switch entry.Status {
	case outbox.StatusCompleted:
		return ActionResult{Success: true}, nil
	case outbox.StatusFailed:
		return ActionResult{Success: false, Error: entry.LastError}, nil
	case outbox.StatusProcessing:
		// Another executor owns it.
		return ActionResult{Success: false, Retried: true, Error: "entry is being processed"}, nil
	}

	if entry.RetryCount >= m.cfg.MaxRetries {
		if err := m.store.Fail(ctx, id, outbox.MaxRetriesExceeded); err != nil {
			return ActionResult{}, fmt.Errorf("fail outbox entry: %w", err)
		}
		m.logger.Error("outbox entry exhausted retries",
			"id", id,
			"action", entry.ActionType,
			"retries", entry.RetryCount)
		return ActionResult{Success: false, Error: outbox.MaxRetriesExceeded}, nil
	}

	if time.Now().Before(entry.NextAttemptAt) {
		return ActionResult{Success: false, Retried: true, Error: "entry is in retry backoff"}, nil
	}

	claimed, err := m.store.MarkProcessing(ctx, id)
	if err != nil {
		return ActionResult{}, fmt.Errorf("claim outbox entry: %w", err)
	}
	if !claimed {
		return ActionResult{Success: false, Retried: true, Error: "entry is not pending"}, nil
	}

	dispatchErr := m.dispatch(ctx, entry)
	if dispatchErr == nil {
		if err := m.store.Complete(ctx, id); err != nil {
			return ActionResult{}, fmt.Errorf("complete outbox entry: %w", err)
		}
		m.logger.Info("action dispatched",
			"id", id,
			"action", entry.ActionType,
			"chat_id", entry.ChatID)
		return ActionResult{Success: true}, nil
	}

	if errors.Is(dispatchErr, outbound.ErrCircuitOpen) {
		// The call never left the process; put the entry back untouched.
		if err := m.store.Release(ctx, id); err != nil {
			return ActionResult{}, fmt.Errorf("release outbox entry: %w", err)
		}
		m.logger.Warn("action deferred, circuit open",
			"id", id,
			"action", entry.ActionType)
		return ActionResult{Success: false, Retried: true, Error: dispatchErr.Error()}, nil
	}

	if errors.Is(dispatchErr, outbound.ErrPermanent) {
		if err := m.store.Fail(ctx, id, dispatchErr.Error()); err != nil {
			return ActionResult{}, fmt.Errorf("fail outbox entry: %w", err)
		}
		m.logger.Error("action rejected by platform",
			"id", id,
			"action", entry.ActionType,
			"error", dispatchErr)
		return ActionResult{Success: false, Error: dispatchErr.Error()}, nil
	}

	nextAttempt := time.Now().Add(m.retryDelay(entry.RetryCount))
	if err := m.store.Retry(ctx, id, dispatchErr.Error(), nextAttempt); err != nil {
		return ActionResult{}, fmt.Errorf("retry outbox entry: %w", err)
	}
	m.logger.Warn("action failed, will retry",
		"id", id,
		"action", entry.ActionType,
		"retry_count", entry.RetryCount+1,
		"next_attempt", nextAttempt,
		"error", dispatchErr)
	return ActionResult{Success: false, Retried: true, Error: dispatchErr.Error()}, nil
}

// retryDelay doubles the base delay per retry already consumed, caps it at
// the dispatch maximum, and jitters the result across [0.5x, 1.5x) so
// colliding entries spread out.
func (m *OutboxManager) retryDelay(retryCount int) time.Duration {
	delay := m.cfg.RetryBaseBackoff
	for i := 0; i < retryCount && delay < m.cfg.DispatchMaxBackoff; i++ {
		delay *= 2
	}
	if delay > m.cfg.DispatchMaxBackoff {
		delay = m.cfg.DispatchMaxBackoff
	}
	jittered := time.Duration((0.5 + rand.Float64()) * float64(delay))
	if jittered > m.cfg.DispatchMaxBackoff {
		jittered = m.cfg.DispatchMaxBackoff
	}
	return jittered
}

// dispatch maps an entry to the platform call it represents.
func (m *OutboxManager) dispatch(ctx context.Context, e outbox.Entry) error {
	switch e.ActionType {
	case outbox.ActionDelete:
		return m.platform.DeleteMessage(ctx, e.ChatID, e.MessageID)
	case outbox.ActionWarn:
		text, _ := e.Payload["text"].(string)
		if text == "" {
			text = "Your message violated the group rules."
		}
		return m.platform.SendMessage(ctx, e.ChatID, text)
	case outbox.ActionBan:
		userID, err := payloadUserID(e.Payload)
		if err != nil {
			return fmt.Errorf("%w: %v", outbound.ErrPermanent, err)
		}
		return m.platform.BanChatMember(ctx, e.ChatID, userID)
	case outbox.ActionRestrict:
		userID, err := payloadUserID(e.Payload)
		if err != nil {
			return fmt.Errorf("%w: %v", outbound.ErrPermanent, err)
		}
		until := time.Now().Add(24 * time.Hour)
		if secs, ok := payloadInt64(e.Payload, "until_seconds"); ok {
			until = time.Now().Add(time.Duration(secs) * time.Second)
		}
		return m.platform.RestrictChatMember(ctx, e.ChatID, userID, until)
	case outbox.ActionUnban:
		userID, err := payloadUserID(e.Payload)
		if err != nil {
			return fmt.Errorf("%w: %v", outbound.ErrPermanent, err)
		}
		return m.platform.UnbanChatMember(ctx, e.ChatID, userID)
	default:
		return fmt.Errorf("%w: unknown action %q", outbound.ErrPermanent, e.ActionType)
	}
}

func payloadUserID(payload map[string]any) (int64, error) {
	id, ok := payloadInt64(payload, "user_id")
	if !ok || id == 0 {
		return 0, errors.New("payload missing user_id")
	}
	return id, nil
}

// payloadInt64 reads an integer payload field regardless of how a store
// round-trip decoded it.
func payloadInt64(payload map[string]any, key string) (int64, bool) {
	switch v := payload[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// StartDispatcher launches the background loop that sweeps pending entries.
func (m *OutboxManager) StartDispatcher() {
	m.wg.Add(1)
	go m.dispatchLoop()
}

// dispatchLoop sweeps pending entries on an interval. Sweep errors back off
// exponentially from 250ms up to the configured cap, resetting after a
// clean sweep.
func (m *OutboxManager) dispatchLoop() {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-m.stopCh
		cancel()
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = dispatchBaseBackoff
	bo.MaxInterval = m.cfg.DispatchMaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	ticker := time.NewTicker(m.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		}

		if err := m.sweep(ctx); err != nil {
			wait := bo.NextBackOff()
			m.logger.Warn("outbox sweep failed", "error", err, "backoff", wait)
			select {
			case <-m.stopCh:
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
	}
}

// sweep processes every ripe pending entry once, oldest first. Entries still
// inside their retry backoff window are left for a later sweep.
func (m *OutboxManager) sweep(ctx context.Context) error {
	pending, err := m.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	now := time.Now()
	for _, e := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if now.Before(e.NextAttemptAt) {
			continue
		}
		if _, err := m.ProcessAction(ctx, e.ID); err != nil {
			m.logger.Error("outbox entry processing error", "id", e.ID, "error", err)
		}
	}
	return nil
}

// GetActionStatus returns the entry for an action ID, or outbox.ErrNotFound.
func (m *OutboxManager) GetActionStatus(ctx context.Context, id string) (outbox.Entry, error) {
	return m.store.Get(ctx, id)
}

// GetPendingActions returns the pending entries in creation order.
func (m *OutboxManager) GetPendingActions(ctx context.Context) ([]outbox.Entry, error) {
	return m.store.ListPending(ctx)
}

// GetMetrics returns per-status entry counts.
func (m *OutboxManager) GetMetrics(ctx context.Context) (outbox.Metrics, error) {
	return m.store.Counts(ctx)
}

// Recover reverts entries orphaned in processing by a crash back to pending.
// Call once at startup before the dispatcher starts.
func (m *OutboxManager) Recover(ctx context.Context) (int, error) {
	n, err := m.store.RecoverProcessing(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover processing entries: %w", err)
	}
	if n > 0 {
		m.logger.Info("recovered orphaned outbox entries", "count", n)
	}
	return n, nil
}

// Cleanup removes terminal entries older than the retention cutoff.
func (m *OutboxManager) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	n, err := m.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox cleanup: %w", err)
	}
	if n > 0 {
		m.logger.Info("outbox cleanup", "removed", n)
	}
	return n, nil
}

// Stop halts the dispatcher and waits for the in-flight sweep to finish.
func (m *OutboxManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}
