package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hmcelik/aegis-moderation/internal/domain/outbox"
)

// OutboxStore is the in-memory outbox ledger. Entries are deep-copied at
// the boundary so callers can never mutate stored state. Used in tests and
// in single-process deployments that accept losing the ledger on restart.
type OutboxStore struct {
	mu      sync.RWMutex
	entries map[string]*outbox.Entry
}

// NewOutboxStore creates an empty store.
func NewOutboxStore() *OutboxStore {
	return &OutboxStore{entries: make(map[string]*outbox.Entry)}
}

var _ outbox.Store = (*OutboxStore)(nil)

func copyEntry(e *outbox.Entry) outbox.Entry {
	out := *e
	if e.Payload != nil {
		out.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			out.Payload[k] = v
		}
	}
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		out.ProcessedAt = &t
	}
	return out
}

// Create inserts the entry unless its ID already exists.
func (s *OutboxStore) Create(_ context.Context, e outbox.Entry) (outbox.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[e.ID]; ok {
		return copyEntry(existing), true, nil
	}
	stored := copyEntry(&e)
	s.entries[e.ID] = &stored
	return copyEntry(&stored), false, nil
}

// Get returns a copy of the entry, or outbox.ErrNotFound.
func (s *OutboxStore) Get(_ context.Context, id string) (outbox.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return outbox.Entry{}, outbox.ErrNotFound
	}
	return copyEntry(e), nil
}

// MarkProcessing claims a pending entry. Returns false when the entry is
// not pending.
func (s *OutboxStore) MarkProcessing(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false, outbox.ErrNotFound
	}
	if e.Status != outbox.StatusPending {
		return false, nil
	}
	e.Status = outbox.StatusProcessing
	return true, nil
}

// Complete finishes a processing entry.
func (s *OutboxStore) Complete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return outbox.ErrNotFound
	}
	now := time.Now().UTC()
	e.Status = outbox.StatusCompleted
	e.ProcessedAt = &now
	e.LastError = ""
	return nil
}

// Retry returns a processing entry to pending with one more retry recorded
// and the next dispatch deferred until nextAttempt.
func (s *OutboxStore) Retry(_ context.Context, id string, lastError string, nextAttempt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return outbox.ErrNotFound
	}
	e.Status = outbox.StatusPending
	e.RetryCount++
	e.LastError = lastError
	e.NextAttemptAt = nextAttempt
	return nil
}

// Release returns a processing entry to pending without burning a retry.
func (s *OutboxStore) Release(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return outbox.ErrNotFound
	}
	e.Status = outbox.StatusPending
	return nil
}

// Fail marks an entry terminally failed.
func (s *OutboxStore) Fail(_ context.Context, id string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return outbox.ErrNotFound
	}
	now := time.Now().UTC()
	e.Status = outbox.StatusFailed
	e.ProcessedAt = &now
	e.LastError = lastError
	return nil
}

// ListPending returns pending entries oldest first.
func (s *OutboxStore) ListPending(_ context.Context) ([]outbox.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []outbox.Entry
	for _, e := range s.entries {
		if e.Status == outbox.StatusPending {
			out = append(out, copyEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Counts tallies entries per status.
func (s *OutboxStore) Counts(_ context.Context) (outbox.Metrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var m outbox.Metrics
	for _, e := range s.entries {
		m.Total++
		switch e.Status {
		case outbox.StatusPending:
			m.Pending++
		case outbox.StatusProcessing:
			m.Processing++
		case outbox.StatusCompleted:
			m.Completed++
		case outbox.StatusFailed:
			m.Failed++
		}
	}
	return m, nil
}

// DeleteOlderThan removes terminal entries created before the cutoff.
func (s *OutboxStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if e.Status.Terminal() && e.CreatedAt.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

// RecoverProcessing reverts processing entries to pending after a restart.
func (s *OutboxStore) RecoverProcessing(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recovered := 0
	for _, e := range s.entries {
		if e.Status == outbox.StatusProcessing {
			e.Status = outbox.StatusPending
			recovered++
		}
	}
	return recovered, nil
}
