package outbox

import (
	"context"
	"time"
)

// Store persists the outbox ledger. Implementations must make MarkProcessing
// a compare-and-set on pending -> processing so that at most one executor
// owns an entry at a time.
type Store interface {
	// Create inserts the entry if no entry with its ID exists.
	// Returns the stored entry and whether it already existed.
	Create(ctx context.Context, e Entry) (Entry, bool, error)

	// Get returns a copy of the entry, or ErrNotFound.
	Get(ctx context.Context, id string) (Entry, error)

	// MarkProcessing transitions pending -> processing atomically.
	// Returns false when the entry is not pending.
	MarkProcessing(ctx context.Context, id string) (bool, error)

	// Complete transitions processing -> completed and stamps ProcessedAt.
	Complete(ctx context.Context, id string) error

	// Retry transitions processing -> pending, increments RetryCount,
	// records the transient error, and defers the next dispatch until
	// nextAttempt.
	Retry(ctx context.Context, id string, lastError string, nextAttempt time.Time) error

	// Release transitions processing -> pending without incrementing
	// RetryCount. Used when the circuit breaker fails fast: the attempt
	// never reached the platform.
	Release(ctx context.Context, id string) error

	// Fail transitions the entry to failed with a terminal error.
	Fail(ctx context.Context, id string, lastError string) error

	// ListPending returns pending entries in chronological creation order.
	ListPending(ctx context.Context) ([]Entry, error)

	// Counts returns per-status totals.
	Counts(ctx context.Context) (Metrics, error)

	// DeleteOlderThan removes terminal entries created before the cutoff,
	// returning how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// RecoverProcessing reverts processing entries to pending. Called once
	// at startup: a crash may have orphaned in-flight entries.
	RecoverProcessing(ctx context.Context) (int, error)
}
