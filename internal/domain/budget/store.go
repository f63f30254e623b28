package budget

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when a tenant has no budget configured.
// Callers treat it as fail-open: a missing budget never blocks a message.
var ErrNotFound = errors.New("tenant budget not found")

// Store persists tenant budgets and usage. Implementations live in the
// outbound adapters (HTTP against the budget service, sqlite, in-memory).
type Store interface {
	// Fetch returns the current budget snapshot for a tenant.
	// Returns ErrNotFound when the tenant has no configured budget.
	Fetch(ctx context.Context, tenantID string) (Snapshot, error)

	// Record appends a usage event to the tenant's spend.
	Record(ctx context.Context, tenantID string, usage Usage) error
}
