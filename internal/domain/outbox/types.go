// Package outbox contains the durable action-ledger domain types: entries,
// their state machine, and the store port.
package outbox

import (
	"errors"
	"fmt"
	"time"
)

// ActionType identifies the enforcement action an outbox entry dispatches.
type ActionType string

const (
	ActionDelete   ActionType = "delete"
	ActionWarn     ActionType = "warn"
	ActionBan      ActionType = "ban"
	ActionRestrict ActionType = "restrict"
	ActionUnban    ActionType = "unban"
)

// Valid reports whether the action type is recognized.
func (a ActionType) Valid() bool {
	switch a {
	case ActionDelete, ActionWarn, ActionBan, ActionRestrict, ActionUnban:
		return true
	}
	return false
}

// Status is the outbox entry state. Transitions are monotonic:
// pending -> processing -> {completed | pending (retry) | failed}.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// MaxRetriesExceeded is the terminal error message recorded when an entry
// exhausts its retry budget.
const MaxRetriesExceeded = "Max retries exceeded"

// Validation and state errors.
var (
	// ErrNotFound is returned when no entry exists for an ID.
	ErrNotFound = errors.New("outbox entry not found")
	// ErrInvalidAction rejects unknown action types at the create boundary.
	ErrInvalidAction = errors.New("invalid outbox action type")
)

// Entry is one idempotent enforcement action awaiting dispatch.
type Entry struct {
	// ID is "chatId:messageId:actionType"; creation is idempotent by ID.
	ID         string
	ChatID     int64
	MessageID  string
	ActionType ActionType
	// Payload carries action parameters (user id, warn text, until date...).
	Payload map[string]any
	Status  Status
	// RetryCount never exceeds the manager's maxRetries.
	RetryCount int
	// NextAttemptAt gates re-dispatch after a transient failure. The zero
	// value means the entry is dispatchable immediately.
	NextAttemptAt time.Time
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	LastError     string
}

// EntryID builds the canonical idempotency key for an action.
func EntryID(chatID int64, messageID string, actionType ActionType) string {
	return fmt.Sprintf("%d:%s:%s", chatID, messageID, actionType)
}

// Metrics is a point-in-time count of entries per status.
type Metrics struct {
	Total      int64
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
}
