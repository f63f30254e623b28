package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors platform adapters surface to the dispatcher. Circuit-open
// means the attempt never reached the platform and must not burn a retry;
// a permanent error means the platform rejected the call and retrying is
// pointless.
var (
	ErrCircuitOpen = errors.New("platform circuit breaker open")
	ErrPermanent   = errors.New("platform rejected request")
)

// PlatformClient is the narrow port over the chat platform's HTTP API used
// by the outbox dispatcher. The wire format is the platform's own; the core
// does not invent one.
type PlatformClient interface {
	// Call performs a raw API method call with the given parameters.
	Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error)

	SendMessage(ctx context.Context, chatID int64, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID string) error
	BanChatMember(ctx context.Context, chatID, userID int64) error
	RestrictChatMember(ctx context.Context, chatID, userID int64, until time.Time) error
	UnbanChatMember(ctx context.Context, chatID, userID int64) error
}
