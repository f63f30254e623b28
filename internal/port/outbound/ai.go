// Package outbound defines the ports the moderation core calls out through.
// Production wires concrete adapters; tests supply fakes.
package outbound

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/hmcelik/aegis-moderation/internal/domain/content"
)

// AIScore is the result of scoring content with the AI model.
type AIScore struct {
	// SpamScore is the model's spam probability in [0,1].
	SpamScore float64
	// Tokens is the total token count billed for the call.
	Tokens int
	// Cost is the monetary cost of the call.
	Cost decimal.Decimal
	// Model names the model that produced the score.
	Model string
}

// AIClient scores content with a model. The core treats it as a black-box
// scorer; implementations are supplied by external collaborators.
type AIClient interface {
	Score(ctx context.Context, nc content.NormalizedContent) (AIScore, error)
}
