// Package policy contains the deterministic rule engine that scores chat
// messages into moderation verdicts.
package policy

import (
	"github.com/hmcelik/aegis-moderation/internal/domain/content"
)

// Verdict is the outcome of policy evaluation for a message.
type Verdict string

const (
	// VerdictAllow permits the message.
	VerdictAllow Verdict = "allow"
	// VerdictReview flags the message for human review.
	VerdictReview Verdict = "review"
	// VerdictBlock removes the message.
	VerdictBlock Verdict = "block"
)

// Default score thresholds. A verdict is a step function on the total score.
const (
	// DefaultBlockThreshold is the minimum total score that blocks a message.
	DefaultBlockThreshold = 80.0
	// DefaultReviewThreshold is the minimum total score that flags a message
	// for review.
	DefaultReviewThreshold = 40.0
)

// Thresholds configure the verdict step function.
type Thresholds struct {
	// Block is the minimum total score producing VerdictBlock.
	Block float64
	// Review is the minimum total score producing VerdictReview.
	Review float64
}

// DefaultThresholds returns the shipped block/review cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{Block: DefaultBlockThreshold, Review: DefaultReviewThreshold}
}

// MatchFunc decides whether a rule applies to normalized content.
// Implementations must be pure and deterministic.
type MatchFunc func(nc content.NormalizedContent) bool

// Rule is a single weighted moderation rule.
type Rule struct {
	// ID is the unique rule identifier; it keys the Scores map of verdicts.
	ID string
	// Name is the human-readable rule name reported in RulesMatched.
	Name string
	// Weight is the score contributed when the rule matches.
	Weight float64
	// Match decides whether the rule applies.
	Match MatchFunc
}

// PolicyVerdict is the scored outcome of evaluating all rules for a message.
type PolicyVerdict struct {
	// Verdict is the step-function outcome over the total score.
	Verdict Verdict
	// Reason summarizes what drove the verdict.
	Reason string
	// Scores maps rule ID to the weight it contributed.
	Scores map[string]float64
	// RulesMatched lists matched rule names in rule insertion order.
	RulesMatched []string
	// Confidence is an optional score in [0,1]; zero when not supplied
	// (deterministic rules carry no confidence, the AI stage does).
	Confidence float64
}

// TotalScore returns the sum of all rule contributions.
func (v PolicyVerdict) TotalScore() float64 {
	var total float64
	for _, s := range v.Scores {
		total += s
	}
	return total
}

// VerdictFor maps a total score onto a verdict using the thresholds.
func (t Thresholds) VerdictFor(total float64) Verdict {
	switch {
	case total >= t.Block:
		return VerdictBlock
	case total >= t.Review:
		return VerdictReview
	default:
		return VerdictAllow
	}
}
