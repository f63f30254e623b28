package policy

import (
	"fmt"
	"sync"

	"github.com/hmcelik/aegis-moderation/internal/domain/content"
)

// Engine evaluates all registered rules against a message and produces a
// scored verdict. Evaluation is pure and deterministic given the rule set.
// Safe for concurrent use; rule mutation takes a write lock.
type Engine struct {
	mu         sync.RWMutex
	rules      []Rule // insertion order; duplicate IDs resolved at evaluation
	thresholds Thresholds
}

// NewEngine creates an engine with the given thresholds and no rules.
func NewEngine(thresholds Thresholds) *Engine {
	return &Engine{thresholds: thresholds}
}

// AddRule registers a rule. When a rule with the same ID already exists, the
// most recently added one wins at evaluation time.
func (e *Engine) AddRule(r Rule) error {
	if r.ID == "" {
		return fmt.Errorf("policy: rule has empty ID")
	}
	if r.Match == nil {
		return fmt.Errorf("policy: rule %q has no match function", r.ID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
	return nil
}

// RemoveRule unregisters every rule with the given ID.
func (e *Engine) RemoveRule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.rules[:0]
	for _, r := range e.rules {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	e.rules = kept
}

// Thresholds returns the verdict thresholds the engine scores against.
func (e *Engine) Thresholds() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholds
}

// RuleCount returns the number of registered rules.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Evaluate normalizes the text once and evaluates all rules against it.
func (e *Engine) Evaluate(text string) PolicyVerdict {
	return e.EvaluateContent(content.Normalize(text))
}

// EvaluateContent evaluates all rules against pre-normalized content.
// For each matching rule, Scores[id] = weight and the rule name is appended
// to RulesMatched in insertion order. When multiple rules share an ID, the
// most recently added rule decides that ID's contribution.
func (e *Engine) EvaluateContent(nc content.NormalizedContent) PolicyVerdict {
	e.mu.RLock()
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	thresholds := e.thresholds
	e.mu.RUnlock()

	// Later rules override earlier ones with the same ID, so resolve the
	// effective rule per ID first while remembering insertion order.
	effective := make(map[string]Rule, len(rules))
	order := make([]string, 0, len(rules))
	for _, r := range rules {
		if _, seen := effective[r.ID]; !seen {
			order = append(order, r.ID)
		}
		effective[r.ID] = r
	}

	verdict := PolicyVerdict{
		Verdict: VerdictAllow,
		Scores:  make(map[string]float64),
	}
	for _, id := range order {
		r := effective[id]
		if !r.Match(nc) {
			continue
		}
		verdict.Scores[r.ID] = r.Weight
		verdict.RulesMatched = append(verdict.RulesMatched, r.Name)
	}

	total := verdict.TotalScore()
	verdict.Verdict = thresholds.VerdictFor(total)
	verdict.Reason = reasonFor(verdict.Verdict, total, verdict.RulesMatched)
	return verdict
}

func reasonFor(v Verdict, total float64, matched []string) string {
	if len(matched) == 0 {
		return "no rules matched"
	}
	return fmt.Sprintf("%s: score %.0f from %d rule(s)", v, total, len(matched))
}
