// Package cel compiles tenant-authored CEL conditions into policy rule
// match functions over normalized content.
package cel

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/hmcelik/aegis-moderation/internal/domain/content"
	"github.com/hmcelik/aegis-moderation/internal/domain/policy"
)

// maxExpressionLength is the maximum allowed length for CEL expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// interruptCheckFreq is how often (in comprehension iterations) interruption
// is checked during evaluation.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates CEL conditions for tenant policy rules.
type Evaluator struct {
	env    *cel.Env
	logger *slog.Logger
}

// NewContentEnvironment creates a CEL environment exposing the normalized
// content of a message:
//   - text: the normalized (lower-cased, collapsed) message text
//   - urls, mentions, hashtags: extracted lists
//   - has_links: whether any URL was extracted
//   - message_length: length of the normalized text in bytes
//   - domain_of(url): the lower-cased host of a URL, "" when unparseable
func NewContentEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("text", cel.StringType),
		cel.Variable("urls", cel.ListType(cel.StringType)),
		cel.Variable("mentions", cel.ListType(cel.StringType)),
		cel.Variable("hashtags", cel.ListType(cel.StringType)),
		cel.Variable("has_links", cel.BoolType),
		cel.Variable("message_length", cel.IntType),

		cel.Function("domain_of",
			cel.Overload("domain_of_string",
				[]*cel.Type{cel.StringType},
				cel.StringType,
				cel.UnaryBinding(func(u ref.Val) ref.Val {
					return types.String(content.ExtractDomain(u.Value().(string)))
				}),
			),
		),
	)
}

// NewEvaluator creates an evaluator with the content environment.
func NewEvaluator(logger *slog.Logger) (*Evaluator, error) {
	env, err := NewContentEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create content environment: %w", err)
	}
	return &Evaluator{env: env, logger: logger}, nil
}

// Compile parses and type-checks a CEL expression and returns a compiled
// program.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return prg, nil
}

// ValidateExpression checks that an expression is syntactically valid and
// within the safety limits (length, nesting depth). Invalid CEL must be
// rejected at policy-load time, before it can poison the rule set.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	if _, err := e.Compile(expr); err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}
	return nil
}

// CompileMatch compiles an expression into a policy.MatchFunc. Evaluation
// errors are logged and treated as non-matches so a broken tenant condition
// can never block or pass traffic by exception.
func (e *Evaluator) CompileMatch(expression string) (policy.MatchFunc, error) {
	if err := e.ValidateExpression(expression); err != nil {
		return nil, err
	}
	prg, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}

	return func(nc content.NormalizedContent) bool {
		out, _, err := prg.Eval(activation(nc))
		if err != nil {
			if e.logger != nil {
				e.logger.Warn("CEL condition evaluation failed",
					"expression", truncate(expression, 80),
					"error", err)
			}
			return false
		}
		b, ok := out.Value().(bool)
		return ok && b
	}, nil
}

// activation maps normalized content onto the environment's variables.
func activation(nc content.NormalizedContent) map[string]any {
	return map[string]any{
		"text":           nc.NormalizedText,
		"urls":           nc.URLs,
		"mentions":       nc.Mentions,
		"hashtags":       nc.Hashtags,
		"has_links":      nc.HasLinks(),
		"message_length": len(nc.NormalizedText),
	}
}

// validateNesting checks that the expression does not exceed the maximum
// allowed nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
