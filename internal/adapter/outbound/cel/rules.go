package cel

import (
	"fmt"

	"github.com/hmcelik/aegis-moderation/internal/config"
	"github.com/hmcelik/aegis-moderation/internal/domain/content"
	"github.com/hmcelik/aegis-moderation/internal/domain/policy"
)

// BuildRule turns a declarative rule spec into an executable policy rule.
// Keyword lists and CEL conditions compose with OR: the rule matches when
// either does.
func (e *Evaluator) BuildRule(spec config.RuleSpec) (policy.Rule, error) {
	var matchers []policy.MatchFunc

	if len(spec.Keywords) > 0 {
		km := content.NewKeywordMatcher()
		km.AddKeywords(spec.Keywords)
		matchers = append(matchers, func(nc content.NormalizedContent) bool {
			return km.HasMatch(nc.NormalizedText)
		})
	}

	if spec.CEL != "" {
		m, err := e.CompileMatch(spec.CEL)
		if err != nil {
			return policy.Rule{}, fmt.Errorf("rule %s: %w", spec.ID, err)
		}
		matchers = append(matchers, m)
	}

	if len(matchers) == 0 {
		return policy.Rule{}, fmt.Errorf("rule %s: no keywords or cel condition", spec.ID)
	}

	name := spec.Name
	if name == "" {
		name = spec.ID
	}
	return policy.Rule{
		ID:     spec.ID,
		Name:   name,
		Weight: spec.Weight,
		Match: func(nc content.NormalizedContent) bool {
			for _, m := range matchers {
				if m(nc) {
					return true
				}
			}
			return false
		},
	}, nil
}

// BuildEngine assembles a tenant's policy engine: the default rule set
// (unless disabled) plus the tenant's own rules, which override defaults on
// ID collision.
func (e *Evaluator) BuildEngine(thresholds policy.Thresholds, tr config.TenantRules) (*policy.Engine, error) {
	engine := policy.NewEngine(thresholds)

	if !tr.DisableDefaults {
		for _, r := range policy.DefaultRules() {
			if err := engine.AddRule(r); err != nil {
				return nil, err
			}
		}
	}
	for _, spec := range tr.Rules {
		r, err := e.BuildRule(spec)
		if err != nil {
			return nil, err
		}
		if err := engine.AddRule(r); err != nil {
			return nil, err
		}
	}
	return engine, nil
}
