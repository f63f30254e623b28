package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleSpec is one declarative moderation rule. A rule matches on keywords,
// a CEL condition, or both (both present means either match counts).
type RuleSpec struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Weight   float64  `yaml:"weight"`
	Keywords []string `yaml:"keywords,omitempty"`
	// CEL is a boolean CEL expression over the normalized content
	// (text, urls, mentions, hashtags, has_links, message_length).
	CEL string `yaml:"cel,omitempty"`
}

// TenantRules is the per-tenant rule customization.
type TenantRules struct {
	TenantID string `yaml:"tenant_id"`
	// Rules are added on top of the default rule set. A rule whose ID
	// matches a default overrides it.
	Rules []RuleSpec `yaml:"rules"`
	// DisableDefaults drops the shipped default rules for this tenant.
	DisableDefaults bool `yaml:"disable_defaults,omitempty"`
}

// TenantRulesFile is the on-disk shape of the tenant rules file.
type TenantRulesFile struct {
	Tenants []TenantRules `yaml:"tenants"`
}

// LoadTenantRules parses the tenant rules YAML file.
func LoadTenantRules(path string) (*TenantRulesFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenant rules %s: %w", path, err)
	}
	var f TenantRulesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse tenant rules %s: %w", path, err)
	}
	for i, t := range f.Tenants {
		if t.TenantID == "" {
			return nil, fmt.Errorf("tenant rules %s: tenants[%d] missing tenant_id", path, i)
		}
		for j, r := range t.Rules {
			if r.ID == "" {
				return nil, fmt.Errorf("tenant rules %s: tenant %s rules[%d] missing id", path, t.TenantID, j)
			}
			if r.Weight <= 0 {
				return nil, fmt.Errorf("tenant rules %s: rule %s has non-positive weight", path, r.ID)
			}
			if len(r.Keywords) == 0 && r.CEL == "" {
				return nil, fmt.Errorf("tenant rules %s: rule %s has neither keywords nor cel", path, r.ID)
			}
		}
	}
	return &f, nil
}
