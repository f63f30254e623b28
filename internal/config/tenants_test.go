package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTenantRules(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write tenant rules: %v", err)
	}
	return path
}

func TestLoadTenantRules(t *testing.T) {
	path := writeTenantRules(t, `
tenants:
  - tenant_id: t1
    rules:
      - id: crypto
        name: Crypto Spam
        weight: 60
        keywords: [airdrop, pump]
      - id: link_limit
        weight: 50
        cel: "urls.size() >= 3"
  - tenant_id: t2
    disable_defaults: true
    rules:
      - id: only
        weight: 90
        keywords: [forbidden]
`)

	f, err := LoadTenantRules(path)
	if err != nil {
		t.Fatalf("LoadTenantRules: %v", err)
	}
	if len(f.Tenants) != 2 {
		t.Fatalf("tenants = %d, want 2", len(f.Tenants))
	}

	t1 := f.Tenants[0]
	if t1.TenantID != "t1" || len(t1.Rules) != 2 || t1.DisableDefaults {
		t.Errorf("t1 = %+v", t1)
	}
	if r := t1.Rules[0]; r.ID != "crypto" || r.Name != "Crypto Spam" || r.Weight != 60 || len(r.Keywords) != 2 {
		t.Errorf("rule = %+v", r)
	}
	if r := t1.Rules[1]; r.CEL != "urls.size() >= 3" {
		t.Errorf("cel = %q", r.CEL)
	}
	if !f.Tenants[1].DisableDefaults {
		t.Error("t2 should disable defaults")
	}
}

func TestLoadTenantRules_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"missing tenant id",
			"tenants:\n  - rules:\n      - id: r\n        weight: 10\n        keywords: [x]\n",
			"missing tenant_id",
		},
		{
			"missing rule id",
			"tenants:\n  - tenant_id: t1\n    rules:\n      - weight: 10\n        keywords: [x]\n",
			"missing id",
		},
		{
			"non-positive weight",
			"tenants:\n  - tenant_id: t1\n    rules:\n      - id: r\n        keywords: [x]\n",
			"non-positive weight",
		},
		{
			"no matcher",
			"tenants:\n  - tenant_id: t1\n    rules:\n      - id: r\n        weight: 10\n",
			"neither keywords nor cel",
		},
		{
			"broken yaml",
			"tenants: [',\n",
			"parse tenant rules",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTenantRules(t, tt.yaml)
			_, err := LoadTenantRules(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTenantRules_MissingFile(t *testing.T) {
	_, err := LoadTenantRules(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read tenant rules") {
		t.Errorf("err = %v", err)
	}
}
