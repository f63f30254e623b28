// Package httpapi talks to the external budget service over HTTP. The
// moderation core is the only consumer; the budget service owns the money.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmcelik/aegis-moderation/internal/domain/budget"
)

const defaultTimeout = 10 * time.Second

// BudgetStoreConfig configures the budget service client.
type BudgetStoreConfig struct {
	// BaseURL is the budget service root, e.g. "https://budget.internal".
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Timeout bounds each request.
	Timeout time.Duration
}

// BudgetStore implements budget.Store against the budget service REST API:
//
//	GET  /v1/tenants/{id}/budget -> snapshot
//	POST /v1/tenants/{id}/usage  -> record spend
type BudgetStore struct {
	cfg    BudgetStoreConfig
	http   *http.Client
	logger *slog.Logger
}

// Option customizes the store.
type Option func(*BudgetStore)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *BudgetStore) { s.http = hc }
}

// NewBudgetStore creates the client.
func NewBudgetStore(cfg BudgetStoreConfig, logger *slog.Logger, opts ...Option) (*BudgetStore, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("httpapi: budget service base URL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	s := &BudgetStore{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ budget.Store = (*BudgetStore)(nil)

// snapshotDTO is the budget service's wire form.
type snapshotDTO struct {
	TenantID     string `json:"tenantId"`
	MonthlyLimit string `json:"monthlyLimit"`
	TotalSpent   string `json:"totalSpent"`
	DegradeMode  string `json:"degradeMode"`
	ResetDate    string `json:"resetDate"`
	IsExhausted  bool   `json:"isExhausted"`
}

// Fetch returns the tenant's budget snapshot. A 404 maps to
// budget.ErrNotFound so the enforcer can fail open.
func (s *BudgetStore) Fetch(ctx context.Context, tenantID string) (budget.Snapshot, error) {
	url := fmt.Sprintf("%s/v1/tenants/%s/budget", s.cfg.BaseURL, tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return budget.Snapshot{}, fmt.Errorf("budget fetch: %w", err)
	}
	s.auth(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return budget.Snapshot{}, fmt.Errorf("budget fetch: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return budget.Snapshot{}, budget.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return budget.Snapshot{}, fmt.Errorf("budget fetch: HTTP %d", resp.StatusCode)
	}

	var dto snapshotDTO
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&dto); err != nil {
		return budget.Snapshot{}, fmt.Errorf("budget fetch: decode: %w", err)
	}
	return dto.toDomain(tenantID)
}

func (d snapshotDTO) toDomain(tenantID string) (budget.Snapshot, error) {
	limit, err := decimal.NewFromString(d.MonthlyLimit)
	if err != nil {
		return budget.Snapshot{}, fmt.Errorf("budget fetch: monthlyLimit %q: %w", d.MonthlyLimit, err)
	}
	spent, err := decimal.NewFromString(d.TotalSpent)
	if err != nil {
		return budget.Snapshot{}, fmt.Errorf("budget fetch: totalSpent %q: %w", d.TotalSpent, err)
	}
	snap := budget.Snapshot{
		TenantID:     tenantID,
		MonthlyLimit: limit,
		TotalSpent:   spent,
		DegradeMode:  budget.DegradeMode(d.DegradeMode),
		IsExhausted:  d.IsExhausted,
	}
	if !snap.DegradeMode.Valid() {
		snap.DegradeMode = budget.DegradeStrictRules
	}
	if d.ResetDate != "" {
		if t, err := time.Parse(time.RFC3339, d.ResetDate); err == nil {
			snap.ResetDate = t
		}
	}
	if snap.ResetDate.IsZero() {
		snap.ResetDate = budget.NextResetDate(time.Now())
	}
	return snap, nil
}

// Record posts one usage event to the tenant's spend ledger.
func (s *BudgetStore) Record(ctx context.Context, tenantID string, usage budget.Usage) error {
	body, err := json.Marshal(map[string]any{
		"tokens":    usage.Tokens,
		"cost":      usage.Cost.String(),
		"model":     usage.Model,
		"operation": usage.Operation,
	})
	if err != nil {
		return fmt.Errorf("budget record: encode: %w", err)
	}

	url := fmt.Sprintf("%s/v1/tenants/%s/usage", s.cfg.BaseURL, tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("budget record: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.auth(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("budget record: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("budget record: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (s *BudgetStore) auth(req *http.Request) {
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
}
